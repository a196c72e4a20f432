package handler

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"whalebot/internal/store"
)

// StatusHandler serves read-only views over the identity state files.
type StatusHandler struct {
	DataDir string
	RunID   string
	Started time.Time
	// Channels reports the live push channel state per identity.
	Channels func() map[string]string
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"runId":  h.RunID,
		"uptime": time.Since(h.Started).Round(time.Second).String(),
	})
}

func (h *StatusHandler) Stats(c *gin.Context) {
	sum, err := store.Summarize(h.DataDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identities":   sum.Identities,
		"totalBalance": sum.TotalBalance,
		"bannedCount":  sum.BannedCount,
	})
}

type identitySummary struct {
	Name           string    `json:"name"`
	Balance        float64   `json:"balance"`
	Streak         int       `json:"streak"`
	Banned         bool      `json:"banned"`
	SquadName      string    `json:"squadName,omitempty"`
	CompletedTasks int       `json:"completedTasks"`
	LastClickTime  time.Time `json:"lastClickTime"`
	Channel        string    `json:"channel,omitempty"`
}

func (h *StatusHandler) List(c *gin.Context) {
	entries, err := store.List(h.DataDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	live := h.channelStates()
	out := make([]identitySummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, identitySummary{
			Name:           e.Name,
			Balance:        e.State.Balance,
			Streak:         e.State.Streak,
			Banned:         e.State.Banned,
			SquadName:      e.State.SquadName,
			CompletedTasks: len(e.State.CompletedTasks),
			LastClickTime:  e.State.LastClickTime,
			Channel:        live[e.Name],
		})
	}
	c.JSON(http.StatusOK, gin.H{"identities": out})
}

func (h *StatusHandler) Get(c *gin.Context) {
	name := c.Param("name")
	st, ok, err := store.Load(h.DataDir, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    name,
		"state":   st,
		"channel": h.channelStates()[name],
	})
}

func (h *StatusHandler) channelStates() map[string]string {
	if h.Channels == nil {
		return nil
	}
	return h.Channels()
}
