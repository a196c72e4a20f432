package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"whalebot/internal/game"
	"whalebot/internal/model"
	"whalebot/internal/notify"
)

const (
	wheelAckDelay  = 30 * time.Second
	minigameMinSec = 40
	minigameMaxSec = 90
	spinTimeLayout = "02.01.2006 | 15:04"
)

// SpinLog appends one line per wheel outcome to a shared text file.
type SpinLog struct {
	mu   sync.Mutex
	path string
}

func NewSpinLog(path string) *SpinLog {
	return &SpinLog{path: path}
}

func (l *SpinLog) Append(at time.Time, identity, result string) error {
	if l == nil || l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("spin log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s | %s | %s\n", at.Format(spinTimeLayout), identity, result); err != nil {
		return fmt.Errorf("spin log: %w", err)
	}
	return nil
}

var outcomeLabels = map[game.WheelOutcome]string{
	game.OutcomeFlappy:   "FlappyWhale",
	game.OutcomeDino:     "DinoWhale",
	game.OutcomeSlot:     "Slot",
	game.OutcomeDeath:    "Death",
	game.OutcomeFreeSpin: "5 Free Spins awarded in @whale",
}

// handleWheel reacts to a show_wheel push: reach, wait, ack, then act on the
// outcome. A 400 from reach or ack means the spin was already consumed.
func (s *Session) handleWheel(ctx context.Context, _ json.RawMessage) {
	s.Log.Info("wheel spin started")
	if err := s.Game.ReachWheel(ctx); err != nil && !game.HasStatus(err, http.StatusBadRequest) {
		s.Log.Error("failed to reach wheel", zap.Error(err))
	}
	if err := s.Clock.Sleep(ctx, wheelAckDelay); err != nil {
		return
	}
	res, err := s.Game.AckWheel(ctx)
	if err != nil {
		if !game.HasStatus(err, http.StatusBadRequest) {
			s.Log.Error("failed to acknowledge wheel", zap.Error(err))
		}
		return
	}

	label, known := outcomeLabels[res.OpensGame]
	if !known {
		s.Log.Warn("unknown wheel result", zap.String("result", string(res.OpensGame)))
		return
	}
	s.Log.Info("wheel result", zap.String("result", label))
	if err := s.SpinLog.Append(s.Clock.Now(), s.Name, label); err != nil {
		s.Log.Error("failed to record wheel result", zap.Error(err))
	}

	switch res.OpensGame {
	case game.OutcomeFlappy:
		s.playMinigame(ctx, game.MinigameFlappy)
	case game.OutcomeDino:
		s.playMinigame(ctx, game.MinigameDino)
	case game.OutcomeFreeSpin:
		if s.Config.FreeSpinsNotifications {
			if err := s.Notifier.Notify(ctx, notify.FreeSpinMessage(s.Name)); err != nil {
				s.Log.Error("failed to send free spin notification", zap.Error(err))
			}
		}
	}
}

func (s *Session) playMinigame(ctx context.Context, g game.Minigame) {
	s.Log.Info("playing minigame", zap.String("game", string(g)))
	if err := s.Clock.Sleep(ctx, s.Rand.Seconds(minigameMinSec, minigameMaxSec)); err != nil {
		return
	}
	score := s.Rand.IntRange(s.Config.ScoreMin, s.Config.ScoreMax)
	if err := s.Game.PlayMinigame(ctx, g, score); err != nil {
		s.Log.Error("failed to submit minigame score", zap.String("game", string(g)), zap.Error(err))
		return
	}
	s.Log.Info("minigame finished", zap.String("game", string(g)), zap.Int("score", score))
	err := s.Store.Update(func(st *model.IdentityState) {
		if g == game.MinigameFlappy {
			st.FlappyScore = score
		} else {
			st.DinoScore = score
		}
	})
	if err != nil {
		s.Log.Error("failed to persist minigame score", zap.Error(err))
	}
}
