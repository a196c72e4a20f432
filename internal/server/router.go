package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"whalebot/internal/handler"
	"whalebot/internal/middleware"
)

type Deps struct {
	DataDir  string
	Token    string
	RunID    string
	Started  time.Time
	Channels func() map[string]string
	Logger   *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))

	status := &handler.StatusHandler{
		DataDir:  deps.DataDir,
		RunID:    deps.RunID,
		Started:  deps.Started,
		Channels: deps.Channels,
	}
	r.GET("/health", status.Health)

	v1 := r.Group("/v1")
	v1.Use(middleware.RequireToken(deps.Token))
	v1.GET("/stats", status.Stats)
	v1.GET("/identities", status.List)
	v1.GET("/identities/:name", status.Get)

	return r
}
