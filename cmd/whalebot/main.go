package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"whalebot/internal/auth"
	"whalebot/internal/clock"
	"whalebot/internal/config"
	"whalebot/internal/logging"
	"whalebot/internal/notify"
	"whalebot/internal/ratelimit"
	"whalebot/internal/scheduler"
	"whalebot/internal/server"
	"whalebot/internal/tasks"
)

const manifestTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(logging.Options{Debug: cfg.Debug, Format: cfg.LogFormat})
	defer logger.Sync() //nolint:errcheck
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("bot stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	names, err := auth.Discover(cfg.SessionsDir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("no identities found in " + cfg.SessionsDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	notifier, err := notify.New(cfg.FreeSpinsNotifications, cfg.NotificationsBotToken, cfg.AdminTGUserID, logger)
	if err != nil {
		return err
	}

	manifestClient := resty.New().SetTimeout(manifestTimeout)
	if cfg.ProxyURL != "" {
		manifestClient.SetProxy(cfg.ProxyURL)
	}
	shared := scheduler.Shared{
		Config:   cfg,
		Limiter:  ratelimit.New(cfg.RequestsPerMinute, time.Minute),
		Notifier: notifier,
		SpinLog:  scheduler.NewSpinLog(cfg.SpinLogFile),
		Manifest: func(ctx context.Context) (tasks.Manifest, error) {
			return tasks.FetchManifest(ctx, manifestClient, cfg.ManifestURL)
		},
		Clock: clock.Real{},
		Log:   logger,
	}

	sessions := make([]*scheduler.Session, 0, len(names))
	for _, name := range names {
		s, err := scheduler.NewSession(name, shared)
		if err != nil {
			return err
		}
		sessions = append(sessions, s)
	}
	logger.Info("starting identities", zap.Int("count", len(sessions)))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			err := s.Run(gctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				return nil
			case errors.Is(err, auth.ErrInvalidProof):
				s.Log.Error("invalid session, identity stopped", zap.Error(err))
			default:
				s.Log.Error("identity stopped", zap.Error(err))
			}
			return nil
		})
	}

	if cfg.StatusPort > 0 {
		router := server.NewRouter(server.Deps{
			DataDir:  cfg.DataDir,
			Token:    cfg.StatusToken,
			RunID:    uuid.NewString(),
			Started:  time.Now(),
			Channels: channelStates(sessions),
			Logger:   logger,
		})
		g.Go(func() error {
			logger.Info("status api listening", zap.Int("port", cfg.StatusPort))
			return server.Run(gctx, cfg, router)
		})
	}

	return g.Wait()
}

func channelStates(sessions []*scheduler.Session) func() map[string]string {
	return func() map[string]string {
		out := make(map[string]string, len(sessions))
		for _, s := range sessions {
			out[s.Name] = s.ChannelState()
		}
		return out
	}
}
