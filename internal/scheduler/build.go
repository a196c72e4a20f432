package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"whalebot/internal/api"
	"whalebot/internal/auth"
	"whalebot/internal/channel"
	"whalebot/internal/clock"
	"whalebot/internal/config"
	"whalebot/internal/game"
	"whalebot/internal/hub"
	"whalebot/internal/jitter"
	"whalebot/internal/logging"
	"whalebot/internal/model"
	"whalebot/internal/notify"
	"whalebot/internal/ratelimit"
	"whalebot/internal/store"
	"whalebot/internal/tasks"
)

const webOrigin = "https://clicker.crashgame247.io"

// Shared holds the process-wide pieces every identity's session uses.
type Shared struct {
	Config   config.Config
	Limiter  *ratelimit.Limiter
	Notifier notify.Notifier
	SpinLog  *SpinLog
	Manifest func(ctx context.Context) (tasks.Manifest, error)
	Clock    clock.Clock
	Log      *zap.Logger
}

// NewSession wires the full per-identity stack: state file, REST client,
// credential provider, push channel with the wheel handler, and task engine.
func NewSession(name string, sh Shared) (*Session, error) {
	cfg := sh.Config
	log := logging.ForIdentity(sh.Log, name)
	clk := sh.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	rng := jitter.NewRandom()

	st, err := store.Open(store.Options{Dir: cfg.DataDir, Name: name, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open state for %s: %w", name, err)
	}
	ua, err := ensureUserAgent(st, rng)
	if err != nil {
		return nil, err
	}

	client := api.New(api.Options{
		BaseURL:   cfg.BaseURL,
		UserAgent: ua,
		ProxyURL:  cfg.ProxyURL,
		Limiter:   sh.Limiter,
		LimitKey:  name,
		Clock:     clk,
		FloodWait: cfg.RetryDelay,
		Logger:    log,
	})
	g := game.New(client)

	wsProxy := cfg.ProxyURL
	if cfg.WSWithoutProxy {
		wsProxy = ""
	}
	h := hub.New()
	ch, err := channel.New(channel.Options{
		URL:       cfg.WSURL,
		ProxyURL:  wsProxy,
		UserAgent: ua,
		Origin:    webOrigin,
		Hub:       h,
		Clock:     clk,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		Name:   name,
		Config: cfg,
		Store:  st,
		Auth: &auth.Provider{
			API:    client,
			Source: auth.FileProofSource{Dir: cfg.SessionsDir, Name: name},
		},
		Tokens:  client,
		Game:    g,
		Channel: channel.NewRunner(ch),
		Tasks: &tasks.Engine{
			API:   g,
			Store: st,
			Clock: clk,
			Rand:  rng,
			Log:   log,
		},
		Manifest: sh.Manifest,
		Notifier: sh.Notifier,
		SpinLog:  sh.SpinLog,
		Clock:    clk,
		Rand:     rng,
		Log:      log,
	}
	h.Register(hub.KindWheelSpin, s.handleWheel)
	return s, nil
}

func ensureUserAgent(st *store.Store, rng *jitter.Source) (string, error) {
	if ua := st.Snapshot().UserAgent; ua != "" {
		return ua, nil
	}
	ua := api.PickUserAgent(rng)
	if err := st.Update(func(s *model.IdentityState) { s.UserAgent = ua }); err != nil {
		return "", fmt.Errorf("persist user agent: %w", err)
	}
	return ua, nil
}
