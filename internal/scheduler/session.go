package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"whalebot/internal/auth"
	"whalebot/internal/channel"
	"whalebot/internal/clock"
	"whalebot/internal/config"
	"whalebot/internal/game"
	"whalebot/internal/jitter"
	"whalebot/internal/model"
	"whalebot/internal/notify"
	"whalebot/internal/tasks"
)

// GameAPI is the slice of the game surface the loops drive.
type GameAPI interface {
	ClaimDailyBonus(ctx context.Context) (game.BonusResult, error)
	SendClicks(ctx context.Context, n int) error
	PlayMinigame(ctx context.Context, g game.Minigame, score int) error
	ReachWheel(ctx context.Context) error
	AckWheel(ctx context.Context) (game.WheelResult, error)
	MySquad(ctx context.Context) (string, error)
	SquadInfo(ctx context.Context, handle string) (game.Squad, error)
	JoinSquad(ctx context.Context, handle string) (bool, error)
	LeaveSquad(ctx context.Context) (bool, error)
	Invitations(ctx context.Context) (game.InvitationReward, error)
	ClaimInvitations(ctx context.Context) (float64, error)
	PlaceBet(ctx context.Context, side game.BetSide, amount int) (game.FlipGame, error)
	Cashout(ctx context.Context) (float64, error)
	Businesses(ctx context.Context) ([]game.Business, error)
	UpgradeBusiness(ctx context.Context, key string) error
	ClaimBusiness(ctx context.Context, key string) error
	ResolveBusiness(ctx context.Context, key string) error
	RenewLicense(ctx context.Context, key string) error
	News(ctx context.Context) ([]game.NewsUpdate, error)
}

// PushChannel is the identity's live event subscription.
type PushChannel interface {
	Start(ctx context.Context, tokens model.TokenSet)
	Restart(ctx context.Context, tokens model.TokenSet)
	Stop()
	Running() bool
}

type TokenSetter interface {
	SetToken(token string)
}

type StateStore interface {
	Snapshot() model.IdentityState
	Update(fn func(st *model.IdentityState)) error
}

type TaskRunner interface {
	CompleteTasks(ctx context.Context, m tasks.Manifest, known map[string]bool) (tasks.Result, error)
}

// Session runs every enabled activity for one identity.
type Session struct {
	Name     string
	Config   config.Config
	Store    StateStore
	Auth     auth.Acquirer
	Tokens   TokenSetter
	Game     GameAPI
	Channel  PushChannel
	Tasks    TaskRunner
	Manifest func(ctx context.Context) (tasks.Manifest, error)
	Notifier notify.Notifier
	SpinLog  *SpinLog
	Clock    clock.Clock
	Rand     *jitter.Source
	Log      *zap.Logger

	// tokenMu pairs the REST bearer with the channel run that uses the
	// same token set.
	tokenMu sync.Mutex
	current model.TokenSet
}

// tokenRefreshMargin is how close to its expiry a bearer gets renewed.
const tokenRefreshMargin = 30 * time.Minute

// ChannelState reports the push channel's connection state for status
// output.
func (s *Session) ChannelState() string {
	if sr, ok := s.Channel.(interface{ State() channel.State }); ok {
		return sr.State().String()
	}
	return "unknown"
}

func (s *Session) defaults() {
	if s.Clock == nil {
		s.Clock = clock.Real{}
	}
	if s.Rand == nil {
		s.Rand = jitter.NewRandom()
	}
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Notifier == nil {
		s.Notifier = notify.Nop{}
	}
}

// Run blocks until ctx is cancelled or the identity's proof becomes
// invalid, which is the only error that ends a session early.
func (s *Session) Run(ctx context.Context) error {
	s.defaults()

	if s.Config.UseRandomDelayInRun {
		delay := s.Rand.Seconds(s.Config.StartDelayMin, s.Config.StartDelayMax)
		s.Log.Info("bot will start after delay", zap.Duration("delay", delay))
		if err := s.Clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	s.tokenMu.Lock()
	_, profile, err := s.login(ctx)
	s.tokenMu.Unlock()
	if err != nil {
		return err
	}
	s.Log.Info("logged in", zap.Float64("balance", profile.Balance), zap.Int("streak", profile.Streak))

	if profile.Banned {
		s.Log.Warn("identity is banned, staying idle")
		<-ctx.Done()
		return ctx.Err()
	}

	if err := s.acknowledgeReferral(profile); err != nil {
		s.Log.Error("failed to persist referral state", zap.Error(err))
	}

	if s.Config.NightMode {
		if wait := NightWait(s.Clock.Now()); wait > 0 {
			s.Log.Info("night time, sleeping until 06:00 UTC", zap.Duration("wait", wait))
			if err := s.Clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	if s.Config.SquadName != "" {
		if err := s.ensureSquad(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Error("squad setup failed", zap.String("squad", s.Config.SquadName), zap.Error(err))
		}
	}

	if s.Config.AutoTasks && s.Tasks != nil && s.Manifest != nil {
		if err := s.runTasks(ctx, profile.RegularTasks); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.Config.AutoTap && s.Channel != nil {
		g.Go(func() error { return s.tapLoop(gctx) })
	}
	if s.Config.AutoTokenFlip {
		g.Go(func() error { return s.betLoop(gctx) })
	}
	if s.Config.AutoClaimRefReward {
		g.Go(func() error { return s.referralLoop(gctx) })
	}
	if s.Config.AutoEmpire {
		g.Go(func() error {
			if err := s.UpgradeEmpire(gctx); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.Log.Warn("empire upgrade stopped", zap.Error(err))
				return nil
			}
			return s.claimLoop(gctx)
		})
	}
	g.Go(func() error { return s.bonusLoop(gctx) })
	return g.Wait()
}

// login acquires tokens with the fixed retry policy, applies the bearer and
// folds the server-reported profile into the persisted record. Callers hold
// tokenMu.
func (s *Session) login(ctx context.Context) (model.TokenSet, auth.Profile, error) {
	tokens, profile, err := auth.AcquireWithRetry(ctx, s.Auth, s.Clock, s.Config.RetryDelay, s.Log)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidProof) {
			return model.TokenSet{}, auth.Profile{}, fmt.Errorf("session %s: %w", s.Name, err)
		}
		return model.TokenSet{}, auth.Profile{}, err
	}
	s.Tokens.SetToken(tokens.BearerToken)
	s.current = tokens

	err = s.Store.Update(func(st *model.IdentityState) {
		st.Balance = profile.Balance
		st.Streak = profile.Streak
		st.FlappyScore = profile.FlappyScore
		st.DinoScore = profile.DinoScore
		st.ReferralCode = profile.ReferralCode
		st.Banned = profile.Banned
		st.WalletConnected = profile.WalletAddress != ""
		if !profile.LastLogin.IsZero() {
			st.LastLoginTime = profile.LastLogin
		}
	})
	if err != nil {
		s.Log.Error("failed to persist login", zap.Error(err))
	}
	return tokens, profile, nil
}

// renew exchanges the proof for a new token set and applies it as a unit:
// the bearer first, then a fresh channel run. Unless reopen is set the
// channel is only restarted when it is open, so a resting tap loop keeps it
// closed.
func (s *Session) renew(ctx context.Context, reopen bool) error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	fresh, _, err := s.login(ctx)
	if err != nil {
		return err
	}
	switch {
	case s.Channel == nil:
	case reopen:
		s.Channel.Start(ctx, fresh)
	case s.Channel.Running():
		s.Log.Debug("restarting push channel with renewed tokens")
		s.Channel.Restart(ctx, fresh)
	}
	return nil
}

// renewIfExpiring renews the token set once the bearer is within
// tokenRefreshMargin of its exp claim. Bearers without one are left alone.
func (s *Session) renewIfExpiring(ctx context.Context) error {
	s.tokenMu.Lock()
	exp := s.current.ExpiresAt
	s.tokenMu.Unlock()
	if exp.IsZero() || s.Clock.Now().Add(tokenRefreshMargin).Before(exp) {
		return nil
	}
	s.Log.Info("bearer close to expiry, renewing", zap.Time("expires_at", exp))
	return s.renew(ctx, false)
}

func (s *Session) openChannel(ctx context.Context) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.Channel.Start(ctx, s.current)
}

func (s *Session) closeChannel() {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.Channel.Stop()
}

// ReferralFor classifies a referral id: public ids end in "pub".
func ReferralFor(refID string) model.Referral {
	if strings.HasSuffix(refID, "pub") {
		return model.ReferralRegular
	}
	return model.ReferralGold
}

func (s *Session) acknowledgeReferral(profile auth.Profile) error {
	var announce bool
	err := s.Store.Update(func(st *model.IdentityState) {
		if st.Referred == model.ReferralNone && s.Config.RefID != "" {
			st.Referred = ReferralFor(s.Config.RefID)
		}
		if st.Referred == model.ReferralGold && !st.Acknowledged {
			st.Acknowledged = true
			announce = profile.Referrer != ""
		}
	})
	if announce {
		s.Log.Info("referred by", zap.String("referrer", "@"+profile.Referrer))
	}
	return err
}

func (s *Session) ensureSquad(ctx context.Context) error {
	want := s.Config.SquadName
	current, err := s.Game.MySquad(ctx)
	var statusErr *game.StatusError
	if errors.As(err, &statusErr) {
		s.Log.Debug("no current squad", zap.Int("status", statusErr.Code))
		current, err = "", nil
	}
	if err != nil {
		return err
	}
	if current == want {
		return s.Store.Update(func(st *model.IdentityState) { st.InSquad = true })
	}

	if current != "" {
		left, err := s.Game.LeaveSquad(ctx)
		switch {
		case err != nil:
			s.Log.Error("failed to leave squad", zap.String("squad", current), zap.Error(err))
		case left:
			s.Log.Info("left squad", zap.String("squad", current))
		default:
			s.Log.Warn("squad leave was refused", zap.String("squad", current))
		}
	}

	info, err := s.Game.SquadInfo(ctx, want)
	if err != nil {
		return err
	}
	if info.Name == "" {
		return fmt.Errorf("squad %q not found", want)
	}
	joined, err := s.Game.JoinSquad(ctx, want)
	if err != nil {
		return err
	}
	if !joined {
		return fmt.Errorf("join %q refused", want)
	}
	s.Log.Info("joined squad", zap.String("squad", info.Name))
	return s.Store.Update(func(st *model.IdentityState) {
		st.SquadName = info.Name
		st.InSquad = true
	})
}

func (s *Session) runTasks(ctx context.Context, known map[string]bool) error {
	m, err := s.Manifest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Log.Error("failed to load task manifest", zap.Error(err))
		return nil
	}
	res, err := s.Tasks.CompleteTasks(ctx, m, known)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Log.Error("task pass failed", zap.Error(err))
		return nil
	}
	s.Log.Info("task pass finished",
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return nil
}
