package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"whalebot/internal/auth"
	"whalebot/internal/clock"
	"whalebot/internal/config"
	"whalebot/internal/game"
	"whalebot/internal/jitter"
	"whalebot/internal/model"
	"whalebot/internal/store"
)

type fakeGame struct {
	mu    sync.Mutex
	calls []string

	betErrs     []error
	flip        game.FlipGame
	businesses  [][]game.Business
	rewards     []game.InvitationReward
	wheel       game.WheelResult
	mySquad     string
	mySquadErr  error
	squad       game.Squad
	clicks      int
	lastScore   int
	bonusClaims int
}

func (f *fakeGame) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeGame) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeGame) ClaimDailyBonus(context.Context) (game.BonusResult, error) {
	f.record("bonus")
	f.mu.Lock()
	f.bonusClaims++
	f.mu.Unlock()
	return game.BonusResult{IncrementBy: 10}, nil
}

func (f *fakeGame) SendClicks(_ context.Context, n int) error {
	f.record("clicks")
	f.mu.Lock()
	f.clicks += n
	f.mu.Unlock()
	return nil
}

func (f *fakeGame) PlayMinigame(_ context.Context, _ game.Minigame, score int) error {
	f.record("minigame")
	f.mu.Lock()
	f.lastScore = score
	f.mu.Unlock()
	return nil
}

func (f *fakeGame) ReachWheel(context.Context) error {
	f.record("reach")
	return nil
}

func (f *fakeGame) AckWheel(context.Context) (game.WheelResult, error) {
	f.record("ack")
	return f.wheel, nil
}

func (f *fakeGame) MySquad(context.Context) (string, error) {
	f.record("my_squad")
	return f.mySquad, f.mySquadErr
}

func (f *fakeGame) SquadInfo(context.Context, string) (game.Squad, error) {
	f.record("squad_info")
	return f.squad, nil
}

func (f *fakeGame) JoinSquad(context.Context, string) (bool, error) {
	f.record("join")
	return true, nil
}

func (f *fakeGame) LeaveSquad(context.Context) (bool, error) {
	f.record("leave")
	return true, nil
}

func (f *fakeGame) Invitations(context.Context) (game.InvitationReward, error) {
	f.record("invitations")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rewards) == 0 {
		return game.InvitationReward{}, &game.StatusError{Code: 500}
	}
	r := f.rewards[0]
	f.rewards = f.rewards[1:]
	return r, nil
}

func (f *fakeGame) ClaimInvitations(context.Context) (float64, error) {
	f.record("claim_invitations")
	return 25, nil
}

func (f *fakeGame) PlaceBet(context.Context, game.BetSide, int) (game.FlipGame, error) {
	f.record("bet")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.betErrs) > 0 {
		err := f.betErrs[0]
		f.betErrs = f.betErrs[1:]
		if err != nil {
			return game.FlipGame{}, err
		}
	}
	return f.flip, nil
}

func (f *fakeGame) Cashout(context.Context) (float64, error) {
	f.record("cashout")
	return 2000, nil
}

func (f *fakeGame) Businesses(context.Context) ([]game.Business, error) {
	f.record("businesses")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.businesses) == 0 {
		return nil, nil
	}
	b := f.businesses[0]
	if len(f.businesses) > 1 {
		f.businesses = f.businesses[1:]
	}
	return b, nil
}

func (f *fakeGame) UpgradeBusiness(context.Context, string) error {
	f.record("upgrade")
	return nil
}

func (f *fakeGame) ClaimBusiness(context.Context, string) error {
	f.record("claim_business")
	return nil
}

func (f *fakeGame) ResolveBusiness(context.Context, string) error {
	f.record("resolve")
	return nil
}

func (f *fakeGame) RenewLicense(context.Context, string) error {
	f.record("renew")
	return nil
}

func (f *fakeGame) News(context.Context) ([]game.NewsUpdate, error) {
	f.record("news")
	return nil, nil
}

// fakeAuth numbers every issued token set so tests can tell them apart.
type fakeAuth struct {
	mu        sync.Mutex
	calls     int
	profile   auth.Profile
	expiresAt time.Time
}

func (a *fakeAuth) Acquire(context.Context) (model.TokenSet, auth.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return model.TokenSet{
		BearerToken:       fmt.Sprintf("bearer-%d", a.calls),
		SubscribeToken:    fmt.Sprintf("ws-%d", a.calls),
		SubSubscribeToken: fmt.Sprintf("sub-%d", a.calls),
		ChannelUserID:     "1",
		ExpiresAt:         a.expiresAt,
	}, a.profile, nil
}

type fakeChannel struct {
	mu       sync.Mutex
	starts   int
	restarts int
	stops    int
	running  bool
	tokens   model.TokenSet
}

func (c *fakeChannel) Start(_ context.Context, tokens model.TokenSet) {
	c.mu.Lock()
	c.starts++
	c.running = true
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *fakeChannel) Restart(_ context.Context, tokens model.TokenSet) {
	c.mu.Lock()
	c.restarts++
	c.running = true
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *fakeChannel) Stop() {
	c.mu.Lock()
	c.stops++
	c.running = false
	c.mu.Unlock()
}

func (c *fakeChannel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type fakeTokens struct {
	mu    sync.Mutex
	token string
}

func (t *fakeTokens) SetToken(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// stopClock is a fake clock that cancels the test once a sleep of at least
// limit is requested.
type stopClock struct {
	*clock.Fake
	limit  time.Duration
	cancel context.CancelFunc
}

func (c *stopClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := c.Fake.Sleep(ctx, d); err != nil {
		return err
	}
	if d >= c.limit {
		c.cancel()
		return context.Canceled
	}
	return nil
}

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	s       *Session
	game    *fakeGame
	auth    *fakeAuth
	tokens  *fakeTokens
	channel *fakeChannel
	store   *store.Store
	clock   *stopClock
	ctx     context.Context
}

// newHarness builds a session whose clock cancels ctx on the first sleep of
// at least stopAfter.
func newHarness(t *testing.T, stopAfter time.Duration) *harness {
	t.Helper()
	st, err := store.Open(store.Options{Dir: t.TempDir(), Name: "alice"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := &stopClock{Fake: clock.NewFake(testStart), limit: stopAfter, cancel: cancel}
	h := &harness{
		game:    &fakeGame{},
		auth:    &fakeAuth{},
		tokens:  &fakeTokens{},
		channel: &fakeChannel{},
		store:   st,
		clock:   clk,
		ctx:     ctx,
	}
	h.s = &Session{
		Name: "alice",
		Config: config.Config{
			ScoreMin:   5,
			ScoreMax:   30,
			RetryDelay: 30 * time.Second,
		},
		Store:   st,
		Auth:    h.auth,
		Tokens:  h.tokens,
		Game:    h.game,
		Channel: h.channel,
		Clock:   clk,
		Rand:    jitter.New(11),
		Log:     zap.NewNop(),
	}
	h.s.defaults()
	return h
}

func (t *fakeTokens) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}
