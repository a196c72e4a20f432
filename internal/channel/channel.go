package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"whalebot/internal/clock"
	"whalebot/internal/hub"
	"whalebot/internal/model"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedUnsubscribed
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnectedUnsubscribed:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

const (
	handshakeTimeout = 15 * time.Second
	initialReconnect = 500 * time.Millisecond
	maxReconnect     = 30 * time.Second
	firstSubscribeID = 2
)

type Options struct {
	URL       string
	ProxyURL  string
	UserAgent string
	Origin    string
	Hub       *hub.Hub
	State     *SubscriptionState
	Clock     clock.Clock
	Logger    *zap.Logger

	// InitialBackoff and MaxBackoff bound the reconnect delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Channel keeps one identity subscribed to its server push channel,
// reconnecting until its context is cancelled.
type Channel struct {
	url     string
	headers http.Header
	dialer  *websocket.Dialer
	hub     *hub.Hub
	sub     *SubscriptionState
	clock   clock.Clock
	log     *zap.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	state atomic.Int32
}

func New(opts Options) (*Channel, error) {
	if opts.URL == "" {
		return nil, errors.New("channel: url is required")
	}
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("channel: invalid proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(u)
	}
	headers := http.Header{}
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	if opts.Origin != "" {
		headers.Set("Origin", opts.Origin)
	}

	c := &Channel{
		url:            opts.URL,
		headers:        headers,
		dialer:         dialer,
		hub:            opts.Hub,
		sub:            opts.State,
		clock:          opts.Clock,
		log:            opts.Logger,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
	}
	if c.hub == nil {
		c.hub = hub.New()
	}
	if c.sub == nil {
		c.sub = NewSubscriptionState()
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = initialReconnect
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = maxReconnect
	}
	return c, nil
}

func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) { c.state.Store(int32(s)) }

// Run connects, subscribes and serves pushes until ctx is cancelled. Any
// transport failure leads to a reconnect after a jittered backoff; the
// subscription state is kept so the next subscribe can resume.
func (c *Channel) Run(ctx context.Context, tokens model.TokenSet) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.Reset()

	var handlers sync.WaitGroup
	defer handlers.Wait()
	defer c.setState(StateDisconnected)

	for {
		subscribed, err := c.runOnce(ctx, tokens, &handlers)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = c.maxBackoff
		}
		c.log.Warn("push channel disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Channel) runOnce(ctx context.Context, tokens model.TokenSet, handlers *sync.WaitGroup) (bool, error) {
	connID := uuid.NewString()
	log := c.log.With(zap.String("conn", connID))

	c.setState(StateConnecting)
	ws, _, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.setState(StateDisconnected)
		return false, fmt.Errorf("dial: %w", err)
	}
	cn := newConn(ws)
	defer c.setState(StateDisconnected)
	defer cn.close()

	stop := context.AfterFunc(ctx, cn.close)
	defer stop()

	if err := c.handshake(cn, tokens, log); err != nil {
		return false, err
	}
	c.setState(StateSubscribed)
	log.Info("push channel subscribed", zap.Uint64("next_id", c.sub.ID()))

	return true, c.receive(ctx, cn, log, handlers)
}

func (c *Channel) handshake(cn *conn, tokens model.TokenSet, log *zap.Logger) error {
	frame, err := buildConnectFrame(c.sub.ID(), tokens.SubscribeToken)
	if err != nil {
		return err
	}
	if err := cn.writeText(frame); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	log.Debug("sent connect", zap.ByteString("frame", frame))
	if _, err := cn.readFrame(); err != nil {
		return fmt.Errorf("connect reply: %w", err)
	}
	c.sub.advance()
	c.setState(StateConnectedUnsubscribed)

	id := c.sub.ID()
	var resume *Resume
	if id != firstSubscribeID {
		r := c.sub.Resume()
		resume = &r
	}
	frame, err = buildSubscribeFrame(id, tokens.ChannelUserID, tokens.SubSubscribeToken, resume)
	if err != nil {
		return err
	}
	if err := cn.writeText(frame); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	log.Debug("sent subscribe", zap.ByteString("frame", frame))

	reply, err := cn.readFrame()
	if err != nil {
		return fmt.Errorf("subscribe reply: %w", err)
	}
	if id == firstSubscribeID {
		c.captureResume(reply, id)
	}
	c.sub.advance()
	return nil
}

func (c *Channel) captureResume(reply []byte, id uint64) {
	for _, line := range splitFrame(reply) {
		msg, err := parseMessage(line)
		if err != nil || msg.kind != messageReply || msg.id != id {
			continue
		}
		if msg.subscribe != nil {
			c.sub.setResume(Resume{
				Recoverable: msg.subscribe.Recoverable,
				Epoch:       msg.subscribe.Epoch,
				Offset:      msg.subscribe.Offset,
			})
		}
		return
	}
}

func (c *Channel) receive(ctx context.Context, cn *conn, log *zap.Logger, handlers *sync.WaitGroup) error {
	for {
		frame, err := cn.readFrame()
		if err != nil {
			return err
		}
		if err := c.handleFrame(ctx, cn.writeText, frame, log, handlers); err != nil {
			return err
		}
	}
}

// handleFrame processes one transport frame. A keepalive is answered once and
// ends processing of the frame.
func (c *Channel) handleFrame(ctx context.Context, reply func([]byte) error, frame []byte, log *zap.Logger, handlers *sync.WaitGroup) error {
	for _, line := range splitFrame(frame) {
		msg, err := parseMessage(line)
		if err != nil {
			log.Debug("skipping undecodable message", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		log.Debug("received", zap.ByteString("line", line))

		switch msg.kind {
		case messageKeepalive:
			if err := reply(keepaliveFrame); err != nil {
				return fmt.Errorf("keepalive reply: %w", err)
			}
			return nil
		case messagePush:
			kind, ok := hub.ParseKind(msg.eventType)
			if !ok {
				log.Debug("ignoring push", zap.String("type", msg.eventType))
				continue
			}
			handlers.Add(1)
			go func(data []byte) {
				defer handlers.Done()
				c.hub.Dispatch(ctx, kind, data)
			}(msg.data)
			if msg.offset != nil {
				c.sub.setOffset(*msg.offset)
			}
		}
	}
	return nil
}

// Runner owns at most one live Run of a Channel.
type Runner struct {
	ch *Channel

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(ch *Channel) *Runner {
	return &Runner{ch: ch}
}

func (r *Runner) State() State { return r.ch.State() }

// Start launches Run in the background under ctx, replacing any live run.
func (r *Runner) Start(ctx context.Context, tokens model.TokenSet) {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go func() {
		defer close(done)
		if err := r.ch.Run(runCtx, tokens); err != nil && !errors.Is(err, context.Canceled) {
			r.ch.log.Warn("push channel stopped", zap.Error(err))
		}
	}()
}

// Stop tears the live run down and clears the subscription state so the
// next Start begins with a fresh subscribe.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.ch.sub.Reset()
}

func (r *Runner) Restart(ctx context.Context, tokens model.TokenSet) {
	r.Stop()
	r.Start(ctx, tokens)
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
