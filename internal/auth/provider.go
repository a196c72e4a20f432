package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"whalebot/internal/api"
	"whalebot/internal/clock"
	"whalebot/internal/model"
)

var (
	// ErrIncomplete means the exchange succeeded but omitted a token field.
	ErrIncomplete = errors.New("incomplete token set")
	// ErrInvalidProof is permanent: the identity can no longer be
	// authenticated and the session must end.
	ErrInvalidProof = errors.New("invalid identity proof")
)

type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Profile carries the server-reported account facts returned by a login.
type Profile struct {
	Banned        bool
	Balance       float64
	Streak        int
	LastLogin     time.Time
	Referrer      string
	RegularTasks  map[string]bool
	ReferralCode  string
	FlappyScore   int
	DinoScore     int
	WalletAddress string
}

type Provider struct {
	API    api.Requester
	Source ProofSource
}

type syncResponse struct {
	Token      string `json:"token"`
	WSToken    string `json:"wsToken"`
	WSSubToken string `json:"wsSubToken"`
	User       struct {
		ID            json.RawMessage `json:"id"`
		IsBanned      bool            `json:"isBanned"`
		Nanoid        string          `json:"nanoid"`
		WalletAddress string          `json:"walletAddress"`
	} `json:"user"`
	Balance struct {
		Amount float64 `json:"amount"`
	} `json:"balance"`
	Meta struct {
		DailyLoginStreak      int                        `json:"dailyLoginStreak"`
		LastFirstDailyLoginAt string                     `json:"lastFirstDailyLoginAt"`
		RegularTasks          map[string]json.RawMessage `json:"regularTasks"`
		FlappyScore           int                        `json:"flappyScore"`
		DinoScore             int                        `json:"dinoScore"`
	} `json:"meta"`
	ReferrerUsername string `json:"referrerUsername"`
}

// Acquire exchanges the identity proof for a fresh TokenSet. It never
// retries; see AcquireWithRetry for the caller-side policy.
func (p *Provider) Acquire(ctx context.Context) (model.TokenSet, Profile, error) {
	raw, err := p.Source.Proof(ctx)
	if err != nil {
		return model.TokenSet{}, Profile{}, &AuthError{Err: err}
	}
	initData, err := ParseInitData(raw)
	if err != nil {
		return model.TokenSet{}, Profile{}, &AuthError{Err: fmt.Errorf("%w: %v", ErrInvalidProof, err)}
	}

	status, body, err := p.API.Request(ctx, http.MethodPost, "/user/sync", initData.syncRequest())
	if err != nil {
		return model.TokenSet{}, Profile{}, &AuthError{Err: err}
	}
	if status != http.StatusOK {
		return model.TokenSet{}, Profile{}, &AuthError{Status: status, Err: errors.New("login rejected")}
	}

	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.TokenSet{}, Profile{}, &AuthError{Status: status, Err: fmt.Errorf("decode login: %w", err)}
	}

	tokens := model.TokenSet{
		BearerToken:       resp.Token,
		SubscribeToken:    resp.WSToken,
		SubSubscribeToken: resp.WSSubToken,
		ChannelUserID:     rawID(resp.User.ID),
		ExpiresAt:         ExpiryFromToken(resp.Token),
	}
	if !tokens.Complete() {
		return model.TokenSet{}, Profile{}, &AuthError{Status: status, Err: ErrIncomplete}
	}

	profile := Profile{
		Banned:        resp.User.IsBanned,
		Balance:       resp.Balance.Amount,
		Streak:        resp.Meta.DailyLoginStreak,
		Referrer:      resp.ReferrerUsername,
		RegularTasks:  truthyMap(resp.Meta.RegularTasks),
		ReferralCode:  resp.User.Nanoid,
		FlappyScore:   resp.Meta.FlappyScore,
		DinoScore:     resp.Meta.DinoScore,
		WalletAddress: resp.User.WalletAddress,
	}
	if resp.Meta.LastFirstDailyLoginAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, resp.Meta.LastFirstDailyLoginAt); err == nil {
			profile.LastLogin = t.UTC()
		}
	}
	return tokens, profile, nil
}

// Acquirer performs one login exchange.
type Acquirer interface {
	Acquire(ctx context.Context) (model.TokenSet, Profile, error)
}

// AcquireWithRetry retries Acquire with a fixed delay until it succeeds, the
// context ends, or the proof is reported invalid.
func AcquireWithRetry(ctx context.Context, p Acquirer, clk clock.Clock, delay time.Duration, log *zap.Logger) (model.TokenSet, Profile, error) {
	for {
		tokens, profile, err := p.Acquire(ctx)
		if err == nil {
			return tokens, profile, nil
		}
		if errors.Is(err, ErrInvalidProof) {
			return model.TokenSet{}, Profile{}, err
		}
		if ctx.Err() != nil {
			return model.TokenSet{}, Profile{}, ctx.Err()
		}
		log.Warn("could not retrieve tokens, retrying", zap.Duration("delay", delay), zap.Error(err))
		if err := clk.Sleep(ctx, delay); err != nil {
			return model.TokenSet{}, Profile{}, err
		}
	}
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}

func truthyMap(in map[string]json.RawMessage) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = truthy(v)
	}
	return out
}

func truthy(v json.RawMessage) bool {
	switch s := string(bytes.TrimSpace(v)); s {
	case "", "null", "false", "0", `""`:
		return false
	default:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0
		}
		return true
	}
}
