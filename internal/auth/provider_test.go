package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"whalebot/internal/api"
)

const sampleInitData = "query_id=AAE1&user=%7B%22id%22%3A42%2C%22first_name%22%3A%22A%22%7D&auth_date=1700000000&hash=abc"

type staticProof string

func (s staticProof) Proof(context.Context) (string, error) { return string(s), nil }

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Time{} }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestParseInitData(t *testing.T) {
	d, err := ParseInitData(sampleInitData)
	if err != nil {
		t.Fatalf("ParseInitData: %v", err)
	}
	if d.QueryID != "AAE1" || d.AuthDate != "1700000000" || d.Hash != "abc" {
		t.Fatalf("unexpected fields: %+v", d)
	}
	if string(d.User) != `{"id":42,"first_name":"A"}` {
		t.Fatalf("unexpected user: %s", d.User)
	}
}

func TestParseInitData_MissingField(t *testing.T) {
	if _, err := ParseInitData("query_id=1&auth_date=2&hash=3"); err == nil {
		t.Fatalf("expected error")
	}
}

func syncServer(t *testing.T, status int, payload map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/sync" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["dataCheckChain"] != sampleInitData {
			t.Errorf("unexpected dataCheckChain: %v", body["dataCheckChain"])
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func fullLogin() map[string]any {
	return map[string]any{
		"token":      "bearer",
		"wsToken":    "ws",
		"wsSubToken": "wssub",
		"user":       map[string]any{"id": 1234, "isBanned": false, "nanoid": "ref-1"},
		"balance":    map[string]any{"amount": 900.5},
		"meta": map[string]any{
			"dailyLoginStreak":      3,
			"lastFirstDailyLoginAt": "2026-01-02T03:04:05.000Z",
			"regularTasks":          map[string]any{"JOIN": true, "FOLLOW": false},
			"flappyScore":           12,
		},
		"referrerUsername": "ref_owner",
	}
}

func TestProvider_Acquire(t *testing.T) {
	srv := syncServer(t, http.StatusOK, fullLogin())
	defer srv.Close()

	p := &Provider{API: api.New(api.Options{BaseURL: srv.URL}), Source: staticProof(sampleInitData)}
	tokens, profile, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tokens.BearerToken != "bearer" || tokens.SubscribeToken != "ws" || tokens.SubSubscribeToken != "wssub" || tokens.ChannelUserID != "1234" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if profile.Balance != 900.5 || profile.Streak != 3 || profile.ReferralCode != "ref-1" || profile.Referrer != "ref_owner" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if !profile.RegularTasks["JOIN"] || profile.RegularTasks["FOLLOW"] {
		t.Fatalf("unexpected tasks: %v", profile.RegularTasks)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !profile.LastLogin.Equal(want) {
		t.Fatalf("expected last login %v, got %v", want, profile.LastLogin)
	}
}

func TestProvider_AcquireIncomplete(t *testing.T) {
	payload := fullLogin()
	delete(payload, "wsSubToken")
	srv := syncServer(t, http.StatusOK, payload)
	defer srv.Close()

	p := &Provider{API: api.New(api.Options{BaseURL: srv.URL}), Source: staticProof(sampleInitData)}
	_, _, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T", err)
	}
}

func TestAcquireWithRetry_FixedDelay(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(fullLogin())
	}))
	defer srv.Close()

	clk := &fakeClock{}
	p := &Provider{API: api.New(api.Options{BaseURL: srv.URL}), Source: staticProof(sampleInitData)}
	tokens, _, err := AcquireWithRetry(context.Background(), p, clk, 30*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("AcquireWithRetry: %v", err)
	}
	if tokens.BearerToken != "bearer" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if len(clk.slept) != 2 || clk.slept[0] != 30*time.Second || clk.slept[1] != 30*time.Second {
		t.Fatalf("expected two 30s waits, got %v", clk.slept)
	}
}

func TestAcquireWithRetry_InvalidProofEndsSession(t *testing.T) {
	clk := &fakeClock{}
	p := &Provider{API: api.New(api.Options{BaseURL: "http://127.0.0.1:1"}), Source: FileProofSource{Dir: t.TempDir(), Name: "gone"}}
	_, _, err := AcquireWithRetry(context.Background(), p, clk, time.Second, zap.NewNop())
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	if len(clk.slept) != 0 {
		t.Fatalf("expected no retries, got %v", clk.slept)
	}
}

func TestFileProofSourceAndDiscover(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "alice.txt"), []byte(sampleInitData+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	proof, err := FileProofSource{Dir: dir, Name: "alice"}.Proof(context.Background())
	if err != nil || proof != sampleInitData {
		t.Fatalf("unexpected proof %q %v", proof, err)
	}
	names, err := Discover(dir)
	if err != nil || len(names) != 1 || names[0] != "alice" {
		t.Fatalf("unexpected names %v %v", names, err)
	}
}
