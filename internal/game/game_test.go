package game

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

type call struct {
	Method string
	Path   string
	Body   string
}

type reply struct {
	status int
	body   string
	err    error
}

type fakeRequester struct {
	calls   []call
	replies map[string]reply
}

func (f *fakeRequester) Request(_ context.Context, method, path string, body any) (int, []byte, error) {
	var encoded string
	if body != nil {
		raw, _ := json.Marshal(body)
		encoded = string(raw)
	}
	f.calls = append(f.calls, call{Method: method, Path: path, Body: encoded})
	r, ok := f.replies[method+" "+path]
	if !ok {
		return http.StatusOK, []byte(`{}`), nil
	}
	return r.status, []byte(r.body), r.err
}

func TestSendClicksBody(t *testing.T) {
	f := &fakeRequester{}
	if err := New(f).SendClicks(context.Background(), 7); err != nil {
		t.Fatalf("SendClicks: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(f.calls))
	}
	got := f.calls[0]
	if got.Method != http.MethodPut || got.Path != "/meta/clicks" || got.Body != `{"clicks":7}` {
		t.Fatalf("unexpected call %+v", got)
	}
}

func TestNon200IsStatusError(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"PATCH /user/bonus/claim": {status: 500, body: "boom"},
	}}
	_, err := New(f).ClaimDailyBonus(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 500 || se.Body != "boom" {
		t.Fatalf("unexpected status error %+v", se)
	}
	if !HasStatus(err, 500) || HasStatus(err, 400) {
		t.Fatalf("HasStatus mismatch for %v", err)
	}
}

func TestNetworkErrorIsWrapped(t *testing.T) {
	netErr := errors.New("connection reset")
	f := &fakeRequester{replies: map[string]reply{
		"GET /passive/news": {err: netErr},
	}}
	_, err := New(f).News(context.Background())
	if !errors.Is(err, netErr) {
		t.Fatalf("expected wrapped network error, got %v", err)
	}
}

func TestIsAlreadyCompleted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"already", &StatusError{Code: 400, Body: `{"message":"Task already completed"}`}, true},
		{"other message", &StatusError{Code: 400, Body: `{"message":"nope"}`}, false},
		{"other status", &StatusError{Code: 409, Body: `{"message":"Task already completed"}`}, false},
		{"not json", &StatusError{Code: 400, Body: `Task already completed`}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAlreadyCompleted(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPlayMinigameIgnoresLeaderboardStatus(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"GET /meta/minigame/dino/leaderboards": {status: 503, body: "down"},
	}}
	if err := New(f).PlayMinigame(context.Background(), MinigameDino, 123); err != nil {
		t.Fatalf("PlayMinigame: %v", err)
	}
	if len(f.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(f.calls))
	}
	if f.calls[1].Path != "/meta/minigame/dino/score" || f.calls[1].Body != `{"score":123}` {
		t.Fatalf("unexpected score call %+v", f.calls[1])
	}
}

func TestAckWheelDecodesOutcome(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"PUT /meta/wheel/ack": {status: 200, body: `{"opensGame":"whale_free_spin"}`},
	}}
	res, err := New(f).AckWheel(context.Background())
	if err != nil {
		t.Fatalf("AckWheel: %v", err)
	}
	if res.OpensGame != OutcomeFreeSpin {
		t.Fatalf("expected free spin, got %q", res.OpensGame)
	}
}

func TestRedeemCodeUsesFindCodeTask(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"PATCH /meta/tasks/FIND_CODE": {status: 200, body: `{"incrementScore":500}`},
	}}
	res, err := New(f).RedeemCode(context.Background(), "WHALE")
	if err != nil {
		t.Fatalf("RedeemCode: %v", err)
	}
	if res.IncrementScore != 500 {
		t.Fatalf("expected 500, got %v", res.IncrementScore)
	}
	if f.calls[0].Body != `{"code":"WHALE"}` {
		t.Fatalf("unexpected body %s", f.calls[0].Body)
	}
}

func TestSquadOperations(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"GET /tribes/my":        {status: 200, body: `null`},
		"POST /tribes/pod/join": {status: 200, body: `true`},
		"POST /tribes/leave":    {status: 200, body: `false`},
		"GET /tribes/pod":       {status: 200, body: `{"name":"The Pod","username":"pod"}`},
	}}
	g := New(f)
	ctx := context.Background()

	current, err := g.MySquad(ctx)
	if err != nil || current != "" {
		t.Fatalf("expected no squad, got %q err=%v", current, err)
	}
	info, err := g.SquadInfo(ctx, "pod")
	if err != nil || info.Name != "The Pod" {
		t.Fatalf("unexpected squad info %+v err=%v", info, err)
	}
	joined, err := g.JoinSquad(ctx, "pod")
	if err != nil || !joined {
		t.Fatalf("expected join, got %v err=%v", joined, err)
	}
	left, err := g.LeaveSquad(ctx)
	if err != nil || left {
		t.Fatalf("expected leave=false, got %v err=%v", left, err)
	}
}

func TestPlaceBetAndBusinesses(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"POST /tokenflips/bet":    {status: 200, body: `{"game":{"active":true,"results":["HEADS"]}}`},
		"GET /passive/businesses": {status: 200, body: `{"businesses":[{"key":"slot_machines","level":1,"upgradeEndTime":0,"nextLevel":{"upgradeCost":600}}]}`},
	}}
	g := New(f)
	game, err := g.PlaceBet(context.Background(), SideHeads, 1000)
	if err != nil || !game.Active {
		t.Fatalf("unexpected bet result %+v err=%v", game, err)
	}
	if f.calls[0].Body != `{"betAmount":1000,"side":"HEADS"}` {
		t.Fatalf("unexpected bet body %s", f.calls[0].Body)
	}
	list, err := g.Businesses(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected businesses %+v err=%v", list, err)
	}
	if list[0].NextLevel.UpgradeCost != 600 {
		t.Fatalf("expected cost 600, got %v", list[0].NextLevel.UpgradeCost)
	}
}

func TestInvitationsAcceptsFractionalTimestamp(t *testing.T) {
	f := &fakeRequester{replies: map[string]reply{
		"GET /user/invitations": {status: 200, body: `{"reward":{"amount":12.5,"nextClaimTimestamp":1717243200.75}}`},
	}}
	r, err := New(f).Invitations(context.Background())
	if err != nil {
		t.Fatalf("Invitations: %v", err)
	}
	if r.Amount != 12.5 || r.NextClaimTimestamp != 1717243200.75 {
		t.Fatalf("unexpected reward %+v", r)
	}
}
