package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"whalebot/internal/api"
)

// Client exposes the game's endpoints as typed operations.
type Client struct {
	api api.Requester
}

func New(r api.Requester) *Client {
	return &Client{api: r}
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) ([]byte, error) {
	status, data, err := c.api.Request(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status != http.StatusOK {
		return nil, &StatusError{Op: op, Code: status, Body: string(data)}
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
	}
	return data, nil
}

type keyRequest struct {
	Key string `json:"key"`
}

type BonusResult struct {
	IncrementBy float64 `json:"incrementBy"`
}

func (c *Client) ClaimDailyBonus(ctx context.Context) (BonusResult, error) {
	var out BonusResult
	_, err := c.call(ctx, "claim daily bonus", http.MethodPatch, "/user/bonus/claim", nil, &out)
	return out, err
}

func (c *Client) SendClicks(ctx context.Context, n int) error {
	_, err := c.call(ctx, "send clicks", http.MethodPut, "/meta/clicks", map[string]int{"clicks": n}, nil)
	return err
}

type Minigame string

const (
	MinigameFlappy Minigame = "flappy"
	MinigameDino   Minigame = "dino"
)

// PlayMinigame visits the leaderboard the way the web client does, then
// submits the score.
func (c *Client) PlayMinigame(ctx context.Context, game Minigame, score int) error {
	base := "/meta/minigame/" + string(game)
	if _, err := c.call(ctx, "minigame leaderboard", http.MethodGet, base+"/leaderboards", nil, nil); err != nil {
		var se *StatusError
		if !errors.As(err, &se) {
			return err
		}
	}
	_, err := c.call(ctx, "minigame score", http.MethodPatch, base+"/score", map[string]int{"score": score}, nil)
	return err
}

func (c *Client) ReachWheel(ctx context.Context) error {
	_, err := c.call(ctx, "reach wheel", http.MethodGet, "/meta/wheel/reach", nil, nil)
	return err
}

type WheelOutcome string

const (
	OutcomeFlappy   WheelOutcome = "flappy"
	OutcomeDino     WheelOutcome = "dino"
	OutcomeSlot     WheelOutcome = "slot"
	OutcomeDeath    WheelOutcome = "death"
	OutcomeFreeSpin WheelOutcome = "whale_free_spin"
)

type WheelResult struct {
	OpensGame WheelOutcome `json:"opensGame"`
}

func (c *Client) AckWheel(ctx context.Context) (WheelResult, error) {
	var out WheelResult
	_, err := c.call(ctx, "ack wheel", http.MethodPut, "/meta/wheel/ack", nil, &out)
	return out, err
}

type TaskResult struct {
	IncrementScore float64 `json:"incrementScore"`
}

const findCodeTask = "FIND_CODE"

func (c *Client) CompleteTask(ctx context.Context, id string) (TaskResult, error) {
	var out TaskResult
	_, err := c.call(ctx, "complete task "+id, http.MethodPatch, "/meta/tasks/"+url.PathEscape(id), struct{}{}, &out)
	return out, err
}

func (c *Client) RedeemCode(ctx context.Context, code string) (TaskResult, error) {
	var out TaskResult
	_, err := c.call(ctx, "redeem code", http.MethodPatch, "/meta/tasks/"+findCodeTask, map[string]string{"code": code}, &out)
	return out, err
}

type Squad struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// MySquad returns the handle of the identity's current squad, or "" when it
// has none.
func (c *Client) MySquad(ctx context.Context) (string, error) {
	var out *Squad
	if _, err := c.call(ctx, "my squad", http.MethodGet, "/tribes/my", nil, &out); err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	return out.Username, nil
}

func (c *Client) SquadInfo(ctx context.Context, handle string) (Squad, error) {
	var out Squad
	_, err := c.call(ctx, "squad info", http.MethodGet, "/tribes/"+url.PathEscape(handle), nil, &out)
	return out, err
}

// JoinSquad reports success for a literal true or any JSON description of
// the joined squad.
func (c *Client) JoinSquad(ctx context.Context, handle string) (bool, error) {
	data, err := c.call(ctx, "join squad", http.MethodPost, "/tribes/"+url.PathEscape(handle)+"/join", nil, nil)
	if err != nil {
		return false, err
	}
	trimmed := string(bytes.TrimSpace(data))
	return trimmed != "false" && trimmed != "" && trimmed != "null", nil
}

func (c *Client) LeaveSquad(ctx context.Context) (bool, error) {
	data, err := c.call(ctx, "leave squad", http.MethodPost, "/tribes/leave", nil, nil)
	if err != nil {
		return false, err
	}
	return isTrue(data), nil
}

type InvitationReward struct {
	Amount             float64 `json:"amount"`
	NextClaimTimestamp float64 `json:"nextClaimTimestamp"`
}

func (c *Client) Invitations(ctx context.Context) (InvitationReward, error) {
	var out struct {
		Reward InvitationReward `json:"reward"`
	}
	_, err := c.call(ctx, "invitations", http.MethodGet, "/user/invitations", nil, &out)
	return out.Reward, err
}

func (c *Client) ClaimInvitations(ctx context.Context) (float64, error) {
	var out struct {
		RewardAmount float64 `json:"rewardAmount"`
	}
	_, err := c.call(ctx, "claim invitations", http.MethodPost, "/user/invitations/claim", nil, &out)
	return out.RewardAmount, err
}

type BetSide string

const (
	SideHeads BetSide = "HEADS"
	SideTails BetSide = "TAILS"
)

type FlipGame struct {
	Active  bool     `json:"active"`
	Results []string `json:"results"`
}

func (c *Client) PlaceBet(ctx context.Context, side BetSide, amount int) (FlipGame, error) {
	var out struct {
		Game FlipGame `json:"game"`
	}
	body := map[string]any{"side": side, "betAmount": amount}
	_, err := c.call(ctx, "place bet", http.MethodPost, "/tokenflips/bet", body, &out)
	return out.Game, err
}

func (c *Client) Cashout(ctx context.Context) (float64, error) {
	var out struct {
		AmountWon float64 `json:"amountWon"`
	}
	_, err := c.call(ctx, "cashout", http.MethodPost, "/tokenflips/cashout", nil, &out)
	return out.AmountWon, err
}

type Business struct {
	Key            string  `json:"key"`
	Level          int     `json:"level"`
	UpgradeEndTime float64 `json:"upgradeEndTime"`
	NextLevel      struct {
		UpgradeCost float64 `json:"upgradeCost"`
	} `json:"nextLevel"`
}

func (c *Client) Businesses(ctx context.Context) ([]Business, error) {
	var out struct {
		Businesses []Business `json:"businesses"`
	}
	_, err := c.call(ctx, "businesses", http.MethodGet, "/passive/businesses", nil, &out)
	return out.Businesses, err
}

func (c *Client) UpgradeBusiness(ctx context.Context, key string) error {
	_, err := c.call(ctx, "upgrade business", http.MethodPost, "/passive/businesses/upgrade", keyRequest{Key: key}, nil)
	return err
}

func (c *Client) ClaimBusiness(ctx context.Context, key string) error {
	_, err := c.call(ctx, "claim business", http.MethodPost, "/passive/businesses/claim", keyRequest{Key: key}, nil)
	return err
}

func (c *Client) ResolveBusiness(ctx context.Context, key string) error {
	_, err := c.call(ctx, "resolve business", http.MethodPost, "/passive/businesses/resolve", keyRequest{Key: key}, nil)
	return err
}

func (c *Client) RenewLicense(ctx context.Context, key string) error {
	_, err := c.call(ctx, "renew license", http.MethodPost, "/passive/licenses/renew", keyRequest{Key: key}, nil)
	return err
}

type UpdateType string

const (
	UpdateClaim   UpdateType = "CLAIM"
	UpdateResolve UpdateType = "RESOLVE"
	UpdateRenew   UpdateType = "RENEW"
)

type NewsUpdate struct {
	Type     UpdateType `json:"type"`
	Key      string     `json:"key"`
	Income   float64    `json:"income"`
	Event    string     `json:"event"`
	ItemType string     `json:"itemType"`
}

func (c *Client) News(ctx context.Context) ([]NewsUpdate, error) {
	var out struct {
		Updates []NewsUpdate `json:"updates"`
	}
	_, err := c.call(ctx, "news", http.MethodGet, "/passive/news", nil, &out)
	return out.Updates, err
}

func isTrue(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "true"
}
