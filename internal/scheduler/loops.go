package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"whalebot/internal/game"
	"whalebot/internal/model"
)

// ErrInsufficientFunds stops the empire upgrade when the next level costs
// more than the balance known at login.
var ErrInsufficientFunds = errors.New("insufficient balance for upgrade")

const (
	betAmount     = 1000
	betRetryDelay = 30 * time.Second
	betDelayMin   = 12 * time.Hour
	betDelayMax   = 24 * time.Hour

	invitationsRetryDelay = 5 * time.Minute
	invitationsClaimMin   = 5 * time.Second
	invitationsClaimMax   = 10 * time.Second
	invitationsPollMin    = 36 * time.Hour
	invitationsPollMax    = 48 * time.Hour

	maxEmpireLevel       = 4
	empireSettleMin      = 30
	empireSettleMax      = 60
	newsRetryDelay       = time.Minute
	newsPollMinMinutes   = 30
	newsPollMaxMinutes   = 50
	licenseItemType      = "license"
	bonusCheckSchedule   = "@every 8h"
	tokenCheckSchedule   = "@every 10m"
	bonusLoginStaleAfter = 24 * time.Hour
)

var empireBusinesses = map[string]string{
	"underground_card_games": "Underground Card Games",
	"slot_machines":          "Slot Machines",
}

// NextBetWait is the remaining part of the persisted bet cooldown at now.
func NextBetWait(st model.IdentityState, now time.Time) time.Duration {
	if st.LastBetTime.IsZero() {
		return 0
	}
	end := st.LastBetTime.Add(time.Duration(st.BetSleepTimeSeconds * float64(time.Second)))
	if !now.Before(end) {
		return 0
	}
	return end.Sub(now)
}

func (s *Session) betLoop(ctx context.Context) error {
	for {
		if wait := NextBetWait(s.Store.Snapshot(), s.Clock.Now()); wait > 0 {
			s.Log.Info("waiting before next token flip", zap.Duration("wait", wait))
			if err := s.Clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}

		side := game.SideTails
		if s.Rand.Bool() {
			side = game.SideHeads
		}
		flip, err := s.Game.PlaceBet(ctx, side, betAmount)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Error("failed to place bet", zap.Error(err))
			if err := s.Clock.Sleep(ctx, betRetryDelay); err != nil {
				return err
			}
			continue
		}

		if !flip.Active {
			result := "unknown"
			if len(flip.Results) > 0 {
				result = flip.Results[0]
			}
			s.Log.Info("lost the bet", zap.String("chose", string(side)), zap.String("result", result))
		} else if won, err := s.Game.Cashout(ctx); err != nil {
			s.Log.Error("failed to cash out", zap.Error(err))
		} else {
			s.Log.Info("won the bet", zap.Float64("amount", won))
		}

		next := s.Rand.Duration(betDelayMin, betDelayMax)
		err = s.Store.Update(func(st *model.IdentityState) {
			st.LastBetTime = s.Clock.Now()
			st.BetSleepTimeSeconds = next.Seconds()
		})
		if err != nil {
			s.Log.Error("failed to persist bet time", zap.Error(err))
		}
		s.Log.Info("sleeping before next token flip", zap.Duration("wait", next.Round(time.Minute)))
		if err := s.Clock.Sleep(ctx, next); err != nil {
			return err
		}
	}
}

func (s *Session) referralLoop(ctx context.Context) error {
	for {
		reward, err := s.Game.Invitations(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Debug("invitations unavailable", zap.Error(err))
			if err := s.Clock.Sleep(ctx, invitationsRetryDelay); err != nil {
				return err
			}
			continue
		}

		now := s.Clock.Now()
		if next := unixTime(reward.NextClaimTimestamp); next.After(now) {
			if err := s.Clock.Sleep(ctx, next.Sub(now)); err != nil {
				return err
			}
			continue
		}

		if reward.Amount > 0 {
			if err := s.Clock.Sleep(ctx, s.Rand.Duration(invitationsClaimMin, invitationsClaimMax)); err != nil {
				return err
			}
			if claimed, err := s.Game.ClaimInvitations(ctx); err != nil {
				s.Log.Error("failed to claim referral reward", zap.Error(err))
			} else {
				s.Log.Info("claimed referral reward", zap.Float64("amount", claimed))
			}
		}

		if err := s.Clock.Sleep(ctx, s.Rand.Duration(invitationsPollMin, invitationsPollMax)); err != nil {
			return err
		}
	}
}

func unixTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}

// EmpireTarget is the level every tracked business is raised to.
func EmpireTarget(configured int) int {
	return min(configured-1, maxEmpireLevel-1)
}

// UpgradeEmpire raises the tracked businesses to the configured level,
// waiting out running upgrades. The balance known at login is spent locally;
// a level it cannot pay for ends the attempt with ErrInsufficientFunds and
// leaves the persisted record untouched.
func (s *Session) UpgradeEmpire(ctx context.Context) error {
	target := EmpireTarget(s.Config.EmpireLevel)
	balance := s.Store.Snapshot().Balance

	for {
		businesses, err := s.Game.Businesses(ctx)
		if err != nil {
			return fmt.Errorf("fetch businesses: %w", err)
		}

		upgraded := true
		for _, b := range businesses {
			name, tracked := empireBusinesses[b.Key]
			if !tracked || b.Level >= target {
				continue
			}

			now := float64(s.Clock.Now().UnixNano()) / float64(time.Second)
			if b.UpgradeEndTime > now {
				wait := time.Duration((b.UpgradeEndTime-now)*float64(time.Second)) + s.Rand.Seconds(empireSettleMin, empireSettleMax)
				s.Log.Info("waiting for upgrade to finish", zap.String("business", name), zap.Duration("wait", wait.Round(time.Second)))
				if err := s.Clock.Sleep(ctx, wait); err != nil {
					return err
				}
				upgraded = false
				continue
			}

			cost := b.NextLevel.UpgradeCost
			if balance < cost {
				return fmt.Errorf("%w: %s needs %.0f, balance %.0f", ErrInsufficientFunds, name, cost, balance)
			}
			if err := s.Game.UpgradeBusiness(ctx, b.Key); err != nil {
				return fmt.Errorf("upgrade %s: %w", name, err)
			}
			balance -= cost
			s.Log.Info("upgraded business",
				zap.String("business", name),
				zap.Int("level", b.Level+2),
				zap.Float64("cost", cost),
				zap.Float64("remaining", balance))
			upgraded = false
		}
		if upgraded {
			break
		}
	}

	s.Log.Info("all businesses at target level", zap.Int("level", target+1))
	return s.Store.Update(func(st *model.IdentityState) { st.UpgradedEmpire = true })
}

func (s *Session) claimLoop(ctx context.Context) error {
	for {
		updates, err := s.Game.News(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Error("failed to fetch news", zap.Error(err))
			if err := s.Clock.Sleep(ctx, newsRetryDelay); err != nil {
				return err
			}
			continue
		}
		s.applyNews(ctx, updates)

		wait := time.Duration(s.Rand.IntRange(newsPollMinMinutes, newsPollMaxMinutes)) * time.Minute
		if err := s.Clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Session) applyNews(ctx context.Context, updates []game.NewsUpdate) {
	for _, u := range updates {
		switch {
		case u.Type == game.UpdateClaim:
			if err := s.Game.ClaimBusiness(ctx, u.Key); err != nil {
				s.Log.Error("failed to claim income", zap.String("key", u.Key), zap.Error(err))
				continue
			}
			s.Log.Info("claimed income", zap.String("key", u.Key), zap.Float64("income", u.Income))
		case u.Type == game.UpdateResolve && s.Config.AutoResolveEmpire:
			if err := s.Game.ResolveBusiness(ctx, u.Key); err != nil {
				s.Log.Error("failed to resolve event", zap.String("key", u.Key), zap.Error(err))
				continue
			}
			s.Log.Info("resolved event", zap.String("key", u.Key), zap.String("event", u.Event))
		case u.Type == game.UpdateRenew && u.ItemType == licenseItemType && s.Config.AutoRenewLicense:
			if err := s.Game.RenewLicense(ctx, u.Key); err != nil {
				s.Log.Error("failed to renew license", zap.String("key", u.Key), zap.Error(err))
				continue
			}
			s.Log.Info("renewed license", zap.String("key", u.Key))
		}
	}
}

// bonusLoop checks the daily bonus right away and then on a fixed cron
// schedule, next to a frequent bearer expiry check. It ends the session
// only when a token refresh reports the proof as invalid.
func (s *Session) bonusLoop(ctx context.Context) error {
	fatal := make(chan error, 1)
	report := func(err error) {
		if err != nil && ctx.Err() == nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}
	checkBonus := func() { report(s.checkDailyBonus(ctx)) }

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(bonusCheckSchedule, checkBonus); err != nil {
		return fmt.Errorf("schedule bonus check: %w", err)
	}
	if _, err := c.AddFunc(tokenCheckSchedule, func() { report(s.renewIfExpiring(ctx)) }); err != nil {
		return fmt.Errorf("schedule token check: %w", err)
	}
	checkBonus()
	c.Start()
	defer func() { <-c.Stop().Done() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-fatal:
		return err
	}
}

// checkDailyBonus claims the bonus when the last server-reported daily login
// is more than a day old. Only a refresh failure is returned.
func (s *Session) checkDailyBonus(ctx context.Context) error {
	st := s.Store.Snapshot()
	if st.LastLoginTime.IsZero() {
		s.Log.Warn("last login time unknown, skipping daily bonus check")
		return nil
	}
	if s.Clock.Now().Sub(st.LastLoginTime) <= bonusLoginStaleAfter {
		s.Log.Debug("daily bonus not due")
		return nil
	}
	if err := s.renew(ctx, false); err != nil {
		return err
	}
	res, err := s.Game.ClaimDailyBonus(ctx)
	if err != nil {
		s.Log.Error("failed to claim daily bonus", zap.Error(err))
		return nil
	}
	s.Log.Info("daily bonus claimed", zap.Float64("points", res.IncrementBy))
	return nil
}
