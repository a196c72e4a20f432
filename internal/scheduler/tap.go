package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"whalebot/internal/jitter"
	"whalebot/internal/model"
)

const (
	burstTotal    = 1000
	burstMin      = 1
	burstMax      = 15
	burstDelayMin = time.Second
	burstDelayMax = 3 * time.Second
	restMin       = 1100
	restMax       = 2000

	nightStartHour = 22
	nightEndHour   = 6
)

// ComposeBurst splits total into sizes drawn from [lo, hi]. Only the last
// size may be clamped below lo to hit total exactly.
func ComposeBurst(r *jitter.Source, total, lo, hi int) []int {
	var sizes []int
	for sum := 0; sum < total; {
		n := r.IntRange(lo, hi)
		if sum+n > total {
			n = total - sum
		}
		sizes = append(sizes, n)
		sum += n
	}
	return sizes
}

// RemainingRest is how long the persisted rest still has to run at now.
func RemainingRest(st model.IdentityState, now time.Time) time.Duration {
	if st.LastSleepTime.IsZero() {
		return 0
	}
	end := st.LastSleepTime.Add(time.Duration(st.SleepTimeSeconds) * time.Second)
	if !now.Before(end) {
		return 0
	}
	return end.Sub(now)
}

// NightWait returns the wait until 06:00 UTC when now falls in the night
// window [22:00, 06:00) UTC, and zero otherwise.
func NightWait(now time.Time) time.Duration {
	now = now.UTC()
	h := now.Hour()
	if h >= nightEndHour && h < nightStartHour {
		return 0
	}
	morning := time.Date(now.Year(), now.Month(), now.Day(), nightEndHour, 0, 0, 0, time.UTC)
	if h >= nightStartHour {
		morning = morning.AddDate(0, 0, 1)
	}
	return morning.Sub(now)
}

// tapLoop owns the push channel: it is closed for every night, rest and
// resumed rest, and reopened with fresh tokens afterwards.
func (s *Session) tapLoop(ctx context.Context) error {
	s.Log.Info("auto tapper started")
	s.openChannel(ctx)
	defer s.closeChannel()

	pause := func(wait time.Duration) error {
		s.closeChannel()
		if err := s.Clock.Sleep(ctx, wait); err != nil {
			return err
		}
		return s.renew(ctx, true)
	}

	for {
		if s.Config.NightMode {
			if wait := NightWait(s.Clock.Now()); wait > 0 {
				s.Log.Info("night time, sleeping until 06:00 UTC", zap.Duration("wait", wait))
				if err := pause(wait); err != nil {
					return err
				}
			}
		}

		if wait := RemainingRest(s.Store.Snapshot(), s.Clock.Now()); wait > 0 {
			s.Log.Info("rest not over yet, waiting", zap.Duration("wait", wait))
			if err := pause(wait); err != nil {
				return err
			}
		}

		sent, err := s.burst(ctx)
		if err != nil {
			return err
		}

		s.closeChannel()
		rest := s.Rand.IntRange(restMin, restMax)
		err = s.Store.Update(func(st *model.IdentityState) {
			st.LastSleepTime = s.Clock.Now()
			st.SleepTimeSeconds = int64(rest)
		})
		if err != nil {
			s.Log.Error("failed to persist rest", zap.Error(err))
		}
		s.Log.Info("clicks sent, resting", zap.Int("clicks", sent), zap.Int("rest_minutes", rest/60))
		if err := s.Clock.Sleep(ctx, time.Duration(rest)*time.Second); err != nil {
			return err
		}
		if err := s.renew(ctx, true); err != nil {
			return err
		}
	}
}

func (s *Session) burst(ctx context.Context) (int, error) {
	sizes := ComposeBurst(s.Rand, burstTotal, burstMin, burstMax)
	delays := make([]time.Duration, len(sizes))
	var estimate time.Duration
	for i := range delays {
		delays[i] = s.Rand.Duration(burstDelayMin, burstDelayMax)
		estimate += delays[i]
	}
	s.Log.Info("clicking", zap.Int("bursts", len(sizes)), zap.Duration("estimate", estimate.Round(time.Second)))

	sent := 0
	for i, n := range sizes {
		if err := s.Game.SendClicks(ctx, n); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			s.Log.Error("failed to send clicks", zap.Int("clicks", n), zap.Error(err))
		} else {
			sent += n
		}
		err := s.Store.Update(func(st *model.IdentityState) { st.LastClickTime = s.Clock.Now() })
		if err != nil {
			s.Log.Error("failed to persist click time", zap.Error(err))
		}
		if err := s.Clock.Sleep(ctx, delays[i]); err != nil {
			return sent, err
		}
	}
	return sent, nil
}
