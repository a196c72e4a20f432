package tasks

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"whalebot/internal/clock"
	"whalebot/internal/game"
	"whalebot/internal/jitter"
	"whalebot/internal/model"
)

// API is the part of the game surface the engine drives.
type API interface {
	CompleteTask(ctx context.Context, id string) (game.TaskResult, error)
	RedeemCode(ctx context.Context, code string) (game.TaskResult, error)
}

// StateStore persists the completed set as soon as a completion is
// confirmed.
type StateStore interface {
	Snapshot() model.IdentityState
	Update(fn func(st *model.IdentityState)) error
}

const (
	taskDelayMin, taskDelayMax       = 30, 60
	codeDelayMin, codeDelayMax       = 10, 30
	missionDelayMin, missionDelayMax = 30, 60
	stepDelayMin, stepDelayMax       = 8, 10
	finalCodePause                   = 3 * time.Second
)

type Engine struct {
	API   API
	Store StateStore
	Clock clock.Clock
	Rand  *jitter.Source
	Log   *zap.Logger
}

// Result counts what one pass achieved.
type Result struct {
	Completed int
	Failed    int
	Skipped   int
}

// CompleteTasks works through the manifest. known is the server-reported
// completion map from login; together with the persisted completed set it
// decides what is already done, so a fully covered manifest issues no calls.
func (e *Engine) CompleteTasks(ctx context.Context, m Manifest, known map[string]bool) (Result, error) {
	var res Result
	done := func(id string) bool {
		if known[id] {
			return true
		}
		st := e.Store.Snapshot()
		return st.HasCompleted(id)
	}

	for _, id := range sortedKeys(m.Tasks) {
		kind := m.Tasks[id]
		if done(id) {
			continue
		}
		if !kind.Known() {
			e.Log.Warn("skipping task with unknown handler", zap.String("task", id), zap.String("kind", string(kind)))
			res.Skipped++
			continue
		}
		if err := e.Clock.Sleep(ctx, e.Rand.Seconds(taskDelayMin, taskDelayMax)); err != nil {
			return res, err
		}
		if done(id) {
			continue
		}
		e.record(&res, id, e.verify(ctx, id))
	}

	for _, id := range sortedKeys(m.Codes) {
		if done(id) {
			continue
		}
		if err := e.Clock.Sleep(ctx, e.Rand.Seconds(codeDelayMin, codeDelayMax)); err != nil {
			return res, err
		}
		r, err := e.API.RedeemCode(ctx, m.Codes[id])
		if err == nil {
			e.Log.Info("code verified", zap.String("task", id), zap.Float64("reward", r.IncrementScore))
		}
		e.record(&res, id, e.settle(ctx, id, err))
	}

	for _, id := range sortedKeys(m.Missions) {
		mission := m.Missions[id]
		if done(id) || allDone(mission.RequiredTasks, done) {
			continue
		}
		ok, err := e.mission(ctx, id, mission, done)
		if err != nil {
			return res, err
		}
		if ok {
			res.Completed++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (e *Engine) verify(ctx context.Context, id string) error {
	r, err := e.API.CompleteTask(ctx, id)
	if err == nil {
		e.Log.Info("task completed", zap.String("task", id), zap.Float64("reward", r.IncrementScore))
	}
	return e.settle(ctx, id, err)
}

// settle folds a confirmed or already-completed item into the persisted set
// and returns the remaining failure, if any.
func (e *Engine) settle(ctx context.Context, id string, err error) error {
	if err != nil && !game.IsAlreadyCompleted(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return e.Store.Update(func(st *model.IdentityState) { st.MarkCompleted(id) })
}

func (e *Engine) record(res *Result, id string, err error) {
	if err != nil {
		e.Log.Error("task failed", zap.String("task", id), zap.Error(err))
		res.Failed++
		return
	}
	res.Completed++
}

// mission runs each outstanding required step then the final code. A step
// failure other than "already completed" abandons the mission.
func (e *Engine) mission(ctx context.Context, id string, m Mission, done func(string) bool) (bool, error) {
	wait := e.Rand.Seconds(missionDelayMin, missionDelayMax)
	e.Log.Info("starting mission", zap.String("mission", id), zap.Duration("wait", wait))
	if err := e.Clock.Sleep(ctx, wait); err != nil {
		return false, err
	}

	for _, step := range m.RequiredTasks {
		if done(step) {
			continue
		}
		_, err := e.API.CompleteTask(ctx, step)
		if err := e.settle(ctx, step, err); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			e.Log.Error("mission step failed", zap.String("mission", id), zap.String("task", step), zap.Error(err))
			return false, nil
		}
		if game.IsAlreadyCompleted(err) {
			continue
		}
		if err := e.Clock.Sleep(ctx, e.Rand.Seconds(stepDelayMin, stepDelayMax)); err != nil {
			return false, err
		}
	}

	if err := e.Clock.Sleep(ctx, finalCodePause); err != nil {
		return false, err
	}
	r, err := e.API.CompleteTask(ctx, m.FinalCode)
	if err := e.settle(ctx, id, err); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.Log.Error("mission failed", zap.String("mission", id), zap.Error(err))
		return false, nil
	}
	e.Log.Info("mission completed", zap.String("mission", id), zap.Float64("reward", r.IncrementScore))
	return true, nil
}

func allDone(ids []string, done func(string) bool) bool {
	for _, id := range ids {
		if !done(id) {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
