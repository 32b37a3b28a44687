package engine

import (
	"context"
	"errors"
	"math"
	"strings"

	"frequency/internal/domain"
	"frequency/internal/engine/auth"
	"frequency/internal/metrics"
	"frequency/internal/ordering"
)

// KeyResultCreateOptions are parameters for adding a key result. Target nil
// means the configured default; win conditions ignore Target, Current and Unit.
type KeyResultCreateOptions struct {
	ObjectiveID string               `json:"objective_id" validate:"required"`
	Title       string               `json:"title" validate:"required"`
	Type        domain.KeyResultType `json:"type" validate:"required,oneof=leading lagging win_condition"`
	Current     float64              `json:"current" validate:"gte=0"`
	Target      *float64             `json:"target" validate:"omitempty,gte=0"`
	Unit        string               `json:"unit"`
	ActorID     string               `json:"-"`
}

// CreateKeyResult appends a key result to its objective.
func (e Engine) CreateKeyResult(ctx context.Context, opts KeyResultCreateOptions) (domain.KeyResult, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.KeyResult{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Unit = strings.TrimSpace(opts.Unit)
	if opts.Type == "" {
		opts.Type = domain.KeyResultLeading
	}
	if err := check(opts); err != nil {
		return domain.KeyResult{}, err
	}
	if _, err := e.GetObjective(ctx, opts.ObjectiveID); err != nil {
		return domain.KeyResult{}, err
	}
	cfg := e.config()
	kr := domain.KeyResult{
		ID:          e.newID(),
		ObjectiveID: opts.ObjectiveID,
		Title:       opts.Title,
		Type:        opts.Type,
	}
	if kr.IsWinCondition() {
		kr.Target = cfg.KeyResults.WinConditionTarget
		kr.Unit = domain.WinsUnit
	} else {
		kr.Current = opts.Current
		kr.Target = cfg.KeyResults.DefaultTarget
		if opts.Target != nil {
			kr.Target = *opts.Target
		}
		kr.Unit = opts.Unit
		if kr.Unit == "" {
			kr.Unit = cfg.KeyResults.DefaultUnit
		}
	}
	max, err := e.Store.MaxKeyResultOrder(ctx, opts.ObjectiveID)
	if err != nil {
		return domain.KeyResult{}, e.persistErr("max key result order", err)
	}
	kr.Order = max + 1
	kr.CreatedAt = e.now()
	kr.UpdatedAt = kr.CreatedAt
	if err := e.Store.InsertKeyResult(ctx, kr, opts.ActorID); err != nil {
		return domain.KeyResult{}, e.persistErr("create key result", err, "objective_id", opts.ObjectiveID)
	}
	metrics.LifecycleOps.WithLabelValues("key_result", "create").Inc()
	return e.GetKeyResult(ctx, kr.ID)
}

func (e Engine) GetKeyResult(ctx context.Context, id string) (domain.KeyResult, error) {
	kr, err := e.Store.GetKeyResult(ctx, id)
	if err != nil {
		return domain.KeyResult{}, e.persistErr("get key result", err, "id", id)
	}
	return kr, nil
}

// KeyResultUpdateOptions patch title, target or unit. Win conditions only
// accept a new title.
type KeyResultUpdateOptions struct {
	ID      string
	Title   *string
	Target  *float64
	Unit    *string
	ActorID string
}

func (e Engine) UpdateKeyResult(ctx context.Context, opts KeyResultUpdateOptions) (domain.KeyResult, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.KeyResult{}, err
	}
	kr, err := e.GetKeyResult(ctx, opts.ID)
	if err != nil {
		return domain.KeyResult{}, err
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.KeyResult{}, domain.Invalid("title", "is required")
		}
		kr.Title = title
	}
	if kr.IsWinCondition() && (opts.Target != nil || opts.Unit != nil) {
		return domain.KeyResult{}, domain.Invalid("target", "is fixed for win conditions")
	}
	if opts.Target != nil {
		if *opts.Target < 0 || math.IsNaN(*opts.Target) || math.IsInf(*opts.Target, 0) {
			return domain.KeyResult{}, domain.Invalid("target", "must be a non-negative number")
		}
		kr.Target = *opts.Target
	}
	if opts.Unit != nil {
		kr.Unit = strings.TrimSpace(*opts.Unit)
	}
	kr.UpdatedAt = e.now()
	if err := e.Store.UpdateKeyResult(ctx, kr, opts.ActorID); err != nil {
		return domain.KeyResult{}, e.persistErr("update key result", err, "id", kr.ID)
	}
	metrics.LifecycleOps.WithLabelValues("key_result", "update").Inc()
	return e.GetKeyResult(ctx, kr.ID)
}

// ProgressOptions set current absolutely or move it by Delta. Exactly one is set.
type ProgressOptions struct {
	ID      string
	Set     *float64
	Delta   *float64
	ActorID string
}

// SetProgress edits current on a metric key result. Decrements stop at zero.
// A win condition's current follows its win log and is rejected here.
func (e Engine) SetProgress(ctx context.Context, opts ProgressOptions) (domain.KeyResult, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.KeyResult{}, err
	}
	if (opts.Set == nil) == (opts.Delta == nil) {
		return domain.KeyResult{}, domain.Invalid("progress", "needs exactly one of set or delta")
	}
	kr, err := e.GetKeyResult(ctx, opts.ID)
	if err != nil {
		return domain.KeyResult{}, err
	}
	if kr.IsWinCondition() {
		return domain.KeyResult{}, domain.Invalid("current", "is derived from the win log for win conditions")
	}
	var current float64
	if opts.Set != nil {
		current = *opts.Set
		if current < 0 {
			return domain.KeyResult{}, domain.Invalid("current", "must not be negative")
		}
	} else {
		current = math.Max(0, kr.Current+*opts.Delta)
	}
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return domain.KeyResult{}, domain.Invalid("current", "must be a finite number")
	}
	if err := e.Store.UpdateKeyResultProgress(ctx, kr.ID, current, opts.ActorID); err != nil {
		return domain.KeyResult{}, e.persistErr("update key result progress", err, "id", kr.ID)
	}
	return e.GetKeyResult(ctx, kr.ID)
}

// ConvertKeyResultType changes the type, re-deriving the metric fields when the
// change crosses into or out of win_condition. Id, title and order are kept.
// Leaving win_condition resets current to 0 with the default target and unit;
// the wins stay stored and count again if the key result is converted back.
func (e Engine) ConvertKeyResultType(ctx context.Context, id string, to domain.KeyResultType, actorID string) (domain.KeyResult, error) {
	if err := auth.RequireActor(actorID); err != nil {
		return domain.KeyResult{}, err
	}
	if !to.Valid() {
		return domain.KeyResult{}, domain.Invalid("type", "must be one of leading lagging win_condition")
	}
	kr, err := e.GetKeyResult(ctx, id)
	if err != nil {
		return domain.KeyResult{}, err
	}
	if kr.Type == to {
		return kr, nil
	}
	cfg := e.config()
	switch {
	case to == domain.KeyResultWinCondition:
		kr.Target = cfg.KeyResults.WinConditionTarget
		kr.Unit = domain.WinsUnit
		// the store recounts the log when it saves a win condition
		kr.Current = 0
	case kr.IsWinCondition():
		kr.Current = 0
		kr.Target = cfg.KeyResults.DefaultTarget
		kr.Unit = cfg.KeyResults.DefaultUnit
	}
	kr.Type = to
	kr.UpdatedAt = e.now()
	if err := e.Store.UpdateKeyResult(ctx, kr, actorID); err != nil {
		return domain.KeyResult{}, e.persistErr("convert key result", err, "id", id)
	}
	metrics.LifecycleOps.WithLabelValues("key_result", "convert").Inc()
	e.logger().Info("key result converted", "id", id, "type", to)
	return e.GetKeyResult(ctx, id)
}

// DeleteKeyResult tombstones the key result and the wins logged against it.
func (e Engine) DeleteKeyResult(ctx context.Context, id, actorID string) error {
	if err := auth.RequireActor(actorID); err != nil {
		return err
	}
	if err := e.Store.DeleteKeyResult(ctx, id, actorID); err != nil {
		return e.persistErr("delete key result", err, "id", id)
	}
	metrics.LifecycleOps.WithLabelValues("key_result", "delete").Inc()
	return nil
}

// ReorderKeyResults moves a key result within its objective.
func (e Engine) ReorderKeyResults(ctx context.Context, objectiveID string, from, to int, actorID string) ([]domain.KeyResult, error) {
	if err := auth.RequireActor(actorID); err != nil {
		return nil, err
	}
	o, err := e.GetObjective(ctx, objectiveID)
	if err != nil {
		return nil, err
	}
	reordered, err := ordering.Move(o.KeyResults, from, to)
	if err != nil {
		return nil, err
	}
	updates := ordering.KeyResultUpdates(o.KeyResults, reordered)
	optimistic := ordering.RenumberKeyResults(reordered)
	if len(updates) == 0 {
		metrics.ReorderBatches.WithLabelValues("key_result", "noop").Inc()
		return optimistic, nil
	}
	metrics.ReorderBatchSize.Observe(float64(len(updates)))
	err = e.Store.UpdateKeyResultsOrder(ctx, objectiveID, updates, actorID)
	if err == nil {
		metrics.ReorderBatches.WithLabelValues("key_result", "applied").Inc()
		return optimistic, nil
	}
	metrics.ReorderBatches.WithLabelValues("key_result", "reconciled").Inc()
	perr := e.persistErr("update key results order", err, "objective_id", objectiveID)
	fresh, ferr := e.Store.GetObjective(ctx, objectiveID)
	if ferr != nil {
		return nil, e.persistErr("reconcile key results", errors.Join(err, ferr))
	}
	e.logger().Warn("key result reorder reconciled from store", "objective_id", objectiveID)
	return nil, ReconciledError{Err: perr, KeyResults: fresh.KeyResults}
}

