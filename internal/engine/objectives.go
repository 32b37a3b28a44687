package engine

import (
	"context"
	"errors"
	"strings"

	"frequency/internal/domain"
	"frequency/internal/engine/auth"
	"frequency/internal/metrics"
	"frequency/internal/ordering"
	"frequency/internal/repo"
)

// ObjectiveCreateOptions are parameters for creating an objective.
type ObjectiveCreateOptions struct {
	Title       string               `json:"title" validate:"required"`
	Type        domain.ObjectiveType `json:"type" validate:"required,oneof=okr goal"`
	Category    string               `json:"category"`
	Description string               `json:"description"`
	Initiatives []domain.Initiative  `json:"initiatives"`
	ActorID     string               `json:"-"`
}

// CreateObjective appends a new objective to the end of its type's list.
func (e Engine) CreateObjective(ctx context.Context, opts ObjectiveCreateOptions) (domain.Objective, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.Objective{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Category = strings.TrimSpace(opts.Category)
	if opts.Type == "" {
		opts.Type = domain.ObjectiveOKR
	}
	if err := check(opts); err != nil {
		return domain.Objective{}, err
	}
	if opts.Category == "" {
		opts.Category = e.config().Objectives.DefaultCategory
	}
	max, err := e.Store.MaxObjectiveOrder(ctx, opts.Type)
	if err != nil {
		return domain.Objective{}, e.persistErr("max objective order", err)
	}
	now := e.now()
	o := domain.Objective{
		ID:          e.newID(),
		Title:       opts.Title,
		Type:        opts.Type,
		Status:      domain.StatusActive,
		Category:    opts.Category,
		Description: strings.TrimSpace(opts.Description),
		Initiatives: domain.NormalizeInitiatives(opts.Initiatives),
		Order:       max + 1,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.InsertObjective(ctx, o, opts.ActorID); err != nil {
		return domain.Objective{}, e.persistErr("create objective", err)
	}
	metrics.LifecycleOps.WithLabelValues("objective", "create").Inc()
	e.logger().Info("objective created", "id", o.ID, "type", o.Type, "category", o.Category, "order", o.Order)
	return e.refetchObjective(ctx, o)
}

// ObjectiveUpdateOptions patch an objective; nil fields are left alone.
type ObjectiveUpdateOptions struct {
	ID          string
	Title       *string
	Type        *domain.ObjectiveType
	Category    *string
	Description *string
	Initiatives *[]domain.Initiative
	ActorID     string
}

// UpdateObjective applies a patch. Moving an objective to the other type puts it
// at the end of that type's list.
func (e Engine) UpdateObjective(ctx context.Context, opts ObjectiveUpdateOptions) (domain.Objective, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.Objective{}, err
	}
	o, err := e.Store.GetObjective(ctx, opts.ID)
	if err != nil {
		return domain.Objective{}, e.persistErr("get objective", err, "id", opts.ID)
	}
	typeChanged := false
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Objective{}, domain.Invalid("title", "is required")
		}
		o.Title = title
	}
	if opts.Type != nil && *opts.Type != o.Type {
		if !opts.Type.Valid() {
			return domain.Objective{}, domain.Invalid("type", "must be one of okr goal")
		}
		o.Type = *opts.Type
		typeChanged = true
	}
	if opts.Category != nil {
		o.Category = strings.TrimSpace(*opts.Category)
		if o.Category == "" {
			o.Category = e.config().Objectives.DefaultCategory
		}
	}
	if opts.Description != nil {
		o.Description = strings.TrimSpace(*opts.Description)
	}
	if opts.Initiatives != nil {
		o.Initiatives = domain.NormalizeInitiatives(*opts.Initiatives)
	}
	o.UpdatedAt = e.now()
	if err := e.Store.UpdateObjective(ctx, o, opts.ActorID); err != nil {
		return domain.Objective{}, e.persistErr("update objective", err, "id", o.ID)
	}
	if typeChanged {
		max, err := e.Store.MaxObjectiveOrder(ctx, o.Type)
		if err != nil {
			return domain.Objective{}, e.persistErr("max objective order", err)
		}
		if err := e.Store.UpdateObjectivesOrder(ctx, []domain.OrderUpdate{{ID: o.ID, Order: max + 1}}, opts.ActorID); err != nil {
			return domain.Objective{}, e.persistErr("append to type", err, "id", o.ID)
		}
	}
	metrics.LifecycleOps.WithLabelValues("objective", "update").Inc()
	return e.refetchObjective(ctx, o)
}

// DeleteObjective tombstones an objective with its key results and wins.
func (e Engine) DeleteObjective(ctx context.Context, id, actorID string) error {
	if err := auth.RequireActor(actorID); err != nil {
		return err
	}
	if err := e.Store.DeleteObjective(ctx, id, actorID); err != nil {
		return e.persistErr("delete objective", err, "id", id)
	}
	metrics.LifecycleOps.WithLabelValues("objective", "delete").Inc()
	e.logger().Info("objective deleted", "id", id)
	return nil
}

func (e Engine) GetObjective(ctx context.Context, id string) (domain.Objective, error) {
	o, err := e.Store.GetObjective(ctx, id)
	if err != nil {
		return domain.Objective{}, e.persistErr("get objective", err, "id", id)
	}
	return o, nil
}

// ObjectiveQuery selects a view. An empty Category is the unfiltered view.
type ObjectiveQuery struct {
	Type     domain.ObjectiveType
	Category string
}

func (e Engine) ListObjectives(ctx context.Context, q ObjectiveQuery) ([]domain.Objective, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, domain.Invalid("type", "must be one of okr goal")
	}
	objs, err := e.Store.ListObjectives(ctx, repo.ObjectiveFilter{Type: q.Type, Category: q.Category})
	if err != nil {
		return nil, e.persistErr("list objectives", err)
	}
	return objs, nil
}

// ReorderObjectivesOptions move the item at From to To, both indexes into the
// view selected by Type and Category.
type ReorderObjectivesOptions struct {
	Type     domain.ObjectiveType `json:"type" validate:"required,oneof=okr goal"`
	Category string               `json:"category"`
	From     int                  `json:"from" validate:"gte=0"`
	To       int                  `json:"to" validate:"gte=0"`
	ActorID  string               `json:"-"`
}

// ReorderObjectives reorders within a (possibly category filtered) view. Items
// outside the view keep their positions.
func (e Engine) ReorderObjectives(ctx context.Context, opts ReorderObjectivesOptions) ([]domain.Objective, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return nil, err
	}
	if err := check(opts); err != nil {
		return nil, err
	}
	full, err := e.ListObjectives(ctx, ObjectiveQuery{Type: opts.Type})
	if err != nil {
		return nil, err
	}
	reordered, err := ordering.ReorderWithinFilter(full, e.inView(opts.Category), opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	return e.commitObjectiveOrder(ctx, opts.Type, full, reordered, opts.ActorID)
}

// MoveObjectiveOptions describe a drag of ID onto OverID. An empty View is the
// unfiltered view, where the privileged category forms its own section.
type MoveObjectiveOptions struct {
	ID      string `json:"id" validate:"required"`
	OverID  string `json:"over_id" validate:"required"`
	View    string `json:"view"`
	ActorID string `json:"-"`
}

// MoveObjective handles a drag-and-drop. In the unfiltered view a drop across
// the privileged boundary re-tags the objective with the destination section's
// category; within a category view it is a filtered reorder.
func (e Engine) MoveObjective(ctx context.Context, opts MoveObjectiveOptions) ([]domain.Objective, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return nil, err
	}
	if err := check(opts); err != nil {
		return nil, err
	}
	dragged, err := e.GetObjective(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	full, err := e.ListObjectives(ctx, ObjectiveQuery{Type: dragged.Type})
	if err != nil {
		return nil, err
	}
	view := strings.TrimSpace(opts.View)
	var reordered []domain.Objective
	if isAllView(view) {
		cfg := e.config()
		reordered, err = ordering.ReorderAcrossCategoryBoundary(full, opts.ID, opts.OverID, ordering.Sections{
			Privileged: cfg.Objectives.PrivilegedCategory,
			Fallback:   cfg.Objectives.DefaultCategory,
		})
	} else {
		match := e.inView(view)
		from, to := indexIn(full, match, opts.ID), indexIn(full, match, opts.OverID)
		if from < 0 {
			return nil, domain.Invalid("id", "not in view "+view)
		}
		if to < 0 {
			return nil, domain.Invalid("over_id", "not in view "+view)
		}
		reordered, err = ordering.ReorderWithinFilter(full, match, from, to)
	}
	if err != nil {
		return nil, err
	}
	return e.commitObjectiveOrder(ctx, dragged.Type, full, reordered, opts.ActorID)
}

// commitObjectiveOrder persists the diff between before and after. On failure
// the optimistic order is dropped and the type's list is re-fetched.
func (e Engine) commitObjectiveOrder(ctx context.Context, typ domain.ObjectiveType, before, after []domain.Objective, actorID string) ([]domain.Objective, error) {
	updates := ordering.ObjectiveUpdates(before, after)
	optimistic := ordering.Renumber(after)
	if len(updates) == 0 {
		metrics.ReorderBatches.WithLabelValues("objective", "noop").Inc()
		return optimistic, nil
	}
	metrics.ReorderBatchSize.Observe(float64(len(updates)))
	err := e.Store.UpdateObjectivesOrder(ctx, updates, actorID)
	if err == nil {
		metrics.ReorderBatches.WithLabelValues("objective", "applied").Inc()
		return optimistic, nil
	}
	metrics.ReorderBatches.WithLabelValues("objective", "reconciled").Inc()
	perr := e.persistErr("update objectives order", err, "updates", len(updates))
	fresh, ferr := e.Store.ListObjectives(ctx, repo.ObjectiveFilter{Type: typ})
	if ferr != nil {
		return nil, e.persistErr("reconcile objectives", errors.Join(err, ferr))
	}
	e.logger().Warn("objective reorder reconciled from store", "type", typ, "updates", len(updates))
	return nil, ReconciledError{Err: perr, Objectives: fresh}
}

// NeighborQuery selects the view to navigate in.
type NeighborQuery struct {
	Type     domain.ObjectiveType
	Category string
}

// Neighbors returns the previous and next objective ids around id in the view.
// Either is empty at the ends of the list; navigation does not wrap.
func (e Engine) Neighbors(ctx context.Context, id string, q NeighborQuery) (prev, next string, err error) {
	if q.Type == "" {
		o, err := e.GetObjective(ctx, id)
		if err != nil {
			return "", "", err
		}
		q.Type = o.Type
	}
	objs, err := e.ListObjectives(ctx, ObjectiveQuery{Type: q.Type})
	if err != nil {
		return "", "", err
	}
	match := e.inView(q.Category)
	ids := make([]string, 0, len(objs))
	for _, o := range objs {
		if match(o) {
			ids = append(ids, o.ID)
		}
	}
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			break
		}
	}
	if !found {
		return "", "", domain.Invalid("id", "not in view")
	}
	prev, _ = ordering.Prev(ids, id)
	next, _ = ordering.Next(ids, id)
	return prev, next, nil
}

func (e Engine) refetchObjective(ctx context.Context, fallback domain.Objective) (domain.Objective, error) {
	o, err := e.Store.GetObjective(ctx, fallback.ID)
	if err != nil {
		return domain.Objective{}, e.persistErr("refetch objective", err, "id", fallback.ID)
	}
	return o, nil
}

// AllView is the name of the unfiltered objectives view.
const AllView = "All"

func isAllView(view string) bool {
	return view == "" || strings.EqualFold(view, AllView)
}

func (e Engine) inView(view string) func(domain.Objective) bool {
	if isAllView(view) {
		return func(domain.Objective) bool { return true }
	}
	return func(o domain.Objective) bool { return o.Category == view }
}

func indexIn(list []domain.Objective, match func(domain.Objective) bool, id string) int {
	n := 0
	for _, o := range list {
		if !match(o) {
			continue
		}
		if o.ID == id {
			return n
		}
		n++
	}
	return -1
}
