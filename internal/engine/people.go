package engine

import (
	"context"
	"errors"
	"strings"

	"frequency/internal/domain"
	"frequency/internal/engine/auth"
	"frequency/internal/metrics"
	"frequency/internal/ordering"
)

type PersonCreateOptions struct {
	Name    string `json:"name" validate:"required"`
	Color   string `json:"color"`
	ActorID string `json:"-"`
}

// CreatePerson adds a team member. Initials come from the name; the color is
// picked from the palette unless given.
func (e Engine) CreatePerson(ctx context.Context, opts PersonCreateOptions) (domain.Person, error) {
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.Person{}, err
	}
	opts.Name = strings.Join(strings.Fields(opts.Name), " ")
	if err := check(opts); err != nil {
		return domain.Person{}, err
	}
	color := strings.TrimSpace(opts.Color)
	if color == "" {
		color = domain.ColorFor(opts.Name)
	}
	p := domain.Person{
		ID:        e.newID(),
		Name:      opts.Name,
		Initials:  domain.Initials(opts.Name),
		Color:     color,
		CreatedAt: e.now(),
	}
	if err := e.Store.InsertPerson(ctx, p, opts.ActorID); err != nil {
		return domain.Person{}, e.persistErr("create person", err)
	}
	metrics.LifecycleOps.WithLabelValues("person", "create").Inc()
	return p, nil
}

func (e Engine) ListPeople(ctx context.Context) ([]domain.Person, error) {
	people, err := e.Store.ListPeople(ctx, false)
	if err != nil {
		return nil, e.persistErr("list people", err)
	}
	return people, nil
}

// DeletePerson tombstones a person. Past attributions keep the id and resolve
// as removed.
func (e Engine) DeletePerson(ctx context.Context, id, actorID string) error {
	if err := auth.RequireActor(actorID); err != nil {
		return err
	}
	if err := e.Store.DeletePerson(ctx, id, actorID); err != nil {
		return e.persistErr("delete person", err, "id", id)
	}
	metrics.LifecycleOps.WithLabelValues("person", "delete").Inc()
	return nil
}

// ResolveAttribution maps person ids to display records, tolerating removed ids.
func (e Engine) ResolveAttribution(ctx context.Context, ids []string) ([]domain.Attribution, error) {
	people, err := e.Store.ListPeople(ctx, true)
	if err != nil {
		return nil, e.persistErr("list people", err)
	}
	return domain.NewDirectory(people).Resolve(ids), nil
}

func (e Engine) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cats, err := e.Store.ListCategories(ctx)
	if err != nil {
		return nil, e.persistErr("list categories", err)
	}
	return cats, nil
}

// CreateCategory appends a category. Names are unique among live categories,
// ignoring case.
func (e Engine) CreateCategory(ctx context.Context, name, actorID string) (domain.Category, error) {
	if err := auth.RequireActor(actorID); err != nil {
		return domain.Category{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, domain.Invalid("name", "is required")
	}
	if isAllView(name) {
		return domain.Category{}, domain.Invalid("name", "is reserved")
	}
	cats, err := e.ListCategories(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, name) {
			return domain.Category{}, domain.Invalid("name", "already exists")
		}
	}
	c, err := e.Store.InsertCategory(ctx, domain.Category{ID: e.newID(), Name: name, CreatedAt: e.now()}, actorID)
	if err != nil {
		return domain.Category{}, e.persistErr("create category", err)
	}
	metrics.LifecycleOps.WithLabelValues("category", "create").Inc()
	return c, nil
}

// DeleteCategory tombstones a category. Objectives keep their category label.
func (e Engine) DeleteCategory(ctx context.Context, id, actorID string) error {
	if err := auth.RequireActor(actorID); err != nil {
		return err
	}
	if err := e.Store.DeleteCategory(ctx, id, actorID); err != nil {
		return e.persistErr("delete category", err, "id", id)
	}
	metrics.LifecycleOps.WithLabelValues("category", "delete").Inc()
	return nil
}

// ReorderCategories moves the category at from to to.
func (e Engine) ReorderCategories(ctx context.Context, from, to int, actorID string) ([]domain.Category, error) {
	if err := auth.RequireActor(actorID); err != nil {
		return nil, err
	}
	cats, err := e.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	moved, err := ordering.Move(cats, from, to)
	if err != nil {
		return nil, err
	}
	updates := []domain.OrderUpdate{}
	for i := range moved {
		if moved[i].Order != i {
			updates = append(updates, domain.OrderUpdate{ID: moved[i].ID, Order: i})
			moved[i].Order = i
		}
	}
	if len(updates) == 0 {
		return moved, nil
	}
	err = e.Store.UpdateCategoriesOrder(ctx, updates, actorID)
	if err == nil {
		metrics.ReorderBatches.WithLabelValues("category", "applied").Inc()
		return moved, nil
	}
	metrics.ReorderBatches.WithLabelValues("category", "reconciled").Inc()
	perr := e.persistErr("update categories order", err)
	fresh, ferr := e.Store.ListCategories(ctx)
	if ferr != nil {
		return nil, e.persistErr("reconcile categories", errors.Join(err, ferr))
	}
	return nil, ReconciledError{Err: perr, Categories: fresh}
}
