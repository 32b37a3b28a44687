package repo

import (
	"context"
	"database/sql"
	"fmt"

	"frequency/internal/domain"
	"frequency/internal/events"
)

// ListPeople returns people by name. Tombstoned people are included on request
// so historical attributions still resolve.
func (r Repo) ListPeople(ctx context.Context, includeDeleted bool) ([]domain.Person, error) {
	query := `SELECT id,name,initials,color,created_at,COALESCE(deleted_at,'') FROM people`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY name, id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	people := []domain.Person{}
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Initials, &p.Color, &p.CreatedAt, &p.DeletedAt); err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

func (r Repo) InsertPerson(ctx context.Context, p domain.Person, actorID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO people(id,name,initials,color,created_by,created_at) VALUES (?,?,?,?,?,?)`),
			p.ID, p.Name, p.Initials, p.Color, nullable(actorID), p.CreatedAt); err != nil {
			return fmt.Errorf("insert person: %w", err)
		}
		return r.events().Append(ctx, tx, events.PersonCreated, "person", p.ID, actorID, events.EventPayload{"name": p.Name})
	})
}

func (r Repo) DeletePerson(ctx context.Context, id, actorID string) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE people SET deleted_at=? WHERE id=? AND deleted_at IS NULL`), now, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "person", id); err != nil {
			return err
		}
		return r.events().Append(ctx, tx, events.PersonDeleted, "person", id, actorID, nil)
	})
}

func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,sort_order,created_at FROM categories WHERE deleted_at IS NULL ORDER BY sort_order, created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cats := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Order, &c.CreatedAt); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// InsertCategory appends the category after every existing one.
func (r Repo) InsertCategory(ctx context.Context, c domain.Category, actorID string) (domain.Category, error) {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order),-1)+1 FROM categories`).Scan(&c.Order); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO categories(id,name,sort_order,created_at) VALUES (?,?,?,?)`), c.ID, c.Name, c.Order, c.CreatedAt); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
		return r.events().Append(ctx, tx, events.CategoryCreated, "category", c.ID, actorID, events.EventPayload{"name": c.Name})
	})
	return c, err
}

// DeleteCategory tombstones the category. Objectives keep their category text.
func (r Repo) DeleteCategory(ctx context.Context, id, actorID string) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE categories SET deleted_at=? WHERE id=? AND deleted_at IS NULL`), now, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "category", id); err != nil {
			return err
		}
		return r.events().Append(ctx, tx, events.CategoryDeleted, "category", id, actorID, nil)
	})
}

func (r Repo) UpdateCategoriesOrder(ctx context.Context, updates []domain.OrderUpdate, actorID string) error {
	if len(updates) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			res, err := tx.ExecContext(ctx, r.q(`UPDATE categories SET sort_order=? WHERE id=? AND deleted_at IS NULL`), u.Order, u.ID)
			if err != nil {
				return err
			}
			if err := affectedOrNotFound(res, "category", u.ID); err != nil {
				return err
			}
		}
		return r.events().Append(ctx, tx, events.CategoriesReorder, "category", "", actorID, events.EventPayload{"updates": updates})
	})
}
