package repo

import (
	"context"
	"database/sql"
	"fmt"

	"frequency/internal/domain"
	"frequency/internal/events"
)

// EnsureUser upserts a user by external identity and returns the stored row.
// Repeated calls return the same user.
func (r Repo) EnsureUser(ctx context.Context, candidate domain.User) (domain.User, error) {
	var u domain.User
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`INSERT INTO users(id,external_id,email,created_at) VALUES (?,?,?,?) ON CONFLICT(external_id) DO NOTHING`),
			candidate.ID, candidate.ExternalID, nullable(candidate.Email), candidate.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if err := r.events().Append(ctx, tx, events.UserCreated, "user", candidate.ID, candidate.ID, events.EventPayload{"external_id": candidate.ExternalID}); err != nil {
				return err
			}
		}
		u, err = scanUser(tx.QueryRowContext(ctx, r.q(`SELECT id,external_id,COALESCE(email,''),created_at FROM users WHERE external_id=?`), candidate.ExternalID))
		return err
	})
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, r.q(`SELECT id,external_id,COALESCE(email,''),created_at FROM users WHERE id=?`), id))
	if err == ErrNotFound {
		return u, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}
