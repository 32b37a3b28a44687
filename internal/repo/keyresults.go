package repo

import (
	"context"
	"database/sql"
	"fmt"

	"frequency/internal/domain"
	"frequency/internal/events"
)

// GetKeyResult returns a live key result of a live objective, with its win
// log attached when it is a win condition.
func (r Repo) GetKeyResult(ctx context.Context, id string) (domain.KeyResult, error) {
	var objectiveID string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT k.objective_id FROM key_results k JOIN objectives o ON o.id=k.objective_id
WHERE k.id=? AND k.deleted_at IS NULL AND o.deleted_at IS NULL`), id).Scan(&objectiveID)
	if err == sql.ErrNoRows {
		return domain.KeyResult{}, fmt.Errorf("key result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.KeyResult{}, err
	}
	o, err := r.GetObjective(ctx, objectiveID)
	if err != nil {
		return domain.KeyResult{}, err
	}
	for _, kr := range o.KeyResults {
		if kr.ID == id {
			return kr, nil
		}
	}
	return domain.KeyResult{}, fmt.Errorf("key result %s: %w", id, ErrNotFound)
}

// MaxKeyResultOrder returns the highest order assigned under the objective, or -1.
func (r Repo) MaxKeyResultOrder(ctx context.Context, objectiveID string) (int, error) {
	var max int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COALESCE(MAX(sort_order),-1) FROM key_results WHERE objective_id=?`), objectiveID).Scan(&max)
	return max, err
}

func (r Repo) InsertKeyResult(ctx context.Context, kr domain.KeyResult, actorID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := liveObjectiveTx(ctx, r, tx, kr.ObjectiveID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO key_results(id,objective_id,title,type,current_value,target,unit,sort_order,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`),
			kr.ID, kr.ObjectiveID, kr.Title, string(kr.Type), kr.Current, kr.Target, kr.Unit, kr.Order, kr.CreatedAt, kr.UpdatedAt); err != nil {
			return fmt.Errorf("insert key result: %w", err)
		}
		return r.events().Append(ctx, tx, events.KeyResultCreated, "key_result", kr.ID, actorID, events.EventPayload{
			"objective_id": kr.ObjectiveID, "title": kr.Title, "type": kr.Type, "target": kr.Target, "unit": kr.Unit,
		})
	})
}

// UpdateKeyResult rewrites title, type and the metric fields. A win condition's
// counter is resynchronized with its log in the same transaction.
func (r Repo) UpdateKeyResult(ctx context.Context, kr domain.KeyResult, actorID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE key_results SET title=?,type=?,current_value=?,target=?,unit=?,updated_at=? WHERE id=? AND deleted_at IS NULL`),
			kr.Title, string(kr.Type), kr.Current, kr.Target, kr.Unit, kr.UpdatedAt, kr.ID)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "key result", kr.ID); err != nil {
			return err
		}
		if err := r.syncWinCountTx(ctx, tx, kr.ID); err != nil {
			return err
		}
		return r.events().Append(ctx, tx, events.KeyResultUpdated, "key_result", kr.ID, actorID, events.EventPayload{
			"title": kr.Title, "type": kr.Type, "target": kr.Target, "unit": kr.Unit,
		})
	})
}

// UpdateKeyResultProgress sets current on a metric key result.
func (r Repo) UpdateKeyResultProgress(ctx context.Context, id string, current float64, actorID string) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE key_results SET current_value=?, updated_at=? WHERE id=? AND deleted_at IS NULL AND type<>'win_condition'`), current, now, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "metric key result", id); err != nil {
			return err
		}
		return r.events().Append(ctx, tx, events.KeyResultProgress, "key_result", id, actorID, events.EventPayload{"current": current})
	})
}

// DeleteKeyResult tombstones the key result and the wins logged against it.
func (r Repo) DeleteKeyResult(ctx context.Context, id, actorID string) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE key_results SET deleted_at=? WHERE id=? AND deleted_at IS NULL`), now, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "key result", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE win_logs SET deleted_at=? WHERE key_result_id=? AND deleted_at IS NULL`), now, id); err != nil {
			return fmt.Errorf("cascade wins: %w", err)
		}
		return r.events().Append(ctx, tx, events.KeyResultDeleted, "key_result", id, actorID, nil)
	})
}

// UpdateKeyResultsOrder writes a reorder batch scoped to one objective.
func (r Repo) UpdateKeyResultsOrder(ctx context.Context, objectiveID string, updates []domain.OrderUpdate, actorID string) error {
	if len(updates) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			res, err := tx.ExecContext(ctx, r.q(`UPDATE key_results SET sort_order=? WHERE id=? AND objective_id=? AND deleted_at IS NULL`), u.Order, u.ID, objectiveID)
			if err != nil {
				return err
			}
			if err := affectedOrNotFound(res, "key result", u.ID); err != nil {
				return err
			}
		}
		return r.events().Append(ctx, tx, events.KeyResultsReorder, "objective", objectiveID, actorID, events.EventPayload{"updates": updates})
	})
}

// syncWinCountTx is the only writer of a win condition's stored counter. It
// is a no-op for metric key results.
func (r Repo) syncWinCountTx(ctx context.Context, tx *sql.Tx, keyResultID string) error {
	_, err := tx.ExecContext(ctx, r.q(`UPDATE key_results SET current_value=(SELECT COUNT(*) FROM win_logs WHERE key_result_id=? AND deleted_at IS NULL)
WHERE id=? AND type='win_condition'`), keyResultID, keyResultID)
	if err != nil {
		return fmt.Errorf("sync win count: %w", err)
	}
	return nil
}

func liveObjectiveTx(ctx context.Context, r Repo, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM objectives WHERE id=? AND deleted_at IS NULL`), id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("objective %s: %w", id, ErrNotFound)
	}
	return err
}
