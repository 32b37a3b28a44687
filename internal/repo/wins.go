package repo

import (
	"context"
	"database/sql"
	"fmt"

	"frequency/internal/domain"
	"frequency/internal/events"
)

// InsertWinLog stores a win and its attributions. Key result wins must target a
// live win condition; its counter is resynchronized before commit.
func (r Repo) InsertWinLog(ctx context.Context, w domain.WinLog, actorID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if w.KeyResultID != "" {
			var typ string
			err := tx.QueryRowContext(ctx, r.q(`SELECT k.type FROM key_results k JOIN objectives o ON o.id=k.objective_id
WHERE k.id=? AND k.deleted_at IS NULL AND o.deleted_at IS NULL`), w.KeyResultID).Scan(&typ)
			if err == sql.ErrNoRows {
				return fmt.Errorf("key result %s: %w", w.KeyResultID, ErrNotFound)
			}
			if err != nil {
				return err
			}
			if domain.KeyResultType(typ) != domain.KeyResultWinCondition {
				return domain.Invalid("key_result_id", "is not a win condition")
			}
		} else if err := liveObjectiveTx(ctx, r, tx, w.ObjectiveID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO win_logs(id,note,logged_at,objective_id,key_result_id,created_by) VALUES (?,?,?,?,?,?)`),
			w.ID, w.Note, w.Date, nullable(w.ObjectiveID), nullable(w.KeyResultID), nullable(w.CreatedBy)); err != nil {
			return fmt.Errorf("insert win: %w", err)
		}
		for i, personID := range w.AttributedTo {
			if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO win_attributions(win_log_id,person_id,position) VALUES (?,?,?) ON CONFLICT DO NOTHING`), w.ID, personID, i); err != nil {
				return fmt.Errorf("insert attribution: %w", err)
			}
		}
		if w.KeyResultID != "" {
			if err := r.syncWinCountTx(ctx, tx, w.KeyResultID); err != nil {
				return err
			}
		}
		return r.events().Append(ctx, tx, events.WinLogged, "win", w.ID, actorID, events.EventPayload{
			"note": w.Note, "objective_id": w.ObjectiveID, "key_result_id": w.KeyResultID, "attributed_to": w.AttributedTo,
		})
	})
}

// GetWinLog returns a live win with its attributions.
func (r Repo) GetWinLog(ctx context.Context, id string) (domain.WinLog, error) {
	var w domain.WinLog
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,note,logged_at,COALESCE(objective_id,''),COALESCE(key_result_id,''),COALESCE(created_by,'') FROM win_logs WHERE id=? AND deleted_at IS NULL`), id).
		Scan(&w.ID, &w.Note, &w.Date, &w.ObjectiveID, &w.KeyResultID, &w.CreatedBy)
	if err == sql.ErrNoRows {
		return domain.WinLog{}, fmt.Errorf("win %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.WinLog{}, err
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT person_id FROM win_attributions WHERE win_log_id=? ORDER BY position`), id)
	if err != nil {
		return domain.WinLog{}, err
	}
	defer rows.Close()
	w.AttributedTo = []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return domain.WinLog{}, err
		}
		w.AttributedTo = append(w.AttributedTo, p)
	}
	return w, rows.Err()
}

// DeleteWinLog tombstones a win and resynchronizes the owning win condition.
func (r Repo) DeleteWinLog(ctx context.Context, id, actorID string) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var keyResultID sql.NullString
		err := tx.QueryRowContext(ctx, r.q(`SELECT key_result_id FROM win_logs WHERE id=? AND deleted_at IS NULL`), id).Scan(&keyResultID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("win %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE win_logs SET deleted_at=? WHERE id=?`), now, id); err != nil {
			return err
		}
		if keyResultID.Valid {
			if err := r.syncWinCountTx(ctx, tx, keyResultID.String); err != nil {
				return err
			}
		}
		return r.events().Append(ctx, tx, events.WinDeleted, "win", id, actorID, events.EventPayload{"key_result_id": keyResultID.String})
	})
}
