package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"frequency/internal/domain"
	"frequency/internal/events"
)

// ObjectiveFilter selects live objectives. Empty fields match everything.
type ObjectiveFilter struct {
	ID       string
	Type     domain.ObjectiveType
	Category string
}

func (f ObjectiveFilter) where() (string, []any) {
	clauses := []string{"o.deleted_at IS NULL"}
	var args []any
	if f.ID != "" {
		clauses = append(clauses, "o.id=?")
		args = append(args, f.ID)
	}
	if f.Type != "" {
		clauses = append(clauses, "o.type=?")
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		clauses = append(clauses, "o.category=?")
		args = append(args, f.Category)
	}
	return strings.Join(clauses, " AND "), args
}

// ListObjectives returns hydrated objectives ordered by sort order.
func (r Repo) ListObjectives(ctx context.Context, f ObjectiveFilter) ([]domain.Objective, error) {
	return r.hydrate(ctx, r.DB, f)
}

// GetObjective returns one hydrated objective.
func (r Repo) GetObjective(ctx context.Context, id string) (domain.Objective, error) {
	objs, err := r.hydrate(ctx, r.DB, ObjectiveFilter{ID: id})
	if err != nil {
		return domain.Objective{}, err
	}
	if len(objs) == 0 {
		return domain.Objective{}, fmt.Errorf("objective %s: %w", id, ErrNotFound)
	}
	return objs[0], nil
}

// hydrate loads objectives with their key results, wins and attributions.
// Win logs of key results that are no longer win conditions stay stored but
// are not attached, so they drop out of every aggregate. A win condition's
// current value is the length of its attached log.
func (r Repo) hydrate(ctx context.Context, q queryer, f ObjectiveFilter) ([]domain.Objective, error) {
	where, args := f.where()

	rows, err := q.QueryContext(ctx, r.q(`SELECT o.id,o.title,o.type,o.status,o.category,COALESCE(o.description,''),o.initiatives_json,o.sort_order,COALESCE(o.created_by,''),o.created_at,o.updated_at
FROM objectives o WHERE `+where+` ORDER BY o.sort_order, o.created_at, o.id`), args...)
	if err != nil {
		return nil, err
	}
	objs := []domain.Objective{}
	objIdx := map[string]int{}
	for rows.Next() {
		var o domain.Objective
		var initiatives string
		if err := rows.Scan(&o.ID, &o.Title, &o.Type, &o.Status, &o.Category, &o.Description, &initiatives, &o.Order, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		o.Initiatives = decodeInitiatives(initiatives)
		o.KeyResults = []domain.KeyResult{}
		o.Wins = []domain.WinLog{}
		objIdx[o.ID] = len(objs)
		objs = append(objs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return objs, nil
	}

	rows, err = q.QueryContext(ctx, r.q(`SELECT k.id,k.objective_id,k.title,k.type,k.current_value,k.target,k.unit,k.sort_order,k.created_at,k.updated_at
FROM key_results k JOIN objectives o ON o.id=k.objective_id
WHERE k.deleted_at IS NULL AND `+where+` ORDER BY k.sort_order, k.created_at, k.id`), args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var kr domain.KeyResult
		if err := rows.Scan(&kr.ID, &kr.ObjectiveID, &kr.Title, &kr.Type, &kr.Current, &kr.Target, &kr.Unit, &kr.Order, &kr.CreatedAt, &kr.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if kr.IsWinCondition() {
			kr.WinLog = []domain.WinLog{}
		}
		i := objIdx[kr.ObjectiveID]
		objs[i].KeyResults = append(objs[i].KeyResults, kr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	type krPos struct{ obj, kr int }
	krIdx := map[string]krPos{}
	for oi := range objs {
		for ki, kr := range objs[oi].KeyResults {
			krIdx[kr.ID] = krPos{oi, ki}
		}
	}

	const winScope = ` FROM win_logs w
LEFT JOIN key_results k ON k.id=w.key_result_id
JOIN objectives o ON o.id=COALESCE(w.objective_id, k.objective_id)
WHERE w.deleted_at IS NULL AND (w.key_result_id IS NULL OR (k.deleted_at IS NULL AND k.type='win_condition')) AND `

	attributed := map[string][]string{}
	rows, err = q.QueryContext(ctx, r.q(`SELECT a.win_log_id,a.person_id FROM win_attributions a JOIN (SELECT w.id`+winScope+where+`) lw ON lw.id=a.win_log_id ORDER BY a.win_log_id, a.position`), args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var winID, personID string
		if err := rows.Scan(&winID, &personID); err != nil {
			rows.Close()
			return nil, err
		}
		attributed[winID] = append(attributed[winID], personID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, r.q(`SELECT w.id,w.note,w.logged_at,COALESCE(w.objective_id,''),COALESCE(w.key_result_id,''),COALESCE(w.created_by,'')`+winScope+where+` ORDER BY w.logged_at, w.id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var w domain.WinLog
		if err := rows.Scan(&w.ID, &w.Note, &w.Date, &w.ObjectiveID, &w.KeyResultID, &w.CreatedBy); err != nil {
			return nil, err
		}
		w.AttributedTo = attributed[w.ID]
		if w.AttributedTo == nil {
			w.AttributedTo = []string{}
		}
		if w.KeyResultID != "" {
			pos, ok := krIdx[w.KeyResultID]
			if !ok {
				continue
			}
			kr := &objs[pos.obj].KeyResults[pos.kr]
			kr.WinLog = append(kr.WinLog, w)
			continue
		}
		if i, ok := objIdx[w.ObjectiveID]; ok {
			objs[i].Wins = append(objs[i].Wins, w)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for oi := range objs {
		for ki := range objs[oi].KeyResults {
			kr := &objs[oi].KeyResults[ki]
			if kr.IsWinCondition() {
				kr.Current = float64(len(kr.WinLog))
			}
		}
	}
	return objs, nil
}

// MaxObjectiveOrder returns the highest order ever assigned within the type,
// tombstoned rows included, or -1.
func (r Repo) MaxObjectiveOrder(ctx context.Context, typ domain.ObjectiveType) (int, error) {
	var max int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COALESCE(MAX(sort_order),-1) FROM objectives WHERE type=?`), string(typ)).Scan(&max)
	return max, err
}

func (r Repo) InsertObjective(ctx context.Context, o domain.Objective, actorID string) error {
	initiatives, err := encodeInitiatives(o.Initiatives)
	if err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO objectives(id,title,type,status,category,description,initiatives_json,sort_order,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			o.ID, o.Title, string(o.Type), o.Status, o.Category, nullable(o.Description), initiatives, o.Order, nullable(o.CreatedBy), o.CreatedAt, o.UpdatedAt); err != nil {
			return fmt.Errorf("insert objective: %w", err)
		}
		return r.events().Append(ctx, tx, events.ObjectiveCreated, "objective", o.ID, actorID, events.EventPayload{
			"title": o.Title, "type": o.Type, "category": o.Category, "order": o.Order,
		})
	})
}

// UpdateObjective rewrites the editable fields. Order and children are untouched.
func (r Repo) UpdateObjective(ctx context.Context, o domain.Objective, actorID string) error {
	initiatives, err := encodeInitiatives(o.Initiatives)
	if err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE objectives SET title=?,type=?,status=?,category=?,description=?,initiatives_json=?,updated_at=? WHERE id=? AND deleted_at IS NULL`),
			o.Title, string(o.Type), o.Status, o.Category, nullable(o.Description), initiatives, o.UpdatedAt, o.ID)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "objective", o.ID); err != nil {
			return err
		}
		return r.events().Append(ctx, tx, events.ObjectiveUpdated, "objective", o.ID, actorID, events.EventPayload{
			"title": o.Title, "type": o.Type, "category": o.Category,
		})
	})
}

// DeleteObjective tombstones the objective together with its key results and wins.
func (r Repo) DeleteObjective(ctx context.Context, id, actorID string) error {
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE objectives SET deleted_at=? WHERE id=? AND deleted_at IS NULL`), now, id)
		if err != nil {
			return err
		}
		if err := affectedOrNotFound(res, "objective", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE win_logs SET deleted_at=? WHERE deleted_at IS NULL AND (objective_id=? OR key_result_id IN (SELECT id FROM key_results WHERE objective_id=?))`), now, id, id); err != nil {
			return fmt.Errorf("cascade wins: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE key_results SET deleted_at=? WHERE objective_id=? AND deleted_at IS NULL`), now, id); err != nil {
			return fmt.Errorf("cascade key results: %w", err)
		}
		return r.events().Append(ctx, tx, events.ObjectiveDeleted, "objective", id, actorID, nil)
	})
}

// UpdateObjectivesOrder writes a reorder batch. Category is only written for
// entries that carry one.
func (r Repo) UpdateObjectivesOrder(ctx context.Context, updates []domain.OrderUpdate, actorID string) error {
	if len(updates) == 0 {
		return nil
	}
	now := r.now()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			var (
				res sql.Result
				err error
			)
			if u.Category != nil {
				res, err = tx.ExecContext(ctx, r.q(`UPDATE objectives SET sort_order=?, category=?, updated_at=? WHERE id=? AND deleted_at IS NULL`), u.Order, *u.Category, now, u.ID)
			} else {
				res, err = tx.ExecContext(ctx, r.q(`UPDATE objectives SET sort_order=? WHERE id=? AND deleted_at IS NULL`), u.Order, u.ID)
			}
			if err != nil {
				return err
			}
			if err := affectedOrNotFound(res, "objective", u.ID); err != nil {
				return err
			}
		}
		return r.events().Append(ctx, tx, events.ObjectivesReorder, "objective", "", actorID, events.EventPayload{"updates": updates})
	})
}

func encodeInitiatives(in []domain.Initiative) (string, error) {
	if in == nil {
		in = []domain.Initiative{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode initiatives: %w", err)
	}
	return string(data), nil
}

// decodeInitiatives accepts the structured form and a plain string list in
// the legacy text|||url encoding.
func decodeInitiatives(raw string) []domain.Initiative {
	var structured []domain.Initiative
	if err := json.Unmarshal([]byte(raw), &structured); err == nil {
		return domain.NormalizeInitiatives(structured)
	}
	var legacy []string
	if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
		out := make([]domain.Initiative, 0, len(legacy))
		for _, s := range legacy {
			out = append(out, domain.ParseLegacyInitiative(s))
		}
		return domain.NormalizeInitiatives(out)
	}
	return []domain.Initiative{}
}
