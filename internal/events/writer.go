// Package events appends activity rows in the caller's transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"frequency/internal/db"
)

// Event types written by the store.
const (
	ObjectiveCreated   = "objective.created"
	ObjectiveUpdated   = "objective.updated"
	ObjectiveDeleted   = "objective.deleted"
	ObjectivesReorder  = "objectives.reordered"
	KeyResultCreated   = "key_result.created"
	KeyResultUpdated   = "key_result.updated"
	KeyResultProgress  = "key_result.progress"
	KeyResultDeleted   = "key_result.deleted"
	KeyResultsReorder  = "key_results.reordered"
	WinLogged          = "win.logged"
	WinDeleted         = "win.deleted"
	PersonCreated      = "person.created"
	PersonDeleted      = "person.deleted"
	CategoryCreated    = "category.created"
	CategoryDeleted    = "category.deleted"
	CategoriesReorder  = "categories.reordered"
	UserCreated        = "user.created"
	APIKeyCreated      = "api_key.created"
	APIKeyRevoked      = "api_key.revoked"
	WorkspaceConfigSet = "workspace.config_updated"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
