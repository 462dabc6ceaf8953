package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends lifecycle events inside the caller's transaction so the
// audit entry commits or rolls back with the mutation it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

// Entity optionally links an event to a concrete row, e.g. the instruction
// an action produced.
type Entity struct {
	Type string
	ID   string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, actionType, recordID, userEmail string, entity *Entity, details Details) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	var entityType, entityID any
	if entity != nil {
		entityType, entityID = entity.Type, entity.ID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO lifecycle_events(record_id,action_type,ts,user_email,entity_type,entity_id,details) VALUES (?,?,?,?,?,?,?)`,
		recordID, actionType, ts, nullable(userEmail), entityType, entityID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
