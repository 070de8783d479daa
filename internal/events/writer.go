package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	WorkOrderCreated = "work_order.created"
	WorkOrderUpdated = "work_order.updated"
	WorkOrderStatus  = "work_order.status"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
