package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the sweep pipeline.
const (
	RunStarted        = "run.started"
	AdminResolved     = "admin.resolved"
	PartitionCaptured = "partition.checkpointed"
	PartitionAborted  = "partition.aborted"
	PartitionSkipped  = "partition.skipped"
	UserDeleted       = "user.deleted"
	UserDeleteFailed  = "user.delete_failed"
	UserDeleteSkipped = "user.delete_skipped"
	RunFinished       = "run.finished"
	RunFailed         = "run.failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row for a run.
func (w Writer) Append(ctx context.Context, evtType, runID, partition, userID string, payload EventPayload) error {
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
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,partition_name,user_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, runID, nullable(partition), nullable(userID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
