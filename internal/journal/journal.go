// Package journal records sweep runs, their events and per-user outcomes in
// the workspace database.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"acctsweep/internal/domain"
	"acctsweep/internal/events"
	"acctsweep/internal/repo"
)

type Journal struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Journal {
	return Journal{
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (j Journal) now() string {
	if j.Now != nil {
		return j.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// Begin inserts the run; the admin column holds the caller's identifier until
// the admin is resolved.
func (j Journal) Begin(ctx context.Context, runID, identifier string, dryRun bool) error {
	if err := j.Repo.InsertRun(ctx, domain.Run{
		ID:        runID,
		AdminID:   identifier,
		DryRun:    dryRun,
		Status:    "running",
		StartedAt: j.now(),
	}); err != nil {
		return err
	}
	return j.Events.Append(ctx, events.RunStarted, runID, "", "", events.EventPayload{"identifier": identifier, "dry_run": dryRun})
}

func (j Journal) AdminResolved(ctx context.Context, runID string, admin domain.AdminIdentity) error {
	if err := j.Repo.SetRunAdmin(ctx, runID, admin.ID, admin.Email); err != nil {
		return err
	}
	return j.Events.Append(ctx, events.AdminResolved, runID, "", admin.ID, events.EventPayload{"email": admin.Email})
}

func (j Journal) Record(ctx context.Context, runID, evtType string, partition domain.Partition, payload map[string]any) error {
	return j.Events.Append(ctx, evtType, runID, string(partition), "", payload)
}

// Outcome stores one deletion outcome and its event.
func (j Journal) Outcome(ctx context.Context, runID string, o domain.Outcome) error {
	ts := j.now()
	if err := j.Repo.InsertOutcome(ctx, domain.RunOutcome{
		RunID:     runID,
		Partition: string(o.Request.Partition),
		UserID:    o.Request.UserID,
		Status:    string(o.Status),
		Class:     o.Class,
		Reason:    o.Reason,
		TS:        ts,
	}); err != nil {
		return err
	}
	evtType := events.UserDeleted
	switch o.Status {
	case domain.OutcomeFailed:
		evtType = events.UserDeleteFailed
	case domain.OutcomeSkipped:
		evtType = events.UserDeleteSkipped
	}
	return j.Events.Append(ctx, evtType, runID, string(o.Request.Partition), o.Request.UserID, events.EventPayload{
		"action": o.Action,
		"class":  o.Class,
		"reason": o.Reason,
	})
}

// End closes the run as completed, or failed when runErr is set.
func (j Journal) End(ctx context.Context, runID string, summary domain.Summary, runErr error) error {
	status, evtType, msg := "completed", events.RunFinished, ""
	if runErr != nil {
		status, evtType, msg = "failed", events.RunFailed, runErr.Error()
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if err := j.Repo.FinishRun(ctx, runID, status, string(data), msg, j.now()); err != nil {
		return err
	}
	payload := events.EventPayload{
		"total_disabled": summary.TotalDisabled,
		"succeeded":      summary.Succeeded,
		"failed":         summary.Failed,
		"skipped":        summary.Skipped,
	}
	if msg != "" {
		payload["error"] = msg
	}
	return j.Events.Append(ctx, evtType, runID, "", "", payload)
}
