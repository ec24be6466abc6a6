package server

import (
	"encoding/json"

	"acctsweep/internal/checkpoint"
	"acctsweep/internal/domain"
)

// Response payloads

type RunResponse struct {
	ID         string          `json:"id"`
	AdminID    string          `json:"admin_id"`
	AdminEmail string          `json:"admin_email,omitempty"`
	DryRun     bool            `json:"dry_run"`
	Status     string          `json:"status" enum:"running,completed,failed"`
	Error      string          `json:"error,omitempty"`
	StartedAt  string          `json:"started_at" format:"date-time"`
	FinishedAt *string         `json:"finished_at,omitempty" format:"date-time"`
	Summary    *domain.Summary `json:"summary,omitempty"`
}

type RunDetailResponse struct {
	RunResponse
	OutcomeCounts map[string]int `json:"outcome_counts"`
}

type OutcomeResponse struct {
	Partition string `json:"partition" enum:"employee,client"`
	UserID    string `json:"user_id"`
	Status    string `json:"status" enum:"succeeded,failed,skipped"`
	Class     string `json:"class,omitempty"`
	Reason    string `json:"reason,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Partition string         `json:"partition,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type CheckpointResponse struct {
	Partition string              `json:"partition" enum:"employee,client"`
	Path      string              `json:"path"`
	Exists    bool                `json:"exists"`
	Records   []checkpoint.Record `json:"records"`
}

type listRuns struct {
	Items []RunResponse `json:"items"`
}

type listOutcomes struct {
	Items []OutcomeResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func runResponse(r domain.Run) RunResponse {
	res := RunResponse{
		ID:         r.ID,
		AdminID:    r.AdminID,
		AdminEmail: r.AdminEmail,
		DryRun:     r.DryRun,
		Status:     r.Status,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Summary != nil {
		var s domain.Summary
		if err := json.Unmarshal([]byte(*r.Summary), &s); err == nil {
			res.Summary = &s
		}
	}
	return res
}

func outcomeResponse(o domain.RunOutcome) OutcomeResponse {
	return OutcomeResponse{
		Partition: o.Partition,
		UserID:    o.UserID,
		Status:    o.Status,
		Class:     o.Class,
		Reason:    o.Reason,
		TS:        o.TS,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		RunID:     e.RunID,
		Partition: e.Partition,
		UserID:    e.UserID,
		Payload:   decodeJSONMap(e.PayloadJSON),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
