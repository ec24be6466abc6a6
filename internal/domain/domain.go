package domain

import (
	"fmt"
	"strings"
)

// Partition is one of the two account categories of the directory.
type Partition string

const (
	PartitionEmployee Partition = "employee"
	PartitionClient   Partition = "client"
)

// Partitions returns all partitions in the fixed processing order.
func Partitions() []Partition {
	return []Partition{PartitionEmployee, PartitionClient}
}

// ParsePartition accepts the partition name case-insensitively.
func ParsePartition(s string) (Partition, error) {
	switch Partition(strings.ToLower(strings.TrimSpace(s))) {
	case PartitionEmployee:
		return PartitionEmployee, nil
	case PartitionClient:
		return PartitionClient, nil
	}
	return "", fmt.Errorf("invalid partition %q (employee, client)", s)
}

// Security is the expanded security attribute of an account.
type Security struct {
	IsDisabled bool `json:"is_disabled"`
	IsLocked   bool `json:"is_locked"`
}

// AccountRef is the lightweight listing entry of an account.
type AccountRef struct {
	ID       string `json:"id"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
}

type Account struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Partition Partition `json:"partition" enum:"employee,client"`
	Security  *Security `json:"security,omitempty"`
}

// Disabled reports the security flag; accounts fetched without expanded
// security are never considered disabled.
func (a Account) Disabled() bool {
	return a.Security != nil && a.Security.IsDisabled
}

// AdminIdentity is the account inheriting items and groups of deleted users.
type AdminIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type DeletionRequest struct {
	UserID           string    `json:"user_id"`
	Partition        Partition `json:"partition"`
	ItemsReassignTo  string    `json:"items_reassign_to"`
	GroupsReassignTo string    `json:"groups_reassign_to"`
	Completely       bool      `json:"completely"`
}

// NewDeletionRequest reassigns both items and groups to the admin.
func NewDeletionRequest(userID string, partition Partition, admin AdminIdentity) DeletionRequest {
	return DeletionRequest{
		UserID:           userID,
		Partition:        partition,
		ItemsReassignTo:  admin.ID,
		GroupsReassignTo: admin.ID,
		Completely:       true,
	}
}

func (r DeletionRequest) String() string {
	return fmt.Sprintf("delete user %s (completely=%t, itemsReassignTo=%s, groupsReassignTo=%s)",
		r.UserID, r.Completely, r.ItemsReassignTo, r.GroupsReassignTo)
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Outcome is the result of one deletion request.
type Outcome struct {
	Request DeletionRequest `json:"request"`
	Status  OutcomeStatus   `json:"status" enum:"succeeded,failed,skipped"`
	Reason  string          `json:"reason,omitempty"`
	Class   string          `json:"class,omitempty"`
	Action  string          `json:"action,omitempty"`
}

// PartitionSummary holds the counters of one partition.
type PartitionSummary struct {
	Partition Partition `json:"partition"`
	Disabled  int       `json:"disabled"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Aborted   bool      `json:"aborted"`
	Warning   string    `json:"warning,omitempty"`
}

// Summary is produced once per run.
type Summary struct {
	RunID         string             `json:"run_id"`
	Admin         AdminIdentity      `json:"admin"`
	DryRun        bool               `json:"dry_run"`
	Partitions    []PartitionSummary `json:"partitions"`
	TotalDisabled int                `json:"total_disabled"`
	Succeeded     int                `json:"succeeded"`
	Failed        int                `json:"failed"`
	Skipped       int                `json:"skipped"`
	DeletionRan   bool               `json:"deletion_ran"`
}

// Run is a journaled run.
type Run struct {
	ID         string  `json:"id"`
	AdminID    string  `json:"admin_id"`
	AdminEmail string  `json:"admin_email"`
	DryRun     bool    `json:"dry_run"`
	Status     string  `json:"status" enum:"running,completed,failed"`
	Summary    *string `json:"summary_json,omitempty"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
}

// RunOutcome is one journaled deletion outcome.
type RunOutcome struct {
	RunID     string `json:"run_id"`
	Partition string `json:"partition"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Class     string `json:"class,omitempty"`
	Reason    string `json:"reason,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	RunID       string `json:"run_id"`
	Partition   string `json:"partition,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	PayloadJSON string `json:"payload_json"`
}

type Phase string

const (
	PhaseResolve  Phase = "resolve"
	PhaseDiscover Phase = "discover"
	PhaseDelete   Phase = "delete"
)

// ProgressEvent reports that item Index (1-based) of Total was processed.
type ProgressEvent struct {
	Phase     Phase     `json:"phase"`
	Partition Partition `json:"partition"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	UserID    string    `json:"user_id,omitempty"`
}

// Observer receives progress events.
type Observer interface {
	Progress(ProgressEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ProgressEvent)

func (f ObserverFunc) Progress(e ProgressEvent) { f(e) }

// NopObserver discards events.
var NopObserver Observer = ObserverFunc(func(ProgressEvent) {})
