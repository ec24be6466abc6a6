// Package deletion removes checkpointed accounts with reassignment to the admin.
package deletion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"acctsweep/internal/checkpoint"
	"acctsweep/internal/directory"
	"acctsweep/internal/domain"
)

type Mode string

const (
	ModeDryRun      Mode = "dry-run"
	ModeAutoConfirm Mode = "auto-confirm"
	ModeConfirm     Mode = "confirm"
)

// ConfirmFunc gates a single deletion; false declines it.
type ConfirmFunc func(ctx context.Context, req domain.DeletionRequest) (bool, error)

// Policy decides whether a request is simulated, executed, or asked about.
type Policy struct {
	Mode    Mode
	Confirm ConfirmFunc
}

func DryRun() Policy      { return Policy{Mode: ModeDryRun} }
func AutoConfirm() Policy { return Policy{Mode: ModeAutoConfirm} }

// ConfirmEach asks fn once per record.
func ConfirmEach(fn ConfirmFunc) Policy {
	return Policy{Mode: ModeConfirm, Confirm: fn}
}

func (p Policy) Validate() error {
	switch p.Mode {
	case ModeDryRun, ModeAutoConfirm:
		return nil
	case ModeConfirm:
		if p.Confirm == nil {
			return fmt.Errorf("confirm policy requires a confirmation callback")
		}
		return nil
	}
	return fmt.Errorf("unknown deletion mode %q", p.Mode)
}

type Executor struct {
	Client   directory.Client
	Observer domain.Observer
	Logger   *zap.Logger
}

func New(client directory.Client, observer domain.Observer, logger *zap.Logger) Executor {
	return Executor{Client: client, Observer: observer, Logger: logger}
}

// Execute runs one guarded deletion. Remote failures become Failed outcomes;
// they are never returned as errors.
func (e Executor) Execute(ctx context.Context, req domain.DeletionRequest, policy Policy) domain.Outcome {
	out := domain.Outcome{Request: req, Action: req.String()}
	logger := e.logger().With(zap.String("user_id", req.UserID), zap.String("partition", string(req.Partition)))

	switch policy.Mode {
	case ModeDryRun:
		out.Status = domain.OutcomeSkipped
		out.Reason = "dry-run"
		logger.Info("dry-run: would delete user", zap.String("action", out.Action))
		return out
	case ModeConfirm:
		if policy.Confirm == nil {
			out.Status = domain.OutcomeSkipped
			out.Reason = "no confirmation callback"
			return out
		}
		ok, err := policy.Confirm(ctx, req)
		if err != nil {
			out.Status = domain.OutcomeSkipped
			out.Reason = fmt.Sprintf("confirmation failed: %v", err)
			logger.Warn("confirmation failed", zap.Error(err))
			return out
		}
		if !ok {
			out.Status = domain.OutcomeSkipped
			out.Reason = "declined"
			logger.Info("deletion declined")
			return out
		}
	case ModeAutoConfirm:
	default:
		out.Status = domain.OutcomeSkipped
		out.Reason = fmt.Sprintf("unknown deletion mode %q", policy.Mode)
		return out
	}

	if err := e.Client.Delete(ctx, directory.ParamsFor(req)); err != nil {
		out.Status = domain.OutcomeFailed
		out.Reason = err.Error()
		out.Class = directory.Classify(err)
		if ctx.Err() != nil {
			out.Class = "canceled"
		}
		logger.Warn("delete failed", zap.String("class", out.Class), zap.Error(err))
		return out
	}
	out.Status = domain.OutcomeSucceeded
	logger.Info("deleted user", zap.String("reassigned_to", req.ItemsReassignTo))
	return out
}

// ExecuteBatch processes every record independently: a failed record never
// stops the batch. Only cancellation of ctx ends it early, returning the
// outcomes produced so far together with ctx.Err(). onOutcome, when set, is
// called after each record.
func (e Executor) ExecuteBatch(ctx context.Context, records []checkpoint.Record, admin domain.AdminIdentity, policy Policy, onOutcome func(domain.Outcome)) ([]domain.Outcome, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	outcomes := make([]domain.Outcome, 0, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		req := domain.NewDeletionRequest(rec.UserID, rec.Partition, admin)
		out := e.Execute(ctx, req, policy)
		outcomes = append(outcomes, out)
		if onOutcome != nil {
			onOutcome(out)
		}
		e.observer().Progress(domain.ProgressEvent{
			Phase:     domain.PhaseDelete,
			Partition: rec.Partition,
			Index:     i + 1,
			Total:     len(records),
			UserID:    rec.UserID,
		})
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (e Executor) observer() domain.Observer {
	if e.Observer != nil {
		return e.Observer
	}
	return domain.NopObserver
}

func (e Executor) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}
