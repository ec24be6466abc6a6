// Package engine sequences admin resolution, discovery, checkpointing and
// deletion into one sweep run.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"acctsweep/internal/checkpoint"
	"acctsweep/internal/deletion"
	"acctsweep/internal/directory"
	"acctsweep/internal/discovery"
	"acctsweep/internal/domain"
	"acctsweep/internal/events"
	"acctsweep/internal/resolver"
)

// Journal persists run history. Its failures are logged, never fatal.
type Journal interface {
	Begin(ctx context.Context, runID, identifier string, dryRun bool) error
	AdminResolved(ctx context.Context, runID string, admin domain.AdminIdentity) error
	Record(ctx context.Context, runID, evtType string, partition domain.Partition, payload map[string]any) error
	Outcome(ctx context.Context, runID string, o domain.Outcome) error
	End(ctx context.Context, runID string, summary domain.Summary, runErr error) error
}

type Engine struct {
	Client      directory.Client
	Store       checkpoint.Store
	Concurrency int
	Observer    domain.Observer
	Journal     Journal
	Logger      *zap.Logger
	NewID       func() string
}

func New(client directory.Client, store checkpoint.Store, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		Client: client,
		Store:  store,
		Logger: logger,
		NewID:  uuid.NewString,
	}
}

// RunOptions are parameters of a sweep run.
type RunOptions struct {
	AdminIdentifier string
	Policy          deletion.Policy
	// SkipDiscovery resumes from existing checkpoints.
	SkipDiscovery bool
}

// Run executes one sweep. The returned error is set only for conditions that
// must abort the run: unresolved admin, checkpoint I/O failure, invalid
// options or cancellation. Per-partition discovery failures and per-user
// deletion failures are reported in the summary instead.
func (e Engine) Run(ctx context.Context, opts RunOptions) (summary domain.Summary, err error) {
	runID := e.newID()
	summary = domain.Summary{RunID: runID, DryRun: opts.Policy.Mode == deletion.ModeDryRun}
	logger := e.logger().With(zap.String("run_id", runID))
	if err := opts.Policy.Validate(); err != nil {
		return summary, err
	}

	// Journal writes outlive cancellation so the audit trail matches the summary.
	jctx := context.WithoutCancel(ctx)
	e.journal(logger, "begin", func(j Journal) error {
		return j.Begin(jctx, runID, opts.AdminIdentifier, summary.DryRun)
	})
	defer func() {
		finalize(&summary)
		e.journal(logger, "end", func(j Journal) error {
			return j.End(jctx, runID, summary, err)
		})
	}()

	admin, err := resolver.New(e.Client, logger).Resolve(ctx, opts.AdminIdentifier)
	if err != nil {
		logger.Error("admin resolution failed", zap.Error(err))
		return summary, err
	}
	summary.Admin = admin
	e.journal(logger, "admin", func(j Journal) error { return j.AdminResolved(jctx, runID, admin) })

	parts := make(map[domain.Partition]*domain.PartitionSummary, len(domain.Partitions()))
	for _, p := range domain.Partitions() {
		summary.Partitions = append(summary.Partitions, domain.PartitionSummary{Partition: p})
	}
	for i := range summary.Partitions {
		parts[summary.Partitions[i].Partition] = &summary.Partitions[i]
	}

	if opts.SkipDiscovery {
		err = e.countCheckpoints(ctx, runID, logger, parts)
	} else {
		err = e.discover(ctx, runID, logger, parts)
	}
	if err != nil {
		return summary, err
	}

	finalize(&summary)
	if summary.TotalDisabled == 0 {
		logger.Info("no disabled accounts found; nothing to delete")
		return summary, nil
	}

	summary.DeletionRan = true
	executor := deletion.New(e.Client, e.Observer, logger)
	for _, p := range domain.Partitions() {
		ps := parts[p]
		if ps.Aborted {
			continue
		}
		records, err := e.Store.Read(p)
		if err != nil {
			if errors.Is(err, checkpoint.ErrCheckpointMissing) {
				ps.Warning = err.Error()
				logger.Warn("checkpoint missing, partition skipped", zap.String("partition", string(p)))
				continue
			}
			return summary, fmt.Errorf("read checkpoint %s: %w", p, err)
		}
		logger.Info("deleting disabled accounts", zap.String("partition", string(p)), zap.Int("count", len(records)), zap.String("admin_id", admin.ID))
		_, err = executor.ExecuteBatch(ctx, records, admin, opts.Policy, func(o domain.Outcome) {
			switch o.Status {
			case domain.OutcomeSucceeded:
				ps.Succeeded++
			case domain.OutcomeFailed:
				ps.Failed++
			case domain.OutcomeSkipped:
				ps.Skipped++
			}
			e.journal(logger, "outcome", func(j Journal) error { return j.Outcome(jctx, runID, o) })
		})
		if err != nil {
			logger.Warn("deletion phase interrupted", zap.String("partition", string(p)), zap.Error(err))
			return summary, err
		}
	}
	finalize(&summary)
	logger.Info("sweep finished",
		zap.Int("total_disabled", summary.TotalDisabled),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

// discover enumerates every partition and writes its checkpoint. A partition
// whose enumeration fails keeps its previous checkpoint and is marked aborted.
func (e Engine) discover(ctx context.Context, runID string, logger *zap.Logger, parts map[domain.Partition]*domain.PartitionSummary) error {
	if err := e.Store.EnsureDir(); err != nil {
		return err
	}
	enumerator := discovery.New(e.Client, e.Concurrency, e.Observer, logger)
	for _, p := range domain.Partitions() {
		ps := parts[p]
		accounts, err := enumerator.Enumerate(ctx, p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			ps.Aborted = true
			ps.Warning = err.Error()
			logger.Warn("discovery aborted, checkpoint not written", zap.String("partition", string(p)), zap.Error(err))
			e.journal(logger, "partition", func(j Journal) error {
				return j.Record(context.WithoutCancel(ctx), runID, events.PartitionAborted, p, map[string]any{"error": err.Error()})
			})
			continue
		}
		disabled := discovery.FilterDisabled(accounts)
		if err := e.Store.Write(p, disabled); err != nil {
			return fmt.Errorf("write checkpoint %s: %w", p, err)
		}
		ps.Disabled = len(disabled)
		logger.Info("checkpoint written",
			zap.String("partition", string(p)),
			zap.Int("accounts", len(accounts)),
			zap.Int("disabled", ps.Disabled),
			zap.String("path", e.Store.Path(p)))
		e.journal(logger, "partition", func(j Journal) error {
			return j.Record(context.WithoutCancel(ctx), runID, events.PartitionCaptured, p, map[string]any{
				"accounts": len(accounts),
				"disabled": ps.Disabled,
				"path":     e.Store.Path(p),
			})
		})
	}
	return nil
}

// countCheckpoints sizes the deletion phase from existing checkpoints.
func (e Engine) countCheckpoints(ctx context.Context, runID string, logger *zap.Logger, parts map[domain.Partition]*domain.PartitionSummary) error {
	for _, p := range domain.Partitions() {
		ps := parts[p]
		records, err := e.Store.Read(p)
		if err != nil {
			if errors.Is(err, checkpoint.ErrCheckpointMissing) {
				ps.Aborted = true
				ps.Warning = err.Error()
				logger.Warn("no checkpoint to resume from", zap.String("partition", string(p)))
				e.journal(logger, "partition", func(j Journal) error {
					return j.Record(context.WithoutCancel(ctx), runID, events.PartitionSkipped, p, map[string]any{"error": err.Error()})
				})
				continue
			}
			return fmt.Errorf("read checkpoint %s: %w", p, err)
		}
		ps.Disabled = len(records)
	}
	return nil
}

func finalize(s *domain.Summary) {
	s.TotalDisabled, s.Succeeded, s.Failed, s.Skipped = 0, 0, 0, 0
	for _, ps := range s.Partitions {
		s.TotalDisabled += ps.Disabled
		s.Succeeded += ps.Succeeded
		s.Failed += ps.Failed
		s.Skipped += ps.Skipped
	}
}

func (e Engine) journal(logger *zap.Logger, step string, fn func(Journal) error) {
	if e.Journal == nil {
		return
	}
	if err := fn(e.Journal); err != nil {
		logger.Warn("journal write failed", zap.String("step", step), zap.Error(err))
	}
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}
