// Package discovery walks directory partitions and selects disabled accounts.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"acctsweep/internal/directory"
	"acctsweep/internal/domain"
)

// ErrPartitionAborted marks a partition whose snapshot could not be completed.
var ErrPartitionAborted = errors.New("partition aborted")

const defaultConcurrency = 4

// Enumerator yields full account records of a partition.
type Enumerator struct {
	Client directory.Client
	// Concurrency bounds parallel detail fetches.
	Concurrency int
	Observer    domain.Observer
	Logger      *zap.Logger
}

func New(client directory.Client, concurrency int, observer domain.Observer, logger *zap.Logger) Enumerator {
	return Enumerator{Client: client, Concurrency: concurrency, Observer: observer, Logger: logger}
}

// Enumerate lists the partition and fetches every account's detail. Results
// keep the listing order. Any failed fetch aborts the whole partition, since a
// partial disabled set must never be checkpointed as complete.
func (e Enumerator) Enumerate(ctx context.Context, partition domain.Partition) ([]domain.Account, error) {
	logger := e.logger().With(zap.String("partition", string(partition)))
	refs, err := e.Client.List(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPartitionAborted, partition, err)
	}
	logger.Debug("listed accounts", zap.Int("count", len(refs)))

	limit := e.Concurrency
	if limit < 1 {
		limit = defaultConcurrency
	}
	accounts := make([]domain.Account, len(refs))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			acct, err := e.Client.GetDetail(gctx, ref.ID)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ref.ID, err)
			}
			acct.Partition = partition
			if acct.ID == "" {
				acct.ID = ref.ID
			}
			accounts[i] = acct

			mu.Lock()
			done++
			e.observer().Progress(domain.ProgressEvent{
				Phase:     domain.PhaseDiscover,
				Partition: partition,
				Index:     done,
				Total:     len(refs),
				UserID:    acct.ID,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("partition enumeration aborted", zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrPartitionAborted, partition, err)
	}
	return accounts, nil
}

func (e Enumerator) observer() domain.Observer {
	if e.Observer != nil {
		return e.Observer
	}
	return domain.NopObserver
}

func (e Enumerator) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// IsDisabled reports whether the account belongs to the disabled set.
func IsDisabled(a domain.Account) bool {
	return a.Disabled()
}

// FilterDisabled keeps the disabled accounts, preserving order.
func FilterDisabled(accounts []domain.Account) []domain.Account {
	out := make([]domain.Account, 0, len(accounts))
	for _, a := range accounts {
		if IsDisabled(a) {
			out = append(out, a)
		}
	}
	return out
}
