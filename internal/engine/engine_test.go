package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"acctsweep/internal/checkpoint"
	"acctsweep/internal/db"
	"acctsweep/internal/deletion"
	"acctsweep/internal/directory"
	"acctsweep/internal/directory/directorytest"
	"acctsweep/internal/domain"
	"acctsweep/internal/engine"
	"acctsweep/internal/journal"
	"acctsweep/internal/migrate"
	"acctsweep/internal/repo"
	"acctsweep/internal/resolver"
)

type testEnv struct {
	Engine engine.Engine
	Fake   *directorytest.Fake
	Store  checkpoint.Store
	Ctx    context.Context
}

func newTestEnv(t *testing.T, fake *directorytest.Fake) testEnv {
	t.Helper()
	store := checkpoint.New(filepath.Join(t.TempDir(), "checkpoints"))
	eng := engine.New(fake, store, nil)
	eng.Concurrency = 2
	eng.NewID = func() string { return "run-1" }
	return testEnv{Engine: eng, Fake: fake, Store: store, Ctx: context.Background()}
}

// scenarioDirectory holds E1 (disabled), E2, E3 (disabled), admin E9 and
// clients C1, C2 (disabled).
func scenarioDirectory() *directorytest.Fake {
	return directorytest.New().
		Add(domain.PartitionEmployee, "E1", "e1@x.com", true).
		Add(domain.PartitionEmployee, "E2", "e2@x.com", false).
		Add(domain.PartitionEmployee, "E3", "e3@x.com", true).
		Add(domain.PartitionEmployee, "E9", "admin@x.com", false).
		Add(domain.PartitionClient, "C1", "c1@x.com", false).
		Add(domain.PartitionClient, "C2", "c2@x.com", true)
}

func checkpointIDs(t *testing.T, s checkpoint.Store, p domain.Partition) []string {
	t.Helper()
	records, err := s.Read(p)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	return ids
}

func TestEndToEndLiveRun(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm()})
	require.NoError(t, err)

	require.Equal(t, []string{"E1", "E3"}, checkpointIDs(t, env.Store, domain.PartitionEmployee))
	require.Equal(t, []string{"C2"}, checkpointIDs(t, env.Store, domain.PartitionClient))
	require.Equal(t, domain.AdminIdentity{ID: "E9", Email: "admin@x.com"}, summary.Admin)

	calls := env.Fake.Calls("Delete")
	require.Len(t, calls, 3)
	var deleted []string
	for _, c := range calls {
		deleted = append(deleted, c.ID)
		require.Equal(t, directory.DeleteParams{ID: c.ID, ItemsReassignTo: "E9", GroupsReassignTo: "E9", Completely: true}, c.Params)
	}
	require.Equal(t, []string{"E1", "E3", "C2"}, deleted)

	require.True(t, summary.DeletionRan)
	require.Equal(t, 3, summary.TotalDisabled)
	require.Equal(t, 3, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, []domain.PartitionSummary{
		{Partition: domain.PartitionEmployee, Disabled: 2, Succeeded: 2},
		{Partition: domain.PartitionClient, Disabled: 1, Succeeded: 1},
	}, summary.Partitions)
}

func TestDryRunWritesCheckpointsButDeletesNothing(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "E9", Policy: deletion.DryRun()})
	require.NoError(t, err)
	require.True(t, summary.DryRun)
	require.Empty(t, env.Fake.Calls("Delete"))
	require.Equal(t, 3, summary.Skipped)
	require.Equal(t, 0, summary.Succeeded)
	require.Equal(t, []string{"C2"}, checkpointIDs(t, env.Store, domain.PartitionClient))
}

func TestZeroDisabledWritesEmptyCheckpoints(t *testing.T) {
	fake := directorytest.New().
		Add(domain.PartitionEmployee, "E9", "admin@x.com", false).
		Add(domain.PartitionClient, "C1", "c1@x.com", false)
	env := newTestEnv(t, fake)
	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm()})
	require.NoError(t, err)
	require.Equal(t, 0, summary.TotalDisabled)
	require.False(t, summary.DeletionRan)
	require.Empty(t, env.Fake.Calls("Delete"))
	require.Empty(t, checkpointIDs(t, env.Store, domain.PartitionEmployee))
	require.Empty(t, checkpointIDs(t, env.Store, domain.PartitionClient))
}

func TestAdminNotFoundAbortsBeforeDiscovery(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	_, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "nobody@x.com", Policy: deletion.AutoConfirm()})
	require.ErrorIs(t, err, resolver.ErrAdminNotFound)
	require.Empty(t, env.Fake.Calls("GetDetail"))
	require.Empty(t, env.Fake.Calls("Delete"))
	require.False(t, env.Store.Exists(domain.PartitionEmployee))
	require.False(t, env.Store.Exists(domain.PartitionClient))
}

func TestPartitionAbortKeepsOtherPartition(t *testing.T) {
	fake := scenarioDirectory()
	fake.DetailErr["C1"] = errors.New("timeout")
	env := newTestEnv(t, fake)
	// A stale client checkpoint from an earlier run must not be consumed.
	require.NoError(t, env.Store.Write(domain.PartitionClient, []domain.Account{{ID: "OLD"}}))

	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm()})
	require.NoError(t, err)
	require.True(t, summary.Partitions[1].Aborted)
	require.NotEmpty(t, summary.Partitions[1].Warning)
	require.Equal(t, []string{"OLD"}, checkpointIDs(t, env.Store, domain.PartitionClient))
	require.Equal(t, 2, summary.Succeeded)
	for _, c := range env.Fake.Calls("Delete") {
		require.NotEqual(t, "OLD", c.ID)
		require.NotEqual(t, "C2", c.ID)
	}
}

func TestPerUserFailureIsNotFatal(t *testing.T) {
	fake := scenarioDirectory()
	fake.DeleteErr["E3"] = errors.New("connection reset")
	env := newTestEnv(t, fake)
	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm()})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, env.Fake.Calls("Delete"), 3)
}

func TestResumeFromCheckpoints(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	_, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.DryRun()})
	require.NoError(t, err)
	detailCalls := len(env.Fake.Calls("GetDetail"))

	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm(), SkipDiscovery: true})
	require.NoError(t, err)
	require.Equal(t, detailCalls, len(env.Fake.Calls("GetDetail")))
	require.Equal(t, 3, summary.Succeeded)

	// A second resume hits accounts that are already gone.
	summary, err = env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm(), SkipDiscovery: true})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Succeeded)
	require.Equal(t, 3, summary.Failed)
}

func TestResumeWithoutCheckpoints(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	summary, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm(), SkipDiscovery: true})
	require.NoError(t, err)
	require.False(t, summary.DeletionRan)
	require.True(t, summary.Partitions[0].Aborted)
	require.Empty(t, env.Fake.Calls("Delete"))
}

func TestCancellationDuringDeletion(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(env.Ctx, conn))
	env.Engine.Journal = journal.New(conn)

	ctx, cancel := context.WithCancel(env.Ctx)
	policy := deletion.ConfirmEach(func(_ context.Context, req domain.DeletionRequest) (bool, error) {
		if req.UserID == "E3" {
			cancel()
			return false, nil
		}
		return true, nil
	})
	summary, err := env.Engine.Run(ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: policy})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Skipped)
	require.False(t, env.Fake.Deleted("C2"))
	require.Equal(t, []string{"C2"}, checkpointIDs(t, env.Store, domain.PartitionClient))

	// The record in flight at cancellation is still journaled.
	r := repo.Repo{DB: conn}
	counts, err := r.CountOutcomes(env.Ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"succeeded": summary.Succeeded, "skipped": summary.Skipped}, counts)
	run, err := r.GetRun(env.Ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "failed", run.Status)
	require.Equal(t, "E9", run.AdminID)
}

func TestCheckpointDirFailureIsFatal(t *testing.T) {
	fake := scenarioDirectory()
	env := newTestEnv(t, fake)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	env.Engine.Store = checkpoint.New(filepath.Join(file, "sub"))
	_, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm()})
	require.Error(t, err)
	require.Empty(t, fake.Calls("Delete"))
}

func TestObserverReceivesBothPhases(t *testing.T) {
	env := newTestEnv(t, scenarioDirectory())
	phases := map[domain.Phase]int{}
	env.Engine.Observer = domain.ObserverFunc(func(e domain.ProgressEvent) { phases[e.Phase]++ })
	env.Engine.Concurrency = 1
	_, err := env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.DryRun()})
	require.NoError(t, err)
	require.Equal(t, 6, phases[domain.PhaseDiscover])
	require.Equal(t, 3, phases[domain.PhaseDelete])
}

func TestJournalRecordsRun(t *testing.T) {
	fake := scenarioDirectory()
	fake.DeleteErr["C2"] = errors.New("boom")
	env := newTestEnv(t, fake)
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(env.Ctx, conn))
	env.Engine.Journal = journal.New(conn)

	_, err = env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "admin@x.com", Policy: deletion.AutoConfirm()})
	require.NoError(t, err)

	r := repo.Repo{DB: conn}
	run, err := r.GetRun(env.Ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "completed", run.Status)
	require.Equal(t, "E9", run.AdminID)
	require.NotNil(t, run.Summary)
	counts, err := r.CountOutcomes(env.Ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"succeeded": 2, "failed": 1}, counts)
	evts, err := r.RunEvents(env.Ctx, "run-1", 100, 0, "")
	require.NoError(t, err)
	require.Equal(t, "run.started", evts[0].Type)
	require.Equal(t, "run.finished", evts[len(evts)-1].Type)

	env.Engine.NewID = func() string { return "run-2" }
	_, err = env.Engine.Run(env.Ctx, engine.RunOptions{AdminIdentifier: "ghost", Policy: deletion.AutoConfirm()})
	require.Error(t, err)
	failed, err := r.GetRun(env.Ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, "failed", failed.Status)
	require.Contains(t, failed.Error, "admin not found")
}
