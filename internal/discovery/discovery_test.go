package discovery_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"acctsweep/internal/directory/directorytest"
	"acctsweep/internal/discovery"
	"acctsweep/internal/domain"
)

func ids(accounts []domain.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.ID)
	}
	return out
}

func TestEnumerateKeepsListingOrder(t *testing.T) {
	fake := directorytest.New()
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5", "e6"} {
		fake.Add(domain.PartitionEmployee, id, id+"@x.com", id == "e2" || id == "e5")
	}
	var (
		mu     sync.Mutex
		events []domain.ProgressEvent
	)
	obs := domain.ObserverFunc(func(e domain.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	en := discovery.New(fake, 3, obs, nil)

	accounts, err := en.Enumerate(context.Background(), domain.PartitionEmployee)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2", "e3", "e4", "e5", "e6"}, ids(accounts))
	for _, a := range accounts {
		require.Equal(t, domain.PartitionEmployee, a.Partition)
	}
	require.Len(t, fake.Calls("GetDetail"), 6)
	require.Len(t, events, 6)
	for i, e := range events {
		require.Equal(t, i+1, e.Index)
		require.Equal(t, 6, e.Total)
		require.Equal(t, domain.PhaseDiscover, e.Phase)
	}
}

func TestEnumerateAbortsPartitionOnFetchFailure(t *testing.T) {
	fake := directorytest.New().
		Add(domain.PartitionClient, "c1", "c1@x.com", true).
		Add(domain.PartitionClient, "c2", "c2@x.com", true)
	fake.DetailErr["c2"] = errors.New("connection reset")

	accounts, err := discovery.New(fake, 1, nil, nil).Enumerate(context.Background(), domain.PartitionClient)
	require.Error(t, err)
	require.ErrorIs(t, err, discovery.ErrPartitionAborted)
	require.Nil(t, accounts)
}

func TestEnumerateListFailure(t *testing.T) {
	fake := directorytest.New()
	fake.ListErr[domain.PartitionEmployee] = errors.New("unauthorized")
	_, err := discovery.New(fake, 2, nil, nil).Enumerate(context.Background(), domain.PartitionEmployee)
	require.ErrorIs(t, err, discovery.ErrPartitionAborted)
	require.Empty(t, fake.Calls("GetDetail"))
}

func TestEnumerateEmptyPartition(t *testing.T) {
	accounts, err := discovery.New(directorytest.New(), 0, nil, nil).Enumerate(context.Background(), domain.PartitionClient)
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestFilterExcludesEnabled(t *testing.T) {
	accounts := []domain.Account{
		{ID: "a", Security: &domain.Security{IsDisabled: true}},
		{ID: "b", Security: &domain.Security{IsDisabled: false}},
		{ID: "c"},
		{ID: "d", Security: &domain.Security{IsDisabled: true, IsLocked: true}},
		{ID: "e", Security: &domain.Security{IsLocked: true}},
	}
	got := discovery.FilterDisabled(accounts)
	require.Equal(t, []string{"a", "d"}, ids(got))
	for _, a := range accounts {
		if !a.Disabled() {
			require.False(t, discovery.IsDisabled(a))
		}
	}
}
