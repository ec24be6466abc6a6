package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"acctsweep/internal/directory/directorytest"
	"acctsweep/internal/domain"
	"acctsweep/internal/resolver"
)

func TestResolveByEmailAndID(t *testing.T) {
	fake := directorytest.New().
		Add(domain.PartitionEmployee, "E1", "one@x.com", false).
		Add(domain.PartitionEmployee, "E9", "admin@x.com", false)
	r := resolver.New(fake, nil)

	admin, err := r.Resolve(context.Background(), "admin@x.com")
	require.NoError(t, err)
	require.Equal(t, domain.AdminIdentity{ID: "E9", Email: "admin@x.com"}, admin)

	admin, err = r.Resolve(context.Background(), "E1")
	require.NoError(t, err)
	require.Equal(t, "E1", admin.ID)
}

func TestResolvePrefersEmployee(t *testing.T) {
	fake := directorytest.New().
		Add(domain.PartitionClient, "C1", "admin@x.com", false).
		Add(domain.PartitionEmployee, "E1", "admin@x.com", false)
	r := resolver.New(fake, nil)
	for i := 0; i < 3; i++ {
		admin, err := r.Resolve(context.Background(), "admin@x.com")
		require.NoError(t, err)
		require.Equal(t, "E1", admin.ID)
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	// An email match earlier in the listing wins over a later exact id match.
	fake := directorytest.New().
		Add(domain.PartitionEmployee, "E1", "E2", false).
		Add(domain.PartitionEmployee, "E2", "two@x.com", false)
	admin, err := resolver.New(fake, nil).Resolve(context.Background(), "E2")
	require.NoError(t, err)
	require.Equal(t, "E1", admin.ID)
}

func TestResolveIsCaseSensitive(t *testing.T) {
	fake := directorytest.New().Add(domain.PartitionEmployee, "E9", "admin@x.com", false)
	_, err := resolver.New(fake, nil).Resolve(context.Background(), "Admin@X.com")
	require.ErrorIs(t, err, resolver.ErrAdminNotFound)
}

func TestResolveNotFoundUsesListingOnly(t *testing.T) {
	fake := directorytest.New().
		Add(domain.PartitionEmployee, "E1", "one@x.com", true).
		Add(domain.PartitionClient, "C1", "c@x.com", true)
	_, err := resolver.New(fake, nil).Resolve(context.Background(), "nobody@x.com")
	require.ErrorIs(t, err, resolver.ErrAdminNotFound)
	require.Len(t, fake.Calls("List"), 2)
	require.Empty(t, fake.Calls("GetDetail"))
	require.Empty(t, fake.Calls("Delete"))
}

func TestResolveListFailure(t *testing.T) {
	fake := directorytest.New()
	fake.ListErr[domain.PartitionEmployee] = errors.New("boom")
	_, err := resolver.New(fake, nil).Resolve(context.Background(), "x")
	require.Error(t, err)
	require.False(t, errors.Is(err, resolver.ErrAdminNotFound))
}

func TestResolveRequiresIdentifier(t *testing.T) {
	_, err := resolver.New(directorytest.New(), nil).Resolve(context.Background(), " ")
	require.Error(t, err)
}
