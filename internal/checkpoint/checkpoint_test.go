package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"acctsweep/internal/domain"
)

func accounts(ids ...string) []domain.Account {
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Account{ID: id, FullName: "Name " + id, Email: id + "@x.com"})
	}
	return out
}

func recordIDs(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.UserID)
	}
	return out
}

func TestReadMissing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "cp"))
	_, err := s.Read(domain.PartitionEmployee)
	require.ErrorIs(t, err, ErrCheckpointMissing)
	require.False(t, s.Exists(domain.PartitionEmployee))
}

func TestWriteEmptyThenRead(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Write(domain.PartitionClient, nil))
	records, err := s.Read(domain.PartitionClient)
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestRepeatedWritesOverwrite(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(domain.PartitionEmployee, accounts("e1", "e3")))
	}
	records, err := s.Read(domain.PartitionEmployee)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e3"}, recordIDs(records))
	require.Equal(t, Record{UserID: "e1", FullName: "Name e1", Email: "e1@x.com", Partition: domain.PartitionEmployee}, records[0])

	require.NoError(t, s.Write(domain.PartitionEmployee, accounts("e7")))
	records, err = s.Read(domain.PartitionEmployee)
	require.NoError(t, err)
	require.Equal(t, []string{"e7"}, recordIDs(records))

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteCollapsesDuplicates(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Write(domain.PartitionClient, accounts("c1", "c2", "c1")))
	records, err := s.Read(domain.PartitionClient)
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, recordIDs(records))
}

func TestPartitionsAreIndependent(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Write(domain.PartitionEmployee, accounts("e1")))
	require.NoError(t, s.Write(domain.PartitionClient, accounts("c1", "c2")))
	require.Equal(t, filepath.Join(s.Dir, "employee.csv"), s.Path(domain.PartitionEmployee))

	emp, err := s.Read(domain.PartitionEmployee)
	require.NoError(t, err)
	require.Equal(t, []string{"e1"}, recordIDs(emp))
	cli, err := s.Read(domain.PartitionClient)
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, recordIDs(cli))
}

func TestReadToleratesBOMAndColumnOrder(t *testing.T) {
	s := New(t.TempDir())
	content := "\xEF\xBB\xBFEmail,UserId,FullName,UserType\r\nx@x.com,u9,User Nine,Employee\r\n,,,\r\n"
	require.NoError(t, os.WriteFile(s.Path(domain.PartitionEmployee), []byte(content), 0o644))
	records, err := s.Read(domain.PartitionEmployee)
	require.NoError(t, err)
	require.Equal(t, []Record{{UserID: "u9", FullName: "User Nine", Email: "x@x.com", Partition: domain.PartitionEmployee}}, records)
}

func TestReadRejectsMissingColumn(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(domain.PartitionClient), []byte("Id,Email\nc1,c@x\n"), 0o644))
	_, err := s.Read(domain.PartitionClient)
	require.Error(t, err)
}

func TestReadKeepsFieldWhitespace(t *testing.T) {
	s := New(t.TempDir())
	in := []domain.Account{
		{ID: " e1", FullName: "Ann Lee ", Email: " ann@x.com "},
		{ID: "e1", FullName: "Ann", Email: "ann@x.com"},
	}
	require.NoError(t, s.Write(domain.PartitionEmployee, in))
	records, err := s.Read(domain.PartitionEmployee)
	require.NoError(t, err)
	require.Equal(t, []Record{
		{UserID: " e1", FullName: "Ann Lee ", Email: " ann@x.com ", Partition: domain.PartitionEmployee},
		{UserID: "e1", FullName: "Ann", Email: "ann@x.com", Partition: domain.PartitionEmployee},
	}, records)
}
