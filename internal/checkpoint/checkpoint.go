// Package checkpoint persists the disabled-account snapshot of each partition.
package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"acctsweep/internal/domain"
)

// ErrCheckpointMissing means discovery never wrote the partition's checkpoint.
var ErrCheckpointMissing = errors.New("checkpoint missing")

const ext = ".csv"

var header = []string{"UserId", "FullName", "Email", "UserType"}

// Record is the durable projection of a disabled account.
type Record struct {
	UserID    string           `json:"user_id"`
	FullName  string           `json:"full_name"`
	Email     string           `json:"email"`
	Partition domain.Partition `json:"partition"`
}

// Store keeps one CSV file per partition under Dir.
type Store struct {
	Dir string
}

func New(dir string) Store {
	return Store{Dir: dir}
}

// EnsureDir creates the checkpoint directory if missing.
func (s Store) EnsureDir() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", s.Dir, err)
	}
	return nil
}

// Path returns the checkpoint file of a partition.
func (s Store) Path(p domain.Partition) string {
	return filepath.Join(s.Dir, string(p)+ext)
}

// Exists reports whether a checkpoint was written for the partition.
func (s Store) Exists(p domain.Partition) bool {
	_, err := os.Stat(s.Path(p))
	return err == nil
}

// Write replaces the partition's checkpoint with the given accounts. The file
// is written next to its destination and renamed over it, so readers see
// either the old or the new snapshot. Duplicate ids keep the first record.
func (s Store) Write(p domain.Partition, accounts []domain.Account) (err error) {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, "."+string(p)+"-*"+ext)
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		return err
	}
	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		if err := w.Write([]string{a.ID, a.FullName, a.Email, userType(p)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", p, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.Path(p)); err != nil {
		return fmt.Errorf("replace checkpoint %s: %w", p, err)
	}
	return nil
}

// Read loads the partition's checkpoint. A checkpoint with zero records
// yields an empty slice; a partition never checkpointed yields
// ErrCheckpointMissing.
func (s Store) Read(p domain.Partition) ([]Record, error) {
	f, err := os.Open(s.Path(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointMissing, s.Path(p))
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	r.FieldsPerRecord = -1
	cols, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("checkpoint %s: empty file: no header row found", s.Path(p))
		}
		return nil, fmt.Errorf("checkpoint %s: read header: %w", s.Path(p), err)
	}
	idx := map[string]int{}
	for i, c := range cols {
		idx[strings.ToLower(strings.TrimSpace(c))] = i
	}
	if _, ok := idx["userid"]; !ok {
		return nil, fmt.Errorf("checkpoint %s: missing UserId column", s.Path(p))
	}
	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := []Record{}
	seen := map[string]bool{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", s.Path(p), err)
		}
		id := field(row, "userid")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		records = append(records, Record{
			UserID:    id,
			FullName:  field(row, "fullname"),
			Email:     field(row, "email"),
			Partition: p,
		})
	}
	return records, nil
}

func userType(p domain.Partition) string {
	switch p {
	case domain.PartitionEmployee:
		return "Employee"
	case domain.PartitionClient:
		return "Client"
	}
	return string(p)
}
