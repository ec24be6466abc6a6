// Package directorytest provides an in-memory directory that records calls.
package directorytest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"acctsweep/internal/directory"
	"acctsweep/internal/domain"
)

// Call is one recorded client call.
type Call struct {
	Method    string
	Partition domain.Partition
	ID        string
	Params    directory.DeleteParams
}

// Fake is a directory.Client backed by maps.
type Fake struct {
	mu       sync.Mutex
	accounts map[domain.Partition][]domain.Account
	deleted  map[string]bool

	// ListErr, DetailErr and DeleteErr inject failures keyed by partition or id.
	ListErr   map[domain.Partition]error
	DetailErr map[string]error
	DeleteErr map[string]error

	calls []Call
}

var _ directory.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		accounts:  map[domain.Partition][]domain.Account{},
		deleted:   map[string]bool{},
		ListErr:   map[domain.Partition]error{},
		DetailErr: map[string]error{},
		DeleteErr: map[string]error{},
	}
}

// Add registers an account in a partition, in listing order.
func (f *Fake) Add(p domain.Partition, id, email string, disabled bool) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[p] = append(f.accounts[p], domain.Account{
		ID:        id,
		FullName:  "User " + id,
		Email:     email,
		Partition: p,
		Security:  &domain.Security{IsDisabled: disabled},
	})
	return f
}

func (f *Fake) List(ctx context.Context, p domain.Partition) ([]domain.AccountRef, error) {
	f.record(Call{Method: "List", Partition: p})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.ListErr[p]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var refs []domain.AccountRef
	for _, a := range f.accounts[p] {
		if f.deleted[a.ID] {
			continue
		}
		refs = append(refs, domain.AccountRef{ID: a.ID, FullName: a.FullName, Email: a.Email})
	}
	return refs, nil
}

func (f *Fake) GetDetail(ctx context.Context, id string) (domain.Account, error) {
	f.record(Call{Method: "GetDetail", ID: id})
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DetailErr[id]; err != nil {
		return domain.Account{}, err
	}
	if a, ok := f.find(id); ok {
		a.Partition = ""
		return a, nil
	}
	return domain.Account{}, &directory.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("user %s not found", id)}
}

func (f *Fake) Delete(ctx context.Context, params directory.DeleteParams) error {
	f.record(Call{Method: "Delete", ID: params.ID, Params: params})
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DeleteErr[params.ID]; err != nil {
		return err
	}
	if _, ok := f.find(params.ID); !ok {
		return &directory.APIError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf("user %s not found", params.ID)}
	}
	f.deleted[params.ID] = true
	return nil
}

func (f *Fake) find(id string) (domain.Account, bool) {
	if f.deleted[id] {
		return domain.Account{}, false
	}
	for _, accts := range f.accounts {
		for _, a := range accts {
			if a.ID == id {
				return a, true
			}
		}
	}
	return domain.Account{}, false
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns the recorded calls of a method, or all calls for "".
func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Deleted reports whether id was deleted.
func (f *Fake) Deleted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[id]
}
