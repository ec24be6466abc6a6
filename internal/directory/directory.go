// Package directory is the capability surface of the remote account directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"acctsweep/internal/domain"
)

// Client is what the sweep pipeline needs from the remote directory.
type Client interface {
	// List returns lightweight references of every account in a partition.
	List(ctx context.Context, partition domain.Partition) ([]domain.AccountRef, error)
	// GetDetail fetches one account with its security attribute expanded.
	GetDetail(ctx context.Context, id string) (domain.Account, error)
	// Delete removes an account, reassigning its items and groups.
	Delete(ctx context.Context, params DeleteParams) error
}

// DeleteParams are the query parameters of a delete call.
type DeleteParams struct {
	ID               string
	ItemsReassignTo  string
	GroupsReassignTo string
	Completely       bool
}

// ParamsFor converts a deletion request into client parameters.
func ParamsFor(req domain.DeletionRequest) DeleteParams {
	return DeleteParams{
		ID:               req.UserID,
		ItemsReassignTo:  req.ItemsReassignTo,
		GroupsReassignTo: req.GroupsReassignTo,
		Completely:       req.Completely,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrNotFound matches API errors with status 404.
var ErrNotFound = errors.New("directory: not found")

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Classify buckets a remote failure for reporting.
func Classify(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &apiErr):
		return "rejected"
	default:
		return "transport"
	}
}
