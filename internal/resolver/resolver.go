// Package resolver finds the administrator that inherits deleted users' data.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"acctsweep/internal/directory"
	"acctsweep/internal/domain"
)

// ErrAdminNotFound means no account in any partition matched the identifier.
var ErrAdminNotFound = errors.New("admin not found")

type Resolver struct {
	Client directory.Client
	Logger *zap.Logger
}

func New(client directory.Client, logger *zap.Logger) Resolver {
	return Resolver{Client: client, Logger: logger}
}

// Resolve returns the first account whose id or email equals identifier,
// scanning Employee before Client and each partition in listing order.
// Matching is exact and case-sensitive; when several accounts match, the
// first one in that order wins.
func (r Resolver) Resolve(ctx context.Context, identifier string) (domain.AdminIdentity, error) {
	if strings.TrimSpace(identifier) == "" {
		return domain.AdminIdentity{}, fmt.Errorf("admin identifier is required")
	}
	for _, p := range domain.Partitions() {
		refs, err := r.Client.List(ctx, p)
		if err != nil {
			return domain.AdminIdentity{}, fmt.Errorf("resolve admin: list %s: %w", p, err)
		}
		for _, ref := range refs {
			if ref.ID == identifier || ref.Email == identifier {
				admin := domain.AdminIdentity{ID: ref.ID, Email: ref.Email}
				r.logger().Info("resolved admin",
					zap.String("admin_id", admin.ID),
					zap.String("admin_email", admin.Email),
					zap.String("partition", string(p)))
				return admin, nil
			}
		}
	}
	return domain.AdminIdentity{}, fmt.Errorf("%w: %q matches no employee or client account", ErrAdminNotFound, identifier)
}

func (r Resolver) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
