package repositories

import (
	"context"
	"errors"

	domain "github.com/feastline/checkout/internal/domain"
)

// RepositoryError classifies persistence failures without exposing the
// backing store's error types.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err represents a conflicting update.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err represents a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// AddressRepository persists the per-user delivery-address selection and the
// saved-address list. The selection is the only record the checkout core
// writes; the saved list is owned by the profile surface and read here.
type AddressRepository interface {
	SelectedAddress(ctx context.Context, userID string) (domain.DeliveryAddress, error)
	SaveSelected(ctx context.Context, userID string, addr domain.DeliveryAddress) error
	ListSaved(ctx context.Context, userID string) ([]domain.DeliveryAddress, error)
}
