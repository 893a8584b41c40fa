package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/feastline/checkout/internal/domain"
	pfirestore "github.com/feastline/checkout/internal/platform/firestore"
	"github.com/feastline/checkout/internal/repositories"
)

const (
	savedAddressPattern    = "users/%s/addresses"
	selectedAddressPattern = "users/%s/checkout"
	selectedAddressDocID   = "selectedAddress"
)

// AddressRepository persists the delivery-address selection in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// SelectedAddress returns the address selected during the user's last
// checkout session.
func (r *AddressRepository) SelectedAddress(ctx context.Context, userID string) (domain.DeliveryAddress, error) {
	repo, err := r.selectionRepo(userID)
	if err != nil {
		return domain.DeliveryAddress{}, err
	}

	doc, err := repo.Get(ctx, selectedAddressDocID)
	if err != nil {
		return domain.DeliveryAddress{}, err
	}
	return doc.Data.toDomain(), nil
}

// SaveSelected records addr as the selection for the next session. Writing
// the selection never mutates the saved-address list, which the profile
// surface owns.
func (r *AddressRepository) SaveSelected(ctx context.Context, userID string, addr domain.DeliveryAddress) error {
	repo, err := r.selectionRepo(userID)
	if err != nil {
		return err
	}

	doc := toAddressDocument(addr)
	doc.UpdatedAt = time.Now().UTC()
	_, err = repo.Set(ctx, selectedAddressDocID, doc)
	return err
}

// ListSaved returns the user's saved addresses ordered by most recent update.
func (r *AddressRepository) ListSaved(ctx context.Context, userID string) ([]domain.DeliveryAddress, error) {
	repo, err := r.savedRepo(userID)
	if err != nil {
		return nil, err
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("updatedAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	results := make([]domain.DeliveryAddress, 0, len(docs))
	for _, doc := range docs {
		results = append(results, doc.Data.toDomain())
	}
	return results, nil
}

func (r *AddressRepository) selectionRepo(userID string) (*pfirestore.BaseRepository[addressDocument], error) {
	uid, err := r.validUser(userID)
	if err != nil {
		return nil, err
	}
	return pfirestore.NewBaseRepository[addressDocument](r.provider, fmt.Sprintf(selectedAddressPattern, uid), nil, nil), nil
}

func (r *AddressRepository) savedRepo(userID string) (*pfirestore.BaseRepository[addressDocument], error) {
	uid, err := r.validUser(userID)
	if err != nil {
		return nil, err
	}
	return pfirestore.NewBaseRepository[addressDocument](r.provider, fmt.Sprintf(savedAddressPattern, uid), nil, nil), nil
}

func (r *AddressRepository) validUser(userID string) (string, error) {
	if r == nil || r.provider == nil {
		return "", errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", errors.New("address repository: user id is required")
	}
	return uid, nil
}

type addressDocument struct {
	Text          string    `firestore:"address"`
	FormattedText string    `firestore:"formattedAddress,omitempty"`
	Latitude      *float64  `firestore:"latitude,omitempty"`
	Longitude     *float64  `firestore:"longitude,omitempty"`
	Pincode       string    `firestore:"pincode,omitempty"`
	City          string    `firestore:"city,omitempty"`
	State         string    `firestore:"state,omitempty"`
	Landmark      string    `firestore:"landmark,omitempty"`
	Label         string    `firestore:"label,omitempty"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func toAddressDocument(addr domain.DeliveryAddress) addressDocument {
	doc := addressDocument{
		Text:          strings.TrimSpace(addr.Text),
		FormattedText: strings.TrimSpace(addr.FormattedText),
		Pincode:       strings.TrimSpace(addr.Pincode),
		City:          strings.TrimSpace(addr.City),
		State:         strings.TrimSpace(addr.State),
		Landmark:      strings.TrimSpace(addr.Landmark),
		Label:         strings.TrimSpace(addr.Label),
		UpdatedAt:     addr.UpdatedAt,
	}
	if addr.Coordinates != nil {
		lat := addr.Coordinates.Latitude
		lng := addr.Coordinates.Longitude
		doc.Latitude = &lat
		doc.Longitude = &lng
	}
	return doc
}

func (d addressDocument) toDomain() domain.DeliveryAddress {
	addr := domain.DeliveryAddress{
		Text:          d.Text,
		FormattedText: d.FormattedText,
		Pincode:       d.Pincode,
		City:          d.City,
		State:         d.State,
		Landmark:      d.Landmark,
		Label:         d.Label,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.Latitude != nil && d.Longitude != nil {
		addr.Coordinates = &domain.Coordinates{Latitude: *d.Latitude, Longitude: *d.Longitude}
	}
	return addr
}

// Ensure interface compliance.
var _ repositories.AddressRepository = (*AddressRepository)(nil)
