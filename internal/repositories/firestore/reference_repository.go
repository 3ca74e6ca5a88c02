package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	variantsCollection = "variants"
	shopsCollection    = "shops"
	usersCollection    = "users"
	addressesSubpath   = "addresses"
)

type variantDocument struct {
	ShopID string `firestore:"shopId"`
}

type shopDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
}

// presenceDocument decodes nothing; reference checks only need to know a document exists.
type presenceDocument struct{}

// CatalogRepository reads variant ownership from the catalog.
type CatalogRepository struct {
	variants *pfirestore.Collection[variantDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a catalog lookup.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{variants: pfirestore.NewCollection[variantDocument](provider, variantsCollection)}, nil
}

// ShopOfVariant returns the shop owning variantID.
func (r *CatalogRepository) ShopOfVariant(ctx context.Context, variantID string) (string, error) {
	doc, err := r.variants.Get(ctx, strings.TrimSpace(variantID))
	if err != nil {
		return "", err
	}
	shopID := strings.TrimSpace(doc.Data.ShopID)
	if shopID == "" {
		return "", pfirestore.NotFound("variants.shop", "variant %s has no shop", variantID)
	}
	return shopID, nil
}

// ShopRepository reads shop contact details.
type ShopRepository struct {
	shops *pfirestore.Collection[shopDocument]
}

var _ repositories.ShopRepository = (*ShopRepository)(nil)

// NewShopRepository constructs a shop lookup.
func NewShopRepository(provider *pfirestore.Provider) (*ShopRepository, error) {
	if provider == nil {
		return nil, errors.New("shop repository requires firestore provider")
	}
	return &ShopRepository{shops: pfirestore.NewCollection[shopDocument](provider, shopsCollection)}, nil
}

func (r *ShopRepository) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	doc, err := r.shops.Get(ctx, strings.TrimSpace(shopID))
	if err != nil {
		return domain.Shop{}, err
	}
	return domain.Shop{ID: doc.ID, Name: doc.Data.Name, Email: strings.TrimSpace(doc.Data.Email)}, nil
}

// UserRepository answers customer existence checks.
type UserRepository struct {
	users *pfirestore.Collection[presenceDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a user lookup.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{users: pfirestore.NewCollection[presenceDocument](provider, usersCollection)}, nil
}

func (r *UserRepository) Exists(ctx context.Context, userID string) (bool, error) {
	return r.users.Exists(ctx, strings.TrimSpace(userID))
}

// AddressRepository checks addresses stored under users/{uid}/addresses, which also proves the
// address belongs to the user.
type AddressRepository struct {
	users *pfirestore.Collection[presenceDocument]
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs an address lookup.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{users: pfirestore.NewCollection[presenceDocument](provider, usersCollection)}, nil
}

func (r *AddressRepository) Exists(ctx context.Context, userID string, addressID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.Contains(userID, "/") {
		return false, nil
	}
	addresses := pfirestore.Sub[presenceDocument](r.users, userID, addressesSubpath)
	return addresses.Exists(ctx, strings.TrimSpace(addressID))
}
