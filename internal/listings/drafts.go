package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/validation"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("collection store is required")

// DraftForm is a listing submitted from this device. Money fields are in won.
type DraftForm struct {
	ID                    string   `form:"id" json:"id,omitempty" validate:"max=190"`
	Address               string   `form:"address" json:"address" validate:"required,max=300"`
	MonthlyRentWon        int64    `form:"monthlyRent" json:"monthlyRent" validate:"gt=0"`
	DepositWon            int64    `form:"deposit" json:"deposit" validate:"gte=0"`
	MaintenanceFeeWon     int64    `form:"maintenanceFee" json:"maintenanceFee" validate:"gte=0"`
	RoomType              string   `form:"roomType" json:"roomType" validate:"required,oneof=ONE_ROOM TWO_ROOM THREE_ROOM OFFICETEL APARTMENT"`
	AreaM2                float64  `form:"areaM2" json:"areaM2" validate:"gte=0"`
	RoomCount             int      `form:"roomCount" json:"roomCount" validate:"gte=0"`
	BathroomCount         int      `form:"bathroomCount" json:"bathroomCount" validate:"gte=0"`
	Direction             string   `form:"direction" json:"direction,omitempty"`
	HeatingType           string   `form:"heatingType" json:"heatingType,omitempty"`
	EntranceType          string   `form:"entranceType" json:"entranceType,omitempty"`
	BuildingUse           string   `form:"buildingUse" json:"buildingUse,omitempty"`
	ApprovalDate          string   `form:"approvalDate" json:"approvalDate,omitempty"`
	Floor                 *int     `form:"floor" json:"floor,omitempty"`
	ParkingAvailable      bool     `form:"parkingAvailable" json:"parkingAvailable"`
	TotalParkingSpots     int      `form:"totalParkingSpots" json:"totalParkingSpots" validate:"gte=0"`
	AvailableFrom         string   `form:"availableFrom" json:"availableFrom,omitempty"`
	Description           string   `form:"description" json:"description,omitempty" validate:"max=5000"`
	Options               []string `form:"options" json:"options,omitempty"`
	SecurityFacilities    []string `form:"securityFacilities" json:"securityFacilities,omitempty"`
	LandlordName          string   `form:"landlordName" json:"landlordName,omitempty"`
	LandlordPhone         string   `form:"landlordPhone" json:"landlordPhone,omitempty"`
	LandlordBusinessRegNo string   `form:"landlordBusinessRegNo" json:"landlordBusinessRegNo,omitempty"`
}

// Validate trims the free-text fields and checks the form.
func (f *DraftForm) Validate() error {
	f.ID = strings.TrimSpace(f.ID)
	f.Address = strings.TrimSpace(f.Address)
	f.RoomType = strings.TrimSpace(f.RoomType)
	return validation.Struct(f)
}

type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

func (uuidProvider) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewUUIDProvider returns time-ordered UUIDv7 ids.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

type RegistryConfig struct {
	Store      kvstore.Collection
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Registry keeps listings submitted from this device, newest first. Drafts
// are shared by every identity on the device.
type Registry struct {
	mu     sync.Mutex
	store  kvstore.Collection
	ids    IDProvider
	clock  func() time.Time
	logger *zap.Logger
	key    kvstore.Key
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	key, err := kvstore.NewKey(kvstore.CategoryDrafts, "")
	if err != nil {
		return nil, err
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: cfg.Store, ids: ids, clock: clock, logger: logger, key: key}, nil
}

// List returns the stored drafts, newest first.
func (r *Registry) List(ctx context.Context) ([]Listing, error) {
	drafts, err := kvstore.Read(ctx, r.store, r.key, []Listing{})
	if err != nil {
		return nil, fmt.Errorf("listings: read drafts: %w", err)
	}
	return drafts, nil
}

// Add validates form, encodes the images and stores the resulting listing at
// the front of the registry, replacing any draft with the same id.
func (r *Registry) Add(ctx context.Context, form DraftForm, uploads []ImageUpload) (Listing, error) {
	if err := form.Validate(); err != nil {
		return Listing{}, err
	}
	images := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		encoded, err := EncodeDataURL(upload)
		if err != nil {
			return Listing{}, err
		}
		images = append(images, encoded)
	}
	if form.ID == "" {
		id, err := r.ids.NewID()
		if err != nil {
			return Listing{}, fmt.Errorf("listings: draft id: %w", err)
		}
		form.ID = LocalIDPrefix + id
	}
	listing := NormalizeLocalDraft(form, images, r.clock())

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, err := r.List(ctx)
	if err != nil {
		return Listing{}, err
	}
	next := make([]Listing, 0, len(existing)+1)
	next = append(next, listing)
	for _, draft := range existing {
		if draft.ID != listing.ID {
			next = append(next, draft)
		}
	}
	if err := r.store.Write(ctx, r.key, next); err != nil {
		r.logger.Error("draft write failed", zap.String("listing_id", listing.ID), zap.Error(err))
		return Listing{}, fmt.Errorf("listings: write drafts: %w", err)
	}
	r.logger.Info("draft listing stored", zap.String("listing_id", listing.ID), zap.Int("images", len(images)))
	return listing, nil
}

// Find returns the draft with id.
func (r *Registry) Find(ctx context.Context, id string) (Listing, bool, error) {
	drafts, err := r.List(ctx)
	if err != nil {
		return Listing{}, false, err
	}
	for _, draft := range drafts {
		if draft.ID == id {
			return draft, true, nil
		}
	}
	return Listing{}, false, nil
}

// Merge prepends the stored drafts to remote.
func (r *Registry) Merge(ctx context.Context, remote []Listing) ([]Listing, error) {
	drafts, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return MergeListings(drafts, remote), nil
}

// MergeListings returns local followed by remote. Each id appears once and
// local entries win.
func MergeListings(local, remote []Listing) []Listing {
	merged := make([]Listing, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(local)+len(remote))
	for _, group := range [][]Listing{local, remote} {
		for _, listing := range group {
			if listing.ID != "" {
				if _, ok := seen[listing.ID]; ok {
					continue
				}
				seen[listing.ID] = struct{}{}
			}
			merged = append(merged, listing)
		}
	}
	return merged
}
