package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/konnection/roomstate/internal/listings"
	"github.com/konnection/roomstate/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	SortLatest    = "latest"
	SortPriceLow  = "price_low"
	SortPriceHigh = "price_high"

	// DegradedNotice is shown when only local drafts could be listed.
	DegradedNotice = "Could not reach the listings service. Showing listings saved on this device."
	fetchManyLimit = 4
)

var (
	ErrUnknownSort     = errors.New("catalog: unknown sort")
	errMissingDeps     = errors.New("catalog: rooms api and draft registry are required")
	ErrListingNotFound = errors.New("catalog: listing not found")
)

// RoomsAPI is the remote catalog surface.
type RoomsAPI interface {
	ListRooms(ctx context.Context, sort string) ([]listings.RoomRecord, error)
	SearchRooms(ctx context.Context, params remote.SearchParams) ([]listings.RoomRecord, error)
	GetRoom(ctx context.Context, id string) (listings.RoomRecord, error)
	CreateRoom(ctx context.Context, form listings.DraftForm, images []listings.ImageUpload) (string, error)
	UpdateRoom(ctx context.Context, id string, form listings.DraftForm) error
	DeleteRoom(ctx context.Context, id string) error
}

// Query is a listings search. Price bounds are in won.
type Query struct {
	Keyword        string `json:"keyword" form:"keyword"`
	Sort           string `json:"sort" form:"sort"`
	MinMonthlyRent int64  `json:"minMonthlyRent" form:"minMonthlyRent"`
	MaxMonthlyRent int64  `json:"maxMonthlyRent" form:"maxMonthlyRent"`
	MinDeposit     int64  `json:"minDeposit" form:"minDeposit"`
	MaxDeposit     int64  `json:"maxDeposit" form:"maxDeposit"`
}

func (q Query) params() remote.SearchParams {
	return remote.SearchParams{
		Keyword:        q.Keyword,
		Sort:           q.Sort,
		MinMonthlyRent: q.MinMonthlyRent,
		MaxMonthlyRent: q.MaxMonthlyRent,
		MinDeposit:     q.MinDeposit,
		MaxDeposit:     q.MaxDeposit,
	}
}

func (q Query) validate() error {
	switch q.Sort {
	case "", SortLatest, SortPriceLow, SortPriceHigh:
		return nil
	default:
		return ErrUnknownSort
	}
}

// Result is one page of listings. Degraded is set when the remote catalog
// failed and only local drafts are shown.
type Result struct {
	Listings []listings.Listing `json:"listings"`
	Degraded bool               `json:"degraded"`
	Notice   string             `json:"notice,omitempty"`
}

// Service joins the remote catalog with drafts stored on this device.
type Service struct {
	rooms  RoomsAPI
	drafts *listings.Registry
	logger *zap.Logger
}

func NewService(rooms RoomsAPI, drafts *listings.Registry, logger *zap.Logger) (*Service, error) {
	if rooms == nil || drafts == nil {
		return nil, errMissingDeps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rooms: rooms, drafts: drafts, logger: logger}, nil
}

// Search lists remote rooms matching query with local drafts first. A remote
// failure degrades to drafts only; only draft storage failures are returned.
func (s *Service) Search(ctx context.Context, query Query) (Result, error) {
	query.Keyword = strings.TrimSpace(query.Keyword)
	if err := query.validate(); err != nil {
		return Result{}, err
	}
	drafts, err := s.drafts.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var records []listings.RoomRecord
	if query.params().HasFilter() {
		records, err = s.rooms.SearchRooms(ctx, query.params())
	} else {
		// price orders are applied here, so the catalog always lists newest first
		records, err = s.rooms.ListRooms(ctx, SortLatest)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Warn("remote listings unavailable", zap.String("keyword", query.Keyword), zap.Error(err))
		return Result{Listings: sortByPrice(drafts, query.Sort), Degraded: true, Notice: DegradedNotice}, nil
	}
	remoteListings := make([]listings.Listing, 0, len(records))
	for _, record := range records {
		remoteListings = append(remoteListings, listings.NormalizeRemote(record))
	}
	return Result{Listings: sortByPrice(listings.MergeListings(drafts, remoteListings), query.Sort)}, nil
}

// sortByPrice reorders items in place for the price sorts. Equal prices keep
// their merged order; any other sort leaves items untouched.
func sortByPrice(items []listings.Listing, order string) []listings.Listing {
	switch order {
	case SortPriceLow:
		sort.SliceStable(items, func(i, j int) bool { return items[i].PriceMonthly < items[j].PriceMonthly })
	case SortPriceHigh:
		sort.SliceStable(items, func(i, j int) bool { return items[i].PriceMonthly > items[j].PriceMonthly })
	}
	return items
}

// Get returns a draft when id belongs to one, otherwise the remote room.
func (s *Service) Get(ctx context.Context, id string) (listings.Listing, error) {
	draft, ok, err := s.drafts.Find(ctx, id)
	if err != nil {
		return listings.Listing{}, err
	}
	if ok {
		return draft, nil
	}
	if strings.HasPrefix(id, listings.LocalIDPrefix) {
		return listings.Listing{}, ErrListingNotFound
	}
	record, err := s.rooms.GetRoom(ctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		return listings.Listing{}, ErrListingNotFound
	}
	if err != nil {
		return listings.Listing{}, err
	}
	return listings.NormalizeRemote(record), nil
}

// FetchMany resolves ids concurrently, preserving order and skipping ids that
// cannot be resolved. Used for favorites and recents pages.
func (s *Service) FetchMany(ctx context.Context, ids []string) []listings.Listing {
	resolved := make([]*listings.Listing, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fetchManyLimit)
	for index, id := range ids {
		group.Go(func() error {
			listing, err := s.Get(groupCtx, id)
			if err != nil {
				s.logger.Debug("listing unavailable", zap.String("listing_id", id), zap.Error(err))
				return nil
			}
			resolved[index] = &listing
			return nil
		})
	}
	_ = group.Wait()

	result := make([]listings.Listing, 0, len(ids))
	for _, listing := range resolved {
		if listing != nil {
			result = append(result, *listing)
		}
	}
	return result
}

// Publish sends form to the remote catalog and keeps a local copy under the
// assigned id. When the catalog is unreachable the draft is kept locally with
// a local id and the remote error is returned alongside it.
func (s *Service) Publish(ctx context.Context, form listings.DraftForm, images []listings.ImageUpload) (listings.Listing, error) {
	if err := form.Validate(); err != nil {
		return listings.Listing{}, err
	}
	id, remoteErr := s.rooms.CreateRoom(ctx, form, images)
	if remoteErr == nil {
		form.ID = id
	} else {
		s.logger.Warn("remote publish failed, keeping local draft", zap.Error(remoteErr))
		form.ID = ""
	}
	listing, err := s.drafts.Add(ctx, form, images)
	if err != nil {
		return listings.Listing{}, err
	}
	return listing, remoteErr
}

// Update replaces a published room. Drafts that never reached the catalog
// cannot be updated remotely.
func (s *Service) Update(ctx context.Context, id string, form listings.DraftForm) error {
	if err := form.Validate(); err != nil {
		return err
	}
	if strings.HasPrefix(id, listings.LocalIDPrefix) {
		return ErrListingNotFound
	}
	return remoteResult(s.rooms.UpdateRoom(ctx, id, form))
}

// Delete removes a published room from the catalog.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.HasPrefix(id, listings.LocalIDPrefix) {
		return ErrListingNotFound
	}
	return remoteResult(s.rooms.DeleteRoom(ctx, id))
}

func remoteResult(err error) error {
	if errors.Is(err, remote.ErrNotFound) {
		return ErrListingNotFound
	}
	return err
}
