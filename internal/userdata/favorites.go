package userdata

import (
	"context"
	"errors"
	"strings"

	"github.com/konnection/roomstate/internal/kvstore"
)

// ErrEmptyListingID is returned when a favorite or recent has no id.
var ErrEmptyListingID = errors.New("userdata: listing id is required")

// FavoriteSet is an insertion-ordered set of listing ids.
type FavoriteSet struct {
	order []string
	index map[string]struct{}
}

func NewFavoriteSet(ids ...string) FavoriteSet {
	set := FavoriteSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := set.index[id]; ok {
			continue
		}
		set.index[id] = struct{}{}
		set.order = append(set.order, id)
	}
	return set
}

func (s FavoriteSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s FavoriteSet) Len() int {
	return len(s.order)
}

// IDs returns a copy in insertion order.
func (s FavoriteSet) IDs() []string {
	return append([]string(nil), s.order...)
}

// Toggled returns a new set with id flipped and reports whether it is now present.
func (s FavoriteSet) Toggled(id string) (FavoriteSet, bool) {
	if s.Contains(id) {
		remaining := make([]string, 0, len(s.order))
		for _, existing := range s.order {
			if existing != id {
				remaining = append(remaining, existing)
			}
		}
		return NewFavoriteSet(remaining...), false
	}
	return NewFavoriteSet(append(s.IDs(), id)...), true
}

// Favorites returns the current identity's favorites.
func (s *Service) Favorites(ctx context.Context) (FavoriteSet, error) {
	key, err := s.scopedKey(ctx, opFavorites, kvstore.CategoryFavorites)
	if err != nil {
		return FavoriteSet{}, err
	}
	return s.readFavorites(ctx, key)
}

// ToggleFavorite flips membership of id and reports whether it is now a favorite.
func (s *Service) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrEmptyListingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.scopedKey(ctx, opToggleFavorite, kvstore.CategoryFavorites)
	if err != nil {
		return false, err
	}
	current, err := s.readFavorites(ctx, key)
	if err != nil {
		return false, err
	}
	next, added := current.Toggled(id)
	if err := s.store.Write(ctx, key, next.IDs()); err != nil {
		s.logError(opToggleFavorite, "write_failed", err)
		return false, newServiceError(opToggleFavorite, "write_failed", err)
	}
	return added, nil
}

func (s *Service) readFavorites(ctx context.Context, key kvstore.Key) (FavoriteSet, error) {
	ids, err := kvstore.Read[[]string](ctx, s.store, key, nil)
	if err != nil {
		return FavoriteSet{}, newServiceError(opFavorites, "read_failed", err)
	}
	return NewFavoriteSet(ids...), nil
}
