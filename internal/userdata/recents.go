package userdata

import (
	"context"
	"strings"
	"time"

	"github.com/konnection/roomstate/internal/kvstore"
)

// MaxRecents bounds the recently-viewed history.
const MaxRecents = 50

// RecentView records when a listing was last opened.
type RecentView struct {
	ListingID      string `json:"id"`
	ViewedAtMillis int64  `json:"at"`
}

func (r RecentView) ViewedAt() time.Time {
	return time.UnixMilli(r.ViewedAtMillis).UTC()
}

// pushRecent moves id to the front, drops any older entry for it and caps
// the list at MaxRecents.
func pushRecent(list []RecentView, id string, at time.Time) []RecentView {
	next := make([]RecentView, 0, len(list)+1)
	next = append(next, RecentView{ListingID: id, ViewedAtMillis: at.UnixMilli()})
	for _, entry := range list {
		if entry.ListingID == id || entry.ListingID == "" {
			continue
		}
		next = append(next, entry)
		if len(next) == MaxRecents {
			break
		}
	}
	return next
}

func (s *Service) Recents(ctx context.Context) ([]RecentView, error) {
	key, err := s.scopedKey(ctx, opRecents, kvstore.CategoryRecents)
	if err != nil {
		return nil, err
	}
	list, err := kvstore.Read(ctx, s.store, key, []RecentView{})
	if err != nil {
		return nil, newServiceError(opRecents, "read_failed", err)
	}
	return list, nil
}

// PushRecent records a view of id at the current time.
func (s *Service) PushRecent(ctx context.Context, id string) ([]RecentView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyListingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.scopedKey(ctx, opPushRecent, kvstore.CategoryRecents)
	if err != nil {
		return nil, err
	}
	list, err := kvstore.Read(ctx, s.store, key, []RecentView{})
	if err != nil {
		return nil, newServiceError(opPushRecent, "read_failed", err)
	}
	next := pushRecent(list, id, s.clock())
	if err := s.store.Write(ctx, key, next); err != nil {
		s.logError(opPushRecent, "write_failed", err)
		return nil, newServiceError(opPushRecent, "write_failed", err)
	}
	return next, nil
}

func (s *Service) ClearRecents(ctx context.Context) error {
	key, err := s.scopedKey(ctx, opClearRecents, kvstore.CategoryRecents)
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, key); err != nil {
		return newServiceError(opClearRecents, "remove_failed", err)
	}
	return nil
}
