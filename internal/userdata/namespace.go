package userdata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/session"
)

const (
	guestScope      = "guest"
	userScopePrefix = "u:"
)

// ErrUnscopedCategory is returned for categories that are not per-user.
var ErrUnscopedCategory = errors.New("userdata: category is not per-user")

var scopedCategories = map[kvstore.Category]struct{}{
	kvstore.CategoryProfile:   {},
	kvstore.CategoryFavorites: {},
	kvstore.CategoryRecents:   {},
	kvstore.CategoryContracts: {},
}

// ScopeFor returns the storage scope of an identity. Two different emails
// never share a scope, and no email maps to the guest scope.
func ScopeFor(current *session.Session) string {
	if current == nil || strings.TrimSpace(current.Email) == "" {
		return guestScope
	}
	return userScopePrefix + current.Email
}

// ScopedKey derives the per-identity key for category.
func ScopedKey(category kvstore.Category, current *session.Session) (kvstore.Key, error) {
	if _, ok := scopedCategories[category]; !ok {
		return kvstore.Key{}, fmt.Errorf("%w: %s", ErrUnscopedCategory, category)
	}
	return kvstore.NewKey(category, ScopeFor(current))
}
