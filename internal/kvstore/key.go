package kvstore

import (
	"errors"
	"fmt"
	"strings"
)

const maxKeyLength = 512

var (
	ErrInvalidCategory = errors.New("kvstore: invalid category")
	ErrInvalidKey      = errors.New("kvstore: invalid key")
)

// Category groups keys that change together. Subscribers filter on it.
type Category string

const (
	CategoryAccount   Category = "account"
	CategorySession   Category = "session"
	CategoryProfile   Category = "profile"
	CategoryFavorites Category = "favorites"
	CategoryRecents   Category = "recents"
	CategoryContracts Category = "contracts"
	CategoryDrafts    Category = "drafts"
	CategoryChat      Category = "chat"
)

func (c Category) validate() error {
	trimmed := strings.TrimSpace(string(c))
	if trimmed == "" || trimmed != string(c) || strings.Contains(trimmed, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, string(c))
	}
	return nil
}

// Key addresses one persisted collection: a category plus an optional scope.
type Key struct {
	category Category
	scope    string
}

// NewKey validates the category and scope and returns the composed key.
func NewKey(category Category, scope string) (Key, error) {
	if err := category.validate(); err != nil {
		return Key{}, err
	}
	key := Key{category: category, scope: scope}
	if len(key.String()) > maxKeyLength {
		return Key{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return key, nil
}

// ParseKey reverses Key.String.
func ParseKey(raw string) (Key, error) {
	category, scope, _ := strings.Cut(raw, "/")
	return NewKey(Category(category), scope)
}

func (k Key) Category() Category {
	return k.category
}

func (k Key) Scope() string {
	return k.scope
}

func (k Key) IsZero() bool {
	return k.category == ""
}

func (k Key) String() string {
	if k.scope == "" {
		return string(k.category)
	}
	return string(k.category) + "/" + k.scope
}
