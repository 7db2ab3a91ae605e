package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const documentRefPrefix = "doc-"

// Vault holds rendered documents for a limited time so they can be previewed
// or attached to a chat message by reference.
type Vault struct {
	cache *cache.Cache
}

func NewVault(ttl time.Duration) *Vault {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Vault{cache: cache.New(ttl, 2*ttl)}
}

// Put stores doc and returns its reference.
func (v *Vault) Put(doc Document) string {
	ref := documentRefPrefix + uuid.NewString()
	v.cache.SetDefault(ref, doc)
	return ref
}

func (v *Vault) Get(ref string) (Document, bool) {
	value, ok := v.cache.Get(ref)
	if !ok {
		return Document{}, false
	}
	doc, ok := value.(Document)
	return doc, ok
}
