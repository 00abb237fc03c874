// Package blob stores original uploads and extracted text behind opaque
// locators. Locators carry their scheme so a Router can resolve blobs written
// by any configured backend.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*Router)(nil)

// Router writes to a primary store and reads from whichever registered store
// owns the locator's scheme. Switching the primary backend leaves documents
// stored under the old one readable.
type Router struct {
	primary driven.BlobStore
	schemes map[string]driven.BlobStore
}

// NewRouter creates a Router that writes to primary.
func NewRouter(primary driven.BlobStore, primaryScheme string) *Router {
	return &Router{
		primary: primary,
		schemes: map[string]driven.BlobStore{primaryScheme: primary},
	}
}

// Register adds a read backend for scheme.
func (r *Router) Register(scheme string, store driven.BlobStore) {
	r.schemes[scheme] = store
}

func (r *Router) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return r.primary.Put(ctx, key, data, contentType)
}

func (r *Router) Get(ctx context.Context, locator string) ([]byte, error) {
	scheme, _, ok := strings.Cut(locator, "://")
	if !ok {
		return nil, fmt.Errorf("%w: locator %q has no scheme", domain.ErrInvalidInput, locator)
	}
	store, found := r.schemes[scheme]
	if !found {
		return nil, fmt.Errorf("%w: no blob store for scheme %q", domain.ErrUnsupportedInput, scheme)
	}
	return store.Get(ctx, locator)
}

func (r *Router) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx)
}

// cleanKey rejects keys that would escape the store's namespace.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty blob key", domain.ErrInvalidInput)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: invalid blob key %q", domain.ErrInvalidInput, key)
		}
	}
	return key, nil
}
