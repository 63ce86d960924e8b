// Package reader serves the notice list either live from upstream or from the mirror.
package reader

import (
	"context"
	"fmt"

	"github.com/loksewa/noticemirror/internal/notice"
)

// Variant names a serving strategy.
type Variant string

// Serving variants.
const (
	VariantStore Variant = "store"
	VariantProxy Variant = "proxy"
)

// Reader lists notices for presentation.
type Reader interface {
	List(ctx context.Context) ([]notice.Notice, error)
	Variant() Variant
}

// DirectProxy fetches upstream on every call and returns the payload unchanged.
type DirectProxy struct {
	fetcher notice.Fetcher
}

// List delegates to the fetcher.
func (p DirectProxy) List(ctx context.Context) ([]notice.Notice, error) {
	notices, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("list upstream notices: %w", err)
	}
	return notices, nil
}

// Variant returns VariantProxy.
func (DirectProxy) Variant() Variant { return VariantProxy }

// StoreBacked reads the mirror. It never triggers a refresh.
type StoreBacked struct {
	store notice.Store
}

// List returns the mirrored notices ordered by id.
func (s StoreBacked) List(ctx context.Context) ([]notice.Notice, error) {
	notices, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored notices: %w", err)
	}
	return notices, nil
}

// Variant returns VariantStore.
func (StoreBacked) Variant() Variant { return VariantStore }

// New picks the reader for variant. The store is only required for VariantStore
// and the fetcher only for VariantProxy.
func New(variant Variant, fetcher notice.Fetcher, store notice.Store) (Reader, error) {
	switch variant {
	case VariantProxy:
		if fetcher == nil {
			return nil, fmt.Errorf("proxy reader requires a fetcher")
		}
		return DirectProxy{fetcher: fetcher}, nil
	case VariantStore:
		if store == nil {
			return nil, fmt.Errorf("store reader requires a store")
		}
		return StoreBacked{store: store}, nil
	default:
		return nil, fmt.Errorf("unknown reader variant %q", variant)
	}
}
