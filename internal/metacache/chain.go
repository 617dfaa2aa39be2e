package metacache

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/xpinstall/internal/archive"
)

// ChainListing returns the listing of a chain's innermost layer, opening the
// chain only on a cache miss. The outer archive is keyed by its file; nested
// layers by chain key, outer modification time and declared layer size
func (c *Cache) ChainListing(ctx context.Context, layers []archive.Layer, opts archive.ChainOptions) (*Listing, error) {
	if len(layers) == 0 {
		return nil, errors.New("empty archive chain")
	}
	key, err := KeyFor(layers[0].Path)
	if err != nil {
		return nil, err
	}

	var listing *Listing
	for i := range layers {
		prefix := layers[:i+1]
		if i > 0 {
			entry, ok := listing.lookup(layers[i].Path)
			if !ok {
				return nil, fmt.Errorf("%w: %s", archive.ErrEntryNotFound, archive.ChainKey(prefix))
			}
			key = Key{Path: archive.ChainKey(prefix), ModTime: key.ModTime, Size: entry.Size}
		}
		listing, err = c.GetOrCompute(key, func() (*Listing, error) {
			return openListing(ctx, prefix, opts)
		})
		if err != nil {
			return nil, err
		}
	}
	return listing, nil
}

func openListing(ctx context.Context, layers []archive.Layer, opts archive.ChainOptions) (*Listing, error) {
	chain, err := archive.OpenChain(ctx, layers, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = chain.Close() }()
	return NewListing(chain.Innermost()), nil
}

func (l *Listing) lookup(p string) (archive.Entry, bool) {
	p = archive.NormalizePath(p)
	for _, e := range l.Entries {
		if e.Path == p {
			return e, true
		}
	}
	return archive.Entry{}, false
}
