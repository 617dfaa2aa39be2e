package analyzer

import (
	"context"

	"github.com/bnema/xpinstall/internal/addons"
)

// Estimate is the expected footprint of a task
type Estimate struct {
	Bytes      int64
	Files      int
	Compressed int64
}

// estimate sizes an item from the listing cache or the directory cache
func (a *Analyzer) estimate(ctx context.Context, item addons.DetectedItem) (Estimate, error) {
	if !item.IsArchive() {
		s, err := a.opts.DirSizes.Size(item.EffectiveRoot)
		if err != nil {
			return Estimate{}, err
		}
		return Estimate{Bytes: s.Bytes, Files: s.Files}, nil
	}

	listing, err := a.opts.Cache.ChainListing(ctx, item.Chain.Layers(), a.chainOptions())
	if err != nil {
		return Estimate{}, err
	}
	size, files := listing.SubtreeSize(item.EffectiveRoot)
	return Estimate{Bytes: size, Files: files, Compressed: listing.SubtreeCompressed(item.EffectiveRoot)}, nil
}
