package installer

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
)

const (
	// DefaultMaxBytes caps the uncompressed bytes one task may write
	DefaultMaxBytes = 20 << 30
	// DefaultMaxRatio caps uncompressed/compressed size
	DefaultMaxRatio = 100
	// DefaultRatioFloor exempts payloads below 64 KiB from the ratio check
	DefaultRatioFloor = 64 << 10
)

// checkBudget rejects an archive task from listing metadata alone, before
// anything is written. Every layer of the chain is held to the byte ceiling
// and must not carry an entry path that escapes its extraction directory
func (in *Installer) checkBudget(ctx context.Context, task *addons.InstallTask) error {
	item := task.Item
	if !item.IsArchive() {
		return nil
	}
	layers := item.Chain.Layers()
	chainOpts := in.chainOptions()

	for i := 1; i < len(layers); i++ {
		parent, err := in.opts.Cache.ChainListing(ctx, layers[:i], chainOpts)
		if err != nil {
			return err
		}
		if err := parent.CheckPaths(); err != nil {
			return fmt.Errorf("%w: %s: %v", addons.ErrPathTraversal, archive.ChainKey(layers[:i]), err)
		}
		size, _ := parent.SubtreeSize(archive.NormalizePath(layers[i].Path))
		if size > in.opts.MaxBytes {
			return fmt.Errorf("%w: nested archive %s declares %s (limit %s)", addons.ErrSizeExceeded,
				layers[i].Path, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(in.opts.MaxBytes)))
		}
	}

	listing, err := in.opts.Cache.ChainListing(ctx, layers, chainOpts)
	if err != nil {
		return err
	}
	if err := listing.CheckPaths(); err != nil {
		return fmt.Errorf("%w: %s: %v", addons.ErrPathTraversal, archive.ChainKey(layers), err)
	}
	size, _ := listing.SubtreeSize(item.EffectiveRoot)
	if size > in.opts.MaxBytes {
		return fmt.Errorf("%w: %s declares %s (limit %s)", addons.ErrSizeExceeded,
			task.DisplayName, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(in.opts.MaxBytes)))
	}

	compressed := listing.SubtreeCompressed(item.EffectiveRoot)
	if size >= in.opts.RatioFloor && compressed > 0 {
		ratio := float64(size) / float64(compressed)
		if ratio > in.opts.MaxRatio {
			return fmt.Errorf("%w: %s expands %.0fx (limit %.0fx)", addons.ErrRatioExceeded, task.DisplayName, ratio, in.opts.MaxRatio)
		}
	}
	task.EstimatedSize = size
	return nil
}
