package scanner

import (
	"context"
	"errors"
	"os"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
	"github.com/bnema/xpinstall/internal/metacache"
)

// layerJob is one opened archive waiting to be classified
type layerJob struct {
	chain addons.ArchiveChain
	arc   *archive.Archive
	key   metacache.Key
}

// scanArchiveFile classifies an on-disk archive and every archive nested in
// it. Nesting is walked with an explicit stack and depth counter, each layer
// being opened from its still-open parent. It returns the number of items
// and locked layers found
func (s *Scanner) scanArchiveFile(ctx context.Context, p, original string, col *collector) int {
	format, err := archive.Identify(ctx, p)
	if err != nil {
		col.fail("%s: %v", p, err)
		return 0
	}
	info, err := os.Stat(p)
	if err != nil {
		col.fail("%s: %v", p, err)
		return 0
	}

	outer := addons.ArchiveChain{{Format: format, Path: p}}
	outer[0].Password = s.passwordFor(outer)

	arc, err := archive.OpenFormat(p, format, archive.Options{
		Password:     outer[0].Password,
		NameEncoding: s.opts.NameEncoding,
	})
	if err != nil {
		return s.openFailed(outer, err, col)
	}

	chains := archive.NewChain(archive.ChainOptions{
		MaxInMemory:  s.opts.MaxInMemory,
		ScratchDir:   s.opts.ScratchDir,
		NameEncoding: s.opts.NameEncoding,
	})
	defer func() {
		if err := chains.Close(); err != nil {
			s.log.Warn("Failed to clean nested layers", "archive", p, "error", err)
		}
	}()

	found := 0
	stack := []layerJob{{
		chain: outer,
		arc:   arc,
		key:   metacache.Key{Path: p, ModTime: info.ModTime().UnixNano(), Size: info.Size()},
	}}
	for len(stack) > 0 {
		job := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if ctx.Err() != nil {
			_ = job.arc.Close()
			continue
		}
		n, nested := s.scanLayer(job, original, col)
		found += n

		for _, child := range nested {
			if len(job.chain) >= s.opts.ArchiveMaxDepth {
				col.warn("%s: nested archive %s exceeds depth %d, skipped", job.chain.Key(), child.Path, s.opts.ArchiveMaxDepth)
				continue
			}
			layer := archive.Layer{Format: archive.FormatFromExt(child.Path), Path: child.Path}
			chain := job.chain.Extend(layer)
			chain[len(chain)-1].Password = s.passwordFor(chain)

			inner, err := chains.OpenChild(ctx, job.arc, chain[len(chain)-1])
			if err != nil {
				found += s.openFailed(chain, err, col)
				continue
			}
			stack = append(stack, layerJob{
				chain: chain,
				arc:   inner,
				key:   metacache.Key{Path: chain.Key(), ModTime: job.key.ModTime, Size: child.Size},
			})
		}
		_ = job.arc.Close()
	}
	return found
}

// scanLayer classifies one archive layer and returns the nested archives
// lying outside every root found in it
func (s *Scanner) scanLayer(job layerJob, original string, col *collector) (int, []archive.Entry) {
	key := job.chain.Key()
	listing, _ := s.opts.Cache.GetOrCompute(job.key, func() (*metacache.Listing, error) {
		return metacache.NewListing(job.arc), nil
	})

	locked := false
	if err := job.arc.CheckPassword(); err != nil {
		if !archive.IsPasswordError(err) {
			col.fail("%s: %v", key, err)
			return 0, nil
		}
		locked = true
		s.passwordProblem(job.chain, err, col)
	}

	nodes := make([]node, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		if e.IsSymlink() {
			continue
		}
		nodes = append(nodes, node{Path: e.Path, IsDir: e.IsDir})
	}

	det := newDetector(s.opts.MaxDepth, func(p string) ([]byte, error) {
		if locked {
			return nil, addons.ErrPasswordRequired
		}
		return job.arc.ReadFile(p, 1<<20)
	})
	findings, warnings := det.detect(nodes)
	for _, w := range warnings {
		col.warn("%s: %s", key, w)
	}

	found := 0
	for _, f := range findings {
		col.item(addons.DetectedItem{
			Kind:             f.kind,
			EffectiveRoot:    f.root,
			Chain:            job.chain,
			DisplayName:      displayName(f.root, job.chain.Innermost().Path),
			RequiresPassword: locked,
			Navdata:          f.navdata,
			AircraftHint:     f.hint,
			OriginalInput:    original,
		})
		found++
	}
	if locked {
		found++
	}
	s.log.Debug("Scanned archive", "archive", key, "format", job.arc.Format(), "entries", len(listing.Entries), "found", len(findings))

	if locked {
		return found, nil
	}
	detected := roots(findings)
	var nested []archive.Entry
	for _, e := range listing.Entries {
		if e.IsDir || !archive.IsArchiveName(e.Path) || insideAny(detected, e.Path) {
			continue
		}
		if isJunk(e.Path) || (s.opts.MaxDepth > 0 && depthOf(e.Path) > s.opts.MaxDepth) {
			continue
		}
		nested = append(nested, e)
	}
	return found, nested
}

// openFailed records a layer that could not be opened. Layers whose headers
// are encrypted count as found so the input is not reported as empty
func (s *Scanner) openFailed(chain addons.ArchiveChain, err error, col *collector) int {
	if archive.IsPasswordError(err) {
		s.passwordProblem(chain, err, col)
		return 1
	}
	col.fail("%s: %v", chain.Key(), err)
	return 0
}

func (s *Scanner) passwordProblem(chain addons.ArchiveChain, err error, col *collector) {
	key := chain.Key()
	col.password(key)
	if errors.Is(err, archive.ErrPasswordIncorrect) {
		col.warn("%s: %s", addons.KindPasswordIncorrect, key)
	}
	s.log.Info("Archive needs a password", "archive", key, "error", err)
}
