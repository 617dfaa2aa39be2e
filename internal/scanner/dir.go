package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
)

// walkDir lists dir up to maxDepth levels. Symlinks are followed once;
// fastwalk skips directories that would loop back into the current path
func walkDir(ctx context.Context, dir string, maxDepth int) (nodes []node, unreadable []string, err error) {
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: true}
	err = fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, werr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if werr != nil {
			if p == dir {
				return werr
			}
			mu.Lock()
			unreadable = append(unreadable, p+": "+werr.Error())
			mu.Unlock()
			return nil
		}
		if p == dir {
			return nil
		}
		rel, rerr := filepath.Rel(dir, p)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		isDir := d.IsDir()
		if d.Type()&fs.ModeSymlink != 0 {
			// Resolved target decides; broken links are reported once
			info, serr := os.Stat(p)
			if serr != nil {
				mu.Lock()
				unreadable = append(unreadable, p+": "+serr.Error())
				mu.Unlock()
				return nil
			}
			isDir = info.IsDir()
		}

		if isDir && (depthOf(rel) >= maxDepth || isJunk(rel)) {
			return filepath.SkipDir
		}
		mu.Lock()
		nodes = append(nodes, node{Path: rel, IsDir: isDir})
		mu.Unlock()
		return nil
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	sort.Strings(unreadable)
	return nodes, unreadable, err
}

// scanDir classifies a directory tree and then every archive in it that lies
// outside the add-ons already found
func (s *Scanner) scanDir(ctx context.Context, dir, original string, col *collector) int {
	nodes, unreadable, err := walkDir(ctx, dir, s.opts.MaxDepth)
	if err != nil {
		if ctx.Err() == nil {
			col.fail("%s: %v", dir, err)
		}
		return 0
	}
	for _, u := range unreadable {
		col.warn("skipped unreadable %s", u)
	}

	det := newDetector(s.opts.MaxDepth, func(p string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
	})
	findings, warnings := det.detect(nodes)
	for _, w := range warnings {
		col.warn("%s: %s", dir, w)
	}

	found := 0
	for _, f := range findings {
		root := dir
		if f.root != "" {
			root = filepath.Join(dir, filepath.FromSlash(f.root))
		}
		col.item(addons.DetectedItem{
			Kind:          f.kind,
			EffectiveRoot: root,
			DisplayName:   displayName(root, dir),
			Navdata:       f.navdata,
			AircraftHint:  f.hint,
			OriginalInput: original,
		})
		found++
	}
	s.log.Debug("Scanned directory", "path", dir, "entries", len(nodes), "found", found)

	detected := roots(findings)
	for _, n := range nodes {
		if n.IsDir || !archive.IsArchiveName(n.Path) || insideAny(detected, n.Path) {
			continue
		}
		if strings.HasPrefix(base(n.Path), ".") {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		found += s.scanArchiveFile(ctx, filepath.Join(dir, filepath.FromSlash(n.Path)), original, col)
	}
	return found
}
