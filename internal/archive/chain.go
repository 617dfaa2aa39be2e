package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding"
)

// Layer is one step of a nested archive chain
type Layer struct {
	Format Format
	// Path is the on-disk path for the outermost layer and the internal path
	// within the parent layer for every nested one
	Path     string
	Password string
}

// ChainOptions tunes how nested layers are materialized
type ChainOptions struct {
	// MaxInMemory is the largest nested layer read into memory. Larger
	// layers, and layers whose format lacks random access over a buffer,
	// are extracted to a temporary file instead
	MaxInMemory  int64
	ScratchDir   string
	NameEncoding encoding.Encoding
}

// ChainStats counts how nested layers were opened
type ChainStats struct {
	InMemory  int
	Temp      int
	Fallbacks int
}

// Chain is an opened stack of nested archives. Close releases every handle
// and removes temporary files on all exit paths
type Chain struct {
	layers  []*Archive
	tempDir string
	opts    ChainOptions
	Stats   ChainStats
}

// OpenChain opens every layer in turn, outermost first, by walking the chain
// in a loop; each step reads the next layer out of the previous one
func OpenChain(ctx context.Context, layers []Layer, opts ChainOptions) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("empty archive chain")
	}

	c := &Chain{opts: opts}
	outer, err := OpenFormat(layers[0].Path, layers[0].Format, c.options(layers[0]))
	if err != nil {
		return nil, err
	}
	c.layers = append(c.layers, outer)

	for _, layer := range layers[1:] {
		if err := ctx.Err(); err != nil {
			_ = c.Close()
			return nil, err
		}
		child, err := c.OpenChild(ctx, c.Innermost(), layer)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.layers = append(c.layers, child)
	}
	return c, nil
}

// NewChain returns an empty chain for callers that manage their own handles
// and only use OpenChild. Close then just removes temporary files
func NewChain(opts ChainOptions) *Chain {
	return &Chain{opts: opts}
}

func (c *Chain) options(layer Layer) Options {
	return Options{Password: layer.Password, NameEncoding: c.opts.NameEncoding}
}

// Innermost returns the archive holding the payload
func (c *Chain) Innermost() *Archive {
	return c.layers[len(c.layers)-1]
}

// Depth returns the number of open layers
func (c *Chain) Depth() int { return len(c.layers) }

// OpenChild opens the nested archive layer stored inside parent. Layers of an
// in-memory capable format that fit the budget are decoded from a buffer;
// everything else, and any failed in-memory attempt, goes through a temporary
// file. The returned archive must be closed by the caller unless it was
// opened by OpenChain
func (c *Chain) OpenChild(ctx context.Context, parent *Archive, layer Layer) (*Archive, error) {
	entry, ok := parent.Lookup(NormalizePath(layer.Path))
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, layer.Path, parent.Name())
	}
	format := layer.Format
	if format == FormatUnknown {
		format = FormatFromExt(layer.Path)
	}
	name := parent.Name() + ChainSeparator + entry.Path

	if format.SupportsInMemory() && (c.opts.MaxInMemory <= 0 || entry.Size <= c.opts.MaxInMemory) {
		child, err := c.openInMemory(parent, entry, name, format, layer)
		if err == nil {
			c.Stats.InMemory++
			return child, nil
		}
		if isPasswordError(err) {
			return nil, err
		}
		c.Stats.Fallbacks++
	}

	child, err := c.openFromTemp(ctx, parent, entry, format, layer)
	if err != nil {
		return nil, err
	}
	c.Stats.Temp++
	return child, nil
}

func (c *Chain) openInMemory(parent *Archive, entry Entry, name string, format Format, layer Layer) (*Archive, error) {
	data, err := parent.ReadFile(entry.Path, c.opts.MaxInMemory)
	if err != nil {
		return nil, err
	}
	return OpenBytes(name, data, format, c.options(layer))
}

func (c *Chain) openFromTemp(ctx context.Context, parent *Archive, entry Entry, format Format, layer Layer) (*Archive, error) {
	if c.tempDir == "" {
		if c.opts.ScratchDir != "" {
			if err := os.MkdirAll(c.opts.ScratchDir, 0o755); err != nil {
				return nil, err
			}
		}
		dir, err := os.MkdirTemp(c.opts.ScratchDir, "layers-")
		if err != nil {
			return nil, fmt.Errorf("create layer directory: %w", err)
		}
		c.tempDir = dir
	}

	f, err := os.CreateTemp(c.tempDir, "layer-*-"+Base(entry.Path))
	if err != nil {
		return nil, err
	}
	dest := f.Name()
	_ = f.Close()
	if err := parent.ExtractFile(ctx, entry.Path, dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	return OpenFormat(dest, format, c.options(layer))
}

// Close closes all layers opened by OpenChain and removes temporary files
func (c *Chain) Close() error {
	var errs []error
	for i := len(c.layers) - 1; i >= 0; i-- {
		if err := c.layers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.layers = nil
	if c.tempDir != "" {
		if err := os.RemoveAll(c.tempDir); err != nil {
			errs = append(errs, err)
		}
		c.tempDir = ""
	}
	return errors.Join(errs...)
}

func isPasswordError(err error) bool {
	return errors.Is(err, ErrPasswordRequired) || errors.Is(err, ErrPasswordIncorrect)
}

// IsPasswordError reports whether err means the password is missing or wrong
func IsPasswordError(err error) bool { return isPasswordError(err) }

// ChainSeparator joins layer paths in chain keys
const ChainSeparator = "!"

// ChainKey identifies a chain as "outer.zip!inner/middle.zip!..."
func ChainKey(layers []Layer) string {
	parts := make([]string, len(layers))
	for i, layer := range layers {
		parts[i] = layer.Path
	}
	return strings.Join(parts, ChainSeparator)
}
