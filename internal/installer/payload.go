package installer

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/bnema/xpinstall/internal/addons"
	"github.com/bnema/xpinstall/internal/archive"
)

// payload writes one task's content into a directory
type payload interface {
	phase() Phase
	// write puts the content below dest, reporting every path it creates
	write(ctx context.Context, dest string, onCreate func(string, bool)) error
	// verify checks what the last write produced
	verify(ctx context.Context) error
	close() error
}

// writeOptions are shared by both payload kinds
type writeOptions struct {
	workers  int
	maxBytes int64
	rep      *reporter
}

// archivePayload extracts a subtree of the innermost layer of a chain
type archivePayload struct {
	item      addons.DetectedItem
	chainOpts archive.ChainOptions
	opts      writeOptions

	chain   *archive.Chain
	written []archive.Extracted
}

func (p *archivePayload) phase() Phase { return PhaseExtracting }

func (p *archivePayload) open(ctx context.Context) (*archive.Archive, error) {
	if p.chain == nil {
		c, err := archive.OpenChain(ctx, p.item.Chain.Layers(), p.chainOpts)
		if err != nil {
			return nil, err
		}
		p.chain = c
	}
	return p.chain.Innermost(), nil
}

func (p *archivePayload) write(ctx context.Context, dest string, onCreate func(string, bool)) error {
	arc, err := p.open(ctx)
	if err != nil {
		return err
	}
	written, err := arc.ExtractSubtree(ctx, p.item.EffectiveRoot, dest, archive.ExtractOptions{
		Workers:  p.opts.workers,
		MaxBytes: p.opts.maxBytes,
		OnFile:   p.opts.rep.file,
		OnBytes:  p.opts.rep.add,
		OnCreate: onCreate,
	})
	if err != nil {
		return err
	}
	p.written = written
	return nil
}

// verify compares sizes with the listing, and CRC32 where the header has one
func (p *archivePayload) verify(ctx context.Context) error {
	for _, w := range p.written {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.opts.rep.file(w.Rel)
		info, err := os.Stat(w.Dest)
		if err != nil {
			return fmt.Errorf("verify %s: %w", w.Rel, err)
		}
		if info.Size() != w.Entry.Size {
			return fmt.Errorf("%w: %s is %d bytes, archive declares %d", archive.ErrCorrupted, w.Rel, info.Size(), w.Entry.Size)
		}
		if w.Entry.CRC32 == 0 || w.Entry.Encrypted {
			continue
		}
		sum, err := crcFile(w.Dest)
		if err != nil {
			return fmt.Errorf("verify %s: %w", w.Rel, err)
		}
		if sum != w.Entry.CRC32 {
			return fmt.Errorf("%w: %s checksum %08x, archive declares %08x", archive.ErrCorrupted, w.Rel, sum, w.Entry.CRC32)
		}
	}
	return nil
}

func (p *archivePayload) close() error {
	if p.chain == nil {
		return nil
	}
	err := p.chain.Close()
	p.chain = nil
	return err
}

// Stats reports how nested layers were opened, zero before the first write
func (p *archivePayload) stats() archive.ChainStats {
	if p.chain == nil {
		return archive.ChainStats{}
	}
	return p.chain.Stats
}

func crcFile(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

// dirPayload copies a directory tree
type dirPayload struct {
	root   string
	opts   writeOptions
	copied []copiedFile
}

func (p *dirPayload) phase() Phase { return PhaseCopying }

func (p *dirPayload) write(ctx context.Context, dest string, onCreate func(string, bool)) error {
	copied, err := copyTree(ctx, p.root, dest, p.opts, onCreate)
	if err != nil {
		return err
	}
	p.copied = copied
	return nil
}

func (p *dirPayload) verify(ctx context.Context) error {
	return verifyCopies(ctx, p.copied, p.opts)
}

func (p *dirPayload) close() error { return nil }
