//go:build linux

package entries

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/davstream/internal/core/casters"
	"github.com/davstream/internal/core/flags"
	"github.com/davstream/internal/core/reader"
	"github.com/davstream/internal/core/webdav"
)

type File struct {
	tree  *Tree
	entry webdav.FileEntry
}

var (
	_ fusefs.Node       = (*File)(nil)
	_ fusefs.NodeOpener = (*File)(nil)
)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	*a = casters.EntryAttr(f.entry)
	return nil
}

// Open refuses anything that could modify the file and otherwise starts a
// reader for it. Handles of the same path share one block buffer.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fl := flags.OpenFlag(uint32(req.Flags))
	if fl.Mutates() {
		f.tree.Logger.Logf("refusing open %s with %s", f.entry.Path, fl)
		return nil, fuse.Errno(syscall.EROFS)
	}

	rd := reader.New(f.tree.Backend, f.tree.Origin, f.entry.Path, f.tree.ReaderOpts...)

	size := int64(-1)
	if f.entry.Size != nil {
		size = *f.entry.Size
	}

	return &Handle{
		tree: f.tree,
		path: f.entry.Path,
		rd:   rd,
		buf:  f.tree.Buffers.Acquire(f.tree.cacheKey(f.entry.Path)),
		size: size,
	}, nil
}
