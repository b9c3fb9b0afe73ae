//go:build linux

package entries

import (
	"context"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/davstream/internal/core/casters"
	"github.com/davstream/internal/core/webdav"
)

type Dir struct {
	tree  *Tree
	entry webdav.FileEntry
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
)

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	*a = casters.EntryAttr(d.entry)
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	e, err := d.tree.lookup(ctx, d.entry.Path, name)
	if err != nil {
		if _, ok := err.(fuse.Errno); ok {
			return nil, err
		}
		return nil, casters.Errno(err)
	}
	return d.tree.node(e), nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	d.tree.Logger.Logf("ReadDirAll %s", d.entry.Path)

	entries, err := d.tree.list(ctx, d.entry.Path)
	if err != nil {
		return nil, casters.Errno(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		t := fuse.DT_File
		if e.IsDir {
			t = fuse.DT_Dir
		}
		dirents = append(dirents, fuse.Dirent{
			Inode: casters.Inode(e.Path),
			Name:  e.Name,
			Type:  t,
		})
	}
	return dirents, nil
}
