//go:build linux

package linux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/davstream/internal/fs/platform/linux/entries"
)

const fsName = "davstream"

type FuseFS struct {
	tree *entries.Tree
	root *entries.Dir

	// runtime mount state:
	mu         sync.Mutex
	mountpoint string
	conn       *fuse.Conn
	mounted    bool
}

func New(tree *entries.Tree) *FuseFS {
	return &FuseFS{tree: tree}
}

func (fs *FuseFS) Root() (fusefs.Node, error) {
	return fs.root, nil
}

// Mount serves the tree read-only on mountpoint until ctx is done or the
// filesystem is unmounted from outside.
func (fs *FuseFS) Mount(ctx context.Context, mountpoint string) error {
	fs.mu.Lock()
	if fs.mounted {
		fs.mu.Unlock()
		return fmt.Errorf("already mounted at %q", fs.mountpoint)
	}

	if _, err := os.Stat(mountpoint); err != nil {
		fs.mu.Unlock()
		return fmt.Errorf("cannot access mountpoint %q: %w", mountpoint, err)
	}

	root := fs.tree.RootDir()
	log := fs.tree.Logger
	log.Logf("Mounting %s%s on %s", fs.tree.Origin, fs.tree.Root, mountpoint)

	c, err := fuse.Mount(
		mountpoint,
		fuse.FSName(fsName),
		fuse.Subtype(fsName),
		fuse.ReadOnly(),
	)
	if err != nil {
		fs.mu.Unlock()
		return fmt.Errorf("fuse mount failed: %w", err)
	}

	fs.root = root
	fs.mountpoint = mountpoint
	fs.conn = c
	fs.mounted = true
	fs.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- fusefs.Serve(c, fs)
	}()
	log.Log("Fuse is serving")

	select {
	case <-ctx.Done():
		log.Log("Shutting down")
		if err := fs.Unmount(); err != nil {
			return err
		}
		return <-serveErr
	case err := <-serveErr:
		_ = fs.Unmount()
		if err != nil {
			return fmt.Errorf("fuse serve: %w", err)
		}
		return nil
	}
}

// Unmount stops serving, unmounts the filesystem and releases resources.
// It is safe to call multiple times.
func (fs *FuseFS) Unmount() error {
	fs.mu.Lock()
	mounted := fs.mounted
	mp := fs.mountpoint
	conn := fs.conn

	fs.mounted = false
	fs.mountpoint = ""
	fs.conn = nil
	fs.mu.Unlock()

	if !mounted {
		return nil
	}

	log := fs.tree.Logger
	if err := fuse.Unmount(mp); err != nil {
		// busy mounts need a lazy unmount
		log.Errorf("fuse.Unmount error: %v", err)
		if ex := exec.Command("fusermount3", "-uz", mp).Run(); ex != nil {
			log.Errorf("fusermount3 -uz failed: %v", ex)
		}
	}

	if conn != nil {
		_ = conn.Close()
	}

	log.Logf("Unmounted %s", mp)
	return nil
}
