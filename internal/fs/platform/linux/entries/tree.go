//go:build linux

package entries

import (
	"context"
	"path"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/davstream/internal/core/cache"
	"github.com/davstream/internal/core/logger"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/reader"
	"github.com/davstream/internal/core/webdav"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// Backend is what the mount needs from a transport: listings to walk the
// tree and range fetches to read files.
type Backend interface {
	reader.Fetcher
	ListDirectory(ctx context.Context, o origin.Origin, dir string) ([]webdav.FileEntry, error)
}

// Tree holds the state shared by every node of one mount.
type Tree struct {
	Backend Backend
	Origin  origin.Origin
	Root    string
	Logger  logger.FullLogger

	// Listings caches directory listings; nil disables caching.
	Listings *cache.NodeCache
	// Buffers shares read blocks between handles of the same file.
	Buffers *cache.BufferCache

	ReaderOpts []reader.Option
	// Retries is the number of attempts for a block that failed with a
	// network error.
	Retries    uint
	RetryDelay time.Duration
}

func (t *Tree) init() {
	if t.Logger == nil {
		t.Logger = logger.Discard()
	}
	if t.Buffers == nil {
		t.Buffers = cache.NewBufferCache(cache.DefaultBlockSize, cache.DefaultMaxBlocks)
	}
	if t.Retries == 0 {
		t.Retries = defaultRetries
	}
	if t.RetryDelay == 0 {
		t.RetryDelay = defaultRetryDelay
	}
	t.Root = origin.CleanPath(t.Root)
}

// RootDir returns the node for the mount root.
func (t *Tree) RootDir() *Dir {
	t.init()
	return &Dir{
		tree:  t,
		entry: webdav.FileEntry{Name: path.Base(t.Root), Path: t.Root, IsDir: true},
	}
}

func (t *Tree) cacheKey(p string) string {
	return cache.Key(t.Origin.Key(), p)
}

func (t *Tree) list(ctx context.Context, dir string) ([]webdav.FileEntry, error) {
	key := t.cacheKey(dir)
	if t.Listings != nil {
		if children, ok := t.Listings.GetChildren(key); ok {
			return children, nil
		}
	}

	entries, err := t.Backend.ListDirectory(ctx, t.Origin, dir)
	if err != nil {
		t.Logger.Errorf("list %s: %v", dir, err)
		return nil, err
	}
	if t.Listings != nil {
		t.Listings.SetChildren(key, entries)
		for _, e := range entries {
			t.Listings.Set(t.cacheKey(e.Path), e)
		}
	}
	return entries, nil
}

func (t *Tree) lookup(ctx context.Context, dir, name string) (webdav.FileEntry, error) {
	if t.Listings != nil {
		if e, ok := t.Listings.Get(t.cacheKey(path.Join(dir, name))); ok {
			return e, nil
		}
	}

	entries, err := t.list(ctx, dir)
	if err != nil {
		return webdav.FileEntry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return webdav.FileEntry{}, fuse.Errno(syscall.ENOENT)
}

func (t *Tree) node(e webdav.FileEntry) fusefs.Node {
	if e.IsDir {
		return &Dir{tree: t, entry: e}
	}
	return &File{tree: t, entry: e}
}
