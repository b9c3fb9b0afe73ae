//go:build linux

package fs

import (
	"errors"

	"github.com/davstream/internal/core/checks"
	"github.com/davstream/internal/fs/platform/linux"
	"github.com/davstream/internal/fs/platform/linux/entries"
)

var ErrNoBackend = errors.New("mount needs a backend")

// New returns a read-only FUSE filesystem serving tree.
func New(tree *entries.Tree) (FS, error) {
	if tree == nil || checks.IsNilInterface(tree.Backend) {
		return nil, ErrNoBackend
	}
	return linux.New(tree), nil
}
