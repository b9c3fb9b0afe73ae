package fs

import "context"

// FS is a mounted view of a remote tree. Mount blocks until ctx is done or
// the kernel connection ends, then unmounts.
type FS interface {
	Mount(ctx context.Context, mountpoint string) error
	Unmount() error
}
