//go:build linux

package casters

import (
	"hash/crc32"
	"net/http"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/webdav"
)

const (
	blockSize = 4096
	attrValid = time.Second
)

// Inode derives a stable inode number from an absolute path.
func Inode(p string) uint64 {
	return uint64(crc32.ChecksumIEEE([]byte(p))) + 1
}

// EntryAttr converts a listing entry into read-only FUSE attributes.
func EntryAttr(e webdav.FileEntry) fuse.Attr {
	var mtime time.Time
	if e.ModifiedAt != nil {
		mtime = *e.ModifiedAt
	}

	attr := fuse.Attr{
		Valid: attrValid,
		Inode: Inode(e.Path),
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
	}

	if e.IsDir {
		attr.Mode = os.ModeDir | 0o555
		attr.Nlink = 2
		return attr
	}

	attr.Mode = 0o444
	attr.Nlink = 1
	attr.Size = uint64(e.SizeOrZero())
	attr.Blocks = (attr.Size + blockSize - 1) / blockSize
	attr.BlockSize = blockSize
	return attr
}

// Errno maps a classified failure to the errno the kernel should see.
func Errno(err error) error {
	if err == nil {
		return nil
	}
	switch failure.KindOf(err) {
	case failure.Auth:
		return fuse.Errno(syscall.EACCES)
	case failure.HTTPError, failure.UnexpectedStatus:
		switch failure.StatusOf(err) {
		case http.StatusNotFound, http.StatusGone:
			return fuse.Errno(syscall.ENOENT)
		case http.StatusRequestedRangeNotSatisfiable:
			return fuse.Errno(syscall.ERANGE)
		}
		return fuse.Errno(syscall.EIO)
	case failure.Invalid:
		return fuse.Errno(syscall.EINVAL)
	case failure.Cancelled:
		return fuse.Errno(syscall.EINTR)
	}
	return fuse.Errno(syscall.EIO)
}
