// Package local serves listings and range reads from an afero filesystem,
// for file:// origins and for media already downloaded to disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"

	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/helpers"
	"github.com/davstream/internal/core/logger"
	"github.com/davstream/internal/core/metrics"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/webdav"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

type Backend struct {
	fs      afero.Fs
	logger  logger.FullLogger
	metrics *metrics.Collectors
}

type Option func(*Backend)

func WithLogger(l logger.FullLogger) Option {
	return func(b *Backend) { b.logger = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(b *Backend) { b.metrics = m }
}

// New serves from fsys. Paths are taken as absolute within fsys; wrap it
// in an afero.BasePathFs to confine it to a directory.
func New(fsys afero.Fs, opts ...Option) *Backend {
	b := &Backend{fs: fsys}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Discard()
	}
	return b
}

// fsStatus translates filesystem errors into the status a server would
// have answered with.
func fsStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, true
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden, true
	}
	return 0, false
}

func (b *Backend) mimeType(p string) string {
	if t, ok := helpers.MimeTypeForPath(p); ok {
		return t
	}
	f, err := b.fs.Open(p)
	if err != nil {
		return helpers.DefaultMimeType
	}
	defer f.Close()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return helpers.DefaultMimeType
	}
	return helpers.ResolveMimeType(mt.String(), p)
}

func (b *Backend) FetchRange(ctx context.Context, _ origin.Origin, p string, offset, length int64) (rr *webdav.RangeResponse, err error) {
	const op = "fetch"
	p = origin.CleanPath(p)
	defer func() { b.metrics.ObserveFetch(err) }()

	if !helpers.ValidRange(offset, length) {
		return nil, failure.Invalidf(op, "bad range offset=%d length=%d", offset, length)
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.FromTransport(op, p, err)
	}

	f, err := b.fs.Open(p)
	if err != nil {
		if status, ok := fsStatus(err); ok {
			return nil, failure.FromStatus(op, p, status)
		}
		return nil, failure.FromTransport(op, p, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, failure.FromTransport(op, p, err)
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, failure.FromStatus(op, p, http.StatusMethodNotAllowed)
	}

	size := fi.Size()
	if offset >= size {
		_ = f.Close()
		return nil, failure.FromStatus(op, p, http.StatusRequestedRangeNotSatisfiable)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, failure.FromTransport(op, p, err)
	}

	end := min(offset+length, size) - 1
	header := make(http.Header)
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, size))
	header.Set("Accept-Ranges", "bytes")

	b.logger.Logf("local %s [%d,%d]/%d", p, offset, end, size)
	return &webdav.RangeResponse{
		Status:        http.StatusPartialContent,
		Header:        header,
		Body:          &fileBody{Reader: io.LimitReader(f, end-offset+1), f: f},
		TotalLength:   size,
		ContentType:   b.mimeType(p),
		AcceptsRanges: true,
	}, nil
}

func (b *Backend) ListDirectory(ctx context.Context, _ origin.Origin, dir string) (entries []webdav.FileEntry, err error) {
	const op = "list"
	dir = origin.CleanPath(dir)
	defer func() { b.metrics.ObserveList(err) }()

	if err := ctx.Err(); err != nil {
		return nil, failure.FromTransport(op, dir, err)
	}

	infos, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		if status, ok := fsStatus(err); ok {
			return nil, failure.FromListingStatus(op, dir, status)
		}
		return nil, failure.FromTransport(op, dir, err)
	}

	entries = make([]webdav.FileEntry, 0, len(infos))
	for _, fi := range infos {
		if fi.Name() == "" {
			continue
		}
		e := webdav.FileEntry{
			Name:  fi.Name(),
			Path:  path.Join(dir, fi.Name()),
			IsDir: fi.IsDir(),
		}
		if !fi.IsDir() {
			size := fi.Size()
			e.Size = &size
		}
		mt := fi.ModTime()
		e.ModifiedAt = &mt
		entries = append(entries, e)
	}
	webdav.SortEntries(entries)
	return entries, nil
}

type fileBody struct {
	io.Reader
	f afero.File
}

func (b *fileBody) Close() error {
	return b.f.Close()
}

// OpenFs returns the filesystem a file:// origin resolves to.
func OpenFs(root string) afero.Fs {
	if root == "" || root == "/" {
		return afero.NewOsFs()
	}
	return afero.NewBasePathFs(afero.NewOsFs(), root)
}

