//go:build linux

package entries

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/avast/retry-go/v4"
	"github.com/davstream/internal/core/cache"
	"github.com/davstream/internal/core/casters"
	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/reader"
)

type Handle struct {
	tree *Tree
	path string
	rd   *reader.Reader
	buf  *cache.FileBuffer

	mu   sync.Mutex
	size int64 // -1 until known
	once sync.Once
}

var (
	_ fusefs.HandleReader   = (*Handle)(nil)
	_ fusefs.HandleReleaser = (*Handle)(nil)
)

// fileSize returns the listed size, or probes the server when the listing
// did not carry one.
func (h *Handle) fileSize(ctx context.Context) int64 {
	h.mu.Lock()
	size := h.size
	h.mu.Unlock()
	if size >= 0 {
		return size
	}

	m, err := h.rd.ProbeMetadata(ctx)
	if err != nil {
		h.tree.Logger.Errorf("probe %s: %v", h.path, err)
		return -1
	}

	h.mu.Lock()
	h.size = m.TotalLength
	h.mu.Unlock()
	return m.TotalLength
}

func (h *Handle) loader(ctx context.Context) cache.LoadFunc {
	bs := h.buf.BlockSize()
	return func(idx int64) ([]byte, error) {
		off := idx * bs
		length := bs
		if size := h.fileSize(ctx); size >= 0 {
			if off >= size {
				return nil, nil
			}
			length = min(bs, size-off)
		}

		data, err := retry.DoWithData(
			func() ([]byte, error) {
				return h.rd.Read(ctx, reader.ReadRequest{Offset: off, Length: length}).Wait(ctx)
			},
			retry.Context(ctx),
			retry.Attempts(h.tree.Retries),
			retry.Delay(h.tree.RetryDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return failure.Is(err, failure.Network)
			}),
			retry.OnRetry(func(n uint, err error) {
				h.tree.Logger.Logf("retry %d for %s block %d: %v", n+1, h.path, idx, err)
			}),
		)
		if failure.StatusOf(err) == http.StatusRequestedRangeNotSatisfiable {
			// past the end of a file whose size was not listed
			return nil, nil
		}
		return data, err
	}
}

func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	p := make([]byte, req.Size)
	n, err := h.buf.ReadAt(p, req.Offset, h.loader(ctx))
	if err != nil && !errors.Is(err, io.EOF) {
		h.tree.Logger.Errorf("read %s at %d: %v", h.path, req.Offset, err)
		return casters.Errno(failure.FromTransport("read", h.path, err))
	}
	resp.Data = p[:n]
	return nil
}

func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.once.Do(func() {
		_ = h.rd.Close()
		h.tree.Buffers.Release(h.tree.cacheKey(h.path))
	})
	return nil
}
