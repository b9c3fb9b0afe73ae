// Package reader presents one remote resource as a randomly readable file.
// Reads are dispatched asynchronously; each returns a Future and can be
// cancelled by id until it resolves.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/helpers"
	"github.com/davstream/internal/core/inflight"
	"github.com/davstream/internal/core/logger"
	"github.com/davstream/internal/core/metrics"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/webdav"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultProbeLength = 1

	chunkSize = 32 << 10
	// upper bound for the initial buffer so huge requests grow on demand
	maxPrealloc = 4 << 20
)

var (
	errClosed = errors.New("reader closed")
	// errIdle wraps DeadlineExceeded so it classifies as Network.
	errIdle = fmt.Errorf("no data received within timeout: %w", context.DeadlineExceeded)
)

// Fetcher is the range transport a Reader drives. webdav.Client,
// wrappers.DavBackend and local.Backend all satisfy it.
type Fetcher interface {
	FetchRange(ctx context.Context, o origin.Origin, p string, offset, length int64) (*webdav.RangeResponse, error)
}

type ContentMetadata struct {
	TotalLength         int64 // -1 when the server did not say
	MimeType            string
	SupportsRangeAccess bool
}

// ReadRequest asks for [Offset, Offset+Length). A zero ID is replaced with a
// fresh one. OnData, when set, sees every chunk in arrival order before the
// future resolves; it may race a concurrent Cancel by one chunk.
type ReadRequest struct {
	ID     uuid.UUID
	Offset int64
	Length int64
	OnData func(chunk []byte)
}

type Reader struct {
	fetcher Fetcher
	origin  origin.Origin
	path    string

	timeout     time.Duration
	probeLength int64
	registry    *inflight.Registry
	logger      logger.FullLogger
	metrics     *metrics.Collectors

	probes singleflight.Group

	mu      sync.Mutex
	meta    *ContentMetadata
	pending map[uuid.UUID]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	reads  atomic.Int64
}

type Option func(*Reader)

// WithTimeout bounds how long a read or probe waits for response headers
// and for each next body chunk. A stream that keeps delivering is never
// cut off. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) { r.timeout = d }
}

// WithRegistry shares a cancellation registry between readers.
func WithRegistry(reg *inflight.Registry) Option {
	return func(r *Reader) { r.registry = reg }
}

func WithLogger(l logger.FullLogger) Option {
	return func(r *Reader) { r.logger = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(r *Reader) { r.metrics = m }
}

func WithProbeLength(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.probeLength = n
		}
	}
}

func New(f Fetcher, o origin.Origin, p string, opts ...Option) *Reader {
	r := &Reader{
		fetcher:     f,
		origin:      o,
		path:        origin.CleanPath(p),
		timeout:     DefaultTimeout,
		probeLength: DefaultProbeLength,
		pending:     make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Discard()
	}
	if r.registry == nil {
		r.registry = inflight.NewRegistry(r.metrics)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

func (r *Reader) Origin() origin.Origin { return r.origin }
func (r *Reader) Path() string          { return r.path }

// withIdleTimeout derives a context that is cancelled with errIdle once
// the timeout passes without touch being called. Callers touch it when
// headers arrive and after every body chunk, so a slow but steady stream
// never trips it.
func (r *Reader) withIdleTimeout(ctx context.Context) (context.Context, func(), context.CancelFunc) {
	if r.timeout <= 0 {
		c, cancel := context.WithCancel(ctx)
		return c, func() {}, cancel
	}

	c, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(r.timeout, func() { cancel(errIdle) })
	touch := func() { timer.Reset(r.timeout) }
	stop := func() {
		timer.Stop()
		cancel(context.Canceled)
	}
	return c, touch, stop
}

// cause prefers the reason ctx was cancelled over the error the transport
// reported for it, so an idle timeout classifies as Network.
func cause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if c := context.Cause(ctx); c != nil {
			return c
		}
	}
	return err
}

// touchReader calls touch after every read that returned data.
type touchReader struct {
	r     io.Reader
	touch func()
}

func (t *touchReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.touch()
	}
	return n, err
}

// Metadata returns the cached metadata without touching the network.
func (r *Reader) Metadata() (ContentMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		return ContentMetadata{}, false
	}
	return *r.meta, true
}

func supportsRange(rr *webdav.RangeResponse) bool {
	return rr.Status != http.StatusOK && rr.AcceptsRanges
}

// ProbeMetadata resolves the resource's metadata with a minimal range
// fetch. Concurrent callers share one probe; only success is cached.
func (r *Reader) ProbeMetadata(ctx context.Context) (ContentMetadata, error) {
	if m, ok := r.Metadata(); ok {
		return m, nil
	}

	ch := r.probes.DoChan("probe", func() (any, error) {
		if m, ok := r.Metadata(); ok {
			return m, nil
		}

		// the probe outlives any single caller; only Close or the timeout stop it
		pctx, touch, stop := r.withIdleTimeout(r.ctx)
		defer stop()

		r.logger.Logf("probe %s%s", r.origin, r.path)
		rr, err := r.fetcher.FetchRange(pctx, r.origin, r.path, 0, r.probeLength)
		if err != nil {
			err = failure.FromTransport("probe", r.path, cause(pctx, err))
			r.logger.Errorf("probe %s%s: %v", r.origin, r.path, err)
			return ContentMetadata{}, err
		}
		defer rr.Close()
		touch()
		_, _ = io.Copy(io.Discard, io.LimitReader(&touchReader{r: rr.Body, touch: touch}, r.probeLength))

		meta := ContentMetadata{
			TotalLength:         rr.TotalLength,
			MimeType:            rr.ContentType,
			SupportsRangeAccess: supportsRange(rr),
		}
		r.mu.Lock()
		r.meta = &meta
		r.mu.Unlock()

		r.logger.Logf("probe %s%s: total=%d type=%s ranges=%t", r.origin, r.path, meta.TotalLength, meta.MimeType, meta.SupportsRangeAccess)
		return meta, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return ContentMetadata{}, res.Err
		}
		return res.Val.(ContentMetadata), nil
	case <-ctx.Done():
		return ContentMetadata{}, failure.FromTransport("probe", r.path, ctx.Err())
	}
}

// seed fills the metadata cache from a read response if no probe did.
func (r *Reader) seed(rr *webdav.RangeResponse) {
	if rr.TotalLength < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta != nil {
		return
	}
	r.meta = &ContentMetadata{
		TotalLength:         rr.TotalLength,
		MimeType:            rr.ContentType,
		SupportsRangeAccess: supportsRange(rr),
	}
}

func validate(req ReadRequest) error {
	if req.Offset < 0 {
		return failure.Invalidf("read", "offset must not be negative, got %d", req.Offset)
	}
	if req.Length <= 0 {
		return failure.Invalidf("read", "length must be positive, got %d", req.Length)
	}
	if !helpers.ValidRange(req.Offset, req.Length) {
		return failure.Invalidf("read", "range overflows: offset=%d length=%d", req.Offset, req.Length)
	}
	return nil
}

// Read dispatches req and returns immediately. Invalid requests resolve
// at once without any network traffic.
func (r *Reader) Read(ctx context.Context, req ReadRequest) *Future {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	f := newFuture(req.ID)
	start := time.Now()

	if err := validate(req); err != nil {
		r.metrics.ObserveRead(0, 0, err)
		f.deliver(nil, err)
		return f
	}

	opCtx, touch, cancel := r.withIdleTimeout(ctx)
	abort := func() {
		cancel()
		err := failure.New(failure.Cancelled, "read", r.path, context.Canceled)
		r.metrics.ObserveRead(time.Since(start), 0, err)
		f.deliver(nil, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		f.deliver(nil, failure.New(failure.Cancelled, "read", r.path, errClosed))
		return f
	}
	if err := r.registry.Register(inflight.NewOperation(req.ID, abort)); err != nil {
		r.mu.Unlock()
		cancel()
		f.deliver(nil, err)
		return f
	}
	r.pending[req.ID] = struct{}{}
	r.wg.Go(func() {
		defer cancel()
		r.run(opCtx, touch, req, f, start)
	})
	r.mu.Unlock()

	return f
}

func (r *Reader) run(ctx context.Context, touch func(), req ReadRequest, f *Future, start time.Time) {
	n := r.reads.Add(1)
	r.logger.Logf("read #%d %s [%d,+%d)", n, req.ID, req.Offset, req.Length)

	data, err := r.fetch(ctx, touch, req, f)

	r.mu.Lock()
	delete(r.pending, req.ID)
	r.mu.Unlock()

	// a canceller that removed the entry first has already delivered
	if !r.registry.Complete(req.ID) {
		r.logger.Logf("read #%d %s: cancelled", n, req.ID)
		return
	}

	r.metrics.ObserveRead(time.Since(start), len(data), err)
	if err != nil {
		r.logger.Errorf("read %s%s [%d,+%d): %v", r.origin, r.path, req.Offset, req.Length, err)
		data = nil
	} else {
		r.logger.Logf("read #%d %s: %d bytes in %s", n, req.ID, len(data), time.Since(start))
	}
	f.deliver(data, err)
}

func (r *Reader) fetch(ctx context.Context, touch func(), req ReadRequest, f *Future) ([]byte, error) {
	const op = "read"

	rr, err := r.fetcher.FetchRange(ctx, r.origin, r.path, req.Offset, req.Length)
	if err != nil {
		return nil, failure.FromTransport(op, r.path, cause(ctx, err))
	}
	defer rr.Close()
	touch()

	src := &touchReader{r: rr.Body, touch: touch}

	// the server ignored the Range header and sent everything
	if rr.Status == http.StatusOK && req.Offset > 0 {
		if _, err := io.CopyN(io.Discard, src, req.Offset); err != nil {
			if errors.Is(err, io.EOF) {
				r.seed(rr)
				return nil, failure.FromStatus(op, r.path, http.StatusRequestedRangeNotSatisfiable)
			}
			return nil, failure.FromTransport(op, r.path, cause(ctx, err))
		}
	}

	out := make([]byte, 0, min(req.Length, maxPrealloc))
	body := io.LimitReader(src, req.Length)
	chunk := make([]byte, chunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			out = append(out, chunk[:n]...)
			if req.OnData != nil && !f.isResolved() {
				req.OnData(append([]byte(nil), chunk[:n]...))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failure.FromTransport(op, r.path, cause(ctx, err))
		}
	}

	r.seed(rr)
	return out, nil
}

// Cancel aborts the read with the given id. Unknown or finished ids are
// ignored.
func (r *Reader) Cancel(id uuid.UUID) {
	if r.registry.Cancel(id) {
		r.logger.Logf("cancel %s", id)
	}
}

// ReadAt is a blocking io.ReaderAt-style wrapper for pull consumers.
func (r *Reader) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	length := int64(len(p))
	if m, ok := r.Metadata(); ok && m.TotalLength >= 0 {
		if off >= m.TotalLength {
			return 0, io.EOF
		}
		length = min(length, m.TotalLength-off)
	}

	data, err := r.Read(ctx, ReadRequest{Offset: off, Length: length}).Wait(ctx)
	n := copy(p, data)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close cancels every read this reader still has in flight, stops a
// running probe and waits for all workers to exit.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := make([]uuid.UUID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.registry.Cancel(id)
	}
	r.cancel()
	r.wg.Wait()
	return nil
}
