package wrappers

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/davstream/internal/core/cache"
	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/helpers"
	"github.com/davstream/internal/core/logger"
	"github.com/davstream/internal/core/metrics"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/webdav"
	"github.com/davstream/internal/interfaces"
	"github.com/studio-b12/gowebdav"
)

// DavBackend serves listings and range reads through gowebdav. It keeps
// one gowebdav.Client per origin and caches stats and listings.
type DavBackend struct {
	mu      sync.Mutex
	clients map[string]*gowebdav.Client

	cache     *cache.NodeCache
	creds     interfaces.CredentialStore
	transport http.RoundTripper
	logger    logger.FullLogger
	metrics   *metrics.Collectors
}

type Option func(*DavBackend)

func WithCache(c *cache.NodeCache) Option {
	return func(w *DavBackend) { w.cache = c }
}

func WithCredentialStore(cs interfaces.CredentialStore) Option {
	return func(w *DavBackend) { w.creds = cs }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(w *DavBackend) { w.transport = rt }
}

func WithLogger(l logger.FullLogger) Option {
	return func(w *DavBackend) { w.logger = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(w *DavBackend) { w.metrics = m }
}

func NewDavBackend(opts ...Option) *DavBackend {
	w := &DavBackend{clients: make(map[string]*gowebdav.Client)}
	for _, opt := range opts {
		opt(w)
	}
	if w.cache == nil {
		w.cache = cache.NewNodeCache(cache.DefaultTTL, cache.DefaultMaxEntries)
	}
	if w.logger == nil {
		w.logger = logger.Discard()
	}
	return w
}

func (w *DavBackend) client(o origin.Origin) *gowebdav.Client {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.clients[o.Key()]; ok {
		return c
	}

	cred, ok := o.Credential()
	if !ok && w.creds != nil {
		cred, _ = w.creds.LookupCredential(o)
	}
	c := gowebdav.NewClient(o.String(), cred.Username, cred.Password)
	if w.transport != nil {
		c.SetTransport(w.transport)
	}
	w.clients[o.Key()] = c
	return c
}

// call runs fn off the caller's goroutine so ctx can abandon it; gowebdav
// has no context support. A result that arrives after ctx is done is
// released instead of leaked.
func call[T any](ctx context.Context, fn func() (T, error), release func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil && release != nil {
				release(res.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

// classify maps gowebdav errors onto the failure taxonomy.
func classify(op, p string, err error, listing bool) error {
	if err == nil {
		return nil
	}
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		if listing {
			return failure.FromListingStatus(op, p, se.Status)
		}
		return failure.FromStatus(op, p, se.Status)
	}
	var syn *xml.SyntaxError
	if errors.As(err, &syn) {
		return failure.New(failure.ParseError, op, p, err)
	}
	return failure.FromTransport(op, p, err)
}

func toEntry(dir string, fi os.FileInfo) webdav.FileEntry {
	e := webdav.FileEntry{
		Name:  fi.Name(),
		Path:  path.Join(dir, fi.Name()),
		IsDir: fi.IsDir(),
	}
	if !fi.IsDir() {
		size := fi.Size()
		e.Size = &size
	}
	if mt := fi.ModTime(); !mt.IsZero() {
		e.ModifiedAt = &mt
	}
	return e
}

func (w *DavBackend) stat(ctx context.Context, o origin.Origin, p string) (webdav.FileEntry, string, error) {
	key := cache.Key(o.Key(), p)
	if fe, ok := w.cache.Get(key); ok {
		return fe, "", nil
	}

	c := w.client(o)
	fi, err := call(ctx, func() (os.FileInfo, error) { return c.Stat(p) }, nil)
	if err != nil {
		return webdav.FileEntry{}, "", classify("stat", p, err, false)
	}

	fe := toEntry(path.Dir(p), fi)
	fe.Path = strings.TrimSuffix(p, "/")
	w.cache.Set(key, fe)

	var ctype string
	if f, ok := fi.(*gowebdav.File); ok {
		ctype = f.ContentType()
	}
	return fe, ctype, nil
}

// ListDirectory lists dir through PROPFIND, served from the node cache
// while fresh.
func (w *DavBackend) ListDirectory(ctx context.Context, o origin.Origin, dir string) (entries []webdav.FileEntry, err error) {
	dir = origin.CleanPath(dir)
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	defer func() { w.metrics.ObserveList(err) }()

	key := cache.Key(o.Key(), dir)
	if children, ok := w.cache.GetChildren(key); ok {
		return children, nil
	}

	c := w.client(o)
	infos, err := call(ctx, func() ([]os.FileInfo, error) { return c.ReadDir(dir) }, nil)
	if err != nil {
		w.logger.Errorf("ReadDir %s%s: %v", o, dir, err)
		return nil, classify("list", dir, err, true)
	}

	entries = make([]webdav.FileEntry, 0, len(infos))
	for _, fi := range infos {
		if fi.Name() == "" {
			continue
		}
		entries = append(entries, toEntry(strings.TrimSuffix(dir, "/"), fi))
	}
	webdav.SortEntries(entries)

	w.cache.SetChildren(key, entries)
	w.logger.Logf("ReadDir %s%s: %d entries", o, dir, len(entries))
	return entries, nil
}

// FetchRange streams [offset, offset+length). gowebdav already trims a full
// 200 body down to the range, so the response is always reported as 206.
func (w *DavBackend) FetchRange(ctx context.Context, o origin.Origin, p string, offset, length int64) (rr *webdav.RangeResponse, err error) {
	const op = "fetch"
	p = origin.CleanPath(p)
	defer func() { w.metrics.ObserveFetch(err) }()

	if !helpers.ValidRange(offset, length) {
		return nil, failure.Invalidf(op, "bad range offset=%d length=%d", offset, length)
	}

	fe, ctype, err := w.stat(ctx, o, p)
	if err != nil {
		return nil, err
	}

	c := w.client(o)
	body, err := call(ctx,
		func() (io.ReadCloser, error) { return c.ReadStreamRange(p, offset, length) },
		func(rc io.ReadCloser) { _ = rc.Close() },
	)
	if err != nil {
		w.logger.Errorf("ReadStreamRange %s%s [%d,+%d): %v", o, p, offset, length, err)
		return nil, classify(op, p, err, false)
	}

	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	total := int64(-1)
	if fe.Size != nil {
		total = *fe.Size
	}

	header := make(http.Header)
	header.Set("Range", helpers.RangeHeader(offset, length))

	return &webdav.RangeResponse{
		Status:        http.StatusPartialContent,
		Header:        header,
		Body:          &ctxBody{ReadCloser: body, stop: stop},
		TotalLength:   total,
		ContentType:   helpers.ResolveMimeType(ctype, p),
		AcceptsRanges: true,
	}, nil
}

// Invalidate forgets cached state for p and its parent listing.
func (w *DavBackend) Invalidate(o origin.Origin, p string) {
	w.cache.Invalidate(cache.Key(o.Key(), origin.CleanPath(p)))
}

type ctxBody struct {
	io.ReadCloser
	stop func() bool
}

func (b *ctxBody) Close() error {
	b.stop()
	return b.ReadCloser.Close()
}
