package webdav

import (
	"context"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/helpers"
	"github.com/davstream/internal/core/logger"
	"github.com/davstream/internal/core/metrics"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/interfaces"
)

// Client talks plain HTTP to WebDAV servers. It lists directories with
// PROPFIND and reads byte ranges with GET; nothing else.
type Client struct {
	httpClient *http.Client
	creds      interfaces.CredentialStore
	logger     logger.FullLogger
	metrics    *metrics.Collectors
}

type Option func(*Client)

// WithHTTPClient replaces the transport. The client must not set a global
// Timeout: bodies are streamed and bounded by the request context instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithCredentialStore(cs interfaces.CredentialStore) Option {
	return func(c *Client) { c.creds = cs }
}

func WithLogger(l logger.FullLogger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Client) { c.metrics = m }
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient()
	}
	if c.logger == nil {
		c.logger = logger.Discard()
	}
	return c
}

// authorize attaches a pre-computed Basic header. The origin's own
// credential wins over the store.
func (c *Client) authorize(req *http.Request, o origin.Origin) {
	cred, ok := o.Credential()
	if !ok && c.creds != nil {
		cred, ok = c.creds.LookupCredential(o)
	}
	if ok && !cred.IsZero() {
		req.Header.Set("Authorization", cred.AuthorizationHeader())
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}

// ListDirectory returns the children of dir, directories first and then by
// case-insensitive name. The entry for dir itself is never included.
func (c *Client) ListDirectory(ctx context.Context, o origin.Origin, dir string) (entries []FileEntry, err error) {
	const op = "list"
	dir = origin.CleanPath(dir)
	defer func() { c.metrics.ObserveList(err) }()

	// collections are addressed with a trailing slash so servers do not
	// answer with a redirect, which would turn PROPFIND into GET
	target := dir
	if !strings.HasSuffix(target, "/") {
		target += "/"
	}

	req, err := http.NewRequestWithContext(ctx, PROPFIND, o.URL(target).String(), strings.NewReader(propfindBody))
	if err != nil {
		return nil, failure.New(failure.Invalid, op, dir, err)
	}
	req.Header.Set(DepthHeader, "1")
	req.Header.Set("Content-Type", "application/xml")
	c.authorize(req, o)

	c.logger.Logf("PROPFIND %s", req.URL.Redacted())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Errorf("PROPFIND %s failed: %v", req.URL.Redacted(), err)
		return nil, failure.FromTransport(op, dir, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != StatusMultiStatus {
		c.logger.Errorf("PROPFIND %s: unexpected status %d", req.URL.Redacted(), resp.StatusCode)
		return nil, failure.FromListingStatus(op, dir, resp.StatusCode)
	}

	entries, err = ParseMultiStatus(resp.Body, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.FromTransport(op, dir, ctx.Err())
		}
		return nil, failure.New(failure.ParseError, op, dir, err)
	}

	c.logger.Logf("PROPFIND %s: %d entries", dir, len(entries))
	return entries, nil
}

// ParseMultiStatus decodes a Depth:1 PROPFIND body listed for dir. Any
// decoding error fails the whole listing; no partial result is returned.
func ParseMultiStatus(r io.Reader, dir string) ([]FileEntry, error) {
	var ms Multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, err
	}

	self := trimSlash(origin.CleanPath(dir))
	entries := make([]FileEntry, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		entry, ok := ToFileEntry(resp)
		if !ok {
			continue
		}
		if entry.Path == self {
			continue
		}
		entries = append(entries, entry)
	}

	SortEntries(entries)
	return entries, nil
}

// FetchRange issues one GET for [offset, offset+length). On success the
// body is handed to the caller unread; statuses >= 400 are failures and
// no body bytes are delivered.
func (c *Client) FetchRange(ctx context.Context, o origin.Origin, p string, offset, length int64) (rr *RangeResponse, err error) {
	const op = "fetch"
	p = origin.CleanPath(p)
	defer func() { c.metrics.ObserveFetch(err) }()

	if !helpers.ValidRange(offset, length) {
		return nil, failure.Invalidf(op, "bad range offset=%d length=%d", offset, length)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL(p).String(), nil)
	if err != nil {
		return nil, failure.New(failure.Invalid, op, p, err)
	}
	req.Header.Set("Range", helpers.RangeHeader(offset, length))
	c.authorize(req, o)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Errorf("GET %s %s failed: %v", req.URL.Redacted(), req.Header.Get("Range"), err)
		return nil, failure.FromTransport(op, p, err)
	}

	if resp.StatusCode >= 400 {
		drain(resp.Body)
		c.logger.Errorf("GET %s %s: status %d", req.URL.Redacted(), req.Header.Get("Range"), resp.StatusCode)
		return nil, failure.FromStatus(op, p, resp.StatusCode)
	}

	rr = &RangeResponse{
		Status:        resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		TotalLength:   helpers.TotalLength(resp.StatusCode, resp.Header, resp.ContentLength),
		ContentType:   helpers.ResolveMimeType(resp.Header.Get("Content-Type"), p),
		AcceptsRanges: helpers.AcceptsRanges(resp.StatusCode, resp.Header),
	}

	c.logger.Logf("GET %s %s: status=%d total=%d", p, req.Header.Get("Range"), rr.Status, rr.TotalLength)
	return rr, nil
}
