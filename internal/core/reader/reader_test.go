package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/inflight"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/webdav"
	"github.com/davstream/internal/testutil/davserver"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixturePath = "/media/fixture.mp4"

func fixture(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func newServerReader(t *testing.T, data []byte, opts ...Option) (*Reader, *davserver.Server) {
	t.Helper()
	srv := davserver.New()
	t.Cleanup(srv.Close)
	require.NoError(t, srv.Put(fixturePath, data))

	o, _, err := origin.Parse(srv.URL)
	require.NoError(t, err)

	r := New(webdav.NewClient(), o, fixturePath, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r, srv
}

func TestReadRoundTrip(t *testing.T) {
	data := fixture(200_000)
	r, _ := newServerReader(t, data)

	ranges := [][2]int64{
		{0, 1},
		{0, 4096},
		{1, chunkSize},
		{chunkSize - 3, 10},
		{12345, 100_000},
		{int64(len(data)) - 1, 1},
		{0, int64(len(data))},
	}
	for _, rg := range ranges {
		got, err := r.Read(context.Background(), ReadRequest{Offset: rg[0], Length: rg[1]}).Result()
		require.NoError(t, err, "range %v", rg)
		require.Len(t, got, int(rg[1]))
		assert.True(t, bytes.Equal(data[rg[0]:rg[0]+rg[1]], got), "range %v", rg)
	}
}

func TestReadOnDataChunksInOrder(t *testing.T) {
	data := fixture(3*chunkSize + 17)
	r, _ := newServerReader(t, data)

	var mu sync.Mutex
	var streamed []byte
	calls := 0
	req := ReadRequest{
		Offset: 5,
		Length: int64(len(data)) - 5,
		OnData: func(chunk []byte) {
			mu.Lock()
			streamed = append(streamed, chunk...)
			calls++
			mu.Unlock()
		},
	}
	got, err := r.Read(context.Background(), req).Result()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, data[5:], got)
	assert.Equal(t, got, streamed)
	assert.Greater(t, calls, 1)
}

func TestProbeMetadataSingleFlight(t *testing.T) {
	data := fixture(1000)
	r, srv := newServerReader(t, data)
	release := srv.Hold()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]ContentMetadata, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.ProbeMetadata(context.Background())
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.EqualValues(t, 1000, results[i].TotalLength)
		assert.True(t, results[i].SupportsRangeAccess)
		assert.Equal(t, "video/mp4", results[i].MimeType)
	}
	assert.Equal(t, 1, srv.Count(http.MethodGet))
	assert.Equal(t, []string{"bytes=0-0"}, srv.Ranges())

	_, err := r.ProbeMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Count(http.MethodGet), "cached after success")
}

func TestProbeFailureIsNotCached(t *testing.T) {
	r, srv := newServerReader(t, fixture(10))
	srv.FailWith(http.StatusInternalServerError)

	_, err := r.ProbeMetadata(context.Background())
	assert.True(t, failure.Is(err, failure.HTTPError))
	assert.Equal(t, 500, failure.StatusOf(err))
	_, ok := r.Metadata()
	assert.False(t, ok)

	srv.FailWith(0)
	meta, err := r.ProbeMetadata(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 10, meta.TotalLength)
	assert.Equal(t, 2, srv.Count(http.MethodGet))
}

func TestProbeCallerContext(t *testing.T) {
	r, srv := newServerReader(t, fixture(10))
	release := srv.Hold()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.ProbeMetadata(ctx)
	assert.True(t, failure.Is(err, failure.Network), "got %v", err)
}

func TestReadSeedsMetadataWithoutProbe(t *testing.T) {
	r, srv := newServerReader(t, fixture(500))

	_, err := r.Read(context.Background(), ReadRequest{Offset: 100, Length: 10}).Result()
	require.NoError(t, err)

	meta, ok := r.Metadata()
	require.True(t, ok)
	assert.EqualValues(t, 500, meta.TotalLength)
	assert.True(t, meta.SupportsRangeAccess)

	_, err = r.ProbeMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Count(http.MethodGet))
}

func TestReadInvalidMakesNoRequest(t *testing.T) {
	r, srv := newServerReader(t, fixture(10))

	for _, req := range []ReadRequest{{Offset: -1, Length: 10}, {Offset: 0, Length: 0}, {Offset: math.MaxInt64 - 1, Length: 10}} {
		f := r.Read(context.Background(), req)
		select {
		case <-f.Done():
		default:
			t.Fatal("invalid request must resolve immediately")
		}
		_, err := f.Result()
		assert.True(t, failure.Is(err, failure.Invalid), "got %v", err)
	}
	assert.Zero(t, srv.Count(http.MethodGet))
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	reg := inflight.NewRegistry(nil)
	data := fixture(64)
	r, _ := newServerReader(t, data, WithRegistry(reg))

	id := uuid.New()
	f := r.Read(context.Background(), ReadRequest{ID: id, Offset: 0, Length: 8})
	got, err := f.Result()
	require.NoError(t, err)

	r.Cancel(id)
	r.Cancel(id)

	again, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, data[:8], again)
	assert.Zero(t, reg.Len())
}

func TestCancelUnknownID(t *testing.T) {
	r, _ := newServerReader(t, fixture(1))
	assert.NotPanics(t, func() { r.Cancel(uuid.New()) })
}

func TestConcurrentReadsCancelOne(t *testing.T) {
	reg := inflight.NewRegistry(nil)
	data := fixture(40_000)
	r, srv := newServerReader(t, data, WithRegistry(reg))
	srv.Delay(200 * time.Millisecond)

	futures := make([]*Future, 4)
	for i := range futures {
		futures[i] = r.Read(context.Background(), ReadRequest{Offset: int64(i) * 10_000, Length: 10_000})
	}
	victim := futures[2]
	r.Cancel(victim.ID())

	_, err := victim.Result()
	assert.True(t, failure.Is(err, failure.Cancelled), "got %v", err)

	for i, f := range futures {
		if f == victim {
			continue
		}
		got, err := f.Result()
		require.NoError(t, err, "read %d", i)
		off := i * 10_000
		assert.Equal(t, data[off:off+10_000], got, "read %d", i)
	}

	require.NoError(t, r.Close())
	assert.Zero(t, reg.Len())
}

func TestReadTimeoutCleansUp(t *testing.T) {
	reg := inflight.NewRegistry(nil)
	r, srv := newServerReader(t, fixture(10), WithRegistry(reg), WithTimeout(100*time.Millisecond))
	srv.Delay(2 * time.Second)

	_, err := r.Read(context.Background(), ReadRequest{Offset: 0, Length: 5}).Result()
	assert.True(t, failure.Is(err, failure.Network), "got %v", err)
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

// newTrickleReader serves a 206 whose body arrives in chunks of size
// bytes, one every interval, pausing for stall after the first chunk.
func newTrickleReader(t *testing.T, chunks, size int, interval, stall time.Duration, opts ...Option) *Reader {
	t.Helper()
	total := chunks * size
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", total-1, total))
		w.Header().Set("Content-Length", strconv.Itoa(total))
		w.WriteHeader(http.StatusPartialContent)
		flusher := w.(http.Flusher)
		flusher.Flush()

		for i := 0; i < chunks; i++ {
			wait := interval
			if i == 1 && stall > 0 {
				wait = stall
			}
			if i > 0 {
				select {
				case <-time.After(wait):
				case <-req.Context().Done():
					return
				}
			}
			if _, err := w.Write(bytes.Repeat([]byte{byte('a' + i)}, size)); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)

	o, _, err := origin.Parse(srv.URL)
	require.NoError(t, err)
	r := New(webdav.NewClient(), o, "/slow.mp4", opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReadSlowSteadyStreamOutlivesTimeout(t *testing.T) {
	r := newTrickleReader(t, 8, 100, 80*time.Millisecond, 0, WithTimeout(250*time.Millisecond))

	start := time.Now()
	data, err := r.Read(context.Background(), ReadRequest{Offset: 0, Length: 800}).Result()
	require.NoError(t, err)
	assert.Len(t, data, 800)
	assert.Greater(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, bytes.Repeat([]byte{'h'}, 100), data[700:])
}

func TestReadStalledBodyTimesOut(t *testing.T) {
	reg := inflight.NewRegistry(nil)
	r := newTrickleReader(t, 3, 100, 10*time.Millisecond, 2*time.Second,
		WithTimeout(150*time.Millisecond), WithRegistry(reg))

	var got atomic.Int64
	data, err := r.Read(context.Background(), ReadRequest{
		Offset: 0,
		Length: 300,
		OnData: func(chunk []byte) { got.Add(int64(len(chunk))) },
	}).Result()
	assert.Nil(t, data)
	assert.True(t, failure.Is(err, failure.Network), "got %v", err)
	assert.EqualValues(t, 100, got.Load())
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestReadCallerCancel(t *testing.T) {
	r, srv := newServerReader(t, fixture(10))
	srv.Delay(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	f := r.Read(ctx, ReadRequest{Offset: 0, Length: 5})
	cancel()

	_, err := f.Result()
	assert.True(t, failure.Is(err, failure.Cancelled), "got %v", err)
}

func TestReadErrorKinds(t *testing.T) {
	r, srv := newServerReader(t, fixture(10))

	srv.RequireAuth("u", "p")
	_, err := r.Read(context.Background(), ReadRequest{Length: 1}).Result()
	assert.True(t, failure.Is(err, failure.Auth), "got %v", err)

	srv.RequireAuth("", "")
	srv.FailWith(http.StatusInternalServerError)
	data, err := r.Read(context.Background(), ReadRequest{Length: 1}).Result()
	assert.Nil(t, data)
	assert.True(t, failure.Is(err, failure.HTTPError))
	assert.Equal(t, 500, failure.StatusOf(err))

	srv.FailWith(0)
	srv.DropConnections(true)
	_, err = r.Read(context.Background(), ReadRequest{Length: 1}).Result()
	assert.True(t, failure.Is(err, failure.Network), "got %v", err)
}

func TestServerIgnoringRange(t *testing.T) {
	data := fixture(5000)
	r, srv := newServerReader(t, data)
	srv.IgnoreRange(true)

	got, err := r.Read(context.Background(), ReadRequest{Offset: 1234, Length: 100}).Result()
	require.NoError(t, err)
	assert.Equal(t, data[1234:1334], got)

	meta, ok := r.Metadata()
	require.True(t, ok)
	assert.EqualValues(t, 5000, meta.TotalLength)
	assert.False(t, meta.SupportsRangeAccess)
}

func TestServerIgnoringRangePastEnd(t *testing.T) {
	r, srv := newServerReader(t, fixture(100))
	srv.IgnoreRange(true)

	data, err := r.Read(context.Background(), ReadRequest{Offset: 500, Length: 10}).Result()
	assert.Nil(t, data)
	assert.True(t, failure.Is(err, failure.HTTPError), "got %v", err)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, failure.StatusOf(err))

	meta, ok := r.Metadata()
	require.True(t, ok)
	assert.EqualValues(t, 100, meta.TotalLength)
}

func TestCloseCancelsPending(t *testing.T) {
	reg := inflight.NewRegistry(nil)
	r, srv := newServerReader(t, fixture(10), WithRegistry(reg))
	srv.Delay(2 * time.Second)

	f := r.Read(context.Background(), ReadRequest{Offset: 0, Length: 5})
	require.NoError(t, r.Close())

	_, err := f.Result()
	assert.True(t, failure.Is(err, failure.Cancelled))
	assert.Zero(t, reg.Len())

	_, err = r.Read(context.Background(), ReadRequest{Offset: 0, Length: 5}).Result()
	assert.True(t, failure.Is(err, failure.Cancelled))
}

func TestReadAt(t *testing.T) {
	data := fixture(100)
	r, _ := newServerReader(t, data)
	_, err := r.ProbeMetadata(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 30)
	n, err := r.ReadAt(context.Background(), buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, data[10:40], buf)

	n, err = r.ReadAt(context.Background(), buf, 90)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 10, n)
	assert.Equal(t, data[90:], buf[:n])

	n, err = r.ReadAt(context.Background(), buf, 100)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

// gateFetcher blocks every fetch until released.
type gateFetcher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *gateFetcher) FetchRange(ctx context.Context, _ origin.Origin, _ string, _, length int64) (*webdav.RangeResponse, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &webdav.RangeResponse{
		Status:        http.StatusPartialContent,
		Body:          io.NopCloser(bytes.NewReader(make([]byte, length))),
		TotalLength:   100,
		ContentType:   "video/mp4",
		AcceptsRanges: true,
	}, nil
}

func TestDuplicateLiveID(t *testing.T) {
	g := &gateFetcher{release: make(chan struct{})}
	r := New(g, origin.New("http", "nas", 0, nil), "/a.mp4")

	id := uuid.New()
	first := r.Read(context.Background(), ReadRequest{ID: id, Length: 4})
	second := r.Read(context.Background(), ReadRequest{ID: id, Length: 4})

	_, err := second.Result()
	assert.True(t, failure.Is(err, failure.Invalid))

	close(g.release)
	got, err := first.Result()
	require.NoError(t, err)
	assert.Len(t, got, 4)
	require.NoError(t, r.Close())
	assert.EqualValues(t, 1, g.calls.Load())
}

func TestCancelRacingCompletionDeliversOnce(t *testing.T) {
	for i := 0; i < 100; i++ {
		g := &gateFetcher{release: make(chan struct{})}
		reg := inflight.NewRegistry(nil)
		r := New(g, origin.New("http", "nas", 0, nil), "/a.mp4", WithRegistry(reg))

		f := r.Read(context.Background(), ReadRequest{Length: 4})
		go close(g.release)
		r.Cancel(f.ID())

		_, err := f.Result()
		if err != nil {
			assert.True(t, failure.Is(err, failure.Cancelled))
		}
		require.NoError(t, r.Close())
		assert.Zero(t, reg.Len())
	}
}
