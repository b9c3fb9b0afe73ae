package wrappers

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/davstream/internal/core/cache"
	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/webdav"
	"github.com/davstream/internal/testutil/davserver"
)

func newBackendWithServer(t *testing.T) (*DavBackend, *davserver.Server, origin.Origin) {
	t.Helper()
	srv := davserver.New()
	t.Cleanup(srv.Close)

	o, _, err := origin.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	w := NewDavBackend(WithCache(cache.NewNodeCache(time.Minute, 100)))
	return w, srv, o
}

func TestFetchRange(t *testing.T) {
	w, srv, o := newBackendWithServer(t)

	data := []byte("abcdefghijklmnopqrstuvwxyz")
	if err := srv.Put("/alphabet.mp4", data); err != nil {
		t.Fatal(err)
	}

	rr, err := w.FetchRange(context.Background(), o, "/alphabet.mp4", 3, 10)
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}
	defer rr.Close()

	got, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, data[3:13]) {
		t.Fatalf("range mismatch: got=%q want=%q", got, data[3:13])
	}
	if rr.TotalLength != int64(len(data)) {
		t.Fatalf("unexpected total length %d", rr.TotalLength)
	}
	if rr.Status != http.StatusPartialContent || !rr.AcceptsRanges {
		t.Fatalf("unexpected status %d ranges=%v", rr.Status, rr.AcceptsRanges)
	}
}

func TestFetchRangeFullBodyServer(t *testing.T) {
	w, srv, o := newBackendWithServer(t)
	data := []byte("0123456789")
	if err := srv.Put("/clip.mkv", data); err != nil {
		t.Fatal(err)
	}
	srv.IgnoreRange(true)

	rr, err := w.FetchRange(context.Background(), o, "/clip.mkv", 4, 3)
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}
	defer rr.Close()

	got, _ := io.ReadAll(rr.Body)
	if string(got) != "456" {
		t.Fatalf("expected trimmed body, got %q", got)
	}
}

func TestFetchRangeStatCached(t *testing.T) {
	w, srv, o := newBackendWithServer(t)
	if err := srv.Put("/a.mp4", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		rr, err := w.FetchRange(context.Background(), o, "/a.mp4", 0, 2)
		if err != nil {
			t.Fatalf("FetchRange #%d failed: %v", i, err)
		}
		_ = rr.Close()
	}
	if n := srv.Count(webdav.PROPFIND); n != 1 {
		t.Fatalf("expected one stat PROPFIND, got %d", n)
	}
	if n := srv.Count(http.MethodGet); n != 3 {
		t.Fatalf("expected three GETs, got %d", n)
	}
}

func TestFetchRangeMissing(t *testing.T) {
	w, _, o := newBackendWithServer(t)

	_, err := w.FetchRange(context.Background(), o, "/missing.mp4", 0, 1)
	if !failure.Is(err, failure.HTTPError) || failure.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected HTTPError(404), got %v", err)
	}
}

func TestFetchRangeInvalid(t *testing.T) {
	w, srv, o := newBackendWithServer(t)

	if _, err := w.FetchRange(context.Background(), o, "/a.mp4", 0, 0); !failure.Is(err, failure.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	if _, err := w.FetchRange(context.Background(), o, "/a.mp4", math.MaxInt64-1, 10); !failure.Is(err, failure.Invalid) {
		t.Fatalf("expected Invalid for overflowing range, got %v", err)
	}
	if srv.Count(webdav.PROPFIND)+srv.Count(http.MethodGet) != 0 {
		t.Fatalf("invalid range reached the server")
	}
}

func TestFetchRangeContextCancel(t *testing.T) {
	w, srv, o := newBackendWithServer(t)
	if err := srv.Put("/slow.mp4", []byte("x")); err != nil {
		t.Fatal(err)
	}
	srv.Delay(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := w.FetchRange(ctx, o, "/slow.mp4", 0, 1)
	if !failure.Is(err, failure.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancel did not abandon the call")
	}
}

func TestListDirectory(t *testing.T) {
	w, srv, o := newBackendWithServer(t)
	for _, name := range []string{"/shows/b.mp4", "/shows/A.mkv", "/shows/c.mp4"} {
		if err := srv.Put(name, []byte("data")); err != nil {
			t.Fatal(err)
		}
	}
	if err := srv.Mkdir("/shows/Season 1"); err != nil {
		t.Fatal(err)
	}

	entries, err := w.ListDirectory(context.Background(), o, "/shows")
	if err != nil {
		t.Fatalf("ListDirectory failed: %v", err)
	}

	want := []string{"Season 1", "A.mkv", "b.mp4", "c.mp4"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), entries)
	}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Fatalf("entry %d: got %q want %q", i, e.Name, want[i])
		}
	}
	if !entries[0].IsDir || entries[0].Path != "/shows/Season 1" {
		t.Fatalf("unexpected dir entry %+v", entries[0])
	}
	if entries[2].SizeOrZero() != 4 {
		t.Fatalf("unexpected size %d", entries[2].SizeOrZero())
	}

	// second listing is served from cache
	if _, err := w.ListDirectory(context.Background(), o, "/shows/"); err != nil {
		t.Fatal(err)
	}
	if n := srv.Count(webdav.PROPFIND); n != 1 {
		t.Fatalf("expected cached listing, saw %d PROPFINDs", n)
	}

	w.Invalidate(o, "/shows/b.mp4")
	if _, err := w.ListDirectory(context.Background(), o, "/shows"); err != nil {
		t.Fatal(err)
	}
	if n := srv.Count(webdav.PROPFIND); n != 2 {
		t.Fatalf("invalidate did not drop the listing, saw %d PROPFINDs", n)
	}
}

func TestListDirectoryFailures(t *testing.T) {
	w, srv, o := newBackendWithServer(t)
	srv.FailWith(http.StatusInternalServerError)

	_, err := w.ListDirectory(context.Background(), o, "/")
	if !failure.Is(err, failure.UnexpectedStatus) {
		t.Fatalf("expected UnexpectedStatus, got %v", err)
	}
}

func TestCredentialFromOrigin(t *testing.T) {
	w, srv, o := newBackendWithServer(t)
	if err := srv.Put("/private.mp4", []byte("secret")); err != nil {
		t.Fatal(err)
	}
	srv.RequireAuth("alice", "pw")

	authed := o.WithCredential(origin.Credential{Username: "alice", Password: "pw"})
	rr, err := w.FetchRange(context.Background(), authed, "/private.mp4", 0, 6)
	if err != nil {
		t.Fatalf("FetchRange with credential failed: %v", err)
	}
	defer rr.Close()
	got, _ := io.ReadAll(rr.Body)
	if string(got) != "secret" {
		t.Fatalf("unexpected body %q", got)
	}
}
