// Package davserver runs an in-memory WebDAV server for tests. It wraps
// golang.org/x/net/webdav and adds hooks to misbehave on demand.
package davserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/webdav"
)

type Server struct {
	*httptest.Server

	fs      webdav.FileSystem
	handler *webdav.Handler

	mu          sync.Mutex
	counts      map[string]int
	ranges      []string
	user, pass  string
	status      int
	delay       time.Duration
	drop        bool
	ignoreRange bool
	gate        chan struct{}
}

func New() *Server {
	fs := webdav.NewMemFS()
	s := &Server{
		fs: fs,
		handler: &webdav.Handler{
			FileSystem: fs,
			LockSystem: webdav.NewMemLS(),
		},
		counts: make(map[string]int),
	}
	s.Server = httptest.NewServer(s)
	return s
}

// RequireAuth makes every request answer 401 unless it carries these
// Basic credentials.
func (s *Server) RequireAuth(user, pass string) {
	s.mu.Lock()
	s.user, s.pass = user, pass
	s.mu.Unlock()
}

// FailWith answers every request with status. Zero restores normal service.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Delay holds each request for d before serving it.
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// DropConnections closes the socket without writing a response.
func (s *Server) DropConnections(drop bool) {
	s.mu.Lock()
	s.drop = drop
	s.mu.Unlock()
}

// IgnoreRange serves full 200 bodies even when a Range header is present.
func (s *Server) IgnoreRange(ignore bool) {
	s.mu.Lock()
	s.ignoreRange = ignore
	s.mu.Unlock()
}

// Hold blocks all incoming requests until the returned func is called.
func (s *Server) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Count returns how many requests with the given method were received.
func (s *Server) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method]
}

// Ranges returns the Range headers of all GET requests, in arrival order.
func (s *Server) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

// Mkdir creates dir and its parents.
func (s *Server) Mkdir(dir string) error {
	ctx := context.Background()
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		if err := s.fs.Mkdir(ctx, cur, 0o755); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// Put stores data at name, creating parent directories.
func (s *Server) Put(name string, data []byte) error {
	if err := s.Mkdir(path.Dir("/" + strings.TrimPrefix(name, "/"))); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(context.Background(), name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.counts[r.Method]++
	if r.Method == http.MethodGet {
		s.ranges = append(s.ranges, r.Header.Get("Range"))
	}
	user, pass := s.user, s.pass
	status, delay, drop, ignoreRange, gate := s.status, s.delay, s.drop, s.ignoreRange, s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}

	if user != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="dav"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	if ignoreRange && r.Method == http.MethodGet {
		r.Header.Del("Range")
	}

	s.handler.ServeHTTP(w, r)
}
