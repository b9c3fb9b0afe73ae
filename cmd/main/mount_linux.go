//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/davstream/internal/core/cache"
	"github.com/davstream/internal/fs"
	"github.com/davstream/internal/fs/platform/linux/entries"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *app) mount(ctx context.Context, args []string) int {
	if len(args) == 0 && a.cfg.Mountpoint == "" {
		fmt.Fprintln(os.Stderr, "Usage: mount <mountpoint>")
		return 2
	}
	mountpoint := a.cfg.Mountpoint
	if len(args) > 0 {
		mountpoint = args[0]
	}

	if a.reg != nil {
		srv := &http.Server{
			Addr:              a.cfg.Metrics,
			Handler:           promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.log.Logf("serving metrics on %s", a.cfg.Metrics)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Errorf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	tree := &entries.Tree{
		Backend:    a.backend,
		Origin:     a.origin,
		Root:       a.root,
		Logger:     a.log,
		Listings:   cache.NewNodeCache(a.cfg.TTL, a.cfg.MaxEntries),
		Buffers:    cache.NewBufferCache(cache.DefaultBlockSize, cache.DefaultMaxBlocks),
		ReaderOpts: a.readerOptions(),
	}

	filesystem, err := fs.New(tree)
	if err != nil {
		a.log.Errorf("%v", err)
		return 1
	}

	if err := filesystem.Mount(ctx, mountpoint); err != nil {
		a.log.Errorf("Mount failed: %v", err)
		return 1
	}
	return 0
}
