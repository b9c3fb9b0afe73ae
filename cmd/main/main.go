package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/davstream/internal/core/cache"
	"github.com/davstream/internal/core/config"
	"github.com/davstream/internal/core/credstore"
	"github.com/davstream/internal/core/local"
	"github.com/davstream/internal/core/logger"
	"github.com/davstream/internal/core/metrics"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/reader"
	"github.com/davstream/internal/core/webdav"
	"github.com/davstream/internal/core/wrappers"
	"github.com/davstream/internal/interfaces"
	"github.com/prometheus/client_golang/prometheus"
)

// backend is the transport every command drives.
type backend interface {
	reader.Fetcher
	ListDirectory(ctx context.Context, o origin.Origin, dir string) ([]webdav.FileEntry, error)
}

type app struct {
	cfg     *config.Config
	log     logger.FullLogger
	origin  origin.Origin
	root    string
	backend backend
	metrics *metrics.Collectors
	reg     *prometheus.Registry
	creds   *credstore.BoltStore
	stdout  io.Writer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, rest, err := config.ParseCommandLineArgs("davstream", args, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse config/flags:", err)
		return 2
	}
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "Error: missing command")
		return 2
	}

	log, err := logger.New(cfg.Verbose, cfg.StdLog, cfg.ErrLog)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		return 1
	}
	defer log.Close()

	a := &app{cfg: cfg, log: log, stdout: os.Stdout}

	if cfg.CredStore != "" {
		a.creds, err = credstore.OpenBolt(cfg.CredStore)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		defer a.creds.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cmdArgs := rest[0], rest[1:]
	if cmd == "cred" {
		return a.cred(cmdArgs)
	}

	if err := a.connect(); err != nil {
		log.Errorf("%v", err)
		return 2
	}

	switch cmd {
	case "ls":
		return a.ls(ctx, cmdArgs)
	case "probe":
		return a.probe(ctx, cmdArgs)
	case "cat":
		return a.cat(ctx, cmdArgs)
	case "mount":
		return a.mount(ctx, cmdArgs)
	}

	fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
	return 2
}

// connect resolves the configured URL and builds the selected backend.
func (a *app) connect() error {
	if a.cfg.URL == "" {
		return fmt.Errorf("missing server url; set --url or url in the config file")
	}

	o, root, err := origin.Parse(a.cfg.URL)
	if err != nil {
		return err
	}
	a.origin, a.root = o, root

	if a.cfg.Metrics != "" {
		a.reg = prometheus.NewRegistry()
		a.metrics = metrics.New(a.reg)
	}

	var creds interfaces.CredentialStore = a.credentials()

	backendName := a.cfg.Backend
	if o.Scheme() == "file" {
		backendName = config.BackendLocal
	}

	switch backendName {
	case config.BackendLocal:
		a.backend = local.New(local.OpenFs(root), local.WithLogger(a.log), local.WithMetrics(a.metrics))
		a.root = "/"
	case config.BackendGowebdav:
		a.backend = wrappers.NewDavBackend(
			wrappers.WithCache(cache.NewNodeCache(a.cfg.TTL, a.cfg.MaxEntries)),
			wrappers.WithCredentialStore(creds),
			wrappers.WithLogger(a.log),
			wrappers.WithMetrics(a.metrics),
		)
	default:
		a.backend = webdav.NewClient(
			webdav.WithCredentialStore(creds),
			webdav.WithLogger(a.log),
			webdav.WithMetrics(a.metrics),
		)
	}

	a.log.Logf("backend=%s origin=%s root=%s", backendName, a.origin, a.root)
	return nil
}

// credentials layers flag/config credentials over the persistent store.
func (a *app) credentials() credstore.Chain {
	static := credstore.NewStatic()
	if a.cfg.Username != "" {
		static.Put(a.origin, origin.Credential{Username: a.cfg.Username, Password: a.cfg.Password})
	}
	chain := credstore.Chain{static}
	if a.creds != nil {
		chain = append(chain, a.creds)
	}
	return chain
}

// resolve maps a command line path onto the configured root.
func (a *app) resolve(args []string) string {
	if len(args) == 0 {
		return a.root
	}
	return path.Join(a.root, args[0])
}

func (a *app) readerOptions() []reader.Option {
	return []reader.Option{
		reader.WithTimeout(a.cfg.Timeout),
		reader.WithLogger(a.log),
		reader.WithMetrics(a.metrics),
	}
}
