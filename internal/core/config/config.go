package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	flag "github.com/spf13/pflag"
)

const (
	BackendHTTP     = "http"
	BackendGowebdav = "gowebdav"
	BackendLocal    = "local"
)

type Config struct {
	URL        string
	Mountpoint string
	Backend    string

	TTL        time.Duration
	MaxEntries int
	Timeout    time.Duration

	Username string
	Password string

	Verbose bool
	StdLog  string
	ErrLog  string

	CredStore string
	Metrics   string
}

func defaults() *Config {
	return &Config{
		Backend:    BackendHTTP,
		TTL:        time.Minute,
		MaxEntries: 1000,
		Timeout:    30 * time.Second,
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHTTP, BackendGowebdav, BackendLocal:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendHTTP, BackendGowebdav, BackendLocal)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max-entries must not be negative")
	}
	return nil
}

// ParseConfig reads a TOML file over the defaults. An empty path yields
// the defaults.
func ParseConfig(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	// intermediate struct mirrors config file keys
	var raw struct {
		Mpoint     string `toml:"mpoint"`
		URL        string `toml:"url"`
		Backend    string `toml:"backend"`
		Username   string `toml:"username"`
		Password   string `toml:"password"`
		TTL        string `toml:"ttl"`
		MaxEntries int    `toml:"max-entries"`
		Timeout    string `toml:"timeout"`
		Verbose    bool   `toml:"verbose"`
		Std        string `toml:"std"`
		Err        string `toml:"err"`
		CredStore  string `toml:"credstore"`
		Metrics    string `toml:"metrics"`
	}

	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}

	if raw.Mpoint != "" {
		cfg.Mountpoint = raw.Mpoint
	}
	if raw.URL != "" {
		cfg.URL = raw.URL
	}
	if raw.Backend != "" {
		cfg.Backend = raw.Backend
	}
	cfg.Username = raw.Username
	cfg.Password = raw.Password

	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return nil, fmt.Errorf("ttl: %w", err)
		}
		cfg.TTL = d
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if raw.MaxEntries != 0 {
		cfg.MaxEntries = raw.MaxEntries
	}
	cfg.Verbose = raw.Verbose
	cfg.StdLog = raw.Std
	cfg.ErrLog = raw.Err
	cfg.CredStore = raw.CredStore
	cfg.Metrics = raw.Metrics

	return cfg, nil
}

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage: %s [options] <command> [args]\n\n", fs.Name())
		fmt.Fprintln(w, "Commands:")
		fmt.Fprintln(w, "  ls <path>                 list a directory")
		fmt.Fprintln(w, "  probe <path>              print content metadata")
		fmt.Fprintln(w, "  cat <path>                write a byte range to stdout")
		fmt.Fprintln(w, "  mount <mountpoint>        mount read-only (linux)")
		fmt.Fprintln(w, "  cred set|delete|list      manage stored credentials")
		fmt.Fprintln(w, "\nOptions:")
		fs.PrintDefaults()
	}
}

// ParseCommandLineArgs parses args (without the program name). Values from
// the config file are overridden only by flags that were actually set.
func ParseCommandLineArgs(name string, args []string, output io.Writer) (*Config, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.SetInterspersed(false)
	fs.Usage = usage(fs, output)

	var (
		configFPtr    = fs.StringP("config", "c", "", "path to config file")
		urlPtr        = fs.String("url", "", "server root URL (http, https or file)")
		backendPtr    = fs.StringP("backend", "b", BackendHTTP, "transport: http, gowebdav or local")
		userPtr       = fs.StringP("user", "u", "", "username:password (shorthand)")
		ttlPtr        = fs.DurationP("ttl", "t", time.Minute, "cache TTL")
		maxEntriesPtr = fs.IntP("max-entries", "m", 1000, "cache max entries")
		timeoutPtr    = fs.Duration("timeout", 30*time.Second, "per request timeout")
		verbosePtr    = fs.BoolP("verbose", "v", false, "enable verbose logging")
		stdlogPtr     = fs.StringP("stdlog", "s", "", "path to standard log file")
		errlogPtr     = fs.StringP("errlog", "e", "", "path to error log file")
		credPtr       = fs.String("credstore", "", "path to credential database")
		metricsPtr    = fs.String("metrics", "", "address to serve prometheus metrics on")
	)

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := ParseConfig(*configFPtr)
	if err != nil {
		return nil, nil, err
	}

	if fs.Lookup("url").Changed {
		cfg.URL = *urlPtr
	}
	if fs.Lookup("backend").Changed {
		cfg.Backend = *backendPtr
	}
	if fs.Lookup("ttl").Changed {
		cfg.TTL = *ttlPtr
	}
	if fs.Lookup("max-entries").Changed {
		cfg.MaxEntries = *maxEntriesPtr
	}
	if fs.Lookup("timeout").Changed {
		cfg.Timeout = *timeoutPtr
	}
	if fs.Lookup("verbose").Changed {
		cfg.Verbose = *verbosePtr
	}
	if fs.Lookup("stdlog").Changed {
		cfg.StdLog = *stdlogPtr
	}
	if fs.Lookup("errlog").Changed {
		cfg.ErrLog = *errlogPtr
	}
	if fs.Lookup("credstore").Changed {
		cfg.CredStore = *credPtr
	}
	if fs.Lookup("metrics").Changed {
		cfg.Metrics = *metricsPtr
	}
	if fs.Lookup("user").Changed && *userPtr != "" {
		user, pass, _ := strings.Cut(*userPtr, ":")
		cfg.Username = user
		cfg.Password = pass
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, fs.Args(), nil
}
