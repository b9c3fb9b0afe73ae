package origin

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// streamingPrefix marks URLs that were rewritten so a media pipeline hands
// them to us instead of fetching them itself.
const streamingPrefix = "streaming-"

type Credential struct {
	Username string
	Password string
}

func (c Credential) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// AuthorizationHeader returns the pre-computed HTTP Basic header value.
func (c Credential) AuthorizationHeader() string {
	raw := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Origin identifies one server. It is immutable; two origins are equal when
// scheme, host and port match, regardless of the credential they carry.
type Origin struct {
	scheme string
	host   string
	port   int
	cred   *Credential
}

func defaultPort(scheme string) int {
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

func New(scheme, host string, port int, cred *Credential) Origin {
	scheme = strings.TrimPrefix(strings.ToLower(scheme), streamingPrefix)
	if port == 0 {
		port = defaultPort(scheme)
	}
	o := Origin{
		scheme: scheme,
		host:   strings.ToLower(host),
		port:   port,
	}
	if cred != nil && !cred.IsZero() {
		c := *cred
		o.cred = &c
	}
	return o
}

// Parse splits a full resource URL into its origin and the absolute path
// on that origin. User info in the URL becomes the origin credential.
func Parse(raw string) (Origin, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, "", fmt.Errorf("parse origin %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return Origin{}, "", fmt.Errorf("parse origin %q: missing scheme", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Origin{}, "", fmt.Errorf("parse origin %q: bad port: %w", raw, err)
		}
	}

	var cred *Credential
	if u.User != nil {
		pass, _ := u.User.Password()
		cred = &Credential{Username: u.User.Username(), Password: pass}
	}

	o := New(u.Scheme, u.Hostname(), port, cred)
	if o.scheme != "file" && o.host == "" {
		return Origin{}, "", fmt.Errorf("parse origin %q: missing host", raw)
	}

	return o, CleanPath(u.Path), nil
}

func (o Origin) Scheme() string { return o.scheme }
func (o Origin) Host() string   { return o.host }
func (o Origin) Port() int      { return o.port }

// Credential returns the credential embedded in the origin, if any.
func (o Origin) Credential() (Credential, bool) {
	if o.cred == nil {
		return Credential{}, false
	}
	return *o.cred, true
}

// WithCredential returns a copy of o carrying cred.
func (o Origin) WithCredential(cred Credential) Origin {
	return New(o.scheme, o.host, o.port, &cred)
}

func (o Origin) hostPort() string {
	if o.port == 0 || o.port == defaultPort(o.scheme) {
		if strings.Contains(o.host, ":") {
			return "[" + o.host + "]"
		}
		return o.host
	}
	return net.JoinHostPort(o.host, strconv.Itoa(o.port))
}

// Key is the equality key of the origin: scheme://host:port.
func (o Origin) Key() string {
	return o.scheme + "://" + net.JoinHostPort(o.host, strconv.Itoa(o.port))
}

func (o Origin) Equal(other Origin) bool {
	return o.scheme == other.scheme && o.host == other.host && o.port == other.port
}

func (o Origin) String() string {
	return o.scheme + "://" + o.hostPort()
}

// URL resolves an absolute resource path against the origin.
func (o Origin) URL(p string) *url.URL {
	return &url.URL{
		Scheme: o.scheme,
		Host:   o.hostPort(),
		Path:   CleanPath(p),
	}
}

// CleanPath returns p as an absolute, slash-separated path. A trailing
// slash is preserved because WebDAV servers distinguish collections by it.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	trailing := strings.HasSuffix(p, "/")
	cleaned := path.Clean("/" + p)
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
