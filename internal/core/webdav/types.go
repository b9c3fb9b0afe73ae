package webdav

import (
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// FileEntry describes one child of a listed directory. Size and ModifiedAt
// are nil when the server did not report them.
type FileEntry struct {
	Name       string     // last path component
	Path       string     // absolute, URL-decoded, no trailing slash
	IsDir      bool       // collection
	Size       *int64     // getcontentlength
	ModifiedAt *time.Time // getlastmodified
}

// SizeOrZero is a convenience for callers that treat unknown sizes as empty.
func (e FileEntry) SizeOrZero() int64 {
	if e.Size == nil {
		return 0
	}
	return *e.Size
}

// RangeResponse is a live response to a range fetch. Body streams the
// payload as it arrives and must be closed by the caller.
type RangeResponse struct {
	Status        int
	Header        http.Header
	Body          io.ReadCloser
	TotalLength   int64 // -1 when unknown
	ContentType   string
	AcceptsRanges bool
}

func (r *RangeResponse) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// SortEntries orders directories before files, then names by Unicode case
// folding. Ties fall back to the raw name so the order is total.
func SortEntries(entries []FileEntry) {
	fold := cases.Fold()
	keys := make(map[string]string, len(entries))
	key := func(name string) string {
		k, ok := keys[name]
		if !ok {
			k = fold.String(name)
			keys[name] = k
		}
		return k
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		ka, kb := key(a.Name), key(b.Name)
		if ka != kb {
			return ka < kb
		}
		return a.Name < b.Name
	})
}

func statusOK(status string) bool {
	if status == "" {
		return true
	}
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	return err == nil && code >= 200 && code < 300
}

// hrefPath reduces an href (absolute URL or path) to its decoded path.
func hrefPath(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	raw := href
	if strings.Contains(href, "://") {
		u, err := url.Parse(href)
		if err != nil {
			return "", false
		}
		raw = u.EscapedPath()
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded, true
}

func lastSegment(p string) string {
	parts := strings.Split(p, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

func trimSlash(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimSuffix(p, "/")
}

// ToFileEntry converts one multistatus response. ok is false for entries
// that must not surface (undecodable href or empty name).
func ToFileEntry(resp Response) (FileEntry, bool) {
	decoded, ok := hrefPath(resp.Href)
	if !ok {
		return FileEntry{}, false
	}
	name := lastSegment(decoded)
	if name == "" {
		return FileEntry{}, false
	}

	entry := FileEntry{
		Name: name,
		Path: trimSlash(decoded),
	}

	for _, ps := range resp.Propstat {
		if !statusOK(ps.Status) {
			continue
		}
		prop := ps.Prop
		if prop.ResourceType.Collection != nil {
			entry.IsDir = true
		}
		if s := strings.TrimSpace(prop.ContentLength); s != "" && entry.Size == nil {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
				entry.Size = &n
			}
		}
		if s := strings.TrimSpace(prop.LastModified); s != "" && entry.ModifiedAt == nil {
			if t, err := http.ParseTime(s); err == nil {
				entry.ModifiedAt = &t
			}
		}
	}

	// a trailing slash marks a collection even when resourcetype is missing
	if strings.HasSuffix(decoded, "/") {
		entry.IsDir = true
	}

	return entry, true
}
