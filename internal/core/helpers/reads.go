package helpers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
)

// ValidRange reports whether [offset, offset+length) is a non-empty range
// whose end fits in an int64.
func ValidRange(offset, length int64) bool {
	return offset >= 0 && length > 0 && length <= math.MaxInt64-offset
}

// RangeHeader returns the Range header value covering [offset, offset+length).
func RangeHeader(offset, length int64) string {
	return "bytes=" + strconv.FormatInt(offset, 10) + "-" + strconv.FormatInt(offset+length-1, 10)
}

// ContentRange is a parsed Content-Range header. Start and End are -1 for
// the unsatisfied form ("bytes */N"); Total is -1 when the server sent "*".
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

func ParseContentRange(v string) (ContentRange, bool) {
	v = strings.TrimSpace(v)
	unit, rangeSpec, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(unit, "bytes") {
		return ContentRange{}, false
	}

	span, total, ok := strings.Cut(strings.TrimSpace(rangeSpec), "/")
	if !ok {
		return ContentRange{}, false
	}

	cr := ContentRange{Start: -1, End: -1, Total: -1}
	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n < 0 {
			return ContentRange{}, false
		}
		cr.Total = n
	}

	if span == "*" {
		return cr, cr.Total >= 0
	}

	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return ContentRange{}, false
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return ContentRange{}, false
	}
	cr.Start, cr.End = start, end
	return cr, true
}

// TotalLength resolves the full length of the remote resource: the total
// component of Content-Range wins; the declared content length is only
// trusted for a full (200) response. Returns -1 when unknown.
func TotalLength(status int, header http.Header, contentLength int64) int64 {
	if cr, ok := ParseContentRange(header.Get("Content-Range")); ok && cr.Total >= 0 {
		return cr.Total
	}
	if status == http.StatusOK && contentLength >= 0 {
		return contentLength
	}
	return -1
}

// AcceptsRanges reports whether the response shows the server honours byte ranges.
func AcceptsRanges(status int, header http.Header) bool {
	if status == http.StatusPartialContent {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(header.Get("Accept-Ranges")), "bytes")
}
