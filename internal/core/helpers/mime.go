package helpers

import (
	"mime"
	"path"
	"strings"
)

// DefaultMimeType is assumed when neither the server nor the extension tell
// us what the resource is; the consumer is a media pipeline.
const DefaultMimeType = "video/mp4"

var videoTypes = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"webm": "video/webm",
	"flv":  "video/x-flv",
	"wmv":  "video/x-ms-wmv",
	"3gp":  "video/3gpp",
	"ts":   "video/mp2t",
}

// MimeTypeForPath maps a file extension to a media type; ok is false for
// extensions outside the table.
func MimeTypeForPath(p string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	t, ok := videoTypes[ext]
	return t, ok
}

// ResolveMimeType picks the media type for a resource. A missing or generic
// (application/octet-stream) server type is replaced by the extension table,
// then by DefaultMimeType.
func ResolveMimeType(contentType, p string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if t, ok := MimeTypeForPath(p); ok {
		return t
	}
	return DefaultMimeType
}
