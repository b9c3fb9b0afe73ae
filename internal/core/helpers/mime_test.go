package helpers

import "testing"

func TestResolveMimeType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		path        string
		want        string
	}{
		{"server type kept", "video/webm", "/a.mp4", "video/webm"},
		{"parameters stripped", "text/plain; charset=utf-8", "/notes.txt", "text/plain"},
		{"octet-stream uses extension", "application/octet-stream", "/clip.MKV", "video/x-matroska"},
		{"missing type uses extension", "", "/dir/show.ts", "video/mp2t"},
		{"unknown extension defaults", "application/octet-stream", "/blob.bin", DefaultMimeType},
		{"malformed type uses extension", ";;;", "/x.mov", "video/quicktime"},
	}
	for _, tt := range tests {
		if got := ResolveMimeType(tt.contentType, tt.path); got != tt.want {
			t.Errorf("%s: ResolveMimeType(%q, %q) = %q, want %q", tt.name, tt.contentType, tt.path, got, tt.want)
		}
	}
}
