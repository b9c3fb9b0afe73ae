package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{401, Auth},
		{403, Auth},
		{404, HTTPError},
		{416, HTTPError},
		{500, HTTPError},
	}
	for _, tt := range tests {
		err := FromStatus("fetch", "/a.mp4", tt.status)
		assert.Equal(t, tt.kind, KindOf(err), "status %d", tt.status)
		assert.Equal(t, tt.status, StatusOf(err))
	}
}

func TestFromListingStatus(t *testing.T) {
	assert.True(t, Is(FromListingStatus("list", "/", 401), Auth))
	assert.True(t, Is(FromListingStatus("list", "/", 403), Auth))
	assert.True(t, Is(FromListingStatus("list", "/", 200), UnexpectedStatus))
	assert.True(t, Is(FromListingStatus("list", "/", 404), UnexpectedStatus))
}

func TestFromTransport(t *testing.T) {
	assert.NoError(t, FromTransport("fetch", "/", nil))

	err := FromTransport("fetch", "/x", io.ErrUnexpectedEOF)
	assert.True(t, Is(err, Network))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = FromTransport("fetch", "/x", fmt.Errorf("do: %w", context.Canceled))
	assert.True(t, Is(err, Cancelled))

	err = FromTransport("fetch", "/x", context.DeadlineExceeded)
	assert.True(t, Is(err, Network))

	original := FromStatus("fetch", "/x", 500)
	assert.Same(t, original, FromTransport("read", "/y", fmt.Errorf("wrapped: %w", original)))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	err := FromStatus("fetch", "/movie.mkv", 500)
	assert.Equal(t, "fetch /movie.mkv: http (status 500): Internal Server Error", err.Error())

	inv := Invalidf("read", "length must be positive, got %d", 0)
	assert.Equal(t, "read: invalid: length must be positive, got 0", inv.Error())
}
