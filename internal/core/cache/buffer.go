package cache

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrNegativeOffset = errors.New("negative offset")
	ErrBadBlock       = errors.New("block loader returned more than one block")
)

const (
	DefaultBlockSize = 1 << 20
	DefaultMaxBlocks = 32
)

// LoadFunc fetches block idx, i.e. [idx*blockSize, (idx+1)*blockSize)
// clipped to the file size.
type LoadFunc func(idx int64) ([]byte, error)

// FileBuffer keeps recently read blocks of one remote file so repeated or
// overlapping reads from open handles do not go back to the server.
type FileBuffer struct {
	mu        sync.Mutex
	blockSize int64
	maxBlocks int
	blocks    map[int64][]byte
	order     []int64 // oldest first
	loaded    Mask

	HandleCount int
}

func NewFileBuffer(blockSize int64, maxBlocks int) *FileBuffer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	return &FileBuffer{
		blockSize: blockSize,
		maxBlocks: maxBlocks,
		blocks:    make(map[int64][]byte),
	}
}

func (fb *FileBuffer) BlockSize() int64 { return fb.blockSize }

func (fb *FileBuffer) String() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fmt.Sprintf("Buffer: blocks=%d/%d blockSize=%d handles=%d", len(fb.blocks), fb.maxBlocks, fb.blockSize, fb.HandleCount)
}

func (fb *FileBuffer) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.blocks)
}

func (fb *FileBuffer) block(idx int64) ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.loaded.isSet(int(idx)) {
		return nil, false
	}
	return fb.blocks[idx], true
}

func (fb *FileBuffer) store(idx int64, data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.loaded.isSet(int(idx)) {
		return
	}
	for len(fb.order) >= fb.maxBlocks {
		oldest := fb.order[0]
		fb.order = fb.order[1:]
		delete(fb.blocks, oldest)
		fb.loaded.unset(int(oldest))
	}
	fb.blocks[idx] = data
	fb.order = append(fb.order, idx)
	fb.loaded.set(int(idx))
}

// ReadAt fills p from offset off, loading missing blocks with load. A short
// block marks the end of the file and yields io.EOF.
func (fb *FileBuffer) ReadAt(p []byte, off int64, load LoadFunc) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		idx := pos / fb.blockSize

		data, ok := fb.block(idx)
		if !ok {
			var err error
			data, err = load(idx)
			if err != nil {
				return n, err
			}
			if int64(len(data)) > fb.blockSize {
				return n, ErrBadBlock
			}
			fb.store(idx, data)
		}

		within := pos - idx*fb.blockSize
		if within >= int64(len(data)) {
			return n, io.EOF
		}
		n += copy(p[n:], data[within:])
		if int64(len(data)) < fb.blockSize && n < len(p) {
			return n, io.EOF
		}
	}
	return n, nil
}

func (fb *FileBuffer) Clear() {
	fb.mu.Lock()
	fb.blocks = make(map[int64][]byte)
	fb.order = nil
	fb.loaded.clear()
	fb.mu.Unlock()
}

func (fb *FileBuffer) IncHandle() {
	fb.mu.Lock()
	fb.HandleCount++
	fb.mu.Unlock()
}

// DecHandle reports the number of handles left.
func (fb *FileBuffer) DecHandle() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.HandleCount > 0 {
		fb.HandleCount--
	}
	return fb.HandleCount
}
