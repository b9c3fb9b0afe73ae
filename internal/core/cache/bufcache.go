package cache

import "sync"

// BufferCache shares one FileBuffer between all open handles of a path.
type BufferCache struct {
	mu        sync.Mutex
	entries   map[string]*FileBuffer
	blockSize int64
	maxBlocks int
}

func NewBufferCache(blockSize int64, maxBlocks int) *BufferCache {
	return &BufferCache{
		entries:   make(map[string]*FileBuffer),
		blockSize: blockSize,
		maxBlocks: maxBlocks,
	}
}

// Get returns the buffer for a path if present.
func (bc *BufferCache) Get(path string) (*FileBuffer, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	fb, ok := bc.entries[path]
	return fb, ok
}

// Acquire returns the buffer for a path, creating it if missing, and
// counts one more open handle on it.
func (bc *BufferCache) Acquire(path string) *FileBuffer {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	fb, ok := bc.entries[path]
	if !ok {
		fb = NewFileBuffer(bc.blockSize, bc.maxBlocks)
		bc.entries[path] = fb
	}
	fb.IncHandle()
	return fb
}

// Release drops one handle and forgets the buffer when none remain.
func (bc *BufferCache) Release(path string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	fb, ok := bc.entries[path]
	if !ok {
		return
	}
	if fb.DecHandle() == 0 {
		delete(bc.entries, path)
	}
}

func (bc *BufferCache) Delete(path string) {
	bc.mu.Lock()
	delete(bc.entries, path)
	bc.mu.Unlock()
}
