package cache

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/ustar"
)

// Memory is an in-memory LRU block cache. It is safe for concurrent use and
// may be shared by any number of wrapped sources.
type Memory struct {
	mu       sync.Mutex
	maxBytes int64
	bytes    int64
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	group    singleflight.Group
}

type memoryBlock struct {
	key  string
	data []byte
}

// NewMemory returns a memory block cache holding at most maxBytes of blocks.
// Values <= 0 disable the limit.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		maxBytes: max(maxBytes, 0),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Wrap returns a ByteSource that caches reads from src in memory.
func (m *Memory) Wrap(src ustar.ByteSource, opts ...WrapOption) (ustar.ByteSource, error) {
	return NewSource(src, m, opts...)
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (m *Memory) MaxBytes() int64 {
	return m.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (m *Memory) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Prune evicts least recently used blocks until the cache is at or below
// targetBytes.
func (m *Memory) Prune(targetBytes int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evict(max(targetBytes, 0)), nil
}

// Block returns the cached block for key, fetching it on a miss.
func (m *Memory) Block(key string, length int64, fetch func() ([]byte, error)) ([]byte, error) {
	if data, ok := m.get(key, length); ok {
		return data, nil
	}
	result, err, _ := m.group.Do(key, func() (any, error) {
		if data, ok := m.get(key, length); ok {
			return data, nil
		}
		data, err := fetch()
		if err != nil {
			return nil, err
		}
		m.put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (m *Memory) get(key string, length int64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	block := elem.Value.(*memoryBlock) //nolint:errcheck // only put stores values
	if int64(len(block.data)) != length {
		m.remove(elem)
		return nil, false
	}
	m.order.MoveToFront(elem)
	return block.data, true
}

func (m *Memory) put(key string, data []byte) {
	size := int64(len(data))
	if size == 0 || (m.maxBytes > 0 && size > m.maxBytes) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return
	}
	if m.maxBytes > 0 {
		m.evict(m.maxBytes - size)
	}
	m.entries[key] = m.order.PushFront(&memoryBlock{key: key, data: data})
	m.bytes += size
}

// evict drops blocks from the back of the LRU list until at most target bytes
// remain. The caller holds mu.
func (m *Memory) evict(target int64) int64 {
	var freed int64
	for m.bytes > target {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		freed += m.remove(oldest)
	}
	return freed
}

func (m *Memory) remove(elem *list.Element) int64 {
	block := elem.Value.(*memoryBlock) //nolint:errcheck // only put stores values
	m.order.Remove(elem)
	delete(m.entries, block.key)
	size := int64(len(block.data))
	m.bytes -= size
	return size
}
