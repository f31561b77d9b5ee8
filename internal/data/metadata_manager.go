package data

import (
	"container/list"
	"sync"
)

// FileMetaDataManager is a bounded LRU of FID → Meta, decoupling cold
// metadata's lifetime from the DirectoryTree's structure per spec.md
// §3/§4.5: a Node may surrender its meta here when cold, and must be
// able to reload it (via the refetch callback) before answering the next
// stat. Grounded in the same container/list + map shape as Cache's own
// eviction order and internal/cache/lru.go.
type FileMetaDataManager struct {
	mu sync.Mutex

	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	refetch func(fid string) (Meta, error)
}

type metaEntry struct {
	fid  string
	meta Meta
}

// NewFileMetaDataManager creates a manager bounded to capacity entries.
// refetch is called by Get on a miss to reload metadata from the remote
// (HEAD/LIST); it may be nil if the caller never expects misses to be
// serviceable (tests, or a manager seeded ahead of time).
func NewFileMetaDataManager(capacity int, refetch func(fid string) (Meta, error)) *FileMetaDataManager {
	return &FileMetaDataManager{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		refetch:  refetch,
	}
}

// Put inserts or updates fid's cached metadata, evicting the
// least-recently-used entry if capacity is exceeded.
func (m *FileMetaDataManager) Put(fid string, meta Meta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[fid]; ok {
		elem.Value.(*metaEntry).meta = meta
		m.order.MoveToFront(elem)
		return
	}
	elem := m.order.PushFront(&metaEntry{fid: fid, meta: meta})
	m.entries[fid] = elem
	m.evictIfOverLocked()
}

// evictIfOverLocked drops the oldest cold entry while len(entries)
// exceeds capacity. A non-positive capacity disables bounding.
func (m *FileMetaDataManager) evictIfOverLocked() {
	if m.capacity <= 0 {
		return
	}
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*metaEntry)
		m.order.Remove(oldest)
		delete(m.entries, entry.fid)
	}
}

// Get returns fid's metadata, touching LRU order on a hit. On a miss, if
// refetch is set, it is invoked and the result is cached and returned;
// otherwise Get reports ok=false.
func (m *FileMetaDataManager) Get(fid string) (Meta, bool) {
	m.mu.Lock()
	if elem, ok := m.entries[fid]; ok {
		m.order.MoveToFront(elem)
		meta := elem.Value.(*metaEntry).meta
		m.mu.Unlock()
		return meta, true
	}
	refetch := m.refetch
	m.mu.Unlock()

	if refetch == nil {
		return Meta{}, false
	}
	meta, err := refetch(fid)
	if err != nil {
		return Meta{}, false
	}
	m.Put(fid, meta)
	return meta, true
}

// Evict drops fid's entry without re-fetching, used when the
// DirectoryTree invalidates a subtree.
func (m *FileMetaDataManager) Evict(fid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[fid]; ok {
		m.order.Remove(elem)
		delete(m.entries, fid)
	}
}

// Len reports the number of tracked entries.
func (m *FileMetaDataManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
