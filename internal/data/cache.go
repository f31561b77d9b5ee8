package data

import (
	"container/list"
	"sync"

	qserrors "github.com/objcachefs/objcachefs/pkg/errors"
)

// Cache owns every File in the mount, tracking aggregate memory and disk
// usage against the budgets in Config and evicting least-recently-used
// Files when a write would exceed them. The eviction order and the
// write/resize/rename/erase algorithms are ported from
// original_source/src/data/Cache.cpp's Cache class, adapted to Go's
// container/list the way internal/cache/lru.go tracks its own eviction
// order (a map keyed by fid plus a list.List for LRU order, rather than
// qsfs's std::list<pair<string,File>> double structure).
type Cache struct {
	mu sync.Mutex

	cfg Config

	files     map[string]*list.Element // fid -> element (element.Value is *cacheEntry)
	evictList *list.List                // front = most recently used

	size     int64 // sum of cachedSize across all files (memory only)
	diskSize int64 // sum of diskSize across all files

	metrics MetricsRecorder
}

// cacheEntry is the value stored in each evictList element.
type cacheEntry struct {
	fid  string
	file *File
}

// MetricsRecorder is the narrow interface Cache reports hit/miss/eviction
// counts through; internal/metrics wires a Prometheus-backed
// implementation, tests use a no-op or recording stub.
type MetricsRecorder interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordEviction(freedBytes int64)
}

// MetaUpdater is the explicit DirectoryTree collaborator Cache reports
// size/open-state side effects through, per spec's design-notes guidance
// to keep this collaboration an explicit passed-in value rather than
// reaching into global state. A nil MetaUpdater means "no metadata
// update" -- callers that don't have a tree yet (e.g. warming the cache
// before the tree is populated) pass nil.
type MetaUpdater interface {
	SetFileSize(fid string, size int64)
	SetFileOpenState(fid string, open bool)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordCacheHit()             {}
func (noopMetricsRecorder) RecordCacheMiss()             {}
func (noopMetricsRecorder) RecordEviction(freed int64) {}

// NewCache creates an empty Cache bound to cfg. metrics may be nil, in
// which case cache events are simply not recorded.
func NewCache(cfg Config, metrics MetricsRecorder) *Cache {
	if metrics == nil {
		metrics = noopMetricsRecorder{}
	}
	return &Cache{
		cfg:       cfg,
		files:     make(map[string]*list.Element),
		evictList: list.New(),
		metrics:   metrics,
	}
}

// HasFile reports whether fid has a tracked File, without affecting LRU
// order -- mirrors Cache::HasFile in the original.
func (c *Cache) HasFile(fid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[fid]
	return ok
}

// GetNumFile returns the number of tracked Files.
func (c *Cache) GetNumFile() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// GetSize returns the aggregate in-memory cached size across all Files.
func (c *Cache) GetSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// GetCapacity returns the memory budget in bytes.
func (c *Cache) GetCapacity() int64 {
	return c.cfg.CacheCapacityBytes()
}

// FindFile returns fid's File and marks it most-recently-used, or reports
// ok=false if fid isn't tracked. Mirrors Cache::Find / the MRU bump every
// original qsfs accessor performs.
func (c *Cache) FindFile(fid string) (file *File, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, found := c.files[fid]
	if !found {
		c.metrics.RecordCacheMiss()
		return nil, false
	}
	c.evictList.MoveToFront(elem)
	c.metrics.RecordCacheHit()
	return elem.Value.(*cacheEntry).file, true
}

// MakeFile creates and tracks a new empty File for fid if one doesn't
// already exist, returning the (possibly pre-existing) File. Mirrors
// Cache::MakeFile's find-or-create semantics.
func (c *Cache) MakeFile(fid string) *File {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.files[fid]; ok {
		c.evictList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).file
	}
	file := NewFile(fid, c.cfg.DiskCacheDir)
	elem := c.evictList.PushFront(&cacheEntry{fid: fid, file: file})
	c.files[fid] = elem
	return file
}

// Read returns fid's bytes in [off, off+length), touching LRU order, plus
// the sub-ranges of that window not covered by any page -- the caller
// (vfscore.Core) fetches those ranges through TransferBridge and feeds the
// result back via Write before returning to the binding. A fid with no
// tracked File yet is treated as entirely missing rather than an error.
func (c *Cache) Read(fid string, off, length int64) ([]byte, []Range, error) {
	c.mu.Lock()
	file, existed := c.getOrCreateLocked(fid)
	c.mu.Unlock()
	if !existed {
		if off < 0 || length < 0 {
			return nil, nil, qserrors.NewError(qserrors.ErrCodeValidationFailed, "negative offset or length").
				WithComponent("data").WithOperation("Cache.Read")
		}
		if length == 0 {
			return nil, nil, nil
		}
		return make([]byte, length), []Range{{Offset: off, Length: length}}, nil
	}
	return file.read(off, length)
}

// Write stores src at off in fid's File, evicting other Files' pages to
// stay within the memory budget first. If eviction alone cannot make
// room and AllowDiskSpill is set, the write spills to scratch instead of
// failing -- the PrepareWrite fallback from the original Cache::Write.
// meta may be nil; when non-nil it is notified of the resulting size and
// open-state, per spec's canonical write algorithm step 6.
func (c *Cache) Write(fid string, off int64, src []byte, open bool, meta MetaUpdater) error {
	c.mu.Lock()
	file, _ := c.getOrCreateLocked(fid)
	needed := int64(len(src))

	useDisk := false
	if c.size+needed > c.cfg.CacheCapacityBytes() {
		c.freeLocked(needed, fid)
		if c.size+needed > c.cfg.CacheCapacityBytes() {
			if !c.cfg.AllowDiskSpill {
				c.mu.Unlock()
				return qserrors.NewError(qserrors.ErrCodeOutOfDiskBudget, "cache full and disk spill disabled").
					WithComponent("data").WithOperation("Cache.Write").WithDetail("fid", fid)
			}
			safe, err := isSafeDiskSpace(c.cfg.DiskCacheDir, needed, c.cfg.SafeDiskReserveBytes)
			if err != nil {
				c.mu.Unlock()
				return err
			}
			if !safe {
				c.freeDiskLocked(needed, fid)
				safe, err = isSafeDiskSpace(c.cfg.DiskCacheDir, needed, c.cfg.SafeDiskReserveBytes)
				if err != nil {
					c.mu.Unlock()
					return err
				}
			}
			if !safe {
				c.mu.Unlock()
				return qserrors.NewError(qserrors.ErrCodeOutOfDiskBudget, "insufficient disk space for spill").
					WithComponent("data").WithOperation("Cache.Write").WithDetail("fid", fid)
			}
			useDisk = true
		}
	}

	// c.mu stays held across the handoff into file.write: File has its
	// own independent file.mu, so the nesting is safe, and it keeps
	// freeLocked/freeDiskLocked from evicting this very fid out from
	// under an in-flight write before open/size accounting lands.
	if useDisk {
		file.SetUseDiskFile(true)
	}

	ok, addedMem, addedDisk, err := file.write(off, src, open)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !ok {
		c.mu.Unlock()
		return qserrors.NewError(qserrors.ErrCodeInternalError, "write did not complete").
			WithComponent("data").WithOperation("Cache.Write")
	}

	c.size += addedMem
	c.diskSize += addedDisk
	c.mu.Unlock()

	if meta != nil {
		meta.SetFileSize(fid, file.GetSize())
		meta.SetFileOpenState(fid, open)
	}
	return nil
}

// getOrCreateLocked is MakeFile's body, callable while c.mu is already
// held by Write.
func (c *Cache) getOrCreateLocked(fid string) (file *File, existed bool) {
	if elem, ok := c.files[fid]; ok {
		c.evictList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).file, true
	}
	file = NewFile(fid, c.cfg.DiskCacheDir)
	elem := c.evictList.PushFront(&cacheEntry{fid: fid, file: file})
	c.files[fid] = elem
	return file, false
}

// freeLocked evicts Files from the back of evictList (least recently
// used) until at least `needed` bytes of headroom exist or no more
// evictable Files remain. excludeFid is never evicted (it's the File the
// caller is actively writing to). Ported from Cache::Free: skip files
// that are open, stop once capacity is satisfied, defensively drop any
// list entry found to have a nil File.
func (c *Cache) freeLocked(needed int64, excludeFid string) {
	capacity := c.cfg.CacheCapacityBytes()
	for elem := c.evictList.Back(); elem != nil && c.size+needed > capacity; {
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry)
		switch {
		case entry.file == nil:
			c.evictList.Remove(elem)
			delete(c.files, entry.fid)
		case entry.fid == excludeFid || entry.file.IsOpen():
			// can't evict; leave in place and look at the next-oldest entry.
		default:
			freed := entry.file.GetCachedSize()
			if err := entry.file.clear(); err != nil {
				return // leave it tracked; a future pass can retry
			}
			c.evictList.Remove(elem)
			delete(c.files, entry.fid)
			c.size -= freed
			c.metrics.RecordEviction(freed)
		}
		elem = prev
	}
}

// FreeDiskCacheFiles evicts disk-backed Files' pages (LRU order, same
// scan as freeLocked) until isSafeDiskSpace reports enough headroom for
// needed bytes, the disk-analogous counterpart to
// Cache::FreeDiskCacheFiles. Safe to call on its own; Write calls
// freeDiskLocked directly since it already holds c.mu.
func (c *Cache) FreeDiskCacheFiles(needed int64, excludeFid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeDiskLocked(needed, excludeFid)
}

// freeDiskLocked is FreeDiskCacheFiles' body, callable while c.mu is
// already held. It stops as soon as isSafeDiskSpace is satisfied rather
// than on a diskSize bound, since the actual constraint is real free
// disk space, not an in-process budget.
func (c *Cache) freeDiskLocked(needed int64, excludeFid string) {
	for elem := c.evictList.Back(); elem != nil; {
		if safe, err := isSafeDiskSpace(c.cfg.DiskCacheDir, needed, c.cfg.SafeDiskReserveBytes); err == nil && safe {
			return
		}
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry)
		switch {
		case entry.file == nil:
			c.evictList.Remove(elem)
			delete(c.files, entry.fid)
		case entry.fid == excludeFid || entry.file.IsOpen() || entry.file.GetDiskSize() == 0:
			// can't evict; look at the next-oldest entry.
		default:
			freedDisk := entry.file.GetDiskSize()
			freedMem := entry.file.GetCachedSize()
			if err := entry.file.clear(); err != nil {
				return
			}
			c.size -= freedMem
			c.diskSize -= freedDisk
			c.evictList.Remove(elem)
			delete(c.files, entry.fid)
			c.metrics.RecordEviction(freedDisk)
		}
		elem = prev
	}
}

// Erase drops fid's File entirely, releasing its memory and any scratch
// files. Mirrors Cache::Erase.
func (c *Cache) Erase(fid string) error {
	c.mu.Lock()
	elem, ok := c.files[fid]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	c.evictList.Remove(elem)
	delete(c.files, fid)
	c.size -= entry.file.GetCachedSize()
	c.diskSize -= entry.file.GetDiskSize()
	c.mu.Unlock()

	return entry.file.clear()
}

// Rename moves fid's File to newFid, evicting and replacing any existing
// File already tracked under newFid -- the erase-collision-then-relink
// behavior of Cache::Rename.
func (c *Cache) Rename(fid, newFid string) error {
	if fid == newFid {
		return nil
	}
	c.mu.Lock()
	elem, ok := c.files[fid]
	if !ok {
		c.mu.Unlock()
		return qserrors.NewError(qserrors.ErrCodeFileNotFound, "rename of untracked file").
			WithComponent("data").WithOperation("Cache.Rename").WithDetail("fid", fid)
	}

	if collided, ok := c.files[newFid]; ok {
		collidedEntry := collided.Value.(*cacheEntry)
		c.evictList.Remove(collided)
		delete(c.files, newFid)
		c.size -= collidedEntry.file.GetCachedSize()
		c.diskSize -= collidedEntry.file.GetDiskSize()
		c.mu.Unlock()
		if err := collidedEntry.file.clear(); err != nil {
			return err
		}
		c.mu.Lock()
	}

	entry := elem.Value.(*cacheEntry)
	entry.fid = newFid
	entry.file.Rename(newFid)
	delete(c.files, fid)
	c.files[newFid] = elem
	c.mu.Unlock()

	return nil
}

// SetFileOpen updates fid's File open state, creating the File first if
// it isn't yet tracked (matching Cache::SetFileOpen, which is called from
// the FUSE open() path before any data has necessarily been cached).
func (c *Cache) SetFileOpen(fid string, open bool, meta MetaUpdater) {
	file := c.MakeFile(fid)
	file.SetOpen(open)
	if meta != nil {
		meta.SetFileOpenState(fid, open)
	}
}

// Resize grows or shrinks fid's File to newSize. Growing fills the new
// tail with a zero-filled write (matching Cache::Resize's grow-via-
// hole-fill); shrinking delegates to File.resizeToSmallerSize.
func (c *Cache) Resize(fid string, newSize int64, meta MetaUpdater) error {
	file := c.MakeFile(fid)
	current := file.GetSize()
	if newSize == current {
		return nil
	}
	if newSize < current {
		beforeMem, beforeDisk := file.GetCachedSize(), file.GetDiskSize()
		if err := file.resizeToSmallerSize(newSize); err != nil {
			return err
		}
		afterMem, afterDisk := file.GetCachedSize(), file.GetDiskSize()
		c.mu.Lock()
		c.size -= beforeMem - afterMem
		c.diskSize -= beforeDisk - afterDisk
		c.mu.Unlock()
		if meta != nil {
			meta.SetFileSize(fid, newSize)
		}
		return nil
	}
	hole := make([]byte, newSize-current)
	return c.Write(fid, current, hole, file.IsOpen(), meta)
}
