// Package vfscore wires internal/data's Cache, DirectoryTree,
// FileMetaDataManager, and ResourceManager into the single facade the
// kernel binding (internal/fuse) calls into, per spec.md §6's upward
// interface. It takes an already-built data.Config (internal/adapter
// produces it with config.ToCoreConfig) -- neither this package nor the
// core package reads internal/config.Configuration, per spec.md §9's
// rejection of a configuration singleton.
package vfscore

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/objcachefs/objcachefs/internal/data"
	qserrors "github.com/objcachefs/objcachefs/pkg/errors"
	"github.com/objcachefs/objcachefs/pkg/utils"
)

// Core owns one instance of every C1-C7 component from spec.md §2 and
// exposes the binding-facing operations of spec.md §6.
type Core struct {
	cache     *data.Cache
	tree      *data.DirectoryTree
	metaMgr   *data.FileMetaDataManager
	resources *data.ResourceManager
	bridge    data.TransferBridge
	cfg       data.Config
	log       *utils.StructuredLogger
}

// New builds a Core. bridge is the adapter onto the object-store client
// (internal/storage/s3 implements data.TransferBridge); metrics may be
// nil. resourceCount/resourceBufferSize size the ResourceManager's
// fixed-size transfer-staging pool.
func New(cfg data.Config, bridge data.TransferBridge, metrics data.MetricsRecorder, resourceCount, resourceBufferSize int, log *utils.StructuredLogger) *Core {
	cache := data.NewCache(cfg, metrics)
	tree := data.NewDirectoryTree(cache)
	return &Core{
		cache:     cache,
		tree:      tree,
		metaMgr:   data.NewFileMetaDataManager(cfg.MetadataCacheEntries(), nil),
		resources: data.NewResourceManager(resourceCount, resourceBufferSize),
		bridge:    bridge,
		cfg:       cfg,
		log:       log,
	}
}

func (c *Core) logf(op string, fields map[string]interface{}) {
	if c.log == nil {
		return
	}
	c.log.WithComponent("vfscore").Debug(op, fields)
}

// Read returns length bytes of fid starting at off, fetching any pages
// not already cached through the TransferBridge and writing the result
// back into the Cache before returning, per spec.md §6's read contract.
func (c *Core) Read(ctx context.Context, fid string, off, length int64) ([]byte, error) {
	c.logf("read", map[string]interface{}{"fid": fid, "offset": off, "length": length})
	out, misses, err := c.cache.Read(fid, off, length)
	if err != nil {
		return nil, err
	}
	for _, miss := range misses {
		if err := c.fillMiss(ctx, fid, miss); err != nil {
			return nil, err
		}
	}
	if len(misses) == 0 {
		return out, nil
	}
	// Re-read now that every miss range has been written back, so the
	// returned buffer reflects freshly fetched bytes rather than the
	// zero-filled placeholder from the first pass.
	out, _, err = c.cache.Read(fid, off, length)
	return out, err
}

func (c *Core) fillMiss(ctx context.Context, fid string, miss data.Range) error {
	stream, err := c.bridge.DownloadRange(ctx, fid, miss.Offset, miss.Length)
	if err != nil {
		return qserrors.NewError(qserrors.ErrCodeConnectionFailed, "download range failed").
			WithComponent("vfscore").WithOperation("Read").WithCause(err).
			WithDetail("fid", fid).WithDetail("offset", miss.Offset).WithDetail("length", miss.Length)
	}
	defer stream.Close()

	buf, err := c.resources.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.resources.Release(buf)

	body, err := readAllUpTo(stream, buf, miss.Length)
	if err != nil {
		return qserrors.NewError(qserrors.ErrCodeScratchIO, "reading download stream failed").
			WithComponent("vfscore").WithOperation("Read").WithCause(err).WithDetail("fid", fid)
	}
	return c.cache.Write(fid, miss.Offset, body, true, c.tree)
}

// readAllUpTo drains stream into scratch using buf as staging space,
// returning at most want bytes.
func readAllUpTo(stream io.Reader, buf []byte, want int64) ([]byte, error) {
	out := make([]byte, 0, want)
	for int64(len(out)) < want {
		n, err := stream.Read(buf)
		if n > 0 {
			remaining := want - int64(len(out))
			if int64(n) > remaining {
				n = int(remaining)
			}
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Write stores buf at off in fid, updating the DirectoryTree's node size
// as a side effect of Cache.Write's canonical algorithm.
func (c *Core) Write(ctx context.Context, fid string, off int64, buf []byte) error {
	open := false
	if meta, err := c.tree.GetMeta(fid); err == nil {
		open = meta.OpenCount > 0
	}
	c.logf("write", map[string]interface{}{"fid": fid, "offset": off, "length": len(buf)})
	return c.cache.Write(fid, off, buf, open, c.tree)
}

// Truncate grows or shrinks fid to newSize, per Cache.Resize's contract
// (grow = hole fill via zero-write, shrink = File.resizeToSmallerSize).
func (c *Core) Truncate(ctx context.Context, fid string, newSize int64) error {
	return c.cache.Resize(fid, newSize, c.tree)
}

// Open marks fid open, making it unevictable, and bumps its Node's
// open-reference count.
func (c *Core) Open(ctx context.Context, fid string) error {
	c.cache.SetFileOpen(fid, true, c.tree)
	return nil
}

// Release marks fid closed. Any data written locally has already been
// pushed to the remote by the binding's upload scheduling (out of core
// scope per spec.md §1); Release only updates local open-state.
func (c *Core) Release(ctx context.Context, fid string) error {
	c.cache.SetFileOpen(fid, false, c.tree)
	return nil
}

// Rename relinks fid to newFid in both the Cache (evicting any existing
// newFid collision per spec.md S4) and the DirectoryTree (rewriting every
// descendant path if fid names a directory).
func (c *Core) Rename(ctx context.Context, oldFid, newFid string) error {
	if err := c.cache.Rename(oldFid, newFid); err != nil {
		return err
	}
	return c.tree.Rename(oldFid, newFid)
}

// Unlink removes fid from the namespace and erases its cached File and
// scratch pages.
func (c *Core) Unlink(ctx context.Context, fid string) error {
	if err := c.tree.Invalidate(fid); err != nil {
		return err
	}
	c.metaMgr.Evict(fid)
	return nil
}

// Mkdir inserts a new directory Node at p.
func (c *Core) Mkdir(ctx context.Context, p string, mode uint32, uid, gid uint32) error {
	now := time.Now()
	_, err := c.tree.Insert(p, data.Meta{
		Mode: mode, UID: uid, GID: gid,
		Mtime: now, Atime: now,
		FileType: data.FileTypeDirectory,
	})
	return err
}

// Create inserts a new regular-file Node at p and returns its fid (the
// Node's path, per spec.md §3's FID definition).
func (c *Core) Create(ctx context.Context, p string, mode uint32, uid, gid uint32) (string, error) {
	now := time.Now()
	if _, err := c.tree.Insert(p, data.Meta{
		Mode: mode, UID: uid, GID: gid,
		Mtime: now, Atime: now,
		FileType: data.FileTypeRegular,
	}); err != nil {
		return "", err
	}
	return p, nil
}

// Readdir lists the sorted children of directory p, resolving spec.md
// §9 Open Question (b) in favor of a stable order. If a TransferBridge is
// configured, the remote namespace under p is merged into the tree first
// (insert-if-absent) so a directory nothing has locally Mkdir'd or
// Create'd yet still lists its remote contents.
func (c *Core) Readdir(ctx context.Context, p string) ([]string, error) {
	if c.bridge != nil {
		if err := c.mergeRemoteDirLocked(ctx, p); err != nil {
			return nil, err
		}
	}
	return c.tree.Readdir(p)
}

// DirEntry is one child of a directory listing, carrying just enough of
// its Meta for the binding to build a kernel dirent without a further
// per-entry Getattr round-trip.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ReaddirEntries is Readdir plus each child's file type, for bindings
// (like the FUSE kernel binding) whose dirent needs to distinguish files
// from subdirectories without a second Getattr call per name.
func (c *Core) ReaddirEntries(ctx context.Context, p string) ([]DirEntry, error) {
	if c.bridge != nil {
		if err := c.mergeRemoteDirLocked(ctx, p); err != nil {
			return nil, err
		}
	}
	names, err := c.tree.Readdir(p)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		childPath := path.Join(p, name)
		meta, err := c.tree.GetMeta(childPath)
		if err != nil {
			continue
		}
		entries = append(entries, DirEntry{Name: name, IsDir: meta.FileType == data.FileTypeDirectory})
	}
	return entries, nil
}

// mergeRemoteDirLocked lists p's remote contents through the
// TransferBridge, inserting any entry not already present in the tree.
// Already-resolved local Nodes (including ones created purely locally,
// never yet uploaded) are left untouched.
func (c *Core) mergeRemoteDirLocked(ctx context.Context, p string) error {
	prefix := toRemoteKey(p)
	if prefix != "" {
		prefix += "/"
	}
	token := ""
	for {
		entries, next, err := c.bridge.ListObjects(ctx, prefix, "/", token)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, e := range entries {
			name := strings.TrimSuffix(strings.TrimPrefix(e.Key, prefix), "/")
			if name == "" {
				continue
			}
			childPath := path.Join(p, name)
			if _, err := c.tree.GetMeta(childPath); err == nil {
				continue
			}
			meta := data.Meta{Mtime: now, Atime: now}
			if e.IsCommonPrefix {
				meta.FileType = data.FileTypeDirectory
				meta.Mode = 0755
			} else {
				meta.FileType = data.FileTypeRegular
				meta.Mode = 0644
				meta.Size = e.Size
			}
			if _, err := c.tree.Insert(childPath, meta); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

// Getattr returns p's metadata, consulting FileMetaDataManager first so
// a cold Node whose meta was surrendered still answers without a full
// tree walk. On a full miss (neither the cache nor the tree has it), it
// falls back to Resolve, which queries the remote namespace directly --
// the TransferBridge equivalent of the original HeadObject-then-List
// fallback.
func (c *Core) Getattr(ctx context.Context, p string) (data.Meta, error) {
	if meta, ok := c.metaMgr.Get(p); ok {
		return meta, nil
	}
	meta, err := c.Resolve(ctx, p)
	if err != nil {
		return data.Meta{}, err
	}
	c.metaMgr.Put(p, meta)
	return meta, nil
}

// Resolve returns p's metadata, consulting the DirectoryTree first and
// falling back to a remote lookup (via TransferBridge.ListObjects, since
// spec.md §6's downward interface has no standalone HEAD operation) when
// the tree has never seen p. A successful remote resolution inserts p
// into the tree so subsequent calls are served locally.
func (c *Core) Resolve(ctx context.Context, p string) (data.Meta, error) {
	if meta, err := c.tree.GetMeta(p); err == nil {
		return meta, nil
	}
	if c.bridge == nil {
		return data.Meta{}, qserrors.NewError(qserrors.ErrCodeFileNotFound, "not found").
			WithComponent("vfscore").WithOperation("Resolve").WithDetail("path", p)
	}

	now := time.Now()
	key := toRemoteKey(p)

	entries, _, err := c.bridge.ListObjects(ctx, key, "", "")
	if err != nil {
		return data.Meta{}, err
	}
	for _, e := range entries {
		if !e.IsCommonPrefix && e.Key == key {
			meta := data.Meta{Mode: 0644, Size: e.Size, Mtime: now, Atime: now, FileType: data.FileTypeRegular}
			if _, err := c.tree.Insert(p, meta); err != nil {
				return data.Meta{}, err
			}
			return meta, nil
		}
	}

	dirPrefix := key + "/"
	dirEntries, _, err := c.bridge.ListObjects(ctx, dirPrefix, "/", "")
	if err != nil {
		return data.Meta{}, err
	}
	if len(dirEntries) > 0 {
		meta := data.Meta{Mode: 0755, Mtime: now, Atime: now, FileType: data.FileTypeDirectory}
		if _, err := c.tree.Insert(p, meta); err != nil {
			return data.Meta{}, err
		}
		return meta, nil
	}

	return data.Meta{}, qserrors.NewError(qserrors.ErrCodeFileNotFound, "not found").
		WithComponent("vfscore").WithOperation("Resolve").WithDetail("path", p)
}

// Chmod, Chown and Utimens are in-memory-only updates to the
// DirectoryTree's Node (spec.md §9 Open Question (c)), never round-tripped
// to the remote. Config.NullableMeta is not read here or by the bindings,
// so the same holds when it is false.
func (c *Core) Chmod(ctx context.Context, p string, mode uint32) error {
	return c.tree.SetMode(p, mode)
}

func (c *Core) Chown(ctx context.Context, p string, uid, gid uint32) error {
	return c.tree.SetOwner(p, uid, gid)
}

func (c *Core) Utimens(ctx context.Context, p string, atime, mtime time.Time) error {
	return c.tree.SetTimes(p, atime, mtime)
}

// ListRemote lists the remote namespace under prefix through the
// TransferBridge, used by the binding to populate directories lazily
// resolved from the object store rather than the local tree (e.g. on
// first mount before any local Insert has happened).
func (c *Core) ListRemote(ctx context.Context, prefix string) ([]data.ListedEntry, error) {
	var all []data.ListedEntry
	token := ""
	for {
		entries, next, err := c.bridge.ListObjects(ctx, prefix, "/", token)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if next == "" {
			break
		}
		token = next
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all, nil
}

// Parent returns the directory path one level above p, per the
// DirectoryTree's path-hierarchy convention (used by the binding to
// validate Mkdir/Create targets before calling in).
func Parent(p string) string {
	return path.Dir(p)
}

// toRemoteKey converts a DirectoryTree path (always "/"-rooted) into the
// object key form the TransferBridge deals in (S3 keys never carry a
// leading slash).
func toRemoteKey(p string) string {
	return strings.TrimPrefix(p, "/")
}
