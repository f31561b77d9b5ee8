package data

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	qserrors "github.com/objcachefs/objcachefs/pkg/errors"
)

// NodeID indexes into DirectoryTree's node arena, the stable-handle design
// spec.md §9 recommends over a pointer graph ("arena of nodes with child
// indices and an optional parent index -- no cyclic ownership").
type NodeID int

// invalidNodeID marks an empty arena slot or "no parent" (used only by
// the root).
const invalidNodeID NodeID = -1

// FileType distinguishes the kinds of Node.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
)

// Meta is a Node's stat-able attributes, per spec.md §3's Node.meta.
type Meta struct {
	Mode          uint32
	UID, GID      uint32
	Size          int64
	Mtime         time.Time
	Atime         time.Time
	OpenCount     int
	SymlinkTarget string
	FileType      FileType
}

// Node is one entry in the namespace: a path, its parent/children links,
// and its metadata. Directories are authoritative over their children
// list; regular files and symlinks have no children.
type Node struct {
	path     string
	parent   NodeID
	children []NodeID
	meta     Meta
}

// Path returns the Node's full path.
func (n *Node) Path() string { return n.path }

// Meta returns a copy of the Node's metadata.
func (n *Node) Meta() Meta { return n.meta }

// IsDir reports whether the Node is a directory.
func (n *Node) IsDir() bool { return n.meta.FileType == FileTypeDirectory }

// DirectoryTree is the namespace: path → Node, with parent/child links
// and per-file metadata, per spec.md §3/§4.4. A fixed root Node occupies
// index 0. Unlike the original's recursive_mutex tree, concurrent access
// here serializes through a single non-reentrant mutex; operations that
// need to call themselves recursively (Rename's descendant rewrite,
// Invalidate's subtree walk) do so through unexported *Locked helpers.
type DirectoryTree struct {
	mu sync.Mutex

	nodes  []*Node // arena; nodes[i] == nil means a freed slot
	byPath map[string]NodeID

	cache *Cache // erase()'d when a subtree is invalidated; nil-safe
}

// NewDirectoryTree creates a tree with a single root directory Node at
// "/" and wires it to cache for invalidation-driven erasure. cache may
// be nil in tests that don't exercise invalidation.
func NewDirectoryTree(cache *Cache) *DirectoryTree {
	root := &Node{path: "/", parent: invalidNodeID, meta: Meta{FileType: FileTypeDirectory, Mtime: time.Time{}}}
	return &DirectoryTree{
		nodes:  []*Node{root},
		byPath: map[string]NodeID{"/": 0},
		cache:  cache,
	}
}

// Lookup resolves path to its NodeID.
func (t *DirectoryTree) Lookup(p string) (NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[clean(p)]
	return id, ok
}

// GetMeta returns a copy of the Node's meta at path, or an error if
// absent.
func (t *DirectoryTree) GetMeta(p string) (Meta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[clean(p)]
	if !ok {
		return Meta{}, qserrors.NewError(qserrors.ErrCodeFileNotFound, "node not found").
			WithComponent("data").WithOperation("DirectoryTree.GetMeta").WithDetail("path", p)
	}
	return t.nodes[id].meta, nil
}

// Insert adds a new Node at path with the given meta. The parent
// directory must already exist; intermediate directories are never
// auto-created (the caller resolves via LIST first), per spec.md §4.4.
func (t *DirectoryTree) Insert(p string, meta Meta) (NodeID, error) {
	p = clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byPath[p]; exists {
		return invalidNodeID, qserrors.NewError(qserrors.ErrCodeValidationFailed, "node already exists").
			WithComponent("data").WithOperation("DirectoryTree.Insert").WithDetail("path", p)
	}

	parentPath := path.Dir(p)
	parentID, ok := t.byPath[parentPath]
	if !ok || !t.nodes[parentID].IsDir() {
		return invalidNodeID, qserrors.NewError(qserrors.ErrCodePathInvalid, "parent directory missing").
			WithComponent("data").WithOperation("DirectoryTree.Insert").
			WithDetail("path", p).WithDetail("parent", parentPath)
	}

	node := &Node{path: p, parent: parentID, meta: meta}
	id := t.allocLocked(node)
	t.nodes[parentID].children = append(t.nodes[parentID].children, id)
	t.byPath[p] = id
	return id, nil
}

// allocLocked appends node to the arena (slot reuse is intentionally not
// attempted: Invalidate compacts byPath but leaves the arena sparse,
// trading a little memory for avoiding stale-handle bugs).
func (t *DirectoryTree) allocLocked(node *Node) NodeID {
	t.nodes = append(t.nodes, node)
	return NodeID(len(t.nodes) - 1)
}

// Readdir returns the names of path's immediate children, sorted --
// the Open Question decision recorded in SPEC_FULL.md: sorting by name
// gives readdir paging a stable order regardless of how the backend's
// ListObjects happened to order contents/common_prefixes.
func (t *DirectoryTree) Readdir(p string) ([]string, error) {
	p = clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[p]
	if !ok || !t.nodes[id].IsDir() {
		return nil, qserrors.NewError(qserrors.ErrCodeFileNotFound, "not a directory").
			WithComponent("data").WithOperation("DirectoryTree.Readdir").WithDetail("path", p)
	}
	names := make([]string, 0, len(t.nodes[id].children))
	for _, childID := range t.nodes[id].children {
		child := t.nodes[childID]
		if child == nil {
			continue
		}
		names = append(names, path.Base(child.path))
	}
	sort.Strings(names)
	return names, nil
}

// SetFileSize implements MetaUpdater for Cache's size side-effects.
func (t *DirectoryTree) SetFileSize(fid string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byPath[clean(fid)]; ok {
		t.nodes[id].meta.Size = size
	}
}

// SetFileOpenState implements MetaUpdater for Cache's open-state
// side-effects.
func (t *DirectoryTree) SetFileOpenState(fid string, open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[clean(fid)]
	if !ok {
		return
	}
	if open {
		t.nodes[id].meta.OpenCount++
	} else if t.nodes[id].meta.OpenCount > 0 {
		t.nodes[id].meta.OpenCount--
	}
}

// SetMode updates path's permission bits in place. Per spec.md §9 Open
// Question (c), the tree only ever mutates its own Node; neither it nor
// its callers consult Config.NullableMeta.
func (t *DirectoryTree) SetMode(p string, mode uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[clean(p)]
	if !ok {
		return qserrors.NewError(qserrors.ErrCodeFileNotFound, "node not found").
			WithComponent("data").WithOperation("DirectoryTree.SetMode").WithDetail("path", p)
	}
	t.nodes[id].meta.Mode = mode
	return nil
}

// SetOwner updates path's uid/gid in place.
func (t *DirectoryTree) SetOwner(p string, uid, gid uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[clean(p)]
	if !ok {
		return qserrors.NewError(qserrors.ErrCodeFileNotFound, "node not found").
			WithComponent("data").WithOperation("DirectoryTree.SetOwner").WithDetail("path", p)
	}
	t.nodes[id].meta.UID = uid
	t.nodes[id].meta.GID = gid
	return nil
}

// SetTimes updates path's atime/mtime in place.
func (t *DirectoryTree) SetTimes(p string, atime, mtime time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[clean(p)]
	if !ok {
		return qserrors.NewError(qserrors.ErrCodeFileNotFound, "node not found").
			WithComponent("data").WithOperation("DirectoryTree.SetTimes").WithDetail("path", p)
	}
	t.nodes[id].meta.Atime = atime
	t.nodes[id].meta.Mtime = mtime
	return nil
}

// Rename moves the Node at oldPath to newPath, rewriting every
// descendant's path under the tree's own lock, per spec.md §4.4's
// "MUST iterate descendants and update keys atomically" requirement.
func (t *DirectoryTree) Rename(oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byPath[oldPath]
	if !ok {
		return qserrors.NewError(qserrors.ErrCodeFileNotFound, "rename source missing").
			WithComponent("data").WithOperation("DirectoryTree.Rename").WithDetail("path", oldPath)
	}
	if _, collides := t.byPath[newPath]; collides {
		return qserrors.NewError(qserrors.ErrCodeRenamed, "rename target already exists").
			WithComponent("data").WithOperation("DirectoryTree.Rename").WithDetail("path", newPath)
	}

	newParentPath := path.Dir(newPath)
	newParentID, ok := t.byPath[newParentPath]
	if !ok || !t.nodes[newParentID].IsDir() {
		return qserrors.NewError(qserrors.ErrCodePathInvalid, "rename target parent missing").
			WithComponent("data").WithOperation("DirectoryTree.Rename").WithDetail("parent", newParentPath)
	}

	node := t.nodes[id]
	oldParentID := node.parent
	removeChild(t.nodes[oldParentID], id)
	t.nodes[newParentID].children = append(t.nodes[newParentID].children, id)
	node.parent = newParentID

	t.renameSubtreeLocked(id, oldPath, newPath)
	return nil
}

// renameSubtreeLocked rewrites node id's path (and recursively every
// descendant's) from oldPrefix to newPrefix, keeping byPath in sync.
func (t *DirectoryTree) renameSubtreeLocked(id NodeID, oldPrefix, newPrefix string) {
	node := t.nodes[id]
	delete(t.byPath, node.path)
	node.path = newPrefix + strings.TrimPrefix(node.path, oldPrefix)
	t.byPath[node.path] = id
	for _, childID := range node.children {
		t.renameSubtreeLocked(childID, oldPrefix, newPrefix)
	}
}

// Invalidate drops the subtree rooted at path, recursively, and tells
// the Cache to erase each descendant file's FID, per spec.md §4.4's
// invalidation contract. Directories carry no cache entry themselves.
func (t *DirectoryTree) Invalidate(p string) error {
	p = clean(p)
	t.mu.Lock()
	id, ok := t.byPath[p]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	node := t.nodes[id]
	if node.parent != invalidNodeID {
		removeChild(t.nodes[node.parent], id)
	}

	var fids []string
	t.collectAndDropLocked(id, &fids)
	t.mu.Unlock()

	if t.cache == nil {
		return nil
	}
	for _, fid := range fids {
		if err := t.cache.Erase(fid); err != nil {
			return err
		}
	}
	return nil
}

// collectAndDropLocked removes node id and its descendants from byPath
// and the arena (nilling their slots), accumulating the FID (path) of
// every non-directory Node into fids for the caller to erase from Cache.
func (t *DirectoryTree) collectAndDropLocked(id NodeID, fids *[]string) {
	node := t.nodes[id]
	if node == nil {
		return
	}
	if !node.IsDir() {
		*fids = append(*fids, node.path)
	}
	for _, childID := range node.children {
		t.collectAndDropLocked(childID, fids)
	}
	delete(t.byPath, node.path)
	t.nodes[id] = nil
}

func removeChild(parent *Node, child NodeID) {
	for i, c := range parent.children {
		if c == child {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}

// clean normalizes a path the way the tree indexes it: no trailing
// slash (except root), always absolute.
func clean(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean(p)
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}
