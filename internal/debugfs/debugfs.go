// Package debugfs implements the in-memory administrative pseudo-filesystem
// the pseudo-kernel mounts its syscall channels into. Files carry behaviour,
// not bytes: modules bind FileOps to a node, and user-space writes and reads
// are brokered to those handlers with the caller's task identity attached.
package debugfs

import (
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// FS is the pseudo-filesystem tree. Tree mutations are synchronized;
// file operations run outside the tree lock.
type FS struct {
	mu   sync.RWMutex
	root *Dir
}

// New creates an empty filesystem.
func New() *FS {
	return &FS{
		root: &Dir{
			name:     "/",
			mode:     os.ModeDir | 0o755,
			children: make(map[string]Node),
		},
	}
}

// CreateDir creates a directory under parent. A nil parent means the root.
func (fs *FS) CreateDir(name string, parent *Dir) (*Dir, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p := fs.parentOrRoot(parent)
	if err := validName(name); err != nil {
		return nil, err
	}
	if _, ok := p.children[name]; ok {
		return nil, ErrExist
	}

	d := &Dir{
		name:     name,
		mode:     os.ModeDir | 0o755,
		parent:   p,
		children: make(map[string]Node),
	}
	p.children[name] = d
	return d, nil
}

// CreateFile creates a file node bound to ops under parent. A nil parent
// means the root.
func (fs *FS) CreateFile(name string, mode os.FileMode, parent *Dir, ops FileOps) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p := fs.parentOrRoot(parent)
	if err := validName(name); err != nil {
		return nil, err
	}
	if ops == nil {
		return nil, ErrNoDevice
	}
	if _, ok := p.children[name]; ok {
		return nil, ErrExist
	}

	f := &File{
		name:   name,
		mode:   mode,
		parent: p,
		ops:    ops,
	}
	p.children[name] = f
	return f, nil
}

// Remove detaches a node from the tree. Directories are removed with
// their children. A nil node is a no-op, so teardown paths can remove
// unconditionally.
func (fs *FS) Remove(n Node) {
	if n == nil {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch v := n.(type) {
	case *Dir:
		if v.parent != nil {
			delete(v.parent.children, v.name)
			v.parent = nil
		}
	case *File:
		if v.parent != nil {
			delete(v.parent.children, v.name)
			v.parent = nil
		}
	}
}

// Lookup resolves a slash-separated path to a node.
func (fs *FS) Lookup(p string) (Node, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.lookup(p)
}

func (fs *FS) lookup(p string) (Node, error) {
	cur := Node(fs.root)
	for _, part := range splitPath(p) {
		d, ok := cur.(*Dir)
		if !ok {
			return nil, ErrNotFound
		}
		next, ok := d.children[part]
		if !ok {
			return nil, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

// Open resolves a path to a file and returns a handle with its own file
// position.
func (fs *FS) Open(p string) (*Handle, error) {
	n, err := fs.Lookup(p)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*File)
	if !ok {
		return nil, ErrNotFile
	}
	return &Handle{file: f}, nil
}

// Entry describes a node in a listing.
type Entry struct {
	Path string      `json:"path"`
	Mode os.FileMode `json:"mode"`
	Dir  bool        `json:"dir"`
}

// List returns entries whose paths match the doublestar pattern, ordered
// by path. An empty pattern matches everything.
func (fs *FS) List(pattern string) ([]Entry, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, path.ErrBadPattern
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []Entry
	var walk func(prefix string, d *Dir)
	walk = func(prefix string, d *Dir) {
		for name, child := range d.children {
			p := path.Join(prefix, name)
			if ok, _ := doublestar.Match(pattern, p); ok {
				out = append(out, Entry{Path: p, Mode: child.Mode(), Dir: child.IsDir()})
			}
			if sub, ok := child.(*Dir); ok {
				walk(p, sub)
			}
		}
	}
	walk("", fs.root)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (fs *FS) parentOrRoot(parent *Dir) *Dir {
	if parent == nil {
		return fs.root
	}
	return parent
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return ErrNoDevice
	}
	return nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Handle is an open file with a position. Operations are serialized per
// handle, matching one task performing one call at a time on its open.
type Handle struct {
	file *File
	mu   sync.Mutex
	pos  int64
}

// Write submits data to the file's handler on behalf of caller.
func (h *Handle) Write(req *Request, data []byte) (int, error) {
	if h.file.mode.Perm()&0o222 == 0 {
		return 0, ErrPermission
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	req.offset = &h.pos
	return h.file.ops.Write(req, data)
}

// Read fetches from the file's handler on behalf of caller.
func (h *Handle) Read(req *Request, buf []byte) (int, error) {
	if h.file.mode.Perm()&0o444 == 0 {
		return 0, ErrPermission
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	req.offset = &h.pos
	return h.file.ops.Read(req, buf)
}

// Name returns the underlying file name.
func (h *Handle) Name() string {
	return h.file.name
}
