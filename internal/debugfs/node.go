package debugfs

import (
	"context"
	"io"
	"os"

	"github.com/picokernel/kernel/internal/task"
)

// Request carries the context of one write or read against a file node:
// the calling task's identity and the handle's file position. Handlers may
// rewind the position, the way the original channel resets ppos.
type Request struct {
	Ctx    context.Context
	Caller task.Identity

	offset *int64
}

// Offset returns the handle's current file position.
func (r *Request) Offset() int64 {
	return *r.offset
}

// SetOffset moves the handle's file position.
func (r *Request) SetOffset(n int64) {
	*r.offset = n
}

// FileOps is the behaviour bound to a file node. Write consumes bytes from
// the caller; Read fills the caller's buffer and returns the byte count.
type FileOps interface {
	Write(req *Request, data []byte) (int, error)
	Read(req *Request, buf []byte) (int, error)
}

// Node is a named entry in the tree.
type Node interface {
	Name() string
	Mode() os.FileMode
	IsDir() bool
}

// Dir is a directory node.
type Dir struct {
	name     string
	mode     os.FileMode
	parent   *Dir
	children map[string]Node
}

func (d *Dir) Name() string      { return d.name }
func (d *Dir) Mode() os.FileMode { return d.mode }
func (d *Dir) IsDir() bool       { return true }

// File is a file node bound to FileOps.
type File struct {
	name   string
	mode   os.FileMode
	parent *Dir
	ops    FileOps
}

func (f *File) Name() string      { return f.name }
func (f *File) Mode() os.FileMode { return f.mode }
func (f *File) IsDir() bool       { return false }

// staticOps serves a fixed byte slice, honouring the handle offset.
// Used for informational nodes that have no handler behind them.
type staticOps struct {
	data []byte
}

// StaticFile returns FileOps serving fixed, read-only content.
func StaticFile(data []byte) FileOps {
	return &staticOps{data: data}
}

func (s *staticOps) Write(req *Request, data []byte) (int, error) {
	return 0, ErrPermission
}

func (s *staticOps) Read(req *Request, buf []byte) (int, error) {
	off := req.Offset()
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(buf, s.data[off:])
	req.SetOffset(off + int64(n))
	return n, nil
}
