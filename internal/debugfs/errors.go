package debugfs

import "errors"

var (
	// ErrNoDevice indicates a node could not be created. Mirrors the
	// loader-visible failure of the original debug filesystem.
	ErrNoDevice = errors.New("no such device")

	// ErrNotFound indicates the path does not name a node.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExist indicates the name is already taken in the directory.
	ErrExist = errors.New("file exists")

	// ErrNotFile indicates the path names a directory where a file is
	// required.
	ErrNotFile = errors.New("not a file")

	// ErrPermission indicates the node's mode bits forbid the operation.
	ErrPermission = errors.New("permission denied")
)
