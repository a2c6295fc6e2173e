package getpinfo

import (
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/picokernel/kernel/internal/debugfs"
	"github.com/picokernel/kernel/internal/logging"
	"github.com/picokernel/kernel/internal/task"
)

// Options configures the module surface.
type Options struct {
	DirName  string
	FileName string
	FileMode uint32

	BufferCount int

	// OrphanTimeout zero disables the janitor.
	OrphanTimeout   time.Duration
	JanitorInterval time.Duration

	Logger   *logging.Logger
	Recorder Recorder
}

// DefaultOptions returns the channel layout of the original module.
func DefaultOptions() Options {
	return Options{
		DirName:         "getpinfo",
		FileName:        "getpinfo_call",
		FileMode:        0o666,
		BufferCount:     1,
		OrphanTimeout:   5 * time.Minute,
		JanitorInterval: 30 * time.Second,
	}
}

// Module is the loaded syscall channel: the channel core bound to its
// boundary node in the debug pseudo-filesystem.
type Module struct {
	fs      *debugfs.FS
	channel *Channel
	dir     *debugfs.Dir
	file    *debugfs.File
	log     *logging.Logger

	janitorStop chan struct{}
	janitorDone sync.WaitGroup
	unloadOnce  sync.Once
}

// Load creates the boundary node and attaches the channel. A creation
// failure is reported as "no such device" and leaves the filesystem
// unchanged.
func Load(pfs *debugfs.FS, table *task.Table, opts Options) (*Module, error) {
	if opts.DirName == "" || opts.FileName == "" {
		return nil, fmt.Errorf("channel layout unset: %w", debugfs.ErrNoDevice)
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}

	chOpts := []Option{WithLogger(log)}
	if opts.BufferCount > 0 {
		chOpts = append(chOpts, WithBufferCount(opts.BufferCount))
	}
	if opts.Recorder != nil {
		chOpts = append(chOpts, WithRecorder(opts.Recorder))
	}
	channel := NewChannel(table, chOpts...)

	dir, err := pfs.CreateDir(opts.DirName, nil)
	if err != nil {
		log.Error("error creating channel directory",
			zap.String("dir", opts.DirName), zap.Error(err))
		return nil, fmt.Errorf("creating %s directory: %w", opts.DirName, debugfs.ErrNoDevice)
	}

	file, err := pfs.CreateFile(opts.FileName, fileMode(opts.FileMode), dir, &channelOps{channel: channel})
	if err != nil {
		pfs.Remove(dir)
		log.Error("error creating channel file",
			zap.String("file", opts.FileName), zap.Error(err))
		return nil, fmt.Errorf("creating %s file: %w", opts.FileName, debugfs.ErrNoDevice)
	}

	m := &Module{
		fs:          pfs,
		channel:     channel,
		dir:         dir,
		file:        file,
		log:         log,
		janitorStop: make(chan struct{}),
	}

	if opts.OrphanTimeout > 0 {
		interval := opts.JanitorInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		m.janitorDone.Add(1)
		go m.janitor(opts.OrphanTimeout, interval)
	}

	log.Info("syscall channel loaded",
		zap.String("path", m.Path()),
		zap.Duration("orphan_timeout", opts.OrphanTimeout),
	)
	return m, nil
}

// Unload removes the file, then the directory, then frees any lingering
// response buffer. It never fails and is safe to call twice.
func (m *Module) Unload() {
	m.unloadOnce.Do(func() {
		close(m.janitorStop)
		m.janitorDone.Wait()

		m.fs.Remove(m.file)
		m.fs.Remove(m.dir)
		m.channel.drain()
		m.log.Info("syscall channel unloaded", zap.String("path", m.Path()))
	})
}

// Channel returns the channel core.
func (m *Module) Channel() *Channel {
	return m.channel
}

// Path returns the boundary node's path within the pseudo-filesystem.
func (m *Module) Path() string {
	return path.Join(m.dir.Name(), m.file.Name())
}

func (m *Module) janitor(timeout, interval time.Duration) {
	defer m.janitorDone.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.janitorStop:
			return
		case <-ticker.C:
			m.channel.ReclaimOrphan(timeout)
		}
	}
}

func fileMode(m uint32) os.FileMode {
	if m == 0 {
		return 0o666
	}
	return os.FileMode(m)
}

// channelOps binds the channel to a debugfs file: write is submit, read
// is fetch. Both rewind the handle, the way the original resets ppos.
type channelOps struct {
	channel *Channel
}

func (o *channelOps) Write(req *debugfs.Request, data []byte) (int, error) {
	n, err := o.channel.Submit(req.Caller, data)
	if err != nil {
		return 0, err
	}
	req.SetOffset(0)
	return n, nil
}

func (o *channelOps) Read(req *debugfs.Request, buf []byte) (int, error) {
	n, err := o.channel.Fetch(req.Caller, buf)
	if err != nil {
		return 0, err
	}
	req.SetOffset(0)
	return n, nil
}
