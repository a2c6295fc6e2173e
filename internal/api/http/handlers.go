// Package http exposes the pseudo-kernel to user space: task registration
// and the write/read boundary of the debug pseudo-filesystem.
package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/picokernel/kernel/internal/debugfs"
	"github.com/picokernel/kernel/internal/getpinfo"
	"github.com/picokernel/kernel/internal/infrastructure/monitoring"
	"github.com/picokernel/kernel/internal/logging"
	"github.com/picokernel/kernel/internal/shared/id"
	"github.com/picokernel/kernel/internal/task"
	"github.com/picokernel/kernel/internal/ws"
)

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	table   *task.Table
	fs      *debugfs.FS
	module  *getpinfo.Module
	hub     *ws.Hub
	metrics *monitoring.Metrics
	log     *logging.Logger

	bootID  string
	started time.Time
}

// NewHandlers creates the handler set. hub and metrics may be nil.
func NewHandlers(table *task.Table, pfs *debugfs.FS, module *getpinfo.Module, hub *ws.Hub, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{
		table:   table,
		fs:      pfs,
		module:  module,
		hub:     hub,
		metrics: metrics,
		log:     log,
		bootID:  uuid.NewString(),
		started: time.Now(),
	}
}

// Root returns the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "picokernel",
		"boot_id": h.bootID,
		"channel": h.module.Path(),
		"uptime":  time.Since(h.started).Seconds(),
	})
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"boot_id": h.bootID,
		"tasks":   h.table.Len(),
		"busy":    h.module.Channel().Busy(),
	})
}

// RegisterTaskRequest registers a user-space task with the kernel.
type RegisterTaskRequest struct {
	Command   string `json:"command" binding:"required"`
	ParentPID uint32 `json:"parent_pid"`
}

// RegisterTask handles POST /tasks.
func (h *Handlers) RegisterTask(c *gin.Context) {
	var req RegisterTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	t, err := h.table.Register(req.Command, req.ParentPID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.log.Info("task registered",
		zap.Uint32("pid", t.PID),
		zap.String("command", t.Command),
	)
	if h.metrics != nil {
		h.metrics.RecordTaskRegistered()
	}
	if h.hub != nil {
		h.hub.Publish(ws.EventTaskRegistered, gin.H{"pid": t.PID, "command": t.Command})
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "task": t})
}

// ListTasks handles GET /tasks.
func (h *Handlers) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": h.table.List()})
}

// GetTask handles GET /tasks/:pid.
func (h *Handlers) GetTask(c *gin.Context) {
	pid, ok := parsePID(c)
	if !ok {
		return
	}
	t, found := h.table.Get(pid)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": task.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": t})
}

// ExitTask handles DELETE /tasks/:pid.
func (h *Handlers) ExitTask(c *gin.Context) {
	pid, ok := parsePID(c)
	if !ok {
		return
	}
	if err := h.table.Exit(pid); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.log.Info("task exited", zap.Uint32("pid", pid))
	if h.metrics != nil {
		h.metrics.RecordTaskExited()
	}
	if h.hub != nil {
		h.hub.Publish(ws.EventTaskExited, gin.H{"pid": pid})
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WriteRequest submits bytes to a pseudo-file on behalf of a task.
type WriteRequest struct {
	Path string `json:"path" binding:"required"`
	Data string `json:"data"`
	// DataBase64 carries payloads with embedded NUL bytes.
	DataBase64 string `json:"data_base64"`
	PID        uint32 `json:"pid" binding:"required"`
	Gen        id.Gen `json:"gen" binding:"required"`
}

// WriteFile handles POST /fs/write: the submit half of the channel.
func (h *Handlers) WriteFile(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	caller, ok := h.resolveCaller(c, req.PID, req.Gen)
	if !ok {
		return
	}

	data := []byte(req.Data)
	if req.DataBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid base64 payload"})
			return
		}
		data = decoded
	}

	handle, err := h.fs.Open(req.Path)
	if err != nil {
		writeFSError(c, err)
		return
	}

	n, err := handle.Write(&debugfs.Request{Ctx: c.Request.Context(), Caller: caller}, data)
	if err != nil {
		writeChannelError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "bytes_written": n})
}

// ReadRequest fetches bytes from a pseudo-file on behalf of a task.
type ReadRequest struct {
	Path     string `json:"path" binding:"required"`
	Capacity int    `json:"capacity" binding:"required"`
	PID      uint32 `json:"pid" binding:"required"`
	Gen      id.Gen `json:"gen" binding:"required"`
}

// ReadFile handles POST /fs/read: the fetch half of the channel.
func (h *Handlers) ReadFile(c *gin.Context) {
	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Capacity < 0 || req.Capacity > 1<<20 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "capacity out of range"})
		return
	}

	caller, ok := h.resolveCaller(c, req.PID, req.Gen)
	if !ok {
		return
	}

	handle, err := h.fs.Open(req.Path)
	if err != nil {
		writeFSError(c, err)
		return
	}

	buf := make([]byte, req.Capacity)
	n, err := handle.Read(&debugfs.Request{Ctx: c.Request.Context(), Caller: caller}, buf)
	if err != nil {
		writeChannelError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"bytes_read": n,
		"payload":    base64.StdEncoding.EncodeToString(buf[:n]),
	})
}

// ListFS handles GET /fs.
func (h *Handlers) ListFS(c *gin.Context) {
	entries, err := h.fs.List(c.Query("glob"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad glob pattern"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": entries})
}

func (h *Handlers) resolveCaller(c *gin.Context, pid uint32, gen id.Gen) (task.Identity, bool) {
	ident := task.Identity{PID: pid, Gen: gen}
	if _, ok := h.table.Resolve(ident); !ok {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "unknown task identity"})
		return task.Identity{}, false
	}
	return ident, true
}

func parsePID(c *gin.Context) (uint32, bool) {
	v, err := strconv.ParseUint(c.Param("pid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid pid"})
		return 0, false
	}
	return uint32(v), true
}

func writeFSError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, debugfs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, debugfs.ErrNotFile):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}

func writeChannelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, getpinfo.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, getpinfo.ErrTryAgain):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, getpinfo.ErrNoSpace):
		c.JSON(http.StatusInsufficientStorage, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, debugfs.ErrPermission):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}
