package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/picokernel/kernel/internal/api/http"
	"github.com/picokernel/kernel/internal/debugfs"
	"github.com/picokernel/kernel/internal/getpinfo"
	"github.com/picokernel/kernel/internal/task"
)

func newTestServer(t *testing.T) (*httptest.Server, *getpinfo.Module) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	table := task.NewTable()
	pfs := debugfs.New()
	opts := getpinfo.DefaultOptions()
	opts.OrphanTimeout = 0
	module, err := getpinfo.Load(pfs, table, opts)
	require.NoError(t, err)
	t.Cleanup(module.Unload)

	h := apihttp.NewHandlers(table, pfs, module, nil, nil, nil)
	router := gin.New()
	router.POST("/tasks", h.RegisterTask)
	router.GET("/tasks", h.ListTasks)
	router.DELETE("/tasks/:pid", h.ExitTask)
	router.POST("/fs/write", h.WriteFile)
	router.POST("/fs/read", h.ReadFile)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, module
}

func TestRegisterAndList(t *testing.T) {
	ts, _ := newTestServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	tk, err := c.Register(ctx, "probe", 0)
	require.NoError(t, err)
	assert.Equal(t, "probe", tk.Command)
	assert.NotEmpty(t, tk.Gen)

	tasks, err := c.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	require.NoError(t, c.Exit(ctx, tk.PID))
	assert.ErrorIs(t, c.Exit(ctx, tk.PID), ErrNotFound)
}

func TestCall(t *testing.T) {
	ts, module := newTestServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	tk, err := c.Register(ctx, "probe", 0)
	require.NoError(t, err)

	report, err := c.Call(ctx, module.Path(), tk.Identity(), getpinfo.VerbGetPinfo)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(report, "Success:\n"), report)
	assert.Contains(t, report, "command getpinfo\n")
}

func TestCallInvalidVerb(t *testing.T) {
	ts, module := newTestServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	tk, err := c.Register(ctx, "probe", 0)
	require.NoError(t, err)

	report, err := c.Call(ctx, module.Path(), tk.Identity(), "halt")
	require.NoError(t, err)
	assert.Equal(t, "Failed: invalid operation\n", report)
}

func TestSubmitBusy(t *testing.T) {
	ts, module := newTestServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	a, err := c.Register(ctx, "first", 0)
	require.NoError(t, err)
	b, err := c.Register(ctx, "second", 0)
	require.NoError(t, err)

	_, err = c.Submit(ctx, module.Path(), a.Identity(), getpinfo.VerbGetPinfo)
	require.NoError(t, err)

	_, err = c.Submit(ctx, module.Path(), b.Identity(), getpinfo.VerbGetPinfo)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSubmitUnknownIdentity(t *testing.T) {
	ts, module := newTestServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	_, err := c.Submit(ctx, module.Path(), Identity(99, "gen_bogus"), getpinfo.VerbGetPinfo)
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestSubmitOversized(t *testing.T) {
	ts, module := newTestServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	tk, err := c.Register(ctx, "probe", 0)
	require.NoError(t, err)

	_, err = c.Submit(ctx, module.Path(), tk.Identity(), strings.Repeat("x", getpinfo.MaxCall))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
