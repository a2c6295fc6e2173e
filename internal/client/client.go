// Package client is the user-space view of the pseudo-kernel. It wraps
// the HTTP API in typed calls so tools never touch raw requests.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/picokernel/kernel/internal/getpinfo"
	"github.com/picokernel/kernel/internal/infrastructure/resilience"
	"github.com/picokernel/kernel/internal/shared/id"
	"github.com/picokernel/kernel/internal/task"
)

// Errors surfaced from the API's status codes.
var (
	ErrBusy            = errors.New("channel busy")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoSpace         = errors.New("no buffer space")
	ErrUnknownIdentity = errors.New("unknown task identity")
	ErrNotFound        = errors.New("not found")
)

const (
	defaultTimeout = 10 * time.Second

	// Call retries the fetch while the response is still foreign and the
	// submit while the slot is busy.
	defaultRetries = 5
	retryBackoff   = 50 * time.Millisecond
)

// Client talks to a running picokernel instance. A circuit breaker around
// transport failures keeps a dead server from stalling every caller.
type Client struct {
	http    *resty.Client
	breaker *resilience.Breaker
}

// New creates a client for the given base URL, e.g. "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
		breaker: resilience.New(resilience.Settings{
			FailureThreshold: 5,
			Cooldown:         10 * time.Second,
		}),
	}
}

// exec sends a prepared request through the breaker. API-level rejections
// are responses, not transport failures, so only errors count against it.
func (c *Client) exec(send func() (*resty.Response, error)) (*resty.Response, error) {
	var resp *resty.Response
	err := c.breaker.Do(func() error {
		var err error
		resp, err = send()
		return err
	})
	return resp, err
}

type taskResponse struct {
	Success bool      `json:"success"`
	Task    task.Task `json:"task"`
	Error   string    `json:"error"`
}

type tasksResponse struct {
	Success bool        `json:"success"`
	Tasks   []task.Task `json:"tasks"`
	Error   string      `json:"error"`
}

type writeResponse struct {
	Success      bool   `json:"success"`
	BytesWritten int    `json:"bytes_written"`
	Error        string `json:"error"`
}

type readResponse struct {
	Success   bool   `json:"success"`
	BytesRead int    `json:"bytes_read"`
	Payload   string `json:"payload"`
	Error     string `json:"error"`
}

// Register creates a task and returns its identity.
func (c *Client) Register(ctx context.Context, command string, parentPID uint32) (task.Task, error) {
	var out taskResponse
	resp, err := c.exec(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{"command": command, "parent_pid": parentPID}).
			SetResult(&out).
			SetError(&out).
			Post("/tasks")
	})
	if err != nil {
		return task.Task{}, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return task.Task{}, apiError(resp.StatusCode(), out.Error)
	}
	return out.Task, nil
}

// Exit removes a task from the table.
func (c *Client) Exit(ctx context.Context, pid uint32) error {
	var out taskResponse
	resp, err := c.exec(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&out).
			SetError(&out).
			Delete(fmt.Sprintf("/tasks/%d", pid))
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return apiError(resp.StatusCode(), out.Error)
	}
	return nil
}

// Tasks lists the live tasks.
func (c *Client) Tasks(ctx context.Context) ([]task.Task, error) {
	var out tasksResponse
	resp, err := c.exec(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&out).
			Get("/tasks")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError(resp.StatusCode(), out.Error)
	}
	return out.Tasks, nil
}

// Submit writes a verb to the channel file on behalf of ident.
func (c *Client) Submit(ctx context.Context, path string, ident task.Identity, verb string) (int, error) {
	var out writeResponse
	resp, err := c.exec(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"path": path,
				"data": verb,
				"pid":  ident.PID,
				"gen":  ident.Gen,
			}).
			SetResult(&out).
			SetError(&out).
			Post("/fs/write")
	})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, apiError(resp.StatusCode(), out.Error)
	}
	return out.BytesWritten, nil
}

// Fetch reads the response for ident into a buffer of the given capacity.
// A foreign or empty slot yields zero bytes and no error.
func (c *Client) Fetch(ctx context.Context, path string, ident task.Identity, capacity int) ([]byte, error) {
	var out readResponse
	resp, err := c.exec(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"path":     path,
				"capacity": capacity,
				"pid":      ident.PID,
				"gen":      ident.Gen,
			}).
			SetResult(&out).
			SetError(&out).
			Post("/fs/read")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError(resp.StatusCode(), out.Error)
	}
	return base64.StdEncoding.DecodeString(out.Payload)
}

// Call performs the full round trip: submit the verb, then fetch the
// response. A busy slot is retried with backoff a bounded number of times.
func (c *Client) Call(ctx context.Context, path string, ident task.Identity, verb string) (string, error) {
	var submitted bool
	for attempt := 0; attempt < defaultRetries; attempt++ {
		_, err := c.Submit(ctx, path, ident, verb)
		if err == nil {
			submitted = true
			break
		}
		if !errors.Is(err, ErrBusy) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryBackoff << attempt):
		}
	}
	if !submitted {
		return "", ErrBusy
	}

	payload, err := c.Fetch(ctx, path, ident, getpinfo.MaxResp)
	if err != nil {
		return "", err
	}
	// Strip the terminator for display.
	if n := len(payload); n > 0 && payload[n-1] == 0 {
		payload = payload[:n-1]
	}
	return string(payload), nil
}

// Identity builds a task identity from its raw parts.
func Identity(pid uint32, gen string) task.Identity {
	return task.Identity{PID: pid, Gen: id.Gen(gen)}
}

func apiError(status int, msg string) error {
	var base error
	switch status {
	case http.StatusConflict:
		base = ErrBusy
	case http.StatusBadRequest:
		base = ErrInvalidArgument
	case http.StatusInsufficientStorage:
		base = ErrNoSpace
	case http.StatusForbidden:
		base = ErrUnknownIdentity
	case http.StatusNotFound:
		base = ErrNotFound
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}
