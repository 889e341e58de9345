// Package sut implements the remote-host device transport. It talks to a
// system-under-test agent running on the device over a WebSocket, one JSON
// request and one JSON response per operation. The connection is dialled
// lazily on first use and reused until Close.
package sut

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/devicelab/pkg/harnesserr"
)

// agentPath is the WebSocket endpoint exposed by the on-device agent.
const agentPath = "/agent"

// maxResponseBytes bounds a single agent response (shell output included).
const maxResponseBytes = 16 << 20

// Request is one agent operation.
type Request struct {
	ID   int64    `json:"id"`
	Op   string   `json:"op"`
	Path string   `json:"path,omitempty"`
	Args []string `json:"args,omitempty"`
	Data string   `json:"data,omitempty"` // base64 file content for "push"
}

// Response is the agent's reply to a Request.
type Response struct {
	ID       int64  `json:"id"`
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client is a remote-host transport backend.
type Client struct {
	addr string

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

// New creates a Client for the agent at host:port. No connection is made
// until the first operation.
func New(host string, port int) *Client {
	return &Client{addr: net.JoinHostPort(host, strconv.Itoa(port))}
}

// Addr returns the agent address as host:port.
func (c *Client) Addr() string { return c.addr }

// MkDirs creates dir and its parents on the device.
func (c *Client) MkDirs(ctx context.Context, dir string) error {
	_, err := c.do(ctx, Request{Op: "mkdirs", Path: dir})
	return err
}

// PushFile uploads the local file to remote.
func (c *Client) PushFile(ctx context.Context, local, remote string) error {
	data, err := os.ReadFile(local) //nolint:gosec // caller-provided deployment source
	if err != nil {
		return fmt.Errorf("sut: push: %w", err)
	}

	_, err = c.do(ctx, Request{Op: "push", Path: remote, Data: base64.StdEncoding.EncodeToString(data)})
	return err
}

// Shell runs args on the device and fails unless the command exits zero.
func (c *Client) Shell(ctx context.Context, args ...string) (string, error) {
	return c.do(ctx, Request{Op: "shell", Args: args})
}

// RemoveFile deletes a remote file.
func (c *Client) RemoveFile(ctx context.Context, path string) error {
	_, err := c.do(ctx, Request{Op: "rm", Path: path})
	return err
}

// RemoveDir deletes a remote directory tree.
func (c *Client) RemoveDir(ctx context.Context, path string) error {
	_, err := c.do(ctx, Request{Op: "rmdir", Path: path})
	return err
}

// Close closes the agent connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil

	return err
}

func (c *Client) do(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := req.Path
	if req.Op == "shell" {
		target = strings.Join(req.Args, " ")
	}

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return "", harnesserr.Remote(req.Op, target, err)
	}

	c.nextID++
	req.ID = c.nextID

	if err := wsjson.Write(ctx, conn, req); err != nil {
		c.dropConn()
		return "", harnesserr.Remote(req.Op, target, fmt.Errorf("write request: %w", err))
	}

	var resp Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		c.dropConn()
		return "", harnesserr.Remote(req.Op, target, fmt.Errorf("read response: %w", err))
	}

	if resp.ID != req.ID {
		c.dropConn()
		return "", harnesserr.Remote(req.Op, target, fmt.Errorf("response id %d does not match request %d", resp.ID, req.ID))
	}

	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "agent reported failure"
		}
		return resp.Output, &harnesserr.RemoteOperationError{Op: req.Op, Target: target, Output: resp.Output, Err: fmt.Errorf("%s", msg)}
	}

	if resp.ExitCode != 0 {
		return resp.Output, &harnesserr.RemoteOperationError{
			Op:     req.Op,
			Target: target,
			Output: resp.Output,
			Err:    fmt.Errorf("exit status %d", resp.ExitCode),
		}
	}

	return resp.Output, nil
}

// ensureConn dials the agent on first use. Callers hold c.mu.
func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, "ws://"+c.addr+agentPath, nil)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	conn.SetReadLimit(maxResponseBytes)

	c.conn = conn

	return conn, nil
}

// dropConn discards a connection left in an unknown state. Callers hold c.mu.
func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.CloseNow()
		c.conn = nil
	}
}
