package sut

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is an in-process stand-in for the on-device agent.
type fakeAgent struct {
	mu       sync.Mutex
	requests []Request
	accepts  int
	reply    func(Request) Response
}

func (a *fakeAgent) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != agentPath {
			http.NotFound(w, r)
			return
		}

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = c.CloseNow() }()

		a.mu.Lock()
		a.accepts++
		a.mu.Unlock()

		for {
			var req Request
			if err := wsjson.Read(r.Context(), c, &req); err != nil {
				return
			}

			a.mu.Lock()
			a.requests = append(a.requests, req)
			a.mu.Unlock()

			resp := Response{ID: req.ID, OK: true}
			if a.reply != nil {
				resp = a.reply(req)
				resp.ID = req.ID
			}

			if err := wsjson.Write(r.Context(), c, resp); err != nil {
				return
			}
		}
	})
}

func (a *fakeAgent) snapshot() ([]Request, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...), a.accepts
}

func newTestClient(t *testing.T, agent *fakeAgent) *Client {
	t.Helper()

	srv := httptest.NewServer(agent.handler(t))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := New(host, port)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestOperations(t *testing.T) {
	agent := &fakeAgent{}
	c := newTestClient(t, agent)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o600))

	require.NoError(t, c.MkDirs(ctx, "/sdcard/out"))
	require.NoError(t, c.PushFile(ctx, local, "/sdcard/out/x.bin"))
	_, err := c.Shell(ctx, "dd", "if=/sdcard/out/x.bin", "of=/sdcard/out/x_1.bin")
	require.NoError(t, err)
	require.NoError(t, c.RemoveFile(ctx, "/sdcard/out/x.bin"))
	require.NoError(t, c.RemoveDir(ctx, "/data/b2g/mozilla"))

	reqs, accepts := agent.snapshot()
	assert.Equal(t, 1, accepts, "connection is reused across operations")
	require.Len(t, reqs, 5)

	assert.Equal(t, "mkdirs", reqs[0].Op)
	assert.Equal(t, "/sdcard/out", reqs[0].Path)

	assert.Equal(t, "push", reqs[1].Op)
	data, err := base64.StdEncoding.DecodeString(reqs[1].Data)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Equal(t, "shell", reqs[2].Op)
	assert.Equal(t, []string{"dd", "if=/sdcard/out/x.bin", "of=/sdcard/out/x_1.bin"}, reqs[2].Args)

	assert.Equal(t, "rm", reqs[3].Op)
	assert.Equal(t, "rmdir", reqs[4].Op)

	for i, r := range reqs {
		assert.Equal(t, int64(i+1), r.ID)
	}
}

func TestShell_ReturnsOutput(t *testing.T) {
	agent := &fakeAgent{reply: func(Request) Response {
		return Response{OK: true, Output: "b2g started"}
	}}
	c := newTestClient(t, agent)

	out, err := c.Shell(context.Background(), "start", "b2g")
	require.NoError(t, err)
	assert.Equal(t, "b2g started", out)
}

func TestShell_NonZeroExit(t *testing.T) {
	agent := &fakeAgent{reply: func(Request) Response {
		return Response{OK: true, ExitCode: 2, Output: "no such service"}
	}}
	c := newTestClient(t, agent)

	_, err := c.Shell(context.Background(), "stop", "b2g")

	var re *harnesserr.RemoteOperationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "stop b2g", re.Target)
	assert.Contains(t, err.Error(), "exit status 2")
}

func TestAgentFailure(t *testing.T) {
	agent := &fakeAgent{reply: func(Request) Response {
		return Response{OK: false, Error: "read-only file system"}
	}}
	c := newTestClient(t, agent)

	err := c.MkDirs(context.Background(), "/system/x")
	require.True(t, harnesserr.IsRemote(err))
	assert.Contains(t, err.Error(), "read-only file system")
}

func TestPushFile_MissingSource(t *testing.T) {
	c := New("127.0.0.1", 1)

	err := c.PushFile(context.Background(), filepath.Join(t.TempDir(), "missing"), "/sdcard/x")
	require.Error(t, err)
	assert.False(t, harnesserr.IsRemote(err))
}

func TestDialFailure(t *testing.T) {
	c := New("127.0.0.1", 1)

	_, err := c.Shell(context.Background(), "ls")
	assert.True(t, harnesserr.IsRemote(err))
}

func TestClose_WithoutConnection(t *testing.T) {
	c := New("127.0.0.1", 1)
	assert.NoError(t, c.Close())
}
