package lifecycle

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/germanamz/devicelab/pkg/debugdir"
	"github.com/germanamz/devicelab/pkg/device"
	"github.com/germanamz/devicelab/pkg/metrics"
	"github.com/germanamz/devicelab/pkg/session"
	"github.com/germanamz/devicelab/pkg/session/sessiontest"
	"github.com/germanamz/devicelab/pkg/testvars"
	"github.com/germanamz/devicelab/pkg/transport"
	"github.com/germanamz/devicelab/pkg/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testName = "test_settings.py TestSettings.test_wifi"

var (
	android = session.Capabilities{"platform": "ANDROID"}
	desktop = session.Capabilities{"platformName": "linux"}
)

type rig struct {
	sess    *sessiontest.Fake
	backend *transporttest.Backend
	root    string
	logs    *bytes.Buffer
	metrics *metrics.Recorder
	slept   []time.Duration
}

func newRig(t *testing.T, caps session.Capabilities) *rig {
	t.Helper()

	r := &rig{
		sess:    sessiontest.New(caps),
		backend: transporttest.New(),
		root:    t.TempDir(),
		logs:    &bytes.Buffer{},
		metrics: metrics.New(),
	}
	r.sess.ScreenshotData = session.DataURIPrefix + base64.StdEncoding.EncodeToString([]byte("PNGDATA"))
	r.sess.Source = "<html><body>homescreen</body></html>"
	r.sess.On("getSetting('*'", map[string]any{"wifi.enabled": true, "ril.radio.disabled": false}, nil)

	return r
}

func (r *rig) newCase(name string, opts ...Option) *Case {
	base := []Option{
		WithDebugRoot(r.root),
		WithLogger(slog.New(slog.NewTextHandler(r.logs, nil))),
		WithMetrics(r.metrics),
		WithSleep(func(_ context.Context, d time.Duration) error {
			r.slept = append(r.slept, d)
			return nil
		}),
		WithDeviceOptions(device.WithResolver(func(transport.Config) (transport.Backend, error) {
			return r.backend, nil
		})),
	}
	return New(name, NewSessionBase(r.sess), append(base, opts...)...)
}

func (r *rig) collect(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "devicelab.prom")
	require.NoError(t, r.metrics.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestParseTestName(t *testing.T) {
	tests := []struct {
		in    string
		class string
		test  string
	}{
		{testName, "TestSettings", "test_wifi"},
		{"tests.test_settings.TestSettings.test_wifi", "TestSettings", "test_wifi"},
		{"TestSettings.test_wifi", "TestSettings", "test_wifi"},
		{"test_wifi", "", "test_wifi"},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			class, test := ParseTestName(tt.in)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.test, test)
		})
	}
}

func TestSetUp_Order(t *testing.T) {
	r := newRig(t, desktop)
	vars := testvars.Vars{"carrier": "lab"}
	c := r.newCase("TestSettings.test_wifi", WithVars(vars), WithTimeouts(Timeouts{Script: 20 * time.Second, Search: 5 * time.Second}))

	require.NoError(t, c.SetUp(context.Background()))

	assert.Equal(t, []string{
		"wait_for_port",
		"start_session",
		"import_script",
		"set_search_timeout",
		"import_script",
		"set_script_timeout",
		"set_search_timeout",
		"import_script",
		"set_search_timeout",
	}, r.sess.Calls())

	imports := r.sess.Imports()
	require.Len(t, imports, 3)
	assert.Contains(t, imports[0], "GaiaDataLayer")
	assert.Contains(t, imports[1], "DeviceTouch")
	assert.Equal(t, imports[0], imports[2])

	assert.Equal(t, 20*time.Second, r.sess.ScriptTimeout)
	assert.Equal(t, vars, testvars.Vars(c.DataLayer().Vars()))
	assert.NotNil(t, c.Device())
	assert.Same(t, r.sess, c.Session().Session)

	assert.Contains(t, r.collect(t), "devicelab_setup_duration_seconds_count 1")
}

func TestSetUp_RestartPhysicalDevice(t *testing.T) {
	r := newRig(t, android)
	c := r.newCase(testName, WithRestart(true))

	require.NoError(t, c.SetUp(context.Background()))

	assert.Equal(t, []string{
		"shell stop b2g",
		"rmdir /data/local/indexedDB",
		"rmdir /data/b2g/mozilla",
		"shell start b2g",
	}, r.backend.CallStrings())
	assert.Equal(t, device.StateRunning, c.Device().State())
	assert.Empty(t, r.slept, "reset does not go through Restart")

	calls := r.sess.Calls()
	assert.Less(t, slices.Index(calls, "disconnect"), slices.Index(calls, "execute_async_script"))
}

func TestSetUp_RestartInstance(t *testing.T) {
	inst := &sessiontest.Instance{}
	r := newRig(t, desktop)
	r.sess.Inst = inst
	c := r.newCase(testName, WithRestart(true))

	require.NoError(t, c.SetUp(context.Background()))

	assert.Equal(t, 1, inst.Closes)
	assert.Equal(t, 1, inst.Starts)
	assert.Empty(t, r.backend.Calls(), "no wipe on desktop builds")
}

func TestSetUp_RestartSkippedWithoutDeviceOrInstance(t *testing.T) {
	r := newRig(t, desktop)
	c := r.newCase(testName, WithRestart(true))

	require.NoError(t, c.SetUp(context.Background()))

	assert.NotContains(t, r.sess.Calls(), "disconnect")
	assert.Equal(t, device.StateUnknown, c.Device().State())
	assert.Contains(t, r.logs.String(), "reset skipped")
}

func TestSetUp_RestartWipeFailure(t *testing.T) {
	r := newRig(t, android)
	r.backend.FailOn("rmdir /data/b2g/mozilla", errors.New("read-only file system"))
	c := r.newCase(testName, WithRestart(true))

	err := c.SetUp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wipe /data/b2g/mozilla")
	assert.NotContains(t, r.backend.CallStrings(), "shell start b2g")
}

func TestRun_Success(t *testing.T) {
	r := newRig(t, desktop)
	c := r.newCase(testName)

	var sawDataLayer bool
	err := c.Run(context.Background(), func(_ context.Context, c *Case) error {
		sawDataLayer = c.DataLayer() != nil
		return nil
	})
	require.NoError(t, err)

	assert.True(t, sawDataLayer)
	assert.Nil(t, c.DataLayer())
	assert.Empty(t, c.Artifacts())
	assert.Equal(t, "delete_session", r.sess.Calls()[len(r.sess.Calls())-1])
	assert.False(t, c.DebugDir().Exists())
}

func TestRun_FailureWritesDiagnostics(t *testing.T) {
	r := newRig(t, desktop)
	c := r.newCase(testName)
	bodyErr := errors.New("wifi toggle did not stick")

	err := c.Run(context.Background(), func(context.Context, *Case) error { return bodyErr })
	require.ErrorIs(t, err, bodyErr)

	dir := filepath.Join(r.root, "TestSettings")
	png, err := os.ReadFile(filepath.Join(dir, "test_wifi_screenshot.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(png))

	src, err := os.ReadFile(filepath.Join(dir, "test_wifi_source.txt"))
	require.NoError(t, err)
	assert.Equal(t, r.sess.Source, string(src))

	settings, err := os.ReadFile(filepath.Join(dir, "test_wifi_settings.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"wifi.enabled": true, "ril.radio.disabled": false}`, string(settings))

	artifacts := c.Artifacts()
	require.Len(t, artifacts, 3)
	assert.Equal(t, debugdir.KindScreenshot, artifacts[0].Kind)
	assert.Equal(t, debugdir.KindPageSource, artifacts[1].Kind)
	assert.Equal(t, debugdir.KindSettings, artifacts[2].Kind)

	calls := r.sess.Calls()
	assert.Less(t, slices.Index(calls, "switch_to_frame:top"), slices.Index(calls, "delete_session"))
	assert.Less(t, slices.Index(calls, "page_source"), slices.Index(calls, "switch_to_frame:top"))

	assert.Contains(t, r.collect(t), `devicelab_artifacts_total{kind="screenshot",result="ok"} 1`)
}

func TestRun_ScreenshotFailureContained(t *testing.T) {
	r := newRig(t, desktop)
	r.sess.ScreenshotErr = errors.New("screen is off")
	c := r.newCase("TestSettings.test_wifi")
	bodyErr := errors.New("boom")

	err := c.Run(context.Background(), func(context.Context, *Case) error { return bodyErr })
	require.ErrorIs(t, err, bodyErr)
	assert.NotContains(t, err.Error(), "screen is off")

	d := debugdir.New(filepath.Join(r.root, "TestSettings"))
	assert.NoFileExists(t, d.ScreenshotPath("test_wifi"))
	assert.FileExists(t, d.SourcePath("test_wifi"))
	assert.FileExists(t, d.SettingsPath("test_wifi"))
	assert.Len(t, c.Artifacts(), 2)

	logs := r.logs.String()
	assert.Contains(t, logs, "diagnostic capture failed")
	assert.Contains(t, logs, "screen is off")
	assert.Contains(t, r.collect(t), `devicelab_artifacts_total{kind="screenshot",result="error"} 1`)
	assert.Contains(t, r.sess.Calls(), "delete_session")
}

func TestRun_FrameSwitchFailureOnlyLosesSettings(t *testing.T) {
	r := newRig(t, desktop)
	r.sess.FrameErr = errors.New("no such frame")
	c := r.newCase("TestSettings.test_wifi")

	err := c.Run(context.Background(), func(context.Context, *Case) error { return errors.New("boom") })
	require.Error(t, err)

	d := debugdir.New(filepath.Join(r.root, "TestSettings"))
	assert.FileExists(t, d.ScreenshotPath("test_wifi"))
	assert.FileExists(t, d.SourcePath("test_wifi"))
	assert.NoFileExists(t, d.SettingsPath("test_wifi"))
}

func TestRun_DefaultDebugDir(t *testing.T) {
	t.Chdir(t.TempDir())

	r := newRig(t, desktop)
	c := New("TestSettings.test_wifi", NewSessionBase(r.sess))

	err := c.Run(context.Background(), func(context.Context, *Case) error { return errors.New("boom") })
	require.Error(t, err)

	assert.FileExists(t, filepath.Join("debug", "TestSettings", "test_wifi_screenshot.png"))
	assert.FileExists(t, filepath.Join("debug", "TestSettings", "test_wifi_source.txt"))
	assert.FileExists(t, filepath.Join("debug", "TestSettings", "test_wifi_settings.json"))
}

func TestRun_XMLOutputDirectory(t *testing.T) {
	r := newRig(t, desktop)
	reports := t.TempDir()
	c := r.newCase("TestSettings.test_wifi", WithVars(testvars.Vars{
		testvars.KeyXMLOutput: filepath.Join(reports, "report.xml"),
	}))

	err := c.Run(context.Background(), func(context.Context, *Case) error { return errors.New("boom") })
	require.Error(t, err)

	assert.Equal(t, filepath.Join(reports, "TestSettings"), c.DebugDir().Root())
	assert.FileExists(t, filepath.Join(reports, "TestSettings", "test_wifi_source.txt"))
}

func TestRun_PanicRecovered(t *testing.T) {
	r := newRig(t, desktop)
	c := r.newCase("TestSettings.test_wifi")

	err := c.Run(context.Background(), func(context.Context, *Case) error { panic("element vanished") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test panicked: element vanished")
	assert.Len(t, c.Artifacts(), 3)
	assert.Contains(t, r.sess.Calls(), "delete_session")
}

func TestRun_SetUpFailureStillTearsDown(t *testing.T) {
	r := newRig(t, desktop)
	r.sess.StartErr = errors.New("session refused")
	c := r.newCase("TestSettings.test_wifi")

	called := false
	err := c.Run(context.Background(), func(context.Context, *Case) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, r.sess.StartErr)
	assert.False(t, called)
	assert.Contains(t, r.sess.Calls(), "delete_session")
	assert.Contains(t, r.logs.String(), "lifecycle: no data layer")
}

type failingBase struct {
	*SessionBase
	err error
}

func (b failingBase) TearDown(context.Context) error { return b.err }

func TestRun_CleanupErrorJoined(t *testing.T) {
	r := newRig(t, desktop)
	cleanupErr := errors.New("session already gone")
	c := New("TestSettings.test_wifi", failingBase{SessionBase: NewSessionBase(r.sess), err: cleanupErr}, WithDebugRoot(r.root))
	bodyErr := errors.New("boom")

	err := c.Run(context.Background(), func(context.Context, *Case) error { return bodyErr })
	require.ErrorIs(t, err, bodyErr)
	require.ErrorIs(t, err, cleanupErr)

	assert.Less(t, strings.Index(err.Error(), "boom"), strings.Index(err.Error(), "session already gone"))
}

func TestTearDown_ClosesTransport(t *testing.T) {
	r := newRig(t, android)
	c := r.newCase("TestSettings.test_wifi")
	ctx := context.Background()

	require.NoError(t, c.SetUp(ctx))
	_, err := c.Device().TransportBackend()
	require.NoError(t, err)

	require.NoError(t, c.TearDown(ctx, nil))
	assert.True(t, r.backend.Closed())
	assert.Nil(t, c.Device())
	assert.Nil(t, c.Session())
	assert.Nil(t, c.DataLayer())
}

func TestRun_MiddlewareAndRunID(t *testing.T) {
	r := newRig(t, desktop)
	c := r.newCase("TestSettings.test_wifi", WithMiddleware(Timeout(time.Minute)))

	var deadline bool
	require.NoError(t, c.Run(context.Background(), func(ctx context.Context, _ *Case) error {
		_, deadline = ctx.Deadline()
		return nil
	}))

	assert.True(t, deadline)
	assert.NotEmpty(t, c.RunID())
	assert.NotEqual(t, c.RunID(), r.newCase("TestSettings.test_wifi").RunID())
	assert.Contains(t, r.logs.String(), "run="+c.RunID())
}
