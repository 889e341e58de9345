package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/germanamz/devicelab/pkg/metrics"
	"github.com/germanamz/devicelab/pkg/session"
	"github.com/germanamz/devicelab/pkg/session/sessiontest"
	"github.com/germanamz/devicelab/pkg/transport"
	"github.com/germanamz/devicelab/pkg/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var android = session.Capabilities{"platform": "Android"}

var desktop = session.Capabilities{"platformName": "linux"}

type rig struct {
	sess     *sessiontest.Fake
	backend  *transporttest.Backend
	resolved int
	slept    []time.Duration
	ctl      *Controller
}

func newRig(t *testing.T, caps session.Capabilities, opts ...Option) *rig {
	t.Helper()

	r := &rig{sess: sessiontest.New(caps), backend: transporttest.New()}
	base := []Option{
		WithResolver(func(transport.Config) (transport.Backend, error) {
			r.resolved++
			return r.backend, nil
		}),
		WithSleep(func(_ context.Context, d time.Duration) error {
			r.slept = append(r.slept, d)
			return nil
		}),
	}
	r.ctl = New(r.sess, append(base, opts...)...)

	return r
}

func TestIsPhysicalDevice_Memoized(t *testing.T) {
	r := newRig(t, android)

	got, err := r.ctl.IsPhysicalDevice()
	require.NoError(t, err)
	assert.True(t, got)

	r.sess.Caps = desktop

	got, err = r.ctl.IsPhysicalDevice()
	require.NoError(t, err)
	assert.True(t, got, "first answer is kept")
}

func TestIsPhysicalDevice_Desktop(t *testing.T) {
	r := newRig(t, desktop)

	got, err := r.ctl.IsPhysicalDevice()
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsPhysicalDevice_CaseInsensitive(t *testing.T) {
	r := newRig(t, session.Capabilities{"platformName": "android"})

	got, err := r.ctl.IsPhysicalDevice()
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIsPhysicalDevice_NoSessionNotCached(t *testing.T) {
	r := newRig(t, android)
	r.sess.Active = false

	_, err := r.ctl.IsPhysicalDevice()
	require.ErrorIs(t, err, ErrNoCapabilities)

	r.sess.Active = true
	got, err := r.ctl.IsPhysicalDevice()
	require.NoError(t, err)
	assert.True(t, got)
}

func TestTransportBackend_NotADevice(t *testing.T) {
	r := newRig(t, desktop)

	_, err := r.ctl.TransportBackend()
	require.ErrorIs(t, err, harnesserr.ErrDeviceUnavailable)
	assert.Equal(t, "device manager only available for devices", err.Error())

	_, err = r.ctl.TransportBackend()
	require.ErrorIs(t, err, harnesserr.ErrDeviceUnavailable)
	assert.Zero(t, r.resolved)
	assert.False(t, r.ctl.backend.cached())
}

func TestTransportBackend_Memoized(t *testing.T) {
	r := newRig(t, android)

	b1, err := r.ctl.TransportBackend()
	require.NoError(t, err)
	b2, err := r.ctl.TransportBackend()
	require.NoError(t, err)

	assert.Same(t, b1, b2)
	assert.Equal(t, 1, r.resolved)

	require.NoError(t, r.ctl.Close())
	assert.True(t, r.backend.Closed())
}

func TestTransportBackend_ConfigurationError(t *testing.T) {
	ctl := New(sessiontest.New(android), WithTransport(transport.Config{Kind: "usb"}))

	_, err := ctl.TransportBackend()
	require.ErrorIs(t, err, harnesserr.ErrConfiguration)
	assert.Contains(t, err.Error(), `"usb"`)
}

func TestHasMobileConnection_NotMemoized(t *testing.T) {
	r := newRig(t, android)
	r.sess.On("mozMobileConnection", true, nil)
	ctx := context.Background()

	for range 2 {
		got, err := r.ctl.HasMobileConnection(ctx)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Len(t, r.sess.Scripts(), 2)

	r.sess.On("mozMobileConnection", false, nil)
	got, err := r.ctl.HasMobileConnection(ctx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestHasWireless_Memoized(t *testing.T) {
	r := newRig(t, android)
	r.sess.On("mozWifiManager", true, nil)
	ctx := context.Background()

	for range 3 {
		got, err := r.ctl.HasWireless(ctx)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Len(t, r.sess.Scripts(), 1)
}

func TestHasWireless_ErrorNotCached(t *testing.T) {
	r := newRig(t, android)
	r.sess.On("mozWifiManager", nil, errors.New("script error"))
	ctx := context.Background()

	_, err := r.ctl.HasWireless(ctx)
	require.Error(t, err)

	r.sess.On("mozWifiManager", false, nil)
	got, err := r.ctl.HasWireless(ctx)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestProbe_NonBoolean(t *testing.T) {
	r := newRig(t, android)
	r.sess.On("mozMobileConnection", "yes", nil)

	_, err := r.ctl.HasMobileConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected boolean")
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, validateTransition(StateUnknown, StateRunning))
	assert.NoError(t, validateTransition(StateUnknown, StateStopped))
	assert.NoError(t, validateTransition(StateRunning, StateStopped))
	assert.NoError(t, validateTransition(StateStopped, StateRunning))

	assert.Error(t, validateTransition(StateRunning, StateRunning))
	assert.Error(t, validateTransition(StateStopped, StateStopped))
	assert.Error(t, validateTransition(StateRunning, StateUnknown))
	assert.Error(t, validateTransition(State("bogus"), StateRunning))
}

func TestStart_PhysicalDevice(t *testing.T) {
	r := newRig(t, android)
	ctx := context.Background()

	require.NoError(t, r.ctl.Start(ctx))

	assert.Equal(t, StateRunning, r.ctl.State())
	assert.Equal(t, []string{"shell start b2g"}, r.backend.CallStrings())
	assert.Equal(t, ReadyScriptTimeout, r.sess.ScriptTimeout)

	calls := r.sess.Calls()
	assert.Subset(t, calls, []string{"wait_for_port", "start_session", "set_script_timeout", "execute_async_script"})
	assert.Less(t, indexOf(calls, "wait_for_port"), indexOf(calls, "start_session"))
	assert.Less(t, indexOf(calls, "start_session"), indexOf(calls, "execute_async_script"))

	scripts := r.sess.Scripts()
	require.Len(t, scripts, 1)
	assert.Contains(t, scripts[0], "mozbrowserloadend")
	assert.Contains(t, scripts[0], "homescreen")
}

func TestStart_Instance(t *testing.T) {
	inst := &sessiontest.Instance{}
	r := newRig(t, desktop)
	r.sess.Inst = inst

	require.NoError(t, r.ctl.Start(context.Background()))

	assert.Equal(t, 1, inst.Starts)
	assert.Empty(t, r.backend.Calls())
	assert.NotContains(t, r.sess.Calls(), "execute_async_script")
	assert.Zero(t, r.sess.ScriptTimeout)
}

func TestStart_NoMechanism(t *testing.T) {
	r := newRig(t, desktop)

	err := r.ctl.Start(context.Background())
	require.ErrorIs(t, err, harnesserr.ErrStartup)
	assert.Contains(t, err.Error(), "unable to start")
	assert.NotContains(t, r.sess.Calls(), "wait_for_port")
	assert.Equal(t, StateUnknown, r.ctl.State())
}

func TestStart_TwiceIsInvalid(t *testing.T) {
	r := newRig(t, android)
	ctx := context.Background()

	require.NoError(t, r.ctl.Start(ctx))
	err := r.ctl.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")
	assert.Len(t, r.backend.Calls(), 1)
}

func TestStart_ReadySignalFailure(t *testing.T) {
	r := newRig(t, android)
	r.sess.AsyncErr = errors.New("timed out")

	err := r.ctl.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for ui")
	assert.Equal(t, StateUnknown, r.ctl.State())
}

func TestStop_PhysicalDevice(t *testing.T) {
	r := newRig(t, android)

	require.NoError(t, r.ctl.Stop(context.Background()))

	assert.Equal(t, StateStopped, r.ctl.State())
	assert.Equal(t, []string{"shell stop b2g"}, r.backend.CallStrings())
	assert.Contains(t, r.sess.Calls(), "disconnect")
	assert.False(t, r.sess.Active)
}

func TestStop_FailureStillDisconnects(t *testing.T) {
	r := newRig(t, android)
	r.backend.FailOn("stop b2g", errors.New("exit 1"))

	err := r.ctl.Stop(context.Background())
	require.Error(t, err)
	assert.True(t, harnesserr.IsRemote(err))
	assert.Contains(t, r.sess.Calls(), "disconnect")
	assert.Equal(t, StateUnknown, r.ctl.State())
}

func TestStop_NoMechanism(t *testing.T) {
	r := newRig(t, desktop)

	err := r.ctl.Stop(context.Background())
	require.ErrorIs(t, err, harnesserr.ErrShutdown)
	assert.NotContains(t, r.sess.Calls(), "disconnect")
}

func TestStop_Instance(t *testing.T) {
	inst := &sessiontest.Instance{}
	r := newRig(t, desktop)
	r.sess.Inst = inst

	require.NoError(t, r.ctl.Stop(context.Background()))
	assert.Equal(t, 1, inst.Closes)
	assert.Contains(t, r.sess.Calls(), "disconnect")
}

func TestRestart_Instance(t *testing.T) {
	inst := &sessiontest.Instance{}
	m := metrics.New()
	r := newRig(t, desktop, WithMetrics(m))
	r.sess.Inst = inst

	require.NoError(t, r.ctl.Restart(context.Background()))

	assert.Equal(t, 1, inst.Closes)
	assert.Equal(t, 1, inst.Starts)
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, r.slept)
	assert.Equal(t, StateRunning, r.ctl.State())

	calls := r.sess.Calls()
	assert.Less(t, indexOf(calls, "disconnect"), indexOf(calls, "wait_for_port"))

	assert.Contains(t, collect(t, m), `devicelab_device_transitions_total{op="restart",result="ok"} 1`)
}

func TestRestart_DesktopWithoutInstance(t *testing.T) {
	r := newRig(t, desktop)

	err := r.ctl.Restart(context.Background())
	require.ErrorIs(t, err, harnesserr.ErrStartup)
	assert.Empty(t, r.slept)
}

func TestRestart_StartFailureLeavesStopped(t *testing.T) {
	r := newRig(t, android)
	ctx := context.Background()
	require.NoError(t, r.ctl.Start(ctx))

	r.sess.WaitErr = errors.New("connection refused")

	err := r.ctl.Restart(ctx)
	require.Error(t, err)
	assert.Equal(t, StateStopped, r.ctl.State())
	assert.Equal(t, []string{"shell start b2g", "shell stop b2g", "shell start b2g"}, r.backend.CallStrings())
}

func TestRestart_SettleDelayOption(t *testing.T) {
	r := newRig(t, android, WithSettleDelay(5*time.Second))

	require.NoError(t, r.ctl.Restart(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second}, r.slept)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func collect(t *testing.T, m *metrics.Recorder) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "devicelab.prom")
	require.NoError(t, m.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}
