package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.Transition("start", nil)
	r.Transition("start", errors.New("boom"))
	r.Transition("stop", nil)
	r.Artifact("screenshot", errors.New("no display"))
	r.Artifact("page-source", nil)
	r.Copy()
	r.Copy()
	r.Setup(1500 * time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(r.transitions.WithLabelValues("start", ResultOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.transitions.WithLabelValues("start", ResultError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.artifacts.WithLabelValues("screenshot", ResultError)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.copies), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(r.setup))
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.Transition("start", nil)
		r.Artifact("screenshot", nil)
		r.Copy()
		r.Setup(time.Second)
	})
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteFile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestRecorder_WriteFile(t *testing.T) {
	r := New()
	r.Transition("restart", nil)

	path := filepath.Join(t.TempDir(), "devicelab.prom")
	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `devicelab_device_transitions_total{op="restart",result="ok"} 1`)
}
