package transport

import (
	"testing"

	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/germanamz/devicelab/pkg/transport/adb"
	"github.com/germanamz/devicelab/pkg/transport/sut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_DefaultsToADB(t *testing.T) {
	b, err := Resolve(Config{})
	require.NoError(t, err)

	_, ok := b.(*adb.ADB)
	assert.True(t, ok)
}

func TestResolve_ADB(t *testing.T) {
	b, err := Resolve(Config{Kind: KindADB, Serial: "emulator-5554"})
	require.NoError(t, err)

	a, ok := b.(*adb.ADB)
	require.True(t, ok)
	assert.Equal(t, "emulator-5554", a.Serial())
}

func TestResolve_SUT(t *testing.T) {
	b, err := Resolve(Config{Kind: KindSUT, Host: "10.0.0.7"})
	require.NoError(t, err)

	s, ok := b.(*sut.Client)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7:20701", s.Addr())
}

func TestResolve_SUTCustomPort(t *testing.T) {
	b, err := Resolve(Config{Kind: KindSUT, Host: "device.local", Port: 9999})
	require.NoError(t, err)

	assert.Equal(t, "device.local:9999", b.(*sut.Client).Addr())
}

func TestResolve_SUTWithoutHost(t *testing.T) {
	b, err := Resolve(Config{Kind: KindSUT})

	assert.Nil(t, b)
	require.ErrorIs(t, err, harnesserr.ErrConfiguration)
	assert.Contains(t, err.Error(), "must specify host")
}

func TestResolve_UnsupportedKinds(t *testing.T) {
	for _, kind := range []Kind{"usb", "ADB", "wifi", "sut2", "remote-host"} {
		t.Run(string(kind), func(t *testing.T) {
			b, err := Resolve(Config{Kind: kind, Host: "h"})

			assert.Nil(t, b)
			require.ErrorIs(t, err, harnesserr.ErrConfiguration)
			assert.Contains(t, err.Error(), string(kind))
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	cfg := Config{Kind: KindSUT, Host: "h", Port: 1}

	a, err := Resolve(cfg)
	require.NoError(t, err)
	b, err := Resolve(cfg)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, a.(*sut.Client).Addr(), b.(*sut.Client).Addr())
}
