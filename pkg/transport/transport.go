// Package transport selects and constructs the device-management backend used
// to issue file and shell operations to a device, independent of the UI
// remote-control session. Two backends exist: a cable-attached one driven
// through the adb CLI and a networked one that talks to an on-device agent.
package transport

import (
	"context"
	"strings"

	"github.com/germanamz/devicelab/pkg/harnesserr"
	"github.com/germanamz/devicelab/pkg/transport/adb"
	"github.com/germanamz/devicelab/pkg/transport/sut"
)

// Kind names a transport backend.
type Kind string

const (
	// KindADB is the local-cable transport. It is the default.
	KindADB Kind = "adb"
	// KindSUT is the remote-host transport. It requires a host address.
	KindSUT Kind = "sut"
)

// DefaultSUTPort is the agent port used when Config.Port is zero.
const DefaultSUTPort = 20701

// Backend is the device transport endpoint.
type Backend interface {
	// MkDirs creates dir and any missing parents. Existing directories are
	// not an error.
	MkDirs(ctx context.Context, dir string) error
	// PushFile copies a local file to a remote path.
	PushFile(ctx context.Context, local, remote string) error
	// Shell runs a command on the device and fails unless it exits zero.
	Shell(ctx context.Context, args ...string) (string, error)
	// RemoveFile deletes a remote file.
	RemoveFile(ctx context.Context, path string) error
	// RemoveDir deletes a remote directory tree.
	RemoveDir(ctx context.Context, path string) error
	// Close releases any connection held by the backend.
	Close() error
}

// Config selects a backend. It is built once at the process boundary from
// configuration and environment and passed in explicitly.
type Config struct {
	Kind    Kind
	Host    string // remote-host only
	Port    int    // remote-host only; DefaultSUTPort when zero
	ADBPath string // local-cable only; "adb" when empty
	Serial  string // local-cable only; optional device serial
}

// Resolve constructs the backend named by cfg. It performs no I/O and does
// not cache its result; callers memoize.
func Resolve(cfg Config) (Backend, error) {
	kind := Kind(strings.TrimSpace(string(cfg.Kind)))
	if kind == "" {
		kind = KindADB
	}

	switch kind {
	case KindADB:
		return adb.New(adb.WithPath(cfg.ADBPath), adb.WithSerial(cfg.Serial)), nil
	case KindSUT:
		if cfg.Host == "" {
			return nil, harnesserr.Configuration("must specify host with %s", KindSUT)
		}
		port := cfg.Port
		if port == 0 {
			port = DefaultSUTPort
		}
		return sut.New(cfg.Host, port), nil
	default:
		return nil, harnesserr.Configuration("unknown device manager type %q", string(kind))
	}
}
