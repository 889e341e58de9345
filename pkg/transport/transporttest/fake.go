// Package transporttest provides an in-memory transport.Backend for tests.
package transporttest

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"

	"github.com/germanamz/devicelab/pkg/harnesserr"
)

// Call is one recorded backend operation.
type Call struct {
	Op   string
	Args []string
}

// String renders the call as "op arg arg".
func (c Call) String() string {
	return strings.TrimSpace(c.Op + " " + strings.Join(c.Args, " "))
}

// Backend records operations and models a device filesystem as a set of
// paths. "dd if=A of=B" shell commands copy A to B.
type Backend struct {
	mu sync.Mutex

	// Files holds remote file paths and the local path or remote source
	// they were copied from.
	Files map[string]string
	// Dirs holds created remote directories.
	Dirs map[string]bool

	// Errs fails the first call whose rendered form contains the key.
	Errs map[string]error
	// Outputs answers shell commands whose rendered form contains the key.
	Outputs map[string]string

	calls  []Call
	closed bool
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		Files:   map[string]string{},
		Dirs:    map[string]bool{},
		Errs:    map[string]error{},
		Outputs: map[string]string{},
	}
}

// FailOn makes the first call containing match return err.
func (b *Backend) FailOn(match string, err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Errs[match] = err
	return b
}

// Calls returns the recorded calls in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallStrings returns the recorded calls rendered with Call.String.
func (b *Backend) CallStrings() []string {
	calls := b.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Has reports whether the remote path exists.
func (b *Backend) Has(p string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.Files[p]
	return ok
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) record(op string, args ...string) error {
	c := Call{Op: op, Args: args}
	b.calls = append(b.calls, c)

	rendered := c.String()
	for match, err := range b.Errs {
		if strings.Contains(rendered, match) {
			delete(b.Errs, match)
			return harnesserr.Remote(op, strings.Join(args, " "), err)
		}
	}
	return nil
}

// MkDirs implements transport.Backend.
func (b *Backend) MkDirs(_ context.Context, dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record("mkdirs", dir); err != nil {
		return err
	}
	for d := dir; d != "/" && d != "." && d != ""; d = path.Dir(d) {
		b.Dirs[d] = true
	}
	return nil
}

// PushFile implements transport.Backend.
func (b *Backend) PushFile(_ context.Context, local, remote string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record("push", local, remote); err != nil {
		return err
	}
	b.Files[remote] = local
	return nil
}

// Shell implements transport.Backend.
func (b *Backend) Shell(_ context.Context, args ...string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record("shell", args...); err != nil {
		return "", err
	}

	rendered := strings.Join(args, " ")
	for match, out := range b.Outputs {
		if strings.Contains(rendered, match) {
			return out, nil
		}
	}

	if len(args) == 3 && args[0] == "dd" && strings.HasPrefix(args[1], "if=") && strings.HasPrefix(args[2], "of=") {
		src := strings.TrimPrefix(args[1], "if=")
		dst := strings.TrimPrefix(args[2], "of=")
		if _, ok := b.Files[src]; !ok {
			return "", harnesserr.Remote("shell", rendered, errors.New(src+": No such file or directory"))
		}
		b.Files[dst] = src
	}

	return "", nil
}

// RemoveFile implements transport.Backend.
func (b *Backend) RemoveFile(_ context.Context, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record("rm", p); err != nil {
		return err
	}
	delete(b.Files, p)
	return nil
}

// RemoveDir implements transport.Backend.
func (b *Backend) RemoveDir(_ context.Context, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record("rmdir", p); err != nil {
		return err
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for f := range b.Files {
		if strings.HasPrefix(f, prefix) {
			delete(b.Files, f)
		}
	}
	for d := range b.Dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(b.Dirs, d)
		}
	}
	return nil
}

// Close implements transport.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
