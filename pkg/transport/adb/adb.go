// Package adb implements the local-cable device transport on top of the adb
// command-line tool. Every operation shells out to adb; remote exit status is
// recovered by echoing $? because adb shell does not propagate it.
package adb

import (
	"bytes"
	"context"
	"fmt"
	osexec "os/exec"
	"strconv"
	"strings"

	"github.com/germanamz/devicelab/pkg/harnesserr"
)

// Runner executes a local program and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Option configures an ADB backend.
type Option func(*ADB)

// WithPath sets the adb executable. Empty keeps the default.
func WithPath(path string) Option {
	return func(a *ADB) {
		if path != "" {
			a.path = path
		}
	}
}

// WithSerial targets a specific device when several are attached.
func WithSerial(serial string) Option {
	return func(a *ADB) { a.serial = serial }
}

// WithRunner replaces the process runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(a *ADB) { a.run = r }
}

// ADB is a transport backend that drives the adb CLI.
type ADB struct {
	path   string
	serial string
	run    Runner
}

// New creates an ADB backend. No process is started until the first call.
func New(opts ...Option) *ADB {
	a := &ADB{path: "adb", run: runCommand}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Serial returns the targeted device serial, or "" for the default device.
func (a *ADB) Serial() string { return a.serial }

// MkDirs creates dir and its parents on the device.
func (a *ADB) MkDirs(ctx context.Context, dir string) error {
	_, err := a.Shell(ctx, "mkdir", "-p", dir)
	return err
}

// PushFile copies local to remote.
func (a *ADB) PushFile(ctx context.Context, local, remote string) error {
	out, err := a.run(ctx, a.path, a.args("push", local, remote)...)
	if err != nil {
		return &harnesserr.RemoteOperationError{Op: "push", Target: local + " -> " + remote, Output: string(out), Err: err}
	}
	return nil
}

// Shell runs args as one command line on the device and returns its output.
// A non-zero remote exit status is a RemoteOperationError.
func (a *ADB) Shell(ctx context.Context, args ...string) (string, error) {
	line := quoteArgs(args)

	raw, err := a.run(ctx, a.path, a.args("shell", line+"; echo $?")...)
	if err != nil {
		return "", &harnesserr.RemoteOperationError{Op: "shell", Target: line, Output: string(raw), Err: err}
	}

	out, code, err := splitExitCode(string(raw))
	if err != nil {
		return "", &harnesserr.RemoteOperationError{Op: "shell", Target: line, Output: string(raw), Err: err}
	}
	if code != 0 {
		return out, &harnesserr.RemoteOperationError{
			Op:     "shell",
			Target: line,
			Output: out,
			Err:    fmt.Errorf("exit status %d", code),
		}
	}

	return out, nil
}

// RemoveFile deletes path on the device.
func (a *ADB) RemoveFile(ctx context.Context, path string) error {
	_, err := a.Shell(ctx, "rm", path)
	return err
}

// RemoveDir deletes the directory tree at path on the device.
func (a *ADB) RemoveDir(ctx context.Context, path string) error {
	_, err := a.Shell(ctx, "rm", "-r", path)
	return err
}

// Close is a no-op; adb keeps no connection between calls.
func (a *ADB) Close() error { return nil }

func (a *ADB) args(args ...string) []string {
	if a.serial == "" {
		return args
	}
	return append([]string{"-s", a.serial}, args...)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...) //nolint:gosec // adb path comes from configuration

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	return buf.Bytes(), err
}

// splitExitCode separates the trailing "echo $?" line from the command output.
func splitExitCode(raw string) (string, int, error) {
	trimmed := strings.TrimRight(raw, "\r\n ")

	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed[idx+1:]
	out := ""
	if idx >= 0 {
		out = trimmed[:idx]
	}

	code, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return out, 0, fmt.Errorf("missing exit status in output")
	}

	return strings.TrimRight(out, "\r"), code, nil
}

// quoteArgs joins args into a single shell line, single-quoting any argument
// that contains characters the device shell would interpret.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quote(arg)
	}
	return strings.Join(quoted, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:@%+,", r)
}
