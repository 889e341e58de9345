// Package instance runs a locally spawned build of the system under test. A
// desktop build forks helper processes, so Close terminates the whole process
// tree, children first.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// Option configures an Instance.
type Option func(*Instance)

// WithEnv appends KEY=VALUE pairs to the child environment.
func WithEnv(env ...string) Option {
	return func(i *Instance) { i.env = append(i.env, env...) }
}

// WithDir sets the working directory of the child.
func WithDir(dir string) Option {
	return func(i *Instance) { i.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Instance) { i.log = log }
}

// Instance is a spawned process.
type Instance struct {
	binary string
	args   []string
	env    []string
	dir    string
	log    *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// New describes a process to spawn. Nothing runs until Start.
func New(binary string, args []string, opts ...Option) *Instance {
	i := &Instance{
		binary: binary,
		args:   args,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Pid returns the process id, or 0 when not running.
func (i *Instance) Pid() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Start spawns the process. Starting a running instance is an error.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cmd != nil {
		return fmt.Errorf("instance: %s already running", i.binary)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(i.binary, i.args...)
	cmd.Dir = i.dir
	cmd.Env = append(os.Environ(), i.env...)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("instance: start %s: %w", i.binary, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	i.cmd = cmd
	i.done = done

	i.log.InfoContext(ctx, "instance started", "binary", i.binary, "pid", cmd.Process.Pid)

	return nil
}

// Close terminates the process tree and waits for the root to exit. Closing
// an instance that is not running does nothing.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cmd == nil {
		return nil
	}

	pid := i.cmd.Process.Pid
	err := killTree(int32(pid))
	<-i.done

	i.cmd = nil
	i.done = nil

	i.log.Info("instance stopped", "binary", i.binary, "pid", pid)

	return err
}

// killTree kills pid's descendants depth-first, then pid itself. Processes
// that already exited are ignored.
func killTree(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("instance: lookup %d: %w", pid, err)
	}

	var errs []error

	children, err := p.Children()
	if err != nil && !errors.Is(err, process.ErrorNoChildren) {
		errs = append(errs, fmt.Errorf("instance: children of %d: %w", pid, err))
	}
	for _, child := range children {
		if err := killTree(child.Pid); err != nil {
			errs = append(errs, err)
		}
	}

	if err := p.Kill(); err != nil {
		if running, rerr := p.IsRunning(); rerr == nil && running {
			errs = append(errs, fmt.Errorf("instance: kill %d: %w", pid, err))
		}
	}

	return errors.Join(errs...)
}
