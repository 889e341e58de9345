package device

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// ProgressFunc is told the index of each numbered copy once it exists.
type ProgressFunc func(done int)

// DeployFile pushes the local file source to destination on the device.
//
// A destination without any '.' is a directory and gets the source's base
// name appended. The destination directory is created if missing and the
// file is pushed once. When count > 1 the pushed file is duplicated on the
// device into count numbered copies ("x_1.bin" ... "x_<count>.bin"),
// progress is called after each, and the unnumbered file is removed. Any
// remote failure aborts the deployment without cleaning up.
func (c *Controller) DeployFile(ctx context.Context, source string, count int, destination string, progress ProgressFunc) error {
	backend, err := c.TransportBackend()
	if err != nil {
		return fmt.Errorf("device: deploy: %w", err)
	}

	destination = DeployTarget(source, destination)

	if err := backend.MkDirs(ctx, path.Dir(destination)); err != nil {
		return fmt.Errorf("device: deploy: %w", err)
	}
	if err := backend.PushFile(ctx, source, destination); err != nil {
		return fmt.Errorf("device: deploy: %w", err)
	}

	if count <= 1 {
		c.log.InfoContext(ctx, "file deployed", "source", source, "destination", destination)
		return nil
	}

	for i := 1; i <= count; i++ {
		dst := NumberedCopy(destination, i)
		if _, err := backend.Shell(ctx, "dd", "if="+destination, "of="+dst); err != nil {
			return fmt.Errorf("device: deploy copy %d: %w", i, err)
		}
		c.metrics.Copy()
		if progress != nil {
			progress(i)
		}
	}

	if err := backend.RemoveFile(ctx, destination); err != nil {
		return fmt.Errorf("device: deploy: %w", err)
	}

	c.log.InfoContext(ctx, "file deployed", "source", source, "destination", destination, "copies", count)

	return nil
}

// DeployTarget resolves the remote path DeployFile pushes source to.
func DeployTarget(source, destination string) string {
	if strings.Contains(destination, ".") {
		return destination
	}
	return strings.TrimSuffix(destination, "/") + "/" + filepath.Base(source)
}

// NumberedCopy names the i-th copy of p by inserting "_<i>" before the final
// extension, or appending it when the base name has none.
func NumberedCopy(p string, i int) string {
	suffix := "_" + strconv.Itoa(i)

	dot := strings.LastIndex(p, ".")
	if dot < 0 || dot < strings.LastIndex(p, "/") {
		return p + suffix
	}
	return p[:dot] + suffix + p[dot:]
}
