// Package transfer abstracts the bulk-copy collaborator used when a
// move cannot be a plain rename (cross-device) or when a whole tree has
// to be mirrored to another root. Implementations are plugins; the core
// engine holds no transfer-tool specifics.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Transfer copies file content between paths on possibly different
// mounts. Implementations must leave the source untouched.
type Transfer interface {
	// Name identifies the implementation in logs.
	Name() string
	// Copy duplicates a single file to dst, preserving content exactly.
	Copy(ctx context.Context, src, dst string) error
	// Mirror replicates the contents of srcDir into dstDir.
	Mirror(ctx context.Context, srcDir, dstDir string) error
}

// Local is the in-process reference implementation: streamed copy with
// fsync before the destination becomes visible under its final name.
type Local struct{}

// Name implements Transfer.
func (Local) Name() string { return "local" }

// Copy streams src into a temp file next to dst, syncs, then renames.
// A crash mid-copy never leaves a half-written file under dst.
func (Local) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	if info, err := os.Stat(src); err == nil {
		os.Chmod(tmp.Name(), info.Mode())
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}

// Mirror copies every regular file under srcDir into dstDir, walking
// subdirectories. Cancellation is checked between files.
func (l Local) Mirror(ctx context.Context, srcDir, dstDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return l.Copy(ctx, path, target)
	})
}
