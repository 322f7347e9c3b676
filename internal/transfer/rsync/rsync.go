// Package rsync provides an rsync-backed transfer implementation for
// bulk copies between storage roots. Network transfers are the one
// place where bounded retries with a fixed backoff are allowed; every
// other I/O error in the engine surfaces immediately.
package rsync

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Transfer shells out to rsync. The binary path, retry count and
// backoff are fixed at construction.
type Transfer struct {
	binary  string
	retries int
	backoff time.Duration
}

// New creates an rsync transfer. An empty binary means "rsync" from
// PATH; retries below zero are clamped to zero.
func New(binary string, retries int, backoff time.Duration) (*Transfer, error) {
	if binary == "" {
		binary = "rsync"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("rsync not found: %w", err)
	}
	if retries < 0 {
		retries = 0
	}
	return &Transfer{binary: binary, retries: retries, backoff: backoff}, nil
}

// Name implements transfer.Transfer.
func (t *Transfer) Name() string { return "rsync" }

// Copy transfers a single file. rsync writes to a temp name and renames
// on completion, so an interrupted copy never shadows the destination.
func (t *Transfer) Copy(ctx context.Context, src, dst string) error {
	return t.run(ctx, "-a", "--", src, dst)
}

// Mirror replicates srcDir into dstDir without deleting extraneous
// destination files; reconciliation decisions belong to the planner,
// not the transfer tool.
func (t *Transfer) Mirror(ctx context.Context, srcDir, dstDir string) error {
	return t.run(ctx, "-a", "--", srcDir+"/", dstDir+"/")
}

func (t *Transfer) run(ctx context.Context, args ...string) error {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.backoff):
			}
		}
		cmd := exec.CommandContext(ctx, t.binary, args...)
		out, err := cmd.CombinedOutput()
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("rsync failed (attempt %d/%d): %w: %s",
			attempt+1, t.retries+1, err, string(out))
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
