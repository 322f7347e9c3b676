// Plan execution.
//
// INVARIANTS:
// - Operations run strictly in plan order
// - A source is never deleted before its destination is verified
// - A failed move fails that entry's remaining steps, never the run
// - Dry-run mode performs zero filesystem or manifest mutation
// - Mutating runs hold the exclusive lock; contention exits immediately
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/arcmig/arcmig/internal/model"
	"github.com/arcmig/arcmig/internal/transfer"
)

// Executor performs the primitive filesystem mutations of a plan. Two
// implementations exist: the real one and a recording no-op used for
// dry runs, selected at construction instead of scattering dry-run
// checks through the engine.
type Executor interface {
	MkdirAll(path string) error
	// Move renames src to dst without ever overwriting dst. The context
	// bounds the copy fallback for cross-device moves.
	Move(ctx context.Context, src, dst string) error
	// RemoveDirIfEmpty re-checks emptiness immediately before removal
	// and reports false (not an error) for non-empty directories.
	RemoveDirIfEmpty(path string) (bool, error)
	// Symlink creates link pointing at target, idempotently: an existing
	// link with the same target is fine, anything else is an error.
	Symlink(target, link string) error
	// RemoveLink deletes a symlink; a missing link reports false.
	RemoveLink(path string) (bool, error)
	// DirExists confirms a destination directory before any move into it.
	DirExists(path string) bool
}

// FilesystemExecutor mutates the real filesystem. Cross-device moves
// fall back to the injected transfer: copy, verify, then remove source.
type FilesystemExecutor struct {
	Copier transfer.Transfer
}

// NewFilesystemExecutor creates the live executor. A nil copier means
// plain in-process copy for cross-device moves.
func NewFilesystemExecutor(copier transfer.Transfer) *FilesystemExecutor {
	if copier == nil {
		copier = transfer.Local{}
	}
	return &FilesystemExecutor{Copier: copier}
}

// MkdirAll implements Executor with create-if-absent semantics.
func (x *FilesystemExecutor) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Move implements Executor.
func (x *FilesystemExecutor) Move(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination already exists: %s", dst)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename across mount points fails; copy, verify, then drop source.
	if err := x.Copier.Copy(ctx, src, dst); err != nil {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source after copy: %w", err)
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("destination not verified after copy: %w", err)
	}
	if dstInfo.Size() != srcInfo.Size() {
		return &IntegrityError{
			Path:     dst,
			Expected: fmt.Sprintf("%d bytes", srcInfo.Size()),
			Actual:   fmt.Sprintf("%d bytes", dstInfo.Size()),
		}
	}
	return os.Remove(src)
}

// RemoveDirIfEmpty implements Executor. The emptiness check happens
// immediately before removal to defend against a concurrent actor
// filling the directory between planning and execution.
func (x *FilesystemExecutor) RemoveDirIfEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

// Symlink implements Executor.
func (x *FilesystemExecutor) Symlink(target, link string) error {
	if existing, err := os.Readlink(link); err == nil {
		if existing == target {
			return nil
		}
		return fmt.Errorf("link %s already points to %s", link, existing)
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, link)
}

// RemoveLink implements Executor.
func (x *FilesystemExecutor) RemoveLink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return false, fmt.Errorf("refusing to remove non-symlink %s", path)
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

// DirExists implements Executor.
func (x *FilesystemExecutor) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// RecordingExecutor simulates every mutation as successful and records
// what would have happened. It backs dry-run mode.
type RecordingExecutor struct {
	Actions []string
}

func (x *RecordingExecutor) record(format string, args ...interface{}) {
	x.Actions = append(x.Actions, fmt.Sprintf(format, args...))
}

// MkdirAll implements Executor.
func (x *RecordingExecutor) MkdirAll(path string) error {
	x.record("mkdir %s", path)
	return nil
}

// Move implements Executor.
func (x *RecordingExecutor) Move(ctx context.Context, src, dst string) error {
	x.record("move %s -> %s", src, dst)
	return nil
}

// RemoveDirIfEmpty implements Executor.
func (x *RecordingExecutor) RemoveDirIfEmpty(path string) (bool, error) {
	x.record("rmdir-if-empty %s", path)
	return true, nil
}

// Symlink implements Executor.
func (x *RecordingExecutor) Symlink(target, link string) error {
	x.record("symlink %s -> %s", link, target)
	return nil
}

// RemoveLink implements Executor.
func (x *RecordingExecutor) RemoveLink(path string) (bool, error) {
	x.record("remove-link %s", path)
	return true, nil
}

// DirExists implements Executor. Simulated directories always exist.
func (x *RecordingExecutor) DirExists(path string) bool { return true }

// ExecOptions configures a PlanExecutor run.
type ExecOptions struct {
	// Manifest, when set, receives the manifest-update rewrites and is
	// saved once at the end of a successful live run.
	Manifest *Manifest
	// Journal, when set, records the run and its operations.
	Journal *RunJournal
	// LockPath is the exclusive lock file; required for live runs.
	LockPath string
	DryRun   bool
	// Transfer handles cross-device moves for the live executor.
	Transfer transfer.Transfer
	// Logf receives one line per executed operation.
	Logf func(format string, args ...interface{})
}

// PlanExecutor applies an ExecutionPlan transactionally per entry.
type PlanExecutor struct {
	exec     Executor
	manifest *Manifest
	journal  *RunJournal
	lockPath string
	dryRun   bool
	logf     func(format string, args ...interface{})
}

// NewPlanExecutor builds an executor for one run. Dry runs get the
// recording executor; live runs the filesystem one.
func NewPlanExecutor(opts ExecOptions) *PlanExecutor {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	var exec Executor
	if opts.DryRun {
		exec = &RecordingExecutor{}
	} else {
		exec = NewFilesystemExecutor(opts.Transfer)
	}
	return &PlanExecutor{
		exec:     exec,
		manifest: opts.Manifest,
		journal:  opts.Journal,
		lockPath: opts.LockPath,
		dryRun:   opts.DryRun,
		logf:     logf,
	}
}

// Execute runs the plan strictly in order and returns the report.
// Cancellation is honored between operations.
func (pe *PlanExecutor) Execute(ctx context.Context, plan *model.ExecutionPlan) (*model.ExecutionReport, error) {
	report := &model.ExecutionReport{
		RunID:     uuid.New().String(),
		DryRun:    pe.dryRun,
		StartedAt: time.Now(),
	}

	if !pe.dryRun {
		if pe.lockPath == "" {
			return nil, fmt.Errorf("live run requires a lock path")
		}
		lock, err := AcquireLock(pe.lockPath)
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	mode := "live"
	if pe.dryRun {
		mode = "dry-run"
	}
	if pe.journal != nil {
		if err := pe.journal.BeginRun(ctx, report.RunID, mode); err != nil {
			return nil, fmt.Errorf("failed to start journal run: %w", err)
		}
	}

	entryFailed := make(map[string]bool)
	flagged := make(map[string]bool)

	for _, op := range plan.Ops {
		if err := ctx.Err(); err != nil {
			pe.finishRun(report, "cancelled")
			return report, err
		}
		res := pe.executeOp(ctx, op, entryFailed, flagged, report)
		report.Results = append(report.Results, res)
		pe.recordOp(op, res)
	}

	if !pe.dryRun && pe.manifest != nil {
		if err := pe.manifest.Save(); err != nil {
			pe.finishRun(report, "failed")
			return report, fmt.Errorf("failed to save manifest: %w", err)
		}
	}

	for id := range flagged {
		report.Flagged = append(report.Flagged, id)
	}
	report.FinishedAt = time.Now()
	status := "completed"
	if report.Failed > 0 {
		status = "completed_with_errors"
	}
	pe.finishRun(report, status)
	return report, nil
}

func (pe *PlanExecutor) executeOp(ctx context.Context, op model.Operation, entryFailed, flagged map[string]bool, report *model.ExecutionReport) model.OpResult {
	tag := ""
	if pe.dryRun {
		tag = "[DRY-RUN] "
	}

	fail := func(err error) model.OpResult {
		report.Failed++
		if op.EntryID != "" {
			entryFailed[op.EntryID] = true
		}
		pe.logf("%s%s FAILED: %v", tag, op.Type, err)
		return model.OpResult{Op: op, Status: model.OpStatusFailed, Error: err.Error()}
	}
	skip := func(reason string) model.OpResult {
		report.Skipped++
		pe.logf("%s%s skipped %s: %s", tag, op.Type, op.Source+op.Dest, reason)
		return model.OpResult{Op: op, Status: model.OpStatusSkipped, Error: reason}
	}
	done := func() model.OpResult {
		pe.logf("%s%s %s -> %s", tag, op.Type, op.Source, op.Dest)
		return model.OpResult{Op: op, Status: model.OpStatusDone}
	}

	switch op.Type {
	case model.OpMkdir:
		if err := pe.exec.MkdirAll(op.Dest); err != nil {
			return fail(err)
		}
		report.Created++
		return done()

	case model.OpMove:
		if entryFailed[op.EntryID] {
			return skip("entry already failed")
		}
		if !pe.exec.DirExists(filepath.Dir(op.Dest)) {
			return fail(fmt.Errorf("destination directory missing: %s", filepath.Dir(op.Dest)))
		}
		if err := pe.exec.Move(ctx, op.Source, op.Dest); err != nil {
			return fail(err)
		}
		report.Moved++
		return done()

	case model.OpRmdirIfEmpty:
		removed, err := pe.exec.RemoveDirIfEmpty(op.Source)
		if err != nil {
			// Cleanup failure is logged but does not poison the entry:
			// the files already sit at their destination.
			report.Failed++
			pe.logf("%srmdir FAILED: %v", tag, err)
			return model.OpResult{Op: op, Status: model.OpStatusFailed, Error: err.Error()}
		}
		if !removed {
			return skip("directory not empty")
		}
		report.Removed++
		return done()

	case model.OpSymlinkCreate:
		if entryFailed[op.EntryID] {
			return skip("entry already failed")
		}
		if err := pe.exec.Symlink(op.Source, op.Dest); err != nil {
			return fail(err)
		}
		report.Linked++
		return done()

	case model.OpSymlinkRemove:
		if entryFailed[op.EntryID] {
			return skip("entry already failed")
		}
		removed, err := pe.exec.RemoveLink(op.Source)
		if err != nil {
			return fail(err)
		}
		if !removed {
			return skip("link already gone")
		}
		report.Removed++
		return done()

	case model.OpManifestUpdate:
		if pe.manifest == nil {
			return skip("no manifest configured")
		}
		if entryFailed[op.EntryID] {
			// Manifest rows stay untouched when any file move of the
			// entry failed; the entry goes to manual follow-up.
			flagged[op.EntryID] = true
			return skip("entry had failed moves, manifest left unchanged")
		}
		if pe.dryRun {
			pe.logf("%smanifest-update %s -> %s", tag, op.Source, op.Dest)
			return model.OpResult{Op: op, Status: model.OpStatusDone}
		}
		n := pe.manifest.RewritePrefix(op.Source+"/", op.Dest+"/")
		n += pe.manifest.Rewrite(op.Source, op.Dest)
		if n == 0 {
			return skip("no manifest entries matched")
		}
		pe.logf("manifest-update %s -> %s (%d rows)", op.Source, op.Dest, n)
		return model.OpResult{Op: op, Status: model.OpStatusDone}

	default:
		return fail(fmt.Errorf("unknown operation type %q", op.Type))
	}
}

func (pe *PlanExecutor) recordOp(op model.Operation, res model.OpResult) {
	if pe.journal == nil {
		return
	}
	// Journal writes are best-effort bookkeeping; a journaling hiccup
	// must not abort a half-executed run.
	if err := pe.journal.RecordOp(context.Background(), res); err != nil {
		pe.logf("journal write failed: %v", err)
	}
}

func (pe *PlanExecutor) finishRun(report *model.ExecutionReport, status string) {
	if pe.journal == nil {
		return
	}
	if err := pe.journal.FinishRun(context.Background(), report, status); err != nil {
		pe.logf("journal finish failed: %v", err)
	}
}

// Recording returns the dry-run action log, or nil for live runs.
func (pe *PlanExecutor) Recording() []string {
	if rec, ok := pe.exec.(*RecordingExecutor); ok {
		return rec.Actions
	}
	return nil
}
