// Migration planning.
//
// INVARIANTS:
// - Planning is read-only; only the executor mutates
// - No two accepted entries share a destination path
// - Exactly one mkdir per destination directory, however many files
//   map into it
// - Rejected rows carry a reason, never vanish
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/arcmig/arcmig/internal/model"
)

// noChangeMarkers are the explicit "keep as is" values seen in the
// new-signature column of migration sheets.
var noChangeMarkers = map[string]bool{
	"-":      true,
	"=":      true,
	"bleibt": true,
}

// Planner validates migration rows against the configured storage roots
// and produces a conflict-free execution plan.
type Planner struct {
	roots []model.StorageRoot
}

// NewPlanner creates a planner over an ordered list of storage roots.
// The first data root acts as the reference location for stem matching.
func NewPlanner(roots []model.StorageRoot) *Planner {
	return &Planner{roots: roots}
}

// Plan turns raw mapping rows into a validated ExecutionPlan plus the
// rejected rows. Validation and conflict rejections never stop the
// batch; each surviving entry contributes its operations in a fixed
// order: every mkdir first, then per-entry moves, directory cleanup,
// alias symlinks and the manifest rewrite.
func (p *Planner) Plan(ctx context.Context, rows []model.MigrationEntry) (*model.ExecutionPlan, []model.RejectedEntry, error) {
	var accepted []model.MigrationEntry
	var rejected []model.RejectedEntry

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		entry, rej := p.validateRow(row)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		accepted = append(accepted, *entry)
	}

	accepted, collisionRejects := rejectCollisions(accepted)
	rejected = append(rejected, collisionRejects...)

	plan := &model.ExecutionPlan{Entries: accepted}
	seq := 0
	addOp := func(op model.Operation) {
		op.Seq = seq
		seq++
		plan.Ops = append(plan.Ops, op)
	}

	// Phase 1: directory creation, deduplicated per destination.
	seenMkdir := make(map[string]bool)
	mkdir := func(path, rootName, entryID string) {
		if seenMkdir[path] {
			return
		}
		seenMkdir[path] = true
		addOp(model.Operation{Type: model.OpMkdir, Dest: path, Root: rootName, EntryID: entryID})
	}
	for _, e := range accepted {
		for _, root := range p.dataRoots() {
			mkdir(filepath.Join(root.BasePath, e.NewPath), root.Name, e.ID)
		}
		for _, alias := range p.aliasRoots() {
			if _, err := os.Lstat(filepath.Join(alias.BasePath, e.OldPath)); err == nil {
				mkdir(filepath.Dir(filepath.Join(alias.BasePath, e.NewPath)), alias.Name, e.ID)
			}
		}
	}

	// Phase 2: per-entry file moves, cleanup and bookkeeping.
	for _, e := range accepted {
		if err := p.planEntryOps(e, addOp); err != nil {
			return nil, nil, err
		}
	}
	return plan, rejected, nil
}

// validateRow normalizes one raw row and applies the pre-flight checks.
// A non-nil RejectedEntry means the row goes to the review report.
func (p *Planner) validateRow(row model.MigrationEntry) (*model.MigrationEntry, *model.RejectedEntry) {
	reject := func(reason model.RejectReason, detail string) *model.RejectedEntry {
		return &model.RejectedEntry{Entry: row, Reason: reason, Detail: detail}
	}

	if row.ID == "" || row.RawOld == "" || row.RawNew == "" {
		return nil, reject(model.ReasonBadRow, "missing mandatory field")
	}
	if row.Extra != "" {
		return nil, reject(model.ReasonManualReview, "extra column populated: "+row.Extra)
	}
	if noChangeMarkers[row.RawNew] {
		return nil, reject(model.ReasonNoChange, "explicit no-change marker")
	}

	oldPath, err := Normalize(row.RawOld)
	if err != nil {
		return nil, reject(model.ReasonInvalidSignature, "old signature: "+err.Error())
	}
	newPath, err := Normalize(row.RawNew)
	if err != nil {
		return nil, reject(model.ReasonInvalidSignature, "new signature: "+err.Error())
	}
	if oldPath == newPath {
		return nil, reject(model.ReasonNoChange, "signatures normalize identically")
	}
	if BestandOf(oldPath) != BestandOf(newPath) {
		return nil, reject(model.ReasonCrossBestandMismatch,
			fmt.Sprintf("old belongs to %q, new to %q", BestandOf(oldPath), BestandOf(newPath)))
	}

	entry := row
	entry.OldPath = oldPath
	entry.NewPath = newPath

	// The old path must exist under every data root; the new path must
	// not exist anywhere, alias roots included.
	for _, root := range p.dataRoots() {
		abs := filepath.Join(root.BasePath, oldPath)
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, reject(model.ReasonSourceMissing, fmt.Sprintf("%s missing on root %s", oldPath, root.Name))
		}
	}
	for _, root := range p.roots {
		abs := filepath.Join(root.BasePath, newPath)
		if _, err := os.Lstat(abs); err == nil {
			return nil, reject(model.ReasonDestinationExists, fmt.Sprintf("%s already exists on root %s", newPath, root.Name))
		}
	}
	return &entry, nil
}

// rejectCollisions drops every entry participating in a destination
// collision. Both (all) colliding entries are rejected, none wins.
func rejectCollisions(entries []model.MigrationEntry) ([]model.MigrationEntry, []model.RejectedEntry) {
	byDest := make(map[string][]int)
	for i, e := range entries {
		byDest[e.NewPath] = append(byDest[e.NewPath], i)
	}

	colliding := make(map[int]bool)
	for _, idxs := range byDest {
		if len(idxs) > 1 {
			for _, i := range idxs {
				colliding[i] = true
			}
		}
	}
	if len(colliding) == 0 {
		return entries, nil
	}

	var kept []model.MigrationEntry
	var rejected []model.RejectedEntry
	for i, e := range entries {
		if colliding[i] {
			rejected = append(rejected, model.RejectedEntry{
				Entry:  e,
				Reason: model.ReasonDestinationCollision,
				Detail: fmt.Sprintf("%d entries map to %s", len(byDest[e.NewPath]), e.NewPath),
			})
			continue
		}
		kept = append(kept, e)
	}
	return kept, rejected
}

// planEntryOps emits the move/cleanup/symlink/manifest operations for
// one accepted entry. Files are matched across roots by stem (basename
// without extension): a logical page may exist as TIFF on one root and
// JPEG derivative on another, and every matching file moves, not just
// the first.
func (p *Planner) planEntryOps(e model.MigrationEntry, addOp func(model.Operation)) error {
	dataRoots := p.dataRoots()
	if len(dataRoots) == 0 {
		return fmt.Errorf("no data roots configured")
	}

	refStems, err := listStems(filepath.Join(dataRoots[0].BasePath, e.OldPath))
	if err != nil {
		return fmt.Errorf("failed to list reference directory for %s: %w", e.ID, err)
	}

	for ri, root := range dataRoots {
		srcDir := filepath.Join(root.BasePath, e.OldPath)
		dstDir := filepath.Join(root.BasePath, e.NewPath)
		names, err := listFiles(srcDir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", srcDir, err)
		}
		for _, name := range names {
			// On the reference root everything moves; elsewhere only
			// files whose stem the reference location knows about.
			if ri > 0 && !refStems[Stem(name)] {
				continue
			}
			addOp(model.Operation{
				Type:    model.OpMove,
				Source:  filepath.Join(srcDir, name),
				Dest:    filepath.Join(dstDir, name),
				Root:    root.Name,
				EntryID: e.ID,
			})
		}
		addOp(model.Operation{
			Type:    model.OpRmdirIfEmpty,
			Source:  srcDir,
			Root:    root.Name,
			EntryID: e.ID,
		})
	}

	for _, alias := range p.aliasRoots() {
		oldLink := filepath.Join(alias.BasePath, e.OldPath)
		if _, err := os.Lstat(oldLink); err != nil {
			continue
		}
		// Record the current target so the removal can be undone later.
		oldTarget, _ := os.Readlink(oldLink)
		addOp(model.Operation{
			Type:    model.OpSymlinkRemove,
			Source:  oldLink,
			Dest:    oldTarget,
			Root:    alias.Name,
			EntryID: e.ID,
		})
		addOp(model.Operation{
			Type:    model.OpSymlinkCreate,
			Source:  filepath.Join(dataRoots[0].BasePath, e.NewPath),
			Dest:    filepath.Join(alias.BasePath, e.NewPath),
			Root:    alias.Name,
			EntryID: e.ID,
		})
	}

	addOp(model.Operation{
		Type:    model.OpManifestUpdate,
		Source:  e.OldPath,
		Dest:    e.NewPath,
		EntryID: e.ID,
	})
	return nil
}

func (p *Planner) dataRoots() []model.StorageRoot {
	var out []model.StorageRoot
	for _, r := range p.roots {
		if r.IsData() {
			out = append(out, r)
		}
	}
	return out
}

func (p *Planner) aliasRoots() []model.StorageRoot {
	var out []model.StorageRoot
	for _, r := range p.roots {
		if r.Role == model.RoleAlias {
			out = append(out, r)
		}
	}
	return out
}

// listFiles returns the sorted regular-file names directly inside dir.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range entries {
		if de.Type().IsRegular() {
			names = append(names, de.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
	return names, nil
}

// listStems returns the set of stems present in dir.
func listStems(dir string) (map[string]bool, error) {
	names, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	stems := make(map[string]bool, len(names))
	for _, n := range names {
		stems[Stem(n)] = true
	}
	return stems, nil
}
