package core

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arcmig/arcmig/internal/model"
)

// SequencePlanner brings a scan delivery in line with the archival
// naming guideline in two passes: directory names are sanitized first,
// then the pages in every file-bearing directory are renamed to
// <grandparent>_<parent>_nr_<dir>_NNNN.ext, numbering in natural sort
// order. The result is an ordinary ExecutionPlan, so dry-run, journal
// and undo all apply.
type SequencePlanner struct {
	// MaxDepth aborts the run when any file sits deeper than this many
	// directories below the root. Zero means 4.
	MaxDepth int
	// Extensions limits renaming to scan formats; nil means the archival
	// default set.
	Extensions map[string]bool
}

const defaultMaxDepth = 4

func defaultExtensions() map[string]bool {
	return map[string]bool{
		".tif": true, ".tiff": true, ".jpg": true, ".jpeg": true,
		".png": true, ".pdf": true,
	}
}

// Plan walks root and emits the rename operations. Directories whose
// target names collide with existing files are rejected, not guessed at.
func (sp *SequencePlanner) Plan(root string) (*model.ExecutionPlan, []model.RejectedEntry, error) {
	maxDepth := sp.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	exts := sp.Extensions
	if exts == nil {
		exts = defaultExtensions()
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, err
	}

	if err := checkDepth(root, maxDepth); err != nil {
		return nil, nil, err
	}

	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(dirs)

	plan := &model.ExecutionPlan{}
	var rejected []model.RejectedEntry
	seq := 0
	addOp := func(op model.Operation) {
		op.Seq = seq
		seq++
		plan.Ops = append(plan.Ops, op)
	}

	final := sp.planDirRenames(root, dirs, addOp, &rejected)

	for _, dir := range dirs {
		if err := sp.planDir(root, dir, final[dir], exts, addOp, &rejected); err != nil {
			return nil, nil, err
		}
	}
	return plan, rejected, nil
}

// planDirRenames emits one move per directory whose name does not
// conform to the naming guideline, deepest first so each rename happens
// under the parent's still-current path and the parent rename then
// carries the subtree along. It returns the final on-disk path of every
// directory once the renames have run.
func (sp *SequencePlanner) planDirRenames(root string, dirs []string, addOp func(model.Operation), rejected *[]model.RejectedEntry) map[string]string {
	final := map[string]string{root: root}
	taken := make(map[string]bool, len(dirs))
	var renames []model.Operation

	// dirs is sorted, so a parent's final path is known before its
	// children are visited.
	for _, dir := range dirs {
		if dir == root {
			continue
		}
		base := filepath.Base(dir)
		parentFinal := final[filepath.Dir(dir)]
		if parentFinal == "" {
			parentFinal = filepath.Dir(dir)
		}
		clean := SanitizeSegment(base)
		if clean == base {
			final[dir] = filepath.Join(parentFinal, base)
			continue
		}

		dest := filepath.Join(filepath.Dir(dir), clean)
		entryID := relOrSelf(root, dir)
		if taken[dest] {
			*rejected = append(*rejected, model.RejectedEntry{
				Entry:  model.MigrationEntry{ID: entryID, RawOld: base, RawNew: clean},
				Reason: model.ReasonDestinationCollision,
				Detail: "two directories compete for " + clean,
			})
			final[dir] = filepath.Join(parentFinal, base)
			continue
		}
		if _, err := os.Lstat(dest); err == nil {
			*rejected = append(*rejected, model.RejectedEntry{
				Entry:  model.MigrationEntry{ID: entryID, RawOld: base, RawNew: clean},
				Reason: model.ReasonDestinationExists,
				Detail: clean + " already present",
			})
			final[dir] = filepath.Join(parentFinal, base)
			continue
		}
		taken[dest] = true
		renames = append(renames, model.Operation{
			Type:    model.OpMove,
			Source:  dir,
			Dest:    dest,
			EntryID: entryID,
		})
		final[dir] = filepath.Join(parentFinal, clean)
	}

	sort.SliceStable(renames, func(i, j int) bool {
		return strings.Count(renames[i].Source, string(filepath.Separator)) >
			strings.Count(renames[j].Source, string(filepath.Separator))
	})
	for _, op := range renames {
		addOp(op)
	}
	return final
}

// planDir plans the page renames of one directory. Files are listed at
// the pre-rename path; emitted operations use finalDir, the path the
// directory will have once the rename pass above has run.
func (sp *SequencePlanner) planDir(root, dir, finalDir string, exts map[string]bool, addOp func(model.Operation), rejected *[]model.RejectedEntry) error {
	if finalDir == "" {
		finalDir = dir
	}
	names, err := listFiles(dir)
	if err != nil {
		return err
	}
	var pages []string
	for _, n := range names {
		if exts[strings.ToLower(filepath.Ext(n))] {
			pages = append(pages, n)
		}
	}
	if len(pages) == 0 {
		return nil
	}

	// Ancestor name components; "x" stands in above the root.
	dirName := SanitizeSegment(filepath.Base(dir))
	parent, grandparent := "x", "x"
	if p := filepath.Dir(dir); strings.HasPrefix(p, root) && p != root {
		parent = SanitizeSegment(filepath.Base(p))
		if g := filepath.Dir(p); strings.HasPrefix(g, root) && g != root {
			grandparent = SanitizeSegment(filepath.Base(g))
		}
	}

	targets := make(map[string]bool, len(pages))
	entryID := relOrSelf(root, dir)
	for i, name := range pages {
		ext := strings.ToLower(filepath.Ext(name))
		newName := fmt.Sprintf("%s_%s_nr_%s_%04d%s", grandparent, parent, dirName, i+1, ext)
		if name == newName {
			continue
		}
		if targets[newName] {
			*rejected = append(*rejected, model.RejectedEntry{
				Entry:  model.MigrationEntry{ID: entryID, RawOld: name, RawNew: newName},
				Reason: model.ReasonDestinationCollision,
				Detail: "two pages compete for " + newName,
			})
			continue
		}
		if _, err := os.Lstat(filepath.Join(dir, newName)); err == nil {
			*rejected = append(*rejected, model.RejectedEntry{
				Entry:  model.MigrationEntry{ID: entryID, RawOld: name, RawNew: newName},
				Reason: model.ReasonDestinationExists,
				Detail: newName + " already present",
			})
			continue
		}
		targets[newName] = true
		addOp(model.Operation{
			Type:    model.OpMove,
			Source:  filepath.Join(finalDir, name),
			Dest:    filepath.Join(finalDir, newName),
			EntryID: entryID,
		})
	}
	return nil
}

// checkDepth refuses trees deeper than the archival guideline allows; a
// too-deep tree usually means the root is wrong.
func checkDepth(root string, maxDepth int) error {
	maxFound := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = len(strings.Split(rel, string(filepath.Separator)))
		}
		if depth > maxFound {
			maxFound = depth
		}
		return nil
	})
	if err != nil {
		return err
	}
	if maxFound > maxDepth {
		return fmt.Errorf("tree too deep: found depth %d, allowed %d", maxFound, maxDepth)
	}
	return nil
}
