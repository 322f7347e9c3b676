// Tree auditing.
//
// INVARIANTS:
// - Audits are read-only and take no lock
// - Classification is total and mutually exclusive per counterpart
// - Content hashing runs only when the cheap metadata check disagrees
package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arcmig/arcmig/internal/model"
)

// fileMeta is the cheap per-file metadata used for the first-tier check.
type fileMeta struct {
	Size    int64
	ModTime time.Time
}

// DirectorySnapshot is a point-in-time view of one directory: files,
// sizes, mtimes and the extension set. Constructed per run, never
// persisted.
type DirectorySnapshot struct {
	Dir        string
	Files      map[string]fileMeta
	Extensions map[string]bool
	TotalSize  int64
	// Earliest is the oldest file mtime, standing in for the first
	// observation date of the unit.
	Earliest time.Time
}

// SnapshotDirectory collects metadata for the regular files directly
// inside dir.
func SnapshotDirectory(dir string) (*DirectorySnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	snap := &DirectorySnapshot{
		Dir:        dir,
		Files:      make(map[string]fileMeta),
		Extensions: make(map[string]bool),
	}
	for _, de := range entries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		snap.Files[de.Name()] = fileMeta{Size: info.Size(), ModTime: info.ModTime()}
		if ext := strings.ToLower(filepath.Ext(de.Name())); ext != "" {
			snap.Extensions[ext] = true
		}
		snap.TotalSize += info.Size()
		if snap.Earliest.IsZero() || info.ModTime().Before(snap.Earliest) {
			snap.Earliest = info.ModTime()
		}
	}
	return snap, nil
}

// sameMetadata reports whether two snapshots agree on file names and
// sizes. Mtimes are deliberately ignored: rsync-style copies do not
// always preserve them across the mounts in use.
func (s *DirectorySnapshot) sameMetadata(other *DirectorySnapshot) bool {
	if len(s.Files) != len(other.Files) {
		return false
	}
	for name, meta := range s.Files {
		om, ok := other.Files[name]
		if !ok || om.Size != meta.Size {
			return false
		}
	}
	return true
}

// Auditor compares leaf directories of one root against counterpart
// roots, metadata first and content only on disagreement.
type Auditor struct {
	Algorithm *HashAlgorithm
	// Exclude names directories skipped while walking (e.g. "thumbs").
	Exclude []string
	// PlaceholderMax flags files at or below this size as placeholder
	// candidates. Zero disables the check.
	PlaceholderMax int64
	// SampleSize bounds the matched-pair sample per row. Zero means 10.
	SampleSize int
	Workers    int
}

const defaultSampleSize = 10

// Compare audits every leaf directory under self against the
// counterpart roots and returns one row per leaf. Cancellation is
// checked between directories.
func (a *Auditor) Compare(ctx context.Context, self model.StorageRoot, counterparts []model.StorageRoot) ([]model.AuditRow, error) {
	leaves, err := a.leafDirs(self.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", self.BasePath, err)
	}

	var rows []model.AuditRow
	for _, rel := range leaves {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		row, err := a.auditLeaf(ctx, self, rel, counterparts)
		if err != nil {
			return rows, err
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

func (a *Auditor) auditLeaf(ctx context.Context, self model.StorageRoot, rel string, counterparts []model.StorageRoot) (*model.AuditRow, error) {
	selfDir := filepath.Join(self.BasePath, rel)
	snap, err := SnapshotDirectory(selfDir)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", selfDir, err)
	}

	row := &model.AuditRow{
		LeafDir:       rel,
		FileCount:     len(snap.Files),
		TotalSize:     snap.TotalSize,
		Extensions:    sortedKeys(snap.Extensions),
		FirstObserved: snap.Earliest,
	}

	if a.PlaceholderMax > 0 {
		for name, meta := range snap.Files {
			if meta.Size <= a.PlaceholderMax {
				row.Placeholders = append(row.Placeholders, name)
			}
		}
		sort.Strings(row.Placeholders)
	}

	for _, cp := range counterparts {
		cpDir := filepath.Join(cp.BasePath, rel)
		result := model.CounterpartResult{Root: cp.Name}

		info, err := os.Stat(cpDir)
		if err != nil || !info.IsDir() {
			// Cheap-path short-circuit: nothing to hash, the unit only
			// exists here and is ready for upload.
			result.Outcome = model.AuditNotExist
			row.Counterparts = append(row.Counterparts, result)
			continue
		}

		cpSnap, err := SnapshotDirectory(cpDir)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", cpDir, err)
		}
		if snap.sameMetadata(cpSnap) {
			result.Outcome = model.AuditIdenticalMetadata
			row.Counterparts = append(row.Counterparts, result)
			continue
		}

		result.Outcome = model.AuditDifferentMetadata
		verdict, sample, err := a.compareContent(ctx, selfDir, cpDir)
		if err != nil {
			return nil, err
		}
		result.Content = verdict
		result.Sample = sample
		row.Counterparts = append(row.Counterparts, result)
	}
	return row, nil
}

// compareContent runs the expensive second tier: full checksum indexes
// on both sides, plus a bounded sample of hash-matched pairs for
// operator inspection.
func (a *Auditor) compareContent(ctx context.Context, selfDir, cpDir string) (model.ContentVerdict, []model.PathPair, error) {
	opts := IndexOptions{Exclude: a.Exclude, Workers: a.Workers}
	selfIdx, err := BuildIndex(ctx, selfDir, a.Algorithm, opts)
	if err != nil {
		return "", nil, fmt.Errorf("failed to index %s: %w", selfDir, err)
	}
	cpIdx, err := BuildIndex(ctx, cpDir, a.Algorithm, opts)
	if err != nil {
		return "", nil, fmt.Errorf("failed to index %s: %w", cpDir, err)
	}

	limit := a.SampleSize
	if limit <= 0 {
		limit = defaultSampleSize
	}
	var sample []model.PathPair
	var selfPaths []string
	for _, paths := range selfIdx.byHash {
		selfPaths = append(selfPaths, paths...)
	}
	sort.Strings(selfPaths)
	for _, p := range selfPaths {
		if len(sample) >= limit {
			break
		}
		h, _ := selfIdx.HashOf(p)
		for _, match := range cpIdx.Lookup(h) {
			if len(sample) >= limit {
				break
			}
			sample = append(sample, model.PathPair{
				Source: filepath.Join(selfDir, p),
				Dest:   filepath.Join(cpDir, match),
			})
		}
	}

	if selfIdx.SameContent(cpIdx) {
		return model.ContentIdentical, sample, nil
	}
	return model.ContentDiffers, sample, nil
}

// leafDirs returns the directories with no subdirectories under root,
// as sorted root-relative paths.
func (a *Auditor) leafDirs(root string) ([]string, error) {
	excluded := make(map[string]bool, len(a.Exclude))
	for _, e := range a.Exclude {
		excluded[e] = true
	}

	hasSubdir := make(map[string]bool)
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if excluded[d.Name()] && path != root {
			return fs.SkipDir
		}
		if path != root {
			hasSubdir[filepath.Dir(path)] = true
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var leaves []string
	for _, d := range dirs {
		if !hasSubdir[d] {
			rel, err := filepath.Rel(root, d)
			if err != nil {
				continue
			}
			leaves = append(leaves, rel)
		}
	}
	sort.Strings(leaves)
	return leaves, nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WriteAuditCSV serializes audit rows, one line per (leaf, counterpart)
// pair so every line is attributable to a specific comparison outcome.
func WriteAuditCSV(w io.Writer, rows []model.AuditRow) error {
	cw := csv.NewWriter(w)
	header := []string{"leaf_dir", "file_count", "total_size", "extensions", "first_observed", "placeholders", "counterpart", "outcome", "content"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		base := []string{
			row.LeafDir,
			strconv.Itoa(row.FileCount),
			strconv.FormatInt(row.TotalSize, 10),
			strings.Join(row.Extensions, " "),
			row.FirstObserved.Format(time.RFC3339),
			strings.Join(row.Placeholders, " "),
		}
		if len(row.Counterparts) == 0 {
			if err := cw.Write(append(base, "", "", "")); err != nil {
				return err
			}
			continue
		}
		for _, cp := range row.Counterparts {
			rec := append(append([]string{}, base...), cp.Root, string(cp.Outcome), string(cp.Content))
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
