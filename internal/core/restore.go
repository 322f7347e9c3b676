package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/arcmig/arcmig/internal/model"
)

// RestoreOutcome classifies one manifest entry during restore-by-hash.
type RestoreOutcome string

const (
	RestoreRenamed   RestoreOutcome = "renamed"
	RestoreAlreadyOK RestoreOutcome = "already_ok"
	RestoreNotFound  RestoreOutcome = "not_found"
	RestoreAmbiguous RestoreOutcome = "ambiguous"
	RestoreConflict  RestoreOutcome = "conflict"
	RestoreFailed    RestoreOutcome = "failed"
)

// RestoreResult is the per-entry outcome of a restore run.
type RestoreResult struct {
	Entry   model.ManifestEntry `json:"entry"`
	Outcome RestoreOutcome      `json:"outcome"`
	From    string              `json:"from,omitempty"`
	To      string              `json:"to,omitempty"`
	Detail  string              `json:"detail,omitempty"`
}

// RestoreReport accumulates a restore-by-hash run.
type RestoreReport struct {
	DryRun  bool            `json:"dry_run"`
	Results []RestoreResult `json:"results"`
	Renamed int             `json:"renamed"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
}

// Restorer renames files back to their manifest names by content hash:
// given a directory of scans that lost their names, each file whose
// hash appears in the manifest is renamed in place to the manifest
// basename. The manifest itself is never touched.
type Restorer struct {
	Manifest  *Manifest
	Algorithm *HashAlgorithm
	Workers   int
}

// Restore matches dir's files against the manifest by content hash.
// Ambiguity is surfaced, never guessed: a hash with several on-disk
// candidates or several manifest names restores nothing.
func (r *Restorer) Restore(ctx context.Context, dir string, dryRun bool) (*RestoreReport, error) {
	idx, err := BuildIndex(ctx, dir, r.Algorithm, IndexOptions{Workers: r.Workers})
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", dir, err)
	}

	report := &RestoreReport{DryRun: dryRun}
	entries := r.Manifest.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Line < entries[j].Line })

	seenHash := make(map[string]int)
	for _, e := range entries {
		seenHash[e.Hash]++
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := RestoreResult{Entry: e}

		candidates := idx.Lookup(e.Hash)
		switch {
		case len(candidates) == 0:
			res.Outcome = RestoreNotFound
			report.Skipped++
		case len(candidates) > 1 || seenHash[e.Hash] > 1:
			res.Outcome = RestoreAmbiguous
			res.Detail = (&AmbiguityError{Subject: e.Path, Candidates: candidates}).Error()
			report.Skipped++
		default:
			res = r.restoreOne(dir, e, candidates[0], dryRun)
			switch res.Outcome {
			case RestoreRenamed:
				report.Renamed++
			case RestoreFailed, RestoreConflict:
				report.Failed++
			default:
				report.Skipped++
			}
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (r *Restorer) restoreOne(dir string, e model.ManifestEntry, rel string, dryRun bool) RestoreResult {
	res := RestoreResult{Entry: e}
	wantName := filepath.Base(e.Path)
	src := filepath.Join(dir, rel)
	dst := filepath.Join(filepath.Dir(src), wantName)

	if filepath.Base(rel) == wantName {
		res.Outcome = RestoreAlreadyOK
		return res
	}
	res.From = src
	res.To = dst

	if _, err := os.Lstat(dst); err == nil {
		res.Outcome = RestoreConflict
		res.Detail = fmt.Sprintf("target %s already exists", dst)
		return res
	}
	if dryRun {
		res.Outcome = RestoreRenamed
		return res
	}
	if err := os.Rename(src, dst); err != nil {
		res.Outcome = RestoreFailed
		res.Detail = err.Error()
		return res
	}
	res.Outcome = RestoreRenamed
	return res
}
