// Package cli provides the engine integration for the arcmig CLI.
// This file contains initialization and the command implementations.
package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/arcmig/arcmig/internal/config"
	"github.com/arcmig/arcmig/internal/core"
	"github.com/arcmig/arcmig/internal/model"
	"github.com/arcmig/arcmig/internal/transfer"
	"github.com/arcmig/arcmig/internal/transfer/rsync"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// Engine holds the resolved configuration and the shared handles the
// commands need.
type Engine struct {
	Config    *config.Config
	Algorithm *core.HashAlgorithm
}

// Global engine instance
var engine *Engine

// GetEngine returns the engine, initializing it from the config file
// on first use.
func GetEngine() (*Engine, error) {
	if engine != nil {
		return engine, nil
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	algo, err := core.AlgorithmByName(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	engine = &Engine{Config: cfg, Algorithm: algo}
	return engine, nil
}

// openJournal opens the configured run journal.
func (e *Engine) openJournal() (*core.RunJournal, error) {
	j, err := core.OpenJournal(e.Config.Journal.Path, e.Config.JournalPassphrase())
	if err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}
	return j, nil
}

// loadManifest loads the configured checksum manifest, creating an
// empty one if the file does not exist yet.
func (e *Engine) loadManifest() (*core.Manifest, error) {
	if e.Config.ManifestPath == "" {
		return nil, fmt.Errorf("no manifest path configured")
	}
	if _, err := os.Stat(e.Config.ManifestPath); os.IsNotExist(err) {
		return core.NewManifest(e.Config.ManifestPath, e.Algorithm.DigestLen), nil
	}
	return core.LoadManifest(e.Config.ManifestPath, e.Algorithm.DigestLen)
}

// newTransfer builds the configured cross-device mover.
func (e *Engine) newTransfer() (transfer.Transfer, error) {
	if e.Config.Transfer.Method != "rsync" {
		return transfer.Local{}, nil
	}
	return rsync.New(
		e.Config.Transfer.RsyncBinary,
		e.Config.Transfer.Retries,
		time.Duration(e.Config.Transfer.BackoffSeconds)*time.Second,
	)
}

// logf prints operation lines unless --quiet is set.
func logf(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

// vlogf prints only with --verbose.
func vlogf(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// --- Command Implementations ---

// RunNormalize prints the normalized form of each signature.
func RunNormalize(signatures []string) error {
	failed := 0
	for _, raw := range signatures {
		normalized, err := core.Normalize(raw)
		if err != nil {
			failed++
			fmt.Printf("%s %q: %v\n", failMark, raw, err)
			continue
		}
		fmt.Printf("%s -> %s\n", raw, normalized)
	}
	if failed > 0 {
		return fmt.Errorf("%d signature(s) could not be normalized", failed)
	}
	return nil
}

// RunPlan validates a mapping sheet and prints the plan.
func RunPlan(mappingPath, rejectsPath string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	plan, rejected, err := e.buildPlan(context.Background(), mappingPath)
	if err != nil {
		return err
	}

	printPlanSummary(plan, rejected)
	if verbose {
		for _, op := range plan.Ops {
			vlogf("  %4d %-16s %s -> %s", op.Seq, op.Type, op.Source, op.Dest)
		}
	}

	if rejectsPath != "" {
		if err := writeRejectsCSV(rejectsPath, rejected); err != nil {
			return fmt.Errorf("failed to write rejects: %w", err)
		}
		logf("rejected rows written to %s", rejectsPath)
	}
	return nil
}

// RunApply plans and executes a mapping sheet.
func RunApply(mappingPath string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	plan, rejected, err := e.buildPlan(ctx, mappingPath)
	if err != nil {
		return err
	}
	printPlanSummary(plan, rejected)
	if len(plan.Entries) == 0 {
		logf("nothing to do")
		return nil
	}

	manifest, err := e.loadManifest()
	if err != nil {
		return err
	}
	journal, err := e.openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	mover, err := e.newTransfer()
	if err != nil {
		return err
	}

	pe := core.NewPlanExecutor(core.ExecOptions{
		Manifest: manifest,
		Journal:  journal,
		LockPath: e.Config.LockPath,
		DryRun:   dryRun,
		Transfer: mover,
		Logf:     vlogf,
	})
	report, err := pe.Execute(ctx, plan)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

// buildPlan loads the sheet and runs the planner over the configured
// roots.
func (e *Engine) buildPlan(ctx context.Context, mappingPath string) (*model.ExecutionPlan, []model.RejectedEntry, error) {
	if len(e.Config.Roots) == 0 {
		return nil, nil, fmt.Errorf("no storage roots configured")
	}
	rows, err := core.LoadMappings(mappingPath, core.MappingOptions{
		Delimiter: e.Config.Mapping.Delimiter,
		HasHeader: e.Config.Mapping.HasHeader,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read mapping sheet: %w", err)
	}
	return core.NewPlanner(e.Config.Roots).Plan(ctx, rows)
}

func printPlanSummary(plan *model.ExecutionPlan, rejected []model.RejectedEntry) {
	moves := 0
	for _, op := range plan.Ops {
		if op.Type == model.OpMove {
			moves++
		}
	}
	logf("%s %d entries accepted (%d operations, %d file moves)",
		okMark, len(plan.Entries), len(plan.Ops), moves)
	if len(rejected) > 0 {
		logf("%s %d rows rejected:", warnMark, len(rejected))
		for _, r := range rejected {
			logf("  %-24s %s: %s", r.Entry.ID, r.Reason, r.Detail)
		}
	}
}

func printReport(report *model.ExecutionReport) {
	mark := okMark
	if report.Failed > 0 {
		mark = failMark
	}
	mode := "run"
	if report.DryRun {
		mode = "dry-run"
	}
	logf("%s %s %s: created %d, moved %d, linked %d, removed %d, skipped %d, failed %d",
		mark, mode, report.RunID,
		report.Created, report.Moved, report.Linked,
		report.Removed, report.Skipped, report.Failed)
	if len(report.Flagged) > 0 {
		sort.Strings(report.Flagged)
		logf("%s entries needing manual follow-up: %v", warnMark, report.Flagged)
	}
}

func writeRejectsCSV(path string, rejected []model.RejectedEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "old", "new", "reason", "detail"}); err != nil {
		return err
	}
	for _, r := range rejected {
		rec := []string{r.Entry.ID, r.Entry.RawOld, r.Entry.RawNew, string(r.Reason), r.Detail}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// RunAudit compares the primary root against the other data roots.
func RunAudit(outputPath string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	var self model.StorageRoot
	var counterparts []model.StorageRoot
	found := false
	for _, r := range e.Config.Roots {
		switch {
		case r.Role == model.RolePrimary:
			self = r
			found = true
		case r.IsData():
			counterparts = append(counterparts, r)
		}
	}
	if !found {
		return fmt.Errorf("no primary root configured")
	}

	auditor := &core.Auditor{
		Algorithm:      e.Algorithm,
		Exclude:        e.Config.Audit.Exclude,
		PlaceholderMax: e.Config.Audit.PlaceholderMax,
		SampleSize:     e.Config.Audit.SampleSize,
		Workers:        e.Config.Audit.Workers,
	}
	rows, err := auditor.Compare(context.Background(), self, counterparts)
	if err != nil {
		return err
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := core.WriteAuditCSV(out, rows); err != nil {
		return err
	}

	differs := 0
	for _, row := range rows {
		for _, cp := range row.Counterparts {
			if cp.Content == model.ContentDiffers {
				differs++
				logf("%s %s differs on %s", failMark, row.LeafDir, cp.Root)
			}
		}
	}
	logf("%s audited %d leaf directories, %d content mismatches",
		statusMark(differs == 0), len(rows), differs)
	return nil
}

func statusMark(ok bool) string {
	if ok {
		return okMark
	}
	return failMark
}

// RunIndex hashes a tree and prints index statistics.
func RunIndex(dir string, duplicates bool) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	idx, err := core.BuildIndex(context.Background(), dir, e.Algorithm, core.IndexOptions{
		Exclude: e.Config.Audit.Exclude,
		Workers: e.Config.Audit.Workers,
	})
	if err != nil {
		return err
	}

	logf("%s indexed %d files under %s (%s)", okMark, idx.Len(), dir, e.Algorithm.Name)
	for _, path := range idx.Unreadable {
		logf("%s unreadable: %s", warnMark, path)
	}
	if duplicates {
		dups := idx.Duplicates()
		hashes := make([]string, 0, len(dups))
		for h := range dups {
			hashes = append(hashes, h)
		}
		sort.Strings(hashes)
		for _, h := range hashes {
			paths := dups[h]
			sort.Strings(paths)
			fmt.Printf("%s\n", h)
			for _, p := range paths {
				fmt.Printf("  %s\n", p)
			}
		}
		logf("%d duplicate content groups", len(dups))
	}
	return nil
}

// RunManifestFind looks up manifest rows by hash or path prefix.
func RunManifestFind(needle string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	m, err := e.loadManifest()
	if err != nil {
		return err
	}

	matches := m.FindByHash(needle)
	if len(matches) == 0 {
		matches = m.FindByPrefix(needle)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no manifest rows match %q", needle)
	}
	for _, entry := range matches {
		fmt.Printf("%s  %s\n", entry.Hash, entry.Path)
	}
	return nil
}

// RunManifestVerify re-hashes a tree against the manifest.
func RunManifestVerify(dir string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	m, err := e.loadManifest()
	if err != nil {
		return err
	}
	idx, err := core.BuildIndex(context.Background(), dir, e.Algorithm, core.IndexOptions{
		Exclude: e.Config.Audit.Exclude,
		Workers: e.Config.Audit.Workers,
	})
	if err != nil {
		return err
	}

	var missing, mismatched, unknown int
	seen := make(map[string]bool)
	for _, entry := range m.Entries() {
		seen[entry.Path] = true
		actual, ok := idx.HashOf(entry.Path)
		if !ok {
			missing++
			logf("%s missing: %s", failMark, entry.Path)
			continue
		}
		if actual != entry.Hash {
			mismatched++
			ie := &core.IntegrityError{Path: entry.Path, Expected: entry.Hash, Actual: actual}
			logf("%s %v", failMark, ie)
		}
	}
	unknown = idx.Len() - countKnown(idx, seen)

	logf("%s verified %d rows: %d missing, %d mismatched, %d files unknown to the manifest",
		statusMark(missing == 0 && mismatched == 0), m.Len(), missing, mismatched, unknown)
	if missing > 0 || mismatched > 0 {
		return fmt.Errorf("manifest verification failed")
	}
	return nil
}

// RunManifestRewrite rewrites manifest paths in place. A trailing
// slash on oldPath rewrites the whole prefix.
func RunManifestRewrite(oldPath, newPath string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	m, err := e.loadManifest()
	if err != nil {
		return err
	}

	var n int
	if strings.HasSuffix(oldPath, "/") {
		n = m.RewritePrefix(oldPath, newPath)
	} else {
		n = m.Rewrite(oldPath, newPath)
	}
	if n == 0 {
		return fmt.Errorf("no manifest rows match %q", oldPath)
	}
	if dryRun {
		logf("%s dry-run: %d row(s) would be rewritten", warnMark, n)
		return nil
	}
	if err := m.Save(); err != nil {
		return err
	}
	logf("%s rewrote %d row(s)", okMark, n)
	return nil
}

// RunManifestRemove drops a manifest row by exact path.
func RunManifestRemove(path string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	m, err := e.loadManifest()
	if err != nil {
		return err
	}
	if !m.Remove(path) {
		return fmt.Errorf("no manifest row for %q", path)
	}
	if dryRun {
		logf("%s dry-run: row for %s would be removed", warnMark, path)
		return nil
	}
	if err := m.Save(); err != nil {
		return err
	}
	logf("%s removed %s", okMark, path)
	return nil
}

func countKnown(idx *core.ChecksumIndex, seen map[string]bool) int {
	n := 0
	for path := range seen {
		if _, ok := idx.HashOf(path); ok {
			n++
		}
	}
	return n
}

// RunRestore renames files back to their manifest names by hash. An
// explicit manifestPath overrides the configured one.
func RunRestore(dir, manifestPath string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	var m *core.Manifest
	if manifestPath != "" {
		m, err = core.LoadManifest(manifestPath, e.Algorithm.DigestLen)
	} else {
		m, err = e.loadManifest()
	}
	if err != nil {
		return err
	}

	r := &core.Restorer{Manifest: m, Algorithm: e.Algorithm, Workers: e.Config.Audit.Workers}
	report, err := r.Restore(context.Background(), dir, dryRun)
	if err != nil {
		return err
	}

	for _, res := range report.Results {
		switch res.Outcome {
		case core.RestoreRenamed:
			vlogf("%s %s -> %s", okMark, res.From, res.To)
		case core.RestoreAmbiguous, core.RestoreConflict, core.RestoreFailed:
			logf("%s %s: %s %s", warnMark, res.Entry.Path, res.Outcome, res.Detail)
		}
	}
	logf("%s restore: %d renamed, %d skipped, %d failed",
		statusMark(report.Failed == 0), report.Renamed, report.Skipped, report.Failed)
	return nil
}

// RunSequence renames pages under dir to the archival convention.
func RunSequence(dir string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}

	exts := map[string]bool{}
	for _, ext := range e.Config.Sequence.Extensions {
		exts[ext] = true
	}
	if len(exts) == 0 {
		exts = nil
	}
	sp := &core.SequencePlanner{MaxDepth: e.Config.Sequence.MaxDepth, Extensions: exts}
	plan, rejected, err := sp.Plan(dir)
	if err != nil {
		return err
	}
	printPlanSummary(plan, rejected)
	if len(plan.Ops) == 0 {
		return nil
	}

	journal, err := e.openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	pe := core.NewPlanExecutor(core.ExecOptions{
		Journal:  journal,
		LockPath: e.Config.LockPath,
		DryRun:   dryRun,
		Logf:     vlogf,
	})
	report, err := pe.Execute(context.Background(), plan)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

// RunUndo reverses a journaled run.
func RunUndo(runID string) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	journal, err := e.openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx := context.Background()
	mode, err := journal.RunMode(ctx, runID)
	if err != nil {
		return err
	}
	if mode != "live" {
		return fmt.Errorf("run %s was a %s, nothing to undo", runID, mode)
	}

	recorded, err := journal.Ops(ctx, runID)
	if err != nil {
		return err
	}
	plan, err := core.BuildUndoPlan(recorded)
	if err != nil {
		return err
	}
	logf("%s undoing run %s: %d operations", warnMark, runID, len(plan.Ops))

	manifest, err := e.loadManifest()
	if err != nil {
		return err
	}
	mover, err := e.newTransfer()
	if err != nil {
		return err
	}

	pe := core.NewPlanExecutor(core.ExecOptions{
		Manifest: manifest,
		Journal:  journal,
		LockPath: e.Config.LockPath,
		DryRun:   dryRun,
		Transfer: mover,
		Logf:     vlogf,
	})
	report, err := pe.Execute(ctx, plan)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

// RunRuns lists the journaled runs.
func RunRuns(limit int) error {
	e, err := GetEngine()
	if err != nil {
		return err
	}
	journal, err := e.openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	runs, err := journal.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		logf("no runs recorded")
		return nil
	}

	for _, run := range runs {
		mark := okMark
		if run.Failed > 0 || run.Status == "failed" {
			mark = failMark
		} else if run.Status != "completed" {
			mark = warnMark
		}
		fmt.Printf("%s %s  %-8s %-22s moved %-5d failed %-3d %s\n",
			mark, run.ID, run.Mode, run.Status, run.Moved, run.Failed,
			run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// RunVersion prints the version.
func RunVersion() error {
	fmt.Printf("arcmig %s\n", Version)
	return nil
}
