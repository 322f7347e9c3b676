package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// emptyMD5 is the digest of a zero-byte file.
const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

func newRestorer(t *testing.T, manifestBody string) *Restorer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checksums.md5")
	if err := os.WriteFile(path, []byte(manifestBody), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	algo, err := AlgorithmByName("md5")
	if err != nil {
		t.Fatal(err)
	}
	return &Restorer{Manifest: m, Algorithm: algo}
}

func TestRestoreRenamesByHash(t *testing.T) {
	dir := t.TempDir()
	// A zero-byte scan that lost its name during a botched copy.
	writeFile(t, filepath.Join(dir, "unnamed_file"), "")

	r := newRestorer(t, emptyMD5+"  karten_a_1/scan_0001.tif\n")
	report, err := r.Restore(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if report.Renamed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(filepath.Join(dir, "scan_0001.tif")); err != nil {
		t.Errorf("file not renamed to manifest basename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "unnamed_file")); !os.IsNotExist(err) {
		t.Error("original name still present")
	}
	if r.Manifest.Dirty() {
		t.Error("restore modified the manifest")
	}
}

func TestRestoreDryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "unnamed_file"), "")

	r := newRestorer(t, emptyMD5+"  karten_a_1/scan_0001.tif\n")
	report, err := r.Restore(context.Background(), dir, true)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if report.Renamed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(filepath.Join(dir, "unnamed_file")); err != nil {
		t.Error("dry run renamed the file")
	}
}

func TestRestoreAlreadyOK(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "scan_0001.tif"), "")

	r := newRestorer(t, emptyMD5+"  karten_a_1/scan_0001.tif\n")
	report, err := r.Restore(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if report.Renamed != 0 || report.Skipped != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[0].Outcome != RestoreAlreadyOK {
		t.Errorf("outcome = %s", report.Results[0].Outcome)
	}
}

func TestRestoreAmbiguityNeverGuesses(t *testing.T) {
	dir := t.TempDir()
	// Two on-disk files share the hash; neither may be picked.
	writeFile(t, filepath.Join(dir, "first"), "")
	writeFile(t, filepath.Join(dir, "second"), "")

	r := newRestorer(t, emptyMD5+"  karten_a_1/scan_0001.tif\n")
	report, err := r.Restore(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if report.Renamed != 0 {
		t.Fatalf("ambiguous hash still renamed something: %+v", report)
	}
	if report.Results[0].Outcome != RestoreAmbiguous {
		t.Errorf("outcome = %s, want ambiguous", report.Results[0].Outcome)
	}
	for _, name := range []string{"first", "second"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s was touched: %v", name, err)
		}
	}
}

func TestRestoreDuplicateManifestHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "unnamed_file"), "")

	// The same hash maps to two manifest names; no rename can be right.
	r := newRestorer(t,
		emptyMD5+"  karten_a_1/scan_0001.tif\n"+
			emptyMD5+"  karten_a_1/scan_0002.tif\n")
	report, err := r.Restore(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if report.Renamed != 0 {
		t.Fatalf("report = %+v", report)
	}
	for _, res := range report.Results {
		if res.Outcome != RestoreAmbiguous {
			t.Errorf("outcome = %s, want ambiguous", res.Outcome)
		}
	}
}

func TestRestoreConflictAndNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "unnamed_file"), "")
	writeFile(t, filepath.Join(dir, "scan_0001.tif"), "occupies the target name")

	r := newRestorer(t,
		emptyMD5+"  karten_a_1/scan_0001.tif\n"+
			"9e107d9d372bb6826bd81d3542a419d6  karten_a_1/scan_0002.tif\n")
	report, err := r.Restore(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if report.Results[0].Outcome != RestoreConflict {
		t.Errorf("outcome 0 = %s, want conflict", report.Results[0].Outcome)
	}
	if report.Results[1].Outcome != RestoreNotFound {
		t.Errorf("outcome 1 = %s, want not_found", report.Results[1].Outcome)
	}
}
