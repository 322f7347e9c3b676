package core

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arcmig/arcmig/internal/model"
)

func testAuditor(t *testing.T) *Auditor {
	t.Helper()
	algo, err := AlgorithmByName("md5")
	if err != nil {
		t.Fatal(err)
	}
	return &Auditor{Algorithm: algo}
}

func auditRoots(t *testing.T) (model.StorageRoot, model.StorageRoot) {
	t.Helper()
	self := model.StorageRoot{Name: "cepheus", BasePath: t.TempDir(), Role: model.RolePrimary}
	cp := model.StorageRoot{Name: "netapp", BasePath: t.TempDir(), Role: model.RoleSecondary}
	return self, cp
}

func TestCompareIdenticalMetadata(t *testing.T) {
	self, cp := auditRoots(t)
	for _, root := range []model.StorageRoot{self, cp} {
		writeFile(t, filepath.Join(root.BasePath, "karten_a_1", "scan_0001.tif"), "page one")
		writeFile(t, filepath.Join(root.BasePath, "karten_a_1", "scan_0002.tif"), "page two")
	}

	rows, err := testAuditor(t).Compare(context.Background(), self, []model.StorageRoot{cp})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.LeafDir != "karten_a_1" || row.FileCount != 2 {
		t.Errorf("row = %+v", row)
	}
	if len(row.Counterparts) != 1 {
		t.Fatalf("counterparts = %+v", row.Counterparts)
	}
	got := row.Counterparts[0]
	if got.Outcome != model.AuditIdenticalMetadata {
		t.Errorf("outcome = %s, want identical_metadata", got.Outcome)
	}
	if got.Content != "" {
		t.Errorf("cheap path still ran content comparison: %+v", got)
	}
}

func TestCompareCounterpartMissing(t *testing.T) {
	self, cp := auditRoots(t)
	writeFile(t, filepath.Join(self.BasePath, "karten_a_1", "scan_0001.tif"), "page one")

	rows, err := testAuditor(t).Compare(context.Background(), self, []model.StorageRoot{cp})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	got := rows[0].Counterparts[0]
	if got.Outcome != model.AuditNotExist {
		t.Errorf("outcome = %s, want not_exist", got.Outcome)
	}
	if got.Content != "" || len(got.Sample) != 0 {
		t.Errorf("missing counterpart still produced content results: %+v", got)
	}
}

func TestCompareRenamedContentIdentical(t *testing.T) {
	self, cp := auditRoots(t)
	// Same bytes under a different file name: metadata disagrees, the
	// hash comparison clears it.
	writeFile(t, filepath.Join(self.BasePath, "karten_a_1", "scan_0001.tif"), "page one")
	writeFile(t, filepath.Join(cp.BasePath, "karten_a_1", "seite_0001.tif"), "page one")

	rows, err := testAuditor(t).Compare(context.Background(), self, []model.StorageRoot{cp})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	got := rows[0].Counterparts[0]
	if got.Outcome != model.AuditDifferentMetadata {
		t.Errorf("outcome = %s, want different_metadata", got.Outcome)
	}
	if got.Content != model.ContentIdentical {
		t.Errorf("content = %s, want content_identical", got.Content)
	}
	if len(got.Sample) != 1 {
		t.Errorf("sample = %+v, want the matched pair", got.Sample)
	}
}

func TestCompareContentDiffers(t *testing.T) {
	self, cp := auditRoots(t)
	writeFile(t, filepath.Join(self.BasePath, "karten_a_1", "scan_0001.tif"), "page one")
	writeFile(t, filepath.Join(cp.BasePath, "karten_a_1", "scan_0001.tif"), "other bytes")

	rows, err := testAuditor(t).Compare(context.Background(), self, []model.StorageRoot{cp})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	got := rows[0].Counterparts[0]
	if got.Outcome != model.AuditDifferentMetadata || got.Content != model.ContentDiffers {
		t.Errorf("result = %+v, want different_metadata/content_differs", got)
	}
}

func TestComparePlaceholderFlagging(t *testing.T) {
	self, cp := auditRoots(t)
	writeFile(t, filepath.Join(self.BasePath, "karten_a_1", "scan_0001.tif"), strings.Repeat("x", 2048))
	writeFile(t, filepath.Join(self.BasePath, "karten_a_1", "scan_0002.tif"), "")
	writeFile(t, filepath.Join(cp.BasePath, "karten_a_1", "scan_0001.tif"), strings.Repeat("x", 2048))
	writeFile(t, filepath.Join(cp.BasePath, "karten_a_1", "scan_0002.tif"), "")

	a := testAuditor(t)
	a.PlaceholderMax = 1024
	rows, err := a.Compare(context.Background(), self, []model.StorageRoot{cp})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(rows[0].Placeholders) != 1 || rows[0].Placeholders[0] != "scan_0002.tif" {
		t.Errorf("placeholders = %v, want [scan_0002.tif]", rows[0].Placeholders)
	}
}

func TestCompareOnlyLeafDirectories(t *testing.T) {
	self, cp := auditRoots(t)
	writeFile(t, filepath.Join(self.BasePath, "urk", "b_9", "scan_0001.tif"), "x")
	writeFile(t, filepath.Join(self.BasePath, "urk", "b_10", "scan_0001.tif"), "y")
	// "thumbs" is walked past entirely.
	writeFile(t, filepath.Join(self.BasePath, "urk", "b_9", "thumbs", "t.jpg"), "thumb")

	a := testAuditor(t)
	a.Exclude = []string{"thumbs"}
	rows, err := a.Compare(context.Background(), self, []model.StorageRoot{cp})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	var leaves []string
	for _, r := range rows {
		leaves = append(leaves, r.LeafDir)
	}
	want := []string{filepath.Join("urk", "b_10"), filepath.Join("urk", "b_9")}
	if len(leaves) != 2 || leaves[0] != want[0] || leaves[1] != want[1] {
		t.Errorf("leaves = %v, want %v", leaves, want)
	}
}

func TestWriteAuditCSV(t *testing.T) {
	rows := []model.AuditRow{
		{
			LeafDir:   "karten_a_1",
			FileCount: 2,
			TotalSize: 100,
			Counterparts: []model.CounterpartResult{
				{Root: "netapp", Outcome: model.AuditIdenticalMetadata},
				{Root: "tape", Outcome: model.AuditNotExist},
			},
		},
		{LeafDir: "karten_a_2", FileCount: 1, TotalSize: 50},
	}

	var buf bytes.Buffer
	if err := WriteAuditCSV(&buf, rows); err != nil {
		t.Fatalf("WriteAuditCSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// Header plus one line per leaf/counterpart pair; the row with no
	// counterparts still gets its line.
	if len(lines) != 4 {
		t.Fatalf("csv lines = %d, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "karten_a_1,2,100") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "not_exist") {
		t.Errorf("line 2 = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "karten_a_2,1,50") {
		t.Errorf("line 3 = %q", lines[3])
	}
}

func TestSnapshotMetadataIgnoresMtime(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(dirA, "scan_0001.tif"), "same")
	writeFile(t, filepath.Join(dirB, "scan_0001.tif"), "same")
	old := time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(dirB, "scan_0001.tif"), old, old); err != nil {
		t.Fatal(err)
	}

	a, err := SnapshotDirectory(dirA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := SnapshotDirectory(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if !a.sameMetadata(b) {
		t.Error("snapshots with equal names and sizes compare unequal")
	}
}
