package core

import (
	"path/filepath"
	"testing"

	"github.com/arcmig/arcmig/internal/model"
)

func TestSequencePlanNaming(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Urk 1234", "Karton 7", "Mappe 3")
	// Mixed raw scanner names; natural order decides the numbering.
	writeFile(t, filepath.Join(dir, "IMG_10.tif"), "c")
	writeFile(t, filepath.Join(dir, "IMG_2.tif"), "b")
	writeFile(t, filepath.Join(dir, "IMG_1.tif"), "a")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a scan")

	sp := &SequencePlanner{}
	plan, rejected, err := sp.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(rejected) != 0 {
		t.Fatalf("rejected = %+v", rejected)
	}
	if len(plan.Ops) != 6 {
		t.Fatalf("ops = %d, want 3 directory renames and 3 page renames: %+v", len(plan.Ops), plan.Ops)
	}

	// Directory pass first, deepest directory renamed before its parent.
	wantDirs := []struct{ src, dst string }{
		{"Mappe 3", "mappe_3"},
		{"Karton 7", "karton_7"},
		{"Urk 1234", "urk_1234"},
	}
	for i, w := range wantDirs {
		op := plan.Ops[i]
		if op.Type != model.OpMove {
			t.Fatalf("op %d type = %s", i, op.Type)
		}
		if filepath.Base(op.Source) != w.src || filepath.Base(op.Dest) != w.dst {
			t.Errorf("dir op %d = %s -> %s, want %s -> %s",
				i, filepath.Base(op.Source), filepath.Base(op.Dest), w.src, w.dst)
		}
	}

	// Page renames address the sanitized directory locations.
	finalDir := filepath.Join(root, "urk_1234", "karton_7", "mappe_3")
	wantPages := []struct{ src, dst string }{
		{"IMG_1.tif", "urk_1234_karton_7_nr_mappe_3_0001.tif"},
		{"IMG_2.tif", "urk_1234_karton_7_nr_mappe_3_0002.tif"},
		{"IMG_10.tif", "urk_1234_karton_7_nr_mappe_3_0003.tif"},
	}
	for i, w := range wantPages {
		op := plan.Ops[3+i]
		if op.Type != model.OpMove {
			t.Fatalf("op %d type = %s", 3+i, op.Type)
		}
		if filepath.Dir(op.Source) != finalDir || filepath.Dir(op.Dest) != finalDir {
			t.Errorf("page op %d not under %s: %s -> %s", i, finalDir, op.Source, op.Dest)
		}
		if filepath.Base(op.Source) != w.src || filepath.Base(op.Dest) != w.dst {
			t.Errorf("page op %d = %s -> %s, want %s -> %s",
				i, filepath.Base(op.Source), filepath.Base(op.Dest), w.src, w.dst)
		}
	}
}

func TestSequencePlanConformingDirsUntouched(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "urk_1234", "karton_7", "mappe_3")
	writeFile(t, filepath.Join(dir, "IMG_1.tif"), "a")

	sp := &SequencePlanner{}
	plan, rejected, err := sp.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(rejected) != 0 {
		t.Fatalf("rejected = %+v", rejected)
	}
	if len(plan.Ops) != 1 {
		t.Fatalf("ops = %+v, want only the page rename", plan.Ops)
	}
	if got := filepath.Base(plan.Ops[0].Dest); got != "urk_1234_karton_7_nr_mappe_3_0001.tif" {
		t.Errorf("dest = %s", got)
	}
}

func TestSequencePlanDirRenameRejectsExistingSibling(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Urk 9", "IMG_1.tif"), "a")
	writeFile(t, filepath.Join(root, "urk_9", "IMG_1.tif"), "b")

	sp := &SequencePlanner{}
	plan, rejected, err := sp.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	found := false
	for _, r := range rejected {
		if r.Reason == model.ReasonDestinationExists && r.Entry.RawOld == "Urk 9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejected = %+v, want a destination_exists entry for Urk 9", rejected)
	}
	// The unrenamed directory keeps its pages planned in place.
	for _, op := range plan.Ops {
		if filepath.Base(op.Source) == "Urk 9" || filepath.Base(op.Dest) == "urk_9" {
			t.Errorf("rejected directory still produced a rename: %+v", op)
		}
	}
	want := filepath.Join(root, "Urk 9", "x_x_nr_urk_9_0001.tif")
	foundPage := false
	for _, op := range plan.Ops {
		if op.Dest == want {
			foundPage = true
		}
	}
	if !foundPage {
		t.Errorf("ops = %+v, want a page rename under the unrenamed Urk 9", plan.Ops)
	}
}

func TestSequencePlanShallowAncestors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "mappe_3", "IMG_1.tif"), "a")

	sp := &SequencePlanner{}
	plan, _, err := sp.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Ops) != 1 {
		t.Fatalf("ops = %+v", plan.Ops)
	}
	// Missing ancestors above the root fall back to "x".
	if got := filepath.Base(plan.Ops[0].Dest); got != "x_x_nr_mappe_3_0001.tif" {
		t.Errorf("dest = %s", got)
	}
}

func TestSequencePlanDepthGuard(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	writeFile(t, filepath.Join(deep, "IMG_1.tif"), "a")

	sp := &SequencePlanner{MaxDepth: 2}
	if _, _, err := sp.Plan(root); err == nil {
		t.Fatal("tree deeper than MaxDepth was accepted")
	}

	sp = &SequencePlanner{MaxDepth: 3}
	if _, _, err := sp.Plan(root); err != nil {
		t.Fatalf("tree at MaxDepth rejected: %v", err)
	}
}

func TestSequencePlanSkipsCorrectNames(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bestand", "karton", "mappe")
	writeFile(t, filepath.Join(dir, "bestand_karton_nr_mappe_0001.tif"), "a")
	writeFile(t, filepath.Join(dir, "zz_last.tif"), "b")

	sp := &SequencePlanner{}
	plan, rejected, err := sp.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(rejected) != 0 {
		t.Fatalf("rejected = %+v", rejected)
	}
	// The correctly named page keeps slot 1; only the straggler moves.
	if len(plan.Ops) != 1 {
		t.Fatalf("ops = %+v", plan.Ops)
	}
	if got := filepath.Base(plan.Ops[0].Dest); got != "bestand_karton_nr_mappe_0002.tif" {
		t.Errorf("dest = %s", got)
	}
}

func TestSequencePlanRejectsExistingTarget(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bestand", "karton", "mappe")
	// Three pages; the one named for slot 2 sorts first and is assigned
	// slot 1, leaving IMG_1's target name occupied on disk.
	writeFile(t, filepath.Join(dir, "bestand_karton_nr_mappe_0002.tif"), "a")
	writeFile(t, filepath.Join(dir, "IMG_1.tif"), "b")
	writeFile(t, filepath.Join(dir, "IMG_2.tif"), "c")

	sp := &SequencePlanner{}
	plan, rejected, err := sp.Plan(root)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(rejected) == 0 {
		t.Fatalf("no rejection emitted; ops = %+v", plan.Ops)
	}
	found := false
	for _, r := range rejected {
		if r.Reason == model.ReasonDestinationExists {
			found = true
		}
	}
	if !found {
		t.Errorf("rejected = %+v, want a destination_exists entry", rejected)
	}
}
