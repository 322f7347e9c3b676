package core

import (
	"testing"

	"github.com/arcmig/arcmig/internal/model"
)

func TestBuildUndoPlanInvertsRun(t *testing.T) {
	recorded := []model.OpResult{
		{Op: model.Operation{Seq: 0, Type: model.OpMkdir, Dest: "/data/karten_a_2", Root: "cepheus", EntryID: "A1"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 1, Type: model.OpMove, Source: "/data/karten_a_1/scan_0001.tif", Dest: "/data/karten_a_2/scan_0001.tif", Root: "cepheus", EntryID: "A1"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 2, Type: model.OpRmdirIfEmpty, Source: "/data/karten_a_1", Root: "cepheus", EntryID: "A1"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 3, Type: model.OpManifestUpdate, Source: "karten_a_1", Dest: "karten_a_2", EntryID: "A1"}, Status: model.OpStatusDone},
	}

	plan, err := BuildUndoPlan(recorded)
	if err != nil {
		t.Fatalf("BuildUndoPlan: %v", err)
	}
	if len(plan.Ops) != 4 {
		t.Fatalf("undo plan has %d ops, want 4: %+v", len(plan.Ops), plan.Ops)
	}

	// Newest-first inversion: the rmdir comes back as mkdir before the
	// reverse move needs the directory, and the manifest swap runs first.
	want := []model.Operation{
		{Seq: 0, Type: model.OpManifestUpdate, Source: "karten_a_2", Dest: "karten_a_1", EntryID: "A1"},
		{Seq: 1, Type: model.OpMkdir, Dest: "/data/karten_a_1", Root: "cepheus", EntryID: "A1"},
		{Seq: 2, Type: model.OpMove, Source: "/data/karten_a_2/scan_0001.tif", Dest: "/data/karten_a_1/scan_0001.tif", Root: "cepheus", EntryID: "A1"},
		{Seq: 3, Type: model.OpRmdirIfEmpty, Source: "/data/karten_a_2", Root: "cepheus", EntryID: "A1"},
	}
	for i, w := range want {
		if plan.Ops[i] != w {
			t.Errorf("op %d = %+v, want %+v", i, plan.Ops[i], w)
		}
	}
}

func TestBuildUndoPlanSkipsNonDone(t *testing.T) {
	recorded := []model.OpResult{
		{Op: model.Operation{Seq: 0, Type: model.OpMove, Source: "/a", Dest: "/b"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 1, Type: model.OpMove, Source: "/c", Dest: "/d"}, Status: model.OpStatusFailed, Error: "boom"},
		{Op: model.Operation{Seq: 2, Type: model.OpRmdirIfEmpty, Source: "/e"}, Status: model.OpStatusSkipped},
	}

	plan, err := BuildUndoPlan(recorded)
	if err != nil {
		t.Fatalf("BuildUndoPlan: %v", err)
	}
	if len(plan.Ops) != 1 {
		t.Fatalf("undo plan has %d ops, want only the completed move", len(plan.Ops))
	}
	if plan.Ops[0].Source != "/b" || plan.Ops[0].Dest != "/a" {
		t.Errorf("reverse move = %+v", plan.Ops[0])
	}
}

func TestBuildUndoPlanSymlinks(t *testing.T) {
	recorded := []model.OpResult{
		{Op: model.Operation{Seq: 0, Type: model.OpSymlinkRemove, Source: "/www/karten_a_1", Dest: "/data/karten_a_1", Root: "www"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 1, Type: model.OpSymlinkCreate, Source: "/data/karten_a_2", Dest: "/www/karten_a_2", Root: "www"}, Status: model.OpStatusDone},
	}

	plan, err := BuildUndoPlan(recorded)
	if err != nil {
		t.Fatalf("BuildUndoPlan: %v", err)
	}
	if len(plan.Ops) != 2 {
		t.Fatalf("undo plan has %d ops, want 2", len(plan.Ops))
	}
	if plan.Ops[0].Type != model.OpSymlinkRemove || plan.Ops[0].Source != "/www/karten_a_2" {
		t.Errorf("op 0 = %+v", plan.Ops[0])
	}
	if plan.Ops[1].Type != model.OpSymlinkCreate || plan.Ops[1].Source != "/data/karten_a_1" || plan.Ops[1].Dest != "/www/karten_a_1" {
		t.Errorf("op 1 = %+v", plan.Ops[1])
	}
}

func TestBuildUndoPlanRefusesUnknownTarget(t *testing.T) {
	recorded := []model.OpResult{
		{Op: model.Operation{Seq: 0, Type: model.OpSymlinkRemove, Source: "/www/karten_a_1"}, Status: model.OpStatusDone},
	}
	if _, err := BuildUndoPlan(recorded); err == nil {
		t.Error("undo of a symlink removal without a recorded target succeeded")
	}
}
