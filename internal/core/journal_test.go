package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arcmig/arcmig/internal/model"
)

func TestJournalRoundTrip(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"), "")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	if err := j.BeginRun(ctx, "run-1", "live"); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	ops := []model.OpResult{
		{Op: model.Operation{Seq: 0, Type: model.OpMkdir, Dest: "/data/karten_a_2", Root: "cepheus", EntryID: "A1"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 1, Type: model.OpMove, Source: "/data/karten_a_1/scan_0001.tif", Dest: "/data/karten_a_2/scan_0001.tif", Root: "cepheus", EntryID: "A1"}, Status: model.OpStatusDone},
		{Op: model.Operation{Seq: 2, Type: model.OpRmdirIfEmpty, Source: "/data/karten_a_1", Root: "cepheus", EntryID: "A1"}, Status: model.OpStatusSkipped, Error: "directory not empty"},
	}
	for _, res := range ops {
		if err := j.RecordOp(ctx, res); err != nil {
			t.Fatalf("RecordOp: %v", err)
		}
	}

	report := &model.ExecutionReport{Created: 1, Moved: 1, Skipped: 1}
	if err := j.FinishRun(ctx, report, "completed"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := j.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns returned %d runs, want 1", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].Status != "completed" || runs[0].Moved != 1 {
		t.Errorf("run = %+v", runs[0])
	}
	if runs[0].FinishedAt == nil {
		t.Error("finished run has no finish time")
	}

	got, err := j.Ops(ctx, "run-1")
	if err != nil {
		t.Fatalf("Ops: %v", err)
	}
	if len(got) != len(ops) {
		t.Fatalf("Ops returned %d rows, want %d", len(got), len(ops))
	}
	for i := range ops {
		if got[i].Op.Seq != ops[i].Op.Seq || got[i].Op.Type != ops[i].Op.Type ||
			got[i].Op.Source != ops[i].Op.Source || got[i].Op.Dest != ops[i].Op.Dest ||
			got[i].Status != ops[i].Status || got[i].Error != ops[i].Error {
			t.Errorf("op %d = %+v, want %+v", i, got[i], ops[i])
		}
	}

	mode, err := j.RunMode(ctx, "run-1")
	if err != nil || mode != "live" {
		t.Errorf("RunMode = %q, %v", mode, err)
	}
	if _, err := j.RunMode(ctx, "no-such-run"); err == nil {
		t.Error("RunMode found a run that never happened")
	}
}

func TestJournalRecordOpWithoutRun(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"), "")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	err = j.RecordOp(context.Background(), model.OpResult{
		Op: model.Operation{Type: model.OpMkdir, Dest: "/x"}, Status: model.OpStatusDone,
	})
	if err == nil {
		t.Error("RecordOp accepted an operation with no run open")
	}
}

func TestJournalEncryption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	j, err := OpenJournal(dbPath, "correct horse")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if err := j.BeginRun(context.Background(), "run-1", "dry-run"); err != nil {
		t.Fatal(err)
	}
	if err := j.FinishRun(context.Background(), &model.ExecutionReport{}, "completed"); err != nil {
		t.Fatal(err)
	}
	j.Close()

	if _, err := OpenJournal(dbPath, "wrong key"); err == nil {
		t.Error("journal opened with the wrong passphrase")
	}

	j2, err := OpenJournal(dbPath, "correct horse")
	if err != nil {
		t.Fatalf("reopen with correct passphrase: %v", err)
	}
	defer j2.Close()
	runs, err := j2.ListRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns after reopen = %v, %v", runs, err)
	}
}
