package core

import (
	"fmt"

	"github.com/arcmig/arcmig/internal/model"
)

// BuildUndoPlan derives the reverse of a recorded run: every successful
// operation is inverted and replayed newest-first. Reverse chronological
// order keeps the plan invariants intact on its own: directories
// removed at the end of the run are recreated before the moves that
// need them come back.
func BuildUndoPlan(recorded []model.OpResult) (*model.ExecutionPlan, error) {
	plan := &model.ExecutionPlan{}
	seq := 0
	addOp := func(op model.Operation) {
		op.Seq = seq
		seq++
		plan.Ops = append(plan.Ops, op)
	}

	for i := len(recorded) - 1; i >= 0; i-- {
		res := recorded[i]
		if res.Status != model.OpStatusDone {
			continue
		}
		op := res.Op
		switch op.Type {
		case model.OpMove:
			addOp(model.Operation{
				Type: model.OpMove, Source: op.Dest, Dest: op.Source,
				Root: op.Root, EntryID: op.EntryID,
			})
		case model.OpMkdir:
			addOp(model.Operation{
				Type: model.OpRmdirIfEmpty, Source: op.Dest,
				Root: op.Root, EntryID: op.EntryID,
			})
		case model.OpRmdirIfEmpty:
			addOp(model.Operation{
				Type: model.OpMkdir, Dest: op.Source,
				Root: op.Root, EntryID: op.EntryID,
			})
		case model.OpSymlinkCreate:
			addOp(model.Operation{
				Type: model.OpSymlinkRemove, Source: op.Dest, Dest: op.Source,
				Root: op.Root, EntryID: op.EntryID,
			})
		case model.OpSymlinkRemove:
			if op.Dest == "" {
				return nil, fmt.Errorf("cannot undo symlink removal of %s: target not recorded", op.Source)
			}
			addOp(model.Operation{
				Type: model.OpSymlinkCreate, Source: op.Dest, Dest: op.Source,
				Root: op.Root, EntryID: op.EntryID,
			})
		case model.OpManifestUpdate:
			addOp(model.Operation{
				Type: model.OpManifestUpdate, Source: op.Dest, Dest: op.Source,
				EntryID: op.EntryID,
			})
		default:
			return nil, fmt.Errorf("cannot undo unknown operation type %q", op.Type)
		}
	}
	return plan, nil
}
