// Package model defines the core domain models for the arcmig
// reconciliation engine: storage roots, migration entries, manifest
// entries, execution plans and audit rows.
package model

import (
	"time"
)

// RootRole distinguishes data-bearing roots from public alias roots.
type RootRole string

const (
	// RolePrimary is the authoritative storage root.
	RolePrimary RootRole = "primary"
	// RoleSecondary is a mirror root expected to hold the same logical tree.
	RoleSecondary RootRole = "secondary"
	// RoleAlias is a public-facing root that holds only symlinks into a
	// data root, never real files.
	RoleAlias RootRole = "alias"
)

// StorageRoot is one physical/mounted filesystem tree holding a copy of
// the archive. The planner and executor are root-count-agnostic.
type StorageRoot struct {
	Name     string   `json:"name"`
	BasePath string   `json:"base_path"`
	Role     RootRole `json:"role"`
}

// IsData reports whether the root is expected to contain real files.
func (r StorageRoot) IsData() bool {
	return r.Role == RolePrimary || r.Role == RoleSecondary
}

// MigrationEntry is one row of a migration instruction set.
// OldPath/NewPath are normalized path segments relative to a root.
type MigrationEntry struct {
	ID      string `json:"id"`
	RawOld  string `json:"raw_old"`
	RawNew  string `json:"raw_new"`
	Extra   string `json:"extra,omitempty"`
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

// RejectReason classifies why a migration entry was routed to manual
// review instead of the execution plan.
type RejectReason string

const (
	ReasonBadRow               RejectReason = "bad_row"
	ReasonInvalidSignature     RejectReason = "invalid_signature"
	ReasonNoChange             RejectReason = "no_change"
	ReasonManualReview         RejectReason = "manual_review"
	ReasonSourceMissing        RejectReason = "source_missing"
	ReasonDestinationExists    RejectReason = "destination_exists"
	ReasonDestinationCollision RejectReason = "destination_collision"
	ReasonCrossBestandMismatch RejectReason = "cross_bestand_mismatch"
)

// RejectedEntry pairs a rejected migration entry with a human-readable
// reason. Rejected entries are reported, never silently dropped.
type RejectedEntry struct {
	Entry  MigrationEntry `json:"entry"`
	Reason RejectReason   `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// OpType identifies one kind of plan operation.
type OpType string

const (
	OpMkdir          OpType = "mkdir"
	OpMove           OpType = "move"
	OpRmdirIfEmpty   OpType = "rmdir-if-empty"
	OpSymlinkCreate  OpType = "symlink-create"
	OpSymlinkRemove  OpType = "symlink-remove"
	OpManifestUpdate OpType = "manifest-update"
)

// Operation is a single step of an execution plan. Source and Dest are
// absolute filesystem paths, except for manifest-update where they are
// the logical manifest path prefixes being rewritten.
type Operation struct {
	Seq     int    `json:"seq"`
	Type    OpType `json:"type"`
	Source  string `json:"source,omitempty"`
	Dest    string `json:"dest,omitempty"`
	Root    string `json:"root,omitempty"`
	EntryID string `json:"entry_id,omitempty"`
}

// ExecutionPlan is an ordered list of operations derived from validated
// migration entries. All mkdir operations for a destination precede any
// move into it; all moves out of a source directory precede its
// rmdir-if-empty.
type ExecutionPlan struct {
	Ops     []Operation      `json:"ops"`
	Entries []MigrationEntry `json:"entries"`
}

// OpStatus is the per-operation execution outcome.
type OpStatus string

const (
	OpStatusDone    OpStatus = "done"
	OpStatusSkipped OpStatus = "skipped"
	OpStatusFailed  OpStatus = "failed"
)

// OpResult records the outcome of one executed (or simulated) operation.
type OpResult struct {
	Op     Operation `json:"op"`
	Status OpStatus  `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// ExecutionReport accumulates counts and per-failure detail for one run.
type ExecutionReport struct {
	RunID      string     `json:"run_id"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Created    int        `json:"created"`
	Moved      int        `json:"moved"`
	Linked     int        `json:"linked"`
	Removed    int        `json:"removed"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Results    []OpResult `json:"results"`
	// Flagged lists entry IDs whose manifest rows were left unchanged
	// because one of the entry's file moves failed.
	Flagged []string `json:"flagged,omitempty"`
}

// ManifestEntry is one parsed (hash, path) pair of a checksum manifest.
type ManifestEntry struct {
	Hash string `json:"hash"`
	Path string `json:"path"`
	// Line is the zero-based position of the entry in the manifest file.
	Line int `json:"line"`
}

// AuditOutcome is the metadata-level comparison result for one leaf
// directory against one counterpart root.
type AuditOutcome string

const (
	AuditNotExist          AuditOutcome = "not_exist"
	AuditIdenticalMetadata AuditOutcome = "identical_metadata"
	AuditDifferentMetadata AuditOutcome = "different_metadata"
)

// ContentVerdict refines AuditDifferentMetadata after a full content
// comparison. Empty when no content comparison was performed.
type ContentVerdict string

const (
	ContentIdentical ContentVerdict = "content_identical"
	ContentDiffers   ContentVerdict = "content_differs"
)

// PathPair is one matched source→destination file pair, included as an
// inspection sample in audit rows.
type PathPair struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// CounterpartResult is the comparison outcome for one counterpart root.
type CounterpartResult struct {
	Root    string         `json:"root"`
	Outcome AuditOutcome   `json:"outcome"`
	Content ContentVerdict `json:"content,omitempty"`
	Sample  []PathPair     `json:"sample,omitempty"`
}

// AuditRow describes one leaf directory and its comparison against every
// counterpart root. Every row is attributable to a specific leaf
// directory and a specific comparison outcome.
type AuditRow struct {
	LeafDir       string              `json:"leaf_dir"`
	FileCount     int                 `json:"file_count"`
	TotalSize     int64               `json:"total_size"`
	Extensions    []string            `json:"extensions"`
	FirstObserved time.Time           `json:"first_observed"`
	Placeholders  []string            `json:"placeholders,omitempty"`
	Counterparts  []CounterpartResult `json:"counterparts"`
}
