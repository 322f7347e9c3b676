// Package cli implements the arcmig command-line interface.
// Built with cobra under the site's operational rules:
// - No background daemon
// - Mutations happen only through an explicit plan
// - Every mutating run is journaled and undoable
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	configPath string
	dryRun     bool
)

// rootCmd is the base command for arcmig.
var rootCmd = &cobra.Command{
	Use:   "arcmig",
	Short: "Archival file-tree reconciliation and migration",
	Long: `arcmig reconciles digitized archive holdings across storage roots.

It provides:
  • Signature normalization (shelf marks to filesystem paths)
  • Plan/apply migration from re-signature sheets, with dry-run
  • Two-tier tree audits (metadata first, checksums on disagreement)
  • Checksum manifest maintenance with byte-preserving rewrites
  • Journaled runs (SQLite, optional SQLCipher encryption) and undo

Mutating commands take an exclusive lock; everything else is read-only.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the arcmig config file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without doing it")

	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(sequenceCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <signature>...",
	Short: "Normalize archival signatures to filesystem paths",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunNormalize(args)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <mapping.csv>",
	Short: "Validate a re-signature sheet and show the migration plan",
	Long: `Validate every row of a re-signature sheet against the configured
storage roots and print the resulting plan.

plan never mutates anything. Rejected rows are listed with a reason;
use --rejects to write them to a CSV for the archivists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rejectsPath, _ := cmd.Flags().GetString("rejects")
		return RunPlan(args[0], rejectsPath)
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <mapping.csv>",
	Short: "Execute the migration plan for a re-signature sheet",
	Long: `Plan and execute a re-signature sheet.

The run takes the exclusive lock, records every operation in the
journal and rewrites the checksum manifest for entries whose file
moves all succeeded. Combine with --dry-run for a full simulation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunApply(args[0])
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare the primary root against its counterparts",
	Long: `Audit every leaf directory of the primary root against the other
data roots: metadata first, content hashes only on disagreement.

Audits are READ-ONLY and take no lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return RunAudit(output)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Build a checksum index of a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duplicates, _ := cmd.Flags().GetBool("duplicates")
		return RunIndex(args[0], duplicates)
	},
}

// Manifest subcommands
var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Checksum manifest commands",
}

var manifestFindCmd = &cobra.Command{
	Use:   "find <path-or-hash>",
	Short: "Look up manifest rows by path prefix or digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunManifestFind(args[0])
	},
}

var manifestVerifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Hash a tree and compare it against the manifest",
	Long: `Re-hash every file under dir and compare against the manifest.

Reports rows whose file is missing, files the manifest does not know,
and digest mismatches. Read-only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunManifestVerify(args[0])
	},
}

var manifestRewriteCmd = &cobra.Command{
	Use:   "rewrite <old-path> <new-path>",
	Short: "Rewrite manifest paths, preserving digests and line positions",
	Long: `Rewrite every manifest row matching old-path to new-path. A trailing
slash on old-path rewrites the whole prefix. Digest bytes and line
positions are preserved; a backup of the manifest is written first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunManifestRewrite(args[0], args[1])
	},
}

var manifestRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a manifest row by exact path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunManifestRemove(args[0])
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <dir>",
	Short: "Rename files back to their manifest names by content hash",
	Long: `Match every file under dir against the manifest by content hash and
rename it in place to the manifest basename.

Ambiguity is surfaced, never guessed: a hash with several candidates
restores nothing. The manifest itself is not modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath, _ := cmd.Flags().GetString("manifest")
		return RunRestore(args[0], manifestPath)
	},
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence <dir>",
	Short: "Rename directories and digitized pages to the archival convention",
	Long: `Sanitize non-conforming directory names under dir, then rename the
scan files in every directory to
<grandparent>_<parent>_nr_<dir>_NNNN.<ext>, numbered in natural order.

The run is journaled like any migration and can be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSequence(args[0])
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo <run-id>",
	Short: "Reverse a journaled run",
	Long: `Build the inverse of a recorded run and execute it: moves are
reversed newest-first, removed symlinks are recreated from their
recorded targets, manifest rewrites are swapped back.

Only live runs can be undone. Combine with --dry-run to preview.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunUndo(args[0])
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return RunRuns(limit)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the arcmig version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunVersion()
	},
}

func init() {
	planCmd.Flags().String("rejects", "", "Write rejected rows to this CSV file")
	auditCmd.Flags().StringP("output", "o", "", "Write the audit CSV to this file (default: stdout)")
	indexCmd.Flags().Bool("duplicates", false, "List duplicate content groups")
	restoreCmd.Flags().String("manifest", "", "Manifest file to match against (default: configured manifest)")
	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")

	manifestCmd.AddCommand(manifestFindCmd)
	manifestCmd.AddCommand(manifestVerifyCmd)
	manifestCmd.AddCommand(manifestRewriteCmd)
	manifestCmd.AddCommand(manifestRemoveCmd)
}
