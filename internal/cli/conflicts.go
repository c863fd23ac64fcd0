package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/conflict"
	"github.com/roach88/setkeep/internal/engine"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/quota"
)

// ResolveOptions holds flags for conflicts resolve.
type ResolveOptions struct {
	*RootOptions
	Keep string
}

// NewConflictsCommand creates the conflicts command and its subcommands.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List or resolve conflicts waiting for a manual choice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsList(rootOpts, cmd)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(newResolveCommand(rootOpts))
	return cmd
}

func newResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "resolve <collection> <id>",
		Short: "Keep one side of a pending conflict",
		Long: `Resolve a pending conflict by keeping the local or the remote version.
The kept version is saved as a new local change and queued for sync.

Example:
  setkeep conflicts resolve setlists 0190a1b2-... --keep remote`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, cmd, ir.Collection(args[0]), args[1])
		},
	}
	cmd.Flags().StringVar(&opts.Keep, "keep", "", "side to keep (local|remote)")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func runConflictsList(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	pending, err := s.eng.PendingConflicts(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to read conflicts", err)
	}
	if pending == nil {
		pending = []ir.PendingConflict{}
	}
	return s.out.Success(pending, formatConflicts(pending))
}

func formatConflicts(pending []ir.PendingConflict) string {
	if len(pending) == 0 {
		return "No pending conflicts."
	}
	rows := make([][]string, 0, len(pending))
	for _, p := range pending {
		rows = append(rows, []string{
			p.DetectedAt.Format(time.RFC3339),
			string(p.Collection),
			p.EntityID,
			strconv.FormatInt(p.Local.Version, 10) + " by " + p.Local.ModifiedBy,
			strconv.FormatInt(p.Remote.Version, 10) + " by " + p.Remote.ModifiedBy,
		})
	}
	return renderTable([]string{"Detected", "Collection", "Entity", "Local", "Remote"}, rows, nil)
}

// ResolveResult is the conflicts resolve payload.
type ResolveResult struct {
	Kept   conflict.Winner `json:"kept"`
	Record ir.Record       `json:"record"`
}

func runResolve(opts *ResolveOptions, cmd *cobra.Command, c ir.Collection, id string) error {
	out := NewFormatter(cmd, opts.RootOptions)
	w := conflict.Winner(opts.Keep)
	if w != conflict.WinnerLocal && w != conflict.WinnerRemote {
		return out.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("--keep must be local or remote, got %q", opts.Keep), nil)
	}
	if _, err := library.Lookup(c); err != nil {
		return out.Fail(ExitCommandError, ErrCodeNotFound, "unknown collection", err)
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	rec, err := s.eng.ResolvePending(s.ctx, c, id, w)
	switch {
	case engine.IsNoPendingConflict(err):
		return s.out.Fail(ExitFailure, ErrCodeNoConflict, fmt.Sprintf("no pending conflict for %s/%s", c, id), err)
	case quota.IsQuotaExceeded(err):
		return s.out.Fail(ExitFailure, ErrCodeQuotaExceeded, "storage is full", err)
	case err != nil:
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to resolve conflict", err)
	}
	return s.out.Success(ResolveResult{Kept: w, Record: rec},
		fmt.Sprintf("Kept %s version of %s/%s; saved as version %d.", w, c, id, rec.Version))
}
