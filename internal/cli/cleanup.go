package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/cleanup"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/quota"
)

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	*RootOptions
	Emergency bool
	Level     string
}

// CleanupResult is the cleanup command's payload.
type CleanupResult struct {
	Mode   string         `json:"mode"`
	Status string         `json:"status,omitempty"`
	Result cleanup.Result `json:"result"`
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reclaim storage",
		Long: `Run the cleanup policy for the current storage status: a healthy store
is left alone, a warning prunes stale sync items and repairs orphans, a
critical store also evicts records unused for the critical age.

Favorite and pinned records are never removed, and each collection keeps
its most recently used records.

Examples:
  setkeep cleanup
  setkeep cleanup --level critical
  setkeep cleanup --emergency`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Emergency, "emergency", false, "prune the queue and evict the least recently used records now")
	cmd.Flags().StringVar(&opts.Level, "level", "", "run the policy for this status instead of measuring (warning|critical)")

	return cmd
}

func parseLevel(level string) (quota.Status, error) {
	switch level {
	case "warning":
		return quota.Warning, nil
	case "critical":
		return quota.Critical, nil
	}
	return quota.Healthy, fmt.Errorf("unknown level %q: must be warning or critical", level)
}

func runCleanup(opts *CleanupOptions, cmd *cobra.Command) error {
	out := NewFormatter(cmd, opts.RootOptions)
	if opts.Emergency && opts.Level != "" {
		return out.Fail(ExitCommandError, ErrCodeGeneric, "--emergency and --level are mutually exclusive", nil)
	}
	var level quota.Status
	if opts.Level != "" {
		var err error
		if level, err = parseLevel(opts.Level); err != nil {
			return out.Fail(ExitCommandError, ErrCodeGeneric, "invalid level", err)
		}
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	res := CleanupResult{}
	switch {
	case opts.Emergency:
		res.Mode = "emergency"
		res.Result, err = s.eng.Cleaner().EmergencyCleanup(s.ctx)
	case opts.Level != "":
		res.Mode = "forced"
		res.Status = level.String()
		res.Result, err = s.eng.Cleaner().Run(s.ctx, level)
	default:
		var snap quota.Snapshot
		res.Mode = "auto"
		res.Result, snap, err = s.eng.RunCleanup(s.ctx)
		res.Status = snap.Status.String()
	}
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "cleanup failed", err)
	}
	if res.Result.Evicted == nil {
		res.Result.Evicted = map[ir.Collection]int{}
	}
	return s.out.Success(res, formatCleanup(res))
}

func formatCleanup(res CleanupResult) string {
	if res.Result.Skipped {
		return "Another cleanup is already running; nothing done."
	}
	if res.Mode == "auto" && res.Status == quota.Healthy.String() {
		return "Storage is healthy; nothing to clean up."
	}
	var b strings.Builder
	header := "Cleanup (" + res.Mode
	if res.Status != "" {
		header += ", " + res.Status
	}
	b.WriteString(header + ")\n")

	pairs := [][2]string{
		{"Sync items pruned", strconv.Itoa(res.Result.QueueItems)},
	}
	for _, c := range []ir.Collection{ir.CollectionSongs, ir.CollectionArrangements, ir.CollectionSetlists} {
		pairs = append(pairs, [2]string{"Evicted " + string(c), strconv.Itoa(res.Result.Evicted[c])})
	}
	pairs = append(pairs,
		[2]string{"Orphans removed", strconv.Itoa(res.Result.Orphans)},
		[2]string{"References repaired", strconv.Itoa(res.Result.Repaired)},
		[2]string{"Duration", res.Result.Duration.String()},
	)
	b.WriteString(renderPairs(pairs))
	return b.String()
}
