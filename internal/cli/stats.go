package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/cleanup"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/syncqueue"
)

// StatsResult is the stats command's payload.
type StatsResult struct {
	Library   cleanup.Stats   `json:"library"`
	Queue     syncqueue.Stats `json:"queue"`
	Conflicts int             `json:"conflicts"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record and sync queue counts",
		Long: `Show how many songs, arrangements and setlists are stored, how many
are exempt from eviction or reference missing items, and the state of the
outbox of changes waiting to sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	lib, err := s.eng.Cleaner().Stats(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to read library stats", err)
	}
	queue, err := s.eng.QueueStats(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to read queue stats", err)
	}
	conflicts, err := s.eng.PendingConflicts(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to read conflicts", err)
	}

	res := StatsResult{Library: lib, Queue: queue, Conflicts: len(conflicts)}
	return s.out.Success(res, formatStats(res))
}

func formatStats(res StatsResult) string {
	var b strings.Builder

	rows := [][]string{}
	for _, c := range []ir.Collection{ir.CollectionSongs, ir.CollectionArrangements, ir.CollectionSetlists} {
		rows = append(rows, []string{string(c), strconv.Itoa(res.Library.Records[c])})
	}
	b.WriteString(renderTable([]string{"Collection", "Records"}, rows, []columnAlignment{alignLeft, alignRight}))
	b.WriteString("\n")

	b.WriteString(renderPairs([][2]string{
		{"Exempt (favorite or pinned)", strconv.Itoa(res.Library.Exempt)},
		{"Evictable", strconv.Itoa(res.Library.Evictable)},
		{"Stale", strconv.Itoa(res.Library.Stale)},
		{"Orphans", strconv.Itoa(res.Library.Orphans)},
		{"Dangling references", strconv.Itoa(res.Library.Dangling)},
		{"Pending conflicts", strconv.Itoa(res.Conflicts)},
	}))
	b.WriteString("\n")

	queueRows := [][]string{}
	for _, status := range slices.Sorted(maps.Keys(res.Queue.ByStatus)) {
		queueRows = append(queueRows, []string{status, strconv.Itoa(res.Queue.ByStatus[status])})
	}
	queueRows = append(queueRows, []string{"dead letters", strconv.Itoa(res.Queue.DeadLetters)})
	b.WriteString(renderTable([]string{"Queue status", "Items"}, queueRows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintf(&b, "\nQueue total: %d", res.Queue.Total)
	return b.String()
}
