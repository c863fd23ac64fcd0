package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/ir"
)

// NewDeadLettersCommand creates the dead-letters command.
func NewDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List sync operations that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetters(rootOpts, cmd)
		},
	}
}

func runDeadLetters(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	dls, err := s.eng.DeadLetters(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to read dead letters", err)
	}
	if dls == nil {
		dls = []ir.DeadLetter{}
	}
	return s.out.Success(dls, formatDeadLetters(dls))
}

func formatDeadLetters(dls []ir.DeadLetter) string {
	if len(dls) == 0 {
		return "No dead letters."
	}
	rows := make([][]string, 0, len(dls))
	for _, dl := range dls {
		rows = append(rows, []string{
			dl.FailedAt.Format(time.RFC3339),
			string(dl.Item.Type),
			string(dl.Item.Operation),
			dl.Item.EntityID,
			strconv.Itoa(dl.Item.RetryCount),
			dl.Item.LastError,
		})
	}
	return renderTable(
		[]string{"Failed at", "Type", "Operation", "Entity", "Retries", "Last error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	) + fmt.Sprintf("\n%d dead letter(s)", len(dls))
}
