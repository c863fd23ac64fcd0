package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RetryResult is the retry command's payload.
type RetryResult struct {
	Requeued int `json:"requeued"`
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed sync operations",
		Long: `Move failed sync operations that are still under the retry ceiling back
to pending, resetting their retry counters. Dead letters are left in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(rootOpts, cmd)
		},
	}
}

func runRetry(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	n, err := s.eng.RetryFailed(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to requeue items", err)
	}
	return s.out.Success(RetryResult{Requeued: n}, fmt.Sprintf("Requeued %d failed item(s).", n))
}
