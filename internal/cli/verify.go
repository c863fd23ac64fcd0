package cli

import (
	"github.com/spf13/cobra"
)

// VerifyResult is the verify command's payload.
type VerifyResult struct {
	OK             bool     `json:"ok"`
	ClaimedVersion int      `json:"claimed_version"`
	MissingSteps   []int    `json:"missing_steps,omitempty"`
	MissingStores  []string `json:"missing_stores,omitempty"`
	MissingIndexes []string `json:"missing_indexes,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the store's structure against its schema version",
		Long: `Check that every object store and index the recorded schema version
requires is present. Exits 1 when anything is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	drift, err := s.eng.VerifySchema(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to verify schema", err)
	}
	res := VerifyResult{
		OK:             drift.OK(),
		ClaimedVersion: drift.ClaimedVersion,
		MissingSteps:   drift.MissingSteps,
		MissingStores:  drift.MissingStores,
		MissingIndexes: drift.MissingIndexes,
	}
	if !res.OK {
		_ = s.out.Error(ErrCodeSchemaDrift, drift.String(), res)
		return NewExitError(ExitFailure, ErrCodeSchemaDrift+": "+drift.String())
	}
	return s.out.Success(res, "✓ "+drift.String())
}
