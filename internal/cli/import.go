package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/repository"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DryRun bool
}

// ImportResult is the import command's payload.
type ImportResult struct {
	DryRun   bool                  `json:"dry_run"`
	Imported map[ir.Collection]int `json:"imported"`
	IDs      []string              `json:"ids"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import songs, arrangements and setlists from YAML or JSON",
		Long: `Import a library file. Each collection is saved in one transaction:
if any record of a collection is rejected, none of that collection is
written. Songs are saved before arrangements, arrangements before setlists.

Imported records are local changes and are queued for sync.

Examples:
  setkeep import library.yaml
  setkeep import --dry-run library.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate the file without saving")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command, path string) error {
	out := NewFormatter(cmd, opts.RootOptions)

	validator, err := library.NewValidator()
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeGeneric, "failed to compile schemas", err)
	}
	recs, loadErrs := LoadLibrary(path, validator, LoadModeCollectAll)
	if len(loadErrs) > 0 {
		messages := make([]string, len(loadErrs))
		for i, e := range loadErrs {
			messages[i] = e.Error()
		}
		_ = out.Error(ErrCodeInvalidRecord, fmt.Sprintf("%d problem(s) in %s", len(loadErrs), path), messages)
		if out.Format != "json" {
			for _, m := range messages {
				fmt.Fprintf(out.Writer, "  %s\n", m)
			}
		}
		return WrapExitError(ExitFailure, ErrCodeInvalidRecord+": invalid library file", errors.Join(loadErrs...))
	}

	res := ImportResult{DryRun: opts.DryRun, Imported: map[ir.Collection]int{}, IDs: []string{}}
	if opts.DryRun {
		for _, r := range recs {
			res.Imported[r.Collection]++
		}
		return out.Success(res, formatImport(res))
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	for _, batch := range byCollection(recs) {
		saved, err := s.eng.Repository().BulkSave(s.ctx, batch)
		if err != nil {
			c := batch[0].Collection
			var be *repository.BulkError
			switch {
			case quota.IsQuotaExceeded(err):
				return s.out.Fail(ExitFailure, ErrCodeQuotaExceeded, fmt.Sprintf("storage is full; %s not imported", c), err)
			case errors.As(err, &be):
				return s.out.Fail(ExitFailure, ErrCodeInvalidRecord, fmt.Sprintf("%d of %d %s rejected", be.Failed, be.Total, c), err)
			}
			return s.out.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to import %s", c), err)
		}
		for _, r := range saved {
			res.Imported[r.Collection]++
			res.IDs = append(res.IDs, r.ID)
		}
	}
	return s.out.Success(res, formatImport(res))
}

// byCollection splits recs into per-collection batches, keeping order.
func byCollection(recs []ir.Record) [][]ir.Record {
	var batches [][]ir.Record
	for _, r := range recs {
		n := len(batches)
		if n > 0 && batches[n-1][0].Collection == r.Collection {
			batches[n-1] = append(batches[n-1], r)
			continue
		}
		batches = append(batches, []ir.Record{r})
	}
	return batches
}

func formatImport(res ImportResult) string {
	var b strings.Builder
	if res.DryRun {
		b.WriteString("Dry run: file is valid, nothing saved.\n")
	}
	rows := [][]string{}
	for _, c := range []ir.Collection{ir.CollectionSongs, ir.CollectionArrangements, ir.CollectionSetlists} {
		rows = append(rows, []string{string(c), strconv.Itoa(res.Imported[c])})
	}
	b.WriteString(renderTable([]string{"Collection", "Records"}, rows, []columnAlignment{alignLeft, alignRight}))
	return b.String()
}
