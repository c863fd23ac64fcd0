package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/quota"
)

// ReportResult is the report command's payload.
type ReportResult struct {
	Usage             int64                  `json:"usage"`
	Capacity          int64                  `json:"capacity"`
	Available         int64                  `json:"available"`
	Percentage        float64                `json:"percentage"`
	Status            string                 `json:"status"`
	Supported         bool                   `json:"supported"`
	Persisted         bool                   `json:"persisted"`
	WarningThreshold  float64                `json:"warning_threshold"`
	CriticalThreshold float64                `json:"critical_threshold"`
	Recommendations   []quota.Recommendation `json:"recommendations"`
}

func newReportResult(rep quota.Report) ReportResult {
	recs := rep.Recommendations
	if recs == nil {
		recs = []quota.Recommendation{}
	}
	return ReportResult{
		Usage:             rep.Snapshot.Usage,
		Capacity:          rep.Snapshot.Capacity,
		Available:         rep.Snapshot.Available(),
		Percentage:        rep.Snapshot.Percentage,
		Status:            rep.Snapshot.Status.String(),
		Supported:         rep.Snapshot.Supported,
		Persisted:         rep.Persisted,
		WarningThreshold:  rep.Thresholds.Warning,
		CriticalThreshold: rep.Thresholds.Critical,
		Recommendations:   recs,
	}
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show storage usage and cleanup recommendations",
		Long: `Measure storage usage against capacity and list prioritized
recommendations. The report is advisory: nothing is deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(rootOpts, cmd)
		},
	}
}

func runReport(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	rep, err := s.eng.StorageReport(s.ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to build storage report", err)
	}
	res := newReportResult(rep)
	return s.out.Success(res, formatReport(res))
}

func formatReport(res ReportResult) string {
	var b strings.Builder
	usage := "unknown"
	if res.Supported {
		usage = fmt.Sprintf("%s of %s (%.1f%%)", humanBytes(res.Usage), humanBytes(res.Capacity), res.Percentage)
	}
	b.WriteString(renderPairs([][2]string{
		{"Usage", usage},
		{"Available", humanBytes(res.Available)},
		{"Status", res.Status},
		{"Thresholds", fmt.Sprintf("warn %.0f%% / critical %.0f%%", res.WarningThreshold*100, res.CriticalThreshold*100)},
		{"Persistent", strconv.FormatBool(res.Persisted)},
	}))
	b.WriteString("\n")

	if len(res.Recommendations) == 0 {
		b.WriteString("No recommendations.")
		return b.String()
	}
	rows := make([][]string, 0, len(res.Recommendations))
	for _, r := range res.Recommendations {
		rows = append(rows, []string{r.Level, r.Action, r.Message})
	}
	b.WriteString(renderTable([]string{"Priority", "Action", "Recommendation"}, rows, nil))
	return b.String()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
