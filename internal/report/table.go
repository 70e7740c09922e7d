package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/farmsim/pkg/simulation"
)

// WriteResultsTable prints one row per repetition
func WriteResultsTable(w io.Writer, results []*simulation.Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rep", "CPUs", "Jobs", "Units", "Cycles", "Drained", "Mean Util", "Left")

	for _, r := range results {
		drained := "yes"
		if !r.Drained {
			drained = "no (cap)"
		}
		if err := table.Append(
			strconv.Itoa(r.Repetition),
			strconv.Itoa(r.CPUCapacity),
			strconv.Itoa(r.JobCount),
			strconv.Itoa(r.TotalUnitsAtStart),
			strconv.Itoa(r.LastActiveCycle),
			drained,
			fmt.Sprintf("%.1f%%", r.MeanUtilization()),
			strconv.Itoa(r.RemainingJobs),
		); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}

// WriteSummaryTable prints the batch summary as property/value rows
func WriteSummaryTable(w io.Writer, s simulation.Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	rows := [][]string{
		{"Repetitions", strconv.Itoa(s.Repetitions)},
		{"Drained", fmt.Sprintf("%d/%d", s.Drained, s.Repetitions)},
		{"Cycles (min)", strconv.Itoa(s.MinCycles)},
		{"Cycles (median)", formatEstimate(s.Cycles, "")},
		{"Cycles (max)", strconv.Itoa(s.MaxCycles)},
		{"Mean Utilization", fmt.Sprintf("%.1f%%", s.MeanUtilization)},
		{"Median Utilization", formatEstimate(s.Utilization, "%")},
		{"Peak Utilization", fmt.Sprintf("%.1f%%", s.PeakUtilization)},
		{"Total Units", strconv.Itoa(s.TotalUnits)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}

// formatEstimate renders a median with its interval, e.g. "14.0 [13.0, 15.0] @95%"
func formatEstimate(e simulation.Estimate, unit string) string {
	if !e.Bounded {
		return fmt.Sprintf("%.1f%s (range %.1f-%.1f, too few repetitions for CI)", e.Center, unit, e.Lo, e.Hi)
	}
	return fmt.Sprintf("%.1f%s [%.1f, %.1f] @%.0f%%", e.Center, unit, e.Lo, e.Hi, e.Confidence*100)
}
