// Package reporting renders run results for people: a console table, a
// plain text summary and a static HTML page.
package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// maxErrorWidth bounds the error column of the console table.
const maxErrorWidth = 80

// TableFormatter renders a run as a console table.
type TableFormatter struct {
	out   io.Writer
	color bool
}

// NewTableFormatter creates a formatter writing to out. Without color the
// table uses plain box drawing, suitable for log files.
func NewTableFormatter(out io.Writer, color bool) *TableFormatter {
	return &TableFormatter{out: out, color: color}
}

// Format writes the table for run.
func (f *TableFormatter) Format(run *types.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Conformance Results (%s)", FormatDuration(run.Duration)))

	t.AppendHeader(table.Row{"Suite", "Case", "Duration", "Attempts", "Status", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", AutoMerge: true},
		{Name: "Case", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Error", WidthMax: maxErrorWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range run.Results {
		errText := ""
		if res.Error != nil {
			errText = CleanDiagnostic(res.Error.Error())
		} else if res.Status == types.TestStatusSkip {
			errText = res.Case.Skip
		}
		t.AppendRow(table.Row{
			res.Case.Suite,
			res.Case.Name,
			FormatDuration(res.Duration),
			res.Attempts,
			statusString(res.Status),
			errText,
		})
	}

	if f.color {
		switch run.Status {
		case types.TestStatusPass:
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		case types.TestStatusSkip:
			t.SetStyle(table.StyleColoredBlackOnYellowWhite)
		default:
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		}
	} else {
		t.SetStyle(table.StyleLight)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d cases", run.Stats.Total),
		FormatDuration(run.Duration),
		"",
		statusString(run.Status),
		"",
	})
	t.Render()
}

// Summary returns a one-paragraph summary of run.
func Summary(run *types.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", run.RunID, statusString(run.Status))
	fmt.Fprintf(&b, "Total: %d, Passed: %d, Failed: %d, Errored: %d, Skipped: %d\n",
		run.Stats.Total, run.Stats.Passed, run.Stats.Failed, run.Stats.Errored, run.Stats.Skipped)
	fmt.Fprintf(&b, "Duration: %s\n", FormatDuration(run.Duration))
	failed := run.Failed()
	if len(failed) > 0 {
		b.WriteString("\nCases that did not pass:\n")
		for _, res := range failed {
			fmt.Fprintf(&b, "  %s\n", CleanDiagnostic(res.String()))
		}
	}
	return b.String()
}

// CleanDiagnostic removes ANSI escape sequences and trailing whitespace
// from captured tool output.
func CleanDiagnostic(s string) string {
	return strings.TrimRight(stripansi.Strip(s), " \t\r\n")
}

// FormatDuration formats a duration to seconds with 1 decimal place
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func statusString(status types.TestStatus) string {
	return strings.ToUpper(string(status))
}
