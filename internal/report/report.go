// Package report renders the end-of-run summary for operators.
package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"

	"github.com/parcel-linkage/internal/orchestrator"
)

const reasonWidth = 48

// Totals aggregates a run across municipalities
type Totals struct {
	Done, Skipped, Failed, Pending int

	Rows          int
	Inserted      int
	Updated       int
	Unchanged     int
	WriteSkipped  int
	WriteErrors   int
	GeocodeFailed int
	SpatialFailed int
	OverThreshold int
	LowConfidence int
	Shortfalls    int
}

// Summarize computes the run totals
func Summarize(res *orchestrator.Result) Totals {
	var t Totals
	for _, m := range res.Municipalities {
		switch m.State {
		case orchestrator.Done:
			t.Done++
		case orchestrator.Skipped:
			t.Skipped++
		case orchestrator.Failed:
			t.Failed++
		default:
			t.Pending++
		}
		t.Rows += m.Rows
		if s := m.Stats; s != nil {
			t.Inserted += s.Write.Inserted
			t.Updated += s.Write.Updated + s.Write.Merged
			t.Unchanged += s.Write.Unchanged
			t.WriteSkipped += s.Write.Skipped
			t.WriteErrors += len(s.Write.Errors)
			t.GeocodeFailed += s.GeocodeFailed
			t.SpatialFailed += s.SpatialFailed
			t.OverThreshold += s.Flagged
			t.LowConfidence += s.Ambiguous
			if s.Shortfall > 0 {
				t.Shortfalls++
			}
		}
	}
	return t
}

// Render writes the municipality table, the totals and every problem an
// operator may want to re-run
func Render(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "Run %s\n", res.RunID)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Municipality", "State", "Rows", "Inserted", "Updated", "Unchanged", "Geocode failed", "Spatial failed", "Over threshold", "Low confidence", "Note"})
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	for _, m := range res.Municipalities {
		row := []string{m.Name, string(m.State), count(m.Rows), "", "", "", "", "", "", "", note(m)}
		if s := m.Stats; s != nil {
			row[3] = count(s.Write.Inserted)
			row[4] = count(s.Write.Updated + s.Write.Merged)
			row[5] = count(s.Write.Unchanged)
			row[6] = count(s.GeocodeFailed)
			row[7] = count(s.SpatialFailed)
			row[8] = count(s.Flagged)
			row[9] = count(s.Ambiguous)
		}
		table.Append(row)
	}

	t := Summarize(res)
	table.SetFooter([]string{
		"Total", fmt.Sprintf("%d done", t.Done), count(t.Rows), count(t.Inserted), count(t.Updated),
		count(t.Unchanged), count(t.GeocodeFailed), count(t.SpatialFailed), count(t.OverThreshold), count(t.LowConfidence), "",
	})
	table.Render()

	if res.Stopped {
		fmt.Fprintf(w, "\nRun halted: %s. %d municipalities pending; re-run to resume.\n", res.StopReason, t.Pending)
	}

	var problems []string
	for _, m := range res.Municipalities {
		switch {
		case m.State == orchestrator.Skipped || m.State == orchestrator.Failed:
			problems = append(problems, fmt.Sprintf("%s %s: %s", m.State, m.Name, m.Reason))
		case m.Stats != nil && m.Stats.Shortfall > 0:
			problems = append(problems, fmt.Sprintf("SHORTFALL %s: expected %s, counted %s",
				m.Name, humanize.Comma(int64(m.Stats.Expected)), humanize.Comma(int64(m.Stats.Counted))))
		}
		if m.Stats != nil {
			for _, f := range m.Stats.GeocodeSamples {
				problems = append(problems, fmt.Sprintf("GEOCODE %s: %s", m.Name, f))
			}
			for _, err := range m.Stats.Write.Errors {
				problems = append(problems, fmt.Sprintf("WRITE %s: %v", m.Name, err))
			}
		}
	}
	if len(problems) > 0 {
		fmt.Fprintln(w, "\nProblems:")
		for _, p := range problems {
			fmt.Fprintln(w, "  "+p)
		}
	}
}

func count(n int) string {
	if n == 0 {
		return "-"
	}
	return humanize.Comma(int64(n))
}

func note(m orchestrator.Outcome) string {
	if m.Resumed {
		return "from checkpoint"
	}
	return runewidth.Truncate(m.Reason, reasonWidth, "...")
}
