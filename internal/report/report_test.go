package report

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parcel-linkage/internal/orchestrator"
	"github.com/parcel-linkage/internal/pipeline"
	"github.com/parcel-linkage/internal/store"
)

func sampleResult() *orchestrator.Result {
	return &orchestrator.Result{
		RunID:   "5f0c",
		Batches: 1,
		Municipalities: []orchestrator.Outcome{
			{
				Status: orchestrator.Status{Name: "Torrington", State: orchestrator.Done, Rows: 12500},
				Stats: &pipeline.Stats{
					Write:          store.WriteReport{Inserted: 12000, Updated: 300, Merged: 2, Errors: []error{errors.New("update 141/5/72: boom")}},
					GeocodeFailed:  1,
					SpatialFailed:  3,
					GeocodeSamples: []string{"99 Nowhere Rd: geocode failed for this run"},
					Flagged:        4,
					Ambiguous:      7,
					Expected:       12302,
					Counted:        12300,
					Shortfall:      2,
				},
			},
			{Status: orchestrator.Status{Name: "Goshen", State: orchestrator.Skipped, Reason: "load: input missing: goshen.csv"}},
			{Status: orchestrator.Status{Name: "Canaan", State: orchestrator.Done, Rows: 900}, Resumed: true},
			{Status: orchestrator.Status{Name: "Kent", State: orchestrator.Pending}},
		},
		Stopped:    true,
		StopReason: "stopped by operator",
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(sampleResult())
	assert.Equal(t, 2, got.Done)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, 1, got.Pending)
	assert.Equal(t, 13400, got.Rows)
	assert.Equal(t, 12000, got.Inserted)
	assert.Equal(t, 302, got.Updated)
	assert.Equal(t, 1, got.WriteErrors)
	assert.Equal(t, 1, got.Shortfalls)
	assert.Equal(t, 3, got.SpatialFailed)
}

func TestRender(t *testing.T) {
	var b strings.Builder
	Render(&b, sampleResult())
	out := b.String()

	assert.Contains(t, out, "12,500")
	assert.Contains(t, out, "SPATIAL FAILED")
	assert.Contains(t, out, "from checkpoint")
	assert.Contains(t, out, "Run halted: stopped by operator. 1 municipalities pending")
	assert.Contains(t, out, "SKIPPED Goshen: load: input missing: goshen.csv")
	assert.Contains(t, out, "SHORTFALL Torrington: expected 12,302, counted 12,300")
	assert.Contains(t, out, "GEOCODE Torrington: 99 Nowhere Rd")
	assert.Contains(t, out, "WRITE Torrington: update 141/5/72: boom")
}
