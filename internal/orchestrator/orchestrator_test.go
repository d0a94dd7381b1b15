package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcel-linkage/internal/control"
	"github.com/parcel-linkage/internal/parcel"
	"github.com/parcel-linkage/internal/pipeline"
	"github.com/parcel-linkage/internal/source"
)

type fakeStages struct {
	mu        sync.Mutex
	loaded    []string
	loadErr   map[string]error
	matchErr  map[string]error
	shortfall map[string]int
}

func (f *fakeStages) Load(_ context.Context, mu source.Municipality) (*pipeline.Job, error) {
	f.mu.Lock()
	f.loaded = append(f.loaded, mu.Name)
	f.mu.Unlock()
	if err := f.loadErr[mu.Name]; err != nil {
		return nil, err
	}
	return &pipeline.Job{Municipality: mu, Raw: make([]parcel.RawRecord, 3)}, nil
}

func (f *fakeStages) Geocode(context.Context, *pipeline.Job) error { return nil }

func (f *fakeStages) Match(_ context.Context, job *pipeline.Job) error {
	return f.matchErr[job.Name()]
}

func (f *fakeStages) Write(_ context.Context, job *pipeline.Job) error {
	job.Stats.Write.Inserted = len(job.Raw)
	return nil
}

func (f *fakeStages) Verify(_ context.Context, job *pipeline.Job) error {
	if n := f.shortfall[job.Name()]; n > 0 {
		job.Stats.Expected, job.Stats.Counted, job.Stats.Shortfall = 3, 3-n, n
	}
	return nil
}

type scriptedGate struct {
	decisions []control.Decision
	err       error
	seen      []control.Summary
}

func (g *scriptedGate) Await(_ context.Context, s control.Summary) (control.Decision, error) {
	g.seen = append(g.seen, s)
	if g.err != nil {
		return "", g.err
	}
	d := control.Continue
	if len(g.decisions) > 0 {
		d, g.decisions = g.decisions[0], g.decisions[1:]
	}
	return d, nil
}

func towns(names ...string) []source.Municipality {
	out := make([]source.Municipality, len(names))
	for i, n := range names {
		out[i] = source.Municipality{Name: n}
	}
	return out
}

func newOrchestrator(stages Stages, gate control.Gate, path string, batch int) *Orchestrator {
	return New(stages, gate, Options{BatchSize: batch, CheckpointPath: path, Logger: zerolog.Nop()})
}

func TestRunCompletesAndDiscardsCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	stages := &fakeStages{
		loadErr:   map[string]error{"Goshen": fmt.Errorf("read: %w", source.ErrInputMissing), "Canaan": source.ErrUnreadableInput},
		matchErr:  map[string]error{},
		shortfall: map[string]int{"Kent": 1},
	}
	gate := &scriptedGate{}

	res, err := newOrchestrator(stages, gate, path, 2).Run(context.Background(), towns("Torrington", "Goshen", "Canaan", "Kent", "Sharon"))
	require.NoError(t, err)

	assert.False(t, res.Stopped)
	assert.Equal(t, 3, res.Batches)
	assert.Len(t, gate.seen, 2, "no gate after the last batch")
	assert.Equal(t, 3, gate.seen[0].Remaining)

	states := map[string]State{}
	for _, m := range res.Municipalities {
		states[m.Name] = m.State
	}
	assert.Equal(t, map[string]State{"Torrington": Done, "Goshen": Skipped, "Canaan": Failed, "Kent": Done, "Sharon": Done}, states)
	assert.Contains(t, res.Municipalities[3].Reason, "shortfall")
	assert.Equal(t, 3, res.Municipalities[0].Stats.Write.Inserted)
	assert.NoFileExists(t, path)
}

func TestStopKeepsCheckpointAndResumeSkipsDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	munis := towns("Torrington", "Goshen", "Canaan")

	first := &fakeStages{}
	res, err := newOrchestrator(first, &scriptedGate{decisions: []control.Decision{control.Stop}}, path, 1).
		Run(context.Background(), munis)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, []string{"Torrington"}, first.loaded)
	require.FileExists(t, path)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, cp.RunID)
	assert.Equal(t, Done, cp.Municipalities[0].State)
	assert.Equal(t, Pending, cp.Municipalities[1].State)

	second := &fakeStages{}
	res2, err := newOrchestrator(second, &scriptedGate{}, path, 1).Run(context.Background(), munis)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, res2.RunID)
	assert.Equal(t, []string{"Goshen", "Canaan"}, second.loaded)
	assert.True(t, res2.Municipalities[0].Resumed)
	assert.NoFileExists(t, path)
}

func TestFreshIgnoresCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp := &Checkpoint{RunID: "old", Municipalities: []Status{{Name: "Torrington", State: Done}}}
	require.NoError(t, cp.Save(path, time.Now()))

	stages := &fakeStages{}
	o := New(stages, control.AutoGate{}, Options{CheckpointPath: path, Fresh: true, Logger: zerolog.Nop()})
	res, err := o.Run(context.Background(), towns("Torrington"))
	require.NoError(t, err)
	assert.NotEqual(t, "old", res.RunID)
	assert.Equal(t, []string{"Torrington"}, stages.loaded)
}

func TestGateTimeoutHaltsRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	stages := &fakeStages{}
	res, err := newOrchestrator(stages, &scriptedGate{err: control.ErrApprovalTimeout}, path, 1).
		Run(context.Background(), towns("Torrington", "Goshen"))
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "approval timed out", res.StopReason)
	assert.FileExists(t, path)
}

func TestCancelledRunReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stages := &fakeStages{matchErr: map[string]error{"Torrington": context.Canceled}}
	_, err := newOrchestrator(stages, control.AutoGate{}, "", 1).Run(ctx, towns("Torrington"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadCheckpointMissing(t *testing.T) {
	cp, err := LoadCheckpoint(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, cp)
}
