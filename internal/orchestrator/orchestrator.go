// Package orchestrator drives municipalities through the pipeline in batches,
// persisting a resumable checkpoint and consulting an approval gate between
// batches.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parcel-linkage/internal/control"
	"github.com/parcel-linkage/internal/metrics"
	"github.com/parcel-linkage/internal/pipeline"
	"github.com/parcel-linkage/internal/source"
)

// Stages runs one municipality's steps. *pipeline.Runner implements it.
type Stages interface {
	Load(ctx context.Context, mu source.Municipality) (*pipeline.Job, error)
	Geocode(ctx context.Context, job *pipeline.Job) error
	Match(ctx context.Context, job *pipeline.Job) error
	Write(ctx context.Context, job *pipeline.Job) error
	Verify(ctx context.Context, job *pipeline.Job) error
}

// Options configures an Orchestrator
type Options struct {
	BatchSize      int
	CheckpointPath string
	// Fresh ignores any existing checkpoint
	Fresh   bool
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Outcome is the final status of one municipality in this invocation
type Outcome struct {
	Status
	// Resumed marks a municipality already DONE in the checkpoint
	Resumed bool
	Stats   *pipeline.Stats
}

// Result summarizes a run
type Result struct {
	RunID          string
	Municipalities []Outcome
	Batches        int
	// Stopped is set when the gate stopped the run or timed out; the
	// checkpoint is kept for the next invocation
	Stopped    bool
	StopReason string
}

// Orchestrator owns the per-municipality state machine
type Orchestrator struct {
	stages Stages
	gate   control.Gate
	opt    Options
}

// New builds an orchestrator
func New(stages Stages, gate control.Gate, opt Options) *Orchestrator {
	if opt.BatchSize <= 0 {
		opt.BatchSize = 10
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Orchestrator{stages: stages, gate: gate, opt: opt}
}

// Run processes munis in fixed-size batches. Municipalities already DONE in
// the checkpoint are not processed again. Per-municipality failures are
// recorded and the run continues; only cancellation of ctx aborts it with an
// error. The checkpoint is discarded once every batch has been processed.
func (o *Orchestrator) Run(ctx context.Context, munis []source.Municipality) (*Result, error) {
	log := o.opt.Logger
	cp, err := o.checkpoint(munis)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("run_id", cp.RunID).Logger()

	res := &Result{RunID: cp.RunID, Municipalities: make([]Outcome, len(munis))}
	for i := range munis {
		res.Municipalities[i] = Outcome{Status: cp.Municipalities[i], Resumed: cp.Municipalities[i].State == Done}
	}
	res.Batches = (len(munis) + o.opt.BatchSize - 1) / o.opt.BatchSize

	for b := 0; b < res.Batches; b++ {
		start, end := b*o.opt.BatchSize, (b+1)*o.opt.BatchSize
		if end > len(munis) {
			end = len(munis)
		}

		worked := false
		for i := start; i < end; i++ {
			if cp.Municipalities[i].State == Done {
				log.Info().Str("municipality", munis[i].Name).Msg("already done, skipping")
				continue
			}
			worked = true
			stats, err := o.process(ctx, cp, i, munis[i])
			if err != nil {
				return res, err
			}
			res.Municipalities[i] = Outcome{Status: cp.Municipalities[i], Stats: stats}
		}

		if !worked || b == res.Batches-1 {
			continue
		}

		d, err := o.gate.Await(ctx, o.summary(cp, b, res.Batches, start, end, res))
		switch {
		case errors.Is(err, control.ErrApprovalTimeout):
			res.Stopped, res.StopReason = true, "approval timed out"
		case err != nil:
			return res, err
		case d == control.Stop:
			res.Stopped, res.StopReason = true, "stopped by operator"
		}
		if res.Stopped {
			log.Warn().Int("batch", b+1).Str("reason", res.StopReason).Msg("run halted, checkpoint kept")
			return res, o.save(cp)
		}
	}

	log.Info().Int("municipalities", len(munis)).Msg("run complete")
	if o.opt.CheckpointPath != "" {
		if err := Discard(o.opt.CheckpointPath); err != nil {
			return res, err
		}
	}
	return res, nil
}

// checkpoint resumes a saved run or starts a new one. Only DONE is carried
// over; every other municipality starts again from PENDING.
func (o *Orchestrator) checkpoint(munis []source.Municipality) (*Checkpoint, error) {
	var prev *Checkpoint
	if o.opt.CheckpointPath != "" && !o.opt.Fresh {
		var err error
		if prev, err = LoadCheckpoint(o.opt.CheckpointPath); err != nil {
			return nil, err
		}
	}

	now := o.opt.Now()
	cp := &Checkpoint{RunID: uuid.NewString(), Started: now}
	if prev != nil {
		cp.RunID, cp.Started = prev.RunID, prev.Started
		o.opt.Logger.Info().Str("run_id", prev.RunID).Msg("resuming from checkpoint")
	}
	for _, mu := range munis {
		st := Status{Name: mu.Name, State: Pending, Updated: now}
		if prev != nil {
			if old, ok := prev.status(mu.Name); ok && old.State == Done {
				st = old
			}
		}
		cp.Municipalities = append(cp.Municipalities, st)
	}
	return cp, o.save(cp)
}

// process runs the stages for one municipality, saving the checkpoint at
// every transition
func (o *Orchestrator) process(ctx context.Context, cp *Checkpoint, i int, mu source.Municipality) (*pipeline.Stats, error) {
	log := o.opt.Logger.With().Str("municipality", mu.Name).Logger()
	st := &cp.Municipalities[i]

	set := func(s State, reason string) error {
		st.State, st.Reason, st.Updated = s, reason, o.opt.Now()
		log.Debug().Str("state", string(s)).Msg("transition")
		if s.Terminal() {
			o.opt.Metrics.Municipality(string(s))
		}
		return o.save(cp)
	}
	fail := func(stage string, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		state := Failed
		if errors.Is(err, source.ErrInputMissing) || errors.Is(err, pipeline.ErrNoUsableRows) {
			state = Skipped
		}
		log.Error().Err(err).Str("stage", stage).Str("state", string(state)).Msg("municipality not completed")
		return set(state, fmt.Sprintf("%s: %v", stage, err))
	}

	if err := set(Loading, ""); err != nil {
		return nil, err
	}
	job, err := o.stages.Load(ctx, mu)
	if err != nil {
		return nil, fail("load", err)
	}
	st.Rows = len(job.Raw)

	steps := []struct {
		state State
		name  string
		run   func(context.Context, *pipeline.Job) error
	}{
		{Geocoding, "geocode", o.stages.Geocode},
		{Matching, "match", o.stages.Match},
		{Writing, "write", o.stages.Write},
	}
	for _, step := range steps {
		if err := set(step.state, ""); err != nil {
			return &job.Stats, err
		}
		if err := step.run(ctx, job); err != nil {
			return &job.Stats, fail(step.name, err)
		}
	}

	if err := o.stages.Verify(ctx, job); err != nil {
		return &job.Stats, fail("verify", err)
	}
	reason := ""
	if job.Stats.Shortfall > 0 {
		reason = fmt.Sprintf("verification shortfall: expected %d, counted %d", job.Stats.Expected, job.Stats.Counted)
	}
	if err := set(Verified, reason); err != nil {
		return &job.Stats, err
	}
	log.Info().
		Int("rows", st.Rows).
		Int("inserted", job.Stats.Write.Inserted).
		Int("updated", job.Stats.Write.Updated).
		Msg("municipality done")
	return &job.Stats, set(Done, reason)
}

func (o *Orchestrator) summary(cp *Checkpoint, batch, batches, start, end int, res *Result) control.Summary {
	s := control.Summary{RunID: cp.RunID, Batch: batch + 1, Batches: batches}
	for i := start; i < end; i++ {
		m := cp.Municipalities[i]
		s.Municipalities = append(s.Municipalities, control.MunicipalityResult{
			Name: m.Name, State: string(m.State), Reason: m.Reason, Rows: m.Rows,
		})
	}
	for _, m := range res.Municipalities[end:] {
		if m.State != Done {
			s.Remaining++
		}
	}
	return s
}

func (o *Orchestrator) save(cp *Checkpoint) error {
	if o.opt.CheckpointPath == "" {
		return nil
	}
	return cp.Save(o.opt.CheckpointPath, o.opt.Now())
}
