// Package control implements the approval gate consulted between batches of
// municipalities. A gate blocks until an operator says continue or stop, or
// until its timeout elapses.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/parcel-linkage/internal/config"
)

// Decision is an operator's answer at a batch boundary
type Decision string

const (
	Continue Decision = "continue"
	Stop     Decision = "stop"
)

var (
	// ErrApprovalTimeout means no decision arrived before the gate's timeout
	ErrApprovalTimeout = errors.New("approval timed out")
	// ErrNotInteractive means a console gate was requested without a terminal
	ErrNotInteractive = errors.New("stdin is not a terminal")
)

// MunicipalityResult is one line of a batch summary
type MunicipalityResult struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Rows   int    `json:"rows"`
}

// Summary describes the batch that just finished
type Summary struct {
	RunID          string               `json:"run_id"`
	Batch          int                  `json:"batch"`
	Batches        int                  `json:"batches"`
	Municipalities []MunicipalityResult `json:"municipalities"`
	Remaining      int                  `json:"remaining"`
}

// Gate is the approval port
type Gate interface {
	Await(ctx context.Context, s Summary) (Decision, error)
}

// AutoGate approves every batch unless its stop sentinel appears
type AutoGate struct {
	// StopPath, when set, is checked and consumed on every call
	StopPath string
}

func (g AutoGate) Await(context.Context, Summary) (Decision, error) {
	if g.StopPath != "" && consume(g.StopPath) {
		return Stop, nil
	}
	return Continue, nil
}

// New builds the gate selected by cfg.Mode. reg backs /metrics for the http
// gate and may be nil otherwise.
func New(cfg config.ControlConfig, reg *prometheus.Registry, log zerolog.Logger) (Gate, error) {
	files := NewFileGate(cfg.Dir, cfg.ContinueFile, cfg.StopFile, cfg.PollInterval, cfg.ApprovalTimeout, log)

	switch cfg.Mode {
	case "file", "":
		return files, nil
	case "auto":
		return AutoGate{StopPath: files.stopPath}, nil
	case "console":
		g, err := NewConsoleGate(cfg.ApprovalTimeout)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "http":
		return NewHTTPGate(cfg.Listen, cfg.ApprovalTimeout, reg, log), nil
	}
	return nil, fmt.Errorf("unknown control mode %q", cfg.Mode)
}

// withTimeout bounds an Await; a zero timeout waits for ctx alone
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// expired maps a finished wait context onto the gate's error
func expired(parent, waited context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(waited.Err(), context.DeadlineExceeded) {
		return ErrApprovalTimeout
	}
	return waited.Err()
}
