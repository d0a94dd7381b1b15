package control

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// FileGate waits for a continue or stop sentinel file. Both are deleted once
// observed; stop wins when both are present. The batch summary is written to
// summary.json in the same directory for the operator to review.
type FileGate struct {
	dir          string
	continuePath string
	stopPath     string
	poll         time.Duration
	timeout      time.Duration
	log          zerolog.Logger
}

// NewFileGate builds a gate over sentinel files in dir
func NewFileGate(dir, continueName, stopName string, poll, timeout time.Duration, log zerolog.Logger) *FileGate {
	if dir == "" {
		dir = ".control"
	}
	if continueName == "" {
		continueName = "CONTINUE"
	}
	if stopName == "" {
		stopName = "STOP"
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &FileGate{
		dir:          dir,
		continuePath: filepath.Join(dir, continueName),
		stopPath:     filepath.Join(dir, stopName),
		poll:         poll,
		timeout:      timeout,
		log:          log,
	}
}

func (g *FileGate) Await(ctx context.Context, s Summary) (Decision, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", err
	}
	if data, err := json.MarshalIndent(s, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(g.dir, "summary.json"), data, 0o644); err != nil {
			g.log.Warn().Err(err).Msg("failed to write batch summary")
		}
	}

	g.log.Info().
		Int("batch", s.Batch).
		Int("remaining", s.Remaining).
		Str("continue", g.continuePath).
		Str("stop", g.stopPath).
		Msg("waiting for approval, create a sentinel file to proceed")

	wctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	tick := time.NewTicker(g.poll)
	defer tick.Stop()
	for {
		// both sentinels are consumed so a leftover cannot approve the next batch
		stop := consume(g.stopPath)
		cont := consume(g.continuePath)
		switch {
		case stop:
			return Stop, nil
		case cont:
			return Continue, nil
		}
		select {
		case <-wctx.Done():
			return "", expired(ctx, wctx)
		case <-tick.C:
		}
	}
}

// consume removes path and reports whether it existed
func consume(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}
