package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcel-linkage/internal/config"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestFileGate(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  Decision
	}{
		{"continue", []string{"CONTINUE"}, Continue},
		{"stop", []string{"STOP"}, Stop},
		{"stop wins", []string{"CONTINUE", "STOP"}, Stop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(dir, f))
			}
			g := NewFileGate(dir, "", "", 5*time.Millisecond, time.Second, zerolog.Nop())

			d, err := g.Await(context.Background(), Summary{Batch: 1, Batches: 3})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)

			for _, f := range tt.files {
				assert.NoFileExists(t, filepath.Join(dir, f), "sentinel is consumed")
			}
			assert.FileExists(t, filepath.Join(dir, "summary.json"))
		})
	}
}

func TestFileGateLeavesNoStaleContinue(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "CONTINUE"))
	touch(t, filepath.Join(dir, "STOP"))
	g := NewFileGate(dir, "", "", 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())

	d, err := g.Await(context.Background(), Summary{Batch: 1})
	require.NoError(t, err)
	assert.Equal(t, Stop, d)

	_, err = g.Await(context.Background(), Summary{Batch: 2})
	assert.ErrorIs(t, err, ErrApprovalTimeout, "next boundary waits for a fresh decision")
}

func TestFileGateWaitsThenTimesOut(t *testing.T) {
	dir := t.TempDir()
	g := NewFileGate(dir, "", "", 5*time.Millisecond, 300*time.Millisecond, zerolog.Nop())

	go func() {
		time.Sleep(30 * time.Millisecond)
		touch(t, filepath.Join(dir, "CONTINUE"))
	}()
	d, err := g.Await(context.Background(), Summary{})
	require.NoError(t, err)
	assert.Equal(t, Continue, d)

	short := NewFileGate(dir, "", "", 5*time.Millisecond, 20*time.Millisecond, zerolog.Nop())
	_, err = short.Await(context.Background(), Summary{})
	assert.ErrorIs(t, err, ErrApprovalTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = short.Await(ctx, Summary{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoGate(t *testing.T) {
	dir := t.TempDir()
	stop := filepath.Join(dir, "STOP")
	g := AutoGate{StopPath: stop}

	d, err := g.Await(context.Background(), Summary{})
	require.NoError(t, err)
	assert.Equal(t, Continue, d)

	touch(t, stop)
	d, _ = g.Await(context.Background(), Summary{})
	assert.Equal(t, Stop, d)
	assert.NoFileExists(t, stop)
}

func TestConsoleGate(t *testing.T) {
	var out strings.Builder
	g := newConsoleGate(strings.NewReader("maybe\ny\nstop\n"), &out, time.Second)
	s := Summary{Batch: 1, Batches: 2, Remaining: 5, Municipalities: []MunicipalityResult{{Name: "Goshen", State: "DONE", Rows: 812}}}

	d, err := g.Await(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, Continue, d)
	assert.Contains(t, out.String(), "Goshen")

	d, err = g.Await(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, Stop, d)

	d, err = g.Await(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, Stop, d, "closed input stops the run")
}

func TestHTTPGate(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewHTTPGate(":0", time.Second, reg, zerolog.Nop())
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/control/continue", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "nothing is waiting yet")

	done := make(chan Decision, 1)
	go func() {
		d, err := g.Await(context.Background(), Summary{RunID: "r1", Batch: 2})
		assert.NoError(t, err)
		done <- d
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/control/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Waiting bool     `json:"waiting"`
			Summary *Summary `json:"summary"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && body.Waiting && body.Summary.RunID == "r1"
	}, time.Second, 10*time.Millisecond)

	resp, err = http.Post(srv.URL+"/control/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, Stop, <-done)

	resp, err = http.Get(srv.URL + "/control/continue")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPGateIgnoresEarlyDecision(t *testing.T) {
	g := NewHTTPGate(":0", 50*time.Millisecond, nil, zerolog.Nop())
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/control/continue", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err = g.Await(context.Background(), Summary{Batch: 1})
	assert.ErrorIs(t, err, ErrApprovalTimeout)
}

func TestServerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "parcel_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(NewServer(":0", reg, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "parcel_test_total 1")

	resp, err = http.Get(srv.URL + "/control/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no gate routes without the http gate")
}

func TestNewSelectsMode(t *testing.T) {
	cfg := config.ControlConfig{Mode: "auto", Dir: t.TempDir()}
	g, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, AutoGate{}, g)

	cfg.Mode = "file"
	g, err = New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FileGate{}, g)

	cfg.Mode = "carrier-pigeon"
	_, err = New(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}
