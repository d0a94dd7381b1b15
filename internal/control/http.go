package control

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// HTTPGate takes decisions over HTTP and serves the run's metrics:
//
//	POST /control/continue
//	POST /control/stop
//	GET  /control/status
//	GET  /metrics
//
// A decision is only accepted while a batch boundary is waiting.
type HTTPGate struct {
	*Server
	timeout time.Duration

	decisions chan Decision

	mu      sync.Mutex
	waiting bool
	summary *Summary
}

// NewHTTPGate builds the gate; call Serve to start listening
func NewHTTPGate(addr string, timeout time.Duration, reg *prometheus.Registry, log zerolog.Logger) *HTTPGate {
	g := &HTTPGate{
		Server:    NewServer(addr, reg, log),
		timeout:   timeout,
		decisions: make(chan Decision, 1),
	}
	g.router.HandleFunc("/control/continue", g.decide(Continue)).Methods(http.MethodPost)
	g.router.HandleFunc("/control/stop", g.decide(Stop)).Methods(http.MethodPost)
	g.router.HandleFunc("/control/status", g.status).Methods(http.MethodGet)
	return g
}

func (g *HTTPGate) Await(ctx context.Context, s Summary) (Decision, error) {
	g.mu.Lock()
	g.waiting, g.summary = true, &s
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.waiting = false
		// a decision racing a timeout must not carry over
		select {
		case <-g.decisions:
		default:
		}
		g.mu.Unlock()
	}()

	g.log.Info().Int("batch", s.Batch).Int("remaining", s.Remaining).Msg("waiting for approval over http")

	wctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	select {
	case d := <-g.decisions:
		return d, nil
	case <-wctx.Done():
		return "", expired(ctx, wctx)
	}
}

func (g *HTTPGate) decide(d Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if !g.waiting {
			writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "no batch is waiting for approval"})
			return
		}
		select {
		case g.decisions <- d:
			writeJSON(w, http.StatusAccepted, map[string]interface{}{"decision": d})
		default:
			writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "a decision is already pending"})
		}
	}
}

func (g *HTTPGate) status(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	resp := map[string]interface{}{
		"waiting": g.waiting,
		"summary": g.summary,
	}
	g.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}
