// Package health provides the HTTP liveness and readiness probes for the
// augur server.
//
//   - /healthz — liveness; a process that can answer HTTP is alive, so it
//     always returns 200 OK.
//   - /readyz  — readiness; probes every registered dependency [Checker]
//     concurrently and returns 200 only when all of them pass.
//
// The readiness body reports each dependency by name with its status, the
// failure message when it failed, and how long the probe took:
//
//	{"status":"fail","checks":{
//	  "audit":           {"status":"ok","duration_ms":2},
//	  "search_provider": {"status":"fail","error":"not constructed","duration_ms":0}}}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness probe. A dependency that cannot
// answer within it counts as failed.
const checkTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the dependency
// can serve traffic and a describing error otherwise; it must respect ctx.
type Checker struct {
	// Name labels the probe in the readiness report (e.g. "audit",
	// "search_provider").
	Name string

	Check func(ctx context.Context) error
}

// checkResult is one dependency's entry in the readiness report.
type checkResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz routes. The checker list is fixed
// at construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] probing the given checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz probes every checker concurrently, each under its own
// [checkTimeout] deadline derived from the request context, and returns 503
// when any dependency fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	g, gctx := errgroup.WithContext(r.Context())
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			results[i] = checkResult{
				Status:     "ok",
				DurationMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Status = "fail"
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := report{Status: "ok", Checks: make(map[string]checkResult, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		res.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 when encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
