package handlers

import (
	"context"
	"net/http"
)

// Prober is satisfied by *cache.Client directly and by a *sql.DB through
// a small PingContext adapter: anything that can report reachability in
// one round trip.
type Prober interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports process liveness unconditionally; it never depends
// on downstream reachability so a Redis/Postgres/RabbitMQ outage alone
// does not fail a liveness probe.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Readyz reports downstream reachability, used by deployment tooling
// to gate traffic shifting rather than to decide whether to restart
// the process.
func Readyz(probes map[string]Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(probes))
		healthy := true
		for name, p := range probes {
			if err := p.Ping(r.Context()); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		status := http.StatusOK
		statusText := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			statusText = "degraded"
		}
		writeJSON(w, status, healthResponse{Status: statusText, Checks: checks})
	}
}
