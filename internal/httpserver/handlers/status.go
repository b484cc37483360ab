package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/deps"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/respond"
	redisstore "github.com/MrSnakeDoc/integrator/internal/store/redis"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Mode              string                     `json:"mode"`
	Components        map[string]componentStatus `json:"components"`
	LatestFingerprint string                     `json:"latest_fingerprint,omitempty"`
	LatestObservedAt  *time.Time                 `json:"latest_observed_at,omitempty"`
	LastRun           *domain.IngestRun          `json:"last_run,omitempty"`
	RunCounters       map[string]int64           `json:"run_counters,omitempty"`
}

// Status reports component health plus the latest snapshot and run.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := statusResponse{Components: map[string]componentStatus{}}

		resp.Components["store"] = checkStore(ctx, d, &resp)
		resp.Components["journal"] = checkJournal(ctx, d, &resp)
		resp.Components["scheduler"] = componentStatus{
			OK:   true,
			Mode: schedulerMode(d),
		}
		resp.Mode = determineMode(resp.Components)

		respond.JSON(w, http.StatusOK, resp)
	}
}

func checkStore(ctx context.Context, d deps.Deps, resp *statusResponse) componentStatus {
	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{OK: false, Impact: "api-unavailable", Error: "ping failed"}
	}

	latest, err := d.Store.Latest(ctx)
	switch {
	case err == nil:
		observed := latest.ObservedAt.UTC()
		resp.LatestFingerprint = latest.Fingerprint
		resp.LatestObservedAt = &observed
		return componentStatus{OK: true}
	case errors.Is(err, domain.ErrNotFound):
		return componentStatus{OK: true, Mode: "empty"}
	default:
		return componentStatus{OK: false, Error: "latest lookup failed"}
	}
}

func checkJournal(ctx context.Context, d deps.Deps, resp *statusResponse) componentStatus {
	if d.Journal == nil {
		return componentStatus{OK: true, Mode: "disabled", Impact: "run-history-disabled"}
	}
	if err := d.Journal.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: "degraded", Impact: "run-history-disabled", Error: "timeout"}
	}

	run, err := d.Journal.LastRun(ctx)
	if err != nil && !errors.Is(err, redisstore.ErrNoRuns) {
		return componentStatus{OK: false, Mode: "degraded", Error: "last run unreadable"}
	}
	resp.LastRun = run

	if counters, err := d.Journal.Counters(ctx); err == nil && len(counters) > 0 {
		resp.RunCounters = counters
	}
	return componentStatus{OK: true, Mode: "optimal"}
}

func schedulerMode(d deps.Deps) string {
	if d.ImportTrigger == nil {
		return "disabled"
	}
	return "enabled"
}

func determineMode(components map[string]componentStatus) string {
	if store, ok := components["store"]; ok && !store.OK {
		return "critical"
	}
	if journal, ok := components["journal"]; ok && !journal.OK {
		return "degraded"
	}
	return "operational"
}
