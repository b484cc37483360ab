package handlers

import (
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/deps"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/respond"
	"github.com/MrSnakeDoc/integrator/internal/ingest"
)

// Import serves POST /integrator/import. It runs the ingestion workflow
// synchronously unless async=true, in which case it only queues a run on
// the scheduler.
func Import(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, err := queryBool(r, "force")
		if err != nil {
			respond.Invalid(w, map[string][]string{"force": {"The force field must be true or false."}})
			return
		}
		async, err := queryBool(r, "async")
		if err != nil {
			respond.Invalid(w, map[string][]string{"async": {"The async field must be true or false."}})
			return
		}

		if async {
			queueImport(w, d, force)
			return
		}

		out := d.Importer.Run(r.Context(), ingest.RunOptions{
			Force:   force,
			Trigger: domain.TriggerAPI,
		})
		status, msg := outcomeResponse(out)
		respond.JSON(w, status, respond.Envelope{
			Success: out.OK(),
			Message: msg,
			Data:    out.IngestRun,
		})
	}
}

func queueImport(w http.ResponseWriter, d deps.Deps, force bool) {
	switch {
	case force:
		// Scheduled runs never bypass change detection.
		respond.Invalid(w, map[string][]string{"force": {"The force field cannot be combined with async."}})
	case d.ImportTrigger == nil:
		respond.Error(w, http.StatusServiceUnavailable, "Scheduler is disabled")
	case !d.ImportTrigger():
		respond.Error(w, http.StatusTooManyRequests, "An import is already queued")
	default:
		respond.OK(w, http.StatusAccepted, "Import queued", nil)
	}
}

func outcomeResponse(out ingest.Outcome) (int, string) {
	switch out.Status {
	case domain.RunImported:
		return http.StatusOK, "Data imported successfully"
	case domain.RunUnchanged:
		return http.StatusOK, "No changes detected"
	case domain.RunSkipped:
		return http.StatusOK, "No data to import"
	}

	switch out.Reason {
	case domain.ReasonUpstream, domain.ReasonDecode:
		return http.StatusBadGateway, "Upstream fetch failed"
	case domain.ReasonValidation:
		return http.StatusUnprocessableEntity, "Upstream data failed validation"
	default:
		return http.StatusInternalServerError, "Import failed"
	}
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
