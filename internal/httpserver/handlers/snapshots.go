package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/deps"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/respond"
	"github.com/MrSnakeDoc/integrator/internal/logger"
	"github.com/MrSnakeDoc/integrator/internal/payload"
)

const (
	defaultPerPage = 15
	maxPerPage     = 100
	maxBodyBytes   = 10 << 20
)

type snapshotView struct {
	ID          int64           `json:"id"`
	Data        json.RawMessage `json:"data"`
	Fingerprint string          `json:"fingerprint"`
	ObservedAt  time.Time       `json:"observed_at"`
	SourceURL   string          `json:"source_url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func newSnapshotView(s *domain.Snapshot) (snapshotView, error) {
	data, err := payload.Canonical(s.Payload)
	if err != nil {
		return snapshotView{}, err
	}
	return snapshotView{
		ID:          s.ID,
		Data:        data,
		Fingerprint: s.Fingerprint,
		ObservedAt:  s.ObservedAt.UTC(),
		SourceURL:   s.SourceURL,
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
	}, nil
}

// ListSnapshots serves GET /integrator.
func ListSnapshots(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perPage := queryInt(r, "per_page", defaultPerPage)
		if perPage < 1 {
			perPage = 1
		}
		if perPage > maxPerPage {
			perPage = maxPerPage
		}
		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}

		items, total, err := d.Store.List(r.Context(), (page-1)*perPage, perPage)
		if err != nil {
			storeFailure(w, d.Logger, "list snapshots", err)
			return
		}

		views := make([]snapshotView, 0, len(items))
		for _, s := range items {
			v, err := newSnapshotView(s)
			if err != nil {
				storeFailure(w, d.Logger, "encode snapshot", err)
				return
			}
			views = append(views, v)
		}

		respond.JSON(w, http.StatusOK, respond.Envelope{
			Success:    true,
			Data:       views,
			Pagination: paginate(page, perPage, total, len(views)),
		})
	}
}

// paginate mirrors the usual length-aware paginator: last_page is at least 1
// and from/to are null when the page is empty.
func paginate(page, perPage, total, count int) *respond.Pagination {
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	p := &respond.Pagination{
		CurrentPage: page,
		LastPage:    last,
		PerPage:     perPage,
		Total:       total,
	}
	if count > 0 {
		from := (page-1)*perPage + 1
		to := from + count - 1
		p.From, p.To = &from, &to
	}
	return p
}

// CreateSnapshot serves POST /integrator.
func CreateSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readObject(w, r)
		if !ok {
			return
		}

		errs := map[string][]string{}
		data, hasData := body.Get("data")
		if !hasData {
			errs["data"] = []string{"The data field is required."}
		} else if msg := checkData(data); msg != "" {
			errs["data"] = []string{msg}
		}
		src, hasSrc := body.Get("source_url")
		var sourceURL string
		if !hasSrc {
			errs["source_url"] = []string{"The source url field is required."}
		} else if u, msg := checkSourceURL(src); msg != "" {
			errs["source_url"] = []string{msg}
		} else {
			sourceURL = u
		}
		if len(errs) > 0 {
			respond.Invalid(w, errs)
			return
		}

		snap, err := domain.NewSnapshot(data, sourceURL, d.Now())
		if err != nil {
			respond.Invalid(w, map[string][]string{"data": {"The data field must be an array."}})
			return
		}
		if err := d.Store.Create(r.Context(), snap); err != nil {
			if errors.Is(err, domain.ErrDuplicateFingerprint) {
				respond.Error(w, http.StatusConflict, "Data already exists")
				return
			}
			storeFailure(w, d.Logger, "create snapshot", err)
			return
		}

		d.Logger.Info("snapshot created",
			logger.Int64("id", snap.ID),
			logger.String("fingerprint", snap.Fingerprint),
		)
		writeSnapshot(w, d.Logger, http.StatusCreated, "Data created successfully", snap)
	}
}

// ShowSnapshot serves GET /integrator/{id}.
func ShowSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := snapshotID(r)
		if !ok {
			respond.Error(w, http.StatusNotFound, "Data not found")
			return
		}
		snap, err := d.Store.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				respond.Error(w, http.StatusNotFound, "Data not found")
				return
			}
			storeFailure(w, d.Logger, "get snapshot", err)
			return
		}
		writeSnapshot(w, d.Logger, http.StatusOK, "", snap)
	}
}

// UpdateSnapshot serves PUT /integrator/{id}. Both fields are optional; a
// new data field recomputes the fingerprint and the observation time.
func UpdateSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := snapshotID(r)
		if !ok {
			respond.Error(w, http.StatusNotFound, "Data not found")
			return
		}
		if _, err := d.Store.Get(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				respond.Error(w, http.StatusNotFound, "Data not found")
				return
			}
			storeFailure(w, d.Logger, "get snapshot", err)
			return
		}

		body, ok := readObject(w, r)
		if !ok {
			return
		}

		var patch domain.Patch
		errs := map[string][]string{}
		if data, has := body.Get("data"); has {
			if msg := checkData(data); msg != "" {
				errs["data"] = []string{msg}
			} else {
				patch.Payload = data
				patch.ObservedAt = d.Now()
			}
		}
		if src, has := body.Get("source_url"); has {
			if u, msg := checkSourceURL(src); msg != "" {
				errs["source_url"] = []string{msg}
			} else {
				patch.SourceURL = &u
			}
		}
		if len(errs) > 0 {
			respond.Invalid(w, errs)
			return
		}

		snap, err := d.Store.Update(r.Context(), id, patch)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				respond.Error(w, http.StatusNotFound, "Data not found")
			case errors.Is(err, domain.ErrDuplicateFingerprint):
				respond.Error(w, http.StatusConflict, "Data already exists")
			default:
				storeFailure(w, d.Logger, "update snapshot", err)
			}
			return
		}
		writeSnapshot(w, d.Logger, http.StatusOK, "Data updated successfully", snap)
	}
}

// DeleteSnapshot serves DELETE /integrator/{id}.
func DeleteSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := snapshotID(r)
		if !ok {
			respond.Error(w, http.StatusNotFound, "Data not found")
			return
		}
		if err := d.Store.Delete(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				respond.Error(w, http.StatusNotFound, "Data not found")
				return
			}
			storeFailure(w, d.Logger, "delete snapshot", err)
			return
		}
		d.Logger.Info("snapshot deleted", logger.Int64("id", id))
		respond.OK(w, http.StatusOK, "Data deleted successfully", nil)
	}
}

// LatestSnapshot serves GET /integrator/latest.
func LatestSnapshot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.Store.Latest(r.Context())
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				respond.Error(w, http.StatusNotFound, "No data available")
				return
			}
			storeFailure(w, d.Logger, "latest snapshot", err)
			return
		}
		writeSnapshot(w, d.Logger, http.StatusOK, "", snap)
	}
}

func writeSnapshot(w http.ResponseWriter, log logger.Logger, status int, msg string, s *domain.Snapshot) {
	v, err := newSnapshotView(s)
	if err != nil {
		storeFailure(w, log, "encode snapshot", err)
		return
	}
	respond.OK(w, status, msg, v)
}

func storeFailure(w http.ResponseWriter, log logger.Logger, op string, err error) {
	log.Error(op+" failed", logger.Error(err))
	respond.Error(w, http.StatusInternalServerError, "Internal server error")
}

// readObject decodes the request body. Anything but a JSON object is
// treated as an empty object so that field rules report what is missing.
func readObject(w http.ResponseWriter, r *http.Request) (payload.Object, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		respond.Error(w, http.StatusBadRequest, "Unable to read request body")
		return nil, false
	}
	v, err := payload.Decode(raw)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "Malformed JSON body")
		return nil, false
	}
	obj, _ := v.(payload.Object)
	return obj, true
}

func checkData(v payload.Value) string {
	switch {
	case payload.IsEmpty(v):
		return "The data field is required."
	case !payload.IsCollection(v):
		return "The data field must be an array."
	}
	return ""
}

func checkSourceURL(v payload.Value) (string, string) {
	if payload.IsEmpty(v) {
		return "", "The source url field is required."
	}
	s, ok := v.(payload.String)
	if !ok {
		return "", "The source url field must be a valid URL."
	}
	u, err := url.Parse(string(s))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "The source url field must be a valid URL."
	}
	return string(s), ""
}

func snapshotID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
