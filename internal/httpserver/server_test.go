package httpserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/httpserver"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/deps"
	"github.com/MrSnakeDoc/integrator/internal/ingest"
	"github.com/MrSnakeDoc/integrator/internal/logger"
	"github.com/MrSnakeDoc/integrator/internal/store/memory"
)

const testKey = "s3cret"

type envelope struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	Data       json.RawMessage     `json:"data"`
	Errors     map[string][]string `json:"errors"`
	Pagination *struct {
		CurrentPage int  `json:"current_page"`
		LastPage    int  `json:"last_page"`
		PerPage     int  `json:"per_page"`
		Total       int  `json:"total"`
		From        *int `json:"from"`
		To          *int `json:"to"`
	} `json:"pagination"`
}

type snapshotBody struct {
	ID          int64           `json:"id"`
	Data        json.RawMessage `json:"data"`
	Fingerprint string          `json:"fingerprint"`
	ObservedAt  time.Time       `json:"observed_at"`
	SourceURL   string          `json:"source_url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type fakeImporter struct {
	out  ingest.Outcome
	last ingest.RunOptions
}

func (f *fakeImporter) Run(_ context.Context, opts ingest.RunOptions) ingest.Outcome {
	f.last = opts
	return f.out
}

// clock hands out strictly increasing times one second apart.
type clock struct{ n atomic.Int64 }

func (c *clock) now() time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(c.n.Add(1)) * time.Second)
}

func newTestDeps(t *testing.T) deps.Deps {
	t.Helper()
	c := &clock{}
	return deps.Deps{
		Logger:          logger.New("error", false),
		StartTime:       time.Now(),
		Version:         "test",
		TimeNow:         c.now,
		APIKey:          testKey,
		RateLimitBurst:  1000,
		RateLimitPerMin: 1000,
		RequestTimeout:  5 * time.Second,
		ImportTimeout:   5 * time.Second,
		Store:           memory.New(memory.WithClock(c.now)),
		Importer:        &fakeImporter{},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: invalid JSON body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, env
}

func decodeSnapshot(t *testing.T, raw json.RawMessage) snapshotBody {
	t.Helper()
	var s snapshotBody
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("decode snapshot %s: %v", raw, err)
	}
	return s
}

func TestAPIKey(t *testing.T) {
	h := httpserver.NewRouter(logger.New("error", false), newTestDeps(t))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantMsg    string
	}{
		{name: "missing", wantStatus: http.StatusUnauthorized, wantMsg: "API key is required"},
		{name: "wrong header", header: "nope", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid API key"},
		{name: "wrong query", query: "?api_key=nope", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid API key"},
		{name: "header", header: testKey, wantStatus: http.StatusOK},
		{name: "query", query: "?api_key=" + testKey, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/integrator"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantMsg != "" {
				var env envelope
				if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if env.Success || env.Message != tt.wantMsg {
					t.Errorf("envelope = %+v, want message %q", env, tt.wantMsg)
				}
			}
		})
	}
}

func TestCreateThenDuplicate(t *testing.T) {
	h := httpserver.NewRouter(logger.New("error", false), newTestDeps(t))
	body := `{"data": {"a":1}, "source_url": "https://x.example"}`

	rec, env := do(t, h, http.MethodPost, "/integrator", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first POST status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	if !env.Success || env.Message != "Data created successfully" {
		t.Errorf("first POST envelope = %+v", env)
	}
	s := decodeSnapshot(t, env.Data)
	if s.ID == 0 || len(s.Fingerprint) != 64 {
		t.Errorf("snapshot = %+v, want id and sha256 fingerprint", s)
	}
	if string(s.Data) != `{"a":1}` {
		t.Errorf("data = %s, want {\"a\":1}", s.Data)
	}
	if s.SourceURL != "https://x.example" {
		t.Errorf("source_url = %q", s.SourceURL)
	}

	rec, env = do(t, h, http.MethodPost, "/integrator", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second POST status = %d, want 409", rec.Code)
	}
	if env.Message != "Data already exists" {
		t.Errorf("second POST message = %q", env.Message)
	}
}

func TestCreateValidation(t *testing.T) {
	h := httpserver.NewRouter(logger.New("error", false), newTestDeps(t))

	tests := []struct {
		name string
		body string
		want map[string]string
	}{
		{
			name: "empty body",
			body: ``,
			want: map[string]string{
				"data":       "The data field is required.",
				"source_url": "The source url field is required.",
			},
		},
		{
			name: "scalar data and bad url",
			body: `{"data": "x", "source_url": "not a url"}`,
			want: map[string]string{
				"data":       "The data field must be an array.",
				"source_url": "The source url field must be a valid URL.",
			},
		},
		{
			name: "empty collection",
			body: `{"data": [], "source_url": "https://x.example"}`,
			want: map[string]string{"data": "The data field is required."},
		},
		{
			name: "non-string url",
			body: `{"data": [1], "source_url": 42}`,
			want: map[string]string{"source_url": "The source url field must be a valid URL."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, "/integrator", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (%s)", rec.Code, rec.Body.String())
			}
			if env.Message != "Validation failed" {
				t.Errorf("message = %q", env.Message)
			}
			if len(env.Errors) != len(tt.want) {
				t.Errorf("errors = %v, want %v", env.Errors, tt.want)
			}
			for field, msg := range tt.want {
				if got := env.Errors[field]; len(got) != 1 || got[0] != msg {
					t.Errorf("errors[%s] = %v, want [%q]", field, got, msg)
				}
			}
		})
	}
}

func TestCreateMalformedJSON(t *testing.T) {
	h := httpserver.NewRouter(logger.New("error", false), newTestDeps(t))
	rec, _ := do(t, h, http.MethodPost, "/integrator", `{"data": [1,`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListPagination(t *testing.T) {
	d := newTestDeps(t)
	h := httpserver.NewRouter(logger.New("error", false), d)

	for i := 0; i < 3; i++ {
		body := `{"data": [` + string(rune('1'+i)) + `], "source_url": "https://x.example"}`
		if rec, _ := do(t, h, http.MethodPost, "/integrator", body); rec.Code != http.StatusCreated {
			t.Fatalf("seed %d: status %d", i, rec.Code)
		}
	}

	t.Run("clamped per_page", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/integrator?per_page=500", "")
		if env.Pagination == nil || env.Pagination.PerPage != 100 {
			t.Fatalf("pagination = %+v, want per_page 100", env.Pagination)
		}
		if env.Pagination.Total != 3 || env.Pagination.LastPage != 1 {
			t.Errorf("pagination = %+v", env.Pagination)
		}
	})

	t.Run("default per_page", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/integrator", "")
		if env.Pagination.PerPage != 15 || env.Pagination.CurrentPage != 1 {
			t.Errorf("pagination = %+v", env.Pagination)
		}
	})

	t.Run("second page newest first", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/integrator?per_page=2&page=2", "")
		p := env.Pagination
		if p.LastPage != 2 || p.From == nil || *p.From != 3 || p.To == nil || *p.To != 3 {
			t.Errorf("pagination = %+v", p)
		}
		var items []snapshotBody
		if err := json.Unmarshal(env.Data, &items); err != nil {
			t.Fatalf("decode items: %v", err)
		}
		if len(items) != 1 || string(items[0].Data) != "[1]" {
			t.Errorf("items = %+v, want the oldest snapshot", items)
		}
	})

	t.Run("past the end", func(t *testing.T) {
		_, env := do(t, h, http.MethodGet, "/integrator?page=9", "")
		if env.Pagination.From != nil || env.Pagination.To != nil {
			t.Errorf("from/to = %v/%v, want null", env.Pagination.From, env.Pagination.To)
		}
		if string(env.Data) != "[]" {
			t.Errorf("data = %s, want []", env.Data)
		}
	})
}

func TestLatestShowUpdateDelete(t *testing.T) {
	h := httpserver.NewRouter(logger.New("error", false), newTestDeps(t))

	rec, env := do(t, h, http.MethodGet, "/integrator/latest", "")
	if rec.Code != http.StatusNotFound || env.Message != "No data available" {
		t.Fatalf("empty latest = %d %q", rec.Code, env.Message)
	}

	_, env = do(t, h, http.MethodPost, "/integrator", `{"data": [1], "source_url": "https://a.example"}`)
	first := decodeSnapshot(t, env.Data)
	_, env = do(t, h, http.MethodPost, "/integrator", `{"data": [2], "source_url": "https://b.example"}`)
	second := decodeSnapshot(t, env.Data)

	_, env = do(t, h, http.MethodGet, "/integrator/latest", "")
	if got := decodeSnapshot(t, env.Data); got.ID != second.ID {
		t.Fatalf("latest id = %d, want %d", got.ID, second.ID)
	}

	// Updating data re-observes the first snapshot, making it the latest.
	rec, env = do(t, h, http.MethodPut, "/integrator/"+itoa(first.ID), `{"data": {"k":"v"}}`)
	if rec.Code != http.StatusOK || env.Message != "Data updated successfully" {
		t.Fatalf("update = %d %q", rec.Code, env.Message)
	}
	updated := decodeSnapshot(t, env.Data)
	if updated.Fingerprint == first.Fingerprint {
		t.Error("fingerprint not recomputed")
	}
	if !updated.ObservedAt.After(first.ObservedAt) {
		t.Errorf("observed_at = %v, want after %v", updated.ObservedAt, first.ObservedAt)
	}
	if updated.SourceURL != "https://a.example" {
		t.Errorf("source_url changed to %q", updated.SourceURL)
	}

	_, env = do(t, h, http.MethodGet, "/integrator/latest", "")
	if got := decodeSnapshot(t, env.Data); got.ID != first.ID {
		t.Fatalf("latest after update = %d, want %d", got.ID, first.ID)
	}

	rec, env = do(t, h, http.MethodPut, "/integrator/"+itoa(second.ID), `{"data": {"k":"v"}}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("update to existing content = %d, want 409", rec.Code)
	}

	rec, env = do(t, h, http.MethodPut, "/integrator/"+itoa(second.ID), `{"source_url": "ftp//"}`)
	if rec.Code != http.StatusUnprocessableEntity || len(env.Errors["source_url"]) != 1 {
		t.Errorf("invalid update = %d %v", rec.Code, env.Errors)
	}

	rec, env = do(t, h, http.MethodGet, "/integrator/"+itoa(second.ID), "")
	if rec.Code != http.StatusOK || decodeSnapshot(t, env.Data).SourceURL != "https://b.example" {
		t.Errorf("show = %d %s", rec.Code, env.Data)
	}

	rec, env = do(t, h, http.MethodDelete, "/integrator/"+itoa(second.ID), "")
	if rec.Code != http.StatusOK || env.Message != "Data deleted successfully" {
		t.Errorf("delete = %d %q", rec.Code, env.Message)
	}

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec, env = do(t, h, method, "/integrator/"+itoa(second.ID), `{}`)
		if rec.Code != http.StatusNotFound || env.Message != "Data not found" {
			t.Errorf("%s deleted = %d %q", method, rec.Code, env.Message)
		}
	}

	rec, _ = do(t, h, http.MethodGet, "/integrator/abc", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("non-numeric id = %d, want 404", rec.Code)
	}
}

func TestImportEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		out        ingest.Outcome
		wantStatus int
		wantForce  bool
	}{
		{
			name:       "imported",
			out:        outcome(domain.RunImported, ""),
			wantStatus: http.StatusOK,
		},
		{
			name:       "forced unchanged",
			query:      "?force=true",
			out:        outcome(domain.RunUnchanged, domain.ReasonDuplicate),
			wantStatus: http.StatusOK,
			wantForce:  true,
		},
		{
			name:       "skipped",
			out:        outcome(domain.RunSkipped, domain.ReasonNoData),
			wantStatus: http.StatusOK,
		},
		{
			name:       "upstream",
			out:        outcome(domain.RunFailed, domain.ReasonUpstream),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "decode",
			out:        outcome(domain.RunFailed, domain.ReasonDecode),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "validation",
			out:        outcome(domain.RunFailed, domain.ReasonValidation),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "storage",
			out:        outcome(domain.RunFailed, domain.ReasonStorage),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "bad force",
			query:      "?force=maybe",
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(t)
			imp := &fakeImporter{out: tt.out}
			d.Importer = imp
			h := httpserver.NewRouter(logger.New("error", false), d)

			rec, env := do(t, h, http.MethodPost, "/integrator/import"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.out.Status == "" {
				return
			}
			if imp.last.Force != tt.wantForce || imp.last.Trigger != domain.TriggerAPI {
				t.Errorf("run options = %+v", imp.last)
			}
			var run domain.IngestRun
			if err := json.Unmarshal(env.Data, &run); err != nil {
				t.Fatalf("decode run: %v", err)
			}
			if run.Status != tt.out.Status || run.Reason != tt.out.Reason {
				t.Errorf("run = %+v, want %s/%s", run, tt.out.Status, tt.out.Reason)
			}
			if env.Success != (tt.out.Status != domain.RunFailed) {
				t.Errorf("success = %v for %s", env.Success, tt.out.Status)
			}
		})
	}
}

func TestImportAsync(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		trigger    func() bool
		wantStatus int
	}{
		{name: "queued", query: "?async=true", trigger: func() bool { return true }, wantStatus: http.StatusAccepted},
		{name: "already queued", query: "?async=true", trigger: func() bool { return false }, wantStatus: http.StatusTooManyRequests},
		{name: "no scheduler", query: "?async=true", wantStatus: http.StatusServiceUnavailable},
		{name: "force with async", query: "?async=true&force=true", trigger: func() bool { return true }, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(t)
			d.ImportTrigger = tt.trigger
			h := httpserver.NewRouter(logger.New("error", false), d)

			rec, _ := do(t, h, http.MethodPost, "/integrator/import"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

type failingStore struct{ *memory.Store }

func (failingStore) Ping(context.Context) error { return errors.New("down") }

func TestOpsEndpoints(t *testing.T) {
	d := newTestDeps(t)
	h := httpserver.NewRouter(logger.New("error", false), d)

	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var status struct {
		Mode       string `json:"mode"`
		Components map[string]struct {
			OK   bool   `json:"ok"`
			Mode string `json:"mode"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Mode != "operational" || status.Components["journal"].Mode != "disabled" {
		t.Errorf("status = %+v", status)
	}

	d.Store = failingStore{memory.New()}
	h = httpserver.NewRouter(logger.New("error", false), d)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing store = %d, want 503", rec.Code)
	}
}

func TestOpsCIDRAllowList(t *testing.T) {
	d := newTestDeps(t)
	d.AllowedCIDRS = []string{"10.0.0.0/8"}
	h := httpserver.NewRouter(logger.New("error", false), d)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.168.1.5:4444"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("outside CIDR = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("inside CIDR = %d, want 200", rec.Code)
	}
}

func outcome(status domain.RunStatus, reason string) ingest.Outcome {
	return ingest.Outcome{IngestRun: domain.IngestRun{ID: "run-1", Trigger: domain.TriggerAPI, Status: status, Reason: reason}}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
