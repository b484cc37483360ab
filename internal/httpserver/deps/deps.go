package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/ingest"
	"github.com/MrSnakeDoc/integrator/internal/logger"
)

// Importer runs one ingestion synchronously.
type Importer interface {
	Run(ctx context.Context, opts ingest.RunOptions) ingest.Outcome
}

// RunJournal exposes recorded ingestion runs.
type RunJournal interface {
	LastRun(ctx context.Context) (*domain.IngestRun, error)
	Counters(ctx context.Context) (map[string]int64, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	APIKey          string        // shared secret for /integrator routes
	AllowedHosts    []string      // Host headers allowed to access the server
	AllowedCIDRS    []string      // IPs allowed to access ops endpoints
	TrustProxy      bool          // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateLimitBurst  int           // per-IP burst on /integrator
	RateLimitPerMin int           // per-IP sustained rate on /integrator
	RequestTimeout  time.Duration // deadline for CRUD requests
	ImportTimeout   time.Duration // deadline for POST /integrator/import

	Store         domain.Store // snapshot storage
	Importer      Importer     // ingestion workflow
	ImportTrigger func() bool  // queues a background run; nil when the scheduler is off
	Journal       RunJournal   // nil when Redis is disabled
}

// Now returns the current time from TimeNow or time.Now.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
