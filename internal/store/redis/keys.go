package redis

const (
	// KeyLastRun holds the most recent ingestion run as JSON.
	KeyLastRun = "integrator:ingest:last"
	// KeyRecentRuns is a capped list of recent runs, newest first.
	KeyRecentRuns = "integrator:ingest:runs"
	// KeyStatusCounters is a hash of run counts per status.
	KeyStatusCounters = "integrator:ingest:status"
)

// MaxRecentRuns bounds KeyRecentRuns.
const MaxRecentRuns = 50
