package domain

import "time"

// RunStatus is the terminal state of one ingestion run.
type RunStatus string

const (
	RunImported  RunStatus = "imported"
	RunUnchanged RunStatus = "unchanged"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
)

// Reasons attached to non-imported runs.
const (
	ReasonNoChange   = "no change"
	ReasonDuplicate  = "duplicate"
	ReasonNoData     = "no data"
	ReasonUpstream   = "upstream"
	ReasonDecode     = "decode"
	ReasonValidation = "validation"
	ReasonStorage    = "storage"
	ReasonInternal   = "internal"
)

// Triggers that start a run.
const (
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
)

// IngestRun summarises one finished ingestion run.
type IngestRun struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	Force       bool      `json:"force"`
	Status      RunStatus `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Entries     int       `json:"entries"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SnapshotID  int64     `json:"snapshot_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r IngestRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
