package domain

import "time"

type UnitStatus string

func (s UnitStatus) String() string {
	return string(s)
}

const (
	UnitStatusCompleted         UnitStatus = "completed"          // every declared item is on disk
	UnitStatusIncomplete        UnitStatus = "incomplete"         // reconciliation found a shortfall
	UnitStatusEnumerationFailed UnitStatus = "enumeration_failed" // the listing never became ready
	UnitStatusFailed            UnitStatus = "failed"             // session or unexpected failure
)

// UnitResult is what a worker hands back to the dispatcher for one unit
type UnitResult struct {
	Unit       CatalogUnit           `json:"unit"`
	Status     UnitStatus            `json:"status"`
	Summary    PageSummary           `json:"summary"`
	Items      int                   `json:"items"`
	Downloaded int                   `json:"downloaded"`
	Skipped    int                   `json:"skipped"`
	Failed     int                   `json:"failed"`
	Report     *ReconciliationReport `json:"report,omitempty"`
	Error      string                `json:"error,omitempty"`
	Duration   time.Duration         `json:"duration"`
	FinishedAt time.Time             `json:"finished_at"`
}

// RunSummary aggregates the results of one dispatcher run
type RunSummary struct {
	Results  []*UnitResult `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Count returns how many units finished with the given status.
func (s *RunSummary) Count(status UnitStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}
