package domain

import "time"

// ScanStatus is the lifecycle state of one scan invocation. Transitions are
// running→completed or running→failed only; a terminal record is immutable.
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// Finding is one normalized security finding returned by a provider scan.
type Finding struct {
	ID       string         `json:"id" bson:"id"`
	Category string         `json:"category" bson:"category"`
	Severity string         `json:"severity" bson:"severity"`
	Title    string         `json:"title" bson:"title"`
	Resource string         `json:"resource,omitempty" bson:"resource,omitempty"`
	Raw      map[string]any `json:"raw,omitempty" bson:"-"`
}

// ScanSummary holds the aggregate counts for a scan result.
type ScanSummary struct {
	Total      int            `json:"total" bson:"total"`
	BySeverity map[string]int `json:"by_severity" bson:"by_severity"`
	ByCategory map[string]int `json:"by_category" bson:"by_category"`
}

// ScanResult is the structured outcome of one scan: aggregate counts plus the
// raw finding list.
type ScanResult struct {
	Summary  ScanSummary `json:"summary" bson:"summary"`
	Findings []Finding   `json:"findings" bson:"findings"`
}

// Summarize recomputes the summary from the finding list.
func (r *ScanResult) Summarize() {
	r.Summary = ScanSummary{
		Total:      len(r.Findings),
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, f := range r.Findings {
		r.Summary.BySeverity[f.Severity]++
		r.Summary.ByCategory[f.Category]++
	}
}

// ScanRecord tracks one asynchronous scan invocation from start to its
// terminal state.
type ScanRecord struct {
	ScanID     string      `json:"scan_id" bson:"_id"`
	ProviderID string      `json:"provider_id" bson:"provider_id"`
	ScanType   string      `json:"scan_type" bson:"scan_type"`
	Status     ScanStatus  `json:"status" bson:"status"`
	StartedAt  time.Time   `json:"started_at" bson:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Result     *ScanResult `json:"result,omitempty" bson:"result,omitempty"`
	Error      string      `json:"error,omitempty" bson:"error,omitempty"`
}

// Clone returns a copy of the record so stored state cannot be mutated by
// callers once handed out.
func (r *ScanRecord) Clone() *ScanRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.EndedAt != nil {
		ended := *r.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}
