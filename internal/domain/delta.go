package domain

import "time"

type DeltaChangeType string

const (
	DeltaInsert DeltaChangeType = "INSERT"
	DeltaUpdate DeltaChangeType = "UPDATE"
	DeltaDelete DeltaChangeType = "DELETE"
)

// DeltaChange is a raw change notification from a vault export. It is
// consumed once by the reconciler and never stored as-is.
type DeltaChange struct {
	RecordID      string            `json:"record_id"`
	ChangeType    DeltaChangeType   `json:"change_type"`
	ChangedFields map[string]string `json:"changed_fields,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source,omitempty"`
}

// DeltaSummary tallies one reconciliation pass.
type DeltaSummary struct {
	Total                int `json:"total"`
	Inserts              int `json:"inserts"`
	Updates              int `json:"updates"`
	Deletes              int `json:"deletes"`
	ConflictsResolved    int `json:"conflicts_resolved"`
	ManualReviewRequired int `json:"manual_review_required"`
}
