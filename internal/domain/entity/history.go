package entity

import "time"

// TransitionRecord is one append-only audit entry of a document's workflow.
// Sequence carries insertion order; Timestamp is informational only.
type TransitionRecord struct {
	DocumentID     string    `json:"document_id"`
	Sequence       int64     `json:"sequence"`
	Action         string    `json:"action"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	PerformedBy    Actor     `json:"performed_by"`
	Notes          string    `json:"notes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
