package domain

import (
	"encoding"
	"strings"
	"time"
)

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingInProgress ProcessingStatus = "PROCESSING"
	ProcessingCompleted  ProcessingStatus = "COMPLETED"
	ProcessingFailed     ProcessingStatus = "FAILED"
)

// Terminal reports whether no further transitions occur for the job.
func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

// ParseProcessingStatus normalizes the wire form ("completed", "COMPLETED")
// into a ProcessingStatus. Unrecognized values map to ProcessingPending so a
// new server-side state degrades to "keep watching" instead of an error.
func ParseProcessingStatus(raw string) ProcessingStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PROCESSING", "IN_PROGRESS", "STARTED":
		return ProcessingInProgress
	case "COMPLETED", "COMPLETE", "DONE":
		return ProcessingCompleted
	case "FAILED", "ERROR":
		return ProcessingFailed
	default:
		return ProcessingPending
	}
}

// ProcessingStatusRecord is a snapshot of one server-side processing job.
// Records arrive from two independent paths (push events and polling); both
// are equally authoritative, with ObservedAt breaking ties.
type ProcessingStatusRecord struct {
	ProcessingID string           `json:"job_id"`
	DocumentID   string           `json:"document_id"`
	Status       ProcessingStatus `json:"status"`
	Progress     int              `json:"progress,omitempty"` // 0..100
	CurrentStep  string           `json:"current_step,omitempty"`
	RetryCount   int              `json:"retry_count,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	// ObservedAt is the server timestamp when present, otherwise the client
	// arrival time of the snapshot.
	ObservedAt time.Time `json:"observed_at"`
}

var (
	_ encoding.BinaryMarshaler = ProcessingStatus("")
	_ encoding.TextMarshaler   = ProcessingStatus("")
)

func (s ProcessingStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s ProcessingStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
