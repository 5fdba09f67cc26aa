package domain

import "encoding"

type UploadStatus string

const (
	UploadQueued    UploadStatus = "QUEUED"
	UploadUploading UploadStatus = "UPLOADING"
	UploadSucceeded UploadStatus = "SUCCEEDED"
	UploadFailed    UploadStatus = "FAILED"
)

// UploadTask is one entry in the visible upload list. The registry is the
// only owner of task state; the orchestrator mutates tasks exclusively
// through registry operations.
type UploadTask struct {
	ID          string       `json:"id"`
	Path        string       `json:"-"`
	DisplayName string       `json:"displayName"`
	ByteSize    int64        `json:"byteSize"`
	MimeType    string       `json:"mimeType"`
	Status      UploadStatus `json:"status"`
	Progress    int          `json:"progressPercent"` // 0..100
}

// Terminal reports whether no further transitions occur for the task.
func (s UploadStatus) Terminal() bool {
	return s == UploadSucceeded || s == UploadFailed
}

// UploadReceipt is the upload endpoint response correlating a stored
// document to its asynchronous processing job.
type UploadReceipt struct {
	DocumentID   string `json:"document_id"`
	ProcessingID string `json:"job_id"`
	Message      string `json:"message,omitempty"`
}

var (
	_ encoding.BinaryMarshaler = UploadStatus("")
	_ encoding.TextMarshaler   = UploadStatus("")
)

func (s UploadStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s UploadStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
