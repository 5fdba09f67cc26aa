package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no entry.
var ErrNotFound = errors.New("not found")

// Entry is one cached resource value plus its staleness flag. Staleness is
// cleared only by a successful refetch (Put); push events merely request
// invalidation via MarkStale, so a partially-shaped push payload can never
// corrupt a cached value.
type Entry struct {
	Value     []byte    `json:"value,omitempty"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a keyed result cache shared by the upload and reconciliation
// paths. MarkStale is idempotent: flagging an already-stale entry is a no-op,
// and flagging a missing key creates a valueless stale placeholder so
// dependent views know a fetch is due.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, value []byte) error
	MarkStale(ctx context.Context, key string) error
	Health(ctx context.Context) error
	Close() error
}

// Logical resource keys consumed by the display layer.
const KeyDocumentList = "document-list"

func KeyProcessingStatus(processingID string) string {
	return "processing-status:" + processingID
}

func KeyDocumentAnalysis(documentID string) string {
	return "document-analysis:" + documentID
}
