package uploader

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Rules is the recognized validation configuration consumed before any
// network activity.
type Rules struct {
	AllowedMimeTypes []string
	MaxFileSizeBytes int64
	MaxFilesPerBatch int
}

// Rejection categories, used as the reason label on the rejection counter.
const (
	RejectBatch      = "batch"
	RejectUnreadable = "unreadable"
	RejectSize       = "size"
	RejectMime       = "mime"
)

// ValidationError rejects a file locally. It is never retried and never
// reaches the registry or the network. Category is one of the Reject*
// constants; Reason is the human-readable message.
type ValidationError struct {
	Name     string
	Category string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

type candidate struct {
	path string
	name string
	size int64
	mime string
}

// validate resolves and checks one file. accepted is how many files of the
// current submission already passed, for the batch limit.
func (o *Orchestrator) validate(path string, accepted int) (candidate, *ValidationError) {
	name := filepath.Base(path)

	if o.rules.MaxFilesPerBatch > 0 && accepted >= o.rules.MaxFilesPerBatch {
		return candidate{}, &ValidationError{Name: name, Category: RejectBatch,
			Reason: fmt.Sprintf("batch limit of %d files exceeded", o.rules.MaxFilesPerBatch)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return candidate{}, &ValidationError{Name: name, Category: RejectUnreadable, Reason: "file not readable"}
	}
	if info.IsDir() {
		return candidate{}, &ValidationError{Name: name, Category: RejectUnreadable, Reason: "is a directory"}
	}
	if o.rules.MaxFileSizeBytes > 0 && info.Size() > o.rules.MaxFileSizeBytes {
		return candidate{}, &ValidationError{Name: name, Category: RejectSize,
			Reason: fmt.Sprintf("file too large, maximum size is %d bytes", o.rules.MaxFileSizeBytes)}
	}

	mt := detectMime(path)
	if !o.rules.mimeAllowed(mt) {
		return candidate{}, &ValidationError{Name: name, Category: RejectMime,
			Reason: fmt.Sprintf("file type not allowed: %s", mt)}
	}

	return candidate{path: path, name: name, size: info.Size(), mime: mt}, nil
}

func (r Rules) mimeAllowed(mt string) bool {
	if len(r.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range r.AllowedMimeTypes {
		if strings.EqualFold(allowed, mt) {
			return true
		}
	}
	return false
}

func detectMime(path string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" {
		mt = "application/octet-stream"
	}
	return mt
}
