package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/docsync/internal/tracing"
	"github.com/osvaldoandrade/docsync/pkg/domain"
)

// ErrJobNotFound is returned when the status endpoint has no record for a
// processing id.
var ErrJobNotFound = errors.New("processing job not found")

// TransferError is a network or server rejection of an in-flight upload. It
// is reported per file; the upload queue continues past it.
type TransferError struct {
	StatusCode int
	Message    string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer rejected: status %d: %s", e.StatusCode, e.Message)
}

// ProgressFunc receives transfer progress as bytes sent out of total.
type ProgressFunc func(sent, total int64)

// Client talks to the document service's upload and status endpoints. The
// bearer token is opaque to the client; minting and refreshing it is the
// caller's concern.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		logger:     logger.With("component", "transport"),
	}
}

// UploadDocument streams one file to the upload endpoint as a multipart
// request, reporting progress as the file body drains. It returns the
// server's receipt correlating the stored document to its processing job.
func (c *Client) UploadDocument(ctx context.Context, path, mimeType string, onProgress ProgressFunc) (*domain.UploadReceipt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}
	total := info.Size()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &countingReader{r: f, total: total, fn: onProgress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents/upload", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if mimeType != "" {
		req.Header.Set("X-Upload-Content-Type", mimeType)
	}
	c.authorize(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransferError{StatusCode: resp.StatusCode, Message: snippet(body)}
	}

	var receipt domain.UploadReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("decode upload receipt: %w", err)
	}
	if receipt.ProcessingID == "" {
		return nil, fmt.Errorf("upload receipt missing job id")
	}
	return &receipt, nil
}

// GetProcessingStatus fetches one status snapshot. Used both for interval
// polling and as the historical basis when the channel is down.
func (c *Client) GetProcessingStatus(ctx context.Context, processingID string) (*domain.ProcessingStatusRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/processing/jobs/"+processingID, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, snippet(body))
	}

	var wire statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return wire.toRecord(), nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.InjectHeaders(ctx, req.Header)
}

type statusResponse struct {
	JobID        string `json:"job_id"`
	DocumentID   string `json:"document_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStep  string `json:"current_step"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message"`
	UpdatedAt    string `json:"updated_at"`
	CompletedAt  string `json:"completed_at"`
}

func (w statusResponse) toRecord() *domain.ProcessingStatusRecord {
	rec := &domain.ProcessingStatusRecord{
		ProcessingID: w.JobID,
		DocumentID:   w.DocumentID,
		Status:       domain.ParseProcessingStatus(w.Status),
		Progress:     w.Progress,
		CurrentStep:  w.CurrentStep,
		RetryCount:   w.RetryCount,
		ErrorMessage: w.ErrorMessage,
		ObservedAt:   time.Now().UTC(),
	}
	// Prefer the server clock when the snapshot carries one.
	for _, raw := range []string{w.CompletedAt, w.UpdatedAt} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.ObservedAt = ts
			break
		}
	}
	return rec
}

type countingReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.sent += int64(n)
		if cr.fn != nil {
			cr.fn(cr.sent, cr.total)
		}
	}
	return n, err
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
