package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/docsync/internal/channel"
	"github.com/osvaldoandrade/docsync/pkg/cache"
	"github.com/osvaldoandrade/docsync/pkg/config"
	"github.com/osvaldoandrade/docsync/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

type scriptedConn struct {
	mu      sync.Mutex
	handler func(string)
	done    chan error
	sent    []string
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{done: make(chan error, 1)}
}

func (c *scriptedConn) Open(ctx context.Context) error { return nil }

func (c *scriptedConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, string(payload))
	return nil
}

func (c *scriptedConn) OnMessage(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

func (c *scriptedConn) Done() <-chan error { return c.done }

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) deliver(frame string) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestUploadAndStatusFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/documents/upload":
			_, _ = io.Copy(io.Discard, r.Body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"document_id": "doc-1",
				"job_id":      "job-1",
				"message":     "accepted",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/processing/jobs/job-1":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"job_id":      "job-1",
				"document_id": "doc-1",
				"status":      "processing",
				"progress":    50,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(apiSrv.Close)

	conn := newScriptedConn()
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	cfg.ServerBaseURL = apiSrv.URL
	cfg.LogLevel = "error"
	cfg.PollIntervalSeconds = 3600
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	application, err := NewApplication(cfg,
		WithConnFactory(func(url string, logger *slog.Logger) channel.Conn { return conn }),
	)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	SetupMappings(application)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = application.Close(context.Background()) })

	waitUntil(t, time.Second, func() bool {
		return application.Channel.Status() == channel.StateOpen
	})

	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	application.Orchestrator.Submit(ctx, []string{path})

	waitUntil(t, 2*time.Second, func() bool {
		tasks := application.Registry.List()
		return len(tasks) == 1 && tasks[0].Status == domain.UploadSucceeded
	})

	// The upload marks the document list stale before any push arrives.
	entry, err := application.Store.Get(ctx, cache.KeyDocumentList)
	if err != nil || !entry.Stale {
		t.Fatalf("expected stale document list, entry=%v err=%v", entry, err)
	}

	// Server pushes a terminal update over the channel.
	conn.deliver(`{"type":"processing_update","payload":{"job_id":"job-1","document_id":"doc-1","status":"completed","progress":100}}`)

	waitUntil(t, 2*time.Second, func() bool {
		st, ok := application.Reconciler.LastKnownStatus("job-1")
		return ok && st == domain.ProcessingCompleted
	})

	viewSrv := httptest.NewServer(application.Engine)
	t.Cleanup(viewSrv.Close)

	var uploads struct {
		Uploads []domain.UploadTask `json:"uploads"`
	}
	getJSON(t, viewSrv.URL+"/v1/uploads", &uploads)
	if len(uploads.Uploads) != 1 || uploads.Uploads[0].Status != domain.UploadSucceeded {
		t.Fatalf("unexpected uploads view: %+v", uploads)
	}

	var status struct {
		Stale bool `json:"stale"`
	}
	getJSON(t, viewSrv.URL+"/v1/processing/job-1", &status)
	if !status.Stale {
		t.Fatal("expected stale processing entry until a refetch lands")
	}

	var freshness struct {
		Known bool `json:"known"`
		Stale bool `json:"stale"`
	}
	getJSON(t, viewSrv.URL+"/v1/documents/freshness", &freshness)
	if !freshness.Known || !freshness.Stale {
		t.Fatalf("unexpected freshness view: %+v", freshness)
	}

	var health struct {
		Status string `json:"status"`
	}
	getJSON(t, viewSrv.URL+"/healthz", &health)
	if health.Status != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestApplicationRedisCacheProvider(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	cfg.ServerBaseURL = "http://api.local:8080"
	cfg.LogLevel = "error"
	cfg.CacheProvider = "redis"
	cfg.RedisAddr = mr.Addr()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	t.Cleanup(func() { _ = application.Store.Close() })

	ctx := context.Background()
	if err := application.Store.Health(ctx); err != nil {
		t.Fatalf("redis store health: %v", err)
	}
	if err := application.Store.Put(ctx, cache.KeyProcessingStatus("job-x"), []byte(`{}`)); err != nil {
		t.Fatalf("redis store put: %v", err)
	}
	entry, err := application.Store.Get(ctx, cache.KeyProcessingStatus("job-x"))
	if err != nil || entry.Stale {
		t.Fatalf("unexpected entry from redis store: %+v err=%v", entry, err)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s status %d body=%s", url, resp.StatusCode, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
