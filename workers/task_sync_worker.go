// workers/task_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"rewards-ledger-system/logging"
	"rewards-ledger-system/services"

	"go.uber.org/zap"
)

// TaskChangesResponse is the upstream registry's change feed.
type TaskChangesResponse struct {
	Tasks []services.ExternalTask `json:"tasks"`
}

// TaskUpserter is the part of the task service the worker writes through.
type TaskUpserter interface {
	UpsertExternal(ctx context.Context, batch []services.ExternalTask) (int, error)
}

// TaskSyncWorker mirrors tasks published by an upstream registry into the
// local task table.
type TaskSyncWorker struct {
	tasks        TaskUpserter
	interval     time.Duration
	baseURL      string // e.g. "http://localhost:8500"
	endpointPath string // e.g. "/api/v1/public/tasks"
	serviceToken string
	httpClient   *http.Client

	mu     sync.Mutex
	cursor time.Time // newest upstream updated_at seen so far
}

func NewTaskSyncWorker(tasks TaskUpserter, baseURL, endpointPath, serviceToken string, interval time.Duration) *TaskSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TaskSyncWorker{
		tasks:        tasks,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *TaskSyncWorker) Start(ctx context.Context) {
	logging.Logger.Info("🔁 Starting task sync worker", zap.String("registry", w.baseURL))
	go w.run(ctx)
}

func (w *TaskSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		logging.Logger.Warn("[SYNC] initial task sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				logging.Logger.Error("[SYNC] task sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			logging.Logger.Info("⏹️ Task sync worker stopped")
			return
		}
	}
}

// Cursor returns the updated_at watermark of the last applied batch.
func (w *TaskSyncWorker) Cursor() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// SyncOnce fetches changes since the cursor and applies them.
func (w *TaskSyncWorker) SyncOnce(ctx context.Context) error {
	since := w.Cursor()
	batch, err := w.fetch(ctx, since)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		logging.Logger.Debug("[SYNC] no task changes", zap.Time("since", since))
		return nil
	}

	n, err := w.tasks.UpsertExternal(ctx, batch)
	if err != nil {
		return err
	}

	newest := since
	for _, t := range batch {
		if t.UpdatedAt.After(newest) {
			newest = t.UpdatedAt
		}
	}
	w.mu.Lock()
	w.cursor = newest
	w.mu.Unlock()

	logging.Logger.Info("[SYNC] 📥 tasks synced", zap.Int("received", len(batch)), zap.Int("applied", n))
	return nil
}

func (w *TaskSyncWorker) fetch(ctx context.Context, since time.Time) ([]services.ExternalTask, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid task registry URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	if w.serviceToken != "" {
		req.Header.Set("X-Service-Token", w.serviceToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("task registry request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("task registry returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded TaskChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode task registry response: %w", err)
	}
	return decoded.Tasks, nil
}
