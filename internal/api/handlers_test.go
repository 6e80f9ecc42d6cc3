package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/db"
	"resilience-notifier/internal/detector"
	"resilience-notifier/internal/dispatcher"
	"resilience-notifier/internal/models"
)

// fakeStore backs the handlers, the detector, and the dispatcher in tests
// with the same lifecycle rules the SQL layer enforces.
type fakeStore struct {
	breaches map[uuid.UUID]*models.BreachEvent
	entries  map[uuid.UUID]*models.QueueEntry
	jobs     map[uuid.UUID]*models.BatchJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		breaches: make(map[uuid.UUID]*models.BreachEvent),
		entries:  make(map[uuid.UUID]*models.QueueEntry),
		jobs:     make(map[uuid.UUID]*models.BatchJob),
	}
}

func (f *fakeStore) CreateBreach(_ context.Context, b models.BreachEvent) error {
	copied := b
	f.breaches[b.ID] = &copied
	return nil
}

func (f *fakeStore) GetBreach(_ context.Context, id uuid.UUID) (models.BreachEvent, error) {
	b, ok := f.breaches[id]
	if !ok {
		return models.BreachEvent{}, db.ErrNotFound
	}
	return *b, nil
}

func (f *fakeStore) ListBreaches(_ context.Context, orgID uuid.UUID, statusFilter string, _, _ int) ([]models.BreachEvent, int, error) {
	var list []models.BreachEvent
	for _, b := range f.breaches {
		if b.OrgID == orgID && (statusFilter == "all" || string(b.ResolutionStatus) == statusFilter) {
			list = append(list, *b)
		}
	}
	return list, len(list), nil
}

func (f *fakeStore) EscalateBreach(_ context.Context, id uuid.UUID, level int, target string) error {
	b, ok := f.breaches[id]
	if !ok {
		return db.ErrNotFound
	}
	if b.ResolutionStatus == models.ResolutionResolved {
		return db.ErrInvalidState
	}
	now := time.Now()
	b.EscalationLevel = level
	b.EscalationTarget = target
	b.EscalatedAt = &now
	return nil
}

func (f *fakeStore) UpdateBreachResolution(_ context.Context, id uuid.UUID, status models.ResolutionStatus) error {
	b, ok := f.breaches[id]
	if !ok {
		return db.ErrNotFound
	}
	if b.ResolutionStatus == models.ResolutionResolved {
		return db.ErrInvalidState
	}
	b.ResolutionStatus = status
	if status == models.ResolutionResolved {
		now := time.Now()
		b.ResolutionDate = &now
	}
	return nil
}

func (f *fakeStore) MarkBoardReported(_ context.Context, id uuid.UUID) error {
	b, ok := f.breaches[id]
	if !ok {
		return db.ErrNotFound
	}
	b.BoardReported = true
	return nil
}

func (f *fakeStore) MarkBreachAlertSent(_ context.Context, id uuid.UUID) error {
	b, ok := f.breaches[id]
	if !ok {
		return db.ErrNotFound
	}
	b.AlertSent = true
	return nil
}

func (f *fakeStore) Enqueue(_ context.Context, e models.QueueEntry) error {
	copied := e
	f.entries[e.ID] = &copied
	return nil
}

func (f *fakeStore) EnqueueBulk(ctx context.Context, entries []models.QueueEntry) error {
	for _, e := range entries {
		if err := f.Enqueue(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) GetQueueEntry(_ context.Context, id uuid.UUID) (models.QueueEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return models.QueueEntry{}, db.ErrNotFound
	}
	return *e, nil
}

func (f *fakeStore) ListQueueEntries(_ context.Context, orgID uuid.UUID, statusFilter string, _, _ int) ([]models.QueueEntry, error) {
	var list []models.QueueEntry
	for _, e := range f.entries {
		if e.OrgID == orgID && (statusFilter == "all" || string(e.Status) == statusFilter) {
			list = append(list, *e)
		}
	}
	return list, nil
}

func (f *fakeStore) CancelEntry(_ context.Context, id uuid.UUID) error {
	e, ok := f.entries[id]
	if !ok {
		return db.ErrNotFound
	}
	if e.Status != models.StatusQueued {
		return db.ErrInvalidState
	}
	e.Status = models.StatusCancelled
	return nil
}

func (f *fakeStore) CreateBatchJob(ctx context.Context, job models.BatchJob, entries []models.QueueEntry) error {
	copied := job
	f.jobs[job.ID] = &copied
	return f.EnqueueBulk(ctx, entries)
}

func (f *fakeStore) GetBatchJob(_ context.Context, id uuid.UUID) (models.BatchJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return models.BatchJob{}, db.ErrNotFound
	}
	return *j, nil
}

func (f *fakeStore) CancelBatchJob(_ context.Context, id uuid.UUID) (int, error) {
	j, ok := f.jobs[id]
	if !ok {
		return 0, db.ErrNotFound
	}
	if j.Status != models.BatchPending && j.Status != models.BatchProcessing {
		return 0, db.ErrInvalidState
	}
	j.Status = models.BatchCancelled
	cancelled := 0
	for _, e := range f.entries {
		if e.BatchJobID != nil && *e.BatchJobID == id && e.Status == models.StatusQueued {
			e.Status = models.StatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (f *fakeStore) ClaimDue(context.Context, int) ([]models.QueueEntry, error) { return nil, nil }
func (f *fakeStore) MarkSent(context.Context, uuid.UUID, time.Time) error       { return nil }
func (f *fakeStore) ScheduleRetry(context.Context, uuid.UUID, int, time.Time, string) error {
	return nil
}
func (f *fakeStore) MarkFailed(context.Context, uuid.UUID, string) error      { return nil }
func (f *fakeStore) RecordBatchResult(context.Context, uuid.UUID, bool) error { return nil }
func (f *fakeStore) CountRetryPending(context.Context) (int, error)           { return 0, nil }
func (f *fakeStore) CountByStatus(context.Context) (map[models.QueueStatus]int, error) {
	counts := make(map[models.QueueStatus]int)
	for _, e := range f.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *fakeStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var cfg config.Config
	cfg.API.BasePath = "/api/v1"
	cfg.Dispatcher.TickInterval = time.Second
	cfg.Dispatcher.BatchSize = 100
	cfg.Dispatcher.SendTimeout = time.Second
	cfg.Dispatcher.DefaultMaxRetries = 3

	store := newFakeStore()
	hub := NewAlertHub(logger)
	det := detector.New(store, logger, cfg.Dispatcher.DefaultMaxRetries)
	disp := dispatcher.New(store, nil, logger, cfg)

	return NewRouter(store, det, disp, hub, logger, cfg), store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, orgID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-ID", orgID.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMissingOrgHeader(t *testing.T) {
	r, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/breaches", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBreach(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	w := doJSON(t, r, http.MethodPost, "/api/v1/breaches", orgID, gin.H{
		"tolerance_id":    uuid.New().String(),
		"operation_name":  "payment-processing",
		"actual_value":    150.0,
		"threshold_value": 100.0,
		"business_impact": "settlement delays",
		"recipients": []gin.H{
			{"id": "u1", "address": "ops@example.com", "channel": "email"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, store.breaches, 1)
	for _, b := range store.breaches {
		assert.Equal(t, orgID, b.OrgID)
		assert.InDelta(t, 50.0, b.VariancePct, 1e-9)
		assert.Equal(t, models.SeverityCritical, b.Severity)
		assert.True(t, b.AlertSent)
	}
	require.Len(t, store.entries, 1)
}

func TestCreateBreach_ZeroThreshold(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/breaches", uuid.New(), gin.H{
		"tolerance_id":    uuid.New().String(),
		"operation_name":  "payment-processing",
		"actual_value":    150.0,
		"threshold_value": 0.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreachLifecycle(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	breachID := uuid.New()
	store.breaches[breachID] = &models.BreachEvent{
		ID:               breachID,
		OrgID:            orgID,
		OperationName:    "clearing",
		ResolutionStatus: models.ResolutionOpen,
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/breaches/"+breachID.String()+"/acknowledge", orgID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ResolutionAcknowledged, store.breaches[breachID].ResolutionStatus)

	w = doJSON(t, r, http.MethodPost, "/api/v1/breaches/"+breachID.String()+"/resolve", orgID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ResolutionResolved, store.breaches[breachID].ResolutionStatus)
	assert.NotNil(t, store.breaches[breachID].ResolutionDate)

	// Resolved breaches reject further lifecycle changes.
	w = doJSON(t, r, http.MethodPost, "/api/v1/breaches/"+breachID.String()+"/acknowledge", orgID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEscalateBreachQueuesCriticalNotification(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	breachID := uuid.New()
	store.breaches[breachID] = &models.BreachEvent{
		ID:               breachID,
		OrgID:            orgID,
		OperationName:    "clearing",
		ResolutionStatus: models.ResolutionOpen,
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/breaches/"+breachID.String()+"/escalate", orgID, gin.H{
		"escalation_level":  2,
		"escalation_target": "CRO",
		"recipients": []gin.H{
			{"id": "cro", "address": "cro@example.com", "channel": "email"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 2, store.breaches[breachID].EscalationLevel)
	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, models.PriorityCritical, e.Priority)
		assert.Equal(t, "breach_escalation", e.Type)
	}
}

func TestEnqueueNotification(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	w := doJSON(t, r, http.MethodPost, "/api/v1/notifications", orgID, gin.H{
		"notification_type": "reminder",
		"recipient_id":      "u1",
		"recipient_address": "ops@example.com",
		"channel":           "email",
		"priority":          "high",
		"subject":           "Quarterly attestation due",
		"body":              "Please complete the attestation.",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, models.StatusQueued, e.Status)
		assert.Equal(t, models.PriorityHigh, e.Priority)
		assert.Equal(t, 3, e.MaxRetries)
	}
}

func TestEnqueueNotification_InvalidChannel(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/notifications", uuid.New(), gin.H{
		"notification_type": "reminder",
		"recipient_id":      "u1",
		"channel":           "pigeon",
		"subject":           "s",
		"body":              "b",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelNotification(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	queued := uuid.New()
	store.entries[queued] = &models.QueueEntry{ID: queued, OrgID: orgID, Status: models.StatusQueued}
	sent := uuid.New()
	store.entries[sent] = &models.QueueEntry{ID: sent, OrgID: orgID, Status: models.StatusSent}

	w := doJSON(t, r, http.MethodPost, "/api/v1/notifications/"+queued.String()+"/cancel", orgID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusCancelled, store.entries[queued].Status)

	// Terminal entries are never mutated again.
	w = doJSON(t, r, http.MethodPost, "/api/v1/notifications/"+sent.String()+"/cancel", orgID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.StatusSent, store.entries[sent].Status)

	w = doJSON(t, r, http.MethodPost, "/api/v1/notifications/"+uuid.New().String()+"/cancel", orgID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBatchJob(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	w := doJSON(t, r, http.MethodPost, "/api/v1/batch-jobs", orgID, gin.H{
		"job_name":          "quarterly-reminder",
		"notification_type": "reminder",
		"priority":          "medium",
		"subject":           "Attestation due",
		"body":              "Please complete.",
		"recipients": []gin.H{
			{"id": "u1", "address": "a@example.com", "channel": "email"},
			{"id": "u2", "address": "b@example.com", "channel": "email"},
			{"id": "u3", "address": "123456", "channel": "telegram"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, store.jobs, 1)
	for _, j := range store.jobs {
		assert.Equal(t, models.BatchPending, j.Status)
		assert.Equal(t, 3, j.TotalCount)
	}
	assert.Len(t, store.entries, 3)
}

func TestCancelBatchJobCascade(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	jobID := uuid.New()
	store.jobs[jobID] = &models.BatchJob{ID: jobID, OrgID: orgID, Status: models.BatchProcessing}

	queued := uuid.New()
	store.entries[queued] = &models.QueueEntry{ID: queued, OrgID: orgID, BatchJobID: &jobID, Status: models.StatusQueued}
	processing := uuid.New()
	store.entries[processing] = &models.QueueEntry{ID: processing, OrgID: orgID, BatchJobID: &jobID, Status: models.StatusProcessing}
	sent := uuid.New()
	store.entries[sent] = &models.QueueEntry{ID: sent, OrgID: orgID, BatchJobID: &jobID, Status: models.StatusSent}

	w := doJSON(t, r, http.MethodPost, "/api/v1/batch-jobs/"+jobID.String()+"/cancel", orgID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		EntriesCancelled int `json:"entries_cancelled"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.EntriesCancelled)

	// Cascade hits only still-queued entries.
	assert.Equal(t, models.StatusCancelled, store.entries[queued].Status)
	assert.Equal(t, models.StatusProcessing, store.entries[processing].Status)
	assert.Equal(t, models.StatusSent, store.entries[sent].Status)
	assert.Equal(t, models.BatchCancelled, store.jobs[jobID].Status)

	// A cancelled job cannot be cancelled again.
	w = doJSON(t, r, http.MethodPost, "/api/v1/batch-jobs/"+jobID.String()+"/cancel", orgID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestQueueMetricsEndpoint(t *testing.T) {
	r, store := setupRouter(t)
	orgID := uuid.New()

	for _, status := range []models.QueueStatus{models.StatusQueued, models.StatusSent, models.StatusSent, models.StatusFailed} {
		id := uuid.New()
		store.entries[id] = &models.QueueEntry{ID: id, OrgID: orgID, Status: status}
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/queue/metrics", orgID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var m dispatcher.QueueMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.QueueSize)
	assert.Equal(t, 2, m.Sent)
	assert.Equal(t, 1, m.Failed)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate, 1e-9)
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
