package detector

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resilience-notifier/internal/models"
)

type fakeStore struct {
	breaches    []models.BreachEvent
	enqueued    []models.QueueEntry
	alertSent   map[uuid.UUID]bool
	failCreate  bool
	failEnqueue bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{alertSent: make(map[uuid.UUID]bool)}
}

func (f *fakeStore) CreateBreach(_ context.Context, b models.BreachEvent) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	f.breaches = append(f.breaches, b)
	return nil
}

func (f *fakeStore) MarkBreachAlertSent(_ context.Context, id uuid.UUID) error {
	f.alertSent[id] = true
	return nil
}

func (f *fakeStore) EnqueueBulk(_ context.Context, entries []models.QueueEntry) error {
	if f.failEnqueue {
		return errors.New("enqueue failed")
	}
	f.enqueued = append(f.enqueued, entries...)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		variance float64
		want     models.Severity
	}{
		{0, models.SeverityLow},
		{9.9, models.SeverityLow},
		{10, models.SeverityMedium},
		{24.9, models.SeverityMedium},
		{25, models.SeverityHigh},
		{49.9, models.SeverityHigh},
		{50, models.SeverityCritical},
		{300, models.SeverityCritical},
		{-60, models.SeverityCritical}, // undershoot breaches classify by magnitude
		{-12, models.SeverityMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySeverity(tt.variance), "variance %.1f", tt.variance)
	}
}

func TestLogToleranceBreach(t *testing.T) {
	store := newFakeStore()
	det := New(store, testLogger(), 3)

	recipients := []Recipient{
		{ID: "u1", Address: "ops@example.com", Channel: models.ChannelEmail},
		{ID: "u2", Address: "+15550001111", Channel: models.ChannelSMS},
	}
	id, err := det.LogToleranceBreach(context.Background(), BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "payment-processing",
		ActualValue:    120,
		ThresholdValue: 100,
		BusinessImpact: "settlement delays",
		Recipients:     recipients,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	require.Len(t, store.breaches, 1)
	b := store.breaches[0]
	assert.Equal(t, id, b.ID)
	assert.InDelta(t, 20.0, b.VariancePct, 1e-9)
	assert.Equal(t, models.SeverityMedium, b.Severity)
	assert.Equal(t, models.ResolutionOpen, b.ResolutionStatus)
	assert.False(t, b.AlertSent)
	assert.False(t, b.BoardReported)

	require.Len(t, store.enqueued, 2)
	for _, e := range store.enqueued {
		assert.Equal(t, models.StatusQueued, e.Status)
		assert.Equal(t, models.PriorityMedium, e.Priority)
		assert.Equal(t, 3, e.MaxRetries)
		assert.Equal(t, "tolerance_breach", e.Type)
	}
	assert.Equal(t, models.ChannelEmail, store.enqueued[0].Channel)
	assert.Equal(t, models.ChannelSMS, store.enqueued[1].Channel)
	assert.True(t, store.alertSent[id])
}

func TestLogToleranceBreach_ZeroThreshold(t *testing.T) {
	store := newFakeStore()
	det := New(store, testLogger(), 3)

	_, err := det.LogToleranceBreach(context.Background(), BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "ops",
		ActualValue:    5,
		ThresholdValue: 0,
	})
	require.ErrorIs(t, err, ErrZeroThreshold)
	assert.Empty(t, store.breaches)
	assert.Empty(t, store.enqueued)
}

func TestLogToleranceBreach_CriticalSeverityGetsCriticalPriority(t *testing.T) {
	store := newFakeStore()
	det := New(store, testLogger(), 3)

	_, err := det.LogToleranceBreach(context.Background(), BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "clearing",
		ActualValue:    200,
		ThresholdValue: 100,
		Recipients:     []Recipient{{ID: "u1", Address: "ops@example.com", Channel: models.ChannelEmail}},
	})
	require.NoError(t, err)
	require.Len(t, store.breaches, 1)
	assert.Equal(t, models.SeverityCritical, store.breaches[0].Severity)
	require.Len(t, store.enqueued, 1)
	assert.Equal(t, models.PriorityCritical, store.enqueued[0].Priority)
}

func TestLogToleranceBreach_EnqueueFailureKeepsBreach(t *testing.T) {
	store := newFakeStore()
	store.failEnqueue = true
	det := New(store, testLogger(), 3)

	id, err := det.LogToleranceBreach(context.Background(), BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "reporting",
		ActualValue:    130,
		ThresholdValue: 100,
		Recipients:     []Recipient{{ID: "u1", Address: "ops@example.com", Channel: models.ChannelEmail}},
	})
	// The breach record survives; alert_sent stays false as the durable
	// signal that alerting was not confirmed.
	require.NoError(t, err)
	require.Len(t, store.breaches, 1)
	assert.False(t, store.alertSent[id])
}

func TestLogToleranceBreach_PersistFailure(t *testing.T) {
	store := newFakeStore()
	store.failCreate = true
	det := New(store, testLogger(), 3)

	id, err := det.LogToleranceBreach(context.Background(), BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "reporting",
		ActualValue:    130,
		ThresholdValue: 100,
	})
	require.Error(t, err)
	assert.Equal(t, uuid.Nil, id)
	assert.Empty(t, store.enqueued)
}

func TestEvaluateMeasurement(t *testing.T) {
	store := newFakeStore()
	det := New(store, testLogger(), 3)
	ctx := context.Background()

	breached, id, err := det.EvaluateMeasurement(ctx, BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "trading",
		ActualValue:    90,
		ThresholdValue: 100,
	})
	require.NoError(t, err)
	assert.False(t, breached)
	assert.Equal(t, uuid.Nil, id)
	assert.Empty(t, store.breaches)

	breached, id, err = det.EvaluateMeasurement(ctx, BreachInput{
		OrgID:          uuid.New(),
		ToleranceID:    uuid.New(),
		OperationName:  "trading",
		ActualValue:    110,
		ThresholdValue: 100,
	})
	require.NoError(t, err)
	assert.True(t, breached)
	assert.NotEqual(t, uuid.Nil, id)
	require.Len(t, store.breaches, 1)
}
