package dispatcher

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/models"
)

var (
	claimedTotal = metrics.NewCounter(`notifications_claimed_total`)
	sentTotal    = metrics.NewCounter(`notifications_sent_total`)
	retriedTotal = metrics.NewCounter(`notifications_retried_total`)
	failedTotal  = metrics.NewCounter(`notifications_failed_total`)
)

// Store is the queue persistence surface the dispatcher drives.
type Store interface {
	ClaimDue(ctx context.Context, limit int) ([]models.QueueEntry, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, next time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	RecordBatchResult(ctx context.Context, id uuid.UUID, success bool) error
	CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error)
	CountRetryPending(ctx context.Context) (int, error)
}

// SendFunc delivers one queue entry over its channel.
type SendFunc func(ctx context.Context, e models.QueueEntry) error

// Dispatcher drives queued notifications to completion, one bounded batch per
// tick. Entries are claimed atomically (the claim marks them processing), so
// multiple dispatcher replicas can run against the same queue without
// double-delivering.
type Dispatcher struct {
	store       Store
	logger      *logrus.Logger
	providers   map[models.Channel]SendFunc
	tick        time.Duration
	batchSize   int
	sendTimeout time.Duration

	// re-entrancy guard for overlapping ticks within one process
	processing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Dispatcher. The providers map binds each channel to its
// delivery function; entries for channels absent from the map fail
// permanently.
func New(store Store, providers map[models.Channel]SendFunc, logger *logrus.Logger, cfg config.Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:       store,
		logger:      logger,
		providers:   providers,
		tick:        cfg.Dispatcher.TickInterval,
		batchSize:   cfg.Dispatcher.BatchSize,
		sendTimeout: cfg.Dispatcher.SendTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the polling loop.
func (d *Dispatcher) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		d.logger.Infof("Dispatcher started (tick=%s batch=%d)", d.tick, d.batchSize)
		for {
			select {
			case <-d.ctx.Done():
				d.logger.Info("Dispatcher stopped")
				return
			case <-ticker.C:
				if _, err := d.ProcessQueue(d.ctx); err != nil {
					d.logger.WithError(err).Error("Queue pass failed")
				}
			}
		}
	}()
}

// Stop cancels the polling loop. Entries already claimed in the current pass
// finish; nothing new is claimed.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// ProcessQueue runs a single dispatch pass: claim up to batchSize due
// entries, deliver them sequentially in priority order, and report how many
// were handled. Overlapping invocations within one process are coalesced.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (int, error) {
	if !d.processing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer d.processing.Store(false)

	entries, err := d.store.ClaimDue(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	claimedTotal.Add(len(entries))

	// UPDATE ... RETURNING does not preserve the claim ordering; restore
	// priority-descending, oldest-first delivery order.
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Priority.Rank(), entries[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	for _, e := range entries {
		d.processEntry(ctx, e)
	}
	return len(entries), nil
}

// processEntry delivers one claimed entry and finalizes its state. Errors are
// contained here so one bad entry never aborts the rest of the batch.
func (d *Dispatcher) processEntry(ctx context.Context, e models.QueueEntry) {
	log := d.logger.WithFields(logrus.Fields{
		"notification_id": e.ID,
		"channel":         e.Channel,
		"priority":        e.Priority,
	})

	send, ok := d.providers[e.Channel]
	if !ok {
		log.Error("No provider for channel")
		d.finalizeFailure(ctx, e, "no provider configured for channel "+string(e.Channel))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err := send(callCtx, e)
	cancel()

	if err == nil {
		sentAt := time.Now()
		if err := d.store.MarkSent(ctx, e.ID, sentAt); err != nil {
			log.WithError(err).Error("Failed to mark notification sent")
			return
		}
		sentTotal.Inc()
		d.recordBatchResult(ctx, e, true)
		log.Info("Notification sent")
		return
	}

	if e.RetryCount < e.MaxRetries {
		retryCount := e.RetryCount + 1
		next := time.Now().Add(Backoff(retryCount))
		if serr := d.store.ScheduleRetry(ctx, e.ID, retryCount, next, err.Error()); serr != nil {
			log.WithError(serr).Error("Failed to schedule retry")
			return
		}
		retriedTotal.Inc()
		log.WithError(err).Warnf("Delivery failed, retry %d/%d scheduled for %s",
			retryCount, e.MaxRetries, next.Format(time.RFC3339))
		return
	}

	log.WithError(err).Error("Delivery failed, retries exhausted")
	d.finalizeFailure(ctx, e, err.Error())
}

func (d *Dispatcher) finalizeFailure(ctx context.Context, e models.QueueEntry, lastError string) {
	if err := d.store.MarkFailed(ctx, e.ID, lastError); err != nil {
		d.logger.WithError(err).WithField("notification_id", e.ID).
			Error("Failed to mark notification failed")
		return
	}
	failedTotal.Inc()
	d.recordBatchResult(ctx, e, false)
}

func (d *Dispatcher) recordBatchResult(ctx context.Context, e models.QueueEntry, success bool) {
	if e.BatchJobID == nil {
		return
	}
	if err := d.store.RecordBatchResult(ctx, *e.BatchJobID, success); err != nil {
		d.logger.WithError(err).WithField("batch_job_id", *e.BatchJobID).
			Error("Failed to record batch result")
	}
}

// Backoff returns the delay before the attempt numbered retryCount. The base
// delay doubles per retry (2, 4, 8, ... minutes); a bounded random jitter of
// up to a quarter of the base keeps simultaneous failures from retrying in
// lockstep while preserving strictly increasing delays.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 10 {
		retryCount = 10
	}
	base := time.Duration(1<<uint(retryCount)) * time.Minute
	jitter := time.Duration(rand.Int63n(int64(base / 4)))
	return base + jitter
}

// QueueMetrics is a point-in-time aggregate of queue health.
type QueueMetrics struct {
	QueueSize    int     `json:"queue_size"`
	Processing   int     `json:"processing"`
	Sent         int     `json:"sent"`
	Failed       int     `json:"failed"`
	Cancelled    int     `json:"cancelled"`
	RetryPending int     `json:"retry_pending"`
	SuccessRate  float64 `json:"success_rate"`
}

// Metrics recomputes the aggregate from the store. Consistent with the
// database at read time, not a maintained running counter.
func (d *Dispatcher) Metrics(ctx context.Context) (QueueMetrics, error) {
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		return QueueMetrics{}, err
	}
	retryPending, err := d.store.CountRetryPending(ctx)
	if err != nil {
		return QueueMetrics{}, err
	}

	m := QueueMetrics{
		QueueSize:    counts[models.StatusQueued],
		Processing:   counts[models.StatusProcessing],
		Sent:         counts[models.StatusSent],
		Failed:       counts[models.StatusFailed],
		Cancelled:    counts[models.StatusCancelled],
		RetryPending: retryPending,
	}
	if done := m.Sent + m.Failed; done > 0 {
		m.SuccessRate = float64(m.Sent) / float64(done)
	}
	return m, nil
}
