package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/db"
	"resilience-notifier/internal/detector"
	"resilience-notifier/internal/dispatcher"
	"resilience-notifier/internal/models"
)

// Store is the persistence surface the HTTP handlers need. *db.DB satisfies
// it.
type Store interface {
	GetBreach(ctx context.Context, id uuid.UUID) (models.BreachEvent, error)
	ListBreaches(ctx context.Context, orgID uuid.UUID, statusFilter string, limit, offset int) ([]models.BreachEvent, int, error)
	EscalateBreach(ctx context.Context, id uuid.UUID, level int, target string) error
	UpdateBreachResolution(ctx context.Context, id uuid.UUID, status models.ResolutionStatus) error
	MarkBoardReported(ctx context.Context, id uuid.UUID) error

	Enqueue(ctx context.Context, e models.QueueEntry) error
	EnqueueBulk(ctx context.Context, entries []models.QueueEntry) error
	GetQueueEntry(ctx context.Context, id uuid.UUID) (models.QueueEntry, error)
	ListQueueEntries(ctx context.Context, orgID uuid.UUID, statusFilter string, limit, offset int) ([]models.QueueEntry, error)
	CancelEntry(ctx context.Context, id uuid.UUID) error

	CreateBatchJob(ctx context.Context, job models.BatchJob, entries []models.QueueEntry) error
	GetBatchJob(ctx context.Context, id uuid.UUID) (models.BatchJob, error)
	CancelBatchJob(ctx context.Context, id uuid.UUID) (int, error)
}

type Handler struct {
	store  Store
	det    *detector.Detector
	disp   *dispatcher.Dispatcher
	hub    *AlertHub
	logger *logrus.Logger
	cfg    config.Config
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func validChannel(ch models.Channel) bool {
	switch ch {
	case models.ChannelEmail, models.ChannelSMS, models.ChannelSlack,
		models.ChannelWebhook, models.ChannelTelegram:
		return true
	}
	return false
}

func validPriority(p models.Priority) bool {
	return p.Rank() > 0
}

// CreateBreach logs a tolerance breach through the detector.
func (h *Handler) CreateBreach(c *gin.Context) {
	var req struct {
		ToleranceID    string               `json:"tolerance_id" binding:"required"`
		OperationName  string               `json:"operation_name" binding:"required"`
		ActualValue    float64              `json:"actual_value"`
		ThresholdValue float64              `json:"threshold_value"`
		BusinessImpact string               `json:"business_impact"`
		Recipients     []detector.Recipient `json:"recipients"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	toleranceID, err := uuid.Parse(req.ToleranceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tolerance_id"})
		return
	}
	for _, r := range req.Recipients {
		if !validChannel(r.Channel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient channel"})
			return
		}
	}

	id, err := h.det.LogToleranceBreach(c.Request.Context(), detector.BreachInput{
		OrgID:          orgFromContext(c),
		ToleranceID:    toleranceID,
		OperationName:  req.OperationName,
		ActualValue:    req.ActualValue,
		ThresholdValue: req.ThresholdValue,
		BusinessImpact: req.BusinessImpact,
		Recipients:     req.Recipients,
	})
	if err != nil {
		if errors.Is(err, detector.ErrZeroThreshold) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Log breach failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log breach"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListBreaches returns an organization's breaches, newest first.
func (h *Handler) ListBreaches(c *gin.Context) {
	limit, offset := pagination(c)
	status := c.DefaultQuery("status", "all")

	breaches, total, err := h.store.ListBreaches(c.Request.Context(), orgFromContext(c), status, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("List breaches failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list breaches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"breaches": breaches, "total": total})
}

func (h *Handler) GetBreach(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	breach, err := h.store.GetBreach(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "breach not found"})
			return
		}
		h.logger.WithError(err).Error("Get breach failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get breach"})
		return
	}
	c.JSON(http.StatusOK, breach)
}

// EscalateBreach raises a breach's escalation level and queues a
// critical-priority notification for each escalation recipient.
func (h *Handler) EscalateBreach(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Level      int                  `json:"escalation_level" binding:"required"`
		Target     string               `json:"escalation_target" binding:"required"`
		Recipients []detector.Recipient `json:"recipients"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.store.EscalateBreach(ctx, id, req.Level, req.Target); err != nil {
		h.respondLifecycleError(c, err, "escalate breach")
		return
	}

	breach, err := h.store.GetBreach(ctx, id)
	if err != nil {
		h.logger.WithError(err).Error("Get breach after escalation failed")
		c.JSON(http.StatusOK, gin.H{"message": "breach escalated"})
		return
	}

	if len(req.Recipients) > 0 {
		now := time.Now()
		entries := make([]models.QueueEntry, 0, len(req.Recipients))
		for _, r := range req.Recipients {
			entries = append(entries, models.QueueEntry{
				ID:               uuid.New(),
				OrgID:            breach.OrgID,
				Type:             "breach_escalation",
				RecipientID:      r.ID,
				RecipientAddress: r.Address,
				Channel:          r.Channel,
				Priority:         models.PriorityCritical,
				Subject:          "Escalated tolerance breach: " + breach.OperationName,
				Body: "Breach " + breach.ID.String() + " has been escalated to level " +
					strconv.Itoa(req.Level) + " (" + req.Target + ").",
				TemplateID:   "breach_escalation_alert",
				ScheduledFor: now,
				MaxRetries:   h.cfg.Dispatcher.DefaultMaxRetries,
				Status:       models.StatusQueued,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
		if err := h.store.EnqueueBulk(ctx, entries); err != nil {
			h.logger.WithError(err).Error("Enqueue escalation notifications failed")
		}
	}

	c.JSON(http.StatusOK, breach)
}

func (h *Handler) AcknowledgeBreach(c *gin.Context) {
	h.updateResolution(c, models.ResolutionAcknowledged)
}

func (h *Handler) ProgressBreach(c *gin.Context) {
	h.updateResolution(c, models.ResolutionInProgress)
}

func (h *Handler) ResolveBreach(c *gin.Context) {
	h.updateResolution(c, models.ResolutionResolved)
}

func (h *Handler) updateResolution(c *gin.Context, status models.ResolutionStatus) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.UpdateBreachResolution(c.Request.Context(), id, status); err != nil {
		h.respondLifecycleError(c, err, "update breach resolution")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolution_status": status})
}

func (h *Handler) MarkBoardReported(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.MarkBoardReported(c.Request.Context(), id); err != nil {
		h.respondLifecycleError(c, err, "mark board reported")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "board_reported": true})
}

// EnqueueNotification inserts one entry on the durable queue.
func (h *Handler) EnqueueNotification(c *gin.Context) {
	var req struct {
		Type             string          `json:"notification_type" binding:"required"`
		RecipientID      string          `json:"recipient_id" binding:"required"`
		RecipientAddress string          `json:"recipient_address"`
		Channel          models.Channel  `json:"channel" binding:"required"`
		Priority         models.Priority `json:"priority"`
		Subject          string          `json:"subject" binding:"required"`
		Body             string          `json:"body" binding:"required"`
		TemplateID       string          `json:"template_id"`
		TemplateData     map[string]any  `json:"template_data"`
		ScheduledFor     *time.Time      `json:"scheduled_for"`
		MaxRetries       *int            `json:"max_retries"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validChannel(req.Channel) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !validPriority(req.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
		return
	}

	now := time.Now()
	entry := models.QueueEntry{
		ID:               uuid.New(),
		OrgID:            orgFromContext(c),
		Type:             req.Type,
		RecipientID:      req.RecipientID,
		RecipientAddress: req.RecipientAddress,
		Channel:          req.Channel,
		Priority:         req.Priority,
		Subject:          req.Subject,
		Body:             req.Body,
		TemplateID:       req.TemplateID,
		TemplateData:     req.TemplateData,
		ScheduledFor:     now,
		MaxRetries:       h.cfg.Dispatcher.DefaultMaxRetries,
		Status:           models.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.ScheduledFor != nil {
		entry.ScheduledFor = *req.ScheduledFor
	}
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		entry.MaxRetries = *req.MaxRetries
	}

	if err := h.store.Enqueue(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).Error("Enqueue notification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue notification"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	limit, offset := pagination(c)
	status := c.DefaultQuery("status", "all")

	entries, err := h.store.ListQueueEntries(c.Request.Context(), orgFromContext(c), status, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("List notifications failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": entries})
}

func (h *Handler) GetNotification(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entry, err := h.store.GetQueueEntry(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.WithError(err).Error("Get notification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get notification"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// CancelNotification cancels a still-queued entry on operator request.
func (h *Handler) CancelNotification(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.CancelEntry(c.Request.Context(), id); err != nil {
		h.respondLifecycleError(c, err, "cancel notification")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusCancelled})
}

// CreateBatchJob expands a recipient list into a named bulk-send job plus its
// queued entries.
func (h *Handler) CreateBatchJob(c *gin.Context) {
	var req struct {
		Name         string               `json:"job_name" binding:"required"`
		Type         string               `json:"notification_type" binding:"required"`
		Priority     models.Priority      `json:"priority"`
		Subject      string               `json:"subject" binding:"required"`
		Body         string               `json:"body" binding:"required"`
		TemplateID   string               `json:"template_id"`
		BatchSize    int                  `json:"batch_size"`
		ScheduledFor *time.Time           `json:"scheduled_for"`
		Filter       map[string]any       `json:"recipient_filter"`
		Recipients   []detector.Recipient `json:"recipients" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !validPriority(req.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
		return
	}
	for _, r := range req.Recipients {
		if !validChannel(r.Channel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient channel"})
			return
		}
	}
	if req.BatchSize <= 0 {
		req.BatchSize = h.cfg.Dispatcher.BatchSize
	}

	now := time.Now()
	scheduledFor := now
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}

	jobID := uuid.New()
	orgID := orgFromContext(c)
	job := models.BatchJob{
		ID:              jobID,
		OrgID:           orgID,
		Name:            req.Name,
		Status:          models.BatchPending,
		TotalCount:      len(req.Recipients),
		BatchSize:       req.BatchSize,
		TemplateID:      req.TemplateID,
		RecipientFilter: req.Filter,
		ScheduledFor:    &scheduledFor,
		CreatedAt:       now,
	}

	entries := make([]models.QueueEntry, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		entries = append(entries, models.QueueEntry{
			ID:               uuid.New(),
			OrgID:            orgID,
			BatchJobID:       &jobID,
			Type:             req.Type,
			RecipientID:      r.ID,
			RecipientAddress: r.Address,
			Channel:          r.Channel,
			Priority:         req.Priority,
			Subject:          req.Subject,
			Body:             req.Body,
			TemplateID:       req.TemplateID,
			ScheduledFor:     scheduledFor,
			MaxRetries:       h.cfg.Dispatcher.DefaultMaxRetries,
			Status:           models.StatusQueued,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	if err := h.store.CreateBatchJob(c.Request.Context(), job, entries); err != nil {
		h.logger.WithError(err).Error("Create batch job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create batch job"})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) GetBatchJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	job, err := h.store.GetBatchJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch job not found"})
			return
		}
		h.logger.WithError(err).Error("Get batch job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get batch job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelBatchJob cancels a pending or processing job, cascading to its
// still-queued entries.
func (h *Handler) CancelBatchJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cancelled, err := h.store.CancelBatchJob(c.Request.Context(), id)
	if err != nil {
		h.respondLifecycleError(c, err, "cancel batch job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.BatchCancelled, "entries_cancelled": cancelled})
}

// QueueMetrics reports the dispatcher's point-in-time queue aggregate.
func (h *Handler) QueueMetrics(c *gin.Context) {
	m, err := h.disp.Metrics(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Queue metrics failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute queue metrics"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) respondLifecycleError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, db.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "state does not permit this operation"})
	default:
		h.logger.WithError(err).Errorf("Failed to %s", op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}
