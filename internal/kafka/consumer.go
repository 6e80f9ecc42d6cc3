package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/detector"
)

// measurementEvent is one KRI measurement published by the monitoring
// pipeline.
type measurementEvent struct {
	ToleranceID    string               `json:"tolerance_id"`
	OrgID          string               `json:"org_id"`
	OperationName  string               `json:"operation_name"`
	Value          float64              `json:"value"`
	Threshold      float64              `json:"threshold"`
	BusinessImpact string               `json:"business_impact"`
	Recipients     []detector.Recipient `json:"recipients"`
}

// Consumer reads KRI measurement events and feeds them to the breach
// detector. Malformed or failing messages are logged and skipped; the loop
// never dies on a single bad event.
type Consumer struct {
	reader *kafkago.Reader
	det    *detector.Detector
	logger *logrus.Logger
}

func NewConsumer(cfg config.Config, det *detector.Detector, logger *logrus.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  []string{cfg.Kafka.Broker},
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, det: det, logger: logger}
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					c.logger.Info("Kafka consumer stopped")
					return
				}
				c.logger.WithError(err).Error("Fetch message failed")
				continue
			}

			c.handleMessage(ctx, msg.Value)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.WithError(err).Error("Commit message failed")
			}
		}
	}()
}

func (c *Consumer) handleMessage(ctx context.Context, value []byte) {
	var event measurementEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.WithError(err).Error("Unmarshal measurement failed")
		return
	}

	toleranceID, err := uuid.Parse(event.ToleranceID)
	if err != nil {
		c.logger.Errorf("Invalid tolerance_id %q: %v", event.ToleranceID, err)
		return
	}
	orgID, err := uuid.Parse(event.OrgID)
	if err != nil {
		c.logger.Errorf("Invalid org_id %q: %v", event.OrgID, err)
		return
	}

	breached, breachID, err := c.det.EvaluateMeasurement(ctx, detector.BreachInput{
		OrgID:          orgID,
		ToleranceID:    toleranceID,
		OperationName:  event.OperationName,
		ActualValue:    event.Value,
		ThresholdValue: event.Threshold,
		BusinessImpact: event.BusinessImpact,
		Recipients:     event.Recipients,
	})
	if err != nil {
		// The measurement stream must keep flowing even when a breach
		// cannot be recorded.
		c.logger.WithError(err).WithField("tolerance_id", toleranceID).
			Error("Measurement evaluation failed")
		return
	}
	if breached {
		c.logger.WithFields(logrus.Fields{
			"tolerance_id": toleranceID,
			"breach_id":    breachID,
		}).Info("Processed measurement, breach detected")
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.WithError(err).Error("Kafka reader close failed")
	}
}
