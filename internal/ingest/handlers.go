package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"spyglass/pkg/kafka"
	"spyglass/pkg/logging"
	"spyglass/pkg/validation"
)

const consumerName = "spyglass-ingest"

// Metrics holds all Prometheus metrics for the ingest path.
type Metrics struct {
	PostBatches       *prometheus.CounterVec
	PostsReceived     prometheus.Counter
	BatchDuration     *prometheus.HistogramVec
	BufferedPosts     prometheus.Gauge
	ClickHouseInserts *prometheus.CounterVec
	KafkaMessages     *prometheus.CounterVec
	KafkaDuration     *prometheus.HistogramVec
	KafkaLag          *prometheus.GaugeVec
}

// DeadLetterPublisher diverts unprocessable messages to the DLQ topic.
type DeadLetterPublisher interface {
	PublishDeadLetter(msg kafka.Message, cause error, consumer string) error
}

// Handler consumes post batches, archives the raw posts and buffers them for
// the next analysis run. Malformed batches go to the DLQ so the partition
// keeps moving; archive failures are transient and block the partition for
// redelivery.
type Handler struct {
	archiver  PostArchiver
	buffer    *PostBuffer
	validator *validation.PostValidator
	dlq       DeadLetterPublisher
	logger    logging.Logger
	metrics   *Metrics
}

func NewHandler(archiver PostArchiver, buffer *PostBuffer, dlq DeadLetterPublisher, logger logging.Logger, metrics *Metrics) *Handler {
	return &Handler{
		archiver:  archiver,
		buffer:    buffer,
		validator: validation.NewPostValidator(),
		dlq:       dlq,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandlePostBatch processes one post_events message.
func (h *Handler) HandlePostBatch(ctx context.Context, msg kafka.Message) error {
	start := time.Now()

	var event kafka.PostBatchEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return h.deadLetter(msg, fmt.Errorf("decode post batch: %w", err))
	}

	if h.metrics != nil {
		h.metrics.PostBatches.WithLabelValues("received").Inc()
	}

	batch := validation.PostBatch{
		EventID:       event.EventID,
		Source:        event.Source,
		Timestamp:     event.Timestamp,
		Posts:         event.Posts,
		SchemaVersion: event.SchemaVersion,
	}
	if err := h.validator.ValidateBatch(&batch); err != nil {
		return h.deadLetter(msg, err)
	}

	if err := h.archiver.Archive(ctx, event.Posts); err != nil {
		h.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to archive post batch - will retry")
		if h.metrics != nil {
			h.metrics.PostBatches.WithLabelValues("archive_failed").Inc()
		}
		return err
	}

	accepted := h.buffer.Add(event.Posts)
	if accepted < len(event.Posts) {
		h.logger.WithFields(logging.Fields{
			"event_id": event.EventID,
			"dropped":  len(event.Posts) - accepted,
		}).Warn("Post buffer full, dropping posts until next run")
	}

	if h.metrics != nil {
		h.metrics.PostBatches.WithLabelValues("processed").Inc()
		h.metrics.PostsReceived.Add(float64(len(event.Posts)))
		h.metrics.BufferedPosts.Set(float64(h.buffer.Len()))
		h.metrics.BatchDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	}

	h.logger.WithFields(logging.Fields{
		"event_id": event.EventID,
		"source":   event.Source,
		"posts":    len(event.Posts),
		"buffered": h.buffer.Len(),
	}).Debug("Post batch processed")

	return nil
}

// deadLetter publishes the message to the DLQ and swallows the original error
// so the partition advances past the poison message. A DLQ publish failure is
// returned, keeping the partition blocked until the DLQ is reachable again.
func (h *Handler) deadLetter(msg kafka.Message, cause error) error {
	h.logger.WithError(cause).WithFields(logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}).Error("Rejecting post batch")

	if h.metrics != nil {
		h.metrics.PostBatches.WithLabelValues("rejected").Inc()
	}

	if h.dlq == nil {
		return nil
	}
	if err := h.dlq.PublishDeadLetter(msg, cause, consumerName); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}
