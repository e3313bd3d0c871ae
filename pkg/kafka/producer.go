package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes analysis results and dead letters
type Producer struct {
	client *kgo.Client
	logger *logrus.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, clientID string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
	}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// ProduceMessage publishes a single message synchronously
func (p *Producer) ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{
			Key:   k,
			Value: []byte(v),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// PublishRiskEvent publishes a scored narrative to narrative_risks
func (p *Producer) PublishRiskEvent(event *RiskEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal risk event: %w", err)
	}

	headers := map[string]string{
		"run_id":     event.RunID,
		"risk_level": string(event.Risk.RiskLevel),
	}

	return p.ProduceMessage(TopicNarrativeRisks, []byte(event.Risk.NarrativeID), value, headers)
}

// PublishRiskBatch publishes all risks from one analysis run
func (p *Producer) PublishRiskBatch(events []RiskEvent) error {
	if len(events) == 0 {
		return nil
	}

	var records []*kgo.Record
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal risk event %s: %w", event.EventID, err)
		}

		records = append(records, &kgo.Record{
			Topic: TopicNarrativeRisks,
			Key:   []byte(event.Risk.NarrativeID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "run_id", Value: []byte(event.RunID)},
				{Key: "risk_level", Value: []byte(event.Risk.RiskLevel)},
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce risk batch: %w", err)
	}

	return nil
}

// PublishGroupBatch publishes all coordination groups from one analysis run
func (p *Producer) PublishGroupBatch(events []GroupEvent) error {
	if len(events) == 0 {
		return nil
	}

	var records []*kgo.Record
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal group event %s: %w", event.EventID, err)
		}

		records = append(records, &kgo.Record{
			Topic: TopicNarrativeRisks,
			Key:   []byte(event.Group.ID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "run_id", Value: []byte(event.RunID)},
				{Key: "event_kind", Value: []byte("coordination_group")},
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce group batch: %w", err)
	}

	return nil
}

// PublishDeadLetter sends an unprocessable ingest message to the DLQ topic
func (p *Producer) PublishDeadLetter(msg Message, cause error, consumer string) error {
	payload, err := EncodeDLQMessage(msg, cause, consumer)
	if err != nil {
		return err
	}

	headers := map[string]string{
		"origin_topic": msg.Topic,
		"consumer":     consumer,
	}

	if err := p.ProduceMessage(TopicDeadLetter, msg.Key, payload, headers); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"origin_topic": msg.Topic,
		"partition":    msg.Partition,
		"offset":       msg.Offset,
	}).Warn("Message sent to dead letter queue")

	return nil
}

// HealthCheck pings the broker
func (p *Producer) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// GetClient returns the underlying kgo.Client for health checks
func (p *Producer) GetClient() *kgo.Client {
	return p.client
}
