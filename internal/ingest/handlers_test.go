package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"spyglass/pkg/kafka"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

type fakeArchiver struct {
	err      error
	archived [][]models.Post
}

func (f *fakeArchiver) Archive(_ context.Context, posts []models.Post) error {
	if f.err != nil {
		return f.err
	}
	f.archived = append(f.archived, posts)
	return nil
}

type fakeDLQ struct {
	err    error
	msgs   []kafka.Message
	causes []error
}

func (f *fakeDLQ) PublishDeadLetter(msg kafka.Message, cause error, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	f.causes = append(f.causes, cause)
	return nil
}

func validBatchMessage(t *testing.T) kafka.Message {
	t.Helper()
	event := kafka.PostBatchEvent{
		EventID:       "evt-1",
		Source:        "collector-a",
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		SchemaVersion: "1.0",
		Posts: []models.Post{
			{
				ID:          "p1",
				Timestamp:   time.Date(2024, 5, 1, 11, 58, 0, 0, time.UTC),
				AuthorID:    "alice",
				Text:        "first post",
				NarrativeID: "n1",
				Embedding:   []float32{0.1, 0.2},
			},
			{
				ID:        "p2",
				Timestamp: time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC),
				AuthorID:  "bob",
				Text:      "noise post",
			},
		},
	}
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return kafka.Message{Topic: kafka.TopicPostEvents, Value: value}
}

func TestHandlePostBatch(t *testing.T) {
	archiver := &fakeArchiver{}
	dlq := &fakeDLQ{}
	buffer := NewPostBuffer(0)
	h := NewHandler(archiver, buffer, dlq, logging.NewLogger(), nil)

	if err := h.HandlePostBatch(context.Background(), validBatchMessage(t)); err != nil {
		t.Fatalf("HandlePostBatch: %v", err)
	}

	if len(archiver.archived) != 1 || len(archiver.archived[0]) != 2 {
		t.Errorf("archived = %v, want one batch of 2", archiver.archived)
	}
	if buffer.Len() != 2 {
		t.Errorf("buffered = %d, want 2", buffer.Len())
	}
	if len(dlq.msgs) != 0 {
		t.Errorf("dlq = %d messages, want 0", len(dlq.msgs))
	}
}

func TestHandlePostBatchMalformedJSON(t *testing.T) {
	archiver := &fakeArchiver{}
	dlq := &fakeDLQ{}
	h := NewHandler(archiver, NewPostBuffer(0), dlq, logging.NewLogger(), nil)

	msg := kafka.Message{Topic: kafka.TopicPostEvents, Value: []byte("{not json")}
	if err := h.HandlePostBatch(context.Background(), msg); err != nil {
		t.Fatalf("poison message must not block the partition: %v", err)
	}

	if len(dlq.msgs) != 1 {
		t.Fatalf("dlq = %d messages, want 1", len(dlq.msgs))
	}
	if len(archiver.archived) != 0 {
		t.Errorf("archived = %v, want none", archiver.archived)
	}
}

func TestHandlePostBatchInvalidPost(t *testing.T) {
	dlq := &fakeDLQ{}
	h := NewHandler(&fakeArchiver{}, NewPostBuffer(0), dlq, logging.NewLogger(), nil)

	event := kafka.PostBatchEvent{
		EventID:       "evt-2",
		Source:        "collector-a",
		Timestamp:     time.Now(),
		SchemaVersion: "1.0",
		Posts: []models.Post{
			{ID: "p1", Timestamp: time.Now(), Text: "no author"},
		},
	}
	value, _ := json.Marshal(event)

	err := h.HandlePostBatch(context.Background(), kafka.Message{Topic: kafka.TopicPostEvents, Value: value})
	if err != nil {
		t.Fatalf("invalid batch must dead-letter, not error: %v", err)
	}
	if len(dlq.causes) != 1 {
		t.Fatalf("dlq causes = %d, want 1", len(dlq.causes))
	}
}

func TestHandlePostBatchArchiveFailureBlocks(t *testing.T) {
	archiver := &fakeArchiver{err: errors.New("clickhouse down")}
	dlq := &fakeDLQ{}
	buffer := NewPostBuffer(0)
	h := NewHandler(archiver, buffer, dlq, logging.NewLogger(), nil)

	err := h.HandlePostBatch(context.Background(), validBatchMessage(t))
	if err == nil {
		t.Fatal("transient archive failure must return an error for redelivery")
	}
	if buffer.Len() != 0 {
		t.Errorf("buffered = %d, want 0 (nothing buffered on archive failure)", buffer.Len())
	}
	if len(dlq.msgs) != 0 {
		t.Errorf("dlq = %d messages, want 0", len(dlq.msgs))
	}
}

func TestHandlePostBatchDLQFailureBlocks(t *testing.T) {
	dlq := &fakeDLQ{err: errors.New("broker unreachable")}
	h := NewHandler(&fakeArchiver{}, NewPostBuffer(0), dlq, logging.NewLogger(), nil)

	msg := kafka.Message{Topic: kafka.TopicPostEvents, Value: []byte("{not json")}
	if err := h.HandlePostBatch(context.Background(), msg); err == nil {
		t.Fatal("DLQ publish failure must keep the partition blocked")
	}
}
