package kafka

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeDLQMessageRoundTrip(t *testing.T) {
	msg := Message{
		Key:       []byte("narrative-1"),
		Value:     []byte(`{"posts":[]}`),
		Headers:   map[string]string{"source": "collector"},
		Topic:     TopicPostEvents,
		Partition: 2,
		Offset:    41,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}

	encoded, err := EncodeDLQMessage(msg, errors.New("invalid batch payload"), "spyglass-ingest")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	payload, value, err := DecodeDLQMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if payload.Topic != TopicPostEvents {
		t.Errorf("topic = %q, want %q", payload.Topic, TopicPostEvents)
	}
	if payload.Offset != 41 {
		t.Errorf("offset = %d, want 41", payload.Offset)
	}
	if payload.Error != "invalid batch payload" {
		t.Errorf("error = %q", payload.Error)
	}
	if payload.Consumer != "spyglass-ingest" {
		t.Errorf("consumer = %q", payload.Consumer)
	}
	if string(value) != `{"posts":[]}` {
		t.Errorf("value = %q", string(value))
	}
}

func TestEncodeDLQMessageOmitsEmptyKey(t *testing.T) {
	msg := Message{
		Value: []byte("payload"),
		Topic: TopicPostEvents,
	}

	encoded, err := EncodeDLQMessage(msg, nil, "spyglass-ingest")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	payload, _, err := DecodeDLQMessage(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.KeyBase64 != "" {
		t.Errorf("key_base64 = %q, want empty", payload.KeyBase64)
	}
	if payload.Error != "" {
		t.Errorf("error = %q, want empty", payload.Error)
	}
}
