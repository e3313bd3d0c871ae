package kafka

import (
	"time"

	"spyglass/pkg/models"
)

// Topic names used across the pipeline
const (
	TopicPostEvents     = "post_events"
	TopicNarrativeRisks = "narrative_risks"
	TopicDeadLetter     = "post_events_dlq"
)

// PostBatchEvent is the ingest payload carried on post_events. Collectors
// publish one event per scrape, each holding the posts of one or more
// narratives.
type PostBatchEvent struct {
	EventID       string        `json:"event_id"`
	Source        string        `json:"source"`
	Timestamp     time.Time     `json:"timestamp"`
	Posts         []models.Post `json:"posts"`
	SchemaVersion string        `json:"schema_version"`
}

// RiskEvent is published on narrative_risks after each analysis run
type RiskEvent struct {
	EventID       string               `json:"event_id"`
	RunID         string               `json:"run_id"`
	Timestamp     time.Time            `json:"timestamp"`
	Risk          models.NarrativeRisk `json:"risk"`
	SchemaVersion string               `json:"schema_version"`
}

// GroupEvent is published on narrative_risks when a coordinated group is found
type GroupEvent struct {
	EventID       string                   `json:"event_id"`
	RunID         string                   `json:"run_id"`
	Timestamp     time.Time                `json:"timestamp"`
	Group         models.CoordinationGroup `json:"group"`
	SchemaVersion string                   `json:"schema_version"`
}
