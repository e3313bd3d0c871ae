package ingest

import (
	"context"
	"fmt"

	"spyglass/pkg/database"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

// PostArchiver persists raw posts for retention and replay.
type PostArchiver interface {
	Archive(ctx context.Context, posts []models.Post) error
}

// ClickHouseArchive writes posts to the ClickHouse posts table in batches.
type ClickHouseArchive struct {
	conn    database.ClickHouseNativeConn
	logger  logging.Logger
	metrics *Metrics
}

func NewClickHouseArchive(conn database.ClickHouseNativeConn, logger logging.Logger, metrics *Metrics) *ClickHouseArchive {
	return &ClickHouseArchive{
		conn:    conn,
		logger:  logger,
		metrics: metrics,
	}
}

// Archive appends all posts to one insert batch and sends it.
func (a *ClickHouseArchive) Archive(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}

	if a.metrics != nil {
		a.metrics.ClickHouseInserts.WithLabelValues("posts", "attempt").Inc()
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO posts (
			id, timestamp, platform, author_id, author_handle, text, text_clean,
			lang, urls, domains, hashtags, mentions, narrative_id, embedding
		)`)
	if err != nil {
		if a.metrics != nil {
			a.metrics.ClickHouseInserts.WithLabelValues("posts", "error").Inc()
		}
		return fmt.Errorf("prepare posts batch: %w", err)
	}

	for _, post := range posts {
		if err := batch.Append(
			post.ID,
			post.Timestamp,
			post.Platform,
			post.AuthorID,
			post.AuthorHandle,
			post.Text,
			post.TextClean,
			post.Lang,
			post.URLs,
			post.Domains,
			post.Hashtags,
			post.Mentions,
			post.NarrativeID,
			post.Embedding,
		); err != nil {
			if a.metrics != nil {
				a.metrics.ClickHouseInserts.WithLabelValues("posts", "error").Inc()
			}
			return fmt.Errorf("append post %s: %w", post.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		if a.metrics != nil {
			a.metrics.ClickHouseInserts.WithLabelValues("posts", "error").Inc()
		}
		return fmt.Errorf("send posts batch: %w", err)
	}

	if a.metrics != nil {
		a.metrics.ClickHouseInserts.WithLabelValues("posts", "success").Inc()
	}
	a.logger.WithField("posts", len(posts)).Debug("Archived posts to ClickHouse")
	return nil
}
