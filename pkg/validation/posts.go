package validation

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"spyglass/pkg/models"
)

// PostError reports which post failed validation and why. Handlers use it to
// decide whether a message belongs in the DLQ.
type PostError struct {
	PostID string
	Field  string
	Reason string
}

func (e *PostError) Error() string {
	if e.PostID == "" {
		return fmt.Sprintf("invalid post: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid post %s: %s %s", e.PostID, e.Field, e.Reason)
}

// PostBatch is the envelope for a batch of posts entering the pipeline.
type PostBatch struct {
	EventID       string        `json:"event_id" validate:"required"`
	Source        string        `json:"source" validate:"required"`
	Timestamp     time.Time     `json:"timestamp" validate:"required"`
	Posts         []models.Post `json:"posts" validate:"required,min=1,max=10000"`
	SchemaVersion string        `json:"schema_version" validate:"required"`
}

// PostValidator performs structural and semantic validation on ingested posts
// before they are archived and handed to the analysis pipeline.
type PostValidator struct {
	validator *validator.Validate
}

// NewPostValidator constructs a PostValidator with standard struct validation.
func NewPostValidator() *PostValidator {
	return &PostValidator{
		validator: validator.New(),
	}
}

// ValidateBatch checks the batch envelope and every post in it, failing fast
// on the first invalid entry.
func (v *PostValidator) ValidateBatch(batch *PostBatch) error {
	if err := v.validator.Struct(batch); err != nil {
		return fmt.Errorf("batch validation failed: %w", err)
	}

	for i := range batch.Posts {
		if err := v.ValidatePost(&batch.Posts[i]); err != nil {
			return fmt.Errorf("post %d: %w", i, err)
		}
	}

	return nil
}

// ValidatePost applies the semantic rules a post must satisfy to enter the
// pipeline. Posts assigned to a narrative must carry an embedding, since pair
// scoring cannot run without one.
func (v *PostValidator) ValidatePost(post *models.Post) error {
	if post.ID == "" {
		return &PostError{Field: "id", Reason: "is required"}
	}
	if post.Timestamp.IsZero() {
		return &PostError{PostID: post.ID, Field: "timestamp", Reason: "is zero"}
	}
	if post.AuthorID == "" {
		return &PostError{PostID: post.ID, Field: "author_id", Reason: "is required"}
	}
	if post.Text == "" && post.TextClean == "" {
		return &PostError{PostID: post.ID, Field: "text", Reason: "is empty"}
	}
	if post.InNarrative() && len(post.Embedding) == 0 {
		return &PostError{PostID: post.ID, Field: "embedding", Reason: "is required for narrative posts"}
	}
	return nil
}
