package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"spyglass/pkg/models"
)

func validPost() models.Post {
	return models.Post{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Platform:    "twitter",
		AuthorID:    "author-1",
		Text:        "breaking news about the election",
		NarrativeID: "narrative-1",
		Embedding:   []float32{0.1, 0.2, 0.3},
	}
}

func validBatch(posts ...models.Post) *PostBatch {
	return &PostBatch{
		EventID:       uuid.NewString(),
		Source:        "collector",
		Timestamp:     time.Now(),
		Posts:         posts,
		SchemaVersion: "1.0",
	}
}

func TestValidateBatchAcceptsValidPosts(t *testing.T) {
	v := NewPostValidator()
	if err := v.ValidateBatch(validBatch(validPost(), validPost())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateBatchRejectsEmptyBatch(t *testing.T) {
	v := NewPostValidator()
	if err := v.ValidateBatch(validBatch()); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestValidatePost_TableDriven(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Post)
		field  string
	}{
		{"missing id", func(p *models.Post) { p.ID = "" }, "id"},
		{"zero timestamp", func(p *models.Post) { p.Timestamp = time.Time{} }, "timestamp"},
		{"missing author", func(p *models.Post) { p.AuthorID = "" }, "author_id"},
		{"empty text", func(p *models.Post) { p.Text = ""; p.TextClean = "" }, "text"},
		{"narrative post without embedding", func(p *models.Post) { p.Embedding = nil }, "embedding"},
	}

	v := NewPostValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			post := validPost()
			tc.mutate(&post)

			err := v.ValidatePost(&post)
			if err == nil {
				t.Fatal("expected error")
			}

			var postErr *PostError
			if !errors.As(err, &postErr) {
				t.Fatalf("expected PostError, got %T", err)
			}
			if postErr.Field != tc.field {
				t.Errorf("field = %q, want %q", postErr.Field, tc.field)
			}
		})
	}
}

func TestValidatePostAllowsNoisePostsWithoutEmbedding(t *testing.T) {
	post := validPost()
	post.NarrativeID = models.NoiseNarrativeID
	post.Embedding = nil

	v := NewPostValidator()
	if err := v.ValidatePost(&post); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostErrorIncludesPostID(t *testing.T) {
	post := validPost()
	post.AuthorID = ""

	v := NewPostValidator()
	err := v.ValidatePost(&post)
	if err == nil {
		t.Fatal("expected error")
	}

	var postErr *PostError
	if !errors.As(err, &postErr) {
		t.Fatalf("expected PostError, got %T", err)
	}
	if postErr.PostID != post.ID {
		t.Errorf("post id = %q, want %q", postErr.PostID, post.ID)
	}
}
