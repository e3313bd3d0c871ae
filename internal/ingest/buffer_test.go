package ingest

import (
	"testing"
	"time"

	"spyglass/pkg/models"
)

func bufferPost(id string, ts time.Time) models.Post {
	return models.Post{ID: id, Timestamp: ts, AuthorID: "a", Text: "t"}
}

func TestPostBufferDedupesByID(t *testing.T) {
	b := NewPostBuffer(0)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	b.Add([]models.Post{bufferPost("p1", base), bufferPost("p2", base)})
	b.Add([]models.Post{bufferPost("p1", base)})

	if b.Len() != 2 {
		t.Errorf("len = %d, want 2 after redelivery", b.Len())
	}
}

func TestPostBufferCapDropsNewPosts(t *testing.T) {
	b := NewPostBuffer(2)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	accepted := b.Add([]models.Post{
		bufferPost("p1", base),
		bufferPost("p2", base),
		bufferPost("p3", base),
	})
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}

	// Redelivery of a buffered id still lands even at capacity
	if got := b.Add([]models.Post{bufferPost("p1", base)}); got != 1 {
		t.Errorf("redelivered accepted = %d, want 1", got)
	}
}

func TestPostBufferDrainSortsAndClears(t *testing.T) {
	b := NewPostBuffer(0)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	b.Add([]models.Post{
		bufferPost("p3", base.Add(time.Minute)),
		bufferPost("p1", base),
		bufferPost("p2", base),
	})

	posts := b.Drain()
	if len(posts) != 3 {
		t.Fatalf("drained = %d, want 3", len(posts))
	}
	wantOrder := []string{"p1", "p2", "p3"}
	for i, want := range wantOrder {
		if posts[i].ID != want {
			t.Errorf("posts[%d] = %s, want %s", i, posts[i].ID, want)
		}
	}
	if b.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", b.Len())
	}
}
