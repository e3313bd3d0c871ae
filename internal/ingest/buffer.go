package ingest

import (
	"sort"
	"sync"

	"spyglass/pkg/models"
)

// PostBuffer accumulates validated posts between analysis runs. Kafka batches
// can re-deliver after a consumer restart, so posts dedupe by id; re-adding an
// existing id overwrites it.
type PostBuffer struct {
	mu    sync.Mutex
	posts map[string]models.Post
	max   int
}

// NewPostBuffer creates a buffer holding at most max posts. A max of zero or
// less means unbounded.
func NewPostBuffer(max int) *PostBuffer {
	return &PostBuffer{
		posts: make(map[string]models.Post),
		max:   max,
	}
}

// Add inserts posts into the buffer and returns how many were accepted. Once
// the buffer is full, new ids are dropped until the next Drain.
func (b *PostBuffer) Add(posts []models.Post) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	accepted := 0
	for _, post := range posts {
		if _, exists := b.posts[post.ID]; !exists && b.max > 0 && len(b.posts) >= b.max {
			continue
		}
		b.posts[post.ID] = post
		accepted++
	}
	return accepted
}

// Len returns the number of buffered posts.
func (b *PostBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posts)
}

// Drain empties the buffer and returns its posts sorted by timestamp then id,
// so consecutive runs over the same input see the same order.
func (b *PostBuffer) Drain() []models.Post {
	b.mu.Lock()
	posts := make([]models.Post, 0, len(b.posts))
	for _, post := range b.posts {
		posts = append(posts, post)
	}
	b.posts = make(map[string]models.Post)
	b.mu.Unlock()

	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].Timestamp.Equal(posts[j].Timestamp) {
			return posts[i].Timestamp.Before(posts[j].Timestamp)
		}
		return posts[i].ID < posts[j].ID
	})
	return posts
}
