package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"spyglass/pkg/config"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

func testPipeline() *Pipeline {
	cfg := config.DefaultAnalysisConfig()
	return New(&cfg, logging.NewLogger())
}

func narrativePost(id, author, narrative string, ts time.Time, embedding []float32) models.Post {
	return models.Post{
		ID:          id,
		AuthorID:    author,
		Timestamp:   ts,
		Text:        "text for " + id,
		NarrativeID: narrative,
		Embedding:   embedding,
		Domains:     []string{"shared.ru"},
		Hashtags:    []string{"campaign"},
	}
}

// coordinatedCluster returns posts from n authors with identical embeddings,
// domains and hashtags, posted minutes apart, so every author pair scores
// 1.0 and clears the threshold.
func coordinatedCluster(narrative string, authors int, base time.Time) []models.Post {
	emb := []float32{0.5, 0.5, 0.5}
	posts := make([]models.Post, 0, authors)
	for i := 0; i < authors; i++ {
		author := fmt.Sprintf("%s-author-%d", narrative, i)
		id := fmt.Sprintf("%s-post-%d", narrative, i)
		posts = append(posts, narrativePost(id, author, narrative, base.Add(time.Duration(i)*time.Minute), emb))
	}
	return posts
}

func TestRunEndToEnd(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	posts := coordinatedCluster("n1", 3, base)

	result, err := testPipeline().Run(context.Background(), posts, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Pairs) != 3 {
		t.Errorf("pairs = %d, want 3", len(result.Pairs))
	}
	if len(result.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(result.Groups))
	}
	if result.Groups[0].Size != 3 {
		t.Errorf("group size = %d, want 3", result.Groups[0].Size)
	}
	if len(result.Risks) != 1 {
		t.Fatalf("risks = %d, want 1", len(result.Risks))
	}
	if result.Risks[0].Components.CoordinationDensity <= 0 {
		t.Errorf("coordination density = %v, want > 0", result.Risks[0].Components.CoordinationDensity)
	}
	if result.Summary.TotalPairs != 3 {
		t.Errorf("summary pairs = %d, want 3", result.Summary.TotalPairs)
	}
}

func TestRunIgnoresNoiseAndUnassigned(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	posts := []models.Post{
		narrativePost("p1", "a", models.NoiseNarrativeID, base, nil),
		narrativePost("p2", "b", "", base, nil),
	}

	result, err := testPipeline().Run(context.Background(), posts, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.NarrativeCount != 0 || len(result.Risks) != 0 {
		t.Errorf("narratives = %d, risks = %d, want 0/0", result.NarrativeCount, len(result.Risks))
	}
	if result.PostCount != 2 {
		t.Errorf("post count = %d, want 2", result.PostCount)
	}
}

func TestRunIsolatesInvalidNarrative(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	good := coordinatedCluster("good", 3, base)

	bad := narrativePost("bad-post", "x", "bad", base, nil) // missing embedding
	posts := append(good, bad)

	result, err := testPipeline().Run(context.Background(), posts, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, ok := result.NarrativeErrors["bad"]; !ok {
		t.Error("expected bad narrative to be reported")
	}
	if result.NarrativeCount != 1 {
		t.Errorf("narrative count = %d, want 1", result.NarrativeCount)
	}
	if len(result.Risks) != 1 || result.Risks[0].NarrativeID != "good" {
		t.Errorf("risks = %+v, want only good narrative", result.Risks)
	}
}

func TestRunFailFast(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bad := narrativePost("bad-post", "x", "bad", base, nil)

	_, err := testPipeline().Run(context.Background(), []models.Post{bad}, Options{FailFast: true})
	if err == nil {
		t.Fatal("expected error with FailFast")
	}
}

func TestRunMergesGroupsAcrossNarratives(t *testing.T) {
	// One author participates in two narratives; the bridging pairs must end
	// up in a single group spanning both narrative ids.
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	emb := []float32{0.5, 0.5, 0.5}

	posts := []models.Post{
		narrativePost("n1-a", "alice", "n1", base, emb),
		narrativePost("n1-b", "bridge", "n1", base.Add(time.Minute), emb),
		narrativePost("n2-b", "bridge", "n2", base.Add(2*time.Minute), emb),
		narrativePost("n2-c", "carol", "n2", base.Add(3*time.Minute), emb),
	}

	result, err := testPipeline().Run(context.Background(), posts, Options{Parallelism: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Groups) != 1 {
		t.Fatalf("groups = %d, want 1 (cross-narrative merge)", len(result.Groups))
	}
	g := result.Groups[0]
	if g.Size != 3 {
		t.Errorf("group size = %d, want 3", g.Size)
	}
	if len(g.NarrativeIDs) != 2 {
		t.Errorf("narrative ids = %v, want both narratives", g.NarrativeIDs)
	}
}

func TestRunIdempotent(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	posts := append(coordinatedCluster("n1", 3, base), coordinatedCluster("n2", 4, base.Add(time.Hour))...)

	p := testPipeline()
	first, err := p.Run(context.Background(), posts, Options{Parallelism: 4})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(context.Background(), posts, Options{Parallelism: 4})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Pairs) != len(second.Pairs) {
		t.Fatalf("pair counts differ: %d vs %d", len(first.Pairs), len(second.Pairs))
	}
	for i := range first.Pairs {
		if first.Pairs[i].AuthorID1 != second.Pairs[i].AuthorID1 ||
			first.Pairs[i].AuthorID2 != second.Pairs[i].AuthorID2 ||
			first.Pairs[i].NarrativeID != second.Pairs[i].NarrativeID ||
			first.Pairs[i].Score != second.Pairs[i].Score {
			t.Errorf("pair %d differs between runs", i)
		}
	}
	if len(first.Groups) != len(second.Groups) {
		t.Fatalf("group counts differ: %d vs %d", len(first.Groups), len(second.Groups))
	}
	for i := range first.Risks {
		if first.Risks[i].RiskScore != second.Risks[i].RiskScore {
			t.Errorf("risk %d differs between runs", i)
		}
	}
}
