package coordination

import (
	"fmt"
	"sort"
	"strings"

	"spyglass/pkg/models"
)

// GroupDigest is a compact view of a group for evidence summaries.
type GroupDigest struct {
	ID         string   `json:"id"`
	Size       int      `json:"size"`
	Score      float64  `json:"score"`
	AuthorIDs  []string `json:"author_ids"`
	Narratives []string `json:"narratives"`
}

// AuthorDigest ranks an author by how often and how strongly they coordinate.
type AuthorDigest struct {
	AuthorID  string  `json:"author_id"`
	AvgScore  float64 `json:"avg_score"`
	PairCount int     `json:"pair_count"`
}

// EvidenceSummary aggregates run-level coordination evidence for reporting.
type EvidenceSummary struct {
	TotalPairs             int            `json:"total_pairs"`
	TotalGroups            int            `json:"total_groups"`
	TopGroups              []GroupDigest  `json:"top_groups"`
	MostCoordinatedAuthors []AuthorDigest `json:"most_coordinated_authors"`
	SharedDomainCounts     map[string]int `json:"shared_domain_counts"`
	SharedHashtagCounts    map[string]int `json:"shared_hashtag_counts"`
}

// Summarize condenses a run's pairs and groups into an EvidenceSummary with
// the top 5 groups, top 10 authors and top 10 shared indicators.
func Summarize(pairs []models.CoordinatedPair, groups []models.CoordinationGroup) EvidenceSummary {
	summary := EvidenceSummary{
		TotalPairs:  len(pairs),
		TotalGroups: len(groups),
	}

	sorted := make([]models.CoordinationGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	for _, g := range sorted {
		if len(summary.TopGroups) == 5 {
			break
		}
		authors := g.AuthorIDs
		if len(authors) > 5 {
			authors = authors[:5]
		}
		summary.TopGroups = append(summary.TopGroups, GroupDigest{
			ID:         g.ID,
			Size:       g.Size,
			Score:      g.Score,
			AuthorIDs:  authors,
			Narratives: g.NarrativeIDs,
		})
	}

	summary.MostCoordinatedAuthors = rankAuthors(pairs, 10)
	summary.SharedDomainCounts = topCounts(pairs, func(e models.CoordinationEvidence) []string { return e.SharedDomains }, 10)
	summary.SharedHashtagCounts = topCounts(pairs, func(e models.CoordinationEvidence) []string { return e.SharedHashtags }, 10)

	return summary
}

func rankAuthors(pairs []models.CoordinatedPair, limit int) []AuthorDigest {
	scores := make(map[string][]float64)
	for _, pair := range pairs {
		scores[pair.AuthorID1] = append(scores[pair.AuthorID1], pair.Score)
		scores[pair.AuthorID2] = append(scores[pair.AuthorID2], pair.Score)
	}

	digests := make([]AuthorDigest, 0, len(scores))
	for author, authorScores := range scores {
		sum := 0.0
		for _, s := range authorScores {
			sum += s
		}
		digests = append(digests, AuthorDigest{
			AuthorID:  author,
			AvgScore:  sum / float64(len(authorScores)),
			PairCount: len(authorScores),
		})
	}

	sort.SliceStable(digests, func(i, j int) bool {
		if digests[i].PairCount != digests[j].PairCount {
			return digests[i].PairCount > digests[j].PairCount
		}
		if digests[i].AvgScore != digests[j].AvgScore {
			return digests[i].AvgScore > digests[j].AvgScore
		}
		return digests[i].AuthorID < digests[j].AuthorID
	})

	if len(digests) > limit {
		digests = digests[:limit]
	}
	return digests
}

func topCounts(pairs []models.CoordinatedPair, extract func(models.CoordinationEvidence) []string, limit int) map[string]int {
	counts := make(map[string]int)
	for _, pair := range pairs {
		for _, item := range extract(pair.Evidence) {
			counts[item]++
		}
	}
	if len(counts) <= limit {
		return counts
	}

	type kv struct {
		key   string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for k, c := range counts {
		ranked = append(ranked, kv{k, c})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})

	top := make(map[string]int, limit)
	for _, entry := range ranked[:limit] {
		top[entry.key] = entry.count
	}
	return top
}

// FormatPairEvidence renders a pair's evidence as human-readable text.
func FormatPairEvidence(pair models.CoordinatedPair) string {
	lines := []string{
		fmt.Sprintf("Coordination between %s and %s", pair.AuthorID1, pair.AuthorID2),
		fmt.Sprintf("Score: %.3f", pair.Score),
	}

	if pair.NarrativeID != "" {
		lines = append(lines, fmt.Sprintf("Narrative: %s", pair.NarrativeID))
	}

	evidence := pair.Evidence
	if len(evidence.SharedDomains) > 0 {
		lines = append(lines, fmt.Sprintf("Shared domains: %s", strings.Join(head(evidence.SharedDomains, 5), ", ")))
	}
	if len(evidence.SharedHashtags) > 0 {
		lines = append(lines, fmt.Sprintf("Shared hashtags: #%s", strings.Join(head(evidence.SharedHashtags, 5), ", #")))
	}
	lines = append(lines, fmt.Sprintf("Text similarity: %.3f", evidence.TextSimilarity))
	lines = append(lines, fmt.Sprintf("Time difference: %.1f minutes", evidence.TimeDeltaSeconds/60))
	if len(evidence.PostIDs) > 0 {
		lines = append(lines, fmt.Sprintf("Example posts: %s", strings.Join(head(evidence.PostIDs, 4), ", ")))
	}

	return strings.Join(lines, "\n")
}

// FormatGroupEvidence renders a group and its internal connections as
// human-readable text.
func FormatGroupEvidence(group models.CoordinationGroup) string {
	lines := []string{
		fmt.Sprintf("Coordination Group: %s", group.ID),
		fmt.Sprintf("Size: %d authors", group.Size),
		fmt.Sprintf("Average Score: %.3f", group.Score),
		"",
		"Authors:",
	}

	for _, authorID := range head(group.AuthorIDs, 10) {
		lines = append(lines, fmt.Sprintf("  - %s", authorID))
	}
	if len(group.AuthorIDs) > 10 {
		lines = append(lines, fmt.Sprintf("  ... and %d more", len(group.AuthorIDs)-10))
	}

	if len(group.NarrativeIDs) > 0 {
		lines = append(lines, "", fmt.Sprintf("Related narratives: %s", strings.Join(group.NarrativeIDs, ", ")))
	}

	if len(group.Pairs) > 0 {
		lines = append(lines, "", "Sample connections:")
		for _, pair := range group.Pairs[:min(3, len(group.Pairs))] {
			lines = append(lines, fmt.Sprintf("  %s <-> %s (score: %.3f)", pair.AuthorID1, pair.AuthorID2, pair.Score))
		}
	}

	return strings.Join(lines, "\n")
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
