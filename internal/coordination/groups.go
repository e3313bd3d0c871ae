package coordination

import (
	"fmt"
	"sort"

	"spyglass/pkg/models"
)

// GroupBuilder merges coordinated pairs into groups via connected components.
// It must run over the pairs of ALL narratives in a run: an author who
// coordinates across two narratives belongs to one group, not two.
type GroupBuilder struct {
	minGroupSize int
}

// NewGroupBuilder creates a builder with the configured size floor.
func NewGroupBuilder(minGroupSize int) *GroupBuilder {
	return &GroupBuilder{minGroupSize: minGroupSize}
}

type pairKey struct {
	a, b string
}

func keyFor(author1, author2 string) pairKey {
	if author1 < author2 {
		return pairKey{author1, author2}
	}
	return pairKey{author2, author1}
}

// Build enumerates connected components over the pair graph and emits one
// group per component with size >= minGroupSize. Group score is the mean of
// the scores of pairs internal to the component; narrative ids are the union
// over those pairs. Output is deterministic for identical input pair sets.
func (b *GroupBuilder) Build(pairs []models.CoordinatedPair) []models.CoordinationGroup {
	if len(pairs) == 0 {
		return nil
	}

	adjacency := make(map[string][]string)
	pairByKey := make(map[pairKey]models.CoordinatedPair)

	for _, pair := range pairs {
		adjacency[pair.AuthorID1] = append(adjacency[pair.AuthorID1], pair.AuthorID2)
		adjacency[pair.AuthorID2] = append(adjacency[pair.AuthorID2], pair.AuthorID1)
		pairByKey[keyFor(pair.AuthorID1, pair.AuthorID2)] = pair
	}

	// Sorted start order keeps component enumeration stable
	authors := make([]string, 0, len(adjacency))
	for author := range adjacency {
		authors = append(authors, author)
	}
	sort.Strings(authors)

	visited := make(map[string]struct{})
	var groups []models.CoordinationGroup

	for _, start := range authors {
		if _, done := visited[start]; done {
			continue
		}

		component := bfs(start, adjacency, visited)
		if len(component) < b.minGroupSize {
			continue
		}

		groups = append(groups, b.buildGroup(len(groups), component, pairByKey))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Score > groups[j].Score
	})
	return groups
}

func bfs(start string, adjacency map[string][]string, visited map[string]struct{}) []string {
	var component []string
	queue := []string{start}

	for len(queue) > 0 {
		author := queue[0]
		queue = queue[1:]
		if _, done := visited[author]; done {
			continue
		}
		visited[author] = struct{}{}
		component = append(component, author)

		for _, neighbor := range adjacency[author] {
			if _, done := visited[neighbor]; !done {
				queue = append(queue, neighbor)
			}
		}
	}

	sort.Strings(component)
	return component
}

func (b *GroupBuilder) buildGroup(index int, component []string, pairByKey map[pairKey]models.CoordinatedPair) models.CoordinationGroup {
	var internalPairs []models.CoordinatedPair
	scoreSum := 0.0
	narrativeSet := make(map[string]struct{})

	for i, a1 := range component {
		for _, a2 := range component[i+1:] {
			pair, ok := pairByKey[keyFor(a1, a2)]
			if !ok {
				continue
			}
			internalPairs = append(internalPairs, pair)
			scoreSum += pair.Score
			if pair.NarrativeID != "" {
				narrativeSet[pair.NarrativeID] = struct{}{}
			}
		}
	}

	avgScore := 0.0
	if len(internalPairs) > 0 {
		avgScore = scoreSum / float64(len(internalPairs))
	}

	narrativeIDs := make([]string, 0, len(narrativeSet))
	for id := range narrativeSet {
		narrativeIDs = append(narrativeIDs, id)
	}
	sort.Strings(narrativeIDs)

	return models.CoordinationGroup{
		ID:              fmt.Sprintf("coord_group_%04d", index),
		AuthorIDs:       component,
		NarrativeIDs:    narrativeIDs,
		Score:           avgScore,
		Size:            len(component),
		EvidenceSummary: fmt.Sprintf("Group of %d authors with avg coordination score %.2f", len(component), avgScore),
		Pairs:           internalPairs,
	}
}
