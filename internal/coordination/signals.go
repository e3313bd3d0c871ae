package coordination

import (
	"math"
	"sort"
)

// CosineSimilarity computes the cosine of the angle between two embedding
// vectors. Mismatched dimensions or a zero-norm vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// JaccardScore computes |a ∩ b| / max(|a ∪ b|, 1) over two string sets.
// The denominator floor makes two empty sets score 0 rather than dividing
// by zero.
func JaccardScore(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)

	intersection := 0
	for item := range setA {
		if _, ok := setB[item]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union < 1 {
		union = 1
	}
	return float64(intersection) / float64(union)
}

// SharedItems returns the sorted intersection of two string sets.
func SharedItems(a, b []string) []string {
	setB := toSet(b)
	seen := make(map[string]struct{})
	shared := make([]string, 0)
	for _, item := range a {
		if _, ok := setB[item]; !ok {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		shared = append(shared, item)
	}
	sort.Strings(shared)
	return shared
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
