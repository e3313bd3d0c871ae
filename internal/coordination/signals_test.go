package coordination

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := []float32{0.3, 0.1, 0.8}
	b := []float32{0.5, 0.9, 0.2}
	if CosineSimilarity(a, b) != CosineSimilarity(b, a) {
		t.Error("cosine similarity is not symmetric")
	}
}

func TestJaccardScore(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical non-empty", []string{"x.com", "y.com"}, []string{"x.com", "y.com"}, 1.0},
		{"disjoint", []string{"x.com"}, []string{"y.com"}, 0.0},
		{"both empty", nil, nil, 0.0},
		{"one empty", []string{"x.com"}, nil, 0.0},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"duplicates collapse", []string{"a", "a", "b"}, []string{"a", "b", "b"}, 1.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := JaccardScore(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("JaccardScore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSharedItemsSortedAndDeduplicated(t *testing.T) {
	got := SharedItems([]string{"z", "a", "a", "m"}, []string{"a", "z", "q"})
	if len(got) != 2 || got[0] != "a" || got[1] != "z" {
		t.Errorf("SharedItems = %v, want [a z]", got)
	}
}
