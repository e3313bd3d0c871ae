package models

import "time"

// NoiseNarrativeID marks posts the upstream clusterer could not assign to a
// narrative. Noise posts are archived but excluded from analysis.
const NoiseNarrativeID = "noise"

// Post represents a normalized social media post as produced by upstream
// ingestion, enrichment and narrative clustering. Posts are read-only inside
// the analysis core.
type Post struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Platform     string    `json:"platform"`
	AuthorID     string    `json:"author_id"`
	AuthorHandle string    `json:"author_handle,omitempty"`
	Text         string    `json:"text"`
	TextClean    string    `json:"text_clean,omitempty"`
	Lang         string    `json:"lang,omitempty"`
	URLs         []string  `json:"urls,omitempty"`
	Domains      []string  `json:"domains,omitempty"`
	Hashtags     []string  `json:"hashtags,omitempty"`
	Mentions     []string  `json:"mentions,omitempty"`

	// Clustering results populated during narrative detection
	NarrativeID string    `json:"narrative_id,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// InNarrative reports whether the post was assigned to a real narrative
// cluster (not unassigned and not noise).
func (p *Post) InNarrative() bool {
	return p.NarrativeID != "" && p.NarrativeID != NoiseNarrativeID
}

// NarrativeSummary holds metadata for a detected narrative cluster.
type NarrativeSummary struct {
	ID          string    `json:"id"`
	Size        int       `json:"size"`
	Keywords    []string  `json:"keywords,omitempty"`
	TopDomains  []string  `json:"top_domains,omitempty"`
	TopHashtags []string  `json:"top_hashtags,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Platforms   []string  `json:"platforms,omitempty"`
	AuthorCount int       `json:"author_count"`
}
