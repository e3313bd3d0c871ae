package models

// CoordinationEvidence records why two authors were flagged as coordinated.
type CoordinationEvidence struct {
	PostIDs          []string `json:"post_ids,omitempty"`
	SharedDomains    []string `json:"shared_domains,omitempty"`
	SharedHashtags   []string `json:"shared_hashtags,omitempty"`
	TextSimilarity   float64  `json:"text_similarity"`
	TimeDeltaSeconds float64  `json:"time_delta_seconds"`
}

// CoordinatedPair links two authors whose combined similarity signals
// exceeded the configured threshold within one narrative. Pairs are
// undirected; AuthorID1 < AuthorID2 by convention so (a,b) and (b,a) are
// never both emitted.
type CoordinatedPair struct {
	AuthorID1   string               `json:"author1_id"`
	AuthorID2   string               `json:"author2_id"`
	NarrativeID string               `json:"narrative_id"`
	Score       float64              `json:"score"`
	Evidence    CoordinationEvidence `json:"evidence"`
}

// CoordinationGroup is a connected component over coordinated pairs: a
// maximal set of transitively coordinated authors, possibly spanning
// multiple narratives.
type CoordinationGroup struct {
	ID              string            `json:"id"`
	AuthorIDs       []string          `json:"author_ids"`
	NarrativeIDs    []string          `json:"narrative_ids"`
	Score           float64           `json:"score"`
	Size            int               `json:"size"`
	EvidenceSummary string            `json:"evidence_summary"`
	Pairs           []CoordinatedPair `json:"pairs,omitempty"`
}
