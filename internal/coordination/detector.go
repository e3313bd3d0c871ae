package coordination

import (
	"math"
	"sort"

	"spyglass/pkg/config"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

// PairScorer detects coordinated author pairs within a single narrative.
// Scoring is a pure function of the posts and the configuration; the scorer
// holds no state between calls.
type PairScorer struct {
	cfg    *config.CoordinationConfig
	logger logging.Logger
}

// NewPairScorer creates a scorer with validated configuration.
func NewPairScorer(cfg *config.CoordinationConfig, logger logging.Logger) *PairScorer {
	return &PairScorer{cfg: cfg, logger: logger}
}

// ScoreNarrative compares every unordered pair of distinct authors who posted
// in the narrative and returns the pairs whose composite score reaches the
// similarity threshold. Pairs are emitted with AuthorID1 < AuthorID2 and in
// deterministic order.
func (s *PairScorer) ScoreNarrative(narrativeID string, posts []models.Post) []models.CoordinatedPair {
	authorPosts := make(map[string][]models.Post)
	for _, post := range posts {
		authorPosts[post.AuthorID] = append(authorPosts[post.AuthorID], post)
	}
	if len(authorPosts) < 2 {
		return nil
	}

	authorIDs := make([]string, 0, len(authorPosts))
	for id := range authorPosts {
		authorIDs = append(authorIDs, id)
	}
	sort.Strings(authorIDs)

	var pairs []models.CoordinatedPair
	for i, author1 := range authorIDs {
		for _, author2 := range authorIDs[i+1:] {
			score, evidence, ok := s.scorePair(authorPosts[author1], authorPosts[author2])
			if !ok || score < s.cfg.SimilarityThreshold {
				continue
			}

			pairs = append(pairs, models.CoordinatedPair{
				AuthorID1:   author1,
				AuthorID2:   author2,
				NarrativeID: narrativeID,
				Score:       score,
				Evidence:    evidence,
			})
		}
	}

	if len(pairs) > 0 {
		s.logger.WithFields(logging.Fields{
			"narrative_id": narrativeID,
			"authors":      len(authorIDs),
			"pairs":        len(pairs),
		}).Debug("Coordinated pairs detected")
	}

	return pairs
}

// scorePair computes the composite similarity between two authors. Text
// similarity is the maximum cosine similarity over all cross post pairs
// within the time window; pairs outside the window are excluded from the
// search entirely. Domain and hashtag similarity are Jaccard scores over the
// authors' aggregate sets. The third return value is false when no post pair
// falls inside the window, in which case no coordination can be claimed.
func (s *PairScorer) scorePair(posts1, posts2 []models.Post) (float64, models.CoordinationEvidence, bool) {
	window := s.cfg.TimeWindow.Seconds()

	maxTextSim := math.Inf(-1)
	minDeltaAtMax := 0.0
	inWindow := false
	postIDs := make(map[string]struct{})

	for _, p1 := range posts1 {
		for _, p2 := range posts2 {
			delta := math.Abs(p1.Timestamp.Sub(p2.Timestamp).Seconds())
			if delta > window {
				continue
			}
			inWindow = true
			postIDs[p1.ID] = struct{}{}
			postIDs[p2.ID] = struct{}{}

			sim := CosineSimilarity(p1.Embedding, p2.Embedding)
			if sim > maxTextSim || (sim == maxTextSim && delta < minDeltaAtMax) {
				maxTextSim = sim
				minDeltaAtMax = delta
			}
		}
	}

	if !inWindow {
		return 0, models.CoordinationEvidence{}, false
	}

	domains1, hashtags1 := collectSets(posts1)
	domains2, hashtags2 := collectSets(posts2)

	domainSim := JaccardScore(domains1, domains2)
	hashtagSim := JaccardScore(hashtags1, hashtags2)

	composite := s.cfg.TextWeight*maxTextSim +
		s.cfg.DomainWeight*domainSim +
		s.cfg.HashtagWeight*hashtagSim

	ids := make([]string, 0, len(postIDs))
	for id := range postIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	evidence := models.CoordinationEvidence{
		PostIDs:          ids,
		SharedDomains:    SharedItems(domains1, domains2),
		SharedHashtags:   SharedItems(hashtags1, hashtags2),
		TextSimilarity:   maxTextSim,
		TimeDeltaSeconds: minDeltaAtMax,
	}

	return composite, evidence, true
}

func collectSets(posts []models.Post) (domains, hashtags []string) {
	for _, post := range posts {
		domains = append(domains, post.Domains...)
		hashtags = append(hashtags, post.Hashtags...)
	}
	return domains, hashtags
}
