package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"spyglass/internal/coordination"
	"spyglass/internal/risk"
	"spyglass/pkg/config"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
	"spyglass/pkg/validation"
)

// Options controls a single pipeline run.
type Options struct {
	// FailFast aborts the whole run on the first invalid narrative instead
	// of isolating the failure and continuing with the rest.
	FailFast bool
	// Parallelism caps concurrent narrative scoring. Zero means no cap.
	Parallelism int
}

// Result is the complete output of one analysis run. Narratives that failed
// validation are reported in NarrativeErrors and excluded from all outputs;
// the run as a whole still succeeds unless FailFast was requested.
type Result struct {
	Pairs           []models.CoordinatedPair
	Groups          []models.CoordinationGroup
	Risks           []models.NarrativeRisk
	Summary         coordination.EvidenceSummary
	PostCount       int
	NarrativeCount  int
	NarrativeErrors map[string]error
}

// Pipeline runs coordination detection and risk scoring over a batch of
// posts. Narrative scoring fans out to parallel workers; group building and
// risk scoring run globally after all pair work has finished, since an
// author can coordinate across narratives.
type Pipeline struct {
	cfg       *config.AnalysisConfig
	logger    logging.Logger
	validator *validation.PostValidator
	scorer    *coordination.PairScorer
	builder   *coordination.GroupBuilder
	engine    *risk.Engine
}

// New creates a pipeline from validated configuration.
func New(cfg *config.AnalysisConfig, logger logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		validator: validation.NewPostValidator(),
		scorer:    coordination.NewPairScorer(&cfg.Coordination, logger),
		builder:   coordination.NewGroupBuilder(cfg.Coordination.MinGroupSize),
		engine:    risk.NewEngine(&cfg.Risk, logger),
	}
}

// Run executes a full analysis over the given posts. Posts without a real
// narrative assignment (unassigned or noise) are ignored.
func (p *Pipeline) Run(ctx context.Context, posts []models.Post, opts Options) (*Result, error) {
	narrativePosts := make(map[string][]models.Post)
	for _, post := range posts {
		if !post.InNarrative() {
			continue
		}
		narrativePosts[post.NarrativeID] = append(narrativePosts[post.NarrativeID], post)
	}

	result := &Result{
		PostCount:       len(posts),
		NarrativeErrors: make(map[string]error),
	}

	// Validate per narrative so one malformed narrative cannot poison the rest
	valid := make(map[string][]models.Post, len(narrativePosts))
	for narrativeID, nposts := range narrativePosts {
		if err := p.validateNarrative(nposts); err != nil {
			if opts.FailFast {
				return nil, fmt.Errorf("narrative %s: %w", narrativeID, err)
			}
			p.logger.WithError(err).WithField("narrative_id", narrativeID).Warn("Narrative excluded from run")
			result.NarrativeErrors[narrativeID] = err
			continue
		}
		valid[narrativeID] = nposts
	}
	result.NarrativeCount = len(valid)

	pairs, err := p.scoreNarratives(ctx, valid, opts.Parallelism)
	if err != nil {
		return nil, err
	}

	// Merge barrier: the group builder needs every pair from every narrative
	result.Pairs = pairs
	result.Groups = p.builder.Build(pairs)
	result.Risks = p.engine.AssessAll(valid, result.Groups)
	result.Summary = coordination.Summarize(result.Pairs, result.Groups)

	p.logger.WithFields(logging.Fields{
		"posts":      result.PostCount,
		"narratives": result.NarrativeCount,
		"pairs":      len(result.Pairs),
		"groups":     len(result.Groups),
		"excluded":   len(result.NarrativeErrors),
	}).Info("Analysis run completed")

	return result, nil
}

func (p *Pipeline) validateNarrative(posts []models.Post) error {
	for i := range posts {
		if err := p.validator.ValidatePost(&posts[i]); err != nil {
			return err
		}
	}
	return nil
}

// scoreNarratives fans pair scoring out across narratives. Scoring is
// read-only over each narrative's posts, so workers share nothing but the
// output slice, guarded by a mutex.
func (p *Pipeline) scoreNarratives(ctx context.Context, narrativePosts map[string][]models.Post, parallelism int) ([]models.CoordinatedPair, error) {
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	var mu sync.Mutex
	var allPairs []models.CoordinatedPair

	for narrativeID, posts := range narrativePosts {
		narrativeID, posts := narrativeID, posts
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pairs := p.scorer.ScoreNarrative(narrativeID, posts)
			if len(pairs) == 0 {
				return nil
			}
			mu.Lock()
			allPairs = append(allPairs, pairs...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Map iteration order is random; sort for run-to-run determinism
	sortPairs(allPairs)
	return allPairs, nil
}

func sortPairs(pairs []models.CoordinatedPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].NarrativeID != pairs[j].NarrativeID {
			return pairs[i].NarrativeID < pairs[j].NarrativeID
		}
		if pairs[i].AuthorID1 != pairs[j].AuthorID1 {
			return pairs[i].AuthorID1 < pairs[j].AuthorID1
		}
		return pairs[i].AuthorID2 < pairs[j].AuthorID2
	})
}
