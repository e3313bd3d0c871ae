package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"spyglass/internal/ingest"
	"spyglass/internal/pipeline"
	"spyglass/internal/storage"
	"spyglass/pkg/cache"
	"spyglass/pkg/kafka"
	"spyglass/pkg/logging"
)

// RiskPublisher pushes the results of a completed run to downstream consumers.
type RiskPublisher interface {
	PublishRiskBatch(events []kafka.RiskEvent) error
	PublishGroupBatch(events []kafka.GroupEvent) error
}

// Metrics holds the Prometheus metrics for analysis runs.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Items    *prometheus.GaugeVec
}

// Options controls run cadence and sizing.
type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration
	RunTimeout   time.Duration
	MinPosts     int
	Parallelism  int
}

// DefaultOptions returns the run cadence used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Interval:     5 * time.Minute,
		InitialDelay: 10 * time.Second,
		RunTimeout:   10 * time.Minute,
		MinPosts:     1,
		Parallelism:  4,
	}
}

// Scheduler drives periodic analysis runs: drain the ingest buffer, run the
// detection pipeline, persist the results and publish them.
type Scheduler struct {
	pipeline *pipeline.Pipeline
	buffer   *ingest.PostBuffer
	store    *storage.Store
	producer RiskPublisher
	cache    *cache.Cache
	logger   logging.Logger
	metrics  *Metrics
	opts     Options

	ticker   *time.Ticker
	stopChan chan bool
}

func NewScheduler(p *pipeline.Pipeline, buffer *ingest.PostBuffer, store *storage.Store, producer RiskPublisher, c *cache.Cache, logger logging.Logger, metrics *Metrics, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultOptions().RunTimeout
	}
	return &Scheduler{
		pipeline: p,
		buffer:   buffer,
		store:    store,
		producer: producer,
		cache:    c,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		stopChan: make(chan bool),
	}
}

// Start begins the periodic run loop.
func (s *Scheduler) Start() {
	s.logger.WithFields(logging.Fields{
		"interval":  s.opts.Interval,
		"min_posts": s.opts.MinPosts,
	}).Info("Starting analysis scheduler")

	s.ticker = time.NewTicker(s.opts.Interval)
	go s.runLoop()

	// First run shortly after startup so a restart doesn't wait a full interval
	go func() {
		time.Sleep(s.opts.InitialDelay)
		s.runWithTimeout()
	}()
}

// Stop stops the run loop. A run already in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping analysis scheduler")
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopChan)
}

// Trigger runs one analysis immediately, outside the schedule.
func (s *Scheduler) Trigger() error {
	s.logger.Info("Manually triggering analysis run")
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
	defer cancel()
	return s.RunOnce(ctx)
}

func (s *Scheduler) runLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.runWithTimeout()
		case <-s.stopChan:
			s.logger.Info("Analysis run loop stopped")
			return
		}
	}
}

func (s *Scheduler) runWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Analysis run failed")
	}
}

// RunOnce drains the buffer and executes one full analysis run. When the run
// cannot complete, the drained posts go back into the buffer so the next run
// picks them up again.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	posts := s.buffer.Drain()
	if len(posts) < s.opts.MinPosts {
		s.buffer.Add(posts)
		s.logger.WithField("posts", len(posts)).Debug("Not enough posts buffered, skipping run")
		if s.metrics != nil {
			s.metrics.Runs.WithLabelValues("skipped").Inc()
		}
		return nil
	}

	run, err := s.store.BeginRun(ctx)
	if err != nil {
		s.buffer.Add(posts)
		s.failRun(nil, err)
		return fmt.Errorf("begin run: %w", err)
	}

	analysisStart := time.Now()
	result, err := s.pipeline.Run(ctx, posts, pipeline.Options{Parallelism: s.opts.Parallelism})
	if err != nil {
		s.buffer.Add(posts)
		s.failRun(run, err)
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	if s.metrics != nil {
		s.metrics.Duration.WithLabelValues("analysis").Observe(time.Since(analysisStart).Seconds())
	}

	persistStart := time.Now()
	if err := s.persist(ctx, run.ID, result); err != nil {
		s.buffer.Add(posts)
		s.failRun(run, err)
		return fmt.Errorf("persist run %s: %w", run.ID, err)
	}
	if s.metrics != nil {
		s.metrics.Duration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())
	}

	counts := storage.RunCounts{
		Posts:      result.PostCount,
		Narratives: result.NarrativeCount,
		Pairs:      len(result.Pairs),
		Groups:     len(result.Groups),
	}
	if err := s.store.FinishRun(ctx, run.ID, counts); err != nil {
		s.failRun(run, err)
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}

	// Drop cached listings so queries see this run immediately
	if s.cache != nil {
		s.cache.Purge()
	}

	s.publishRisks(run.ID, result)

	if s.metrics != nil {
		s.metrics.Runs.WithLabelValues("success").Inc()
		s.metrics.Items.WithLabelValues("posts").Set(float64(result.PostCount))
		s.metrics.Items.WithLabelValues("pairs").Set(float64(len(result.Pairs)))
		s.metrics.Items.WithLabelValues("groups").Set(float64(len(result.Groups)))
		s.metrics.Items.WithLabelValues("risks").Set(float64(len(result.Risks)))
	}

	s.logger.WithFields(logging.Fields{
		"run_id":     run.ID,
		"posts":      result.PostCount,
		"narratives": result.NarrativeCount,
		"pairs":      len(result.Pairs),
		"groups":     len(result.Groups),
		"excluded":   len(result.NarrativeErrors),
	}).Info("Analysis run persisted")

	return nil
}

func (s *Scheduler) persist(ctx context.Context, runID string, result *pipeline.Result) error {
	if err := s.store.SavePairs(ctx, runID, result.Pairs); err != nil {
		return err
	}
	if err := s.store.SaveGroups(ctx, runID, result.Groups); err != nil {
		return err
	}
	return s.store.SaveRisks(ctx, runID, result.Risks)
}

// publishRisks is best-effort: the run is already persisted, so a broker
// outage only delays downstream consumers until the next run.
func (s *Scheduler) publishRisks(runID string, result *pipeline.Result) {
	if s.producer == nil || len(result.Risks) == 0 {
		return
	}

	now := time.Now().UTC()
	events := make([]kafka.RiskEvent, 0, len(result.Risks))
	for _, risk := range result.Risks {
		events = append(events, kafka.RiskEvent{
			EventID:       uuid.NewString(),
			RunID:         runID,
			Timestamp:     now,
			Risk:          risk,
			SchemaVersion: "1.0",
		})
	}

	if err := s.producer.PublishRiskBatch(events); err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to publish risk events")
	}

	if len(result.Groups) == 0 {
		return
	}
	groupEvents := make([]kafka.GroupEvent, 0, len(result.Groups))
	for _, group := range result.Groups {
		groupEvents = append(groupEvents, kafka.GroupEvent{
			EventID:       uuid.NewString(),
			RunID:         runID,
			Timestamp:     now,
			Group:         group,
			SchemaVersion: "1.0",
		})
	}
	if err := s.producer.PublishGroupBatch(groupEvents); err != nil {
		s.logger.WithError(err).WithField("run_id", runID).Warn("Failed to publish group events")
	}
}

func (s *Scheduler) failRun(run *storage.AnalysisRun, cause error) {
	if s.metrics != nil {
		s.metrics.Runs.WithLabelValues("failed").Inc()
	}
	if run == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.FailRun(ctx, run.ID, cause); err != nil {
		s.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to mark run as failed")
	}
}
