package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"spyglass/internal/storage"
	"spyglass/pkg/cache"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Metrics holds the Prometheus metrics for the query API.
type Metrics struct {
	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// ErrorResponse is the error envelope for all API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunSummary is the JSON shape of an analysis run.
type RunSummary struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         string     `json:"status"`
	PostCount      int        `json:"post_count"`
	NarrativeCount int        `json:"narrative_count"`
	PairCount      int        `json:"pair_count"`
	GroupCount     int        `json:"group_count"`
	Error          string     `json:"error,omitempty"`
}

// RisksResponse wraps a risk listing with its run scope.
type RisksResponse struct {
	RunID string                 `json:"run_id"`
	Count int                    `json:"count"`
	Risks []models.NarrativeRisk `json:"risks"`
}

// GroupsResponse wraps a group listing with its run scope.
type GroupsResponse struct {
	RunID  string                     `json:"run_id"`
	Count  int                        `json:"count"`
	Groups []models.CoordinationGroup `json:"groups"`
}

// PairsResponse wraps a pair listing with its run scope.
type PairsResponse struct {
	RunID string                   `json:"run_id"`
	Count int                      `json:"count"`
	Pairs []models.CoordinatedPair `json:"pairs"`
}

// NarrativeInfo is one row of the narrative listing.
type NarrativeInfo struct {
	NarrativeID string           `json:"narrative_id"`
	RiskScore   float64          `json:"risk_score"`
	RiskLevel   models.RiskLevel `json:"risk_level"`
}

// NarrativesResponse lists the narratives assessed in a run.
type NarrativesResponse struct {
	RunID      string          `json:"run_id"`
	Count      int             `json:"count"`
	Narratives []NarrativeInfo `json:"narratives"`
}

// Handlers serves analysis results from Postgres, with hot listings absorbed
// by the response cache between runs.
type Handlers struct {
	store   *storage.Store
	cache   *cache.Cache
	logger  logging.Logger
	metrics *Metrics
}

func NewHandlers(store *storage.Store, c *cache.Cache, logger logging.Logger, metrics *Metrics) *Handlers {
	return &Handlers{
		store:   store,
		cache:   c,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterRoutes mounts all query endpoints under /api.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/runs/latest", h.GetLatestRun)
	api.GET("/risks", h.ListRisks)
	api.GET("/risks/:narrative_id", h.GetNarrativeRisk)
	api.GET("/coordination/groups", h.ListGroups)
	api.GET("/coordination/pairs", h.ListPairs)
	api.GET("/narratives", h.ListNarratives)
}

// GetLatestRun returns the metadata of the most recent completed run.
func (h *Handlers) GetLatestRun(c *gin.Context) {
	h.respond(c, "latest_run", func(ctx context.Context, _ string) (interface{}, error) {
		run, err := h.store.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		return runSummary(run), nil
	})
}

// ListRisks returns risk assessments, by default from the latest run.
func (h *Handlers) ListRisks(c *gin.Context) {
	level := models.RiskLevel(c.Query("level"))
	switch level {
	case "", models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		h.badRequest(c, "risks", "level must be LOW, MEDIUM or HIGH")
		return
	}
	limit, ok := h.parseLimit(c, "risks")
	if !ok {
		return
	}

	h.respond(c, "risks", func(ctx context.Context, _ string) (interface{}, error) {
		runID, err := h.resolveRunID(ctx, c.Query("run_id"))
		if err != nil {
			return nil, err
		}
		risks, err := h.store.ListRisks(ctx, runID, level, limit)
		if err != nil {
			return nil, err
		}
		return RisksResponse{RunID: runID, Count: len(risks), Risks: risks}, nil
	})
}

// GetNarrativeRisk returns the most recent assessment for one narrative.
func (h *Handlers) GetNarrativeRisk(c *gin.Context) {
	narrativeID := c.Param("narrative_id")

	h.respond(c, "narrative_risk", func(ctx context.Context, _ string) (interface{}, error) {
		return h.store.GetNarrativeRisk(ctx, narrativeID)
	})
}

// ListGroups returns coordination groups, by default from the latest run.
func (h *Handlers) ListGroups(c *gin.Context) {
	limit, ok := h.parseLimit(c, "groups")
	if !ok {
		return
	}

	h.respond(c, "groups", func(ctx context.Context, _ string) (interface{}, error) {
		runID, err := h.resolveRunID(ctx, c.Query("run_id"))
		if err != nil {
			return nil, err
		}
		groups, err := h.store.ListGroups(ctx, runID, limit)
		if err != nil {
			return nil, err
		}
		return GroupsResponse{RunID: runID, Count: len(groups), Groups: groups}, nil
	})
}

// ListPairs returns coordinated pairs, optionally scoped to one narrative.
func (h *Handlers) ListPairs(c *gin.Context) {
	limit, ok := h.parseLimit(c, "pairs")
	if !ok {
		return
	}
	narrativeID := c.Query("narrative_id")

	h.respond(c, "pairs", func(ctx context.Context, _ string) (interface{}, error) {
		runID, err := h.resolveRunID(ctx, c.Query("run_id"))
		if err != nil {
			return nil, err
		}
		pairs, err := h.store.ListPairs(ctx, runID, narrativeID, limit)
		if err != nil {
			return nil, err
		}
		return PairsResponse{RunID: runID, Count: len(pairs), Pairs: pairs}, nil
	})
}

// ListNarratives returns every narrative assessed in a run with its level.
func (h *Handlers) ListNarratives(c *gin.Context) {
	h.respond(c, "narratives", func(ctx context.Context, _ string) (interface{}, error) {
		runID, err := h.resolveRunID(ctx, c.Query("run_id"))
		if err != nil {
			return nil, err
		}
		risks, err := h.store.ListRisks(ctx, runID, "", maxLimit)
		if err != nil {
			return nil, err
		}
		narratives := make([]NarrativeInfo, 0, len(risks))
		for _, r := range risks {
			narratives = append(narratives, NarrativeInfo{
				NarrativeID: r.NarrativeID,
				RiskScore:   r.RiskScore,
				RiskLevel:   r.RiskLevel,
			})
		}
		return NarrativesResponse{RunID: runID, Count: len(narratives), Narratives: narratives}, nil
	})
}

// respond serves the endpoint through the cache, keyed by the full request
// URI so every run/level/limit combination caches independently.
func (h *Handlers) respond(c *gin.Context, endpoint string, load cache.Loader) {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.Queries.WithLabelValues(endpoint, "requested").Inc()
		defer func() {
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}()
	}

	var val interface{}
	var err error
	if h.cache != nil {
		val, err = h.cache.Get(c.Request.Context(), c.Request.URL.RequestURI(), load)
	} else {
		val, err = load(c.Request.Context(), c.Request.URL.RequestURI())
	}

	if errors.Is(err, storage.ErrNotFound) {
		if h.metrics != nil {
			h.metrics.Queries.WithLabelValues(endpoint, "not_found").Inc()
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no results found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("endpoint", endpoint).Error("Query failed")
		if h.metrics != nil {
			h.metrics.Queries.WithLabelValues(endpoint, "error").Inc()
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch results"})
		return
	}

	if h.metrics != nil {
		h.metrics.Queries.WithLabelValues(endpoint, "success").Inc()
	}
	c.JSON(http.StatusOK, val)
}

// resolveRunID defaults to the latest completed run when no run_id was given.
func (h *Handlers) resolveRunID(ctx context.Context, param string) (string, error) {
	if param != "" {
		return param, nil
	}
	run, err := h.store.LatestRun(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (h *Handlers) parseLimit(c *gin.Context, endpoint string) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		h.badRequest(c, endpoint, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func (h *Handlers) badRequest(c *gin.Context, endpoint, msg string) {
	if h.metrics != nil {
		h.metrics.Queries.WithLabelValues(endpoint, "bad_request").Inc()
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func runSummary(run *storage.AnalysisRun) RunSummary {
	summary := RunSummary{
		ID:             run.ID,
		StartedAt:      run.StartedAt,
		Status:         string(run.Status),
		PostCount:      run.PostCount,
		NarrativeCount: run.NarrativeCount,
		PairCount:      run.PairCount,
		GroupCount:     run.GroupCount,
	}
	if run.FinishedAt.Valid {
		finished := run.FinishedAt.Time
		summary.FinishedAt = &finished
	}
	if run.Error.Valid {
		summary.Error = run.Error.String
	}
	return summary
}
