package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// CoordinationConfig holds the knobs for coordination detection.
type CoordinationConfig struct {
	// TimeWindow is the maximum timestamp distance between two posts for
	// them to count as temporally proximate.
	TimeWindow time.Duration `validate:"gt=0"`
	// SimilarityThreshold is the minimum composite score for a pair to be
	// emitted as coordinated.
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`
	// MinGroupSize is the smallest connected component kept as a group.
	MinGroupSize int `validate:"gte=2"`

	TextWeight    float64 `validate:"gte=0,lte=1"`
	DomainWeight  float64 `validate:"gte=0,lte=1"`
	HashtagWeight float64 `validate:"gte=0,lte=1"`
}

// RiskWeights holds the per-component weights of the overall risk score.
type RiskWeights struct {
	Velocity            float64 `validate:"gte=0,lte=1"`
	CoordinationDensity float64 `validate:"gte=0,lte=1"`
	BotScore            float64 `validate:"gte=0,lte=1"`
	ForeignDomainRatio  float64 `validate:"gte=0,lte=1"`
	Toxicity            float64 `validate:"gte=0,lte=1"`
}

// RiskThresholds classify the weighted risk score into LOW/MEDIUM/HIGH.
// The configured values are authoritative; scores >= High are HIGH,
// scores >= Low are MEDIUM, everything below is LOW.
type RiskThresholds struct {
	Low  float64 `validate:"gte=0,lte=1"`
	High float64 `validate:"gte=0,lte=1,gtefield=Low"`
}

// BotIndicatorConfig holds the thresholds for the per-author bot heuristics.
type BotIndicatorConfig struct {
	// MaxPostsPerHour above which the posting-rate indicator fires.
	MaxPostsPerHour float64 `validate:"gt=0"`
	// MinUniqueTextRatio below which the repetitive-content indicator fires.
	MinUniqueTextRatio float64 `validate:"gte=0,lte=1"`
	// MaxIntervalVariance is the normalized inter-post interval variance
	// below which the regular-posting indicator fires.
	MaxIntervalVariance float64 `validate:"gt=0"`
	// MinURLRatio above which the link-spam indicator fires.
	MinURLRatio float64 `validate:"gte=0,lte=1"`
}

// BurstConfig controls the burst bonus in the velocity component.
type BurstConfig struct {
	// Window is the forward-looking span a burst is measured over.
	Window time.Duration `validate:"gt=0"`
	// MinPosts is the number of posts inside Window that make a burst.
	MinPosts int `validate:"gte=2"`
}

// RiskConfig holds the knobs for risk scoring.
type RiskConfig struct {
	Weights    RiskWeights
	Thresholds RiskThresholds
	Bot        BotIndicatorConfig
	Burst      BurstConfig

	// ForeignTLDs are domain suffixes counted as foreign.
	ForeignTLDs []string `validate:"required,min=1"`
	// ToxicKeywords is the fixed token set for the toxicity heuristic.
	ToxicKeywords []string `validate:"required,min=1"`
	// ToxicitySaturation is the toxic-token density at which the toxicity
	// component saturates to 1.0.
	ToxicitySaturation float64 `validate:"gt=0,lte=1"`
	// ReportingFloor is the minimum component value that produces a reason.
	ReportingFloor float64 `validate:"gte=0,lte=1"`
}

// AnalysisConfig is the full, explicit configuration of the analysis core.
// It is loaded and validated once per process and passed by reference into
// every calculator; nothing reads configuration at call sites.
type AnalysisConfig struct {
	Coordination CoordinationConfig
	Risk         RiskConfig
}

var defaultToxicKeywords = []string{
	"hate", "kill", "die", "attack", "destroy", "enemy", "threat",
	"dangerous", "evil", "corrupt", "conspiracy", "hoax", "fake",
	"propaganda", "lies", "traitor", "invasion", "war",
}

// DefaultAnalysisConfig returns the stock configuration.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Coordination: CoordinationConfig{
			TimeWindow:          time.Hour,
			SimilarityThreshold: 0.85,
			MinGroupSize:        3,
			TextWeight:          0.5,
			DomainWeight:        0.3,
			HashtagWeight:       0.2,
		},
		Risk: RiskConfig{
			Weights: RiskWeights{
				Velocity:            0.25,
				CoordinationDensity: 0.30,
				BotScore:            0.20,
				ForeignDomainRatio:  0.15,
				Toxicity:            0.10,
			},
			Thresholds: RiskThresholds{
				Low:  0.3,
				High: 0.6,
			},
			Bot: BotIndicatorConfig{
				MaxPostsPerHour:     20,
				MinUniqueTextRatio:  0.5,
				MaxIntervalVariance: 0.1,
				MinURLRatio:         0.8,
			},
			Burst: BurstConfig{
				Window:   15 * time.Minute,
				MinPosts: 5,
			},
			ForeignTLDs:        []string{".ru", ".cn", ".ir"},
			ToxicKeywords:      defaultToxicKeywords,
			ToxicitySaturation: 0.05,
			ReportingFloor:     0.3,
		},
	}
}

// AnalysisConfigFromEnv builds the analysis configuration from environment
// variables, falling back to defaults, and validates it.
func AnalysisConfigFromEnv() (AnalysisConfig, error) {
	cfg := DefaultAnalysisConfig()

	cfg.Coordination.TimeWindow = time.Duration(GetEnvInt("COORDINATION_TIME_WINDOW_SECONDS", 3600)) * time.Second
	cfg.Coordination.SimilarityThreshold = GetEnvFloat("COORDINATION_SIMILARITY_THRESHOLD", cfg.Coordination.SimilarityThreshold)
	cfg.Coordination.MinGroupSize = GetEnvInt("COORDINATION_MIN_GROUP_SIZE", cfg.Coordination.MinGroupSize)
	cfg.Coordination.TextWeight = GetEnvFloat("COORDINATION_TEXT_WEIGHT", cfg.Coordination.TextWeight)
	cfg.Coordination.DomainWeight = GetEnvFloat("COORDINATION_DOMAIN_WEIGHT", cfg.Coordination.DomainWeight)
	cfg.Coordination.HashtagWeight = GetEnvFloat("COORDINATION_HASHTAG_WEIGHT", cfg.Coordination.HashtagWeight)

	cfg.Risk.Weights.Velocity = GetEnvFloat("RISK_WEIGHT_VELOCITY", cfg.Risk.Weights.Velocity)
	cfg.Risk.Weights.CoordinationDensity = GetEnvFloat("RISK_WEIGHT_COORDINATION", cfg.Risk.Weights.CoordinationDensity)
	cfg.Risk.Weights.BotScore = GetEnvFloat("RISK_WEIGHT_BOT", cfg.Risk.Weights.BotScore)
	cfg.Risk.Weights.ForeignDomainRatio = GetEnvFloat("RISK_WEIGHT_FOREIGN_DOMAIN", cfg.Risk.Weights.ForeignDomainRatio)
	cfg.Risk.Weights.Toxicity = GetEnvFloat("RISK_WEIGHT_TOXICITY", cfg.Risk.Weights.Toxicity)
	cfg.Risk.Thresholds.Low = GetEnvFloat("RISK_THRESHOLD_LOW", cfg.Risk.Thresholds.Low)
	cfg.Risk.Thresholds.High = GetEnvFloat("RISK_THRESHOLD_HIGH", cfg.Risk.Thresholds.High)
	cfg.Risk.ForeignTLDs = GetEnvList("RISK_FOREIGN_TLDS", cfg.Risk.ForeignTLDs)
	cfg.Risk.ToxicKeywords = GetEnvList("RISK_TOXIC_KEYWORDS", cfg.Risk.ToxicKeywords)
	cfg.Risk.ToxicitySaturation = GetEnvFloat("RISK_TOXICITY_SATURATION", cfg.Risk.ToxicitySaturation)
	cfg.Risk.ReportingFloor = GetEnvFloat("RISK_REPORTING_FLOOR", cfg.Risk.ReportingFloor)

	if err := cfg.Validate(); err != nil {
		return AnalysisConfig{}, err
	}
	return cfg, nil
}

// Validate checks every configured value; it is called once at load time so
// that no calculator needs to re-check configuration.
func (c *AnalysisConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid analysis config: %w", err)
	}
	return nil
}
