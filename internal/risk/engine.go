package risk

import (
	"fmt"
	"sort"

	"spyglass/pkg/config"
	"spyglass/pkg/logging"
	"spyglass/pkg/models"
)

// Engine scores narratives from their posts and the run's coordination
// groups. Scoring is deterministic and stateless; the engine carries only
// validated configuration and a logger.
type Engine struct {
	cfg    *config.RiskConfig
	logger logging.Logger
}

// NewEngine creates a risk engine with validated configuration.
func NewEngine(cfg *config.RiskConfig, logger logging.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// AssessAll scores every narrative in the map and returns the assessments
// sorted by risk score descending. Narratives with no posts are skipped.
func (e *Engine) AssessAll(narrativePosts map[string][]models.Post, groups []models.CoordinationGroup) []models.NarrativeRisk {
	risks := make([]models.NarrativeRisk, 0, len(narrativePosts))

	for narrativeID, posts := range narrativePosts {
		if len(posts) == 0 {
			continue
		}
		risks = append(risks, e.Assess(narrativeID, posts, groups))
	}

	sort.SliceStable(risks, func(i, j int) bool {
		if risks[i].RiskScore != risks[j].RiskScore {
			return risks[i].RiskScore > risks[j].RiskScore
		}
		return risks[i].NarrativeID < risks[j].NarrativeID
	})

	highCount := 0
	for _, r := range risks {
		if r.RiskLevel == models.RiskHigh {
			highCount++
		}
	}
	e.logger.WithFields(logging.Fields{
		"narratives": len(risks),
		"high_risk":  highCount,
	}).Info("Risk assessment completed")

	return risks
}

// Assess computes the five components, their weighted sum and the level
// classification for one narrative.
func (e *Engine) Assess(narrativeID string, posts []models.Post, groups []models.CoordinationGroup) models.NarrativeRisk {
	authors := make(map[string]struct{})
	for _, p := range posts {
		authors[p.AuthorID] = struct{}{}
	}

	components := models.RiskComponents{
		Velocity:            VelocityScore(posts, e.cfg.Burst),
		CoordinationDensity: CoordinationDensity(narrativeID, groups, len(authors)),
		BotScore:            BotScore(posts, e.cfg.Bot),
		ForeignDomainRatio:  ForeignDomainRatio(posts, e.cfg.ForeignTLDs),
		Toxicity:            ToxicityScore(posts, e.cfg.ToxicKeywords, e.cfg.ToxicitySaturation),
	}

	weights := e.cfg.Weights
	riskScore := weights.Velocity*components.Velocity +
		weights.CoordinationDensity*components.CoordinationDensity +
		weights.BotScore*components.BotScore +
		weights.ForeignDomainRatio*components.ForeignDomainRatio +
		weights.Toxicity*components.Toxicity

	return models.NarrativeRisk{
		NarrativeID: narrativeID,
		RiskScore:   riskScore,
		RiskLevel:   e.classify(riskScore),
		Components:  components,
		Reasons:     e.reasons(components),
	}
}

// classify maps a score to LOW/MEDIUM/HIGH using the configured thresholds.
// The configured values are authoritative.
func (e *Engine) classify(score float64) models.RiskLevel {
	switch {
	case score >= e.cfg.Thresholds.High:
		return models.RiskHigh
	case score >= e.cfg.Thresholds.Low:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// reasons renders one sentence per component at or above the reporting
// floor, in fixed component order. An assessment with no reportable
// component gets a single fallback reason.
func (e *Engine) reasons(c models.RiskComponents) []string {
	floor := e.cfg.ReportingFloor
	weights := e.cfg.Weights
	var reasons []string

	if c.Velocity >= floor {
		reasons = append(reasons, fmt.Sprintf(
			"High posting velocity (%.2f) - contributes %.2f to risk",
			c.Velocity, weights.Velocity*c.Velocity))
	}
	if c.CoordinationDensity >= floor {
		reasons = append(reasons, fmt.Sprintf(
			"Coordinated behavior detected (%.2f) - contributes %.2f to risk",
			c.CoordinationDensity, weights.CoordinationDensity*c.CoordinationDensity))
	}
	if c.BotScore >= floor {
		reasons = append(reasons, fmt.Sprintf(
			"Bot-like activity patterns (%.2f) - contributes %.2f to risk",
			c.BotScore, weights.BotScore*c.BotScore))
	}
	if c.ForeignDomainRatio >= floor {
		reasons = append(reasons, fmt.Sprintf(
			"High foreign domain ratio (%.2f) - contributes %.2f to risk",
			c.ForeignDomainRatio, weights.ForeignDomainRatio*c.ForeignDomainRatio))
	}
	if c.Toxicity >= floor {
		reasons = append(reasons, fmt.Sprintf(
			"Toxic content indicators (%.2f) - contributes %.2f to risk",
			c.Toxicity, weights.Toxicity*c.Toxicity))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "No significant risk factors identified")
	}
	return reasons
}
