package models

// RiskLevel classifies a narrative's risk score into a discrete level.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskComponents holds the five independent risk measurements, each in [0,1].
type RiskComponents struct {
	Velocity            float64 `json:"velocity"`
	CoordinationDensity float64 `json:"coordination_density"`
	BotScore            float64 `json:"bot_score"`
	ForeignDomainRatio  float64 `json:"foreign_domain_ratio"`
	Toxicity            float64 `json:"toxicity"`
}

// NarrativeRisk is the risk assessment for one narrative in one run. It is a
// pure function of its inputs and is overwritten wholesale on re-runs.
type NarrativeRisk struct {
	NarrativeID string         `json:"narrative_id"`
	RiskScore   float64        `json:"risk_score"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	Components  RiskComponents `json:"components"`
	Reasons     []string       `json:"reasons"`
}
