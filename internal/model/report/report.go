package report

// ComplianceReport is the structured analysis produced for one product/destination pair.
type ComplianceReport struct {
	ProductName               string                    `json:"productName"`
	Category                  string                    `json:"category"`
	Country                   string                    `json:"country"`
	LanguageDetected          string                    `json:"languageDetected"`
	Certifications            []string                  `json:"certifications"`
	ExportCertifications      []string                  `json:"exportCertifications"`
	RiskScore                 Number                    `json:"riskScore"`
	RiskAnalysis              string                    `json:"riskAnalysis"`
	RiskFactors               []RiskFactor              `json:"riskFactors"`
	ImportRegulations         []string                  `json:"importRegulations"`
	CulturalCheck             CulturalCheck             `json:"culturalCheck"`
	Financials                Financials                `json:"financials"`
	ShippingLabelRequirements ShippingLabelRequirements `json:"shippingLabelRequirements"`
	ThoughtSignature          []string                  `json:"thoughtSignature"`
	Sources                   []Source                  `json:"sources,omitempty"`
}

// RiskFactor is one weighted contributor to the risk score.
type RiskFactor struct {
	Factor      string `json:"factor"`
	Impact      string `json:"impact"` // High | Medium | Low
	Description string `json:"description"`
}

type CulturalCheck struct {
	Status          string   `json:"status"` // Compliant | Warning | Non-Compliant
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
}

type Financials struct {
	BasePriceEstimate Number `json:"basePriceEstimate"`
	ShippingEstimate  Number `json:"shippingEstimate"`
	TariffRate        Text   `json:"tariffRate"`
	TotalLandingCost  Number `json:"totalLandingCost"`
	Currency          string `json:"currency"`
	ExchangeRate      Text   `json:"exchangeRate"`
}

type ShippingLabelRequirements struct {
	Origin        string   `json:"origin"`
	Weight        Text     `json:"weight"`
	HSCode        string   `json:"hsCode"`
	WarningLabels []string `json:"warningLabels"`
}

// Source is a grounding citation returned by the model.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Tension is the geopolitical briefing for a report.
type Tension struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// HistoryItem is one persisted analysis.
type HistoryItem struct {
	ID        string           `json:"id"`
	Timestamp int64            `json:"timestamp"` // unix milliseconds
	Image     string           `json:"image"`     // data URL
	Data      ComplianceReport `json:"data"`
}
