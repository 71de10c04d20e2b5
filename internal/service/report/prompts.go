package report

import "fmt"

const contextYear = 2026

// analyzePrompt 是合规分析的主提示词。JSON 示例中含有花括号，因此用 Sprintf 拼装而不是 FString 模板。
func analyzePrompt(country, query string) string {
	if query == "" {
		query = "N/A"
	}
	return fmt.Sprintf(`
You are an elite Global Trade Compliance Agent.
Target Market: %[1]s
Context Year: %[3]d

Multimodal Input Analysis:
- User Query: "%[2]s"
- Image: [Product Image Provided]

Phase 1: Identification & Localization
- Detect the language of the user query.
- IDENTIFY the product and its origin visually.
- RESPOND in the detected language of the user query throughout the JSON values, except for specific technical codes.

Phase 2: Real-Time Intelligence Probing
- Currency Volatility Analysis: Assess %[3]d forecasted volatility of %[1]s's currency against global benchmarks.
- Active Trade Embargoes: Identify any current, newly enacted, or pending %[3]d sanctions or export controls specifically affecting the identified product category and %[1]s.
- Recent Geopolitical Incidents: Consider international trade disputes, supply chain blockades, or diplomatic incidents in the last 6 months involving %[1]s.
- Regulatory Pulse: Find %[3]d specific import/export laws and tariff changes for this product in %[1]s.

Phase 3: Deep Risk Assessment
- Compute a "riskScore" (0-100) where 0 is perfectly safe and 100 is critical risk/embargoed.
- Provide a granular "riskFactors" array identifying 3-4 specific real-time risks (Currency, Embargo, Incident, etc.).
- Write a high-level "riskAnalysis" summarizing how these findings affected the score.

Phase 4: Financial Modeling
- Estimate Landing Cost: Assume a reasonable wholesale price, calculate shipping, and apply %[3]d estimated tariffs.
- Convert all costs to the local currency of %[1]s.

Phase 5: Cultural & Branding Nuance
- Analyze packaging appropriateness for %[1]s.

Phase 6: Thought Signature
- Provide 5-6 short steps describing your reasoning process.

Return the result strictly as a JSON object matching this structure:
{
  "productName": "...",
  "category": "...",
  "country": "%[1]s",
  "languageDetected": "...",
  "certifications": ["..."],
  "exportCertifications": ["..."],
  "riskScore": 75,
  "riskAnalysis": "...",
  "riskFactors": [
    { "factor": "Currency Stability", "impact": "High/Medium/Low", "description": "..." },
    { "factor": "Trade Restrictions", "impact": "High/Medium/Low", "description": "..." },
    { "factor": "Geopolitical Incidents", "impact": "High/Medium/Low", "description": "..." }
  ],
  "importRegulations": ["..."],
  "culturalCheck": {
    "status": "Compliant/Warning/Non-Compliant",
    "analysis": "...",
    "recommendations": ["..."]
  },
  "financials": {
    "basePriceEstimate": 0,
    "shippingEstimate": 0,
    "tariffRate": "...",
    "totalLandingCost": 0,
    "currency": "...",
    "exchangeRate": "..."
  },
  "shippingLabelRequirements": {
    "origin": "...",
    "weight": "...",
    "hsCode": "...",
    "warningLabels": ["..."]
  },
  "thoughtSignature": ["Step 1", "Step 2", "Step 3", "Step 4", "Step 5"],
  "sources": [{ "title": "...", "uri": "..." }]
}
`, country, query, contextYear)
}

// FString 模板，变量由 chain 输入提供。
const (
	briefingSystemPrompt = "You are a trade intelligence analyst. When you rely on a published source, cite it as a markdown link [title](url)."

	watchdogTemplate = "Latest trade updates for {product} in {country} for {year}. " +
		"Explicitly search for ANY new restrictions, law changes, or added trade barriers that occurred in the last 48 hours. " +
		"Provide a bulleted list of actual news snippets if available."

	tensionTemplate = "Search for {year} geopolitical trade tensions, sanctions, and political friction currently affecting {product} " +
		"and general trade between global hubs and {country}. Focus on trade wars, supply chain risks, and political instability. " +
		"Provide a detailed professional intelligence briefing."
)

// 用户可见的固定文案。
const (
	msgMissingKey   = "Configuration Error: Global API Key missing. Please ensure the report model credentials are configured."
	msgEmptyPayload = "Intelligence Void: The model returned an empty payload."
	msgParseFailed  = "Protocol Error: Strategic audit parsing failed."
	msgSystemic     = "Systemic Failure: An unknown error occurred within the intelligence pipeline."

	WatchdogFallback = "No new changes detected today."
	TensionFallback  = "No significant geopolitical frictions detected for this specific trade vector."

	msgWatchdogOffline = "Could not reach real-time news server."
	msgTensionOffline  = "Tension monitor offline. Unable to reach global intelligence nodes."

	defaultRegulatorySource   = "Regulatory Source"
	defaultIntelligenceSource = "Intelligence Source"
	defaultSourceURI          = "#"
)
