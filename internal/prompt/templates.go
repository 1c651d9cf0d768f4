package prompt

import "strings"

// Strategy selects the sales angle of the default prompt.
type Strategy string

const (
	StrategyVerifactu  Strategy = "verifactu"
	StrategyDigitalKit Strategy = "digital_kit"
	StrategyCompetitor Strategy = "competitor"
	StrategyGeneral    Strategy = "general"
)

// NormalizeStrategy maps unknown or missing strategy keys to general.
func NormalizeStrategy(value string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case StrategyVerifactu:
		return StrategyVerifactu
	case StrategyDigitalKit:
		return StrategyDigitalKit
	case StrategyCompetitor:
		return StrategyCompetitor
	default:
		return StrategyGeneral
	}
}

var defaultTemplates = map[Strategy]string{
	StrategyVerifactu: `Analyze {{.BusinessName}} ({{.Category}}) as a sales prospect for invoicing software.
Focus on the upcoming Verifactu e-invoicing mandate: estimate their compliance exposure,
how prepared a business of this profile typically is, and frame the outreach around
avoiding penalties and simplifying the transition.`,

	StrategyDigitalKit: `Analyze {{.BusinessName}} ({{.Category}}) as a sales prospect for digitalization services.
Frame the outreach around the Kit Digital subsidy: what funded improvements would move the
needle for them, and what they lose by leaving the grant unclaimed.`,

	StrategyCompetitor: `Analyze {{.BusinessName}} ({{.Category}}) as a sales prospect under competitive pressure.
Compare their visible market position against typical competitors in the same category and
area, and frame the outreach around the concrete gap a competitor is already exploiting.`,

	StrategyGeneral: `Analyze {{.BusinessName}} ({{.Category}}) as a sales prospect.
Identify their strongest growth lever and the clearest pain point a services provider could
resolve, and frame an outreach message around that opportunity.`,
}

// outputContract is appended to every prompt so backends without a schema
// hint still know the exact result shape.
const outputContract = `Respond with a single JSON object, no markdown, with exactly this shape:
{
  "tags": ["short classification identifiers, lowercase"],
  "priority": "urgent" | "high" | "medium" | "low",
  "message": {"subject": "outreach subject", "body": "outreach body", "channel": "email" | "phone" | "whatsapp"},
  "opportunity_map": {
    "strengths": ["..."],
    "weaknesses": ["..."],
    "pain_points": ["..."],
    "solutions": ["..."]
  },
  "reasoning": "why this priority and message"
}`
