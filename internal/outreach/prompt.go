package outreach

import (
	"fmt"
	"strings"

	"github.com/lucy-a11y/shuffle/internal/classify"
	"github.com/lucy-a11y/shuffle/internal/model"
)

// MaxPromptViolations caps the violations quoted in a prompt.
const MaxPromptViolations = 5

const systemPrompt = `You write short, personal B2B sales emails for a web accessibility remediation firm.
Write plain text only: no subject line, no markdown, no placeholders in brackets.
Never invent scan findings beyond the facts you are given.`

var toneInstructions = map[model.Tone]string{
	model.ToneProfessional: "Formal and business-appropriate. Lead with compliance, risk mitigation, and professional standards.",
	model.ToneFriendly:     "Warm and helpful. Frame the work as a partnership; conversational but respectful.",
	model.ToneUrgent:       "Direct and action-oriented. Stress the immediate legal exposure and why waiting is costly.",
}

// BuildPrompt renders the generation request for a scanned company.
func BuildPrompt(c *model.DiscoveredCompany, leads []model.Lead, tone model.Tone) string {
	risk := *c.RiskScore
	total := 0
	if c.TotalIssues != nil {
		total = *c.TotalIssues
	}
	top := c.TopViolations.Top(MaxPromptViolations)

	var b strings.Builder
	fmt.Fprintf(&b, "Write a personalized outreach email for %s (%s).\n\n", c.CompanyName, c.WebsiteURL)
	b.WriteString("Scan facts:\n")
	fmt.Fprintf(&b, "- Accessibility risk score: %d/100 (%s risk)\n", risk, strings.ToUpper(classify.RiskLevel(risk)))
	fmt.Fprintf(&b, "- Total issues found: %d\n", total)
	if c.CriticalIssues > 0 || c.SeriousIssues > 0 {
		fmt.Fprintf(&b, "- Critical issues: %d, serious issues: %d\n", c.CriticalIssues, c.SeriousIssues)
	}

	if len(top) > 0 {
		b.WriteString("\nMost severe violations:\n")
		for i, v := range top {
			desc := v.Description
			if desc == "" {
				desc = v.Help
			}
			fmt.Fprintf(&b, "%d. %s (%s, rule %s", i+1, desc, v.Impact, v.ID)
			if v.Nodes > 0 {
				fmt.Fprintf(&b, ", %d elements", v.Nodes)
			}
			b.WriteString(")\n")
		}
	}

	if len(leads) > 0 {
		b.WriteString("\nDecision makers:\n")
		for _, l := range leads {
			if l.Title != "" {
				fmt.Fprintf(&b, "- %s, %s\n", l.Name, l.Title)
			} else {
				fmt.Fprintf(&b, "- %s\n", l.Name)
			}
		}
	}

	fmt.Fprintf(&b, "\nTone: %s\n", toneInstructions[tone])
	b.WriteString(`
The email should:
1. Greet the decision maker by name when one is known.
2. Mention their website by name.
3. Name the most serious problems found without listing every issue.
4. Explain the business impact: legal exposure, excluded customers, lost revenue.
5. Offer remediation with one clear next step and a call to action.

Keep it between 300 and 400 words.`)
	return b.String()
}
