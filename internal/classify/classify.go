// Package classify applies the outreach-eligibility rule to scan results.
package classify

import (
	"math"

	"github.com/lucy-a11y/shuffle/internal/model"
)

// OutreachRiskThreshold is the risk score at or above which a site is
// non-compliant and eligible for lead extraction and outreach.
const OutreachRiskThreshold = 70

// CertificationMaxRiskScore is the exclusive upper bound on a project's
// average risk score for it to be certified. It is a separate policy from
// OutreachRiskThreshold.
const CertificationMaxRiskScore = 30

// Verdict is the outcome of classifying one scanned site.
type Verdict string

const (
	Compliant    Verdict = "compliant"
	NonCompliant Verdict = "non_compliant"
)

// Classify returns the verdict for riskScore.
func Classify(riskScore int) Verdict {
	if riskScore >= OutreachRiskThreshold {
		return NonCompliant
	}
	return Compliant
}

// Counters returns the session delta for one newly classified site.
func (v Verdict) Counters() model.SessionCounters {
	if v == NonCompliant {
		return model.SessionCounters{Scanned: 1, NonCompliant: 1}
	}
	return model.SessionCounters{Scanned: 1, Compliant: 1}
}

// EligibleForOutreach reports whether a scanned company qualifies for leads
// and outreach. Unscanned companies never qualify.
func EligibleForOutreach(c *model.DiscoveredCompany) bool {
	return c != nil && c.RiskScore != nil && Classify(*c.RiskScore) == NonCompliant
}

// ComplianceScore inverts a risk score onto the 0-100 audit scale.
func ComplianceScore(riskScore int) int {
	return 100 - riskScore
}

// Certifiable reports whether the rounded average risk of riskScores is below
// CertificationMaxRiskScore. An empty input is never certifiable.
func Certifiable(riskScores []int) bool {
	if len(riskScores) == 0 {
		return false
	}
	var sum int
	for _, r := range riskScores {
		sum += r
	}
	avg := int(math.Round(float64(sum) / float64(len(riskScores))))
	return avg < CertificationMaxRiskScore
}

// RiskLevel is a coarse label used in outreach copy and CRM fields.
func RiskLevel(riskScore int) string {
	switch {
	case riskScore >= 85:
		return "critical"
	case riskScore >= OutreachRiskThreshold:
		return "high"
	case riskScore >= 40:
		return "medium"
	default:
		return "low"
	}
}
