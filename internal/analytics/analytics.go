// Package analytics projects persisted shuffle state into sales-funnel metrics.
// Everything is recomputed from company, lead, and status rows; session
// counters are never read.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/classify"
	"github.com/lucy-a11y/shuffle/internal/model"
)

// TopOpportunityLimit caps the opportunities list.
const TopOpportunityLimit = 10

// Range is a reporting window ending now.
type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"
	RangeAll Range = "all"
)

// ParseRange validates s. Empty input selects 30d.
func ParseRange(s string) (Range, error) {
	switch r := Range(s); r {
	case "":
		return Range30d, nil
	case Range7d, Range30d, Range90d, RangeAll:
		return r, nil
	default:
		return "", apperr.E(apperr.Validation, "analytics: time range must be 7d, 30d, 90d, or all; got %q", s)
	}
}

// Since returns the window start relative to now, or nil for all time.
func (r Range) Since(now time.Time) *time.Time {
	var days int
	switch r {
	case Range7d:
		days = 7
	case Range30d:
		days = 30
	case Range90d:
		days = 90
	default:
		return nil
	}
	t := now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

// Input is the persisted state for one report.
type Input struct {
	Sessions   []model.ShuffleSession
	Companies  []model.DiscoveredCompany
	LeadCounts map[int64]int
}

// Funnel holds stage totals.
type Funnel struct {
	Sessions             int `json:"total_sessions"`
	Discovered           int `json:"total_discovered"`
	Scanned              int `json:"total_scanned"`
	Compliant            int `json:"total_compliant"`
	NonCompliant         int `json:"total_non_compliant"`
	Leads                int `json:"total_leads"`
	CompaniesWithLeads   int `json:"companies_with_leads"`
	CompaniesWithScripts int `json:"companies_with_scripts"`
}

// Rates are conversion percentages (0-100, rounded) except LeadYield, which
// is leads per non-compliant company rounded to two decimals.
type Rates struct {
	DiscoveryToScan    float64 `json:"scan_conversion_rate"`
	ScanToNonCompliant float64 `json:"non_compliant_rate"`
	LeadYield          float64 `json:"lead_extraction_rate"`
	ScriptGeneration   float64 `json:"script_generation_rate"`
	Contact            float64 `json:"contact_rate"`
	Close              float64 `json:"close_rate"`
}

// CategoryStat summarizes one business category.
type CategoryStat struct {
	Category     string `json:"category"`
	Sessions     int    `json:"sessions"`
	Discovered   int    `json:"discovered"`
	NonCompliant int    `json:"non_compliant"`
}

// Opportunity is a high-risk company nobody has contacted yet.
type Opportunity struct {
	CompanyID   int64  `json:"company_id"`
	SessionID   string `json:"session_id"`
	CompanyName string `json:"company_name"`
	WebsiteURL  string `json:"website_url"`
	RiskScore   int    `json:"risk_score"`
	TotalIssues int    `json:"total_issues"`
	LeadCount   int    `json:"leads_count"`
	HasScript   bool   `json:"has_script"`
}

// Report is the full analytics payload.
type Report struct {
	TimeRange        Range                       `json:"time_range"`
	Since            *time.Time                  `json:"since,omitempty"`
	Funnel           Funnel                      `json:"funnel"`
	Rates            Rates                       `json:"conversion_rates"`
	ContactStatus    map[model.ContactStatus]int `json:"contact_status"`
	Categories       []CategoryStat              `json:"category_breakdown"`
	AverageRiskScore int                         `json:"avg_risk_score"`
	TopOpportunities []Opportunity               `json:"top_opportunities"`
}

// Compute builds a Report from in. It is a pure function of its input.
func Compute(r Range, since *time.Time, in Input) Report {
	rep := Report{
		TimeRange:        r,
		Since:            since,
		ContactStatus:    make(map[model.ContactStatus]int, len(model.ContactStatuses)),
		Categories:       []CategoryStat{},
		TopOpportunities: []Opportunity{},
	}
	for _, s := range model.ContactStatuses {
		rep.ContactStatus[s] = 0
	}

	f := &rep.Funnel
	f.Sessions = len(in.Sessions)

	categoryOf := make(map[string]string, len(in.Sessions))
	cats := make(map[string]*CategoryStat)
	catFor := func(name string) *CategoryStat {
		c, ok := cats[name]
		if !ok {
			c = &CategoryStat{Category: name}
			cats[name] = c
		}
		return c
	}
	for _, s := range in.Sessions {
		categoryOf[s.ID] = s.Category
		catFor(s.Category).Sessions++
	}

	var riskSum int
	var opps []Opportunity
	for i := range in.Companies {
		c := &in.Companies[i]
		f.Discovered++
		rep.ContactStatus[c.ContactStatus]++
		cat := catFor(categoryOf[c.SessionID])
		cat.Discovered++

		leads := in.LeadCounts[c.ID]
		f.Leads += leads
		if leads > 0 {
			f.CompaniesWithLeads++
		}
		if c.SalesScriptID != nil {
			f.CompaniesWithScripts++
		}

		if c.RiskScore == nil {
			continue
		}
		f.Scanned++
		riskSum += *c.RiskScore
		if classify.Classify(*c.RiskScore) == classify.NonCompliant {
			f.NonCompliant++
			cat.NonCompliant++
		} else {
			f.Compliant++
		}

		if c.ContactStatus == model.ContactStatusNotContacted {
			var issues int
			if c.TotalIssues != nil {
				issues = *c.TotalIssues
			}
			opps = append(opps, Opportunity{
				CompanyID:   c.ID,
				SessionID:   c.SessionID,
				CompanyName: c.CompanyName,
				WebsiteURL:  c.WebsiteURL,
				RiskScore:   *c.RiskScore,
				TotalIssues: issues,
				LeadCount:   leads,
				HasScript:   c.SalesScriptID != nil,
			})
		}
	}

	if f.Scanned > 0 {
		rep.AverageRiskScore = int(math.Round(float64(riskSum) / float64(f.Scanned)))
	}

	sc := rep.ContactStatus
	reached := sc[model.ContactStatusContacted] + sc[model.ContactStatusResponded] +
		sc[model.ContactStatusScheduled] + sc[model.ContactStatusClosedWon] + sc[model.ContactStatusClosedLost]
	closed := sc[model.ContactStatusClosedWon] + sc[model.ContactStatusClosedLost]

	rep.Rates = Rates{
		DiscoveryToScan:    percent(f.Scanned, f.Discovered),
		ScanToNonCompliant: percent(f.NonCompliant, f.Scanned),
		LeadYield:          round2(ratio(f.Leads, f.NonCompliant)),
		ScriptGeneration:   percent(f.CompaniesWithScripts, f.NonCompliant),
		Contact:            percent(reached, f.NonCompliant),
		Close:              percent(sc[model.ContactStatusClosedWon], closed),
	}

	for _, c := range cats {
		rep.Categories = append(rep.Categories, *c)
	}
	sort.Slice(rep.Categories, func(i, j int) bool {
		a, b := rep.Categories[i], rep.Categories[j]
		if a.NonCompliant != b.NonCompliant {
			return a.NonCompliant > b.NonCompliant
		}
		return a.Category < b.Category
	})

	sort.Slice(opps, func(i, j int) bool {
		if opps[i].RiskScore != opps[j].RiskScore {
			return opps[i].RiskScore > opps[j].RiskScore
		}
		return opps[i].CompanyID < opps[j].CompanyID
	})
	if len(opps) > TopOpportunityLimit {
		opps = opps[:TopOpportunityLimit]
	}
	rep.TopOpportunities = append(rep.TopOpportunities, opps...)

	return rep
}

// ratio returns num/den, or 0 when den is zero.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func percent(num, den int) float64 {
	return math.Round(ratio(num, den) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
