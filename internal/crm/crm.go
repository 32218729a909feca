// Package crm pushes scanned companies, their decision-makers, and a deal to
// the configured CRM.
package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/pkg/hubspot"
	"github.com/lucy-a11y/shuffle/pkg/salesforce"
)

// LeadSource tags records created by this pipeline.
const LeadSource = "WCAG Shuffle Scan"

// dealCloseWindow is how far out new deals are expected to close.
const dealCloseWindow = 90 * 24 * time.Hour

// CRM is a vendor adapter. Upserts are keyed by the natural key (domain for
// companies, email for contacts) so repeated syncs update in place.
type CRM interface {
	Name() string
	UpsertCompany(ctx context.Context, c CompanyRecord) (string, error)
	UpsertContact(ctx context.Context, companyID string, c ContactRecord) (string, error)
	CreateDeal(ctx context.Context, companyID string, contactIDs []string, d DealRecord) (string, error)
}

// Severity is a per-impact issue breakdown.
type Severity struct {
	Critical int
	Serious  int
	Moderate int
	Minor    int
}

// EstimateSeverity splits total issues 15/35/35/15 across critical, serious,
// moderate, and minor, rounding each share down.
func EstimateSeverity(total int) Severity {
	if total <= 0 {
		return Severity{}
	}
	return Severity{
		Critical: total * 15 / 100,
		Serious:  total * 35 / 100,
		Moderate: total * 35 / 100,
		Minor:    total * 15 / 100,
	}
}

// CompanyRecord is the company payload sent to a CRM.
type CompanyRecord struct {
	Name        string
	Domain      string
	Website     string
	RiskScore   int
	TotalIssues int
	Severity    Severity
}

// Summary is a one-line description of the scan outcome.
func (c CompanyRecord) Summary() string {
	return fmt.Sprintf("Accessibility risk score %d/100 with %d issues (%d critical, %d serious, %d moderate, %d minor).",
		c.RiskScore, c.TotalIssues, c.Severity.Critical, c.Severity.Serious, c.Severity.Moderate, c.Severity.Minor)
}

// NewCompanyRecord builds the payload for a scanned company. Engine severity
// counts are used when present; otherwise they are estimated from the total.
func NewCompanyRecord(c *model.DiscoveredCompany) CompanyRecord {
	rec := CompanyRecord{
		Name:    c.CompanyName,
		Domain:  c.Domain,
		Website: c.WebsiteURL,
	}
	if c.RiskScore != nil {
		rec.RiskScore = *c.RiskScore
	}
	if c.TotalIssues != nil {
		rec.TotalIssues = *c.TotalIssues
	}
	rec.Severity = Severity{
		Critical: c.CriticalIssues,
		Serious:  c.SeriousIssues,
		Moderate: c.ModerateIssues,
		Minor:    c.MinorIssues,
	}
	if rec.Severity == (Severity{}) {
		rec.Severity = EstimateSeverity(rec.TotalIssues)
	}
	return rec
}

// ContactRecord is the contact payload sent to a CRM.
type ContactRecord struct {
	FirstName   string
	LastName    string
	Email       string
	Title       string
	Phone       string
	LinkedInURL string
}

// NewContactRecord splits a lead's name into first and last. A single-word
// name is used for both.
func NewContactRecord(l model.Lead) ContactRecord {
	parts := strings.Fields(l.Name)
	rec := ContactRecord{Title: l.Title, LinkedInURL: l.LinkedInURL}
	switch len(parts) {
	case 0:
	case 1:
		rec.FirstName, rec.LastName = parts[0], parts[0]
	default:
		rec.FirstName, rec.LastName = parts[0], strings.Join(parts[1:], " ")
	}
	if l.Email != nil {
		rec.Email = *l.Email
	}
	if l.Phone != nil {
		rec.Phone = *l.Phone
	}
	return rec
}

// DealRecord is the opportunity payload sent to a CRM.
type DealRecord struct {
	Name        string
	Description string
	CloseDate   time.Time
}

// NewDealRecord names the remediation deal for a company.
func NewDealRecord(c CompanyRecord, now time.Time) DealRecord {
	return DealRecord{
		Name:        c.Name + " - Accessibility Remediation",
		Description: c.Summary(),
		CloseDate:   now.Add(dealCloseWindow).UTC(),
	}
}

// New returns the CRM selected by cfg.CRM.Provider. The "none" provider
// returns a nil CRM, which disables sync.
func New(cfg *config.Config) (CRM, error) {
	switch cfg.CRM.Provider {
	case "hubspot":
		opts := []hubspot.Option{hubspot.WithRateLimit(cfg.CRM.RateLimit)}
		if cfg.HubSpot.BaseURL != "" {
			opts = append(opts, hubspot.WithBaseURL(cfg.HubSpot.BaseURL))
		}
		return NewHubSpot(hubspot.NewClient(cfg.HubSpot.Token, opts...)), nil
	case "salesforce":
		sf, err := salesforce.Connect(salesforce.JWTConfig{
			LoginURL: cfg.Salesforce.LoginURL,
			Username: cfg.Salesforce.Username,
			ClientID: cfg.Salesforce.ClientID,
			KeyPath:  cfg.Salesforce.KeyPath,
		})
		if err != nil {
			return nil, eris.Wrap(err, "crm: connect salesforce")
		}
		return NewSalesforce(salesforce.NewClient(sf, salesforce.WithRateLimit(cfg.CRM.RateLimit))), nil
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("crm: unknown provider %q", cfg.CRM.Provider)
	}
}
