package crm

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/pkg/hubspot"
)

// HubSpot syncs records through the HubSpot CRM v3 API.
type HubSpot struct {
	client hubspot.Client
}

// NewHubSpot wraps a HubSpot client.
func NewHubSpot(c hubspot.Client) *HubSpot {
	return &HubSpot{client: c}
}

// Name implements CRM.
func (h *HubSpot) Name() string { return "hubspot" }

// UpsertCompany implements CRM. Companies are keyed by domain.
func (h *HubSpot) UpsertCompany(ctx context.Context, c CompanyRecord) (string, error) {
	props := hubspot.Properties{
		"name":                       c.Name,
		"domain":                     c.Domain,
		"website":                    c.Website,
		"accessibility_risk_score":   strconv.Itoa(c.RiskScore),
		"accessibility_issues_count": strconv.Itoa(c.TotalIssues),
		"critical_issues":            strconv.Itoa(c.Severity.Critical),
		"serious_issues":             strconv.Itoa(c.Severity.Serious),
		"moderate_issues":            strconv.Itoa(c.Severity.Moderate),
		"minor_issues":               strconv.Itoa(c.Severity.Minor),
		"lead_source":                LeadSource,
	}
	id, err := h.client.UpsertCompany(ctx, c.Domain, props)
	if err != nil {
		return "", eris.Wrapf(err, "crm: hubspot company %s", c.Domain)
	}
	return id, nil
}

// UpsertContact implements CRM. Contacts are keyed by email.
func (h *HubSpot) UpsertContact(ctx context.Context, companyID string, c ContactRecord) (string, error) {
	if c.Email == "" {
		return "", eris.New("crm: hubspot contact requires an email")
	}
	props := hubspot.Properties{
		"email":       c.Email,
		"firstname":   c.FirstName,
		"lastname":    c.LastName,
		"jobtitle":    c.Title,
		"lead_source": LeadSource,
	}
	if c.Phone != "" {
		props["phone"] = c.Phone
	}
	if c.LinkedInURL != "" {
		props["linkedin_url"] = c.LinkedInURL
	}
	id, err := h.client.UpsertContact(ctx, c.Email, props, companyID)
	if err != nil {
		return "", eris.Wrapf(err, "crm: hubspot contact %s", c.Email)
	}
	return id, nil
}

// CreateDeal implements CRM.
func (h *HubSpot) CreateDeal(ctx context.Context, companyID string, contactIDs []string, d DealRecord) (string, error) {
	props := hubspot.Properties{
		"dealname":    d.Name,
		"dealstage":   "appointmentscheduled",
		"pipeline":    "default",
		"closedate":   d.CloseDate.Format("2006-01-02T15:04:05.000Z"),
		"description": d.Description,
	}
	id, err := h.client.CreateDeal(ctx, props, contactIDs, companyID)
	if err != nil {
		return "", eris.Wrapf(err, "crm: hubspot deal %q", d.Name)
	}
	return id, nil
}
