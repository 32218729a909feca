package crm

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/pkg/salesforce"
)

// Salesforce syncs records as Accounts, Contacts, and Opportunities.
type Salesforce struct {
	client salesforce.Client
}

// NewSalesforce wraps a Salesforce client.
func NewSalesforce(c salesforce.Client) *Salesforce {
	return &Salesforce{client: c}
}

// Name implements CRM.
func (s *Salesforce) Name() string { return "salesforce" }

// UpsertCompany implements CRM. Accounts are matched on Website.
func (s *Salesforce) UpsertCompany(ctx context.Context, c CompanyRecord) (string, error) {
	fields := map[string]any{
		"Name":          c.Name,
		"Website":       c.Website,
		"Description":   c.Summary(),
		"AccountSource": LeadSource,
	}
	id, err := salesforce.UpsertAccount(ctx, s.client, c.Domain, fields)
	if err != nil {
		return "", eris.Wrapf(err, "crm: salesforce account %s", c.Domain)
	}
	return id, nil
}

// UpsertContact implements CRM. Contacts are matched on Email.
func (s *Salesforce) UpsertContact(ctx context.Context, companyID string, c ContactRecord) (string, error) {
	if c.Email == "" {
		return "", eris.New("crm: salesforce contact requires an email")
	}
	fields := map[string]any{
		"FirstName":  c.FirstName,
		"LastName":   c.LastName,
		"Title":      c.Title,
		"LeadSource": LeadSource,
	}
	if c.Phone != "" {
		fields["Phone"] = c.Phone
	}
	id, err := salesforce.UpsertContact(ctx, s.client, companyID, c.Email, fields)
	if err != nil {
		return "", eris.Wrapf(err, "crm: salesforce contact %s", c.Email)
	}
	return id, nil
}

// CreateDeal implements CRM. The first contact is the primary decision maker.
// Contact roles are best effort; a failed role never discards the opportunity.
func (s *Salesforce) CreateDeal(ctx context.Context, companyID string, contactIDs []string, d DealRecord) (string, error) {
	id, err := salesforce.CreateOpportunity(ctx, s.client, companyID, map[string]any{
		"Name":        d.Name,
		"StageName":   "Prospecting",
		"CloseDate":   d.CloseDate.Format("2006-01-02"),
		"Description": d.Description,
		"LeadSource":  LeadSource,
	})
	if err != nil {
		return "", eris.Wrapf(err, "crm: salesforce opportunity %q", d.Name)
	}
	for i, contactID := range contactIDs {
		if _, err := s.client.InsertOne(ctx, "OpportunityContactRole", map[string]any{
			"OpportunityId": id,
			"ContactId":     contactID,
			"Role":          "Decision Maker",
			"IsPrimary":     i == 0,
		}); err != nil {
			zap.L().Warn("crm: salesforce contact role failed",
				zap.String("opportunity_id", id),
				zap.String("contact_id", contactID),
				zap.Error(err),
			)
		}
	}
	return id, nil
}
