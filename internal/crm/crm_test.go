package crm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestEstimateSeverity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Severity{Critical: 15, Serious: 35, Moderate: 35, Minor: 15}, EstimateSeverity(100))
	assert.Equal(t, Severity{Critical: 1, Serious: 4, Moderate: 4, Minor: 1}, EstimateSeverity(13))
	assert.Equal(t, Severity{}, EstimateSeverity(0))
	assert.Equal(t, Severity{}, EstimateSeverity(-3))
}

func TestNewCompanyRecord(t *testing.T) {
	t.Parallel()

	c := &model.DiscoveredCompany{
		CompanyName:    "Acme Dental",
		Domain:         "acme.com",
		WebsiteURL:     "https://acme.com",
		RiskScore:      intPtr(82),
		TotalIssues:    intPtr(20),
		CriticalIssues: 2,
		SeriousIssues:  9,
	}
	rec := NewCompanyRecord(c)
	assert.Equal(t, 82, rec.RiskScore)
	assert.Equal(t, Severity{Critical: 2, Serious: 9}, rec.Severity)
	assert.Contains(t, rec.Summary(), "82/100 with 20 issues")

	c.CriticalIssues, c.SeriousIssues = 0, 0
	assert.Equal(t, EstimateSeverity(20), NewCompanyRecord(c).Severity)

	assert.Zero(t, NewCompanyRecord(&model.DiscoveredCompany{Domain: "x.io"}).RiskScore)
}

func TestNewContactRecord(t *testing.T) {
	t.Parallel()

	rec := NewContactRecord(model.Lead{
		Name:  "Jane van der Berg",
		Title: "Owner",
		Email: strPtr("jane@acme.com"),
		Phone: strPtr("+1 512 555 0100"),
	})
	assert.Equal(t, "Jane", rec.FirstName)
	assert.Equal(t, "van der Berg", rec.LastName)
	assert.Equal(t, "jane@acme.com", rec.Email)
	assert.Equal(t, "+1 512 555 0100", rec.Phone)

	single := NewContactRecord(model.Lead{Name: "Prince"})
	assert.Equal(t, "Prince", single.FirstName)
	assert.Equal(t, "Prince", single.LastName)
	assert.Empty(t, single.Email)
}

func TestNewDealRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDealRecord(CompanyRecord{Name: "Acme Dental"}, now)
	assert.Equal(t, "Acme Dental - Accessibility Remediation", d.Name)
	assert.Equal(t, now.Add(90*24*time.Hour), d.CloseDate)
}

func TestNew(t *testing.T) {
	t.Parallel()

	c, err := New(&config.Config{CRM: config.CRMConfig{Provider: "none"}})
	assert.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(&config.Config{CRM: config.CRMConfig{Provider: "hubspot"}, HubSpot: config.HubSpotConfig{Token: "tok"}})
	assert.NoError(t, err)
	assert.Equal(t, "hubspot", c.Name())

	_, err = New(&config.Config{CRM: config.CRMConfig{Provider: "salesforce"}})
	assert.Error(t, err)

	_, err = New(&config.Config{CRM: config.CRMConfig{Provider: "pipedrive"}})
	assert.ErrorContains(t, err, "unknown provider")
}
