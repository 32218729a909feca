package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account represents the Salesforce Account fields CRM sync reads.
type Account struct {
	ID      string `json:"Id" salesforce:"Id"`
	Name    string `json:"Name" salesforce:"Name"`
	Website string `json:"Website" salesforce:"Website"`
}

// Contact represents the Salesforce Contact fields CRM sync reads.
type Contact struct {
	ID        string `json:"Id" salesforce:"Id"`
	Email     string `json:"Email" salesforce:"Email"`
	AccountID string `json:"AccountId" salesforce:"AccountId"`
}

// FindAccountByDomain returns the first Account whose Website contains domain,
// or nil when none matches.
func FindAccountByDomain(ctx context.Context, c Client, domain string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, Website FROM Account WHERE Website LIKE '%%%s%%' LIMIT 1",
		escapeSoql(domain),
	)
	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by domain %s", domain))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// FindContactByEmail returns the Contact with the given email, or nil.
func FindContactByEmail(ctx context.Context, c Client, email string) (*Contact, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Email, AccountId FROM Contact WHERE Email = '%s' LIMIT 1",
		escapeSoql(email),
	)
	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact by email %s", email))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// UpsertAccount updates the Account matching domain, or creates one.
// fields must carry Name when the account is new.
func UpsertAccount(ctx context.Context, c Client, domain string, fields map[string]any) (string, error) {
	existing, err := FindAccountByDomain(ctx, c, domain)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := c.UpdateOne(ctx, "Account", existing.ID, fields); err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("sf: update account %s", existing.ID))
		}
		return existing.ID, nil
	}

	if name, _ := fields["Name"].(string); name == "" {
		return "", eris.New("sf: account Name is required")
	}
	id, err := c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

// UpsertContact updates the Contact matching email, or creates one linked to
// accountID.
func UpsertContact(ctx context.Context, c Client, accountID, email string, fields map[string]any) (string, error) {
	if accountID == "" {
		return "", eris.New("sf: account id is required for contact")
	}
	existing, err := FindContactByEmail(ctx, c, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := c.UpdateOne(ctx, "Contact", existing.ID, fields); err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("sf: update contact %s", existing.ID))
		}
		return existing.ID, nil
	}

	record := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		record[k] = v
	}
	record["AccountId"] = accountID
	record["Email"] = email
	id, err := c.InsertOne(ctx, "Contact", record)
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create contact for account %s", accountID))
	}
	return id, nil
}

// CreateOpportunity creates an Opportunity on accountID.
func CreateOpportunity(ctx context.Context, c Client, accountID string, fields map[string]any) (string, error) {
	if accountID == "" {
		return "", eris.New("sf: account id is required for opportunity")
	}
	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["AccountId"] = accountID
	id, err := c.InsertOne(ctx, "Opportunity", record)
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create opportunity for account %s", accountID))
	}
	return id, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
