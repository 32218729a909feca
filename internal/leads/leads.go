// Package leads looks up decision-makers for non-compliant companies.
package leads

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/pkg/anthropic"
	"github.com/lucy-a11y/shuffle/pkg/perplexity"
)

// DefaultMaxContacts caps the contacts kept per company.
const DefaultMaxContacts = 5

// Finder returns decision-makers for a company. Zero results is valid.
type Finder interface {
	Name() string
	FindDecisionMakers(ctx context.Context, companyName, websiteURL string) ([]model.Contact, error)
}

// NewFinder returns the finder selected by cfg.Leads.Provider.
func NewFinder(cfg *config.Config, llm anthropic.Client) (Finder, error) {
	maxContacts := cfg.Leads.MaxContacts
	if maxContacts <= 0 || maxContacts > DefaultMaxContacts {
		maxContacts = DefaultMaxContacts
	}
	switch cfg.Leads.Provider {
	case "perplexity":
		opts := []perplexity.Option{}
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		if cfg.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
		}
		return NewPerplexityFinder(perplexity.NewClient(cfg.Perplexity.Key, opts...), maxContacts), nil
	case "website":
		return NewWebsiteFinder(&http.Client{Timeout: 15 * time.Second}, llm, cfg.Anthropic.ExtractModel, maxContacts), nil
	default:
		return nil, eris.Errorf("leads: unknown provider %q", cfg.Leads.Provider)
	}
}

// contactSchema is the JSON shape both finders ask their model for.
var contactSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"contacts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":         map[string]any{"type": "string"},
					"title":        map[string]any{"type": "string"},
					"email":        map[string]any{"type": "string"},
					"phone":        map[string]any{"type": "string"},
					"linkedin_url": map[string]any{"type": "string"},
				},
				"required": []string{"name", "title"},
			},
		},
	},
	"required": []string{"contacts"},
}

type contactList struct {
	Contacts []model.Contact `json:"contacts"`
}

// parseContacts decodes a {"contacts": [...]} document from model output,
// tolerating markdown fences and surrounding prose.
func parseContacts(text string) ([]model.Contact, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return nil, eris.New("leads: no JSON object in model output")
	}
	var out contactList
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(err, "leads: decode contacts")
	}
	return out.Contacts, nil
}

// Normalize trims fields, drops contacts with no name, removes duplicates by
// dedupe key, discards values that are not plausibly emails or LinkedIn URLs,
// and keeps at most limit contacts.
func Normalize(contacts []model.Contact, limit int) []model.Contact {
	seen := make(map[string]bool, len(contacts))
	out := make([]model.Contact, 0, min(len(contacts), limit))
	for _, c := range contacts {
		if len(out) == limit {
			break
		}
		c.Name = strings.Join(strings.Fields(c.Name), " ")
		c.Title = strings.TrimSpace(c.Title)
		c.Email = strings.TrimSpace(c.Email)
		c.Phone = strings.TrimSpace(c.Phone)
		c.LinkedInURL = strings.TrimSpace(c.LinkedInURL)
		if c.Name == "" || isPlaceholder(c.Name) {
			continue
		}
		if !looksLikeEmail(c.Email) {
			c.Email = ""
		}
		if c.LinkedInURL != "" && !strings.Contains(strings.ToLower(c.LinkedInURL), "linkedin.com/") {
			c.LinkedInURL = ""
		}
		key := c.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && strings.Contains(s[at:], ".") && !strings.ContainsAny(s, " <>")
}

func isPlaceholder(name string) bool {
	switch strings.ToLower(name) {
	case "unknown", "n/a", "none", "not found", "null":
		return true
	}
	return false
}
