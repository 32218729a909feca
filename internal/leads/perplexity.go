package leads

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/pkg/perplexity"
)

// SourcePerplexity tags leads found through web research.
const SourcePerplexity = "perplexity"

const researchSystemPrompt = `You are a B2B research assistant. Identify the most senior decision-makers ` +
	`(owner, CEO, president, managing partner, director, office or practice manager) at the given company. ` +
	`Only return people you found in sources about this specific company. Never invent emails; leave unknown fields empty.`

// PerplexityFinder researches decision-makers with Perplexity web search.
type PerplexityFinder struct {
	client      perplexity.Client
	maxContacts int
}

// NewPerplexityFinder creates a finder backed by a Perplexity client.
func NewPerplexityFinder(c perplexity.Client, maxContacts int) *PerplexityFinder {
	return &PerplexityFinder{client: c, maxContacts: maxContacts}
}

// Name returns the lead source tag.
func (f *PerplexityFinder) Name() string { return SourcePerplexity }

// FindDecisionMakers asks Perplexity for a structured contact list.
func (f *PerplexityFinder) FindDecisionMakers(ctx context.Context, companyName, websiteURL string) ([]model.Contact, error) {
	domain := model.NormalizeDomain(websiteURL)
	var filter []string
	if domain != "" {
		filter = []string{domain, "linkedin.com"}
	}
	temp := 0.1
	resp, err := f.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: researchSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(
				"Company: %s\nWebsite: %s\nReturn up to %d decision-makers with name, title, email, phone, and LinkedIn URL when known.",
				companyName, websiteURL, f.maxContacts,
			)},
		},
		Temperature:        &temp,
		SearchDomainFilter: filter,
		ResponseFormat:     perplexity.JSONSchemaFormat(contactSchema),
	})
	if err != nil {
		return nil, eris.Wrap(err, "leads: perplexity research")
	}
	contacts, err := parseContacts(resp.Content())
	if err != nil {
		return nil, err
	}
	return Normalize(contacts, f.maxContacts), nil
}
