package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/pkg/google"
	"github.com/lucy-a11y/shuffle/pkg/serper"
)

// Query is a single search request to a provider.
type Query struct {
	Keyword    string
	Location   string
	MaxResults int
	MinRating  float64
}

// Text joins keyword and location into a free-text query.
func (q Query) Text() string {
	return strings.TrimSpace(strings.TrimSpace(q.Keyword) + " " + strings.TrimSpace(q.Location))
}

// Place is a provider-neutral search hit.
type Place struct {
	Name        string
	URL         string
	Rating      float64
	Operational bool
}

// Provider searches for local businesses.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Place, error)
}

// NewProvider returns the provider selected by cfg.Search.Provider.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Search.Provider {
	case "google":
		var opts []google.Option
		if cfg.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(cfg.Google.BaseURL))
		}
		return NewGoogleProvider(google.NewClient(cfg.Google.Key, opts...)), nil
	case "serper":
		var opts []serper.Option
		if cfg.Serper.BaseURL != "" {
			opts = append(opts, serper.WithBaseURL(cfg.Serper.BaseURL))
		}
		return NewSerperProvider(serper.NewClient(cfg.Serper.Key, opts...)), nil
	default:
		return nil, eris.Errorf("discovery: unknown search provider %q", cfg.Search.Provider)
	}
}

// maxPages bounds pagination per search; Places text search stops at 60 results.
const maxPages = 3

// GoogleProvider searches with the Places Text Search API.
type GoogleProvider struct {
	client google.Client
}

// NewGoogleProvider wraps a Places client.
func NewGoogleProvider(c google.Client) *GoogleProvider {
	return &GoogleProvider{client: c}
}

// Name returns "google".
func (p *GoogleProvider) Name() string { return "google" }

// Search pages through text search results until MaxResults are collected.
func (p *GoogleProvider) Search(ctx context.Context, q Query) ([]Place, error) {
	var (
		out       []Place
		pageToken string
	)
	for page := 0; page < maxPages && len(out) < q.MaxResults; page++ {
		resp, err := p.client.SearchText(ctx, google.SearchTextRequest{
			TextQuery: q.Text(),
			PageSize:  min(q.MaxResults-len(out), google.MaxPageSize),
			PageToken: pageToken,
			MinRating: q.MinRating,
		})
		if err != nil {
			if len(out) > 0 {
				// Partial shortfall is not an error.
				return out, nil
			}
			return nil, eris.Wrap(err, "discovery: google search")
		}
		for _, pl := range resp.Places {
			out = append(out, Place{
				Name:        strings.TrimSpace(pl.DisplayName.Text),
				URL:         pl.WebsiteURI,
				Rating:      pl.Rating,
				Operational: pl.Operational(),
			})
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

// serperPageSize is the number of places Serper returns per page.
const serperPageSize = 20

// SerperProvider searches with the Serper places endpoint.
type SerperProvider struct {
	client serper.Client
}

// NewSerperProvider wraps a Serper client.
func NewSerperProvider(c serper.Client) *SerperProvider {
	return &SerperProvider{client: c}
}

// Name returns "serper".
func (p *SerperProvider) Name() string { return "serper" }

// Search pages through Serper places until MaxResults are collected or a page
// comes back empty. Serper does not report closures, so every hit is operational.
func (p *SerperProvider) Search(ctx context.Context, q Query) ([]Place, error) {
	var out []Place
	for page := 1; page <= maxPages && len(out) < q.MaxResults; page++ {
		resp, err := p.client.Places(ctx, serper.PlacesRequest{
			Query: q.Text(),
			Num:   serperPageSize,
			Page:  page,
		})
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, eris.Wrap(err, "discovery: serper search")
		}
		if len(resp.Places) == 0 {
			break
		}
		for _, pl := range resp.Places {
			if q.MinRating > 0 && pl.Rating > 0 && pl.Rating < q.MinRating {
				continue
			}
			out = append(out, Place{
				Name:        strings.TrimSpace(pl.Title),
				URL:         pl.Website,
				Rating:      pl.Rating,
				Operational: true,
			})
		}
	}
	return out, nil
}
