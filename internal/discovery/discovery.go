// Package discovery finds candidate company websites for a shuffle session.
package discovery

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
)

// Bounds on the number of sites a single shuffle may request.
const (
	MinSites = 5
	MaxSites = 50
)

// Request describes one discovery run.
type Request struct {
	ProjectID       int64
	Category        string
	Demographics    string
	SitesToDiscover int
}

// Validate checks the caller-supplied fields.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return apperr.E(apperr.Validation, "category is required")
	}
	if r.SitesToDiscover < MinSites || r.SitesToDiscover > MaxSites {
		return apperr.E(apperr.Validation, "sites to discover must be between %d and %d, got %d",
			MinSites, MaxSites, r.SitesToDiscover)
	}
	return nil
}

// Candidate is a deduplicated site ready to become a DiscoveredCompany.
type Candidate struct {
	CompanyName string
	WebsiteURL  string
	Domain      string
	Rating      float64
}

// Company converts the candidate into a pending company row for a session.
func (c Candidate) Company(sessionID string, projectID int64) model.DiscoveredCompany {
	return model.DiscoveredCompany{
		SessionID:     sessionID,
		ProjectID:     projectID,
		CompanyName:   c.CompanyName,
		WebsiteURL:    c.WebsiteURL,
		Domain:        c.Domain,
		ScanStatus:    model.ScanStatusPending,
		ContactStatus: model.ContactStatusNotContacted,
	}
}

// KnownDomains reports domains already stored for a project.
type KnownDomains interface {
	KnownDomains(ctx context.Context, projectID int64) (map[string]bool, error)
}

// Discoverer turns a category search into a deduplicated candidate list.
type Discoverer struct {
	provider Provider
	known    KnownDomains
	limiter  *rate.Limiter
	cfg      config.SearchConfig
}

// New creates a Discoverer. A zero rate limit disables throttling.
func New(p Provider, known KnownDomains, cfg config.SearchConfig) *Discoverer {
	d := &Discoverer{provider: p, known: known, cfg: cfg}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(int(cfg.RateLimit), 1))
	}
	return d
}

// Provider returns the underlying search provider name.
func (d *Discoverer) Provider() string {
	return d.provider.Name()
}

// Discover searches, filters, and deduplicates candidates. The result may be
// shorter than requested; an empty result is not an error. Provider failure
// is reported as an external error.
func (d *Discoverer) Discover(ctx context.Context, req Request) ([]Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(
		zap.String("provider", d.provider.Name()),
		zap.String("category", req.Category),
		zap.Int64("project_id", req.ProjectID),
	)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(err, apperr.External, "discovery: rate limit wait")
		}
	}

	overFetch := d.cfg.OverFetch
	if overFetch < 1 {
		overFetch = 1
	}
	places, err := d.provider.Search(ctx, Query{
		Keyword:    req.Category,
		Location:   req.Demographics,
		MaxResults: req.SitesToDiscover * overFetch,
		MinRating:  d.cfg.MinRating,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.External, "discovery: search provider unavailable")
	}

	seen, err := d.known.KnownDomains(ctx, req.ProjectID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "discovery: load known domains")
	}
	if seen == nil {
		seen = make(map[string]bool)
	}

	var (
		out     []Candidate
		skipped = map[string]int{}
	)
	for _, p := range places {
		if len(out) == req.SitesToDiscover {
			break
		}
		switch {
		case !p.Operational:
			skipped["closed"]++
			continue
		case strings.TrimSpace(p.URL) == "":
			skipped["no_website"]++
			continue
		case IsBlocked(p.URL, d.cfg.Blocklist):
			skipped["blocklisted"]++
			continue
		}
		domain := model.NormalizeDomain(p.URL)
		if domain == "" {
			skipped["bad_url"]++
			continue
		}
		if seen[domain] {
			skipped["duplicate"]++
			continue
		}
		seen[domain] = true

		name := p.Name
		if name == "" {
			name = NameFromDomain(domain)
		}
		out = append(out, Candidate{
			CompanyName: name,
			WebsiteURL:  model.CanonicalURL(p.URL),
			Domain:      domain,
			Rating:      p.Rating,
		})
	}

	log.Info("discovery complete",
		zap.Int("requested", req.SitesToDiscover),
		zap.Int("returned", len(places)),
		zap.Int("found", len(out)),
		zap.Any("skipped", skipped),
	)
	return out, nil
}

// IsBlocked reports whether the URL's host matches a blocklisted domain or
// one of its subdomains.
func IsBlocked(website string, blocklist []string) bool {
	host := model.NormalizeDomain(website)
	if host == "" {
		return false
	}
	for _, blocked := range blocklist {
		blocked = strings.ToLower(strings.TrimSpace(blocked))
		if blocked == "" {
			continue
		}
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// NameFromDomain derives a display name from a domain:
// "smith-dental.co.uk" becomes "Smith Dental".
func NameFromDomain(domain string) string {
	label := strings.TrimPrefix(strings.ToLower(domain), "www.")
	if i := strings.IndexByte(label, '.'); i > 0 {
		label = label[:i]
	}
	words := strings.FieldsFunc(label, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return domain
	}
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(words, " "))
}
