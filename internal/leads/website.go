package leads

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/resilience"
	"github.com/lucy-a11y/shuffle/pkg/anthropic"
)

// SourceWebsite tags leads extracted from the company's own pages.
const SourceWebsite = "website"

// maxPageText bounds the page text sent for extraction.
const maxPageText = 15000

// leadershipPaths are the pages most likely to name the people in charge.
var leadershipPaths = []string{"", "/about", "/about-us", "/team", "/leadership", "/contact"}

const extractSystemPrompt = `You extract decision-makers from company website text. ` +
	`Return JSON only, shaped as {"contacts":[{"name":"","title":"","email":"","phone":"","linkedin_url":""}]}. ` +
	`Prefer owners, executives, directors, and managers. Use only people named in the text and leave unknown fields empty.`

// WebsiteFinder reads a company's about/team/contact pages and extracts
// decision-makers with an LLM.
type WebsiteFinder struct {
	http        *http.Client
	llm         anthropic.Client
	model       string
	maxContacts int
}

// NewWebsiteFinder creates a finder that scrapes pages with hc and extracts with llm.
func NewWebsiteFinder(hc *http.Client, llm anthropic.Client, model string, maxContacts int) *WebsiteFinder {
	return &WebsiteFinder{http: hc, llm: llm, model: model, maxContacts: maxContacts}
}

// Name returns the lead source tag.
func (f *WebsiteFinder) Name() string { return SourceWebsite }

// FindDecisionMakers fetches leadership pages and extracts contacts from them.
// A site with no reachable pages yields an error; a site with pages but no
// people yields no contacts.
func (f *WebsiteFinder) FindDecisionMakers(ctx context.Context, companyName, websiteURL string) ([]model.Contact, error) {
	base := strings.TrimRight(websiteURL, "/")
	log := zap.L().With(zap.String("company", companyName), zap.String("website", base))

	var (
		pages   []pageContent
		lastErr error
	)
	for _, path := range leadershipPaths {
		pc, err := f.fetchPage(ctx, base+path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "leads: fetch pages")
			}
			log.Debug("leads: page skipped", zap.String("path", path), zap.Error(err))
			lastErr = err
			continue
		}
		pages = append(pages, pc)
	}
	if len(pages) == 0 {
		return nil, eris.Wrap(lastErr, "leads: no pages reachable")
	}

	text := buildExtractionText(pages)
	resp, err := f.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     f.model,
		MaxTokens: 1024,
		System:    anthropic.CachedSystem(extractSystemPrompt),
		Messages: []anthropic.Message{{
			Role: "user",
			Content: fmt.Sprintf("Company: %s\nWebsite: %s\nReturn at most %d people.\n\n%s",
				companyName, base, f.maxContacts, text),
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "leads: extract contacts")
	}
	resp.Usage.LogCost(f.model, "lead_extraction")

	contacts, err := parseContacts(resp.Text())
	if err != nil {
		return nil, err
	}
	return Normalize(contacts, f.maxContacts), nil
}

type pageContent struct {
	URL       string
	Text      string
	Emails    []string
	Phones    []string
	LinkedIns []string
}

func (f *WebsiteFinder) fetchPage(ctx context.Context, pageURL string) (pageContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return pageContent{}, eris.Wrap(err, "leads: build request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; shuffle-leads/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := f.http.Do(req)
	if err != nil {
		return pageContent{}, eris.Wrap(err, "leads: fetch page")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return pageContent{}, resilience.StatusError("website", resp.StatusCode, nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return pageContent{}, eris.Wrap(err, "leads: parse page")
	}
	return parseDocument(pageURL, doc), nil
}

// parseDocument pulls visible text and contact links out of a page.
func parseDocument(pageURL string, doc *goquery.Document) pageContent {
	pc := pageContent{URL: pageURL}
	seen := map[string]bool{}
	add := func(list *[]string, v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		*list = append(*list, v)
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			addr := href[len("mailto:"):]
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			add(&pc.Emails, addr)
		case strings.HasPrefix(lower, "tel:"):
			add(&pc.Phones, href[len("tel:"):])
		case strings.Contains(lower, "linkedin.com/in/"):
			add(&pc.LinkedIns, href)
		}
	})

	doc.Find("script, style, noscript, svg, iframe").Remove()
	pc.Text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return pc
}

// buildExtractionText concatenates page text and harvested links, truncated
// to maxPageText bytes.
func buildExtractionText(pages []pageContent) string {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "## %s\n%s\n", p.URL, p.Text)
		if len(p.Emails) > 0 {
			fmt.Fprintf(&b, "Emails: %s\n", strings.Join(p.Emails, ", "))
		}
		if len(p.Phones) > 0 {
			fmt.Fprintf(&b, "Phones: %s\n", strings.Join(p.Phones, ", "))
		}
		if len(p.LinkedIns) > 0 {
			fmt.Fprintf(&b, "LinkedIn: %s\n", strings.Join(p.LinkedIns, ", "))
		}
		b.WriteString("\n")
	}
	s := b.String()
	if len(s) > maxPageText {
		s = strings.ToValidUTF8(s[:maxPageText], "")
	}
	return s
}
