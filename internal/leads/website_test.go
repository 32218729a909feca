package leads

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/pkg/anthropic"
	"github.com/lucy-a11y/shuffle/pkg/anthropic/mocks"
)

const teamPage = `<html><head><style>.x{}</style><script>var a=1;</script></head><body>
<h1>Our Team</h1>
<div class="member"><h2>Dr. Maria Lopez</h2><p>Owner &amp; Lead Dentist</p>
<a href="mailto:maria@acme.com?subject=hi">Email</a>
<a href="https://www.linkedin.com/in/marialopez">LinkedIn</a></div>
<a href="tel:+15125550100">Call</a>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/team", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(teamPage))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Family practice since 1998.</p></body></html>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><body><p>Welcome to Acme Dental</p></body></html>`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestWebsiteFinder(t *testing.T) {
	ts := newSite(t)
	llm := mocks.NewMockClient(t)
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		body := req.Messages[0].Content
		return req.Model == "claude-haiku-4-5-20251001" &&
			strings.Contains(body, "Dr. Maria Lopez") &&
			strings.Contains(body, "Emails: maria@acme.com") &&
			strings.Contains(body, "Phones: +15125550100") &&
			strings.Contains(body, "Family practice since 1998.") &&
			!strings.Contains(body, "var a=1")
	})).Return(&anthropic.MessageResponse{Content: []anthropic.ContentBlock{{
		Type: "text",
		Text: `{"contacts":[{"name":"Maria Lopez","title":"Owner","email":"maria@acme.com","linkedin_url":"https://www.linkedin.com/in/marialopez"}]}`,
	}}}, nil).Once()

	f := NewWebsiteFinder(ts.Client(), llm, "claude-haiku-4-5-20251001", 5)
	got, err := f.FindDecisionMakers(context.Background(), "Acme Dental", ts.URL+"/")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Maria Lopez", got[0].Name)
	assert.Equal(t, "maria@acme.com", got[0].Email)
}

func TestWebsiteFinder_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	llm := mocks.NewMockClient(t)
	f := NewWebsiteFinder(ts.Client(), llm, "m", 5)
	_, err := f.FindDecisionMakers(context.Background(), "Down Co", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pages reachable")
	llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestParseDocument(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(teamPage))
	require.NoError(t, err)

	pc := parseDocument("https://acme.com/team", doc)
	assert.Equal(t, []string{"maria@acme.com"}, pc.Emails)
	assert.Equal(t, []string{"+15125550100"}, pc.Phones)
	assert.Equal(t, []string{"https://www.linkedin.com/in/marialopez"}, pc.LinkedIns)
	assert.Contains(t, pc.Text, "Owner & Lead Dentist")
	assert.NotContains(t, pc.Text, ".x{}")
}

func TestBuildExtractionText_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 5000)
	text := buildExtractionText([]pageContent{{URL: "https://a.com", Text: long}})
	assert.Len(t, text, maxPageText)
	assert.True(t, strings.HasPrefix(text, "## https://a.com\n"))
}
