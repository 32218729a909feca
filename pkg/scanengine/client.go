// Package scanengine is a client for the WCAG rule-evaluation service.
package scanengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/resilience"
)

// DefaultTags are the axe rule tags evaluated on every scan.
var DefaultTags = []string{"wcag2a", "wcag2aa", "wcag2aaa"}

// Client scans a URL and returns the classified result.
type Client interface {
	Scan(ctx context.Context, url string) (*model.ScanResult, error)
}

// ScanRequest is the body for POST /scans.
type ScanRequest struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

// ScanResponse is the raw engine output.
type ScanResponse struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Violations []Violation `json:"violations"`
}

// Violation is one failed rule with the number of offending nodes.
type Violation struct {
	ID          string `json:"id"`
	Impact      string `json:"impact"`
	Description string `json:"description"`
	Help        string `json:"help"`
	HelpURL     string `json:"helpUrl"`
	Nodes       int    `json:"nodes"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a scan engine client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Scan(ctx context.Context, url string) (*model.ScanResult, error) {
	body, err := json.Marshal(ScanRequest{URL: url, Tags: DefaultTags})
	if err != nil {
		return nil, eris.Wrap(err, "scanengine: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scans", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "scanengine: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scanengine: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "scanengine: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("scanengine", resp.StatusCode, respBody)
	}

	var raw ScanResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, eris.Wrap(err, "scanengine: unmarshal response")
	}
	res := Summarize(raw)
	return &res, nil
}

// Summarize counts offending nodes per impact and derives the risk score.
// Violations without an impact count as moderate.
func Summarize(raw ScanResponse) model.ScanResult {
	res := model.ScanResult{ScanID: raw.ID}
	for _, v := range raw.Violations {
		n := max(v.Nodes, 1)
		impact := v.Impact
		switch impact {
		case "critical":
			res.Critical += n
		case "serious":
			res.Serious += n
		case "minor":
			res.Minor += n
		default:
			impact = "moderate"
			res.Moderate += n
		}
		res.TotalIssues += n
		res.Violations = append(res.Violations, model.Violation{
			ID:          v.ID,
			Impact:      impact,
			Description: v.Description,
			Help:        v.Help,
			HelpURL:     v.HelpURL,
			Nodes:       n,
		})
	}
	res.RiskScore = RiskScore(res.Critical, res.Serious, res.Moderate, res.Minor)
	return res
}

// RiskScore is the severity-weighted mean of all issues scaled to 0..100.
// Weights: critical 10, serious 7, moderate 4, minor 1.
func RiskScore(critical, serious, moderate, minor int) int {
	total := critical + serious + moderate + minor
	if total == 0 {
		return 0
	}
	weighted := float64(critical*10 + serious*7 + moderate*4 + minor)
	return int(math.Round(weighted / float64(total) * 10))
}
