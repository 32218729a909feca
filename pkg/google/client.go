package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"

	// MaxPageSize is the largest page the Places Text Search API returns.
	MaxPageSize = 20

	fieldMask = "places.id,places.displayName,places.websiteUri,places.formattedAddress," +
		"places.businessStatus,places.rating,places.userRatingCount,nextPageToken"
)

// BusinessStatusOperational marks a place that is open for business.
const BusinessStatusOperational = "OPERATIONAL"

// Client performs Google Places API operations.
type Client interface {
	SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error)
}

// SearchTextRequest is the body for POST /places:searchText.
type SearchTextRequest struct {
	TextQuery string  `json:"textQuery"`
	PageSize  int     `json:"pageSize,omitempty"`
	PageToken string  `json:"pageToken,omitempty"`
	MinRating float64 `json:"minRating,omitempty"`
}

// SearchTextResponse is one page of Places Text Search results.
type SearchTextResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place represents a place returned by the API.
type Place struct {
	ID               string      `json:"id"`
	DisplayName      DisplayName `json:"displayName"`
	WebsiteURI       string      `json:"websiteUri,omitempty"`
	FormattedAddress string      `json:"formattedAddress,omitempty"`
	BusinessStatus   string      `json:"businessStatus,omitempty"`
	Rating           float64     `json:"rating,omitempty"`
	UserRatingCount  int         `json:"userRatingCount,omitempty"`
}

// Operational reports whether the place is open. Places without a reported
// status are assumed open.
func (p Place) Operational() bool {
	return p.BusinessStatus == "" || p.BusinessStatus == BusinessStatusOperational
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

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

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchText(ctx context.Context, sreq SearchTextRequest) (*SearchTextResponse, error) {
	if sreq.PageSize <= 0 || sreq.PageSize > MaxPageSize {
		sreq.PageSize = MaxPageSize
	}
	body, err := json.Marshal(sreq)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("google", resp.StatusCode, respBody)
	}

	var result SearchTextResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return &result, nil
}
