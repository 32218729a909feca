// Package serper is a client for the Serper Google Places search API.
package serper

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

const defaultBaseURL = "https://google.serper.dev"

// Client searches local businesses through Serper.
type Client interface {
	Places(ctx context.Context, req PlacesRequest) (*PlacesResponse, error)
}

// PlacesRequest is the body for POST /places.
type PlacesRequest struct {
	Query    string `json:"q"`
	Location string `json:"location,omitempty"`
	Num      int    `json:"num,omitempty"`
	Page     int    `json:"page,omitempty"`
}

// PlacesResponse is one page of local results.
type PlacesResponse struct {
	Places []Place `json:"places"`
}

// Place is a single local business listing.
type Place struct {
	Position    int     `json:"position"`
	Title       string  `json:"title"`
	Address     string  `json:"address,omitempty"`
	Website     string  `json:"website,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	RatingCount int     `json:"ratingCount,omitempty"`
	Category    string  `json:"category,omitempty"`
	CID         string  `json:"cid,omitempty"`
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

// NewClient creates a Serper API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Places(ctx context.Context, preq PlacesRequest) (*PlacesResponse, error) {
	body, err := json.Marshal(preq)
	if err != nil {
		return nil, eris.Wrap(err, "serper: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serper: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serper: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serper: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("serper", resp.StatusCode, respBody)
	}

	var result PlacesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "serper: unmarshal response")
	}
	return &result, nil
}
