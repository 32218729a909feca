// Package hubspot provides a minimal HubSpot CRM v3 client for companies,
// contacts, and deals.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/lucy-a11y/shuffle/internal/resilience"
)

const defaultBaseURL = "https://api.hubapi.com"

// HubSpot-defined association type ids.
const (
	AssocContactToCompany = 279
	AssocDealToContact    = 3
	AssocDealToCompany    = 5
)

// Properties are HubSpot object property values keyed by internal name.
type Properties map[string]string

// Client performs HubSpot CRM operations. Upserts look up an existing object
// by its natural key and patch it, or create one when none exists.
type Client interface {
	UpsertCompany(ctx context.Context, domain string, props Properties) (string, error)
	UpsertContact(ctx context.Context, email string, props Properties, companyID string) (string, error)
	CreateDeal(ctx context.Context, props Properties, contactIDs []string, companyID string) (string, error)
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit"`
}

// Object is a CRM record returned by the API.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type searchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
}

type associationType struct {
	Category string `json:"associationCategory"`
	TypeID   int    `json:"associationTypeId"`
}

type objectRef struct {
	ID string `json:"id"`
}

type association struct {
	To    objectRef         `json:"to"`
	Types []associationType `json:"types"`
}

type createRequest struct {
	Properties   Properties    `json:"properties"`
	Associations []association `json:"associations,omitempty"`
}

func associate(id string, typeID int) association {
	return association{
		To:    objectRef{ID: id},
		Types: []associationType{{Category: "HUBSPOT_DEFINED", TypeID: typeID}},
	}
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

// WithRateLimit caps requests per second. HubSpot private apps allow
// roughly ten per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a HubSpot client authenticated with a private-app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) UpsertCompany(ctx context.Context, domain string, props Properties) (string, error) {
	if domain == "" {
		return "", eris.New("hubspot: company domain is required")
	}
	props = withProperty(props, "domain", domain)
	return c.upsert(ctx, "companies", "domain", domain, props, nil)
}

func (c *httpClient) UpsertContact(ctx context.Context, email string, props Properties, companyID string) (string, error) {
	if email == "" {
		return "", eris.New("hubspot: contact email is required")
	}
	props = withProperty(props, "email", email)
	var assocs []association
	if companyID != "" {
		assocs = append(assocs, associate(companyID, AssocContactToCompany))
	}
	return c.upsert(ctx, "contacts", "email", email, props, assocs)
}

func (c *httpClient) CreateDeal(ctx context.Context, props Properties, contactIDs []string, companyID string) (string, error) {
	req := createRequest{Properties: props}
	for _, id := range contactIDs {
		req.Associations = append(req.Associations, associate(id, AssocDealToContact))
	}
	if companyID != "" {
		req.Associations = append(req.Associations, associate(companyID, AssocDealToCompany))
	}

	var out Object
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/deals", req, &out); err != nil {
		return "", eris.Wrap(err, "hubspot: create deal")
	}
	return out.ID, nil
}

// withProperty copies props and sets key so callers' maps are left untouched.
func withProperty(props Properties, key, value string) Properties {
	out := make(Properties, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out[key] = value
	return out
}

// upsert searches objectType for key=value. A match is patched in place;
// otherwise a new object is created with the given associations.
func (c *httpClient) upsert(ctx context.Context, objectType, key, value string, props Properties, assocs []association) (string, error) {
	existing, err := c.search(ctx, objectType, key, value)
	if err != nil {
		return "", err
	}

	if existing != nil {
		path := fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, existing.ID)
		if err := c.do(ctx, http.MethodPatch, path, createRequest{Properties: props}, nil); err != nil {
			return "", eris.Wrapf(err, "hubspot: update %s %s", objectType, existing.ID)
		}
		return existing.ID, nil
	}

	var out Object
	req := createRequest{Properties: props, Associations: assocs}
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType, req, &out); err != nil {
		return "", eris.Wrapf(err, "hubspot: create %s", objectType)
	}
	return out.ID, nil
}

func (c *httpClient) search(ctx context.Context, objectType, key, value string) (*Object, error) {
	req := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{PropertyName: key, Operator: "EQ", Value: value}}}},
		Properties:   []string{key},
		Limit:        1,
	}
	var out searchResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType+"/search", req, &out); err != nil {
		return nil, eris.Wrapf(err, "hubspot: search %s by %s", objectType, key)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return &out.Results[0], nil
}

func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "hubspot: rate limit")
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "hubspot: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "hubspot: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hubspot: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.StatusError("hubspot", resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "hubspot: unmarshal response")
	}
	return nil
}
