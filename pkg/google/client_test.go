package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/internal/resilience"
)

func TestSearchText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.websiteUri")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.businessStatus")

		var body SearchTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dentists in Austin TX", body.TextQuery)
		assert.Equal(t, MaxPageSize, body.PageSize)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SearchTextResponse{
			Places: []Place{
				{
					ID:              "ChIJ-1",
					DisplayName:     DisplayName{Text: "Bright Smiles Dental"},
					WebsiteURI:      "https://brightsmiles.com/",
					BusinessStatus:  BusinessStatusOperational,
					Rating:          4.7,
					UserRatingCount: 212,
				},
			},
			NextPageToken: "page-2",
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "dentists in Austin TX", PageSize: 100})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "Bright Smiles Dental", resp.Places[0].DisplayName.Text)
	assert.Equal(t, "https://brightsmiles.com/", resp.Places[0].WebsiteURI)
	assert.True(t, resp.Places[0].Operational())
	assert.InDelta(t, 4.7, resp.Places[0].Rating, 0.001)
	assert.Equal(t, "page-2", resp.NextPageToken)
}

func TestSearchText_Pagination(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		var body SearchTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		if body.PageToken == "" {
			_ = json.NewEncoder(w).Encode(SearchTextResponse{
				Places:        []Place{{ID: "place-1", DisplayName: DisplayName{Text: "First"}}},
				NextPageToken: "page-2-token",
			})
			return
		}
		assert.Equal(t, "page-2-token", body.PageToken)
		_ = json.NewEncoder(w).Encode(SearchTextResponse{
			Places: []Place{{ID: "place-2", DisplayName: DisplayName{Text: "Second"}}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))

	resp, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "test"})
	require.NoError(t, err)
	assert.Equal(t, "page-2-token", resp.NextPageToken)

	resp, err = client.SearchText(context.Background(), SearchTextRequest{TextQuery: "test", PageToken: resp.NextPageToken})
	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "place-2", resp.Places[0].ID)
	assert.Empty(t, resp.NextPageToken)
	assert.Equal(t, 2, callCount)
}

func TestSearchText_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "test query"})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")
	assert.False(t, resilience.IsTransient(err))
}

func TestSearchText_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearchText_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(ctx, SearchTextRequest{TextQuery: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestPlaceOperational(t *testing.T) {
	assert.True(t, Place{}.Operational())
	assert.True(t, Place{BusinessStatus: "OPERATIONAL"}.Operational())
	assert.False(t, Place{BusinessStatus: "CLOSED_PERMANENTLY"}.Operational())
	assert.False(t, Place{BusinessStatus: "CLOSED_TEMPORARILY"}.Operational())
}
