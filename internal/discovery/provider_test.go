package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/pkg/google"
	googlemocks "github.com/lucy-a11y/shuffle/pkg/google/mocks"
	"github.com/lucy-a11y/shuffle/pkg/serper"
	serpermocks "github.com/lucy-a11y/shuffle/pkg/serper/mocks"
)

func googlePlace(name, site, status string) google.Place {
	return google.Place{DisplayName: google.DisplayName{Text: name}, WebsiteURI: site, BusinessStatus: status, Rating: 4.5}
}

func TestGoogleProvider_Paginates(t *testing.T) {
	gc := googlemocks.NewMockClient(t)
	gc.On("SearchText", mock.Anything, google.SearchTextRequest{
		TextQuery: "dentists in Austin", PageSize: 20, MinRating: 3,
	}).Return(&google.SearchTextResponse{
		Places:        []google.Place{googlePlace("Acme Dental", "https://acme.com", "OPERATIONAL")},
		NextPageToken: "p2",
	}, nil).Once()
	gc.On("SearchText", mock.Anything, google.SearchTextRequest{
		TextQuery: "dentists in Austin", PageSize: 19, PageToken: "p2", MinRating: 3,
	}).Return(&google.SearchTextResponse{
		Places: []google.Place{googlePlace("Closed Co", "https://closed.com", "CLOSED_PERMANENTLY")},
	}, nil).Once()

	places, err := NewGoogleProvider(gc).Search(context.Background(), Query{
		Keyword: "dentists", Location: "in Austin", MaxResults: 20, MinRating: 3,
	})
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, Place{Name: "Acme Dental", URL: "https://acme.com", Rating: 4.5, Operational: true}, places[0])
	assert.False(t, places[1].Operational)
}

func TestGoogleProvider_Errors(t *testing.T) {
	gc := googlemocks.NewMockClient(t)
	gc.On("SearchText", mock.Anything, mock.Anything).Return(nil, errors.New("google: unexpected status 503")).Once()

	_, err := NewGoogleProvider(gc).Search(context.Background(), Query{Keyword: "dentists", MaxResults: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery: google search")
}

func TestGoogleProvider_PartialShortfall(t *testing.T) {
	gc := googlemocks.NewMockClient(t)
	gc.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool { return r.PageToken == "" })).
		Return(&google.SearchTextResponse{
			Places:        []google.Place{googlePlace("Acme", "https://acme.com", "")},
			NextPageToken: "p2",
		}, nil).Once()
	gc.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool { return r.PageToken == "p2" })).
		Return(nil, errors.New("boom")).Once()

	places, err := NewGoogleProvider(gc).Search(context.Background(), Query{Keyword: "dentists", MaxResults: 40})
	require.NoError(t, err)
	assert.Len(t, places, 1)
}

func TestSerperProvider_StopsOnEmptyPage(t *testing.T) {
	sc := serpermocks.NewMockClient(t)
	sc.On("Places", mock.Anything, serper.PlacesRequest{Query: "plumbers", Num: 20, Page: 1}).
		Return(&serper.PlacesResponse{Places: []serper.Place{
			{Title: "Pipe Pros", Website: "https://pipepros.com", Rating: 4.8},
			{Title: "Low Rated", Website: "https://lowrated.com", Rating: 2.1},
			{Title: "Unrated", Website: "https://unrated.com"},
		}}, nil).Once()
	sc.On("Places", mock.Anything, serper.PlacesRequest{Query: "plumbers", Num: 20, Page: 2}).
		Return(&serper.PlacesResponse{}, nil).Once()

	places, err := NewSerperProvider(sc).Search(context.Background(), Query{Keyword: "plumbers", MaxResults: 30, MinRating: 3})
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "Pipe Pros", places[0].Name)
	assert.Equal(t, "Unrated", places[1].Name)
	assert.True(t, places[1].Operational)
}

func TestSerperProvider_Errors(t *testing.T) {
	sc := serpermocks.NewMockClient(t)
	sc.On("Places", mock.Anything, mock.Anything).Return(nil, errors.New("serper: unexpected status 401")).Once()

	_, err := NewSerperProvider(sc).Search(context.Background(), Query{Keyword: "plumbers", MaxResults: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery: serper search")
}

func TestNewProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Search.Provider = "google"
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())

	cfg.Search.Provider = "serper"
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "serper", p.Name())

	cfg.Search.Provider = "bing"
	_, err = NewProvider(cfg)
	require.Error(t, err)
}

func TestQueryText(t *testing.T) {
	assert.Equal(t, "dentists", Query{Keyword: " dentists "}.Text())
	assert.Equal(t, "dentists in Austin", Query{Keyword: "dentists", Location: "in Austin"}.Text())
}
