// Package mocks provides test doubles for the hubspot client.
package mocks

import (
	"context"

	hubspot "github.com/lucy-a11y/shuffle/pkg/hubspot"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// UpsertCompany provides a mock function with given fields: ctx, domain, props
func (_m *MockClient) UpsertCompany(ctx context.Context, domain string, props hubspot.Properties) (string, error) {
	ret := _m.Called(ctx, domain, props)

	if len(ret) == 0 {
		panic("no return value specified for UpsertCompany")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, hubspot.Properties) (string, error)); ok {
		return rf(ctx, domain, props)
	}
	return ret.String(0), ret.Error(1)
}

// UpsertContact provides a mock function with given fields: ctx, email, props, companyID
func (_m *MockClient) UpsertContact(ctx context.Context, email string, props hubspot.Properties, companyID string) (string, error) {
	ret := _m.Called(ctx, email, props, companyID)

	if len(ret) == 0 {
		panic("no return value specified for UpsertContact")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, hubspot.Properties, string) (string, error)); ok {
		return rf(ctx, email, props, companyID)
	}
	return ret.String(0), ret.Error(1)
}

// CreateDeal provides a mock function with given fields: ctx, props, contactIDs, companyID
func (_m *MockClient) CreateDeal(ctx context.Context, props hubspot.Properties, contactIDs []string, companyID string) (string, error) {
	ret := _m.Called(ctx, props, contactIDs, companyID)

	if len(ret) == 0 {
		panic("no return value specified for CreateDeal")
	}

	if rf, ok := ret.Get(0).(func(context.Context, hubspot.Properties, []string, string) (string, error)); ok {
		return rf(ctx, props, contactIDs, companyID)
	}
	return ret.String(0), ret.Error(1)
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
