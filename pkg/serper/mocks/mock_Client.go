// Package mocks provides test doubles for the serper client.
package mocks

import (
	"context"

	serper "github.com/lucy-a11y/shuffle/pkg/serper"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Places provides a mock function with given fields: ctx, req
func (_m *MockClient) Places(ctx context.Context, req serper.PlacesRequest) (*serper.PlacesResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Places")
	}

	var r0 *serper.PlacesResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, serper.PlacesRequest) (*serper.PlacesResponse, error)); ok {
		return rf(ctx, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*serper.PlacesResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
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
