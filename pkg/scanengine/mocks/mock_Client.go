// Package mocks provides test doubles for the scan engine client.
package mocks

import (
	"context"

	model "github.com/lucy-a11y/shuffle/internal/model"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Scan provides a mock function with given fields: ctx, url
func (_m *MockClient) Scan(ctx context.Context, url string) (*model.ScanResult, error) {
	ret := _m.Called(ctx, url)

	if len(ret) == 0 {
		panic("no return value specified for Scan")
	}

	var r0 *model.ScanResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*model.ScanResult, error)); ok {
		return rf(ctx, url)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.ScanResult)
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
