// Package mocks holds shared testify mocks for the consumer-side
// interfaces wired between packages.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/browser"
)

// -- Store Mock --

// MockStore mocks the result persistence layer.
type MockStore struct {
	mock.Mock
}

// PersistResult provides a mock function for persisting terminal results.
func (m *MockStore) PersistResult(ctx context.Context, res *schemas.Result) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

// ListResults provides a mock function for reading back a run's results.
func (m *MockStore) ListResults(ctx context.Context, runID string) ([]schemas.Result, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Result), args.Error(1)
}

// -- Browser Session Mocks --

// MockSession mocks the browser.Session capability surface.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Navigate(ctx context.Context, url string, settle time.Duration) error {
	return m.Called(ctx, url, settle).Error(0)
}

func (m *MockSession) WaitFullLoad(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSession) PDF(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSession) Resources() []schemas.ResourceRequest {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]schemas.ResourceRequest)
}

func (m *MockSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Close() error {
	return m.Called().Error(0)
}

// -- Session Factory Mock --

// MockSessionFactory mocks browser.SessionFactory.
type MockSessionFactory struct {
	mock.Mock
}

func (m *MockSessionFactory) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Session), args.Error(1)
}
