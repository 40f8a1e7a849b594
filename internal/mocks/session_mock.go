package mocks

import (
	"context"

	"github.com/campusrun/campus-run/internal/session"
	"github.com/stretchr/testify/mock"
)

// MockSession is a mock implementation of the shell Session interface
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Init(ctx context.Context, opts session.InitOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockSession) Load(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockSession) Start(ctx context.Context, opts session.StartOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockSession) Status() session.Status {
	args := m.Called()
	return args.Get(0).(session.Status)
}

func (m *MockSession) Cleanup() {
	m.Called()
}

func (m *MockSession) CheckDeveloperMode(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockSession) EnableDeveloperMode(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
