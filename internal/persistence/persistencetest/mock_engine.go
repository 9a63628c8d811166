package persistencetest

import (
	"context"

	"github.com/goevery/relay/internal/persistence"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a testify mock of persistence.Engine.
type MockEngine struct {
	mock.Mock
}

func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockEngine) Setup(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) Ping(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) Save(ctx context.Context, request persistence.SaveRequest) error {
	args := m.Called(ctx, request)

	return args.Error(0)
}
