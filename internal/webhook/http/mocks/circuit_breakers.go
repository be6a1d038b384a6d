// Package mocks provides mock implementations for testing HTTP handlers.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/allisson/hookrelay/internal/resilience"
)

// MockCircuitBreakers is a mock of the circuit breaker registry.
type MockCircuitBreakers struct {
	mock.Mock
}

// Snapshot mocks the Snapshot method of the breaker registry.
func (m *MockCircuitBreakers) Snapshot() []resilience.Snapshot {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]resilience.Snapshot)
}

// Reset mocks the Reset method of the breaker registry.
func (m *MockCircuitBreakers) Reset(target string) bool {
	args := m.Called(target)
	return args.Bool(0)
}

// ResetAll mocks the ResetAll method of the breaker registry.
func (m *MockCircuitBreakers) ResetAll() int {
	args := m.Called()
	return args.Int(0)
}
