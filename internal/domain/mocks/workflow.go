// Package mocks provides testify mocks of the domain interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"semtaint.dev/pkg/semtaint/internal/domain"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// MockWorkflow is a mock implementation of domain.Workflow.
type MockWorkflow struct {
	mock.Mock
}

var _ domain.Workflow = (*MockWorkflow)(nil)

// NewMockWorkflow creates a MockWorkflow whose expectations are asserted
// when the test ends.
func NewMockWorkflow(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockWorkflow {
	m := &MockWorkflow{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// Compile provides a mock function.
func (m *MockWorkflow) Compile(ctx context.Context, args domain.CompileArgs) (model.CompileSummary, error) {
	ret := m.Called(ctx, args)

	summary, _ := ret.Get(0).(model.CompileSummary)

	return summary, ret.Error(1)
}

// List provides a mock function.
func (m *MockWorkflow) List(ctx context.Context, args domain.ListArgs) error {
	return m.Called(ctx, args).Error(0)
}

// View provides a mock function.
func (m *MockWorkflow) View(ctx context.Context, args domain.ViewArgs) error {
	return m.Called(ctx, args).Error(0)
}

// Merge provides a mock function.
func (m *MockWorkflow) Merge(ctx context.Context, args domain.MergeArgs) error {
	return m.Called(ctx, args).Error(0)
}
