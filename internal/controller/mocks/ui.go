// Package mocks provides testify mocks of the controller interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"semtaint.dev/pkg/semtaint/internal/controller"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// MockUI is a mock implementation of controller.UI.
type MockUI struct {
	mock.Mock
}

var _ controller.UI = (*MockUI)(nil)

// NewMockUI creates a MockUI whose expectations are asserted when the test
// ends.
func NewMockUI(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockUI {
	m := &MockUI{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockUI) Start(ctx context.Context, options ...controller.StartOption) error {
	return m.Called(ctx, options).Error(0)
}

func (m *MockUI) Close(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockUI) Wait(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockUI) DisplayRuleSets(ctx context.Context, sets []model.RuleSet, err error) error {
	return m.Called(ctx, sets, err).Error(0)
}

func (m *MockUI) DisplayCompileInfo(ctx context.Context, files int, workers int, session string) {
	m.Called(ctx, files, workers, session)
}

func (m *MockUI) DisplayStartingFile(ctx context.Context, file string) {
	m.Called(ctx, file)
}

func (m *MockUI) DisplayCompletedFile(ctx context.Context, diags model.FileDiagnostics, taintRules int) {
	m.Called(ctx, diags, taintRules)
}

func (m *MockUI) DisplaySummary(ctx context.Context, summary model.CompileSummary) {
	m.Called(ctx, summary)
}

func (m *MockUI) DisplayDiagnostics(ctx context.Context, files []model.FileDiagnostics) error {
	return m.Called(ctx, files).Error(0)
}

func (m *MockUI) DisplayDiff(ctx context.Context, diff string) error {
	return m.Called(ctx, diff).Error(0)
}

func (m *MockUI) DisplayMerged(ctx context.Context, output string, inputs int, taintRules int) {
	m.Called(ctx, output, inputs, taintRules)
}
