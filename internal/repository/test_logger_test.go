package repository

import "pdf-workbench/internal/domain"

// Mock logger used by repository package tests.
type mockLogger struct{}

func newMockLogger() domain.Logger {
	return &mockLogger{}
}

func (l *mockLogger) Info(msg string, fields ...interface{})             {}
func (l *mockLogger) Error(msg string, err error, fields ...interface{}) {}
func (l *mockLogger) Debug(msg string, fields ...interface{})            {}
func (l *mockLogger) Warn(msg string, fields ...interface{})             {}
