// Package testutils provides shared test helpers.
package testutils

import (
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/limsync/limsync/pkg/types"
)

// MockClock wraps quartz.Mock to implement types.Clock for tests.
type MockClock struct {
	*quartz.Mock
}

// NewMockClock creates a mock clock for deterministic time control.
func NewMockClock(t *testing.T) *MockClock {
	return &MockClock{Mock: quartz.NewMock(t)}
}

func (m *MockClock) Now() time.Time {
	return m.Mock.Now()
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	return m.Mock.NewTimer(d).C
}

func (m *MockClock) Sleep(d time.Duration) {
	<-m.Mock.NewTimer(d).C
}

func (m *MockClock) Since(t time.Time) time.Duration {
	return m.Mock.Since(t)
}

func (m *MockClock) NewTimer(d time.Duration) types.Timer {
	return &mockTimer{timer: m.Mock.NewTimer(d)}
}

type mockTimer struct {
	timer *quartz.Timer
}

func (t *mockTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *mockTimer) Stop() bool {
	return t.timer.Stop()
}

func (t *mockTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}
