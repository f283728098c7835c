package monitoring

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMonitorStartsHealthy(t *testing.T) {
	m := NewMonitor()

	if !m.IsHealthy() {
		t.Error("A monitor with no recorded runs should report healthy")
	}
	if got := m.GetStatusSummary(); got != "No runs yet" {
		t.Errorf("GetStatusSummary() = %q, want %q", got, "No runs yet")
	}
}

func TestMonitorRecordsOutcomes(t *testing.T) {
	m := NewMonitor()

	m.RecordCriticalFailure(errors.New("listing failed"), time.Second)
	if m.IsHealthy() {
		t.Error("Monitor should be unhealthy after a critical failure")
	}
	if summary := m.GetStatusSummary(); !strings.Contains(summary, "failed") {
		t.Errorf("GetStatusSummary() = %q, want a failure marker", summary)
	}

	m.RecordSuccess("found 3 videos, summarized 3, 0 failed", time.Second)
	if !m.IsHealthy() {
		t.Error("Monitor should recover after a successful run")
	}
	if summary := m.GetStatusSummary(); !strings.Contains(summary, "Last run:") {
		t.Errorf("GetStatusSummary() = %q, want a last-run line", summary)
	}
}

func TestPartialFailureDoesNotFlipHealth(t *testing.T) {
	m := NewMonitor()

	m.RecordSuccess("ok", time.Second)
	m.RecordPartialFailure(errors.New("1 of 3 summaries failed"), time.Second)
	if !m.IsHealthy() {
		t.Error("A partial failure must not mark a healthy monitor unhealthy")
	}

	m.RecordCriticalFailure(errors.New("dispatch failed"), time.Second)
	m.RecordPartialFailure(errors.New("1 of 3 summaries failed"), time.Second)
	if m.IsHealthy() {
		t.Error("A partial failure must not mark an unhealthy monitor healthy")
	}
}

func TestMonitorConcurrentAccess(t *testing.T) {
	m := NewMonitor()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			m.RecordSuccess("ok", time.Millisecond)
			_ = m.IsHealthy()
			_ = m.GetStatusSummary()
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
