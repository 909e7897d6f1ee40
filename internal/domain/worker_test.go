package domain_test

import (
	"testing"
	"time"

	"github.com/aiopslab/taskrunner/internal/domain"
)

func TestValidWorkerID(t *testing.T) {
	valid := []string{"worker-001-internal", "worker-100-orchestrator", "worker-999-k8s"}
	for _, id := range valid {
		if !domain.ValidWorkerID(id) {
			t.Errorf("ValidWorkerID(%q) = false, want true", id)
		}
	}
	invalid := []string{"worker-1-internal", "worker-0001-internal", "worker--internal", "not-a-worker"}
	for _, id := range invalid {
		if domain.ValidWorkerID(id) {
			t.Errorf("ValidWorkerID(%q) = true, want false", id)
		}
	}
}

func TestCapabilitiesAcceptsEmptyMeansAny(t *testing.T) {
	c := domain.Capabilities{}
	if !c.Accepts("anything-goes") {
		t.Error("empty SupportedProblems should accept any problem_id")
	}
}

func TestCapabilitiesAcceptsSubstringMatch(t *testing.T) {
	c := domain.Capabilities{SupportedProblems: []string{"redis", "kafka"}}
	if !c.Accepts("target-kafka-broker-outage") {
		t.Error("expected substring match on 'kafka'")
	}
	if c.Accepts("postgres-slow-query") {
		t.Error("expected no match for unrelated problem_id")
	}
}

func TestWorkerEligible(t *testing.T) {
	now := time.Now()
	w := &domain.Worker{Status: domain.WorkerIdle, LastHeartbeat: now.Add(-5 * time.Second)}
	if !w.Eligible(now, 30*time.Second) {
		t.Error("expected worker within heartbeat window to be eligible")
	}
	if w.Eligible(now, time.Second) {
		t.Error("expected worker outside heartbeat window to be ineligible")
	}

	offline := &domain.Worker{Status: domain.WorkerOffline, LastHeartbeat: now}
	if offline.Eligible(now, time.Hour) {
		t.Error("offline worker must never be eligible")
	}
}
