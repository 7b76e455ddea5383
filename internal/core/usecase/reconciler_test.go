package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

func TestReconcilerRetriesFailedTenants(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	f := newProvisionFixture(
		domain.Tenant{ID: 1, Status: domain.TenantFailed, Attempts: 1, NextAttemptAt: &past},
		domain.Tenant{ID: 2, Status: domain.TenantPending},
	)
	r := NewReconciler(f.directory, f.prov, time.Hour, 10, nil, nil)

	if err := r.reconcileBatch(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	m := r.Metrics()
	if m.ReconcileSuccessTotal != 2 || m.ReconcileFailureTotal != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	for _, id := range []domain.TenantID{1, 2} {
		stored, _ := f.directory.Get(context.Background(), id)
		if stored.Status != domain.TenantReady {
			t.Fatalf("tenant %d not ready: %+v", id, stored)
		}
	}
}

func TestReconcilerHonoursBackoffAndGivesUp(t *testing.T) {
	future := time.Now().Add(time.Hour)
	f := newProvisionFixture(
		domain.Tenant{ID: 1, Status: domain.TenantFailed, Attempts: 1, NextAttemptAt: &future},
		domain.Tenant{ID: 2, Status: domain.TenantFailed, Attempts: 4},
		domain.Tenant{ID: 3, Status: domain.TenantFailed, Attempts: 5},
	)
	f.cluster.failCreate["tenant_2"] = errors.New("no space")
	r := NewReconciler(f.directory, f.prov, time.Hour, 10, nil, nil)

	if err := r.reconcileBatch(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	m := r.Metrics()
	if m.ReconcileSuccessTotal != 0 || m.ReconcileFailureTotal != 1 || m.ReconcileGiveUpTotal != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	stored, _ := f.directory.Get(context.Background(), 2)
	if stored.Attempts != 5 {
		t.Fatalf("expected attempts to reach the ceiling, got %d", stored.Attempts)
	}
	if f.cluster.createCalls.Load() != 1 {
		t.Fatalf("only tenant 2 was due, create calls %d", f.cluster.createCalls.Load())
	}
}

func TestReconcilerStartClose(t *testing.T) {
	f := newProvisionFixture(domain.Tenant{ID: 1})
	r := NewReconciler(f.directory, f.prov, 10*time.Millisecond, 10, nil, nil)

	r.Start(context.Background())
	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for r.Metrics().ReconcileSuccessTotal == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Metrics().ReconcileSuccessTotal != 1 {
		t.Fatalf("expected one reconciled tenant, got %+v", r.Metrics())
	}
}

func TestBackoffDuration(t *testing.T) {
	tests := map[int]time.Duration{
		0:   time.Second,
		1:   time.Second,
		2:   4 * time.Second,
		10:  100 * time.Second,
		100: 5 * time.Minute,
	}
	for attempt, want := range tests {
		if got := backoffDuration(attempt); got != want {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, want)
		}
	}
}
