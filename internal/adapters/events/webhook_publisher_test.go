package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

func provisionedEvent() domain.TenantEvent {
	return domain.TenantEvent{
		EventID:      "evt-1",
		EventType:    domain.EventTenantProvisioned,
		TenantID:     42,
		TenantName:   "Acme",
		DatabaseName: "tenant_42",
		OccurredAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestWebhookPublisherSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	secret := "test-secret"
	pub := NewWebhookPublisher(srv.URL, secret, 5*time.Second)
	event := provisionedEvent()

	if err := pub.Publish(context.Background(), event.Topic(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if topic := gotHeaders.Get("X-Tenantdb-Topic"); topic != "tenants.42.tenant.provisioned" {
		t.Errorf("X-Tenantdb-Topic = %q", topic)
	}
	if et := gotHeaders.Get("X-Tenantdb-Event-Type"); et != domain.EventTenantProvisioned {
		t.Errorf("X-Tenantdb-Event-Type = %q", et)
	}
	if ten := gotHeaders.Get("X-Tenantdb-Tenant"); ten != "42" {
		t.Errorf("X-Tenantdb-Tenant = %q, want 42", ten)
	}

	sigHeader := gotHeaders.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sigHeader, "sha256=") {
		t.Fatalf("X-Hub-Signature-256 header missing or malformed: %q", sigHeader)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if got, want := strings.TrimPrefix(sigHeader, "sha256="), hex.EncodeToString(mac.Sum(nil)); got != want {
		t.Errorf("signature mismatch: got %q, want %q", got, want)
	}

	var decoded domain.TenantEvent
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.EventID != event.EventID || decoded.TenantID != event.TenantID {
		t.Errorf("decoded = %+v, want %+v", decoded, event)
	}
}

func TestWebhookPublisherNon2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	event := provisionedEvent()

	err := pub.Publish(context.Background(), event.Topic(), event)
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should mention status code 500, got: %v", err)
	}
}

func TestWebhookPublisherContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Publish(ctx, "tenants.1.tenant.provisioned", provisionedEvent())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to wrap context.Canceled, got: %v", err)
	}
}

func TestWebhookPublisherZeroTimeoutUsesDefault(t *testing.T) {
	pub := NewWebhookPublisher("http://localhost:9", "s", 0)
	if pub.client.Timeout != defaultWebhookTimeout {
		t.Errorf("timeout = %v, want %v", pub.client.Timeout, defaultWebhookTimeout)
	}
}

func TestLogPublisherWritesFailureDetails(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	event := provisionedEvent()
	event.EventType = domain.EventTenantProvisioningFailed
	event.Stage = string(domain.StageMigrate)
	event.Error = "boom"

	if err := pub.Publish(context.Background(), event.Topic(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["stage"] != "migrate" || fields["error"] != "boom" {
		t.Errorf("fields = %v", fields)
	}
	if fields["tenant_id"] != int64(42) {
		t.Errorf("tenant_id = %v", fields["tenant_id"])
	}
}
