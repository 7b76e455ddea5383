package usecase

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

func TestRecordServiceRejectsInvalidCollection(t *testing.T) {
	svc := NewRecordService(newStubRecordRepo(), nil)

	_, err := svc.Upsert(tenantCtx(1), domain.Record{
		Collection: "bad collection",
		ID:         "1",
		Data:       json.RawMessage(`{"name":"x"}`),
	})
	if !errors.Is(err, domain.ErrInvalidCategory) {
		t.Fatalf("expected invalid category, got %v", err)
	}
}

func TestRecordServiceKeepsTenantsApart(t *testing.T) {
	repo := newStubRecordRepo()
	svc := NewRecordService(repo, nil)

	if _, err := svc.Upsert(tenantCtx(1), domain.Record{Collection: "contacts", ID: "a", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := svc.Get(tenantCtx(2), "contacts", "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("tenant 2 must not see tenant 1 record, got %v", err)
	}
	n, err := svc.Count(tenantCtx(1), "contacts")
	if err != nil || n != 1 {
		t.Fatalf("count tenant 1: %d %v", n, err)
	}
}

func TestRecordServiceListClampsLimit(t *testing.T) {
	repo := newStubRecordRepo()
	svc := NewRecordService(repo, nil)
	ctx := tenantCtx(1)
	items := []BulkUpsertItem{
		{ID: "1", Data: json.RawMessage(`{}`)},
		{ID: "2", Data: json.RawMessage(`{}`)},
		{ID: "3", Data: json.RawMessage(`{}`)},
	}
	if _, err := svc.BulkUpsert(ctx, "contacts", items); err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}

	recs, err := svc.List(ctx, "contacts", domain.RecordListFilter{After: "1", Limit: 5000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "2" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestRecordServiceValidatesAgainstSchema(t *testing.T) {
	schemaSvc := NewSchemaService(newStubSchemaRepo(), selectionLocator{})
	svc := NewRecordService(newStubRecordRepo(), schemaSvc)
	ctx := tenantCtx(1)

	schemaJSON := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	if _, err := schemaSvc.Upsert(ctx, "contacts", schemaJSON); err != nil {
		t.Fatalf("upsert schema: %v", err)
	}

	if _, err := svc.Upsert(ctx, domain.Record{Collection: "contacts", ID: "1", Data: json.RawMessage(`{"name":"Alice"}`)}); err != nil {
		t.Fatalf("expected no error for valid data, got %v", err)
	}

	_, err := svc.Upsert(ctx, domain.Record{Collection: "contacts", ID: "2", Data: json.RawMessage(`{"age":3}`)})
	var violation *domain.ErrSchemaViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
	if len(violation.Errors) == 0 {
		t.Fatal("expected violation details")
	}
}
