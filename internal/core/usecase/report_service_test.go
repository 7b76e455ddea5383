package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

func TestReportServiceCountRecords(t *testing.T) {
	agg, _ := newAggregatorFixture(1, 2, 3)
	repo := newStubRecordRepo()
	records := NewRecordService(repo, nil)
	reports := NewReportService(agg, records)

	for id, n := range map[domain.TenantID]int{1: 2, 2: 1, 3: 4} {
		for i := 0; i < n; i++ {
			_, err := records.Upsert(tenantCtx(id), domain.Record{Collection: "invoices", ID: string(rune('a' + i)), Data: json.RawMessage(`{}`)})
			if err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
	}

	member := domain.Caller{
		User:   domain.User{ID: 1, DefaultTenant: 1},
		Grants: []domain.AccessGrant{{UserID: 1, TenantID: 3, Role: domain.RoleFinance}},
	}
	got, err := reports.CountRecords(context.Background(), member, tenancy.Tenant(1), "invoices")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got.Total != 6 || got.PerTenant[1] != 2 || got.PerTenant[3] != 4 || len(got.PerTenant) != 2 {
		t.Fatalf("unexpected member report: %+v", got)
	}

	staff := domain.Caller{User: domain.User{ID: 2, DefaultTenant: 1, Staff: true}}
	repo.failFor[2] = errors.New("connection reset")
	got, err = reports.CountRecords(context.Background(), staff, tenancy.All(), "invoices")
	if !errors.Is(err, domain.ErrPartialAggregation) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if got.Total != 6 || got.Failures[2] == "" {
		t.Fatalf("unexpected staff report: %+v", got)
	}
}

func TestReportServiceRejectsBadCollection(t *testing.T) {
	agg, _ := newAggregatorFixture(1)
	reports := NewReportService(agg, NewRecordService(newStubRecordRepo(), nil))
	_, err := reports.CountRecords(context.Background(), staffCaller, tenancy.All(), "no spaces")
	if !errors.Is(err, domain.ErrInvalidCategory) {
		t.Fatalf("expected invalid category, got %v", err)
	}
}
