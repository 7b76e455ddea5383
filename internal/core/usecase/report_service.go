package usecase

import (
	"context"
	"errors"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type CollectionCount struct {
	Collection string                     `json:"collection"`
	Total      int64                      `json:"total"`
	PerTenant  map[domain.TenantID]int64  `json:"per_tenant"`
	Failures   map[domain.TenantID]string `json:"failures,omitempty"`
}

// ReportService runs read-only reports across the tenants a caller may see.
type ReportService struct {
	aggregator *Aggregator
	records    *RecordService
}

func NewReportService(aggregator *Aggregator, records *RecordService) *ReportService {
	return &ReportService{aggregator: aggregator, records: records}
}

// CountRecords counts a collection in every tenant visible under sel. The
// result is returned even when some tenants fail; their errors are listed
// in Failures and the returned error wraps domain.ErrPartialAggregation.
func (s *ReportService) CountRecords(ctx context.Context, caller domain.Caller, sel tenancy.Selection, collection string) (CollectionCount, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return CollectionCount{}, err
	}

	var tenants []domain.TenantID
	if !(sel.Kind == tenancy.Unfiltered && caller.Staff()) {
		tenants = caller.Tenants()
	}

	results, err := Aggregate(ctx, s.aggregator, func(ctx context.Context, _ domain.TenantID) (int64, error) {
		return s.records.Count(ctx, collection)
	}, AggregateOptions{Tenants: tenants})
	if err != nil && !errors.Is(err, domain.ErrPartialAggregation) {
		return CollectionCount{}, err
	}

	out := CollectionCount{
		Collection: collection,
		PerTenant:  make(map[domain.TenantID]int64, len(results.Values)),
	}
	for id, n := range results.Values {
		out.PerTenant[id] = n
		out.Total += n
	}
	if len(results.Errors) > 0 {
		out.Failures = make(map[domain.TenantID]string, len(results.Errors))
		for id, e := range results.Errors {
			out.Failures[id] = e.Error()
		}
	}
	return out, err
}
