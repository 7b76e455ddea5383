package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
)

// RecordService reads and writes records of the tenant active in ctx.
type RecordService struct {
	repo    ports.RecordRepository
	schemas *SchemaService
}

func NewRecordService(repo ports.RecordRepository, schemas *SchemaService) *RecordService {
	return &RecordService{repo: repo, schemas: schemas}
}

func (s *RecordService) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := rec.Validate(); err != nil {
		return domain.Record{}, err
	}
	if s.schemas != nil {
		if err := s.schemas.Validate(ctx, rec.Collection, rec.Data); err != nil {
			return domain.Record{}, err
		}
	}
	return s.repo.Upsert(ctx, rec)
}

func (s *RecordService) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return domain.Record{}, err
	}
	if err := domain.ValidateKey(id); err != nil {
		return domain.Record{}, err
	}
	return s.repo.Get(ctx, collection, id)
}

func (s *RecordService) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return false, err
	}
	if err := domain.ValidateKey(id); err != nil {
		return false, err
	}
	return s.repo.Delete(ctx, collection, id)
}

func (s *RecordService) List(ctx context.Context, collection string, filter domain.RecordListFilter) ([]domain.Record, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, collection, filter)
}

func (s *RecordService) Count(ctx context.Context, collection string) (int64, error) {
	if err := domain.ValidateCategory(collection); err != nil {
		return 0, err
	}
	return s.repo.Count(ctx, collection)
}

func (s *RecordService) BulkUpsert(ctx context.Context, collection string, items []BulkUpsertItem) ([]domain.Record, error) {
	result := make([]domain.Record, 0, len(items))
	for _, item := range items {
		rec, err := s.Upsert(ctx, domain.Record{
			Collection: collection,
			ID:         item.ID,
			Data:       item.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("bulk upsert %s: %w", item.ID, err)
		}
		result = append(result, rec)
	}
	return result, nil
}

type BulkUpsertItem struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}
