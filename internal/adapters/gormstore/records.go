package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

// Resolver returns the database serving an entity kind in ctx.
type Resolver interface {
	Route(ctx context.Context, kind tenancy.EntityKind) (*gormdb.DB, error)
}

type recordModel struct {
	Collection string    `gorm:"column:collection;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	Data       string    `gorm:"column:data;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (recordModel) TableName() string {
	return "records"
}

// RecordRepository stores records in whichever tenant database the
// resolver picks for the request.
type RecordRepository struct {
	resolver Resolver
}

func NewRecordRepository(resolver Resolver) *RecordRepository {
	return &RecordRepository{resolver: resolver}
}

func (r *RecordRepository) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindRecord)
	if err != nil {
		return domain.Record{}, err
	}
	now := time.Now().UTC()
	model := recordModel{
		Collection: rec.Collection,
		ID:         rec.ID,
		Data:       string(rec.Data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var saved recordModel
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		return tx.Where("collection = ? AND id = ?", rec.Collection, rec.ID).First(&saved).Error
	})
	if err != nil {
		return domain.Record{}, err
	}
	return toRecordDomain(saved), nil
}

func (r *RecordRepository) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindRecord)
	if err != nil {
		return domain.Record{}, err
	}
	var model recordModel
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("collection = ? AND id = ?", collection, id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, fmt.Errorf("get record: %w", err)
	}
	return toRecordDomain(model), nil
}

func (r *RecordRepository) Delete(ctx context.Context, collection, id string) (bool, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindRecord)
	if err != nil {
		return false, err
	}
	var affected int64
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		res := tx.Where("collection = ? AND id = ?", collection, id).Delete(&recordModel{})
		if res.Error != nil {
			return fmt.Errorf("delete record: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *RecordRepository) List(ctx context.Context, collection string, filter domain.RecordListFilter) ([]domain.Record, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindRecord)
	if err != nil {
		return nil, err
	}
	var models []recordModel
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		q := tx.Where("collection = ?", collection)
		if filter.Prefix != "" {
			q = q.Where(`id LIKE ? ESCAPE '\'`, likeEscaper.Replace(filter.Prefix)+"%")
		}
		if filter.After != "" {
			q = q.Where("id > ?", filter.After)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q.Order("id ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]domain.Record, 0, len(models))
	for _, m := range models {
		out = append(out, toRecordDomain(m))
	}
	return out, nil
}

func (r *RecordRepository) Count(ctx context.Context, collection string) (int64, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindRecord)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&recordModel{}).Where("collection = ?", collection).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func toRecordDomain(m recordModel) domain.Record {
	return domain.Record{
		Collection: m.Collection,
		ID:         m.ID,
		Data:       json.RawMessage(m.Data),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
