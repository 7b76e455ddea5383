package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type collectionSchemaModel struct {
	Collection string    `gorm:"column:collection;primaryKey"`
	SchemaJSON string    `gorm:"column:schema_json;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (collectionSchemaModel) TableName() string {
	return "collection_schemas"
}

type SchemaRepository struct {
	resolver Resolver
}

func NewSchemaRepository(resolver Resolver) *SchemaRepository {
	return &SchemaRepository{resolver: resolver}
}

func (r *SchemaRepository) Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindCollectionSchema)
	if err != nil {
		return domain.CollectionSchema{}, err
	}
	now := time.Now().UTC()
	model := collectionSchemaModel{
		Collection: schema.Collection,
		SchemaJSON: string(schema.Schema),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var out domain.CollectionSchema
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}},
			DoUpdates: clause.AssignmentColumns([]string{"schema_json", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert schema: %w", err)
		}

		var saved collectionSchemaModel
		if err := tx.Where("collection = ?", schema.Collection).First(&saved).Error; err != nil {
			return fmt.Errorf("load upserted schema: %w", err)
		}
		out = toSchemaDomain(saved)
		return nil
	})
	if err != nil {
		return domain.CollectionSchema{}, err
	}
	return out, nil
}

func (r *SchemaRepository) Get(ctx context.Context, collection string) (domain.CollectionSchema, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindCollectionSchema)
	if err != nil {
		return domain.CollectionSchema{}, err
	}
	var model collectionSchemaModel
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("collection = ?", collection).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CollectionSchema{}, domain.ErrNotFound
		}
		return domain.CollectionSchema{}, fmt.Errorf("get schema: %w", err)
	}
	return toSchemaDomain(model), nil
}

func (r *SchemaRepository) Delete(ctx context.Context, collection string) (bool, error) {
	db, err := r.resolver.Route(ctx, tenancy.KindCollectionSchema)
	if err != nil {
		return false, err
	}
	var affected int64
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		res := tx.Where("collection = ?", collection).Delete(&collectionSchemaModel{})
		if res.Error != nil {
			return fmt.Errorf("delete schema: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func toSchemaDomain(model collectionSchemaModel) domain.CollectionSchema {
	return domain.CollectionSchema{
		Collection: model.Collection,
		Schema:     json.RawMessage(model.SchemaJSON),
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
}
