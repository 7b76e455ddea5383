package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type tenantModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Name          string     `gorm:"column:name;not null"`
	DatabaseName  *string    `gorm:"column:database_name"`
	Status        string     `gorm:"column:status;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at"`
	ProvisionedAt *time.Time `gorm:"column:provisioned_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

func (tenantModel) TableName() string {
	return "tenants"
}

// TenantDirectory is the tenant table of the shared store.
type TenantDirectory struct {
	resolver Resolver
}

func NewTenantDirectory(resolver Resolver) *TenantDirectory {
	return &TenantDirectory{resolver: resolver}
}

func (r *TenantDirectory) Create(ctx context.Context, name string, nameFor func(domain.TenantID) string) (domain.Tenant, error) {
	now := time.Now().UTC()
	model := tenantModel{
		Name:      name,
		Status:    string(domain.TenantPending),
		CreatedAt: now,
		UpdatedAt: now,
	}

	db, err := r.resolver.Route(ctx, tenancy.KindTenant)
	if err != nil {
		return domain.Tenant{}, err
	}
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		dbName := nameFor(domain.TenantID(model.ID))
		if err := domain.ValidateDatabaseName(dbName); err != nil {
			return err
		}
		model.DatabaseName = &dbName
		return tx.Model(&tenantModel{}).Where("id = ?", model.ID).Update("database_name", dbName).Error
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	return toTenantDomain(model), nil
}

func (r *TenantDirectory) Get(ctx context.Context, id domain.TenantID) (domain.Tenant, error) {
	var model tenantModel
	db, err := r.resolver.Route(ctx, tenancy.KindTenant)
	if err != nil {
		return domain.Tenant{}, err
	}
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("id = ?", int64(id)).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tenant{}, fmt.Errorf("%w: %d", domain.ErrTenantNotFound, id)
		}
		return domain.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return toTenantDomain(model), nil
}

func (r *TenantDirectory) List(ctx context.Context) ([]domain.Tenant, error) {
	var models []tenantModel
	db, err := r.resolver.Route(ctx, tenancy.KindTenant)
	if err != nil {
		return nil, err
	}
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Order("id ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return toTenantsDomain(models), nil
}

func (r *TenantDirectory) ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Tenant, error) {
	var models []tenantModel
	db, err := r.resolver.Route(ctx, tenancy.KindTenant)
	if err != nil {
		return nil, err
	}
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.
			Where("status IN ?", []string{string(domain.TenantPending), string(domain.TenantFailed)}).
			Where("attempts < ?", maxAttempts).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now.UTC()).
			Order("id ASC").
			Limit(limit).
			Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list retryable tenants: %w", err)
	}
	return toTenantsDomain(models), nil
}

func (r *TenantDirectory) MarkReady(ctx context.Context, id domain.TenantID, at time.Time) error {
	at = at.UTC()
	return r.update(ctx, id, map[string]any{
		"status":          string(domain.TenantReady),
		"last_error":      "",
		"attempts":        0,
		"next_attempt_at": nil,
		"provisioned_at":  at,
		"updated_at":      at,
	})
}

func (r *TenantDirectory) MarkFailed(ctx context.Context, id domain.TenantID, reason string, attempts int, next time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":          string(domain.TenantFailed),
		"last_error":      reason,
		"attempts":        attempts,
		"next_attempt_at": next.UTC(),
		"updated_at":      time.Now().UTC(),
	})
}

func (r *TenantDirectory) update(ctx context.Context, id domain.TenantID, fields map[string]any) error {
	var affected int64
	db, err := r.resolver.Route(ctx, tenancy.KindTenant)
	if err != nil {
		return err
	}
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		res := tx.Model(&tenantModel{}).Where("id = ?", int64(id)).Updates(fields)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("update tenant %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", domain.ErrTenantNotFound, id)
	}
	return nil
}

func toTenantsDomain(models []tenantModel) []domain.Tenant {
	out := make([]domain.Tenant, 0, len(models))
	for _, m := range models {
		out = append(out, toTenantDomain(m))
	}
	return out
}

func toTenantDomain(m tenantModel) domain.Tenant {
	t := domain.Tenant{
		ID:            domain.TenantID(m.ID),
		Name:          m.Name,
		Status:        domain.TenantStatus(m.Status),
		LastError:     m.LastError,
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		ProvisionedAt: m.ProvisionedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.DatabaseName != nil {
		t.DatabaseName = *m.DatabaseName
	}
	return t
}
