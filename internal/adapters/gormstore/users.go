package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/tenantdb/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type userModel struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Username        string    `gorm:"column:username;not null"`
	TokenHash       string    `gorm:"column:token_hash;not null"`
	DefaultTenantID int64     `gorm:"column:default_tenant_id;not null"`
	Staff           bool      `gorm:"column:staff;not null"`
	Active          bool      `gorm:"column:active;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
}

func (userModel) TableName() string {
	return "users"
}

type accessGrantModel struct {
	UserID    int64     `gorm:"column:user_id;primaryKey"`
	TenantID  int64     `gorm:"column:tenant_id;primaryKey"`
	Role      string    `gorm:"column:role;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (accessGrantModel) TableName() string {
	return "access_grants"
}

type UserRepository struct {
	resolver Resolver
}

func NewUserRepository(resolver Resolver) *UserRepository {
	return &UserRepository{resolver: resolver}
}

func (r *UserRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.User, error) {
	var model userModel
	db, err := r.resolver.Route(ctx, tenancy.KindUser)
	if err != nil {
		return domain.User{}, err
	}
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return toUserDomain(model), nil
}

func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	model := userModel{
		Username:        user.Username,
		TokenHash:       user.TokenHash,
		DefaultTenantID: int64(user.DefaultTenant),
		Staff:           user.Staff,
		Active:          user.Active,
		CreatedAt:       time.Now().UTC(),
	}

	var saved userModel
	db, err := r.resolver.Route(ctx, tenancy.KindUser)
	if err != nil {
		return domain.User{}, err
	}
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_hash", "default_tenant_id", "staff", "active"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return tx.Where("username = ?", user.Username).First(&saved).Error
	})
	if err != nil {
		return domain.User{}, err
	}
	return toUserDomain(saved), nil
}

func (r *UserRepository) Grants(ctx context.Context, userID int64) ([]domain.AccessGrant, error) {
	var models []accessGrantModel
	db, err := r.resolver.Route(ctx, tenancy.KindAccessGrant)
	if err != nil {
		return nil, err
	}
	err = db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("user_id = ?", userID).Order("tenant_id ASC").Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	out := make([]domain.AccessGrant, 0, len(models))
	for _, m := range models {
		out = append(out, domain.AccessGrant{
			UserID:    m.UserID,
			TenantID:  domain.TenantID(m.TenantID),
			Role:      domain.Role(m.Role),
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (r *UserRepository) Grant(ctx context.Context, grant domain.AccessGrant) error {
	model := accessGrantModel{
		UserID:    grant.UserID,
		TenantID:  int64(grant.TenantID),
		Role:      string(grant.Role),
		CreatedAt: time.Now().UTC(),
	}
	db, err := r.resolver.Route(ctx, tenancy.KindAccessGrant)
	if err != nil {
		return err
	}
	err = db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}
	return nil
}

func toUserDomain(m userModel) domain.User {
	return domain.User{
		ID:            m.ID,
		Username:      m.Username,
		TokenHash:     m.TokenHash,
		DefaultTenant: domain.TenantID(m.DefaultTenantID),
		Staff:         m.Staff,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
	}
}
