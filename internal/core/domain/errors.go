package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidName     = errors.New("invalid name")
	ErrNotFound        = errors.New("not found")
	ErrInvalidSchema   = errors.New("invalid json schema")

	ErrInvalidIdentifier    = errors.New("invalid tenant identifier")
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrTenantNotProvisioned = errors.New("tenant not provisioned")
	ErrProvisioningFailure  = errors.New("tenant provisioning failed")
	ErrPartialAggregation   = errors.New("partial aggregation failure")

	// ErrDatabaseExists is reported by database administrators when a create
	// lost a race against another creator.
	ErrDatabaseExists = errors.New("database already exists")
)

type ProvisioningStage string

const (
	StageRegister ProvisioningStage = "register"
	StageAdmin    ProvisioningStage = "admin"
	StageCreate   ProvisioningStage = "create"
	StageConnect  ProvisioningStage = "connect"
	StageMigrate  ProvisioningStage = "migrate"
)

// ProvisioningError reports which provisioning step failed for a tenant.
type ProvisioningError struct {
	TenantID TenantID
	Stage    ProvisioningStage
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision tenant %d: %s: %v", e.TenantID, e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

func (e *ProvisioningError) Is(target error) bool {
	return target == ErrProvisioningFailure
}

// AggregationError carries the per-tenant failures of a fan-out. Successful
// tenants are reported alongside it, never dropped.
type AggregationError struct {
	Failures map[TenantID]error
	Total    int
}

func (e *AggregationError) Error() string {
	ids := make([]TenantID, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("tenant %d: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("%d of %d tenants failed: %s", len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *AggregationError) Is(target error) bool {
	return target == ErrPartialAggregation
}
