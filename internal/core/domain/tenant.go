package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TenantID identifies a company. Valid ids are positive; zero is reserved for
// the shared store.
type TenantID int64

const SharedTenantID TenantID = 0

func (id TenantID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseTenantID parses a tenant selector value. Only positive base-10
// integers are accepted.
func ParseTenantID(raw string) (TenantID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidIdentifier
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return TenantID(n), nil
}

type TenantStatus string

const (
	TenantPending TenantStatus = "pending"
	TenantReady   TenantStatus = "ready"
	TenantFailed  TenantStatus = "failed"
)

type Tenant struct {
	ID            TenantID
	Name          string
	DatabaseName  string
	Status        TenantStatus
	LastError     string
	Attempts      int
	NextAttemptAt *time.Time
	ProvisionedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var tenantNamePattern = regexp.MustCompile(`^[\p{L}\p{N} .,&'()/-]{1,255}$`)

func ValidateTenantName(name string) error {
	if strings.TrimSpace(name) == "" || !tenantNamePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

var databaseNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateDatabaseName guards identifiers that end up in file paths and DDL.
func ValidateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("%w: database name %q", ErrInvalidName, name)
	}
	return nil
}

// TenantDatabaseName is the logical database name of a tenant. The id suffix
// keeps names unique across tenants.
func TenantDatabaseName(prefix string, id TenantID) string {
	return prefix + id.String()
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ConnectionDescriptor describes how to reach one logical database. Tenant
// descriptors are derived from the base descriptor and differ only in
// Database.
type ConnectionDescriptor struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	DataDir      string
	MaxOpenConns int
	MaxIdleConns int
}

func (d ConnectionDescriptor) WithDatabase(name string) ConnectionDescriptor {
	d.Database = name
	return d
}

func (d ConnectionDescriptor) String() string {
	switch d.Driver {
	case DriverPostgres:
		return fmt.Sprintf("postgres://%s@%s:%d/%s", d.User, d.Host, d.Port, d.Database)
	default:
		return fmt.Sprintf("sqlite://%s/%s", d.DataDir, d.Database)
	}
}
