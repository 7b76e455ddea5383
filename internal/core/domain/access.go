package domain

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleFinance  Role = "finance"
	RoleReadOnly Role = "read_only"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFinance, RoleReadOnly:
		return true
	}
	return false
}

// User is an account in the shared store. Every user has exactly one
// default tenant.
type User struct {
	ID            int64
	Username      string
	TokenHash     string
	DefaultTenant TenantID
	Staff         bool
	Active        bool
	CreatedAt     time.Time
}

type AccessGrant struct {
	UserID    int64
	TenantID  TenantID
	Role      Role
	CreatedAt time.Time
}

// Caller is an authenticated user together with its grants.
type Caller struct {
	User   User
	Grants []AccessGrant
}

func (c Caller) DefaultTenant() TenantID {
	return c.User.DefaultTenant
}

func (c Caller) Staff() bool {
	return c.User.Staff
}

// CanAccess reports whether the caller may activate the tenant.
func (c Caller) CanAccess(id TenantID) bool {
	if id == c.User.DefaultTenant {
		return true
	}
	for _, g := range c.Grants {
		if g.TenantID == id {
			return true
		}
	}
	return false
}

// Tenants lists the default tenant followed by granted tenants, without
// duplicates.
func (c Caller) Tenants() []TenantID {
	seen := map[TenantID]struct{}{c.User.DefaultTenant: {}}
	out := []TenantID{c.User.DefaultTenant}
	for _, g := range c.Grants {
		if _, ok := seen[g.TenantID]; ok {
			continue
		}
		seen[g.TenantID] = struct{}{}
		out = append(out, g.TenantID)
	}
	return out
}

// RoleFor returns the caller's role in a tenant. The default tenant without
// an explicit grant is treated as read-only.
func (c Caller) RoleFor(id TenantID) (Role, bool) {
	for _, g := range c.Grants {
		if g.TenantID == id {
			return g.Role, true
		}
	}
	if id == c.User.DefaultTenant {
		return RoleReadOnly, true
	}
	return "", false
}
