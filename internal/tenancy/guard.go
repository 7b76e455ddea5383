package tenancy

import (
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

const (
	// SelectorHeader carries the tenant a request wants to act on.
	SelectorHeader = "X-Company-Id"
	SelectorAll    = "all"
)

// Guard turns a raw selector into a selection the caller is allowed to use.
// It never consults the tenant directory, so a denial says nothing about
// whether the tenant exists.
type Guard struct{}

func (Guard) Resolve(caller domain.Caller, raw string) (Selection, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Tenant(caller.DefaultTenant()), nil
	}
	if strings.EqualFold(raw, SelectorAll) {
		if caller.Staff() {
			return All(), nil
		}
		return Tenant(caller.DefaultTenant()), nil
	}
	id, err := domain.ParseTenantID(raw)
	if err != nil {
		return Selection{}, err
	}
	if !caller.CanAccess(id) {
		return Selection{}, fmt.Errorf("%w: tenant %d", domain.ErrAccessDenied, id)
	}
	return Tenant(id), nil
}
