package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

type tenantResponse struct {
	ID            domain.TenantID `json:"id"`
	Name          string          `json:"name"`
	DatabaseName  string          `json:"database_name"`
	Status        string          `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	ProvisionedAt string          `json:"provisioned_at,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

type createTenantRequest struct {
	Name string `json:"name"`
}

type meTenant struct {
	ID   domain.TenantID `json:"id"`
	Role domain.Role     `json:"role"`
}

func toTenantResponse(t domain.Tenant) tenantResponse {
	resp := tenantResponse{
		ID:           t.ID,
		Name:         t.Name,
		DatabaseName: t.DatabaseName,
		Status:       string(t.Status),
		LastError:    t.LastError,
		CreatedAt:    t.CreatedAt.UTC().Format(timeFormat),
	}
	if t.ProvisionedAt != nil {
		resp.ProvisionedAt = t.ProvisionedAt.UTC().Format(timeFormat)
	}
	return resp
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	tenants := make([]meTenant, 0, len(caller.Grants)+1)
	for _, id := range caller.Tenants() {
		role, _ := caller.RoleFor(id)
		tenants = append(tenants, meTenant{ID: id, Role: role})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":       caller.User.Username,
		"staff":          caller.Staff(),
		"default_tenant": caller.DefaultTenant(),
		"tenants":        tenants,
	})
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	t, err := h.tenants.Create(r.Context(), callerFrom(r.Context()), req.Name)
	if err != nil {
		if t.ID != 0 && errors.Is(err, domain.ErrProvisioningFailure) {
			// The tenant exists and stays failed until the reconciler or an
			// explicit provision call succeeds.
			h.logger.Warn("tenant created but not provisioned", zap.Int64("tenant_id", int64(t.ID)), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  domain.ErrProvisioningFailure.Error(),
				"tenant": toTenantResponse(t),
			})
			return
		}
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantResponse(t))
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context(), callerFrom(r.Context()), tenancy.Current(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	result := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		result = append(result, toTenantResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	t, err := h.tenants.Get(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *Handler) provisionTenant(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	t, err := h.tenants.Reprovision(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *Handler) tenantStats(w http.ResponseWriter, r *http.Request) {
	if !callerFrom(r.Context()).Staff() {
		writeError(w, http.StatusForbidden, domain.ErrAccessDenied.Error())
		return
	}
	stats, err := h.tenants.Stats(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) countRecords(w http.ResponseWriter, r *http.Request) {
	count, err := h.reports.CountRecords(r.Context(), callerFrom(r.Context()), tenancy.Current(r.Context()), chi.URLParam(r, "collection"))
	if err != nil && !errors.Is(err, domain.ErrPartialAggregation) {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": count.Collection,
		"total":      count.Total,
		"per_tenant": count.PerTenant,
		"failures":   count.Failures,
		"partial":    err != nil,
	})
}
