package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

const requestIDHeader = "X-Request-Id"

type ctxKey int

const (
	callerCtxKey ctxKey = iota
	requestIDCtxKey
)

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDCtxKey, id)))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		caller, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.handleDomainError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), callerCtxKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// selectTenant starts the unit of work for the request and activates the
// tenant named by the X-Company-Id header. Identifier and access errors are
// answered here, before any tenant database is touched.
func (h *Handler) selectTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tenancy.Begin(r.Context())
		sel, err := h.guard.Resolve(callerFrom(ctx), r.Header.Get(tenancy.SelectorHeader))
		if err != nil {
			h.metrics.ResolutionFailed(resolutionReason(err))
			h.handleDomainError(w, r, err)
			return
		}
		ctx, release := tenancy.Activate(ctx, sel)
		defer release()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireProvisioned makes sure the selected tenant's database is ready.
// A tenant that cannot be provisioned right now is reported as unavailable.
func (h *Handler) requireProvisioned(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sel := tenancy.Current(r.Context())
		if sel.Kind == tenancy.SingleTenant {
			if _, err := h.tenants.Resolve(r.Context(), sel.Tenant); err != nil {
				if errors.Is(err, domain.ErrProvisioningFailure) {
					err = fmt.Errorf("%w: %w", domain.ErrTenantNotProvisioned, err)
				}
				h.metrics.ResolutionFailed(resolutionReason(err))
				h.handleDomainError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func resolutionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return "invalid_identifier"
	case errors.Is(err, domain.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, domain.ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, domain.ErrTenantNotProvisioned):
		return "not_provisioned"
	default:
		return "internal"
	}
}

func callerFrom(ctx context.Context) domain.Caller {
	caller, _ := ctx.Value(callerCtxKey).(domain.Caller)
	return caller
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}
