package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenantdb/internal/metrics"
	"github.com/atvirokodosprendimai/tenantdb/internal/tenancy"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20
)

type Services struct {
	Auth    *usecase.AuthService
	Tenants *usecase.TenantService
	Records *usecase.RecordService
	Schemas *usecase.SchemaService
	Reports *usecase.ReportService
}

type Handler struct {
	auth     *usecase.AuthService
	tenants  *usecase.TenantService
	records  *usecase.RecordService
	schemas  *usecase.SchemaService
	reports  *usecase.ReportService
	guard    tenancy.Guard
	gatherer prometheus.Gatherer
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewHandler wires the HTTP surface. A nil gatherer disables /metrics.
func NewHandler(svc Services, gatherer prometheus.Gatherer, m *metrics.Collector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:     svc.Auth,
		tenants:  svc.Tenants,
		records:  svc.Records,
		schemas:  svc.Schemas,
		reports:  svc.Reports,
		gatherer: gatherer,
		metrics:  m,
		logger:   logger.Named("http"),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Get("/v1/me", h.me)

		pr.Post("/v1/tenants", h.createTenant)
		pr.Get("/v1/tenants/stats", h.tenantStats)
		pr.Get("/v1/tenants/{tenantID}", h.getTenant)
		pr.Post("/v1/tenants/{tenantID}/provision", h.provisionTenant)

		pr.Group(func(sr chi.Router) {
			sr.Use(h.selectTenant)
			sr.Get("/v1/tenants", h.listTenants)
			sr.Get("/v1/reports/collections/{collection}/count", h.countRecords)

			sr.Group(func(tr chi.Router) {
				tr.Use(h.requireProvisioned)
				tr.Get("/v1/collections/{collection}/records", h.listRecords)
				tr.Put("/v1/collections/{collection}/records/{id}", h.upsertRecord)
				tr.Get("/v1/collections/{collection}/records/{id}", h.getRecord)
				tr.Delete("/v1/collections/{collection}/records/{id}", h.deleteRecord)
				tr.Post("/v1/collections/{collection}/records:bulk-upsert", h.bulkUpsertRecords)

				tr.Put("/v1/collections/{collection}/schema", h.putSchema)
				tr.Get("/v1/collections/{collection}/schema", h.getSchema)
				tr.Delete("/v1/collections/{collection}/schema", h.deleteSchema)
			})
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// statusFor maps domain errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	var sv *domain.ErrSchemaViolation
	switch {
	case errors.As(err, &sv):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrInvalidCategory),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidSchema):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTenantNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTenantNotProvisioned):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var sv *domain.ErrSchemaViolation
	if errors.As(err, &sv) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "schema validation failed",
			"errors": sv.Errors,
		})
		return
	}

	status := statusFor(err)
	switch {
	case status != http.StatusInternalServerError:
		writeError(w, status, err.Error())
	case errors.Is(err, domain.ErrProvisioningFailure):
		h.logger.Error("provisioning failed", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
		writeError(w, status, domain.ErrProvisioningFailure.Error())
	default:
		h.logger.Error("request failed", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
		writeError(w, status, "internal server error")
	}
}
