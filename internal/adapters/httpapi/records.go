package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
)

type recordResponse struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type schemaResponse struct {
	Collection string          `json:"collection"`
	Schema     json.RawMessage `json:"schema"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type bulkUpsertRequest struct {
	Items []usecase.BulkUpsertItem `json:"items"`
}

func toRecordResponse(rec domain.Record) recordResponse {
	return recordResponse{
		ID:         rec.ID,
		Collection: rec.Collection,
		Data:       rec.Data,
		CreatedAt:  rec.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:  rec.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toRecordResponses(records []domain.Record) []recordResponse {
	result := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		result = append(result, toRecordResponse(rec))
	}
	return result
}

func (h *Handler) upsertRecord(w http.ResponseWriter, r *http.Request) {
	var data json.RawMessage
	if !decodeBody(w, r, &data, false) {
		return
	}

	rec, err := h.records.Upsert(r.Context(), domain.Record{
		Collection: chi.URLParam(r, "collection"),
		ID:         chi.URLParam(r, "id"),
		Data:       data,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.records.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.records.List(r.Context(), chi.URLParam(r, "collection"), domain.RecordListFilter{
		Prefix: r.URL.Query().Get("prefix"),
		After:  r.URL.Query().Get("after"),
		Limit:  limit,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toRecordResponses(records)})
}

func (h *Handler) bulkUpsertRecords(w http.ResponseWriter, r *http.Request) {
	var req bulkUpsertRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	records, err := h.records.BulkUpsert(r.Context(), chi.URLParam(r, "collection"), req.Items)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toRecordResponses(records)})
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	var schema json.RawMessage
	if !decodeBody(w, r, &schema, false) {
		return
	}

	saved, err := h.schemas.Upsert(r.Context(), chi.URLParam(r, "collection"), schema)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(saved))
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.schemas.Get(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSchemaResponse(schema))
}

func (h *Handler) deleteSchema(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.schemas.Delete(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func toSchemaResponse(s domain.CollectionSchema) schemaResponse {
	return schemaResponse{
		Collection: s.Collection,
		Schema:     s.Schema,
		CreatedAt:  s.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:  s.UpdatedAt.UTC().Format(timeFormat),
	}
}
