// Package handlers provides REST API handlers for the desktop server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/ledgerdesk/backend/internal/client"
	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
)

// RecordHandler exposes the offline-first client for any resource
// collection (companies, portfolios, payments...).
type RecordHandler struct {
	client *client.Client
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(c *client.Client) *RecordHandler {
	return &RecordHandler{client: c}
}

// Register mounts the record routes on mux.
func (h *RecordHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/records/{resource}", h.ListRecords)
	mux.HandleFunc("POST /api/records/{resource}", h.CreateRecord)
	mux.HandleFunc("PATCH /api/records/{resource}/{id}", h.UpdateRecord)
	mux.HandleFunc("DELETE /api/records/{resource}/{id}", h.DeleteRecord)
	mux.HandleFunc("POST /api/records/{resource}/{id}/status", h.ChangeStatus)
}

// ListRecords handles GET /api/records/{resource}
func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	records, err := h.client.ReadCollection(r.Context(), resource)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"total": len(records),
	})
}

// CreateRecord handles POST /api/records/{resource}
// The ?kind= query selects upload or payment semantics.
func (h *RecordHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	resource := r.PathValue("resource")
	var created models.Record
	var err error
	switch r.URL.Query().Get("kind") {
	case "upload":
		created, err = h.client.Upload(r.Context(), resource, rec)
	case "payment":
		created, err = h.client.RecordPayment(r.Context(), resource, rec)
	case "":
		created, err = h.client.Create(r.Context(), resource, rec)
	default:
		http.Error(w, "kind must be upload or payment", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRecord handles PATCH /api/records/{resource}/{id}
func (h *RecordHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	updated, err := h.client.Update(r.Context(), r.PathValue("resource"), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRecord handles DELETE /api/records/{resource}/{id}
func (h *RecordHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Delete(r.Context(), r.PathValue("resource"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeStatus handles POST /api/records/{resource}/{id}/status
func (h *RecordHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	updated, err := h.client.ChangeStatus(r.Context(), r.PathValue("resource"), r.PathValue("id"), request.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (models.Record, bool) {
	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return rec, true
}

// =====================================================
// Response helpers
// =====================================================

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps an error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	code := errors.CodeOf(err)
	switch code {
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrInvalid:
		status = http.StatusBadRequest
	case errors.ErrPermission:
		status = http.StatusForbidden
	case errors.ErrPermanent:
		status = http.StatusUnprocessableEntity
	case errors.ErrRateLimited:
		status = http.StatusTooManyRequests
	case errors.ErrStorage, errors.ErrInternal:
		status = http.StatusInternalServerError
	}
	if code == "" {
		code = errors.Classify(err)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}
