package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/session"
)

// SyncHandler exposes queue state and drain controls.
type SyncHandler struct {
	session *session.Session
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(s *session.Session) *SyncHandler {
	return &SyncHandler{session: s}
}

// Register mounts the sync routes on mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sync/status", h.GetStatus)
	mux.HandleFunc("GET /api/sync/pending", h.ListPending)
	mux.HandleFunc("POST /api/sync/now", h.TriggerSync)
	mux.HandleFunc("POST /api/sync/connectivity", h.SetConnectivity)
}

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// ListPending handles GET /api/sync/pending
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	q := h.session.Queue()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": q.List(),
		"stats": q.Stats(),
	})
}

// TriggerSync handles POST /api/sync/now
// Runs a drain pass and returns its report.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	report := h.session.SyncNow(r.Context())
	logging.Info("Manual sync requested", map[string]interface{}{
		"status":    string(report.Status),
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
	writeJSON(w, http.StatusOK, report)
}

// SetConnectivity handles POST /api/sync/connectivity
// Lets the shell forward platform online/offline signals.
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}
	h.session.Monitor().SetOnline(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": h.session.Monitor().Online()})
}
