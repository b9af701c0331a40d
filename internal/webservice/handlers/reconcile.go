package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/azcx/imagehost/internal/reconcile"
)

// auditSource labels audits triggered through the HTTP API, as opposed to
// scheduled invocations.
const auditSource = "web-app"

// Reconcile is a handler triggering a consistency audit between the metadata
// catalog and the blob store.
type Reconcile struct {
	auditor Auditor
}

// NewReconcile creates a new Reconcile handler.
func NewReconcile(auditor Auditor) *Reconcile {
	return &Reconcile{auditor: auditor}
}

// ServeHTTP handles incoming HTTP requests to run a consistency audit.
// The report is returned synchronously; there is no partial result on failure.
func (h *Reconcile) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditor.Audit(r.Context(), auditSource)
	if err != nil {
		if errors.Is(err, reconcile.ErrStoreUnavailable) {
			http.Error(w, "A backing store is unavailable, audit aborted", http.StatusServiceUnavailable)
			slog.Error("Audit aborted, store unavailable", "err", err)
			return
		}
		http.Error(w, "Error running audit", http.StatusInternalServerError)
		slog.Error("Error running audit", "err", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Error("Error encoding audit report", "err", err)
	}
}
