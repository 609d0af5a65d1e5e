package api

import (
	"net/http"

	"github.com/morganhq/relay/internal/store"
)

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	db *store.DB
}

func NewHealthHandler(db *store.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbStatus := "ok"
	if err := h.db.Ping(); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = err.Error()
	}
	writeJSON(w, status, map[string]string{"status": "ok", "db": dbStatus})
}
