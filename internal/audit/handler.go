package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/meridianrisk/incident-ledger/internal/domain"
	"github.com/meridianrisk/incident-ledger/internal/pkg/httputil"
)

// Pagination constants.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Handler handles HTTP requests for the audit log.
type Handler struct {
	service *Service
}

// NewHandler creates a new audit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers audit routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.List)
}

// List handles GET /audit request.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{Limit: DefaultListLimit}

	if v := r.URL.Query().Get("entityType"); v != "" {
		entityType := domain.AuditEntityType(v)
		filter.EntityType = &entityType
	}
	if v := r.URL.Query().Get("entityId"); v != "" {
		filter.EntityID = &v
	}
	if v := r.URL.Query().Get("userId"); v != "" {
		filter.UserID = &v
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > MaxListLimit {
			parsed = MaxListLimit
		}
		filter.Limit = parsed
	}

	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{"data": entries})
}
