package directory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridianrisk/incident-ledger/internal/pkg/httputil"
)

// Handler handles HTTP requests for the directory module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new directory handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the directory module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/departments", h.ListDepartments)
	r.Get("/teams", h.ListTeams)
	r.Get("/processes", h.ListProcesses)
	r.Get("/incident-types", h.ListIncidentTypes)
	r.Post("/incident-types", h.CreateIncidentType)
	r.Get("/users", h.SearchUsers)
	r.Get("/users/{id}", h.GetUser)
}

// CreateIncidentTypeRequest represents the request body for adding an incident type.
type CreateIncidentTypeRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// ListDepartments handles GET /departments request.
func (h *Handler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.service.ListDepartments(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, departments)
}

// ListTeams handles GET /teams request.
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	var departmentID *string
	if v := r.URL.Query().Get("departmentId"); v != "" {
		departmentID = &v
	}

	teams, err := h.service.ListTeams(r.Context(), departmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, teams)
}

// ListProcesses handles GET /processes request.
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := h.service.ListProcesses(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, processes)
}

// ListIncidentTypes handles GET /incident-types request.
func (h *Handler) ListIncidentTypes(w http.ResponseWriter, r *http.Request) {
	incidentTypes, err := h.service.ListIncidentTypes(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, incidentTypes)
}

// CreateIncidentType handles POST /incident-types request.
func (h *Handler) CreateIncidentType(w http.ResponseWriter, r *http.Request) {
	actorID := httputil.ActorID(r.Context())
	if actorID == "" {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateIncidentTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incidentType, err := h.service.CreateIncidentType(r.Context(), req.Name, req.Description, actorID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, incidentType)
}

// SearchUsers handles GET /users request.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := UserFilter{Query: q.Get("q")}
	if v := q.Get("departmentId"); v != "" {
		filter.DepartmentID = &v
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	users, err := h.service.SearchUsers(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, users)
}

// GetUser handles GET /users/{id} request.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	err = mapPgError(err)
	switch {
	case errors.Is(err, ErrUserNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNameExists):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrNameTooLong),
		errors.Is(err, ErrInvalidID):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
