// Package incidents provides the incident reporting workflow: creation
// with sequential numbering, the status lifecycle, comments and the
// filtered incident list.
package incidents

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridianrisk/incident-ledger/internal/domain"
	"github.com/meridianrisk/incident-ledger/internal/pkg/httputil"
)

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the incidents module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Get("/{id}", h.GetIncident)
		r.Put("/{id}/status", h.ChangeStatus)
		r.Get("/{id}/comments", h.ListComments)
		r.Post("/{id}/comments", h.AddComment)
	})
}

// PersonRequest names one person linked to an incident.
type PersonRequest struct {
	PersonID string `json:"personId" validate:"required,uuid"`
	Role     string `json:"role" validate:"omitempty,oneof=involved witness other"`
}

// CreateIncidentRequest represents the request body for reporting an incident.
type CreateIncidentRequest struct {
	DepartmentID        string          `json:"departmentId" validate:"required,uuid"`
	TeamID              *string         `json:"teamId" validate:"omitempty,uuid"`
	IncidentTypeID      *string         `json:"incidentTypeId" validate:"omitempty,uuid"`
	OccurredAt          time.Time       `json:"occurredAt" validate:"required"`
	Category            string          `json:"category" validate:"required,oneof=near_miss behavioural_issue process_gap other"`
	Severity            string          `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Description         string          `json:"description" validate:"required"`
	PrivacyFlag         bool            `json:"privacyFlag"`
	AssociatedTeams     []string        `json:"associatedTeams" validate:"omitempty,dive,uuid"`
	AssociatedProcesses []string        `json:"associatedProcesses" validate:"omitempty,dive,uuid"`
	AssociatedPersons   []PersonRequest `json:"associatedPersons" validate:"omitempty,dive"`
}

// ChangeStatusRequest represents the request body for a status transition.
type ChangeStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=open in_review closed"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// AddCommentRequest represents the request body for creating a comment.
type AddCommentRequest struct {
	Body       string  `json:"body" validate:"required"`
	ParentID   *string `json:"parentId" validate:"omitempty,uuid"`
	Visibility string  `json:"visibility" validate:"omitempty,oneof=public private"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	actorID := httputil.ActorID(r.Context())
	if actorID == "" {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := CreateIncidentInput{
		ReporterID:     actorID,
		DepartmentID:   req.DepartmentID,
		TeamID:         req.TeamID,
		IncidentTypeID: req.IncidentTypeID,
		OccurredAt:     req.OccurredAt,
		Category:       domain.Category(req.Category),
		Severity:       domain.Severity(req.Severity),
		Description:    req.Description,
		PrivacyFlag:    req.PrivacyFlag,
		TeamIDs:        req.AssociatedTeams,
		ProcessIDs:     req.AssociatedProcesses,
	}
	for _, p := range req.AssociatedPersons {
		input.Persons = append(input.Persons, PersonInput{
			PersonID: p.PersonID,
			Role:     domain.PersonRole(p.Role),
		})
	}

	incident, err := h.service.CreateIncident(r.Context(), input, actorID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, map[string]any{
		"id":             incident.ID,
		"incidentNumber": incident.IncidentNumber,
		"currentStatus":  incident.CurrentStatus,
		"createdAt":      incident.CreatedAt,
	})
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail, err := h.service.GetDetail(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter, page, pageSize, err := parseListQuery(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.List(r.Context(), filter, page, pageSize)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ChangeStatus handles PUT /incidents/{id}/status request.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actorID := httputil.ActorID(r.Context())
	if actorID == "" {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.ChangeStatus(r.Context(), ChangeStatusInput{
		IncidentID: chi.URLParam(r, "id"),
		ToStatus:   domain.Status(req.Status),
		Reason:     req.Reason,
	}, actorID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"fromStatus": result.FromStatus,
		"toStatus":   result.ToStatus,
	})
}

// AddComment handles POST /incidents/{id}/comments request.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	actorID := httputil.ActorID(r.Context())
	if actorID == "" {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	comment, err := h.service.AddComment(r.Context(), AddCommentInput{
		IncidentID: chi.URLParam(r, "id"),
		ParentID:   req.ParentID,
		Body:       req.Body,
		Visibility: domain.Visibility(req.Visibility),
	}, actorID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, comment)
}

// ListComments handles GET /incidents/{id}/comments request.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if comments == nil {
		comments = []*domain.Comment{}
	}

	httputil.JSON(w, http.StatusOK, map[string]any{"data": comments})
}

// parseListQuery extracts filter, sort and pagination parameters from the
// list query string.
func parseListQuery(r *http.Request) (ListFilter, int, int, error) {
	q := r.URL.Query()
	filter := ListFilter{
		Search:    q.Get("search"),
		SortBy:    SortField(q.Get("sortBy")),
		SortOrder: SortOrder(q.Get("sortOrder")),
	}

	if v := q.Get("status"); v != "" {
		s := domain.Status(v)
		filter.Status = &s
	}
	if v := q.Get("category"); v != "" {
		c := domain.Category(v)
		filter.Category = &c
	}
	if v := q.Get("severity"); v != "" {
		s := domain.Severity(v)
		filter.Severity = &s
	}
	if v := q.Get("departmentId"); v != "" {
		filter.DepartmentID = &v
	}
	if v := q.Get("teamId"); v != "" {
		filter.TeamID = &v
	}
	if v := q.Get("reporterId"); v != "" {
		filter.ReporterID = &v
	}

	var err error
	if filter.FromDate, err = parseDateParam(q.Get("fromDate")); err != nil {
		return filter, 0, 0, errors.New("invalid fromDate")
	}
	if filter.ToDate, err = parseDateParam(q.Get("toDate")); err != nil {
		return filter, 0, 0, errors.New("invalid toDate")
	}

	page := 1
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return filter, 0, 0, errors.New("invalid page")
		}
	}
	pageSize := DefaultPageSize
	if v := q.Get("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 {
			return filter, 0, 0, errors.New("invalid pageSize")
		}
	}

	return filter, page, pageSize, nil
}

// parseDateParam accepts RFC 3339 timestamps or bare dates.
func parseDateParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	err = mapPgError(err)
	switch {
	case errors.Is(err, ErrIncidentNotFound),
		errors.Is(err, ErrRelatedNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidSeverity),
		errors.Is(err, ErrInvalidVisibility),
		errors.Is(err, ErrInvalidPersonRole),
		errors.Is(err, ErrInvalidSort),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrOccurredInFuture),
		errors.Is(err, ErrDescriptionLength),
		errors.Is(err, ErrReasonTooLong),
		errors.Is(err, ErrCommentBodyLength),
		errors.Is(err, ErrParentCommentInvalid):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
