package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/text/unicode/norm"

	"github.com/meridianrisk/incident-ledger/internal/domain"
)

const (
	// numberPrefix is the fixed prefix of every incident number.
	numberPrefix = "INC"

	// maxAllocRetries bounds the retry loops around number allocation and
	// status compare-and-swap before giving up with ErrConflict.
	maxAllocRetries = 3

	descriptionMinLen = 5
	descriptionMaxLen = 2000
	reasonMaxLen      = 500
	commentMaxLen     = 5000

	// DefaultPageSize and MaxPageSize bound list pagination.
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// SQLSTATE codes the services translate into domain errors.
const (
	// uniqueViolation is raised when two concurrent creates race for the
	// same incident number.
	uniqueViolation = "23505"
	// foreignKeyViolation is raised when a referenced department, team,
	// process, person or acting user does not exist.
	foreignKeyViolation = "23503"
	// invalidTextRepresentation is raised when a path or header value is
	// not a well-formed UUID.
	invalidTextRepresentation = "22P02"
)

// mapPgError translates referential-integrity failures into domain errors
// so callers get a not-found or validation response instead of a 500.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", ErrRelatedNotFound, pgErr.ConstraintName)
		case invalidTextRepresentation:
			return fmt.Errorf("%w: %s", ErrInvalidID, pgErr.Message)
		}
	}
	return err
}

// AuditRecorder writes audit entries inside the caller's transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
}

// Service implements incident business logic.
type Service struct {
	repo  Repository
	audit AuditRecorder
	now   func() time.Time
}

// NewService creates a new incident service.
func NewService(repo Repository, audit AuditRecorder) *Service {
	return &Service{
		repo:  repo,
		audit: audit,
		now:   time.Now,
	}
}

// CreateIncidentInput holds data for reporting a new incident.
type CreateIncidentInput struct {
	ReporterID     string
	DepartmentID   string
	TeamID         *string
	IncidentTypeID *string
	OccurredAt     time.Time
	Category       domain.Category
	Severity       domain.Severity
	Description    string
	PrivacyFlag    bool
	TeamIDs        []string
	ProcessIDs     []string
	Persons        []PersonInput
}

// PersonInput names a person linked to an incident and their role.
type PersonInput struct {
	PersonID string
	Role     domain.PersonRole
}

// ChangeStatusInput holds data for one status transition.
type ChangeStatusInput struct {
	IncidentID string
	ToStatus   domain.Status
	Reason     *string
}

// StatusChangeResult reports the transition that was applied.
type StatusChangeResult struct {
	FromStatus domain.Status
	ToStatus   domain.Status
}

// AddCommentInput holds data for creating a comment.
type AddCommentInput struct {
	IncidentID string
	ParentID   *string
	Body       string
	Visibility domain.Visibility
}

// Page is one page of incident summaries plus pagination metadata.
type Page struct {
	Data       []*Summary `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the position of a page within the full result set.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

// runeCount counts user-perceived characters after NFC normalization, so
// composed and decomposed inputs validate identically.
func runeCount(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}

// CreateIncident validates the input, allocates the next incident number
// for the current year and persists the incident together with its link
// rows, the initial status history entry and an audit record, all in one
// transaction. Number allocation retries on unique-constraint conflicts
// caused by concurrent creates.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput, actorID string) (*domain.Incident, error) {
	if !input.Category.IsValid() {
		return nil, ErrInvalidCategory
	}
	if input.Severity == "" {
		input.Severity = domain.SeverityMedium
	}
	if !input.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}
	if n := runeCount(input.Description); n < descriptionMinLen || n > descriptionMaxLen {
		return nil, ErrDescriptionLength
	}
	now := s.now().UTC()
	if input.OccurredAt.After(now) {
		return nil, ErrOccurredInFuture
	}
	for _, p := range input.Persons {
		if p.Role != "" && !p.Role.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPersonRole, p.Role)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAllocRetries; attempt++ {
		incident, err := s.createIncidentOnce(ctx, input, actorID, now)
		if err == nil {
			incidentsCreated.Inc()
			return incident, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Another create won the number; re-read the sequence and retry.
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: number allocation retries exhausted: %v", ErrConflict, lastErr)
}

func (s *Service) createIncidentOnce(ctx context.Context, input CreateIncidentInput, actorID string, now time.Time) (*domain.Incident, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	prefix := fmt.Sprintf("%s-%d-", numberPrefix, now.Year())
	seq, err := s.repo.MaxSequenceTx(ctx, tx, prefix)
	if err != nil {
		return nil, fmt.Errorf("read number sequence: %w", err)
	}

	incident := &domain.Incident{
		ID:             uuid.New().String(),
		IncidentNumber: fmt.Sprintf("%s%04d", prefix, seq+1),
		ReporterID:     input.ReporterID,
		DepartmentID:   input.DepartmentID,
		TeamID:         input.TeamID,
		IncidentTypeID: input.IncidentTypeID,
		OccurredAt:     input.OccurredAt,
		ReportedAt:     now,
		Category:       input.Category,
		Severity:       input.Severity,
		Description:    norm.NFC.String(input.Description),
		PrivacyFlag:    input.PrivacyFlag,
		CurrentStatus:  domain.StatusOpen,
	}

	if err := s.repo.CreateIncidentTx(ctx, tx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	for _, teamID := range input.TeamIDs {
		if err := s.repo.CreateTeamLinkTx(ctx, tx, incident.ID, teamID); err != nil {
			return nil, fmt.Errorf("link team %s: %w", teamID, err)
		}
	}
	for _, processID := range input.ProcessIDs {
		if err := s.repo.CreateProcessLinkTx(ctx, tx, incident.ID, processID); err != nil {
			return nil, fmt.Errorf("link process %s: %w", processID, err)
		}
	}
	for _, p := range input.Persons {
		role := p.Role
		if role == "" {
			role = domain.PersonRoleInvolved
		}
		if err := s.repo.CreatePersonLinkTx(ctx, tx, incident.ID, p.PersonID, role); err != nil {
			return nil, fmt.Errorf("link person %s: %w", p.PersonID, err)
		}
	}

	reason := "Incident created"
	history := &domain.StatusHistoryEntry{
		ID:         uuid.New().String(),
		IncidentID: incident.ID,
		FromStatus: nil,
		ToStatus:   domain.StatusOpen,
		ChangedBy:  actorID,
		Reason:     &reason,
	}
	if err := s.repo.CreateStatusHistoryTx(ctx, tx, history); err != nil {
		return nil, fmt.Errorf("create status history: %w", err)
	}

	newValues, err := json.Marshal(incident)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	entry := &domain.AuditEntry{
		EntityType: domain.AuditEntityIncident,
		EntityID:   incident.ID,
		Action:     domain.AuditActionCreate,
		UserID:     actorID,
		NewValues:  newValues,
	}
	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("record audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return incident, nil
}

// ChangeStatus applies one transition of the incident workflow. The update
// is a compare-and-swap against the status read at the start of the
// attempt; a concurrent transition invalidates the attempt and it is
// retried against the fresh status, so the recorded from-status always
// matches the row that was actually replaced.
func (s *Service) ChangeStatus(ctx context.Context, input ChangeStatusInput, actorID string) (*StatusChangeResult, error) {
	if !input.ToStatus.IsValid() {
		return nil, ErrInvalidStatus
	}
	if input.Reason != nil {
		trimmed := norm.NFC.String(*input.Reason)
		if utf8.RuneCountInString(trimmed) > reasonMaxLen {
			return nil, ErrReasonTooLong
		}
		input.Reason = &trimmed
	}

	for attempt := 0; attempt < maxAllocRetries; attempt++ {
		incident, err := s.repo.GetIncident(ctx, input.IncidentID)
		if err != nil {
			return nil, err
		}
		from := incident.CurrentStatus

		if !from.CanTransitionTo(input.ToStatus) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, input.ToStatus)
		}

		applied, err := s.changeStatusOnce(ctx, input, from, actorID)
		if err != nil {
			return nil, err
		}
		if applied {
			transitionsTotal.WithLabelValues(string(from), string(input.ToStatus)).Inc()
			return &StatusChangeResult{FromStatus: from, ToStatus: input.ToStatus}, nil
		}
		statusConflictRetries.Inc()
	}
	return nil, fmt.Errorf("%w: concurrent status change", ErrConflict)
}

func (s *Service) changeStatusOnce(ctx context.Context, input ChangeStatusInput, from domain.Status, actorID string) (bool, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	applied, err := s.repo.UpdateStatusTx(ctx, tx, input.IncidentID, from, input.ToStatus)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if !applied {
		return false, nil
	}

	fromCopy := from
	history := &domain.StatusHistoryEntry{
		ID:         uuid.New().String(),
		IncidentID: input.IncidentID,
		FromStatus: &fromCopy,
		ToStatus:   input.ToStatus,
		ChangedBy:  actorID,
		Reason:     input.Reason,
	}
	if err := s.repo.CreateStatusHistoryTx(ctx, tx, history); err != nil {
		return false, fmt.Errorf("create status history: %w", err)
	}

	oldValues, err := json.Marshal(map[string]any{"status": from})
	if err != nil {
		return false, fmt.Errorf("marshal audit values: %w", err)
	}
	newState := map[string]any{"status": input.ToStatus}
	if input.Reason != nil {
		newState["reason"] = *input.Reason
	}
	newValues, err := json.Marshal(newState)
	if err != nil {
		return false, fmt.Errorf("marshal audit values: %w", err)
	}
	entry := &domain.AuditEntry{
		EntityType: domain.AuditEntityIncident,
		EntityID:   input.IncidentID,
		Action:     domain.AuditActionStatusChange,
		UserID:     actorID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return false, fmt.Errorf("record audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// GetDetail retrieves one incident with its associations, comments and
// full status history.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	return s.repo.GetDetail(ctx, id)
}

// List retrieves a page of incidents matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter, page, pageSize int) (*Page, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if filter.Category != nil && !filter.Category.IsValid() {
		return nil, ErrInvalidCategory
	}
	if filter.Severity != nil && !filter.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if filter.SortBy == "" {
		filter.SortBy = SortByReportedAt
	}
	if !filter.SortBy.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSort, filter.SortBy)
	}
	if filter.SortOrder == "" {
		filter.SortOrder = SortDesc
	}
	if !filter.SortOrder.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSort, filter.SortOrder)
	}

	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count incidents: %w", err)
	}
	data, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	if data == nil {
		data = []*Summary{}
	}

	return &Page{
		Data: data,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
		},
	}, nil
}

// AddComment creates a comment on an incident, with an audit record.
func (s *Service) AddComment(ctx context.Context, input AddCommentInput, actorID string) (*domain.Comment, error) {
	exists, err := s.repo.IncidentExists(ctx, input.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("check incident: %w", err)
	}
	if !exists {
		return nil, ErrIncidentNotFound
	}

	body := norm.NFC.String(input.Body)
	if n := utf8.RuneCountInString(body); n < 1 || n > commentMaxLen {
		return nil, ErrCommentBodyLength
	}
	if input.Visibility == "" {
		input.Visibility = domain.VisibilityPublic
	}
	if !input.Visibility.IsValid() {
		return nil, ErrInvalidVisibility
	}
	if input.ParentID != nil {
		parent, err := s.repo.GetComment(ctx, *input.ParentID)
		if errors.Is(err, ErrCommentNotFound) {
			return nil, ErrParentCommentInvalid
		}
		if err != nil {
			return nil, fmt.Errorf("get parent comment: %w", err)
		}
		if parent.IncidentID != input.IncidentID {
			return nil, ErrParentCommentInvalid
		}
	}

	comment := &domain.Comment{
		ID:         uuid.New().String(),
		IncidentID: input.IncidentID,
		AuthorID:   actorID,
		ParentID:   input.ParentID,
		Body:       body,
		Visibility: input.Visibility,
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if err := s.repo.CreateCommentTx(ctx, tx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	newValues, err := json.Marshal(comment)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	entry := &domain.AuditEntry{
		EntityType: domain.AuditEntityComment,
		EntityID:   comment.ID,
		Action:     domain.AuditActionCreate,
		UserID:     actorID,
		NewValues:  newValues,
	}
	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("record audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	incidentsCommented.Inc()
	return comment, nil
}

// ListComments retrieves all comments on an incident in creation order.
func (s *Service) ListComments(ctx context.Context, incidentID string) ([]*domain.Comment, error) {
	exists, err := s.repo.IncidentExists(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("check incident: %w", err)
	}
	if !exists {
		return nil, ErrIncidentNotFound
	}
	return s.repo.ListComments(ctx, incidentID)
}
