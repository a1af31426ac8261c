package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridianrisk/incident-ledger/internal/domain"
)

const (
	// DefaultUserSearchLimit and MaxUserSearchLimit bound the people picker.
	DefaultUserSearchLimit = 20
	MaxUserSearchLimit     = 100

	nameMaxLen = 255

	uniqueViolation           = "23505"
	foreignKeyViolation       = "23503"
	invalidTextRepresentation = "22P02"
)

// mapPgError translates referential-integrity failures into domain errors.
// The only foreign key a directory mutation can violate is the acting
// user's.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", ErrUserNotFound, pgErr.ConstraintName)
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

// Service implements reference data business logic.
type Service struct {
	repo  Repository
	audit AuditRecorder
}

// NewService creates a new directory service.
func NewService(repo Repository, audit AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// ListDepartments retrieves all active departments.
func (s *Service) ListDepartments(ctx context.Context) ([]*domain.Department, error) {
	return s.repo.ListDepartments(ctx)
}

// ListTeams retrieves active teams, optionally scoped to one department.
func (s *Service) ListTeams(ctx context.Context, departmentID *string) ([]*domain.Team, error) {
	return s.repo.ListTeams(ctx, departmentID)
}

// ListProcesses retrieves all active processes.
func (s *Service) ListProcesses(ctx context.Context) ([]*domain.Process, error) {
	return s.repo.ListProcesses(ctx)
}

// ListIncidentTypes retrieves all active incident types.
func (s *Service) ListIncidentTypes(ctx context.Context) ([]*domain.IncidentType, error) {
	return s.repo.ListIncidentTypes(ctx)
}

// SearchUsers finds active users for the people picker.
func (s *Service) SearchUsers(ctx context.Context, filter UserFilter) ([]*domain.User, error) {
	if filter.Limit < 1 {
		filter.Limit = DefaultUserSearchLimit
	}
	if filter.Limit > MaxUserSearchLimit {
		filter.Limit = MaxUserSearchLimit
	}
	return s.repo.SearchUsers(ctx, filter)
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateIncidentType adds a new incident type with an audit record.
func (s *Service) CreateIncidentType(ctx context.Context, name, description string, actorID string) (*domain.IncidentType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if utf8.RuneCountInString(name) > nameMaxLen {
		return nil, ErrNameTooLong
	}

	incidentType := &domain.IncidentType{
		ID:       uuid.New().String(),
		Name:     name,
		IsActive: true,
	}
	if description != "" {
		incidentType.Description = &description
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

	if err := s.repo.CreateIncidentTypeTx(ctx, tx, incidentType); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrNameExists
		}
		return nil, fmt.Errorf("create incident type: %w", err)
	}

	newValues, err := json.Marshal(incidentType)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	entry := &domain.AuditEntry{
		EntityType: domain.AuditEntityIncidentType,
		EntityID:   incidentType.ID,
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
	return incidentType, nil
}
