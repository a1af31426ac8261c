// Package directory serves the organisational reference data incidents
// are classified against: departments, teams, processes, incident types
// and the people picker.
package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridianrisk/incident-ledger/internal/domain"
)

// Service errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrNameExists   = errors.New("an entry with this name already exists")
	ErrNameRequired = errors.New("name is required")
	ErrNameTooLong  = errors.New("name cannot exceed 255 characters")
	ErrInvalidID    = errors.New("invalid identifier")
)

// UserFilter narrows the people picker search.
type UserFilter struct {
	Query        string
	DepartmentID *string
	Limit        int
}

// Repository defines the interface for reference data storage.
type Repository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	ListDepartments(ctx context.Context) ([]*domain.Department, error)
	ListTeams(ctx context.Context, departmentID *string) ([]*domain.Team, error)
	ListProcesses(ctx context.Context) ([]*domain.Process, error)
	ListIncidentTypes(ctx context.Context) ([]*domain.IncidentType, error)

	SearchUsers(ctx context.Context, filter UserFilter) ([]*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)

	CreateIncidentTypeTx(ctx context.Context, tx pgx.Tx, incidentType *domain.IncidentType) error
}
