// Package postgres provides PostgreSQL implementation of the directory repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianrisk/incident-ledger/internal/directory"
	"github.com/meridianrisk/incident-ledger/internal/domain"
)

// Repository implements directory.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// BeginTx starts a new transaction.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// ListDepartments retrieves all active departments ordered by name.
func (r *Repository) ListDepartments(ctx context.Context) ([]*domain.Department, error) {
	query := `
		SELECT id, name, code, is_active, created_at, updated_at
		FROM departments
		WHERE is_active
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	departments := make([]*domain.Department, 0)
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, &d)
	}
	return departments, rows.Err()
}

// ListTeams retrieves active teams, optionally scoped to one department.
func (r *Repository) ListTeams(ctx context.Context, departmentID *string) ([]*domain.Team, error) {
	query := `
		SELECT t.id, t.name, t.department_id, COALESCE(d.name, ''),
		       t.is_active, t.created_at, t.updated_at
		FROM teams t
		LEFT JOIN departments d ON d.id = t.department_id
		WHERE t.is_active
	`
	args := []any{}
	if departmentID != nil {
		query += " AND t.department_id = $1"
		args = append(args, *departmentID)
	}
	query += " ORDER BY t.name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]*domain.Team, 0)
	for rows.Next() {
		var t domain.Team
		err := rows.Scan(&t.ID, &t.Name, &t.DepartmentID, &t.DepartmentName,
			&t.IsActive, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, &t)
	}
	return teams, rows.Err()
}

// ListProcesses retrieves all active processes ordered by name.
func (r *Repository) ListProcesses(ctx context.Context) ([]*domain.Process, error) {
	query := `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM processes
		WHERE is_active
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	processes := make([]*domain.Process, 0)
	for rows.Next() {
		var p domain.Process
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		processes = append(processes, &p)
	}
	return processes, rows.Err()
}

// ListIncidentTypes retrieves all active incident types ordered by name.
func (r *Repository) ListIncidentTypes(ctx context.Context) ([]*domain.IncidentType, error) {
	query := `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM incident_types
		WHERE is_active
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list incident types: %w", err)
	}
	defer rows.Close()

	incidentTypes := make([]*domain.IncidentType, 0)
	for rows.Next() {
		var it domain.IncidentType
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan incident type: %w", err)
		}
		incidentTypes = append(incidentTypes, &it)
	}
	return incidentTypes, rows.Err()
}

const userColumns = `
	u.id, u.email, u.display_name, u.department_id, COALESCE(d.name, ''),
	u.team_id, COALESCE(t.name, ''), u.role, u.is_active, u.created_at, u.updated_at
`

const userJoins = `
	LEFT JOIN departments d ON d.id = u.department_id
	LEFT JOIN teams t ON t.id = u.team_id
`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.DepartmentID,
		&u.DepartmentName,
		&u.TeamID,
		&u.TeamName,
		&u.Role,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers finds active users matching the filter, ordered by name.
func (r *Repository) SearchUsers(ctx context.Context, filter directory.UserFilter) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u` + userJoins + ` WHERE u.is_active`
	args := []any{}

	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		query += fmt.Sprintf(" AND (u.display_name ILIKE $%d OR u.email ILIKE $%d)", len(args), len(args))
	}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		query += fmt.Sprintf(" AND u.department_id = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY u.display_name LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u` + userJoins + ` WHERE u.id = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateIncidentTypeTx inserts a new incident type within tx.
func (r *Repository) CreateIncidentTypeTx(ctx context.Context, tx pgx.Tx, incidentType *domain.IncidentType) error {
	query := `
		INSERT INTO incident_types (id, name, description, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		incidentType.ID,
		incidentType.Name,
		incidentType.Description,
		incidentType.IsActive,
	).Scan(&incidentType.CreatedAt, &incidentType.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create incident type: %w", err)
	}
	return nil
}
