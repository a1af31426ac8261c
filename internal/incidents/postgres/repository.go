// Package postgres provides PostgreSQL implementation of the incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianrisk/incident-ledger/internal/domain"
	"github.com/meridianrisk/incident-ledger/internal/incidents"
)

// sortColumns maps the whitelisted sort fields to their SQL expressions.
var sortColumns = map[incidents.SortField]string{
	incidents.SortByOccurredAt:     "i.occurred_at",
	incidents.SortByReportedAt:     "i.reported_at",
	incidents.SortBySeverity:       "i.severity",
	incidents.SortByStatus:         "i.current_status",
	incidents.SortByIncidentNumber: "i.incident_number",
}

// Repository implements incidents.Repository using PostgreSQL.
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

// MaxSequenceTx returns the highest allocated sequence for numbers with
// the given prefix. Lexicographic DESC order matches numeric order because
// the sequence is zero-padded to a fixed width.
func (r *Repository) MaxSequenceTx(ctx context.Context, tx pgx.Tx, prefix string) (int, error) {
	query := `
		SELECT incident_number
		FROM incidents
		WHERE incident_number LIKE $1 || '%'
		ORDER BY incident_number DESC
		LIMIT 1
	`
	var number string
	err := tx.QueryRow(ctx, query, prefix).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query max number: %w", err)
	}

	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil {
		return 0, fmt.Errorf("malformed incident number %q: %w", number, err)
	}
	return seq, nil
}

// CreateIncidentTx inserts a new incident within tx.
func (r *Repository) CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			id, incident_number, reporter_id, department_id, team_id,
			incident_type_id, occurred_at, reported_at, category, severity,
			description, privacy_flag, current_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		incident.ID,
		incident.IncidentNumber,
		incident.ReporterID,
		incident.DepartmentID,
		incident.TeamID,
		incident.IncidentTypeID,
		incident.OccurredAt,
		incident.ReportedAt,
		incident.Category,
		incident.Severity,
		incident.Description,
		incident.PrivacyFlag,
		incident.CurrentStatus,
	).Scan(&incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// CreateTeamLinkTx associates a team with an incident within tx.
func (r *Repository) CreateTeamLinkTx(ctx context.Context, tx pgx.Tx, incidentID, teamID string) error {
	query := `
		INSERT INTO incident_teams (incident_id, team_id)
		VALUES ($1, $2)
	`
	if _, err := tx.Exec(ctx, query, incidentID, teamID); err != nil {
		return fmt.Errorf("create team link: %w", err)
	}
	return nil
}

// CreateProcessLinkTx associates a process with an incident within tx.
func (r *Repository) CreateProcessLinkTx(ctx context.Context, tx pgx.Tx, incidentID, processID string) error {
	query := `
		INSERT INTO incident_processes (incident_id, process_id)
		VALUES ($1, $2)
	`
	if _, err := tx.Exec(ctx, query, incidentID, processID); err != nil {
		return fmt.Errorf("create process link: %w", err)
	}
	return nil
}

// CreatePersonLinkTx associates a person with an incident within tx.
func (r *Repository) CreatePersonLinkTx(ctx context.Context, tx pgx.Tx, incidentID, personID string, role domain.PersonRole) error {
	query := `
		INSERT INTO incident_persons (incident_id, person_id, role)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query, incidentID, personID, role); err != nil {
		return fmt.Errorf("create person link: %w", err)
	}
	return nil
}

// CreateStatusHistoryTx appends a status history entry within tx.
func (r *Repository) CreateStatusHistoryTx(ctx context.Context, tx pgx.Tx, entry *domain.StatusHistoryEntry) error {
	query := `
		INSERT INTO status_history (id, incident_id, from_status, to_status, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING changed_at
	`
	err := tx.QueryRow(ctx, query,
		entry.ID,
		entry.IncidentID,
		entry.FromStatus,
		entry.ToStatus,
		entry.ChangedBy,
		entry.Reason,
	).Scan(&entry.ChangedAt)

	if err != nil {
		return fmt.Errorf("create status history: %w", err)
	}
	return nil
}

const incidentColumns = `
	i.id, i.incident_number, i.reporter_id, i.department_id, i.team_id,
	i.incident_type_id, i.occurred_at, i.reported_at, i.category, i.severity,
	i.description, i.privacy_flag, i.current_status, i.created_at, i.updated_at
`

func scanIncident(row pgx.Row, incident *domain.Incident) error {
	return row.Scan(
		&incident.ID,
		&incident.IncidentNumber,
		&incident.ReporterID,
		&incident.DepartmentID,
		&incident.TeamID,
		&incident.IncidentTypeID,
		&incident.OccurredAt,
		&incident.ReportedAt,
		&incident.Category,
		&incident.Severity,
		&incident.Description,
		&incident.PrivacyFlag,
		&incident.CurrentStatus,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i WHERE i.id = $1`

	var incident domain.Incident
	if err := scanIncident(r.db.QueryRow(ctx, query, id), &incident); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return &incident, nil
}

// IncidentExists reports whether the incident exists.
func (r *Repository) IncidentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check incident exists: %w", err)
	}
	return exists, nil
}

// UpdateStatusTx applies a status change guarded by the expected current
// status. Returns false when no row matched, meaning a concurrent
// transition replaced the status first.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, from, to domain.Status) (bool, error) {
	query := `
		UPDATE incidents
		SET current_status = $3, updated_at = NOW()
		WHERE id = $1 AND current_status = $2
	`
	tag, err := tx.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const summaryJoins = `
	LEFT JOIN users u ON u.id = i.reporter_id
	LEFT JOIN departments d ON d.id = i.department_id
	LEFT JOIN teams t ON t.id = i.team_id
	LEFT JOIN incident_types it ON it.id = i.incident_type_id
`

const summaryColumns = incidentColumns + `,
	u.display_name, u.email, d.name, t.name, it.name
`

func scanSummary(rows pgx.Rows) (*incidents.Summary, error) {
	var s incidents.Summary
	var reporterName, reporterEmail, departmentName, teamName, typeName *string
	err := rows.Scan(
		&s.ID,
		&s.IncidentNumber,
		&s.ReporterID,
		&s.DepartmentID,
		&s.TeamID,
		&s.IncidentTypeID,
		&s.OccurredAt,
		&s.ReportedAt,
		&s.Category,
		&s.Severity,
		&s.Description,
		&s.PrivacyFlag,
		&s.CurrentStatus,
		&s.CreatedAt,
		&s.UpdatedAt,
		&reporterName,
		&reporterEmail,
		&departmentName,
		&teamName,
		&typeName,
	)
	if err != nil {
		return nil, err
	}

	if reporterName != nil {
		ref := &incidents.UserRef{ID: s.ReporterID, DisplayName: *reporterName}
		if reporterEmail != nil {
			ref.Email = *reporterEmail
		}
		s.Reporter = ref
	}
	if departmentName != nil {
		s.Department = &incidents.NameRef{ID: s.DepartmentID, Name: *departmentName}
	}
	if teamName != nil && s.TeamID != nil {
		s.Team = &incidents.NameRef{ID: *s.TeamID, Name: *teamName}
	}
	if typeName != nil && s.IncidentTypeID != nil {
		s.IncidentType = &incidents.NameRef{ID: *s.IncidentTypeID, Name: *typeName}
	}
	return &s, nil
}

// buildFilterClause appends WHERE conditions for the filter to the args
// slice and returns the SQL fragment.
func buildFilterClause(filter incidents.ListFilter, args *[]any) string {
	var sb strings.Builder
	sb.WriteString(" WHERE 1=1")

	add := func(clause string, value any) {
		*args = append(*args, value)
		fmt.Fprintf(&sb, " AND "+clause, len(*args))
	}

	if filter.Status != nil {
		add("i.current_status = $%d", *filter.Status)
	}
	if filter.Category != nil {
		add("i.category = $%d", *filter.Category)
	}
	if filter.Severity != nil {
		add("i.severity = $%d", *filter.Severity)
	}
	if filter.DepartmentID != nil {
		add("i.department_id = $%d", *filter.DepartmentID)
	}
	if filter.TeamID != nil {
		add("i.team_id = $%d", *filter.TeamID)
	}
	if filter.ReporterID != nil {
		add("i.reporter_id = $%d", *filter.ReporterID)
	}
	if filter.FromDate != nil {
		add("i.occurred_at >= $%d", *filter.FromDate)
	}
	if filter.ToDate != nil {
		add("i.occurred_at <= $%d", *filter.ToDate)
	}
	if filter.Search != "" {
		*args = append(*args, "%"+filter.Search+"%")
		n := len(*args)
		fmt.Fprintf(&sb, " AND (i.description ILIKE $%d OR i.incident_number ILIKE $%d)", n, n)
	}

	return sb.String()
}

// List retrieves a page of incident summaries matching the filter.
func (r *Repository) List(ctx context.Context, filter incidents.ListFilter) ([]*incidents.Summary, error) {
	args := []any{}
	query := `SELECT ` + summaryColumns + ` FROM incidents i` + summaryJoins + buildFilterClause(filter, &args)

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		return nil, fmt.Errorf("unsupported sort field: %s", filter.SortBy)
	}
	direction := "DESC"
	if filter.SortOrder == incidents.SortAsc {
		direction = "ASC"
	}
	// Secondary sort by id keeps pagination stable across equal keys.
	query += fmt.Sprintf(" ORDER BY %s %s, i.id %s", column, direction, direction)

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	summaries := make([]*incidents.Summary, 0)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Count returns the number of incidents matching the filter.
func (r *Repository) Count(ctx context.Context, filter incidents.ListFilter) (int, error) {
	args := []any{}
	query := `SELECT COUNT(*) FROM incidents i` + buildFilterClause(filter, &args)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return count, nil
}

// GetDetail retrieves an incident with denormalized names, associations,
// comments and full status history.
func (r *Repository) GetDetail(ctx context.Context, id string) (*incidents.Detail, error) {
	query := `SELECT ` + summaryColumns + ` FROM incidents i` + summaryJoins + ` WHERE i.id = $1`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get incident: %w", err)
		}
		return nil, incidents.ErrIncidentNotFound
	}
	summary, err := scanSummary(rows)
	if err != nil {
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	rows.Close()

	detail := &incidents.Detail{Summary: *summary}

	if detail.AssociatedTeams, err = r.listTeamLinks(ctx, id); err != nil {
		return nil, err
	}
	if detail.AssociatedProcesses, err = r.listProcessLinks(ctx, id); err != nil {
		return nil, err
	}
	if detail.AssociatedPersons, err = r.listPersonLinks(ctx, id); err != nil {
		return nil, err
	}
	if detail.Comments, err = r.ListComments(ctx, id); err != nil {
		return nil, err
	}
	if detail.StatusHistory, err = r.listStatusHistory(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

func (r *Repository) listTeamLinks(ctx context.Context, incidentID string) ([]domain.TeamLink, error) {
	query := `
		SELECT il.id, il.team_id, t.name, il.created_at
		FROM incident_teams il
		JOIN teams t ON t.id = il.team_id
		WHERE il.incident_id = $1
		ORDER BY il.created_at, il.id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list team links: %w", err)
	}
	defer rows.Close()

	links := make([]domain.TeamLink, 0)
	for rows.Next() {
		var link domain.TeamLink
		if err := rows.Scan(&link.ID, &link.TeamID, &link.TeamName, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (r *Repository) listProcessLinks(ctx context.Context, incidentID string) ([]domain.ProcessLink, error) {
	query := `
		SELECT il.id, il.process_id, p.name, il.created_at
		FROM incident_processes il
		JOIN processes p ON p.id = il.process_id
		WHERE il.incident_id = $1
		ORDER BY il.created_at, il.id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list process links: %w", err)
	}
	defer rows.Close()

	links := make([]domain.ProcessLink, 0)
	for rows.Next() {
		var link domain.ProcessLink
		if err := rows.Scan(&link.ID, &link.ProcessID, &link.ProcessName, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan process link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (r *Repository) listPersonLinks(ctx context.Context, incidentID string) ([]domain.PersonLink, error) {
	query := `
		SELECT il.id, il.person_id, u.display_name, il.role, il.created_at
		FROM incident_persons il
		JOIN users u ON u.id = il.person_id
		WHERE il.incident_id = $1
		ORDER BY il.created_at, il.id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list person links: %w", err)
	}
	defer rows.Close()

	links := make([]domain.PersonLink, 0)
	for rows.Next() {
		var link domain.PersonLink
		if err := rows.Scan(&link.ID, &link.PersonID, &link.PersonName, &link.Role, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (r *Repository) listStatusHistory(ctx context.Context, incidentID string) ([]*domain.StatusHistoryEntry, error) {
	query := `
		SELECT h.id, h.incident_id, h.from_status, h.to_status,
		       h.changed_by, COALESCE(u.display_name, ''), h.reason, h.changed_at
		FROM status_history h
		LEFT JOIN users u ON u.id = h.changed_by
		WHERE h.incident_id = $1
		ORDER BY h.changed_at, h.id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.StatusHistoryEntry, 0)
	for rows.Next() {
		var entry domain.StatusHistoryEntry
		err := rows.Scan(
			&entry.ID,
			&entry.IncidentID,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.ChangedBy,
			&entry.ChangerName,
			&entry.Reason,
			&entry.ChangedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CreateCommentTx inserts a comment within tx.
func (r *Repository) CreateCommentTx(ctx context.Context, tx pgx.Tx, comment *domain.Comment) error {
	query := `
		INSERT INTO comments (id, incident_id, author_id, parent_id, body, visibility)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRow(ctx, query,
		comment.ID,
		comment.IncidentID,
		comment.AuthorID,
		comment.ParentID,
		comment.Body,
		comment.Visibility,
	).Scan(&comment.CreatedAt, &comment.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetComment retrieves a comment by ID.
func (r *Repository) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	query := `
		SELECT c.id, c.incident_id, c.author_id, COALESCE(u.display_name, ''),
		       c.parent_id, c.body, c.visibility, c.created_at, c.updated_at
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id = $1
	`
	var comment domain.Comment
	err := r.db.QueryRow(ctx, query, id).Scan(
		&comment.ID,
		&comment.IncidentID,
		&comment.AuthorID,
		&comment.AuthorName,
		&comment.ParentID,
		&comment.Body,
		&comment.Visibility,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrCommentNotFound
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &comment, nil
}

// ListComments retrieves all comments on an incident in creation order.
func (r *Repository) ListComments(ctx context.Context, incidentID string) ([]*domain.Comment, error) {
	query := `
		SELECT c.id, c.incident_id, c.author_id, COALESCE(u.display_name, ''),
		       c.parent_id, c.body, c.visibility, c.created_at, c.updated_at
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.incident_id = $1
		ORDER BY c.created_at, c.id
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]*domain.Comment, 0)
	for rows.Next() {
		var comment domain.Comment
		err := rows.Scan(
			&comment.ID,
			&comment.IncidentID,
			&comment.AuthorID,
			&comment.AuthorName,
			&comment.ParentID,
			&comment.Body,
			&comment.Visibility,
			&comment.CreatedAt,
			&comment.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, &comment)
	}
	return comments, rows.Err()
}
