package incidents

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridianrisk/incident-ledger/internal/domain"
)

// SortField is a whitelisted incident list sort key.
type SortField string

// Sort fields.
const (
	SortByOccurredAt     SortField = "occurredAt"
	SortByReportedAt     SortField = "reportedAt"
	SortBySeverity       SortField = "severity"
	SortByStatus         SortField = "status"
	SortByIncidentNumber SortField = "incidentNumber"
)

// IsValid checks if the sort field is valid.
func (f SortField) IsValid() bool {
	switch f {
	case SortByOccurredAt, SortByReportedAt, SortBySeverity, SortByStatus, SortByIncidentNumber:
		return true
	}
	return false
}

// SortOrder is the direction of an incident list sort.
type SortOrder string

// Sort orders.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// IsValid checks if the sort order is valid.
func (o SortOrder) IsValid() bool {
	return o == SortAsc || o == SortDesc
}

// ListFilter holds the Query/Filter Engine parameters. All filters compose
// with AND; Search is an OR over description and incident number.
type ListFilter struct {
	Status       *domain.Status
	Category     *domain.Category
	Severity     *domain.Severity
	DepartmentID *string
	TeamID       *string
	ReporterID   *string
	FromDate     *time.Time
	ToDate       *time.Time
	Search       string
	SortBy       SortField
	SortOrder    SortOrder
	Limit        int
	Offset       int
}

// UserRef is a denormalized user reference for list/detail responses.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// NameRef is a denormalized named-entity reference.
type NameRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Summary is an incident with denormalized display names, as returned by
// the list endpoint.
type Summary struct {
	domain.Incident
	Reporter     *UserRef `json:"reporter"`
	Department   *NameRef `json:"department"`
	Team         *NameRef `json:"team"`
	IncidentType *NameRef `json:"incidentType"`
}

// Detail is the full expansion of one incident: associations, comments,
// and the complete status history.
type Detail struct {
	Summary
	AssociatedTeams     []domain.TeamLink            `json:"associatedTeams"`
	AssociatedProcesses []domain.ProcessLink         `json:"associatedProcesses"`
	AssociatedPersons   []domain.PersonLink          `json:"associatedPersons"`
	Comments            []*domain.Comment            `json:"comments"`
	StatusHistory       []*domain.StatusHistoryEntry `json:"statusHistory"`
}

// Repository defines the interface for incident storage.
type Repository interface {
	// Transaction support
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// MaxSequenceTx returns the highest sequence among incident numbers
	// with the given prefix (e.g. "INC-2025-"), or 0 when none exist.
	MaxSequenceTx(ctx context.Context, tx pgx.Tx, prefix string) (int, error)

	CreateIncidentTx(ctx context.Context, tx pgx.Tx, incident *domain.Incident) error
	CreateTeamLinkTx(ctx context.Context, tx pgx.Tx, incidentID, teamID string) error
	CreateProcessLinkTx(ctx context.Context, tx pgx.Tx, incidentID, processID string) error
	CreatePersonLinkTx(ctx context.Context, tx pgx.Tx, incidentID, personID string, role domain.PersonRole) error
	CreateStatusHistoryTx(ctx context.Context, tx pgx.Tx, entry *domain.StatusHistoryEntry) error

	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	GetDetail(ctx context.Context, id string) (*Detail, error)
	IncidentExists(ctx context.Context, id string) (bool, error)

	// UpdateStatusTx is a compare-and-swap: the status row update applies
	// only if current_status still equals from. Returns false when the
	// guard did not match (concurrent transition).
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, from, to domain.Status) (bool, error)

	List(ctx context.Context, filter ListFilter) ([]*Summary, error)
	Count(ctx context.Context, filter ListFilter) (int, error)

	CreateCommentTx(ctx context.Context, tx pgx.Tx, comment *domain.Comment) error
	GetComment(ctx context.Context, id string) (*domain.Comment, error)
	ListComments(ctx context.Context, incidentID string) ([]*domain.Comment, error)
}
