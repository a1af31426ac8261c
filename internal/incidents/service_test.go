package incidents

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrisk/incident-ledger/internal/domain"
)

// stubTx is a no-op transaction for service tests. Only Commit and
// Rollback are exercised by the service; everything else panics via the
// embedded nil interface.
type stubTx struct {
	pgx.Tx
}

func (stubTx) Commit(_ context.Context) error   { return nil }
func (stubTx) Rollback(_ context.Context) error { return nil }

// mockRepository implements Repository in memory for testing.
type mockRepository struct {
	incidents map[string]*domain.Incident
	history   []*domain.StatusHistoryEntry
	comments  map[string]*domain.Comment
	seq       int

	createFailures    int // remaining CreateIncidentTx calls to fail with a unique violation
	casResults        []bool
	casCalls          int
	afterFailedCAS    func() // invoked after a failed CAS, simulates the concurrent writer
	maxSequenceCalled int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents: make(map[string]*domain.Incident),
		comments:  make(map[string]*domain.Comment),
	}
}

func (m *mockRepository) BeginTx(_ context.Context) (pgx.Tx, error) {
	return stubTx{}, nil
}

func (m *mockRepository) MaxSequenceTx(_ context.Context, _ pgx.Tx, _ string) (int, error) {
	m.maxSequenceCalled++
	return m.seq, nil
}

func (m *mockRepository) CreateIncidentTx(_ context.Context, _ pgx.Tx, incident *domain.Incident) error {
	if m.createFailures > 0 {
		m.createFailures--
		m.seq++ // the concurrent writer took the number
		return &pgconn.PgError{Code: uniqueViolation, ConstraintName: "incidents_incident_number_key"}
	}
	now := time.Now()
	incident.CreatedAt = now
	incident.UpdatedAt = now
	m.incidents[incident.ID] = incident
	m.seq++
	return nil
}

func (m *mockRepository) CreateTeamLinkTx(_ context.Context, _ pgx.Tx, _, _ string) error {
	return nil
}

func (m *mockRepository) CreateProcessLinkTx(_ context.Context, _ pgx.Tx, _, _ string) error {
	return nil
}

func (m *mockRepository) CreatePersonLinkTx(_ context.Context, _ pgx.Tx, _, _ string, _ domain.PersonRole) error {
	return nil
}

func (m *mockRepository) CreateStatusHistoryTx(_ context.Context, _ pgx.Tx, entry *domain.StatusHistoryEntry) error {
	entry.ChangedAt = time.Now()
	m.history = append(m.history, entry)
	return nil
}

func (m *mockRepository) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

func (m *mockRepository) GetDetail(_ context.Context, id string) (*Detail, error) {
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return &Detail{Summary: Summary{Incident: *incident}}, nil
}

func (m *mockRepository) IncidentExists(_ context.Context, id string) (bool, error) {
	_, ok := m.incidents[id]
	return ok, nil
}

func (m *mockRepository) UpdateStatusTx(_ context.Context, _ pgx.Tx, id string, from, to domain.Status) (bool, error) {
	if m.casCalls < len(m.casResults) {
		ok := m.casResults[m.casCalls]
		m.casCalls++
		if !ok {
			if m.afterFailedCAS != nil {
				m.afterFailedCAS()
			}
			return false, nil
		}
	}
	incident, ok := m.incidents[id]
	if !ok || incident.CurrentStatus != from {
		return false, nil
	}
	incident.CurrentStatus = to
	incident.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepository) List(_ context.Context, _ ListFilter) ([]*Summary, error) {
	summaries := make([]*Summary, 0, len(m.incidents))
	for _, incident := range m.incidents {
		summaries = append(summaries, &Summary{Incident: *incident})
	}
	return summaries, nil
}

func (m *mockRepository) Count(_ context.Context, _ ListFilter) (int, error) {
	return len(m.incidents), nil
}

func (m *mockRepository) CreateCommentTx(_ context.Context, _ pgx.Tx, comment *domain.Comment) error {
	comment.CreatedAt = time.Now()
	comment.UpdatedAt = comment.CreatedAt
	m.comments[comment.ID] = comment
	return nil
}

func (m *mockRepository) GetComment(_ context.Context, id string) (*domain.Comment, error) {
	comment, ok := m.comments[id]
	if !ok {
		return nil, ErrCommentNotFound
	}
	return comment, nil
}

func (m *mockRepository) ListComments(_ context.Context, incidentID string) ([]*domain.Comment, error) {
	var out []*domain.Comment
	for _, c := range m.comments {
		if c.IncidentID == incidentID {
			out = append(out, c)
		}
	}
	return out, nil
}

// mockAuditRecorder captures audit entries.
type mockAuditRecorder struct {
	entries []*domain.AuditEntry
}

func (m *mockAuditRecorder) RecordTx(_ context.Context, _ pgx.Tx, entry *domain.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func validCreateInput() CreateIncidentInput {
	return CreateIncidentInput{
		ReporterID:   "reporter-1",
		DepartmentID: "dept-1",
		OccurredAt:   time.Now().Add(-time.Hour),
		Category:     domain.CategoryNearMiss,
		Severity:     domain.SeverityHigh,
		Description:  "Forklift reversed without a spotter",
	}
}

func newTestService() (*Service, *mockRepository, *mockAuditRecorder) {
	repo := newMockRepository()
	audit := &mockAuditRecorder{}
	return NewService(repo, audit), repo, audit
}

func TestCreateIncident_AssignsSequentialNumber(t *testing.T) {
	service, repo, audit := newTestService()
	repo.seq = 7

	incident, err := service.CreateIncident(context.Background(), validCreateInput(), "actor-1")

	require.NoError(t, err)
	expected := fmt.Sprintf("INC-%d-0008", time.Now().UTC().Year())
	assert.Equal(t, expected, incident.IncidentNumber)
	assert.Equal(t, domain.StatusOpen, incident.CurrentStatus)

	require.Len(t, repo.history, 1)
	entry := repo.history[0]
	assert.Nil(t, entry.FromStatus)
	assert.Equal(t, domain.StatusOpen, entry.ToStatus)
	assert.Equal(t, "actor-1", entry.ChangedBy)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "Incident created", *entry.Reason)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditEntityIncident, audit.entries[0].EntityType)
	assert.Equal(t, domain.AuditActionCreate, audit.entries[0].Action)
	assert.Equal(t, "actor-1", audit.entries[0].UserID)
}

func TestCreateIncident_DefaultsSeverityToMedium(t *testing.T) {
	service, _, _ := newTestService()
	input := validCreateInput()
	input.Severity = ""

	incident, err := service.CreateIncident(context.Background(), input, "actor-1")

	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMedium, incident.Severity)
}

func TestCreateIncident_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateIncidentInput)
		wantErr error
	}{
		{
			name:    "invalid category",
			mutate:  func(in *CreateIncidentInput) { in.Category = "explosion" },
			wantErr: ErrInvalidCategory,
		},
		{
			name:    "invalid severity",
			mutate:  func(in *CreateIncidentInput) { in.Severity = "apocalyptic" },
			wantErr: ErrInvalidSeverity,
		},
		{
			name:    "description too short",
			mutate:  func(in *CreateIncidentInput) { in.Description = "bad" },
			wantErr: ErrDescriptionLength,
		},
		{
			name:    "description too long",
			mutate:  func(in *CreateIncidentInput) { in.Description = strings.Repeat("x", 2001) },
			wantErr: ErrDescriptionLength,
		},
		{
			name:    "occurred in the future",
			mutate:  func(in *CreateIncidentInput) { in.OccurredAt = time.Now().Add(time.Hour) },
			wantErr: ErrOccurredInFuture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, repo, _ := newTestService()
			input := validCreateInput()
			tt.mutate(&input)

			_, err := service.CreateIncident(context.Background(), input, "actor-1")

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, repo.incidents, "nothing should be persisted")
		})
	}
}

func TestCreateIncident_DescriptionLengthCountsRunes(t *testing.T) {
	service, _, _ := newTestService()
	input := validCreateInput()
	// 2000 multibyte runes are within the limit even though the byte
	// length is far beyond it.
	input.Description = strings.Repeat("é", 2000)

	_, err := service.CreateIncident(context.Background(), input, "actor-1")

	require.NoError(t, err)
}

func TestCreateIncident_RetriesOnNumberCollision(t *testing.T) {
	service, repo, _ := newTestService()
	repo.seq = 3
	repo.createFailures = 1

	incident, err := service.CreateIncident(context.Background(), validCreateInput(), "actor-1")

	require.NoError(t, err)
	// The first attempt lost INC-<year>-0004 to a concurrent create; the
	// retry reads the fresh sequence and takes 0005.
	expected := fmt.Sprintf("INC-%d-0005", time.Now().UTC().Year())
	assert.Equal(t, expected, incident.IncidentNumber)
	assert.Equal(t, 2, repo.maxSequenceCalled)
}

func TestCreateIncident_GivesUpAfterRepeatedCollisions(t *testing.T) {
	service, repo, _ := newTestService()
	repo.createFailures = maxAllocRetries

	_, err := service.CreateIncident(context.Background(), validCreateInput(), "actor-1")

	assert.ErrorIs(t, err, ErrConflict)
}

func createOpenIncident(t *testing.T, service *Service) *domain.Incident {
	t.Helper()
	incident, err := service.CreateIncident(context.Background(), validCreateInput(), "actor-1")
	require.NoError(t, err)
	return incident
}

func TestChangeStatus_AppliesLegalTransition(t *testing.T) {
	service, repo, audit := newTestService()
	incident := createOpenIncident(t, service)

	reason := "Investigating"
	result, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: incident.ID,
		ToStatus:   domain.StatusInReview,
		Reason:     &reason,
	}, "actor-2")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, result.FromStatus)
	assert.Equal(t, domain.StatusInReview, result.ToStatus)
	assert.Equal(t, domain.StatusInReview, repo.incidents[incident.ID].CurrentStatus)

	require.Len(t, repo.history, 2)
	entry := repo.history[1]
	require.NotNil(t, entry.FromStatus)
	assert.Equal(t, domain.StatusOpen, *entry.FromStatus)
	assert.Equal(t, domain.StatusInReview, entry.ToStatus)
	assert.Equal(t, "actor-2", entry.ChangedBy)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "Investigating", *entry.Reason)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, domain.AuditActionStatusChange, audit.entries[1].Action)
	assert.JSONEq(t, `{"status":"open"}`, string(audit.entries[1].OldValues))
	assert.JSONEq(t, `{"status":"in_review","reason":"Investigating"}`, string(audit.entries[1].NewValues))
}

func TestChangeStatus_RejectsSelfTransition(t *testing.T) {
	service, repo, _ := newTestService()
	incident := createOpenIncident(t, service)

	_, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: incident.ID,
		ToStatus:   domain.StatusOpen,
	}, "actor-2")

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, domain.StatusOpen, repo.incidents[incident.ID].CurrentStatus)
	assert.Len(t, repo.history, 1, "no history entry for a rejected transition")
}

func TestChangeStatus_RejectsUnknownStatus(t *testing.T) {
	service, _, _ := newTestService()
	incident := createOpenIncident(t, service)

	_, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: incident.ID,
		ToStatus:   "resolved",
	}, "actor-2")

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestChangeStatus_RejectsOverlongReason(t *testing.T) {
	service, _, _ := newTestService()
	incident := createOpenIncident(t, service)

	reason := strings.Repeat("r", 501)
	_, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: incident.ID,
		ToStatus:   domain.StatusInReview,
		Reason:     &reason,
	}, "actor-2")

	assert.ErrorIs(t, err, ErrReasonTooLong)
}

func TestChangeStatus_UnknownIncident(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: "no-such-id",
		ToStatus:   domain.StatusClosed,
	}, "actor-2")

	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestChangeStatus_RetriesAfterConcurrentChange(t *testing.T) {
	service, repo, _ := newTestService()
	incident := createOpenIncident(t, service)

	// First CAS fails because another actor moved the incident to
	// in_review in between; the retry re-reads and closes from there.
	repo.casResults = []bool{false, true}
	repo.afterFailedCAS = func() {
		repo.incidents[incident.ID].CurrentStatus = domain.StatusInReview
	}

	result, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: incident.ID,
		ToStatus:   domain.StatusClosed,
	}, "actor-2")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusInReview, result.FromStatus)
	assert.Equal(t, domain.StatusClosed, result.ToStatus)

	// The recorded from-status matches the row that was actually replaced.
	last := repo.history[len(repo.history)-1]
	require.NotNil(t, last.FromStatus)
	assert.Equal(t, domain.StatusInReview, *last.FromStatus)
}

func TestChangeStatus_GivesUpAfterRepeatedConflicts(t *testing.T) {
	service, repo, _ := newTestService()
	incident := createOpenIncident(t, service)
	repo.casResults = []bool{false, false, false}

	_, err := service.ChangeStatus(context.Background(), ChangeStatusInput{
		IncidentID: incident.ID,
		ToStatus:   domain.StatusClosed,
	}, "actor-2")

	assert.ErrorIs(t, err, ErrConflict)
}

func TestAddComment_Succeeds(t *testing.T) {
	service, _, audit := newTestService()
	incident := createOpenIncident(t, service)

	comment, err := service.AddComment(context.Background(), AddCommentInput{
		IncidentID: incident.ID,
		Body:       "Spoke with the operator, no injuries.",
	}, "actor-3")

	require.NoError(t, err)
	assert.Equal(t, incident.ID, comment.IncidentID)
	assert.Equal(t, "actor-3", comment.AuthorID)
	assert.Equal(t, domain.VisibilityPublic, comment.Visibility, "visibility defaults to public")

	last := audit.entries[len(audit.entries)-1]
	assert.Equal(t, domain.AuditEntityComment, last.EntityType)
	assert.Equal(t, domain.AuditActionCreate, last.Action)
}

func TestAddComment_UnknownIncident(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.AddComment(context.Background(), AddCommentInput{
		IncidentID: "no-such-id",
		Body:       "hello",
	}, "actor-3")

	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestAddComment_BodyLength(t *testing.T) {
	service, _, _ := newTestService()
	incident := createOpenIncident(t, service)

	_, err := service.AddComment(context.Background(), AddCommentInput{
		IncidentID: incident.ID,
		Body:       "",
	}, "actor-3")
	assert.ErrorIs(t, err, ErrCommentBodyLength)

	_, err = service.AddComment(context.Background(), AddCommentInput{
		IncidentID: incident.ID,
		Body:       strings.Repeat("x", 5001),
	}, "actor-3")
	assert.ErrorIs(t, err, ErrCommentBodyLength)
}

func TestAddComment_ParentMustBelongToSameIncident(t *testing.T) {
	service, _, _ := newTestService()
	first := createOpenIncident(t, service)
	second := createOpenIncident(t, service)

	parent, err := service.AddComment(context.Background(), AddCommentInput{
		IncidentID: first.ID,
		Body:       "root comment",
	}, "actor-3")
	require.NoError(t, err)

	_, err = service.AddComment(context.Background(), AddCommentInput{
		IncidentID: second.ID,
		ParentID:   &parent.ID,
		Body:       "reply on the wrong incident",
	}, "actor-3")

	assert.ErrorIs(t, err, ErrParentCommentInvalid)
}

func TestList_PaginationMetadata(t *testing.T) {
	service, _, _ := newTestService()
	for i := 0; i < 5; i++ {
		createOpenIncident(t, service)
	}

	page, err := service.List(context.Background(), ListFilter{}, 1, 2)

	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 2, page.Pagination.PageSize)
	assert.Equal(t, 5, page.Pagination.TotalCount)
	assert.Equal(t, 3, page.Pagination.TotalPages)
}

func TestList_CapsPageSize(t *testing.T) {
	service, _, _ := newTestService()

	page, err := service.List(context.Background(), ListFilter{}, 1, MaxPageSize+1)

	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.Pagination.PageSize)
}

func TestList_RejectsInvalidFilterValues(t *testing.T) {
	service, _, _ := newTestService()

	bad := domain.Status("archived")
	_, err := service.List(context.Background(), ListFilter{Status: &bad}, 1, 10)

	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMapPgError_TranslatesConstraintFailures(t *testing.T) {
	fkErr := fmt.Errorf("create incident: %w", &pgconn.PgError{
		Code:           "23503",
		ConstraintName: "incidents_department_id_fkey",
	})
	assert.ErrorIs(t, mapPgError(fkErr), ErrRelatedNotFound)

	uuidErr := fmt.Errorf("get incident: %w", &pgconn.PgError{
		Code:    "22P02",
		Message: "invalid input syntax for type uuid",
	})
	assert.ErrorIs(t, mapPgError(uuidErr), ErrInvalidID)

	plain := fmt.Errorf("get incident: connection reset")
	assert.Equal(t, plain, mapPgError(plain))
}
