// Package audit maintains the cross-entity append-only audit log.
// Entries are written inside the caller's transaction so a mutation and its
// audit record either both commit or neither does.
package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/meridianrisk/incident-ledger/internal/domain"
)

// Repository defines the interface for audit log storage.
type Repository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
	List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error)
}

// Filter holds options for listing audit entries.
type Filter struct {
	EntityType *domain.AuditEntityType
	EntityID   *string
	UserID     *string
	Limit      int
}

// Service records and reads audit entries.
type Service struct {
	repo Repository
}

// NewService creates a new audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecordTx appends an audit entry within tx.
func (s *Service) RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	return s.repo.CreateTx(ctx, tx, entry)
}

// List returns audit entries matching filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error) {
	return s.repo.List(ctx, filter)
}
