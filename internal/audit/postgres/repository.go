// Package postgres provides the PostgreSQL implementation of the audit
// repository.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianrisk/incident-ledger/internal/audit"
	"github.com/meridianrisk/incident-ledger/internal/domain"
)

// Repository implements audit.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTx appends an audit entry within a transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (entity_type, entity_id, action, user_id, old_values, new_values)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.UserID,
		entry.OldValues,
		entry.NewValues,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

// List retrieves audit entries matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter audit.Filter) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, user_id, old_values, new_values, created_at
		FROM audit_log
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.EntityType != nil {
		query += fmt.Sprintf(" AND entity_type = $%d", argNum)
		args = append(args, *filter.EntityType)
		argNum++
	}
	if filter.EntityID != nil {
		query += fmt.Sprintf(" AND entity_id = $%d", argNum)
		args = append(args, *filter.EntityID)
		argNum++
	}
	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argNum)
		args = append(args, *filter.UserID)
		argNum++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.AuditEntry, 0)
	for rows.Next() {
		var entry domain.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Action,
			&entry.UserID,
			&entry.OldValues,
			&entry.NewValues,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
