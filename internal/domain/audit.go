package domain

import (
	"encoding/json"
	"time"
)

// AuditAction is the kind of change an audit entry records.
type AuditAction string

// Audit actions.
const (
	AuditActionCreate       AuditAction = "create"
	AuditActionUpdate       AuditAction = "update"
	AuditActionStatusChange AuditAction = "status_change"
)

// AuditEntityType identifies the entity an audit entry refers to.
type AuditEntityType string

// Audited entity types.
const (
	AuditEntityIncident     AuditEntityType = "incident"
	AuditEntityIncidentType AuditEntityType = "incident_type"
	AuditEntityComment      AuditEntityType = "comment"
)

// AuditEntry is a cross-entity append-only record of a change, with
// before/after value snapshots. Entries are never updated or deleted.
type AuditEntry struct {
	ID         string          `json:"id"`
	EntityType AuditEntityType `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     AuditAction     `json:"action"`
	UserID     string          `json:"userId"`
	OldValues  json.RawMessage `json:"oldValues"`
	NewValues  json.RawMessage `json:"newValues"`
	CreatedAt  time.Time       `json:"createdAt"`
}
