// Package domain contains the shared entities and enumerations of the
// incident ledger.
package domain

import "time"

// Status represents the workflow stage of an incident.
type Status string

// Incident statuses.
const (
	StatusOpen     Status = "open"
	StatusInReview Status = "in_review"
	StatusClosed   Status = "closed"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return s == StatusOpen || s == StatusInReview || s == StatusClosed
}

// statusTransitions is the allowed-transition table: every state can reach
// every other state in one hop, self-transitions are not allowed.
var statusTransitions = map[Status][]Status{
	StatusOpen:     {StatusInReview, StatusClosed},
	StatusInReview: {StatusOpen, StatusClosed},
	StatusClosed:   {StatusOpen, StatusInReview},
}

// CanTransitionTo reports whether a change from s to target is allowed.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the set of statuses reachable from s.
func (s Status) AllowedTransitions() []Status {
	return statusTransitions[s]
}

// Category classifies the nature of an incident.
type Category string

// Incident categories.
const (
	CategoryNearMiss         Category = "near_miss"
	CategoryBehaviouralIssue Category = "behavioural_issue"
	CategoryProcessGap       Category = "process_gap"
	CategoryOther            Category = "other"
)

// IsValid checks if the category is valid.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNearMiss, CategoryBehaviouralIssue, CategoryProcessGap, CategoryOther:
		return true
	}
	return false
}

// Severity represents the priority classification of an incident,
// independent of its status.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// PersonRole describes how a person relates to an incident.
type PersonRole string

// Person roles.
const (
	PersonRoleInvolved PersonRole = "involved"
	PersonRoleWitness  PersonRole = "witness"
	PersonRoleOther    PersonRole = "other"
)

// IsValid checks if the person role is valid.
func (r PersonRole) IsValid() bool {
	return r == PersonRoleInvolved || r == PersonRoleWitness || r == PersonRoleOther
}

// Visibility controls who can read a comment.
type Visibility string

// Comment visibilities.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// IsValid checks if the visibility is valid.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Incident is the central entity: a recorded conduct/behaviour event or
// near-miss. IncidentNumber is the human-facing sequential identifier of
// the form INC-<year>-<seq4>, immutable once assigned.
type Incident struct {
	ID             string    `json:"id"`
	IncidentNumber string    `json:"incidentNumber"`
	ReporterID     string    `json:"reporterId"`
	DepartmentID   string    `json:"departmentId"`
	TeamID         *string   `json:"teamId"`
	IncidentTypeID *string   `json:"incidentTypeId"`
	OccurredAt     time.Time `json:"occurredAt"`
	ReportedAt     time.Time `json:"reportedAt"`
	Category       Category  `json:"category"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description"`
	PrivacyFlag    bool      `json:"privacyFlag"`
	CurrentStatus  Status    `json:"currentStatus"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StatusHistoryEntry is an immutable audit record of one status change.
// FromStatus is nil only for the synthetic entry written at creation.
type StatusHistoryEntry struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incidentId"`
	FromStatus  *Status   `json:"fromStatus"`
	ToStatus    Status    `json:"toStatus"`
	ChangedBy   string    `json:"changedBy"`
	ChangerName string    `json:"changerName,omitempty"`
	Reason      *string   `json:"reason"`
	ChangedAt   time.Time `json:"changedAt"`
}

// TeamLink associates an incident with a team.
type TeamLink struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	TeamName  string    `json:"teamName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProcessLink associates an incident with a business process.
type ProcessLink struct {
	ID          string    `json:"id"`
	ProcessID   string    `json:"processId"`
	ProcessName string    `json:"processName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PersonLink associates an incident with a person and their role in it.
type PersonLink struct {
	ID         string     `json:"id"`
	PersonID   string     `json:"personId"`
	PersonName string     `json:"personName,omitempty"`
	Role       PersonRole `json:"role"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Comment is a threaded note on an incident.
type Comment struct {
	ID         string     `json:"id"`
	IncidentID string     `json:"incidentId"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName,omitempty"`
	ParentID   *string    `json:"parentId"`
	Body       string     `json:"body"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
