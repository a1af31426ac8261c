package domain

import "time"

// Role represents a user's role in the organization.
type Role string

// User roles.
const (
	RoleEmployee   Role = "employee"
	RoleHoD        Role = "hod"
	RoleRiskOffice Role = "risk_office"
	RoleAdmin      Role = "admin"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleEmployee, RoleHoD, RoleRiskOffice, RoleAdmin:
		return true
	}
	return false
}

// User is an organization member. There is no credential material: the
// service trusts an out-of-band selected-user identity.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	DepartmentID   *string   `json:"departmentId"`
	DepartmentName string    `json:"departmentName,omitempty"`
	TeamID         *string   `json:"teamId"`
	TeamName       string    `json:"teamName,omitempty"`
	Role           Role      `json:"role"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Department is an organizational unit.
type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      *string   `json:"code"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Team belongs to a department.
type Team struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DepartmentID   *string   `json:"departmentId"`
	DepartmentName string    `json:"departmentName,omitempty"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Process is a business process incidents can be linked to.
type Process struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IncidentType is admin-maintained reference data classifying incidents.
type IncidentType struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
