package domain

import "time"

// Inquiry type and status values as used by the support desk.
const (
	InquirySales   = "Sales"
	InquirySupport = "Support"
	InquiryProduct = "Product"

	StatusNew        = "New"
	StatusInProgress = "In Progress"
	StatusUrgent     = "Urgent"
	StatusResolved   = "Resolved"
)

// Inquiry is a support ticket assigned to an agent.
type Inquiry struct {
	ID          string    `json:"id"`
	Customer    string    `json:"customer"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	AgentID     string    `json:"agentId,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Account roles, lowest to highest privilege.
const (
	RoleAgent      = "agent"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleUltraAdmin = "ultra_admin"
)

// Team roles.
const (
	TeamRoleLeader = "leader"
	TeamRoleMember = "member"
)

// Agent is a support-desk account that can own chats and inquiries.
type Agent struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	TeamID     string     `json:"teamId,omitempty"`
	TeamRole   string     `json:"teamRole,omitempty"`
	LastActive *time.Time `json:"lastActive,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Team groups agents under a leader.
type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Department  string    `json:"department,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
