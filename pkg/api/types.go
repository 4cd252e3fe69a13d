package api

import (
	"time"

	"github.com/cpike5/gatelink/pkg/invite"
)

// AdminRole is the role required for administrative routes.
const AdminRole = "Administrator"

// Reason codes for the closed validation outcome set.
const (
	ReasonValid           = "valid"
	ReasonNotFound        = "not_found"
	ReasonAlreadyConsumed = "already_consumed"
	ReasonExpired         = "expired"
	ReasonAlreadyLinked   = "already_linked"
	ReasonLinkConflict    = "link_conflict"
	ReasonNotActive       = "not_active"
)

// IssueInviteRequest is the body of POST /api/v1/invites.
type IssueInviteRequest struct {
	ExternalID  int64  `json:"external_id"`
	DisplayName string `json:"display_name,omitempty"`
	TTLHours    int    `json:"ttl_hours,omitempty"`
}

// ConsumeInviteRequest is the body of POST /api/v1/invites/{code}/consume.
type ConsumeInviteRequest struct {
	AccountID string `json:"account_id"`
}

// LinkRequest is the body of POST /api/v1/accounts/{id}/link.
type LinkRequest struct {
	ExternalID  int64  `json:"external_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// RoleRequest is the body of POST /api/v1/accounts/{id}/roles.
type RoleRequest struct {
	Role string `json:"role"`
}

// InviteResponse is the wire form of an invite.
type InviteResponse struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	ExternalID  int64      `json:"external_id"`
	DisplayName string     `json:"display_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Consumed    bool       `json:"consumed"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	ConsumedBy  string     `json:"consumed_by,omitempty"`
}

// ValidateResponse is the body of GET /api/v1/invites/{code}. Reason is
// always set; Invite is present only when the code is valid.
type ValidateResponse struct {
	Valid  bool            `json:"valid"`
	Reason string          `json:"reason"`
	Invite *InviteResponse `json:"invite,omitempty"`
}

// RolesResponse is the body of GET /api/v1/identities/{id}/roles.
type RolesResponse struct {
	ExternalID int64    `json:"external_id"`
	Roles      []string `json:"roles"`
}

// RoleCheckResponse is the body of GET /api/v1/identities/{id}/roles/{role}.
type RoleCheckResponse struct {
	ExternalID int64  `json:"external_id"`
	Role       string `json:"role"`
	Allowed    bool   `json:"allowed"`
}

func toInviteResponse(token *invite.Token) *InviteResponse {
	return &InviteResponse{
		ID:          token.ID,
		Code:        token.Code,
		ExternalID:  token.ExternalID,
		DisplayName: token.ExternalName,
		CreatedAt:   token.CreatedAt,
		ExpiresAt:   token.ExpiresAt,
		Consumed:    token.Consumed,
		ConsumedAt:  token.ConsumedAt,
		ConsumedBy:  token.ConsumedBy,
	}
}
