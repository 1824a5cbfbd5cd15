package models

import "time"

// ShareStatus is the lifecycle state of a share grant.
type ShareStatus string

// Share states.
const (
	ShareActive  ShareStatus = "active"
	ShareRevoked ShareStatus = "revoked"
	ShareExpired ShareStatus = "expired"
)

// SharePermission enumerates grantable permissions. Only read access is
// supported today.
type SharePermission string

// PermissionRead grants read access to the shared paths.
const PermissionRead SharePermission = "read"

// Share grants a recipient read access to a set of path prefixes under the
// owner's storage prefix. Shares gate object-store access, not relay
// access; the relay never consults them.
type Share struct {
	ShareID     string            `json:"shareId"`
	OwnerID     string            `json:"ownerId"`
	RecipientID string            `json:"recipientId"`
	Paths       []string          `json:"paths"`
	Permissions []SharePermission `json:"permissions"`
	Status      ShareStatus       `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

// Clone returns a copy safe to hand out.
func (s *Share) Clone() *Share {
	out := *s
	out.Paths = make([]string, len(s.Paths))
	copy(out.Paths, s.Paths)
	out.Permissions = make([]SharePermission, len(s.Permissions))
	copy(out.Permissions, s.Permissions)
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
