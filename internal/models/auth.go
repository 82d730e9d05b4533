package models

// Role is the caller role carried in the bearer token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleVisitor Role = "visitor"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

// HasRole reports whether the principal may use routes guarded by role.
// Admins are not implicitly granted student routes; student context is
// always built for the token subject.
func (p *Principal) HasRole(role Role) bool {
	return p != nil && p.Role == role
}
