package models

// Role tags a participant's privileges.
type Role string

const (
	RoleUser  Role = "user"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Privileged roles may start a conversation with anyone.
func (r Role) Privileged() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Profile is a participant as seen by the messaging core.
type Profile struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
	Role      Role    `json:"role"`
	Email     *string `json:"email,omitempty"`
}
