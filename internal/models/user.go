package models

import (
	"strings"
	"time"
)

// Role is the canonical form of a user's role.
type Role string

const (
	RoleStudent       Role = "student"
	RoleTeacher       Role = "teacher"
	RoleClassIncharge Role = "class_incharge"
	RoleHOD           Role = "hod"
	RoleDean          Role = "dean"
	RoleVC            Role = "vc"
	RoleWarden        Role = "warden"
	RoleSecurity      Role = "security"
)

var roleAliases = map[string]Role{
	"student":        RoleStudent,
	"teacher":        RoleTeacher,
	"class_incharge": RoleClassIncharge,
	"classincharge":  RoleClassIncharge,
	"hod":            RoleHOD,
	"dean":           RoleDean,
	"vc":             RoleVC,
	"warden":         RoleWarden,
	"security":       RoleSecurity,
}

// ParseRole canonicalizes a stored or transmitted role name. Unknown values
// return false.
func ParseRole(raw string) (Role, bool) {
	role, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]
	return role, ok
}

// Canonical returns the canonical spelling of r, or r unchanged when unknown.
func (r Role) Canonical() Role {
	if role, ok := ParseRole(string(r)); ok {
		return role
	}
	return r
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         Role       `db:"role" json:"role"`
	Course       string     `db:"course" json:"course,omitempty"`
	RoomNumber   string     `db:"room_number" json:"room_number,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
