package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role enumerates account roles. Capabilities are defined per-operation
// in the authz package; roles carry no implicit ranking.
type Role string

const (
	RoleClient     Role = "client"
	RoleTechnician Role = "technician"
	RoleAdmin      Role = "admin"
)

// ParseRole converts a stored string into a Role, rejecting anything
// outside the closed set.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleClient:
		return RoleClient, nil
	case RoleTechnician:
		return RoleTechnician, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// User is an account that can authenticate and act on tickets.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	FullName     string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
