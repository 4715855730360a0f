package authz

import "strings"

// Role is the unit of authorization granularity. The set is closed:
// every store relationship maps to exactly one of these.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
)

// ParseRole normalizes raw input into a Role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleOwner:
		return RoleOwner, true
	case RoleManager:
		return RoleManager, true
	case RoleCashier:
		return RoleCashier, true
	}
	return "", false
}

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleCashier:
		return true
	}
	return false
}

// Level orders roles by privilege: cashier < manager < owner.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleManager:
		return 2
	case RoleCashier:
		return 1
	}
	return 0
}

func (r Role) String() string { return string(r) }
