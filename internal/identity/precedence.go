package identity

import "slices"

// DefaultPrecedence ranks roles from most to least senior.
var DefaultPrecedence = []Role{
	RolePresident,
	RoleVicePresident,
	RoleMinister,
	RoleSenator,
	RoleDeputy,
	RoleStaff,
	RoleCitizen,
}

// HighestRole picks the first role in precedence that the user holds. Roles
// the precedence list does not rank are only chosen when nothing ranked is
// held, in the order the user lists them.
func HighestRole(held []Role, precedence []Role) (Role, bool) {
	for _, r := range precedence {
		if slices.Contains(held, r) {
			return r, true
		}
	}
	if len(held) > 0 {
		return held[0], true
	}
	return "", false
}
