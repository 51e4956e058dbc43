package identity

import "slices"

// Role is a position a user may act under. A user can hold several; exactly
// one is active per session.
type Role string

const (
	RolePresident     Role = "president"
	RoleVicePresident Role = "vice_president"
	RoleMinister      Role = "minister"
	RoleSenator       Role = "senator"
	RoleDeputy        Role = "deputy"
	RoleStaff         Role = "staff"
	RoleCitizen       Role = "citizen"
)

// Account types accepted by LOGIN_INTENT.
const (
	AccountCitizen  = "citizen"
	AccountOfficial = "official"
)

// User is the resolved identity of a portal user.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	AccountType string `json:"accountType"`
	Roles       []Role `json:"roles"`
}

// HasRole reports whether the user holds r.
func (u User) HasRole(r Role) bool {
	return slices.Contains(u.Roles, r)
}

type Status string

const (
	StatusAnonymous     Status = "anonymous"
	StatusAuthenticated Status = "authenticated"
)

// State is the identity actor's private state: Anonymous, or Authenticated
// with a user and the active role.
type State struct {
	Status Status
	User   User
	Role   Role
}

func anonymous() State {
	return State{Status: StatusAnonymous}
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}
