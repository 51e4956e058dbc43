package identity

import (
	"strings"

	"civitas/internal/signal"
	dErrors "civitas/pkg/domain-errors"
)

// Signal types answered and emitted by the identity actor.
const (
	TypeLoginIntent      = "LOGIN_INTENT"
	TypeLoginSuccess     = "LOGIN_SUCCESS"
	TypeLoginFailure     = "LOGIN_FAILURE"
	TypeLogoutIntent     = "LOGOUT_INTENT"
	TypeLogoutSuccess    = "LOGOUT_SUCCESS"
	TypeSwitchRoleIntent = "SWITCH_ROLE_INTENT"
	TypeRoleSwitched     = "ROLE_SWITCHED"
	TypeStateChanged     = "STATE_CHANGED"
)

// OutcomeTypes are the signals only the identity actor may emit. They decide
// who is signed in and under which role.
var OutcomeTypes = []string{
	TypeLoginSuccess,
	TypeLoginFailure,
	TypeLogoutSuccess,
	TypeRoleSwitched,
	TypeStateChanged,
}

// Emitted reports whether sig came from the identity actor. Actors that
// follow the session ignore identity outcomes from anywhere else.
func Emitted(sig signal.Signal) bool {
	return sig.Source == Name
}

type LoginIntent struct {
	Phone       string `json:"phone"`
	AccountType string `json:"accountType"`
}

func (p LoginIntent) Validate() error {
	if strings.TrimSpace(p.Phone) == "" {
		return dErrors.New(dErrors.CodeValidation, "phone is required")
	}
	switch p.AccountType {
	case AccountCitizen, AccountOfficial:
		return nil
	case "":
		return dErrors.New(dErrors.CodeValidation, "accountType is required")
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown accountType %q", p.AccountType)
	}
}

type LoginSuccess struct {
	User     User `json:"user"`
	Role     Role `json:"role"`
	Restored bool `json:"restored,omitempty"`
}

type LoginFailure struct {
	OriginalSignalID string `json:"originalSignalId"`
	Code             string `json:"code"`
	Reason           string `json:"reason"`
}

type LogoutSuccess struct {
	UserID string `json:"userId,omitempty"`
}

type SwitchRoleIntent struct {
	Role Role `json:"role"`
}

func (p SwitchRoleIntent) Validate() error {
	if strings.TrimSpace(string(p.Role)) == "" {
		return dErrors.New(dErrors.CodeValidation, "role is required")
	}
	return nil
}

type RoleSwitched struct {
	Role     Role `json:"role"`
	Previous Role `json:"previous"`
}

type StateChanged struct {
	Status Status `json:"status"`
	UserID string `json:"userId,omitempty"`
	Role   Role   `json:"role,omitempty"`
}
