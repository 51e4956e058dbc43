package identity

import (
	"context"
	"strings"
	"sync"
	"unicode"

	dErrors "civitas/pkg/domain-errors"
)

// MemoryDirectory is an in-process Directory keyed by normalised phone number.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Add registers or replaces a user.
func (d *MemoryDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u.Roles = append([]Role(nil), u.Roles...)
	d.users[NormalizePhone(u.Phone)] = u
}

func (d *MemoryDirectory) Resolve(_ context.Context, phone, accountType string) (User, error) {
	d.mu.RLock()
	u, ok := d.users[NormalizePhone(phone)]
	d.mu.RUnlock()
	if !ok || u.AccountType != accountType {
		return User{}, dErrors.New(dErrors.CodeNotFound, "no account registered for this phone")
	}
	u.Roles = append([]Role(nil), u.Roles...)
	return u, nil
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if unicode.IsDigit(r) || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
