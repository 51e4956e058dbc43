package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas/internal/correspondence"
	"civitas/internal/identity"
)

func TestDemoSeed(t *testing.T) {
	s, err := loadSeed("", true)
	require.NoError(t, err)

	users := s.users()
	require.Len(t, users, 3)
	assert.Equal(t, []identity.Role{identity.RoleSenator, identity.RolePresident}, users[0].Roles)

	profiles := s.profiles()
	require.Len(t, profiles, 3)
	assert.Equal(t, "president", profiles[0].Role)
	assert.Equal(t, "President of the Republic", profiles[0].Title)

	r := correspondence.NewTemplateRenderer()
	require.NoError(t, s.templates(r))
	doc, err := r.Render(context.Background(), "petition-receipt", map[string]string{
		"name": "Chidi", "title": "Clean Water", "date": "1 March",
	})
	require.NoError(t, err)
	content, ok := r.Content(doc.ID)
	require.True(t, ok)
	assert.Contains(t, string(content), `Your petition "Clean Water" was received on 1 March.`)
}

func TestNoSeedOutsideDevelopment(t *testing.T) {
	s, err := loadSeed("", false)
	require.NoError(t, err)
	assert.Empty(t, s.users())
	assert.Empty(t, s.profiles())
}

func TestSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - id: u-1
    name: Deputy One
    phone: "+100"
    account_type: official
    roles: [citizen, deputy]
`), 0o600))

	s, err := loadSeed(path, false)
	require.NoError(t, err)
	require.Len(t, s.profiles(), 1)
	assert.Equal(t, "deputy", s.profiles()[0].Role)

	_, err = loadSeed(filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.ErrorContains(t, err, "open seed file")
}

func TestSeedValidation(t *testing.T) {
	tests := map[string]struct {
		doc  string
		want string
	}{
		"unknown field": {
			doc:  "users:\n  - id: a\n    phone: '1'\n    account_type: citizen\n    roles: [citizen]\n    email: a@b.c\n",
			want: "decode seed",
		},
		"unknown role": {
			doc:  "users:\n  - id: a\n    phone: '1'\n    account_type: citizen\n    roles: [emperor]\n",
			want: `unknown role "emperor"`,
		},
		"duplicate id": {
			doc:  "users:\n  - {id: a, phone: '1', account_type: citizen, roles: [citizen]}\n  - {id: a, phone: '2', account_type: citizen, roles: [citizen]}\n",
			want: "duplicate id",
		},
		"duplicate phone": {
			doc:  "users:\n  - {id: a, phone: '1', account_type: citizen, roles: [citizen]}\n  - {id: b, phone: '1', account_type: citizen, roles: [citizen]}\n",
			want: "duplicate citizen phone",
		},
		"bad account type": {
			doc:  "users:\n  - {id: a, phone: '1', account_type: robot, roles: [citizen]}\n",
			want: "unknown account type",
		},
		"no roles": {
			doc:  "users:\n  - {id: a, phone: '1', account_type: citizen}\n",
			want: "at least one role",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseSeed(strings.NewReader(tc.doc))
			assert.ErrorContains(t, err, tc.want)
		})
	}

	t.Run("empty document", func(t *testing.T) {
		s, err := parseSeed(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, s.Users)
	})
}
