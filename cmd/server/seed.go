package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"civitas/internal/correspondence"
	"civitas/internal/identity"
	"civitas/internal/social"
)

// seed is the initial content of the in-memory directories and the template
// renderer. It comes from SEED_FILE, or from demoSeed in development mode;
// otherwise everything starts empty.
type seed struct {
	Users     []seedUser        `yaml:"users"`
	Templates map[string]string `yaml:"templates"`
}

type seedUser struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Phone       string   `yaml:"phone"`
	AccountType string   `yaml:"account_type"`
	Roles       []string `yaml:"roles"`
	Title       string   `yaml:"title,omitempty"`
}

const demoSeed = `
users:
  - id: u-president
    name: Amara Okafor
    phone: "+2348000000001"
    account_type: official
    roles: [senator, president]
    title: President of the Republic
  - id: u-senator
    name: Bola Adeyemi
    phone: "+2348000000002"
    account_type: official
    roles: [senator, citizen]
    title: Senator, Lagos Central
  - id: u-citizen
    name: Chidi Nwosu
    phone: "+2348000000003"
    account_type: citizen
    roles: [citizen]
templates:
  petition-receipt: |
    Dear {{.name}},

    Your petition "{{.title}}" was received on {{.date}}.
`

func loadSeed(path string, development bool) (seed, error) {
	switch {
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return seed{}, fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		return parseSeed(f)
	case development:
		return parseSeed(strings.NewReader(demoSeed))
	default:
		return seed{}, nil
	}
}

func parseSeed(r io.Reader) (seed, error) {
	var s seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return seed{}, fmt.Errorf("decode seed: %w", err)
	}
	if err := s.validate(); err != nil {
		return seed{}, err
	}
	return s, nil
}

func (s seed) validate() error {
	ids := make(map[string]struct{}, len(s.Users))
	phones := make(map[string]struct{}, len(s.Users))
	for i, u := range s.Users {
		if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Phone) == "" {
			return fmt.Errorf("seed user %d: id and phone are required", i)
		}
		if _, dup := ids[u.ID]; dup {
			return fmt.Errorf("seed user %s: duplicate id", u.ID)
		}
		ids[u.ID] = struct{}{}
		key := u.AccountType + "/" + u.Phone
		if _, dup := phones[key]; dup {
			return fmt.Errorf("seed user %s: duplicate %s phone", u.ID, u.AccountType)
		}
		phones[key] = struct{}{}
		switch u.AccountType {
		case identity.AccountCitizen, identity.AccountOfficial:
		default:
			return fmt.Errorf("seed user %s: unknown account type %q", u.ID, u.AccountType)
		}
		if len(u.Roles) == 0 {
			return fmt.Errorf("seed user %s: at least one role is required", u.ID)
		}
		for _, r := range u.Roles {
			if !slices.Contains(identity.DefaultPrecedence, identity.Role(r)) {
				return fmt.Errorf("seed user %s: unknown role %q", u.ID, r)
			}
		}
	}
	return nil
}

func (s seed) users() []identity.User {
	out := make([]identity.User, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, identity.User{
			ID:          u.ID,
			Name:        u.Name,
			Phone:       u.Phone,
			AccountType: u.AccountType,
			Roles:       u.roles(),
		})
	}
	return out
}

func (u seedUser) roles() []identity.Role {
	out := make([]identity.Role, len(u.Roles))
	for i, r := range u.Roles {
		out[i] = identity.Role(r)
	}
	return out
}

// profiles lists every seeded user in the social directory under their most
// senior role.
func (s seed) profiles() []social.Profile {
	out := make([]social.Profile, 0, len(s.Users))
	for _, u := range s.Users {
		role, _ := identity.HighestRole(u.roles(), identity.DefaultPrecedence)
		out = append(out, social.Profile{ID: u.ID, Name: u.Name, Role: string(role), Title: u.Title})
	}
	return out
}

func (s seed) templates(r *correspondence.TemplateRenderer) error {
	ids := make([]string, 0, len(s.Templates))
	for id := range s.Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := r.Register(id, s.Templates[id]); err != nil {
			return err
		}
	}
	return nil
}
