// Package email parses and presents email addresses.
package email

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	pstrings "civitas/pkg/platform/strings"
)

// ParseRecipients validates every address in raw and returns the bare
// addresses, lowercased and deduplicated in their original order. Display
// names ("Ana <ana@gov.ao>") are accepted and dropped.
func ParseRecipients(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", r, err)
		}
		out = append(out, addr.Address)
	}
	return pstrings.DedupeAndTrimLower(out), nil
}

// DisplayName derives a human greeting name from the local part of an address:
// "ana.ribeiro@gov.ao" becomes "Ana Ribeiro".
func DisplayName(address string) string {
	localPart := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Citizen"
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
