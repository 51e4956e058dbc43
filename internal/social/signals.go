package social

import (
	"strings"
	"unicode/utf8"

	dErrors "civitas/pkg/domain-errors"
)

const (
	TypeSearch        = "SOCIAL:SEARCH"
	TypeSearchStarted = "SOCIAL:SEARCH_STARTED"
	TypeSearchResults = "SOCIAL:SEARCH_RESULTS"
	TypeFollow        = "SOCIAL:FOLLOW"
	TypeFollowStarted = "SOCIAL:FOLLOW_STARTED"
	TypeFollowed      = "SOCIAL:FOLLOWED"
	TypeError         = "SOCIAL:ERROR"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MinQueryLength     = 2
)

type Search struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate trims the query and applies the default limit.
func (p *Search) Validate() error {
	p.Query = strings.TrimSpace(p.Query)
	switch {
	case utf8.RuneCountInString(p.Query) < MinQueryLength:
		return dErrors.Newf(dErrors.CodeValidation, "query must be at least %d characters", MinQueryLength)
	case p.Limit < 0 || p.Limit > MaxSearchLimit:
		return dErrors.Newf(dErrors.CodeValidation, "limit must be between 1 and %d", MaxSearchLimit)
	case p.Limit == 0:
		p.Limit = DefaultSearchLimit
	}
	return nil
}

type SearchStarted struct {
	OriginalSignalID string `json:"originalSignalId"`
	Query            string `json:"query"`
}

type SearchResults struct {
	OriginalSignalID string    `json:"originalSignalId"`
	Query            string    `json:"query"`
	Results          []Profile `json:"results"`
}

type FollowIntent struct {
	UserID string `json:"userId"`
}

func (p FollowIntent) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return dErrors.New(dErrors.CodeValidation, "userId is required")
	}
	return nil
}

type FollowStarted struct {
	OriginalSignalID string `json:"originalSignalId"`
	UserID           string `json:"userId"`
}

type Followed struct {
	OriginalSignalID string `json:"originalSignalId"`
	Follow           Follow `json:"follow"`
}
