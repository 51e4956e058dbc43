package legislative

import (
	"slices"
	"time"
)

// Proposal kinds. Office holders table bills; everyone else files petitions.
const (
	KindBill     = "bill"
	KindPetition = "petition"
)

const StatusSubmitted = "submitted"

// legislatorRoles may table bills.
var legislatorRoles = []string{"president", "vice_president", "minister", "senator", "deputy"}

// Sponsor is the signed-in user proposals are filed under.
type Sponsor struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func (s Sponsor) Present() bool {
	return s.UserID != ""
}

// ProposalKind is the kind of proposal this sponsor files.
func (s Sponsor) ProposalKind() string {
	if slices.Contains(legislatorRoles, s.Role) {
		return KindBill
	}
	return KindPetition
}

type Proposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags,omitempty"`
	Kind        string    `json:"kind"`
	SponsorID   string    `json:"sponsorId"`
	SponsorRole string    `json:"sponsorRole"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Attachment struct {
	ProposalID  string
	FileName    string
	ContentType string
	Content     []byte
}

type StoredFile struct {
	ID          string    `json:"id"`
	ProposalID  string    `json:"proposalId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
