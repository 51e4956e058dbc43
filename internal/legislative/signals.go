package legislative

import (
	"slices"
	"strings"
	"unicode/utf8"

	dErrors "civitas/pkg/domain-errors"
	pstrings "civitas/pkg/platform/strings"
)

const (
	TypeSubmitProposal     = "LEGISLATIVE:SUBMIT_PROPOSAL"
	TypeSubmissionStarted  = "LEGISLATIVE:SUBMISSION_STARTED"
	TypeProposalSubmitted  = "LEGISLATIVE:PROPOSAL_SUBMITTED"
	TypeUploadAttachment   = "LEGISLATIVE:UPLOAD_ATTACHMENT"
	TypeUploadStarted      = "LEGISLATIVE:UPLOAD_STARTED"
	TypeAttachmentUploaded = "LEGISLATIVE:ATTACHMENT_UPLOADED"
	TypeError              = "LEGISLATIVE:ERROR"
)

const (
	MaxTitleLength    = 200
	MaxAttachmentSize = 10 << 20
)

// AllowedContentTypes lists the attachment media types accepted for upload.
var AllowedContentTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"text/plain",
}

type SubmitProposal struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
}

func (p *SubmitProposal) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	switch {
	case p.Title == "":
		return dErrors.New(dErrors.CodeValidation, "title is required")
	case utf8.RuneCountInString(p.Title) > MaxTitleLength:
		return dErrors.Newf(dErrors.CodeValidation, "title exceeds %d characters", MaxTitleLength)
	case strings.TrimSpace(p.Summary) == "":
		return dErrors.New(dErrors.CodeValidation, "summary is required")
	case strings.TrimSpace(p.Category) == "":
		return dErrors.New(dErrors.CodeValidation, "category is required")
	}
	p.Tags = pstrings.DedupeAndTrimLower(p.Tags)
	return nil
}

type SubmissionStarted struct {
	OriginalSignalID string `json:"originalSignalId"`
	Title            string `json:"title"`
	Kind             string `json:"kind"`
}

type ProposalSubmitted struct {
	OriginalSignalID string   `json:"originalSignalId"`
	Proposal         Proposal `json:"proposal"`
}

// UploadAttachment carries the file inline; over JSON Content is base64.
type UploadAttachment struct {
	ProposalID  string `json:"proposalId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

func (p UploadAttachment) Validate() error {
	switch {
	case strings.TrimSpace(p.ProposalID) == "":
		return dErrors.New(dErrors.CodeValidation, "proposalId is required")
	case strings.TrimSpace(p.FileName) == "":
		return dErrors.New(dErrors.CodeValidation, "fileName is required")
	case !slices.Contains(AllowedContentTypes, p.ContentType):
		return dErrors.Newf(dErrors.CodeValidation, "content type %q is not accepted", p.ContentType)
	case len(p.Content) == 0:
		return dErrors.New(dErrors.CodeValidation, "content is empty")
	case len(p.Content) > MaxAttachmentSize:
		return dErrors.Newf(dErrors.CodeValidation, "attachment exceeds %d bytes", MaxAttachmentSize)
	}
	return nil
}

type UploadStarted struct {
	OriginalSignalID string `json:"originalSignalId"`
	ProposalID       string `json:"proposalId"`
	FileName         string `json:"fileName"`
	Size             int    `json:"size"`
}

type AttachmentUploaded struct {
	OriginalSignalID string     `json:"originalSignalId"`
	File             StoredFile `json:"file"`
}
