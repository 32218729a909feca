package model

import (
	"strings"
	"time"
)

// ContactStatus is a company's position in the sales funnel.
type ContactStatus string

const (
	ContactStatusNotContacted ContactStatus = "not_contacted"
	ContactStatusContacted    ContactStatus = "contacted"
	ContactStatusResponded    ContactStatus = "responded"
	ContactStatusScheduled    ContactStatus = "scheduled"
	ContactStatusClosedWon    ContactStatus = "closed_won"
	ContactStatusClosedLost   ContactStatus = "closed_lost"
)

// ContactStatuses lists every status in funnel order.
var ContactStatuses = []ContactStatus{
	ContactStatusNotContacted,
	ContactStatusContacted,
	ContactStatusResponded,
	ContactStatusScheduled,
	ContactStatusClosedWon,
	ContactStatusClosedLost,
}

// Valid reports whether s is a known status.
func (s ContactStatus) Valid() bool {
	for _, cs := range ContactStatuses {
		if s == cs {
			return true
		}
	}
	return false
}

// ContactStatusEvent records one lifecycle transition.
type ContactStatusEvent struct {
	ID         int64         `json:"id"`
	CompanyID  int64         `json:"company_id"`
	FromStatus ContactStatus `json:"from_status"`
	ToStatus   ContactStatus `json:"to_status"`
	Notes      string        `json:"notes,omitempty"`
	ChangedBy  string        `json:"changed_by"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Contact is a decision-maker returned by a lead lookup, before persistence.
type Contact struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// DedupeKey identifies the contact within a company: the lowercased email,
// or "name:<lowercased name>" when no email is known. Empty when neither.
func (c Contact) DedupeKey() string {
	if e := strings.ToLower(strings.TrimSpace(c.Email)); e != "" {
		return e
	}
	if n := strings.ToLower(strings.Join(strings.Fields(c.Name), " ")); n != "" {
		return "name:" + n
	}
	return ""
}

// Lead is a persisted decision-maker for a non-compliant company.
type Lead struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"company_id"`
	Name        string    `json:"name"`
	Title       string    `json:"title,omitempty"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	LinkedInURL string    `json:"linkedin_url,omitempty"`
	Source      string    `json:"source"`
	DedupeKey   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewLead builds a Lead row from a looked-up contact.
func NewLead(companyID int64, c Contact, source string) Lead {
	l := Lead{
		CompanyID:   companyID,
		Name:        strings.TrimSpace(c.Name),
		Title:       strings.TrimSpace(c.Title),
		LinkedInURL: strings.TrimSpace(c.LinkedInURL),
		Source:      source,
		DedupeKey:   c.DedupeKey(),
	}
	if e := strings.ToLower(strings.TrimSpace(c.Email)); e != "" {
		l.Email = &e
	}
	if p := strings.TrimSpace(c.Phone); p != "" {
		l.Phone = &p
	}
	return l
}

// Tone selects the voice of generated outreach.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneUrgent       Tone = "urgent"
)

// ParseTone maps s to a Tone. Empty input yields the professional tone.
func ParseTone(s string) (Tone, bool) {
	switch Tone(strings.ToLower(strings.TrimSpace(s))) {
	case "", ToneProfessional:
		return ToneProfessional, true
	case ToneFriendly:
		return ToneFriendly, true
	case ToneUrgent:
		return ToneUrgent, true
	default:
		return "", false
	}
}

// SalesScript is one generated outreach text. Rows are never updated;
// regeneration inserts a new row and repoints the company.
type SalesScript struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	CompanyID int64     `json:"company_id"`
	Content   string    `json:"content"`
	Tone      Tone      `json:"tone"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// CRMSyncStatus is the outcome of the last CRM sync attempt for a company.
type CRMSyncStatus string

const (
	CRMSyncStatusSynced  CRMSyncStatus = "synced"
	CRMSyncStatusFailed  CRMSyncStatus = "failed"
	CRMSyncStatusSkipped CRMSyncStatus = "skipped"
)

// CRMSync tracks external record ids for a company so sync can be retried.
type CRMSync struct {
	CompanyID          int64         `json:"company_id"`
	Provider           string        `json:"provider"`
	ExternalCompanyID  string        `json:"external_company_id,omitempty"`
	ExternalContactIDs StringList    `json:"external_contact_ids,omitempty"`
	ExternalDealID     string        `json:"external_deal_id,omitempty"`
	Status             CRMSyncStatus `json:"status"`
	LastError          string        `json:"last_error,omitempty"`
	Attempts           int           `json:"attempts"`
	SyncedAt           *time.Time    `json:"synced_at,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// AuditLog is an append-only record of a user-visible action.
type AuditLog struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Description  string    `json:"description"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"created_at"`
}

// Audit actions.
const (
	AuditSalesScriptGenerated = "sales_script_generated"
	AuditContactStatusUpdated = "company_contact_status_updated"
	AuditShuffleStarted       = "shuffle_started"
	AuditShuffleCancelled     = "shuffle_cancelled"
	AuditCRMSynced            = "crm_synced"
)
