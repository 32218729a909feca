package store

import (
	"context"
	"time"

	"github.com/lucy-a11y/shuffle/internal/model"
)

// ContactTransition is one contact-status change applied atomically with its
// history event and audit entry.
type ContactTransition struct {
	CompanyID int64
	From      model.ContactStatus
	To        model.ContactStatus
	Notes     string // raw notes recorded on the event
	NoteEntry string // timestamped line appended to the company notes
	UserID    string
	At        time.Time
	Audit     model.AuditLog
}

// CompanyScript pairs a company with its current sales script.
type CompanyScript struct {
	Company model.DiscoveredCompany `json:"company"`
	Script  model.SalesScript       `json:"script"`
	Leads   []model.Lead            `json:"leads"`
}

// Store defines the persistence interface for the shuffle pipeline.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, ownerID, name string) (*model.Project, error)
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ListProjectIDs(ctx context.Context, ownerID string) ([]int64, error)

	// Sessions
	CreateSession(ctx context.Context, s *model.ShuffleSession) error
	GetSession(ctx context.Context, id string) (*model.ShuffleSession, error)
	ListSessions(ctx context.Context, projectID int64) ([]model.ShuffleSession, error)
	ListSessionsSince(ctx context.Context, projectIDs []int64, since *time.Time) ([]model.ShuffleSession, error)
	ListStaleSessions(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ShuffleSession, error)
	CountSessionsByStatus(ctx context.Context, since time.Time) (map[model.SessionStatus]int, error)
	SetSessionTotal(ctx context.Context, id string, total int) error
	IncrementSessionCounters(ctx context.Context, id string, delta model.SessionCounters) error
	ResetFailedSites(ctx context.Context, id string) error
	RequestCancel(ctx context.Context, id string) (bool, error)
	FinishSession(ctx context.Context, id string, status model.SessionStatus, errMsg string) error

	// Companies
	KnownDomains(ctx context.Context, projectID int64) (map[string]bool, error)
	InsertCompanies(ctx context.Context, companies []model.DiscoveredCompany) ([]model.DiscoveredCompany, error)
	GetCompany(ctx context.Context, id int64) (*model.DiscoveredCompany, error)
	ListCompanies(ctx context.Context, sessionID string) ([]model.DiscoveredCompany, error)
	ListCompaniesForSessions(ctx context.Context, sessionIDs []string) ([]model.DiscoveredCompany, error)
	ListUnscannedCompanies(ctx context.Context, sessionID string) ([]model.DiscoveredCompany, error)
	MarkScanStarted(ctx context.Context, companyID int64) error
	RecordScanResult(ctx context.Context, companyID int64, res model.ScanResult, delta model.SessionCounters) (bool, error)
	MarkScanFailed(ctx context.Context, companyID int64, msg string) error
	ApplyContactTransition(ctx context.Context, tr ContactTransition) (*model.DiscoveredCompany, error)
	ListContactEvents(ctx context.Context, companyID int64) ([]model.ContactStatusEvent, error)

	// Leads
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
	ListLeads(ctx context.Context, companyID int64) ([]model.Lead, error)
	ListLeadsForCompanies(ctx context.Context, companyIDs []int64) (map[int64][]model.Lead, error)

	// Scripts
	CreateSalesScript(ctx context.Context, script *model.SalesScript, audit model.AuditLog) error
	GetSalesScript(ctx context.Context, id int64) (*model.SalesScript, error)
	ListSessionScripts(ctx context.Context, sessionID string) ([]CompanyScript, error)

	// CRM sync state
	SaveCRMSync(ctx context.Context, sync model.CRMSync) error
	GetCRMSync(ctx context.Context, companyID int64) (*model.CRMSync, error)
	ListFailedCRMSyncs(ctx context.Context, maxAttempts, limit int) ([]model.CRMSync, error)
	CountCRMSyncsByStatus(ctx context.Context) (map[model.CRMSyncStatus]int, error)

	// Audit
	AppendAudit(ctx context.Context, entry model.AuditLog) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
