package model

import (
	"strings"
	"time"
)

// SessionStatus represents the lifecycle state of a shuffle session.
type SessionStatus string

const (
	SessionStatusRunning        SessionStatus = "running"
	SessionStatusCompleted      SessionStatus = "completed"
	SessionStatusPartialFailure SessionStatus = "partial_failure"
	SessionStatusCancelled      SessionStatus = "cancelled"
	SessionStatusFailed         SessionStatus = "failed"
)

// IsTerminal reports whether no further work will happen for the session.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusRunning
}

// Project groups sessions and companies under an owning user.
type Project struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ShuffleSession is one discovery-to-outreach batch run. Counters are only
// mutated through atomic increments in the store.
type ShuffleSession struct {
	ID                 string        `json:"id"`
	ProjectID          int64         `json:"project_id"`
	UserID             string        `json:"user_id"`
	Category           string        `json:"category"`
	Demographics       *string       `json:"demographics,omitempty"`
	RequestedSiteCount int           `json:"requested_site_count"`
	TotalSites         int           `json:"total_sites"`
	ScannedSites       int           `json:"scanned_sites"`
	CompliantSites     int           `json:"compliant_sites"`
	NonCompliantSites  int           `json:"non_compliant_sites"`
	FailedSites        int           `json:"failed_sites"`
	LeadsGenerated     int           `json:"leads_generated"`
	Status             SessionStatus `json:"status"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	CancelRequested    bool          `json:"cancel_requested"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         *time.Time    `json:"finished_at,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// SearchQuery is the free-text query sent to the search provider.
func (s *ShuffleSession) SearchQuery() string {
	if s.Demographics == nil || strings.TrimSpace(*s.Demographics) == "" {
		return s.Category
	}
	return s.Category + " " + strings.TrimSpace(*s.Demographics)
}

// Attempted is the number of sites that reached a final outcome.
func (s *ShuffleSession) Attempted() int {
	return s.ScannedSites + s.FailedSites
}

// SessionCounters is a delta applied atomically to a session row.
type SessionCounters struct {
	Scanned      int
	Compliant    int
	NonCompliant int
	Failed       int
	Leads        int
}

// IsZero reports whether the delta changes nothing.
func (c SessionCounters) IsZero() bool {
	return c == SessionCounters{}
}
