package model

import (
	"net/url"
	"strings"
	"time"
)

// ScanStatus tracks a company through the scan stage.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusScanning  ScanStatus = "scanning"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusError     ScanStatus = "error"
)

// DiscoveredCompany is one candidate site found during a shuffle.
// WebsiteURL is immutable and unique within a project.
type DiscoveredCompany struct {
	ID              int64         `json:"id"`
	SessionID       string        `json:"session_id"`
	ProjectID       int64         `json:"project_id"`
	CompanyName     string        `json:"company_name"`
	WebsiteURL      string        `json:"website_url"`
	Domain          string        `json:"domain"`
	ScanTargetRef   string        `json:"scan_target_ref,omitempty"`
	ScanStatus      ScanStatus    `json:"scan_status"`
	ScanError       string        `json:"scan_error,omitempty"`
	RiskScore       *int          `json:"risk_score,omitempty"`
	TotalIssues     *int          `json:"total_issues,omitempty"`
	CriticalIssues  int           `json:"critical_issues"`
	SeriousIssues   int           `json:"serious_issues"`
	ModerateIssues  int           `json:"moderate_issues"`
	MinorIssues     int           `json:"minor_issues"`
	TopViolations   Violations    `json:"top_violations,omitempty"`
	ContactStatus   ContactStatus `json:"contact_status"`
	ContactedAt     *time.Time    `json:"contacted_at,omitempty"`
	LastContactedAt *time.Time    `json:"last_contacted_at,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	SalesScriptID   *int64        `json:"sales_script_id,omitempty"`
	DiscoveredAt    time.Time     `json:"discovered_at"`
	ScannedAt       *time.Time    `json:"scanned_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsScanned reports whether the company has been classified.
func (c *DiscoveredCompany) IsScanned() bool {
	return c.RiskScore != nil
}

// Violation is a single accessibility rule failure reported by the scan engine.
type Violation struct {
	ID          string `json:"id"`
	Impact      string `json:"impact"`
	Description string `json:"description"`
	Help        string `json:"help,omitempty"`
	HelpURL     string `json:"help_url,omitempty"`
	Nodes       int    `json:"nodes"`
}

// ScanResult is the scan engine's verdict for one URL.
type ScanResult struct {
	ScanID      string      `json:"scan_id"`
	RiskScore   int         `json:"risk_score"`
	TotalIssues int         `json:"total_issues"`
	Critical    int         `json:"critical"`
	Serious     int         `json:"serious"`
	Moderate    int         `json:"moderate"`
	Minor       int         `json:"minor"`
	Violations  []Violation `json:"violations"`
}

// TopViolations returns up to n violations with critical or serious impact,
// critical first, preserving engine order within each impact.
func (r *ScanResult) TopViolations(n int) Violations {
	return Violations(r.Violations).Top(n)
}

// NormalizeDomain lowercases the host of rawURL and strips a leading "www.".
// Returns "" if rawURL has no host.
func NormalizeDomain(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// CanonicalURL reduces rawURL to scheme://host so the same site is stored once.
func CanonicalURL(rawURL string) string {
	domain := NormalizeDomain(rawURL)
	if domain == "" {
		return ""
	}
	scheme := "https"
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(rawURL)), "http://") {
		scheme = "http"
	}
	return scheme + "://" + domain
}
