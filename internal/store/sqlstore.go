package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/model"
)

// sqlStore holds the query code shared by the Postgres and SQLite stores.
// Only the runner and placeholder format differ between drivers.
type sqlStore struct {
	name string
	r    runner
	sb   sq.StatementBuilderType
	now  func() time.Time
}

func newSQLStore(name string, r runner, ph sq.PlaceholderFormat) *sqlStore {
	return &sqlStore{
		name: name,
		r:    r,
		sb:   sq.StatementBuilder.PlaceholderFormat(ph),
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *sqlStore) wrap(err error, action string) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(err, "%s: %s", s.name, action)
}

func (s *sqlStore) execQ(ctx context.Context, r runner, b sq.Sqlizer) (int64, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "build query")
	}
	return r.exec(ctx, q, args...)
}

func (s *sqlStore) queryQ(ctx context.Context, r runner, b sq.Sqlizer) (rowIter, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "build query")
	}
	return r.query(ctx, q, args...)
}

func (s *sqlStore) rowQ(ctx context.Context, r runner, b sq.Sqlizer) scannable {
	q, args, err := b.ToSql()
	if err != nil {
		return errRow{err: eris.Wrap(err, "build query")}
	}
	return r.queryRow(ctx, q, args...)
}

type errRow struct{ err error }

func (e errRow) Scan(...any) error { return e.err }

func notFound(entity, id string) error {
	return apperr.E(apperr.NotFound, "%s not found: %s", entity, id)
}

func checkRowsAffected(n int64, entity, id string) error {
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func prefixed(cols []string, p string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = p + c
	}
	return out
}

// --- projects ---

func (s *sqlStore) CreateProject(ctx context.Context, ownerID, name string) (*model.Project, error) {
	p := &model.Project{OwnerID: ownerID, Name: name, CreatedAt: s.now()}
	err := s.rowQ(ctx, s.r, s.sb.Insert("projects").
		Columns("owner_id", "name", "created_at").
		Values(p.OwnerID, p.Name, p.CreatedAt).
		Suffix("RETURNING id")).Scan(&p.ID)
	if err != nil {
		return nil, s.wrap(err, "create project")
	}
	return p, nil
}

func (s *sqlStore) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var p model.Project
	err := s.rowQ(ctx, s.r, s.sb.Select("id", "owner_id", "name", "created_at").
		From("projects").Where(sq.Eq{"id": id})).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if isNoRows(err) {
		return nil, notFound("project", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, s.wrap(err, "get project")
	}
	return &p, nil
}

func (s *sqlStore) ListProjectIDs(ctx context.Context, ownerID string) ([]int64, error) {
	rows, err := s.queryQ(ctx, s.r, s.sb.Select("id").From("projects").
		Where(sq.Eq{"owner_id": ownerID}).OrderBy("id"))
	if err != nil {
		return nil, s.wrap(err, "list projects")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, s.wrap(err, "scan project id")
		}
		ids = append(ids, id)
	}
	return ids, s.wrap(rows.Err(), "iterate projects")
}

// --- sessions ---

var sessionColumns = []string{
	"id", "project_id", "user_id", "category", "demographics",
	"requested_site_count", "total_sites", "scanned_sites", "compliant_sites",
	"non_compliant_sites", "failed_sites", "leads_generated", "status",
	"error_message", "cancel_requested", "started_at", "finished_at", "updated_at",
}

func scanSession(row scannable) (*model.ShuffleSession, error) {
	var ss model.ShuffleSession
	var status string
	err := row.Scan(
		&ss.ID, &ss.ProjectID, &ss.UserID, &ss.Category, &ss.Demographics,
		&ss.RequestedSiteCount, &ss.TotalSites, &ss.ScannedSites, &ss.CompliantSites,
		&ss.NonCompliantSites, &ss.FailedSites, &ss.LeadsGenerated, &status,
		&ss.ErrorMessage, &ss.CancelRequested, &ss.StartedAt, &ss.FinishedAt, &ss.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ss.Status = model.SessionStatus(status)
	return &ss, nil
}

func (s *sqlStore) listSessions(ctx context.Context, b sq.SelectBuilder, action string) ([]model.ShuffleSession, error) {
	rows, err := s.queryQ(ctx, s.r, b)
	if err != nil {
		return nil, s.wrap(err, action)
	}
	defer rows.Close()

	var out []model.ShuffleSession
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, s.wrap(err, "scan session")
		}
		out = append(out, *ss)
	}
	return out, s.wrap(rows.Err(), action)
}

func (s *sqlStore) CreateSession(ctx context.Context, ss *model.ShuffleSession) error {
	now := s.now()
	if ss.StartedAt.IsZero() {
		ss.StartedAt = now
	}
	ss.StartedAt = ss.StartedAt.UTC()
	ss.UpdatedAt = now
	if ss.Status == "" {
		ss.Status = model.SessionStatusRunning
	}
	_, err := s.execQ(ctx, s.r, s.sb.Insert("shuffle_sessions").
		Columns(sessionColumns...).
		Values(
			ss.ID, ss.ProjectID, ss.UserID, ss.Category, ss.Demographics,
			ss.RequestedSiteCount, ss.TotalSites, ss.ScannedSites, ss.CompliantSites,
			ss.NonCompliantSites, ss.FailedSites, ss.LeadsGenerated, string(ss.Status),
			ss.ErrorMessage, ss.CancelRequested, ss.StartedAt, ss.FinishedAt, ss.UpdatedAt,
		))
	return s.wrap(err, "create session")
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (*model.ShuffleSession, error) {
	ss, err := scanSession(s.rowQ(ctx, s.r, s.sb.Select(sessionColumns...).
		From("shuffle_sessions").Where(sq.Eq{"id": id})))
	if isNoRows(err) {
		return nil, notFound("session", id)
	}
	if err != nil {
		return nil, s.wrap(err, "get session")
	}
	return ss, nil
}

func (s *sqlStore) ListSessions(ctx context.Context, projectID int64) ([]model.ShuffleSession, error) {
	return s.listSessions(ctx, s.sb.Select(sessionColumns...).From("shuffle_sessions").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("started_at DESC"), "list sessions")
}

func (s *sqlStore) ListSessionsSince(ctx context.Context, projectIDs []int64, since *time.Time) ([]model.ShuffleSession, error) {
	b := s.sb.Select(sessionColumns...).From("shuffle_sessions").
		Where(sq.Eq{"project_id": projectIDs})
	if since != nil {
		b = b.Where(sq.GtOrEq{"started_at": since.UTC()})
	}
	return s.listSessions(ctx, b.OrderBy("started_at DESC"), "list sessions since")
}

func (s *sqlStore) ListStaleSessions(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ShuffleSession, error) {
	return s.listSessions(ctx, s.sb.Select(sessionColumns...).From("shuffle_sessions").
		Where(sq.Eq{"status": string(model.SessionStatusRunning)}).
		Where(sq.Lt{"updated_at": updatedBefore.UTC()}).
		OrderBy("updated_at").
		Limit(uint64(limit)), "list stale sessions")
}

func (s *sqlStore) CountSessionsByStatus(ctx context.Context, since time.Time) (map[model.SessionStatus]int, error) {
	counts, err := s.countBy(ctx, s.sb.Select("status", "COUNT(*)").From("shuffle_sessions").
		Where(sq.GtOrEq{"started_at": since.UTC()}).
		GroupBy("status"), "count sessions")
	if err != nil {
		return nil, err
	}
	out := make(map[model.SessionStatus]int, len(counts))
	for k, n := range counts {
		out[model.SessionStatus(k)] = n
	}
	return out, nil
}

func (s *sqlStore) SetSessionTotal(ctx context.Context, id string, total int) error {
	n, err := s.execQ(ctx, s.r, s.sb.Update("shuffle_sessions").
		Set("total_sites", total).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return s.wrap(err, "set session total")
	}
	return checkRowsAffected(n, "session", id)
}

func (s *sqlStore) IncrementSessionCounters(ctx context.Context, id string, d model.SessionCounters) error {
	if d.IsZero() {
		return nil
	}
	n, err := s.execQ(ctx, s.r, s.counterUpdate(d).Where(sq.Eq{"id": id}))
	if err != nil {
		return s.wrap(err, "increment session counters")
	}
	return checkRowsAffected(n, "session", id)
}

// counterUpdate adds each non-zero field of d to its session column.
func (s *sqlStore) counterUpdate(d model.SessionCounters) sq.UpdateBuilder {
	b := s.sb.Update("shuffle_sessions").Set("updated_at", s.now())
	for _, c := range []struct {
		col string
		n   int
	}{
		{"scanned_sites", d.Scanned},
		{"compliant_sites", d.Compliant},
		{"non_compliant_sites", d.NonCompliant},
		{"failed_sites", d.Failed},
		{"leads_generated", d.Leads},
	} {
		if c.n != 0 {
			b = b.Set(c.col, sq.Expr(c.col+" + ?", c.n))
		}
	}
	return b
}

func (s *sqlStore) ResetFailedSites(ctx context.Context, id string) error {
	_, err := s.execQ(ctx, s.r, s.sb.Update("shuffle_sessions").
		Set("failed_sites", 0).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id}))
	return s.wrap(err, "reset failed sites")
}

func (s *sqlStore) RequestCancel(ctx context.Context, id string) (bool, error) {
	n, err := s.execQ(ctx, s.r, s.sb.Update("shuffle_sessions").
		Set("cancel_requested", true).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id, "status": string(model.SessionStatusRunning)}))
	if err != nil {
		return false, s.wrap(err, "request cancel")
	}
	return n > 0, nil
}

// FinishSession moves a running session to a terminal status. Sessions
// already finished are left untouched.
func (s *sqlStore) FinishSession(ctx context.Context, id string, status model.SessionStatus, errMsg string) error {
	now := s.now()
	_, err := s.execQ(ctx, s.r, s.sb.Update("shuffle_sessions").
		Set("status", string(status)).
		Set("error_message", errMsg).
		Set("finished_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(model.SessionStatusRunning)}))
	return s.wrap(err, "finish session")
}

// --- companies ---

var companyColumns = []string{
	"id", "session_id", "project_id", "company_name", "website_url", "domain",
	"scan_target_ref", "scan_status", "scan_error", "risk_score", "total_issues",
	"critical_issues", "serious_issues", "moderate_issues", "minor_issues",
	"top_violations", "contact_status", "contacted_at", "last_contacted_at", "notes",
	"sales_script_id", "discovered_at", "scanned_at", "updated_at",
}

func scanCompany(row scannable, extra ...any) (*model.DiscoveredCompany, error) {
	var c model.DiscoveredCompany
	var scanStatus, contactStatus string
	dest := []any{
		&c.ID, &c.SessionID, &c.ProjectID, &c.CompanyName, &c.WebsiteURL, &c.Domain,
		&c.ScanTargetRef, &scanStatus, &c.ScanError, &c.RiskScore, &c.TotalIssues,
		&c.CriticalIssues, &c.SeriousIssues, &c.ModerateIssues, &c.MinorIssues,
		&c.TopViolations, &contactStatus, &c.ContactedAt, &c.LastContactedAt, &c.Notes,
		&c.SalesScriptID, &c.DiscoveredAt, &c.ScannedAt, &c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.ScanStatus = model.ScanStatus(scanStatus)
	c.ContactStatus = model.ContactStatus(contactStatus)
	return &c, nil
}

func (s *sqlStore) listCompanies(ctx context.Context, b sq.SelectBuilder, action string) ([]model.DiscoveredCompany, error) {
	rows, err := s.queryQ(ctx, s.r, b)
	if err != nil {
		return nil, s.wrap(err, action)
	}
	defer rows.Close()

	var out []model.DiscoveredCompany
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, s.wrap(err, "scan company")
		}
		out = append(out, *c)
	}
	return out, s.wrap(rows.Err(), action)
}

func (s *sqlStore) KnownDomains(ctx context.Context, projectID int64) (map[string]bool, error) {
	rows, err := s.queryQ(ctx, s.r, s.sb.Select("domain").From("discovered_companies").
		Where(sq.Eq{"project_id": projectID}))
	if err != nil {
		return nil, s.wrap(err, "known domains")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, s.wrap(err, "scan domain")
		}
		out[d] = true
	}
	return out, s.wrap(rows.Err(), "known domains")
}

// InsertCompanies inserts pending companies and returns the ones actually
// created. Rows whose domain already exists in the project are skipped.
func (s *sqlStore) InsertCompanies(ctx context.Context, companies []model.DiscoveredCompany) ([]model.DiscoveredCompany, error) {
	var created []model.DiscoveredCompany
	err := s.r.inTx(ctx, func(r runner) error {
		for _, c := range companies {
			now := s.now()
			c.ScanStatus = model.ScanStatusPending
			c.ContactStatus = model.ContactStatusNotContacted
			c.DiscoveredAt = now
			c.UpdatedAt = now
			err := s.rowQ(ctx, r, s.sb.Insert("discovered_companies").
				Columns(
					"session_id", "project_id", "company_name", "website_url", "domain",
					"scan_status", "top_violations", "contact_status", "discovered_at", "updated_at",
				).
				Values(
					c.SessionID, c.ProjectID, c.CompanyName, c.WebsiteURL, c.Domain,
					string(c.ScanStatus), c.TopViolations, string(c.ContactStatus), c.DiscoveredAt, c.UpdatedAt,
				).
				Suffix("ON CONFLICT (project_id, domain) DO NOTHING RETURNING id")).Scan(&c.ID)
			if isNoRows(err) {
				continue
			}
			if err != nil {
				return s.wrap(err, "insert company")
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *sqlStore) getCompany(ctx context.Context, r runner, id int64) (*model.DiscoveredCompany, error) {
	c, err := scanCompany(s.rowQ(ctx, r, s.sb.Select(companyColumns...).
		From("discovered_companies").Where(sq.Eq{"id": id})))
	if isNoRows(err) {
		return nil, notFound("company", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, s.wrap(err, "get company")
	}
	return c, nil
}

func (s *sqlStore) GetCompany(ctx context.Context, id int64) (*model.DiscoveredCompany, error) {
	return s.getCompany(ctx, s.r, id)
}

func (s *sqlStore) ListCompanies(ctx context.Context, sessionID string) ([]model.DiscoveredCompany, error) {
	return s.listCompanies(ctx, s.sb.Select(companyColumns...).From("discovered_companies").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id"), "list companies")
}

func (s *sqlStore) ListCompaniesForSessions(ctx context.Context, sessionIDs []string) ([]model.DiscoveredCompany, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	return s.listCompanies(ctx, s.sb.Select(companyColumns...).From("discovered_companies").
		Where(sq.Eq{"session_id": sessionIDs}).
		OrderBy("id"), "list companies for sessions")
}

func (s *sqlStore) ListUnscannedCompanies(ctx context.Context, sessionID string) ([]model.DiscoveredCompany, error) {
	return s.listCompanies(ctx, s.sb.Select(companyColumns...).From("discovered_companies").
		Where(sq.Eq{"session_id": sessionID, "risk_score": nil}).
		OrderBy("id"), "list unscanned companies")
}

func (s *sqlStore) MarkScanStarted(ctx context.Context, companyID int64) error {
	n, err := s.execQ(ctx, s.r, s.sb.Update("discovered_companies").
		Set("scan_status", string(model.ScanStatusScanning)).
		Set("scan_error", "").
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": companyID}))
	if err != nil {
		return s.wrap(err, "mark scan started")
	}
	return checkRowsAffected(n, "company", strconv.FormatInt(companyID, 10))
}

// RecordScanResult writes the scan verdict once and applies delta to the
// owning session in the same transaction. It reports false, leaving the
// counters alone, when the company already had a risk score.
func (s *sqlStore) RecordScanResult(ctx context.Context, companyID int64, res model.ScanResult, delta model.SessionCounters) (bool, error) {
	now := s.now()
	idStr := strconv.FormatInt(companyID, 10)
	var applied bool
	err := s.r.inTx(ctx, func(r runner) error {
		n, err := s.execQ(ctx, r, s.sb.Update("discovered_companies").
			Set("scan_target_ref", res.ScanID).
			Set("scan_status", string(model.ScanStatusCompleted)).
			Set("scan_error", "").
			Set("risk_score", res.RiskScore).
			Set("total_issues", res.TotalIssues).
			Set("critical_issues", res.Critical).
			Set("serious_issues", res.Serious).
			Set("moderate_issues", res.Moderate).
			Set("minor_issues", res.Minor).
			Set("top_violations", res.TopViolations(5)).
			Set("scanned_at", now).
			Set("updated_at", now).
			Where(sq.Eq{"id": companyID, "risk_score": nil}))
		if err != nil || n == 0 {
			return err
		}
		applied = true
		if delta.IsZero() {
			return nil
		}
		n, err = s.execQ(ctx, r, s.counterUpdate(delta).
			Where("id = (SELECT session_id FROM discovered_companies WHERE id = ?)", companyID))
		if err != nil {
			return err
		}
		return checkRowsAffected(n, "session for company", idStr)
	})
	if err != nil {
		return false, s.wrap(err, "record scan result")
	}
	return applied, nil
}

func (s *sqlStore) MarkScanFailed(ctx context.Context, companyID int64, msg string) error {
	_, err := s.execQ(ctx, s.r, s.sb.Update("discovered_companies").
		Set("scan_status", string(model.ScanStatusError)).
		Set("scan_error", msg).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": companyID, "risk_score": nil}))
	return s.wrap(err, "mark scan failed")
}

// ApplyContactTransition updates the company status, appends the history
// event and writes the audit entry in one transaction. The update is
// conditional on the status the caller validated against.
func (s *sqlStore) ApplyContactTransition(ctx context.Context, tr ContactTransition) (*model.DiscoveredCompany, error) {
	at := tr.At.UTC()
	if at.IsZero() {
		at = s.now()
	}
	idStr := strconv.FormatInt(tr.CompanyID, 10)

	var out *model.DiscoveredCompany
	err := s.r.inTx(ctx, func(r runner) error {
		b := s.sb.Update("discovered_companies").
			Set("contact_status", string(tr.To)).
			Set("last_contacted_at", at).
			Set("contacted_at", sq.Expr("COALESCE(contacted_at, ?)", at)).
			Set("updated_at", at)
		if tr.NoteEntry != "" {
			b = b.Set("notes", sq.Expr("CASE WHEN notes = '' THEN ? ELSE notes || ? END", tr.NoteEntry, "\n"+tr.NoteEntry))
		}
		n, err := s.execQ(ctx, r, b.Where(sq.Eq{"id": tr.CompanyID, "contact_status": string(tr.From)}))
		if err != nil {
			return s.wrap(err, "update contact status")
		}
		if n == 0 {
			return apperr.E(apperr.Precondition, "company %s is no longer %s", idStr, tr.From)
		}

		if _, err := s.execQ(ctx, r, s.sb.Insert("contact_status_events").
			Columns("company_id", "from_status", "to_status", "notes", "changed_by", "created_at").
			Values(tr.CompanyID, string(tr.From), string(tr.To), tr.Notes, tr.UserID, at)); err != nil {
			return s.wrap(err, "insert contact event")
		}

		if err := s.appendAudit(ctx, r, tr.Audit); err != nil {
			return err
		}

		out, err = s.getCompany(ctx, r, tr.CompanyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) ListContactEvents(ctx context.Context, companyID int64) ([]model.ContactStatusEvent, error) {
	rows, err := s.queryQ(ctx, s.r, s.sb.
		Select("id", "company_id", "from_status", "to_status", "notes", "changed_by", "created_at").
		From("contact_status_events").
		Where(sq.Eq{"company_id": companyID}).
		OrderBy("id"))
	if err != nil {
		return nil, s.wrap(err, "list contact events")
	}
	defer rows.Close()

	var out []model.ContactStatusEvent
	for rows.Next() {
		var e model.ContactStatusEvent
		var from, to string
		if err := rows.Scan(&e.ID, &e.CompanyID, &from, &to, &e.Notes, &e.ChangedBy, &e.CreatedAt); err != nil {
			return nil, s.wrap(err, "scan contact event")
		}
		e.FromStatus = model.ContactStatus(from)
		e.ToStatus = model.ContactStatus(to)
		out = append(out, e)
	}
	return out, s.wrap(rows.Err(), "list contact events")
}

// --- leads ---

var leadColumns = []string{
	"id", "company_id", "name", "title", "email", "phone", "linkedin_url", "source", "dedupe_key", "created_at",
}

// InsertLeads inserts leads, skipping contacts already stored for the same
// company, and returns how many rows were created.
func (s *sqlStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	var created int
	err := s.r.inTx(ctx, func(r runner) error {
		for _, l := range leads {
			if l.DedupeKey == "" {
				continue
			}
			n, err := s.execQ(ctx, r, s.sb.Insert("leads").
				Columns("company_id", "name", "title", "email", "phone", "linkedin_url", "source", "dedupe_key", "created_at").
				Values(l.CompanyID, l.Name, l.Title, l.Email, l.Phone, l.LinkedInURL, l.Source, l.DedupeKey, s.now()).
				Suffix("ON CONFLICT (company_id, dedupe_key) DO NOTHING"))
			if err != nil {
				return s.wrap(err, "insert lead")
			}
			created += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func scanLead(row scannable) (model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.CompanyID, &l.Name, &l.Title, &l.Email, &l.Phone,
		&l.LinkedInURL, &l.Source, &l.DedupeKey, &l.CreatedAt)
	return l, err
}

func (s *sqlStore) ListLeads(ctx context.Context, companyID int64) ([]model.Lead, error) {
	byCompany, err := s.ListLeadsForCompanies(ctx, []int64{companyID})
	if err != nil {
		return nil, err
	}
	return byCompany[companyID], nil
}

func (s *sqlStore) ListLeadsForCompanies(ctx context.Context, companyIDs []int64) (map[int64][]model.Lead, error) {
	out := make(map[int64][]model.Lead)
	if len(companyIDs) == 0 {
		return out, nil
	}
	rows, err := s.queryQ(ctx, s.r, s.sb.Select(leadColumns...).From("leads").
		Where(sq.Eq{"company_id": companyIDs}).
		OrderBy("company_id", "id"))
	if err != nil {
		return nil, s.wrap(err, "list leads")
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, s.wrap(err, "scan lead")
		}
		out[l.CompanyID] = append(out[l.CompanyID], l)
	}
	return out, s.wrap(rows.Err(), "list leads")
}

// --- scripts ---

var scriptColumns = []string{"id", "project_id", "company_id", "content", "tone", "created_by", "created_at"}

func scanScript(row scannable, extra ...any) (*model.SalesScript, error) {
	var sc model.SalesScript
	var tone string
	dest := []any{&sc.ID, &sc.ProjectID, &sc.CompanyID, &sc.Content, &tone, &sc.CreatedBy, &sc.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	sc.Tone = model.Tone(tone)
	return &sc, nil
}

// CreateSalesScript stores a new script, points the company at it, and
// writes the audit entry in one transaction.
func (s *sqlStore) CreateSalesScript(ctx context.Context, script *model.SalesScript, audit model.AuditLog) error {
	script.CreatedAt = s.now()
	return s.r.inTx(ctx, func(r runner) error {
		err := s.rowQ(ctx, r, s.sb.Insert("sales_scripts").
			Columns("project_id", "company_id", "content", "tone", "created_by", "created_at").
			Values(script.ProjectID, script.CompanyID, script.Content, string(script.Tone), script.CreatedBy, script.CreatedAt).
			Suffix("RETURNING id")).Scan(&script.ID)
		if err != nil {
			return s.wrap(err, "insert sales script")
		}

		n, err := s.execQ(ctx, r, s.sb.Update("discovered_companies").
			Set("sales_script_id", script.ID).
			Set("updated_at", script.CreatedAt).
			Where(sq.Eq{"id": script.CompanyID}))
		if err != nil {
			return s.wrap(err, "assign sales script")
		}
		if err := checkRowsAffected(n, "company", strconv.FormatInt(script.CompanyID, 10)); err != nil {
			return err
		}

		meta := model.Metadata{"sales_script_id": script.ID}
		for k, v := range audit.Metadata {
			meta[k] = v
		}
		audit.Metadata = meta
		return s.appendAudit(ctx, r, audit)
	})
}

func (s *sqlStore) GetSalesScript(ctx context.Context, id int64) (*model.SalesScript, error) {
	sc, err := scanScript(s.rowQ(ctx, s.r, s.sb.Select(scriptColumns...).
		From("sales_scripts").Where(sq.Eq{"id": id})))
	if isNoRows(err) {
		return nil, notFound("sales script", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, s.wrap(err, "get sales script")
	}
	return sc, nil
}

// ListSessionScripts returns the session's companies that have a current
// script, highest risk first, with their leads.
func (s *sqlStore) ListSessionScripts(ctx context.Context, sessionID string) ([]CompanyScript, error) {
	cols := append(prefixed(companyColumns, "c."), prefixed(scriptColumns, "s.")...)
	rows, err := s.queryQ(ctx, s.r, s.sb.Select(cols...).
		From("discovered_companies c").
		Join("sales_scripts s ON s.id = c.sales_script_id").
		Where(sq.Eq{"c.session_id": sessionID}).
		OrderBy("c.risk_score DESC", "c.id"))
	if err != nil {
		return nil, s.wrap(err, "list session scripts")
	}
	defer rows.Close()

	var out []CompanyScript
	var ids []int64
	for rows.Next() {
		var sc model.SalesScript
		var tone string
		c, err := scanCompany(rows, &sc.ID, &sc.ProjectID, &sc.CompanyID, &sc.Content, &tone, &sc.CreatedBy, &sc.CreatedAt)
		if err != nil {
			return nil, s.wrap(err, "scan session script")
		}
		sc.Tone = model.Tone(tone)
		out = append(out, CompanyScript{Company: *c, Script: sc})
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, "list session scripts")
	}
	rows.Close()

	leads, err := s.ListLeadsForCompanies(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Leads = leads[out[i].Company.ID]
	}
	return out, nil
}

// --- CRM sync ---

var crmSyncColumns = []string{
	"company_id", "provider", "external_company_id", "external_contact_ids", "external_deal_id",
	"status", "last_error", "attempts", "synced_at", "updated_at",
}

// SaveCRMSync upserts the sync row for a company and bumps its attempt count.
func (s *sqlStore) SaveCRMSync(ctx context.Context, cs model.CRMSync) error {
	now := s.now()
	var syncedAt *time.Time
	if cs.Status == model.CRMSyncStatusSynced {
		syncedAt = &now
	}
	_, err := s.execQ(ctx, s.r, s.sb.Insert("crm_syncs").
		Columns(crmSyncColumns...).
		Values(cs.CompanyID, cs.Provider, cs.ExternalCompanyID, cs.ExternalContactIDs, cs.ExternalDealID,
			string(cs.Status), cs.LastError, 1, syncedAt, now).
		Suffix(`ON CONFLICT (company_id) DO UPDATE SET
			provider = excluded.provider,
			external_company_id = excluded.external_company_id,
			external_contact_ids = excluded.external_contact_ids,
			external_deal_id = excluded.external_deal_id,
			status = excluded.status,
			last_error = excluded.last_error,
			attempts = crm_syncs.attempts + 1,
			synced_at = COALESCE(excluded.synced_at, crm_syncs.synced_at),
			updated_at = excluded.updated_at`))
	return s.wrap(err, "save crm sync")
}

func scanCRMSync(row scannable) (*model.CRMSync, error) {
	var cs model.CRMSync
	var status string
	err := row.Scan(&cs.CompanyID, &cs.Provider, &cs.ExternalCompanyID, &cs.ExternalContactIDs,
		&cs.ExternalDealID, &status, &cs.LastError, &cs.Attempts, &cs.SyncedAt, &cs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cs.Status = model.CRMSyncStatus(status)
	return &cs, nil
}

func (s *sqlStore) GetCRMSync(ctx context.Context, companyID int64) (*model.CRMSync, error) {
	cs, err := scanCRMSync(s.rowQ(ctx, s.r, s.sb.Select(crmSyncColumns...).
		From("crm_syncs").Where(sq.Eq{"company_id": companyID})))
	if isNoRows(err) {
		return nil, notFound("crm sync", strconv.FormatInt(companyID, 10))
	}
	if err != nil {
		return nil, s.wrap(err, "get crm sync")
	}
	return cs, nil
}

func (s *sqlStore) ListFailedCRMSyncs(ctx context.Context, maxAttempts, limit int) ([]model.CRMSync, error) {
	rows, err := s.queryQ(ctx, s.r, s.sb.Select(crmSyncColumns...).From("crm_syncs").
		Where(sq.Eq{"status": string(model.CRMSyncStatusFailed)}).
		Where(sq.Lt{"attempts": maxAttempts}).
		OrderBy("updated_at").
		Limit(uint64(limit)))
	if err != nil {
		return nil, s.wrap(err, "list failed crm syncs")
	}
	defer rows.Close()

	var out []model.CRMSync
	for rows.Next() {
		cs, err := scanCRMSync(rows)
		if err != nil {
			return nil, s.wrap(err, "scan crm sync")
		}
		out = append(out, *cs)
	}
	return out, s.wrap(rows.Err(), "list failed crm syncs")
}

func (s *sqlStore) countBy(ctx context.Context, b sq.SelectBuilder, action string) (map[string]int, error) {
	rows, err := s.queryQ(ctx, s.r, b)
	if err != nil {
		return nil, s.wrap(err, action)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, s.wrap(err, action)
		}
		out[key] = n
	}
	return out, s.wrap(rows.Err(), action)
}

func (s *sqlStore) CountCRMSyncsByStatus(ctx context.Context) (map[model.CRMSyncStatus]int, error) {
	counts, err := s.countBy(ctx, s.sb.Select("status", "COUNT(*)").From("crm_syncs").
		GroupBy("status"), "count crm syncs")
	if err != nil {
		return nil, err
	}
	out := make(map[model.CRMSyncStatus]int, len(counts))
	for k, n := range counts {
		out[model.CRMSyncStatus(k)] = n
	}
	return out, nil
}

// --- audit ---

func (s *sqlStore) appendAudit(ctx context.Context, r runner, a model.AuditLog) error {
	if a.Action == "" {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.execQ(ctx, r, s.sb.Insert("audit_logs").
		Columns("user_id", "action", "resource_type", "resource_id", "description", "metadata", "success", "created_at").
		Values(a.UserID, a.Action, a.ResourceType, a.ResourceID, strings.TrimSpace(a.Description), a.Metadata, a.Success, a.CreatedAt.UTC()))
	return s.wrap(err, "append audit")
}

func (s *sqlStore) AppendAudit(ctx context.Context, entry model.AuditLog) error {
	return s.appendAudit(ctx, s.r, entry)
}
