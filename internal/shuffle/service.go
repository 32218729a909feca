package shuffle

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/analytics"
	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/discovery"
	"github.com/lucy-a11y/shuffle/internal/events"
	"github.com/lucy-a11y/shuffle/internal/lifecycle"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/store"
)

// StartRequest is the input to StartShuffle.
type StartRequest struct {
	ProjectID       int64   `json:"project_id"`
	Category        string  `json:"category"`
	Demographics    *string `json:"demographics,omitempty"`
	SitesToDiscover int     `json:"sites_to_discover"`
}

// CompanyDetail is a discovered company with its leads.
type CompanyDetail struct {
	model.DiscoveredCompany
	Leads []model.Lead `json:"leads"`
}

// SessionDetails is a session with live progress and its companies.
type SessionDetails struct {
	Session   model.ShuffleSession `json:"session"`
	Progress  int                  `json:"progress_percent"`
	Companies []CompanyDetail      `json:"companies"`
}

// Progress is the share of discovered sites that reached an outcome, 0-100.
func Progress(s *model.ShuffleSession) int {
	if s.TotalSites <= 0 {
		if s.Status.IsTerminal() {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(s.Attempted()) * 100 / float64(s.TotalSites)))
}

// Service is the inbound API. It owns the background goroutines that run
// sessions; Shutdown stops and waits for them.
type Service struct {
	store   store.Store
	orch    *Orchestrator
	scripts ScriptWriter
	machine *lifecycle.Machine
	events  events.Publisher
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	active  map[string]struct{}
}

// NewService creates a Service around orch.
func NewService(orch *Orchestrator) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   orch.Store,
		orch:    orch,
		scripts: orch.Scripts,
		machine: lifecycle.New(orch.Store),
		events:  orch.Events,
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
		active:  make(map[string]struct{}),
	}
}

func errNotConfigured(what string) error {
	return apperr.E(apperr.Configuration, "shuffle: %s is not configured", what)
}

func forbidden(resource string, id any) error {
	return apperr.E(apperr.Forbidden, "shuffle: %s %v does not belong to the caller", resource, id)
}

func (s *Service) authorizeProject(ctx context.Context, userID string, projectID int64) (*model.Project, error) {
	if userID == "" {
		return nil, apperr.E(apperr.Forbidden, "shuffle: caller is not identified")
	}
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != userID {
		return nil, forbidden("project", projectID)
	}
	return p, nil
}

func (s *Service) authorizeSession(ctx context.Context, userID, sessionID string) (*model.ShuffleSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeProject(ctx, userID, sess.ProjectID); err != nil {
		if apperr.Is(err, apperr.Forbidden) {
			return nil, forbidden("session", sessionID)
		}
		return nil, err
	}
	return sess, nil
}

func (s *Service) authorizeCompany(ctx context.Context, userID string, companyID int64) (*model.DiscoveredCompany, error) {
	c, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeProject(ctx, userID, c.ProjectID); err != nil {
		if apperr.Is(err, apperr.Forbidden) {
			return nil, forbidden("company", companyID)
		}
		return nil, err
	}
	return c, nil
}

// StartShuffle validates the request, creates a running session, and starts
// discovery and the site batch in the background. It returns the session id
// without waiting for any site.
func (s *Service) StartShuffle(ctx context.Context, userID string, req StartRequest) (string, error) {
	var demographics string
	if req.Demographics != nil {
		demographics = strings.TrimSpace(*req.Demographics)
	}
	dreq := discovery.Request{
		ProjectID:       req.ProjectID,
		Category:        strings.TrimSpace(req.Category),
		Demographics:    demographics,
		SitesToDiscover: req.SitesToDiscover,
	}
	if err := dreq.Validate(); err != nil {
		return "", err
	}
	if _, err := s.authorizeProject(ctx, userID, req.ProjectID); err != nil {
		return "", err
	}
	if err := s.orch.Ready(); err != nil {
		return "", err
	}

	sess := &model.ShuffleSession{
		ID:                 uuid.NewString(),
		ProjectID:          req.ProjectID,
		UserID:             userID,
		Category:           dreq.Category,
		RequestedSiteCount: req.SitesToDiscover,
		Status:             model.SessionStatusRunning,
		StartedAt:          s.now(),
	}
	if demographics != "" {
		sess.Demographics = &demographics
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}

	if err := s.store.AppendAudit(ctx, model.AuditLog{
		UserID:       userID,
		Action:       model.AuditShuffleStarted,
		ResourceType: "shuffle_session",
		ResourceID:   sess.ID,
		Description:  fmt.Sprintf("Started shuffle for %q (%d sites)", sess.SearchQuery(), sess.RequestedSiteCount),
		Metadata: model.Metadata{
			"category":          sess.Category,
			"sites_to_discover": sess.RequestedSiteCount,
		},
		Success: true,
	}); err != nil {
		zap.L().Warn("shuffle: audit start", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if err := s.events.Publish(ctx, events.FromSession(events.TypeShuffleStarted, sess, s.now())); err != nil {
		zap.L().Warn("shuffle: publish started event", zap.String("session_id", sess.ID), zap.Error(err))
	}

	started := *sess
	s.launch(&started, s.orch.Run)
	return sess.ID, nil
}

// Resume restarts a running session left behind by a previous process. It
// reports false when the session is already active here.
func (s *Service) Resume(sess *model.ShuffleSession) bool {
	if sess.Status.IsTerminal() {
		return false
	}
	return s.launch(sess, s.orch.Resume)
}

func (s *Service) launch(sess *model.ShuffleSession, run func(context.Context, *model.ShuffleSession) error) bool {
	s.mu.Lock()
	if _, ok := s.active[sess.ID]; ok {
		s.mu.Unlock()
		return false
	}
	if s.baseCtx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.active[sess.ID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, sess.ID)
			s.mu.Unlock()
		}()
		if err := run(s.baseCtx, sess); err != nil && s.baseCtx.Err() == nil {
			zap.L().Error("shuffle: session run failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()
	return true
}

// Active reports whether the session is being processed by this Service.
func (s *Service) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// Shutdown stops dispatching new sites and waits for in-flight sessions to
// return. Interrupted sessions stay running and are resumed on next start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetShuffleSessions lists a project's sessions, newest first.
func (s *Service) GetShuffleSessions(ctx context.Context, userID string, projectID int64) ([]model.ShuffleSession, error) {
	if _, err := s.authorizeProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, projectID)
}

// GetShuffleDetails returns a session with its companies and their leads.
func (s *Service) GetShuffleDetails(ctx context.Context, userID, sessionID string) (*SessionDetails, error) {
	sess, err := s.authorizeSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	companies, err := s.store.ListCompanies(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(companies))
	for i, c := range companies {
		ids[i] = c.ID
	}
	byCompany, err := s.store.ListLeadsForCompanies(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := &SessionDetails{
		Session:   *sess,
		Progress:  Progress(sess),
		Companies: make([]CompanyDetail, len(companies)),
	}
	for i, c := range companies {
		leads := byCompany[c.ID]
		if leads == nil {
			leads = []model.Lead{}
		}
		out.Companies[i] = CompanyDetail{DiscoveredCompany: c, Leads: leads}
	}
	return out, nil
}

// GenerateScriptForCompany writes a new sales script for a scanned company.
func (s *Service) GenerateScriptForCompany(ctx context.Context, userID string, companyID int64, tone string) (*model.SalesScript, error) {
	t, ok := model.ParseTone(tone)
	if !ok {
		return nil, apperr.E(apperr.Validation, "shuffle: tone must be professional, friendly, or urgent; got %q", tone)
	}
	company, err := s.authorizeCompany(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	if s.scripts == nil {
		return nil, errNotConfigured("script generation")
	}
	return s.scripts.Write(ctx, company, t, userID)
}

// UpdateCompanyContactStatus moves a company along the contact funnel.
func (s *Service) UpdateCompanyContactStatus(ctx context.Context, userID string, companyID int64, status, notes string) (*model.DiscoveredCompany, error) {
	company, err := s.authorizeCompany(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	return s.machine.Transition(ctx, company, model.ContactStatus(status), notes, userID)
}

// GetSalesAnalytics reports funnel metrics for one project, or for every
// project the caller owns when projectID is nil.
func (s *Service) GetSalesAnalytics(ctx context.Context, userID string, projectID *int64, timeRange string) (*analytics.Report, error) {
	r, err := analytics.ParseRange(timeRange)
	if err != nil {
		return nil, err
	}

	var projectIDs []int64
	if projectID != nil {
		if _, err := s.authorizeProject(ctx, userID, *projectID); err != nil {
			return nil, err
		}
		projectIDs = []int64{*projectID}
	} else {
		if userID == "" {
			return nil, apperr.E(apperr.Forbidden, "shuffle: caller is not identified")
		}
		projectIDs, err = s.store.ListProjectIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	since := r.Since(s.now())
	var in analytics.Input
	if len(projectIDs) > 0 {
		in.Sessions, err = s.store.ListSessionsSince(ctx, projectIDs, since)
		if err != nil {
			return nil, err
		}
	}
	if len(in.Sessions) > 0 {
		sessionIDs := make([]string, len(in.Sessions))
		for i, ss := range in.Sessions {
			sessionIDs[i] = ss.ID
		}
		in.Companies, err = s.store.ListCompaniesForSessions(ctx, sessionIDs)
		if err != nil {
			return nil, err
		}
		companyIDs := make([]int64, len(in.Companies))
		for i, c := range in.Companies {
			companyIDs[i] = c.ID
		}
		byCompany, err := s.store.ListLeadsForCompanies(ctx, companyIDs)
		if err != nil {
			return nil, err
		}
		in.LeadCounts = make(map[int64]int, len(byCompany))
		for id, ls := range byCompany {
			in.LeadCounts[id] = len(ls)
		}
	}

	rep := analytics.Compute(r, since, in)
	return &rep, nil
}

// CancelShuffle asks a running session to stop. Sites already in flight
// finish; no new sites start. It reports whether the request took effect.
func (s *Service) CancelShuffle(ctx context.Context, userID, sessionID string) (bool, error) {
	sess, err := s.authorizeSession(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Status.IsTerminal() {
		return false, apperr.E(apperr.Precondition, "shuffle: session %s already finished as %s", sessionID, sess.Status)
	}
	ok, err := s.store.RequestCancel(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if err := s.store.AppendAudit(ctx, model.AuditLog{
		UserID:       userID,
		Action:       model.AuditShuffleCancelled,
		ResourceType: "shuffle_session",
		ResourceID:   sessionID,
		Description:  "Cancelled shuffle for " + strconv.Quote(sess.SearchQuery()),
		Success:      ok,
	}); err != nil {
		zap.L().Warn("shuffle: audit cancel", zap.String("session_id", sessionID), zap.Error(err))
	}
	return ok, nil
}

// GetShuffleSalesScripts lists a session's companies that have a current
// script, highest risk first, with their leads.
func (s *Service) GetShuffleSalesScripts(ctx context.Context, userID, sessionID string) ([]store.CompanyScript, error) {
	if _, err := s.authorizeSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSessionScripts(ctx, sessionID)
}
