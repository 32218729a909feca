// Package shuffle runs prospecting sessions: discovery, then a bounded batch
// of per-site scan, classify, lead, CRM, and script stages.
package shuffle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucy-a11y/shuffle/internal/classify"
	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/discovery"
	"github.com/lucy-a11y/shuffle/internal/events"
	"github.com/lucy-a11y/shuffle/internal/leads"
	"github.com/lucy-a11y/shuffle/internal/metrics"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/resilience"
	"github.com/lucy-a11y/shuffle/internal/store"
	"github.com/lucy-a11y/shuffle/pkg/scanengine"
)

// Concurrency bounds for the per-site worker pool.
const (
	DefaultConcurrency = 4
	MaxConcurrency     = 10
)

// systemUser attributes work done by the pipeline itself.
const systemUser = "system"

// Discoverer finds candidate sites for a session.
type Discoverer interface {
	Provider() string
	Discover(ctx context.Context, req discovery.Request) ([]discovery.Candidate, error)
}

// CRMSyncer pushes a non-compliant company and its leads to the CRM.
type CRMSyncer interface {
	Sync(ctx context.Context, company *model.DiscoveredCompany, leads []model.Lead) (*model.CRMSync, error)
}

// ScriptWriter generates outreach copy for a scanned company.
type ScriptWriter interface {
	Write(ctx context.Context, company *model.DiscoveredCompany, tone model.Tone, userID string) (*model.SalesScript, error)
}

// Deps are the collaborators of an Orchestrator. Discoverer and Scanner are
// required to start sessions; the rest may be nil.
type Deps struct {
	Store      store.Store
	Discoverer Discoverer
	Scanner    scanengine.Client
	Finder     leads.Finder
	CRM        CRMSyncer
	Scripts    ScriptWriter
	Events     events.Publisher
}

// Orchestrator drives one session at a time per call; calls for different
// sessions may run concurrently.
type Orchestrator struct {
	Deps
	concurrency int
	autoScript  bool
	tone        model.Tone
	timeouts    config.TimeoutConfig
	policy      resilience.RetryPolicy
	now         func() time.Time
}

// NewOrchestrator builds an Orchestrator from cfg.
func NewOrchestrator(d Deps, cfg *config.Config) *Orchestrator {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	tone, ok := model.ParseTone(cfg.Pipeline.DefaultTone)
	if !ok {
		tone = model.ToneProfessional
	}
	return &Orchestrator{
		Deps:        d,
		concurrency: ClampConcurrency(cfg.Pipeline.Concurrency),
		autoScript:  cfg.Pipeline.AutoScript,
		tone:        tone,
		timeouts:    cfg.Timeouts,
		policy:      resilience.PolicyFromConfig(cfg.Retry),
		now:         time.Now,
	}
}

// ClampConcurrency maps n onto [1, MaxConcurrency], using the default for n <= 0.
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}

// Ready reports a configuration error when sessions cannot be started.
func (o *Orchestrator) Ready() error {
	switch {
	case o.Discoverer == nil:
		return errNotConfigured("search provider")
	case o.Scanner == nil:
		return errNotConfigured("scan engine")
	}
	return nil
}

// Run discovers sites for a freshly created session and processes them.
// It returns once the session is terminal, or early with ctx's error when
// ctx is cancelled, leaving the session running for a later Resume.
func (o *Orchestrator) Run(ctx context.Context, sess *model.ShuffleSession) error {
	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()

	log := sessionLogger(sess)
	log.Info("shuffle: session started", zap.String("query", sess.SearchQuery()))

	companies, err := o.discover(ctx, sess, log)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.finish(ctx, sess, model.SessionStatusFailed, err.Error(), log)
		return nil
	}
	if len(companies) == 0 {
		o.finish(ctx, sess, model.SessionStatusFailed,
			fmt.Sprintf("no new sites found for %q", sess.SearchQuery()), log)
		return nil
	}
	return o.process(ctx, sess, companies, log)
}

// Resume continues an interrupted session. Sites that already have a risk
// score are skipped; sites that failed are attempted again.
func (o *Orchestrator) Resume(ctx context.Context, sess *model.ShuffleSession) error {
	log := sessionLogger(sess)

	all, err := o.Store.ListCompanies(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		log.Info("shuffle: resuming before discovery")
		return o.Run(ctx, sess)
	}

	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()

	pending, err := o.Store.ListUnscannedCompanies(ctx, sess.ID)
	if err != nil {
		return err
	}
	if err := o.Store.ResetFailedSites(ctx, sess.ID); err != nil {
		return err
	}
	log.Info("shuffle: session resumed", zap.Int("pending", len(pending)), zap.Int("total", len(all)))
	return o.process(ctx, sess, pending, log)
}

func (o *Orchestrator) discover(ctx context.Context, sess *model.ShuffleSession, log *zap.Logger) ([]model.DiscoveredCompany, error) {
	req := discovery.Request{
		ProjectID:       sess.ProjectID,
		Category:        sess.Category,
		SitesToDiscover: sess.RequestedSiteCount,
	}
	if sess.Demographics != nil {
		req.Demographics = *sess.Demographics
	}

	candidates, err := runStage(ctx, o, log, metrics.StageDiscover, o.timeouts.Search(),
		func(ctx context.Context) ([]discovery.Candidate, error) {
			return o.Discoverer.Discover(ctx, req)
		})
	if err != nil {
		return nil, err
	}

	rows := make([]model.DiscoveredCompany, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, c.Company(sess.ID, sess.ProjectID))
	}
	created, err := o.Store.InsertCompanies(ctx, rows)
	if err != nil {
		return nil, err
	}
	if err := o.Store.SetSessionTotal(ctx, sess.ID, len(created)); err != nil {
		return nil, err
	}
	sess.TotalSites = len(created)
	log.Info("shuffle: sites discovered",
		zap.String("provider", o.Discoverer.Provider()),
		zap.Int("requested", sess.RequestedSiteCount),
		zap.Int("found", len(created)),
	)
	return created, nil
}

// process runs the per-site pipeline over companies through the worker pool.
// The pool never aborts on a site error. A site checks for cancellation when
// it gets a worker, so a cancel lets in-flight sites finish and starts no more.
func (o *Orchestrator) process(ctx context.Context, sess *model.ShuffleSession, companies []model.DiscoveredCompany, log *zap.Logger) error {
	var g errgroup.Group
	g.SetLimit(o.concurrency)

	var cancelled atomic.Bool
	for _, c := range companies {
		if ctx.Err() != nil || cancelled.Load() {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || cancelled.Load() {
				return nil
			}
			if o.cancelRequested(ctx, sess.ID, log) {
				cancelled.Store(true)
				return nil
			}
			o.processSite(ctx, sess, c)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn("shuffle: interrupted; session left running for resume", zap.Error(err))
		return err
	}
	current, err := o.Store.GetSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	status := model.SessionStatusCompleted
	switch {
	case cancelled.Load() || current.CancelRequested:
		status = model.SessionStatusCancelled
	case current.FailedSites > 0:
		status = model.SessionStatusPartialFailure
	}
	var msg string
	if status == model.SessionStatusPartialFailure {
		msg = fmt.Sprintf("%d of %d sites failed", current.FailedSites, current.TotalSites)
	}
	o.finish(ctx, sess, status, msg, log)
	return nil
}

func (o *Orchestrator) cancelRequested(ctx context.Context, id string, log *zap.Logger) bool {
	s, err := o.Store.GetSession(ctx, id)
	if err != nil {
		log.Warn("shuffle: cancel check failed", zap.Error(err))
		return false
	}
	return s.CancelRequested
}

// processSite runs one site's stages in order. Scan failure fails the site;
// later stages are best effort once the site is classified.
func (o *Orchestrator) processSite(ctx context.Context, sess *model.ShuffleSession, c model.DiscoveredCompany) {
	log := sessionLogger(sess).With(zap.Int64("company_id", c.ID), zap.String("domain", c.Domain))

	if err := o.Store.MarkScanStarted(ctx, c.ID); err != nil {
		log.Warn("shuffle: mark scan started", zap.Error(err))
	}
	res, err := runStage(ctx, o, log, metrics.StageScan, o.timeouts.Scan(),
		func(ctx context.Context) (*model.ScanResult, error) {
			return o.Scanner.Scan(ctx, c.WebsiteURL)
		})
	if err != nil {
		o.siteFailed(ctx, sess, c, "scan", err, log)
		return
	}

	verdict := classify.Classify(res.RiskScore)
	changed, err := o.Store.RecordScanResult(ctx, c.ID, *res, verdict.Counters())
	if err != nil {
		o.siteFailed(ctx, sess, c, "classify", err, log)
		return
	}
	if !changed {
		log.Info("shuffle: site already classified")
		return
	}
	applyScan(&c, res)

	var found leadResult
	if verdict == classify.NonCompliant {
		found = o.extractLeads(ctx, sess, &c, log)
		o.syncCRM(ctx, &c, found.leads, log)
		if o.autoScript {
			o.writeScript(ctx, &c, log)
		}
	}

	metrics.ObserveSite(string(verdict))
	log.Info("shuffle: site complete",
		zap.String("verdict", string(verdict)),
		zap.Int("risk_score", res.RiskScore),
		zap.Int("total_issues", res.TotalIssues),
		zap.Int("leads", found.created),
	)
}

func (o *Orchestrator) siteFailed(ctx context.Context, sess *model.ShuffleSession, c model.DiscoveredCompany, stage string, err error, log *zap.Logger) {
	if ctx.Err() != nil {
		// Shutting down: leave the site unscanned so a resume retries it.
		return
	}
	log.Warn("shuffle: site failed", zap.String("stage", stage), zap.Error(err))
	if markErr := o.Store.MarkScanFailed(ctx, c.ID, stage+": "+err.Error()); markErr != nil {
		log.Error("shuffle: mark scan failed", zap.Error(markErr))
	}
	if incErr := o.Store.IncrementSessionCounters(ctx, sess.ID, model.SessionCounters{Failed: 1}); incErr != nil {
		log.Error("shuffle: increment counters", zap.Error(incErr))
	}
	metrics.ObserveSite("failed")
}

type leadResult struct {
	leads   []model.Lead
	created int
}

func (o *Orchestrator) extractLeads(ctx context.Context, sess *model.ShuffleSession, c *model.DiscoveredCompany, log *zap.Logger) leadResult {
	if o.Finder == nil {
		return leadResult{}
	}
	contacts, err := runStage(ctx, o, log, metrics.StageLeads, o.timeouts.Leads(),
		func(ctx context.Context) ([]model.Contact, error) {
			return o.Finder.FindDecisionMakers(ctx, c.CompanyName, c.WebsiteURL)
		})
	if err != nil {
		log.Warn("shuffle: lead extraction failed", zap.String("finder", o.Finder.Name()), zap.Error(err))
		return leadResult{}
	}

	rows := make([]model.Lead, 0, len(contacts))
	for _, contact := range leads.Normalize(contacts, leads.DefaultMaxContacts) {
		rows = append(rows, model.NewLead(c.ID, contact, o.Finder.Name()))
	}
	created, err := o.Store.InsertLeads(ctx, rows)
	if err != nil {
		log.Warn("shuffle: store leads", zap.Error(err))
		return leadResult{}
	}
	metrics.AddLeads(created)
	// Rows are stored; count them even if the session is being torn down.
	if err := o.Store.IncrementSessionCounters(context.WithoutCancel(ctx), sess.ID, model.SessionCounters{Leads: created}); err != nil {
		log.Error("shuffle: increment lead counter", zap.Error(err))
	}

	stored, err := o.Store.ListLeads(ctx, c.ID)
	if err != nil {
		log.Warn("shuffle: reload leads", zap.Error(err))
		stored = rows
	}
	return leadResult{leads: stored, created: created}
}

func (o *Orchestrator) syncCRM(ctx context.Context, c *model.DiscoveredCompany, found []model.Lead, log *zap.Logger) {
	if o.CRM == nil {
		return
	}
	start := time.Now()
	sctx, cancel := withTimeout(ctx, o.timeouts.CRM())
	defer cancel()
	_, err := o.CRM.Sync(sctx, c, found)
	metrics.ObserveStage(metrics.StageCRM, time.Since(start), err)
	if err != nil {
		log.Warn("shuffle: crm sync failed; queued for retry", zap.Error(err))
	}
}

func (o *Orchestrator) writeScript(ctx context.Context, c *model.DiscoveredCompany, log *zap.Logger) {
	if o.Scripts == nil {
		return
	}
	start := time.Now()
	script, err := o.Scripts.Write(ctx, c, o.tone, systemUser)
	metrics.ObserveStage(metrics.StageScript, time.Since(start), err)
	if err != nil {
		log.Warn("shuffle: auto script failed", zap.Error(err))
		return
	}
	c.SalesScriptID = &script.ID
}

// finish marks the session terminal and announces it. It runs on a context
// detached from ctx so a finishing write is not lost to a late cancel.
func (o *Orchestrator) finish(ctx context.Context, sess *model.ShuffleSession, status model.SessionStatus, msg string, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := o.Store.FinishSession(ctx, sess.ID, status, msg); err != nil {
		log.Error("shuffle: finish session", zap.Error(err))
		return
	}
	metrics.ObserveSession(string(status))

	final, err := o.Store.GetSession(ctx, sess.ID)
	if err != nil {
		log.Warn("shuffle: reload finished session", zap.Error(err))
		final = sess
		final.Status = status
		final.ErrorMessage = msg
	}
	*sess = *final

	log.Info("shuffle: session finished",
		zap.String("status", string(final.Status)),
		zap.Int("total", final.TotalSites),
		zap.Int("scanned", final.ScannedSites),
		zap.Int("non_compliant", final.NonCompliantSites),
		zap.Int("failed", final.FailedSites),
		zap.Int("leads", final.LeadsGenerated),
		zap.String("error", final.ErrorMessage),
	)
	if err := o.Events.Publish(ctx, events.FromSession(events.TypeShuffleFinished, final, o.now())); err != nil {
		log.Warn("shuffle: publish finished event", zap.Error(err))
	}
}

// runStage runs fn under the retry policy with a fresh timeout per attempt
// and records the stage duration.
func runStage[T any](ctx context.Context, o *Orchestrator, log *zap.Logger, stage string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := resilience.DoVal(ctx, o.policy.WithLogger(log, stage), func(ctx context.Context) (T, error) {
		actx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		return fn(actx)
	})
	metrics.ObserveStage(stage, time.Since(start), err)
	return v, err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func applyScan(c *model.DiscoveredCompany, res *model.ScanResult) {
	risk, total := res.RiskScore, res.TotalIssues
	c.RiskScore = &risk
	c.TotalIssues = &total
	c.CriticalIssues = res.Critical
	c.SeriousIssues = res.Serious
	c.ModerateIssues = res.Moderate
	c.MinorIssues = res.Minor
	c.TopViolations = res.TopViolations(5)
	c.ScanTargetRef = res.ScanID
	c.ScanStatus = model.ScanStatusCompleted
}

func sessionLogger(sess *model.ShuffleSession) *zap.Logger {
	return zap.L().With(zap.String("session_id", sess.ID), zap.Int64("project_id", sess.ProjectID))
}
