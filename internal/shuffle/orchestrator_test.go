package shuffle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/store"
)

type harness struct {
	st      store.Store
	disc    *fakeDiscoverer
	scan    *fakeScanner
	finder  *fakeFinder
	crm     *fakeCRM
	scripts *fakeScripts
	pub     *capturePublisher
	orch    *Orchestrator
	svc     *Service
	project *model.Project
}

func newHarness(t *testing.T, concurrency int, domains ...string) *harness {
	t.Helper()
	st := newTestStore(t)
	h := &harness{
		st:      st,
		disc:    &fakeDiscoverer{candidates: candidates(domains...)},
		scan:    &fakeScanner{risk: map[string]int{}, errs: map[string]error{}},
		finder:  &fakeFinder{},
		crm:     &fakeCRM{},
		scripts: &fakeScripts{st: st},
		pub:     &capturePublisher{},
	}
	h.orch = NewOrchestrator(Deps{
		Store:      st,
		Discoverer: h.disc,
		Scanner:    h.scan,
		Finder:     h.finder,
		CRM:        h.crm,
		Scripts:    h.scripts,
		Events:     h.pub,
	}, testConfig(concurrency))
	h.svc = NewService(h.orch)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})

	p, err := st.CreateProject(context.Background(), "user-1", "Dental outreach")
	require.NoError(t, err)
	h.project = p
	return h
}

// newSession creates a running session row without starting it.
func (h *harness) newSession(t *testing.T, requested int) *model.ShuffleSession {
	t.Helper()
	demo := "in Austin"
	sess := &model.ShuffleSession{
		ID:                 uuid.NewString(),
		ProjectID:          h.project.ID,
		UserID:             "user-1",
		Category:           "dentists",
		Demographics:       &demo,
		RequestedSiteCount: requested,
	}
	require.NoError(t, h.st.CreateSession(context.Background(), sess))
	return sess
}

func (h *harness) session(t *testing.T, id string) *model.ShuffleSession {
	t.Helper()
	s, err := h.st.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) waitTerminal(t *testing.T, id string) *model.ShuffleSession {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.session(t, id).Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return h.session(t, id)
}

func TestClampConcurrency(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultConcurrency, ClampConcurrency(0))
	assert.Equal(t, DefaultConcurrency, ClampConcurrency(-2))
	assert.Equal(t, 1, ClampConcurrency(1))
	assert.Equal(t, 7, ClampConcurrency(7))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(64))
}

func TestOrchestrator_Run(t *testing.T) {
	h := newHarness(t, 3, "a.com", "b.com", "c.com", "d.com", "e.com")
	h.scan.risk = map[string]int{"https://a.com": 85, "https://b.com": 40, "https://d.com": 70, "https://e.com": 10}
	h.scan.errs["https://c.com"] = errors.New("scan engine: unexpected status 400")

	sess := h.newSession(t, 5)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusPartialFailure, got.Status)
	assert.Equal(t, "1 of 5 sites failed", got.ErrorMessage)
	assert.Equal(t, 5, got.TotalSites)
	assert.Equal(t, 4, got.ScannedSites)
	assert.Equal(t, 2, got.CompliantSites)
	assert.Equal(t, 2, got.NonCompliantSites)
	assert.Equal(t, 1, got.FailedSites)
	assert.Equal(t, 4, got.LeadsGenerated, "two distinct contacts per non-compliant site")
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, 2, h.crm.Calls(), "only non-compliant sites are synced")
	assert.Zero(t, h.scripts.calls.Load(), "auto script is off by default")

	companies, err := h.st.ListCompanies(context.Background(), sess.ID)
	require.NoError(t, err)
	byDomain := map[string]model.DiscoveredCompany{}
	for _, c := range companies {
		byDomain[c.Domain] = c
	}
	assert.Equal(t, model.ScanStatusError, byDomain["c.com"].ScanStatus)
	assert.Contains(t, byDomain["c.com"].ScanError, "scan: ")
	assert.Nil(t, byDomain["c.com"].RiskScore)
	require.NotNil(t, byDomain["d.com"].RiskScore)
	assert.Equal(t, 70, *byDomain["d.com"].RiskScore)

	leadsB, err := h.st.ListLeads(context.Background(), byDomain["b.com"].ID)
	require.NoError(t, err)
	assert.Empty(t, leadsB, "compliant sites get no leads")

	assert.Equal(t, []string{"shuffle.finished"}, h.pub.Types())
}

func TestOrchestrator_AllCompliantCompletes(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com", "c.com", "d.com", "e.com")
	sess := h.newSession(t, 5)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 5, got.CompliantSites)
	assert.Zero(t, got.LeadsGenerated)
	assert.Zero(t, h.crm.Calls())
}

func TestOrchestrator_DiscoveryFailure(t *testing.T) {
	h := newHarness(t, 2)
	h.disc.err = apperr.Wrap(errors.New("google: unexpected status 403"), apperr.External, "discovery: search provider unavailable")

	sess := h.newSession(t, 5)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "search provider unavailable")
	assert.Zero(t, got.TotalSites)
	assert.Empty(t, h.scan.Scanned())
}

func TestOrchestrator_NoSitesFound(t *testing.T) {
	h := newHarness(t, 2)
	sess := h.newSession(t, 5)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusFailed, got.Status)
	assert.Equal(t, `no new sites found for "dentists in Austin"`, got.ErrorMessage)
}

func TestOrchestrator_ShortfallIsNotAnError(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com")
	sess := h.newSession(t, 10)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 2, got.TotalSites)
	assert.Equal(t, 10, got.RequestedSiteCount)
}

func TestOrchestrator_RespectsConcurrency(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com", "c.com", "d.com", "e.com", "f.com")
	h.scan.gate = make(chan struct{})
	h.scan.started = make(chan string, 6)

	sess := h.newSession(t, 6)
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(context.Background(), sess) }()

	<-h.scan.started
	<-h.scan.started
	// Give a third worker the chance to start if the pool were unbounded.
	time.Sleep(50 * time.Millisecond)
	close(h.scan.gate)
	require.NoError(t, <-done)

	assert.LessOrEqual(t, h.scan.maxSeen, 2)
	assert.Len(t, h.scan.Scanned(), 6)
	assert.Equal(t, 6, h.session(t, sess.ID).ScannedSites)
}

func TestOrchestrator_AutoScript(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com", "c.com", "d.com", "e.com")
	h.orch.autoScript = true
	h.scan.risk = map[string]int{"https://a.com": 90}

	sess := h.newSession(t, 5)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	assert.Equal(t, int32(1), h.scripts.calls.Load())
	scripts, err := h.st.ListSessionScripts(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "a.com", scripts[0].Company.Domain)
	assert.Equal(t, model.ToneProfessional, scripts[0].Script.Tone)
	assert.Len(t, scripts[0].Leads, 2)
}

func TestOrchestrator_LateStagesAreBestEffort(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com", "c.com", "d.com", "e.com")
	h.scan.risk = map[string]int{"https://a.com": 90, "https://b.com": 75}
	h.finder.err = errors.New("perplexity: unexpected status 500")
	h.crm.err = errors.New("crm: circuit breaker is open")

	sess := h.newSession(t, 5)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 2, got.NonCompliantSites)
	assert.Zero(t, got.FailedSites)
	assert.Zero(t, got.LeadsGenerated)
	assert.Equal(t, 2, h.crm.Calls(), "sync still runs with no leads")
}

func TestOrchestrator_Resume(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	sess := h.newSession(t, 5)

	cs, err := h.st.InsertCompanies(ctx, []model.DiscoveredCompany{
		{SessionID: sess.ID, ProjectID: h.project.ID, CompanyName: "A", WebsiteURL: "https://a.com", Domain: "a.com"},
		{SessionID: sess.ID, ProjectID: h.project.ID, CompanyName: "B", WebsiteURL: "https://b.com", Domain: "b.com"},
		{SessionID: sess.ID, ProjectID: h.project.ID, CompanyName: "C", WebsiteURL: "https://c.com", Domain: "c.com"},
	})
	require.NoError(t, err)
	require.NoError(t, h.st.SetSessionTotal(ctx, sess.ID, 3))

	// a.com finished before the interruption, b.com had failed.
	_, err = h.st.RecordScanResult(ctx, cs[0].ID, model.ScanResult{ScanID: "s-a", RiskScore: 20}, model.SessionCounters{Scanned: 1, Compliant: 1})
	require.NoError(t, err)
	require.NoError(t, h.st.MarkScanFailed(ctx, cs[1].ID, "scan: timeout"))
	require.NoError(t, h.st.IncrementSessionCounters(ctx, sess.ID, model.SessionCounters{Failed: 1}))

	h.scan.risk = map[string]int{"https://b.com": 80, "https://c.com": 30}
	require.NoError(t, h.orch.Resume(ctx, h.session(t, sess.ID)))

	assert.ElementsMatch(t, []string{"https://b.com", "https://c.com"}, h.scan.Scanned())
	assert.Zero(t, h.disc.calls.Load(), "discovery is not repeated")

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ScannedSites)
	assert.Equal(t, 2, got.CompliantSites)
	assert.Equal(t, 1, got.NonCompliantSites)
	assert.Zero(t, got.FailedSites)
}

func TestOrchestrator_ResumeBeforeDiscovery(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com", "c.com", "d.com", "e.com")
	sess := h.newSession(t, 5)

	require.NoError(t, h.orch.Resume(context.Background(), sess))
	assert.Equal(t, int32(1), h.disc.calls.Load())
	assert.Equal(t, model.SessionStatusCompleted, h.session(t, sess.ID).Status)
}

func TestOrchestrator_InterruptedLeavesSessionRunning(t *testing.T) {
	h := newHarness(t, 1, "a.com", "b.com", "c.com", "d.com", "e.com")
	h.scan.gate = make(chan struct{})
	h.scan.started = make(chan string, 1)

	sess := h.newSession(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, sess) }()

	<-h.scan.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusRunning, got.Status)
	assert.Zero(t, got.FailedSites, "an interrupted site is not a failure")

	unscanned, err := h.st.ListUnscannedCompanies(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, unscanned, 5)
}

func TestOrchestrator_NoDecisionMakersFound(t *testing.T) {
	h := newHarness(t, 2, "a.com", "b.com")
	h.scan.risk = map[string]int{"https://a.com": 88, "https://b.com": 15}
	h.finder.none = true

	sess := h.newSession(t, 2)
	require.NoError(t, h.orch.Run(context.Background(), sess))

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ScannedSites)
	assert.Equal(t, 1, got.NonCompliantSites)
	assert.Equal(t, 1, got.CompliantSites)
	assert.Zero(t, got.LeadsGenerated)
	assert.Zero(t, got.FailedSites)
	assert.Equal(t, 1, h.crm.Calls(), "the company is still pushed to the CRM")
}

func TestOrchestrator_InterruptAfterClassifyKeepsCounters(t *testing.T) {
	h := newHarness(t, 1, "a.com")
	h.scan.risk = map[string]int{"https://a.com": 85}
	h.finder.hold = true
	h.finder.called = make(chan struct{})

	sess := h.newSession(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, sess) }()

	<-h.finder.called
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got := h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusRunning, got.Status)
	assert.Equal(t, 1, got.TotalSites)
	assert.Equal(t, 1, got.ScannedSites, "verdict is counted with the scan write")
	assert.Equal(t, 1, got.NonCompliantSites)

	h.finder.hold = false
	require.NoError(t, h.orch.Resume(context.Background(), h.session(t, sess.ID)))

	got = h.session(t, sess.ID)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, got.TotalSites, got.ScannedSites)
	assert.Equal(t, 1, got.NonCompliantSites)
	assert.Zero(t, got.CompliantSites)
	assert.Equal(t, []string{"https://a.com"}, h.scan.Scanned(), "a classified site is not rescanned")
}
