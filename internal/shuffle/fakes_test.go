package shuffle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/discovery"
	"github.com/lucy-a11y/shuffle/internal/events"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "shuffle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testConfig(concurrency int) *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{Concurrency: concurrency},
		Retry:    config.RetryConfig{MaxAttempts: 1},
	}
}

type fakeDiscoverer struct {
	candidates []discovery.Candidate
	err        error
	calls      atomic.Int32
}

func (f *fakeDiscoverer) Provider() string { return "fake" }

func (f *fakeDiscoverer) Discover(_ context.Context, req discovery.Request) ([]discovery.Candidate, error) {
	f.calls.Add(1)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func candidates(domains ...string) []discovery.Candidate {
	out := make([]discovery.Candidate, len(domains))
	for i, d := range domains {
		out[i] = discovery.Candidate{CompanyName: discovery.NameFromDomain(d), WebsiteURL: "https://" + d, Domain: d}
	}
	return out
}

// fakeScanner returns a risk score per URL, or an error for URLs in errs.
// When gate is set, every scan waits on it (or ctx) first.
type fakeScanner struct {
	risk    map[string]int
	errs    map[string]error
	gate    chan struct{}
	started chan string

	mu       sync.Mutex
	scanned  []string
	inFlight int
	maxSeen  int
}

func (f *fakeScanner) Scan(ctx context.Context, url string) (*model.ScanResult, error) {
	f.mu.Lock()
	f.scanned = append(f.scanned, url)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		select {
		case f.started <- url:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	risk := f.risk[url]
	return &model.ScanResult{
		ScanID:      "scan-" + url,
		RiskScore:   risk,
		TotalIssues: risk / 2,
		Critical:    risk / 20,
		Violations: []model.Violation{
			{ID: "image-alt", Impact: "critical", Description: "Images lack alternate text"},
		},
	}, nil
}

func (f *fakeScanner) Scanned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scanned...)
}

// fakeFinder returns three raw contacts per site. With none set it finds
// nobody; with hold set it signals called and blocks until ctx is done.
type fakeFinder struct {
	err    error
	none   bool
	hold   bool
	called chan struct{}
}

func (f *fakeFinder) Name() string { return "fake" }

func (f *fakeFinder) FindDecisionMakers(ctx context.Context, companyName, websiteURL string) ([]model.Contact, error) {
	if f.hold {
		close(f.called)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.none {
		return []model.Contact{}, nil
	}
	domain := model.NormalizeDomain(websiteURL)
	return []model.Contact{
		{Name: "Jane Doe", Title: "Owner", Email: "jane@" + domain},
		{Name: "Sam Roe", Title: "Office Manager"},
		{Name: "Jane Doe", Title: "Owner", Email: "JANE@" + domain},
	}, nil
}

type fakeCRM struct {
	mu    sync.Mutex
	calls map[int64]int
	err   error
}

func (f *fakeCRM) Sync(_ context.Context, c *model.DiscoveredCompany, leads []model.Lead) (*model.CRMSync, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[int64]int{}
	}
	f.calls[c.ID]++
	if f.err != nil {
		return nil, f.err
	}
	return &model.CRMSync{CompanyID: c.ID, Status: model.CRMSyncStatusSynced}, nil
}

func (f *fakeCRM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, v := range f.calls {
		n += v
	}
	return n
}

type fakeScripts struct {
	st    store.Store
	calls atomic.Int32
}

func (f *fakeScripts) Write(ctx context.Context, c *model.DiscoveredCompany, tone model.Tone, userID string) (*model.SalesScript, error) {
	f.calls.Add(1)
	if !c.IsScanned() {
		return nil, errors.New("not scanned")
	}
	script := &model.SalesScript{ProjectID: c.ProjectID, CompanyID: c.ID, Content: "Hello " + c.CompanyName, Tone: tone, CreatedBy: userID}
	if err := f.st.CreateSalesScript(ctx, script, model.AuditLog{
		UserID: userID, Action: model.AuditSalesScriptGenerated, ResourceType: "company", Success: true,
	}); err != nil {
		return nil, err
	}
	return script, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
