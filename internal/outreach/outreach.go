// Package outreach writes personalized sales scripts for scanned companies.
package outreach

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/resilience"
)

// Store is the persistence the writer needs.
type Store interface {
	ListLeads(ctx context.Context, companyID int64) ([]model.Lead, error)
	CreateSalesScript(ctx context.Context, script *model.SalesScript, audit model.AuditLog) error
}

// Writer generates and persists sales scripts.
type Writer struct {
	gen     Generator
	store   Store
	policy  resilience.RetryPolicy
	timeout time.Duration
}

// Option configures a Writer.
type Option func(*Writer)

// WithRetryPolicy retries transient generation failures under p.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(w *Writer) { w.policy = p }
}

// WithTimeout bounds each generation attempt.
func WithTimeout(d time.Duration) Option {
	return func(w *Writer) { w.timeout = d }
}

// New creates a Writer.
func New(gen Generator, st Store, opts ...Option) *Writer {
	w := &Writer{gen: gen, store: st, policy: resilience.RetryPolicy{MaxAttempts: 1}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write generates a script for company in tone and makes it the company's
// current script. Unscanned companies are rejected before any generation.
func (w *Writer) Write(ctx context.Context, company *model.DiscoveredCompany, tone model.Tone, userID string) (*model.SalesScript, error) {
	if !company.IsScanned() || company.TotalIssues == nil {
		return nil, apperr.E(apperr.Precondition, "outreach: company %d has not been scanned yet", company.ID)
	}
	if tone == "" {
		tone = model.ToneProfessional
	}

	leads, err := w.store.ListLeads(ctx, company.ID)
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(company, leads, tone)

	content, err := resilience.DoVal(ctx, w.policy, func(ctx context.Context) (string, error) {
		if w.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}
		return w.gen.Generate(ctx, prompt, tone)
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.External, "outreach: generate script")
	}

	script := &model.SalesScript{
		ProjectID: company.ProjectID,
		CompanyID: company.ID,
		Content:   content,
		Tone:      tone,
		CreatedBy: userID,
	}
	err = w.store.CreateSalesScript(ctx, script, model.AuditLog{
		UserID:       userID,
		Action:       model.AuditSalesScriptGenerated,
		ResourceType: "company",
		ResourceID:   strconv.FormatInt(company.ID, 10),
		Description:  fmt.Sprintf("Generated %s sales script for %s", tone, company.CompanyName),
		Metadata: model.Metadata{
			"company_name": company.CompanyName,
			"tone":         string(tone),
		},
		Success: true,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("outreach: script generated",
		zap.Int64("company_id", company.ID),
		zap.Int64("script_id", script.ID),
		zap.String("tone", string(tone)),
		zap.Int("leads", len(leads)),
	)
	return script, nil
}
