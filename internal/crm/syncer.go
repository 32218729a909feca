package crm

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/apperr"
	"github.com/lucy-a11y/shuffle/internal/metrics"
	"github.com/lucy-a11y/shuffle/internal/model"
	"github.com/lucy-a11y/shuffle/internal/resilience"
)

// SyncStore is the persistence the syncer needs.
type SyncStore interface {
	GetCompany(ctx context.Context, id int64) (*model.DiscoveredCompany, error)
	ListLeads(ctx context.Context, companyID int64) ([]model.Lead, error)
	GetCRMSync(ctx context.Context, companyID int64) (*model.CRMSync, error)
	SaveCRMSync(ctx context.Context, sync model.CRMSync) error
	ListFailedCRMSyncs(ctx context.Context, maxAttempts, limit int) ([]model.CRMSync, error)
	AppendAudit(ctx context.Context, entry model.AuditLog) error
}

// Syncer pushes one company at a time to a CRM and records the outcome.
// Vendor calls pass through a circuit breaker shared by all sessions.
type Syncer struct {
	crm     CRM
	store   SyncStore
	breaker *resilience.Breaker
	policy  resilience.RetryPolicy
	now     func() time.Time
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithRetryPolicy retries each vendor call under p.
func WithRetryPolicy(p resilience.RetryPolicy) SyncerOption {
	return func(s *Syncer) { s.policy = p }
}

// NewSyncer creates a Syncer. A nil crm records every company as skipped.
func NewSyncer(c CRM, st SyncStore, breaker *resilience.Breaker, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		crm:     c,
		store:   st,
		breaker: breaker,
		policy:  resilience.RetryPolicy{MaxAttempts: 1},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewBreaker("crm", resilience.DefaultBreakerConfig())
	}
	return s
}

// Enabled reports whether a CRM is configured.
func (s *Syncer) Enabled() bool { return s.crm != nil }

// Provider returns the configured CRM name, or "none".
func (s *Syncer) Provider() string {
	if s.crm == nil {
		return "none"
	}
	return s.crm.Name()
}

func call[T any](ctx context.Context, s *Syncer, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, s.policy, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, s.breaker, fn)
	})
}

// Sync upserts the company and its emailable leads, then opens a deal once at
// least one contact exists and no earlier sync already opened one. External ids from a previous partial attempt
// are kept so a retry never duplicates the deal.
func (s *Syncer) Sync(ctx context.Context, company *model.DiscoveredCompany, leads []model.Lead) (*model.CRMSync, error) {
	provider := s.Provider()
	rec := model.CRMSync{CompanyID: company.ID, Provider: provider}

	if s.crm == nil {
		rec.Status = model.CRMSyncStatusSkipped
		if err := s.store.SaveCRMSync(ctx, rec); err != nil {
			return nil, err
		}
		metrics.ObserveCRMSync(provider, string(rec.Status))
		return &rec, nil
	}

	prior, err := s.store.GetCRMSync(ctx, company.ID)
	switch {
	case apperr.Is(err, apperr.NotFound):
		prior = nil
	case err != nil:
		return nil, err
	}
	if prior != nil && prior.Provider == provider {
		rec.ExternalCompanyID = prior.ExternalCompanyID
		rec.ExternalDealID = prior.ExternalDealID
	}

	log := zap.L().With(
		zap.String("provider", provider),
		zap.Int64("company_id", company.ID),
		zap.String("domain", company.Domain),
	)

	syncErr := s.push(ctx, company, leads, &rec)
	if syncErr != nil {
		rec.Status = model.CRMSyncStatusFailed
		rec.LastError = syncErr.Error()
		log.Warn("crm: sync failed", zap.Error(syncErr))
	} else {
		rec.Status = model.CRMSyncStatusSynced
		log.Info("crm: synced",
			zap.String("external_company_id", rec.ExternalCompanyID),
			zap.Int("contacts", len(rec.ExternalContactIDs)),
			zap.String("external_deal_id", rec.ExternalDealID),
		)
	}

	if err := s.store.SaveCRMSync(ctx, rec); err != nil {
		return nil, err
	}
	s.audit(ctx, company, rec)
	metrics.ObserveCRMSync(provider, string(rec.Status))

	if syncErr != nil {
		return &rec, apperr.Wrap(syncErr, apperr.External, "crm: sync company "+company.Domain)
	}
	return &rec, nil
}

func (s *Syncer) push(ctx context.Context, company *model.DiscoveredCompany, leads []model.Lead, rec *model.CRMSync) error {
	companyRec := NewCompanyRecord(company)
	companyID, err := call(ctx, s, func(ctx context.Context) (string, error) {
		return s.crm.UpsertCompany(ctx, companyRec)
	})
	if err != nil {
		return err
	}
	rec.ExternalCompanyID = companyID

	for _, l := range leads {
		if l.Email == nil || *l.Email == "" {
			continue
		}
		contact := NewContactRecord(l)
		contactID, err := call(ctx, s, func(ctx context.Context) (string, error) {
			return s.crm.UpsertContact(ctx, companyID, contact)
		})
		if err != nil {
			return err
		}
		rec.ExternalContactIDs = append(rec.ExternalContactIDs, contactID)
	}

	// A deal needs both ends of the association.
	if rec.ExternalDealID != "" || len(rec.ExternalContactIDs) == 0 {
		return nil
	}
	deal := NewDealRecord(companyRec, s.now())
	dealID, err := call(ctx, s, func(ctx context.Context) (string, error) {
		return s.crm.CreateDeal(ctx, companyID, rec.ExternalContactIDs, deal)
	})
	if err != nil {
		return err
	}
	rec.ExternalDealID = dealID
	return nil
}

func (s *Syncer) audit(ctx context.Context, company *model.DiscoveredCompany, rec model.CRMSync) {
	entry := model.AuditLog{
		UserID:       "system",
		Action:       model.AuditCRMSynced,
		ResourceType: "company",
		ResourceID:   strconv.FormatInt(company.ID, 10),
		Description:  "Synced " + company.CompanyName + " to " + rec.Provider,
		Metadata: model.Metadata{
			"provider":    rec.Provider,
			"status":      string(rec.Status),
			"contacts":    len(rec.ExternalContactIDs),
			"external_id": rec.ExternalCompanyID,
		},
		Success: rec.Status == model.CRMSyncStatusSynced,
	}
	if rec.LastError != "" {
		entry.Metadata["error"] = rec.LastError
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		zap.L().Warn("crm: audit append failed", zap.Int64("company_id", company.ID), zap.Error(err))
	}
}

// RetryFailed re-syncs up to limit companies whose last sync failed fewer
// than maxAttempts times. It returns how many now succeed.
func (s *Syncer) RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error) {
	if s.crm == nil {
		return 0, nil
	}
	failed, err := s.store.ListFailedCRMSyncs(ctx, maxAttempts, limit)
	if err != nil {
		return 0, eris.Wrap(err, "crm: list failed syncs")
	}
	var synced int
	for _, f := range failed {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		company, err := s.store.GetCompany(ctx, f.CompanyID)
		if err != nil {
			zap.L().Warn("crm: retry skipped", zap.Int64("company_id", f.CompanyID), zap.Error(err))
			continue
		}
		leads, err := s.store.ListLeads(ctx, f.CompanyID)
		if err != nil {
			zap.L().Warn("crm: retry skipped", zap.Int64("company_id", f.CompanyID), zap.Error(err))
			continue
		}
		if _, err := s.Sync(ctx, company, leads); err != nil {
			continue
		}
		synced++
	}
	return synced, nil
}
