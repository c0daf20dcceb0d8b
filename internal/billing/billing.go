// Package billing owns the wallet and the usage ledger. The wallet balance is
// the source of truth for credits; dashboards are read-side aggregations over
// the ledger and never feed back into the balance.
package billing

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillmarket/backend/internal/logging"
	"skillmarket/backend/internal/metrics"
	"skillmarket/backend/internal/repository"
	"skillmarket/backend/pkg/models"
)

// Pricing converts credits to currency and splits fees.
type Pricing struct {
	UnitCreditValueUSD float64
	PlatformFeePercent float64
	StarterCredits     int64
}

// Service charges wallets and appends ledger events.
type Service struct {
	wallets repository.WalletStore
	ledger  repository.LedgerStore
	skills  repository.RegistryStore
	pricing Pricing
	logger  *logging.Logger
	metrics *metrics.Metrics

	// events whose append failed after the wallet charge succeeded; they are
	// retried on subsequent records so the ledger is at-least-once.
	mu      sync.Mutex
	pending []*models.BillingEvent
}

// NewService creates the billing service.
func NewService(wallets repository.WalletStore, ledger repository.LedgerStore, skills repository.RegistryStore, pricing Pricing, logger *logging.Logger, m *metrics.Metrics) *Service {
	if pricing.UnitCreditValueUSD <= 0 {
		pricing.UnitCreditValueUSD = 0.01
	}
	if pricing.PlatformFeePercent <= 0 {
		pricing.PlatformFeePercent = 25
	}
	return &Service{
		wallets: wallets,
		ledger:  ledger,
		skills:  skills,
		pricing: pricing,
		logger:  logger,
		metrics: m,
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// EnsureWallet seeds a tenant's wallet with starter credits on first contact.
func (s *Service) EnsureWallet(ctx context.Context, tenantID string) error {
	return s.wallets.Ensure(ctx, tenantID, s.pricing.StarterCredits)
}

// Balance reads the tenant's current credit balance.
func (s *Service) Balance(ctx context.Context, tenantID string) (int64, error) {
	return s.wallets.Balance(ctx, tenantID)
}

// Charge atomically deducts credits. The store rejects the deduction when the
// balance is short, so the balance never goes negative.
func (s *Service) Charge(ctx context.Context, tenantID string, credits int64) error {
	return s.wallets.Charge(ctx, tenantID, credits)
}

// Credit tops up a wallet. Admin path.
func (s *Service) Credit(ctx context.Context, tenantID string, credits int64) error {
	return s.wallets.Credit(ctx, tenantID, credits)
}

// buildEvent prices one execution. The developer is resolved from the skill
// catalog; unknown skills bill to "unknown_dev".
func (s *Service) buildEvent(ctx context.Context, tenantID, skillID, version string, credits int64, latencyMS int64) *models.BillingEvent {
	developer := "unknown_dev"
	if meta, err := s.skills.GetSkill(ctx, skillID); err == nil && meta != nil && meta.DeveloperID != "" {
		developer = meta.DeveloperID
	}

	gross := float64(credits) * s.pricing.UnitCreditValueUSD
	fee := gross * s.pricing.PlatformFeePercent / 100.0
	return &models.BillingEvent{
		EventID:         uuid.New().String(),
		TenantID:        tenantID,
		SkillID:         skillID,
		Version:         version,
		Credits:         credits,
		GrossUSD:        round6(gross),
		PlatformFeeUSD:  round6(fee),
		DeveloperNetUSD: round6(gross - fee),
		DeveloperID:     developer,
		LatencyMS:       latencyMS,
		Timestamp:       time.Now().UTC(),
	}
}

// RecordEvent appends a usage event for an execution that was already
// charged. A failed append is logged and retried, then parked for redelivery
// on the next record; it is never dropped and the charge is never repeated.
func (s *Service) RecordEvent(ctx context.Context, tenantID, skillID, version string, credits int64, latencyMS int64) *models.BillingEvent {
	s.flushPending(ctx)

	ev := s.buildEvent(ctx, tenantID, skillID, version, credits, latencyMS)
	if err := s.appendWithRetry(ctx, ev); err != nil {
		s.logger.Error("billing event append failed, parking for redelivery",
			"event_id", ev.EventID, "tenant_id", tenantID, "skill_id", skillID, "error", err)
		s.mu.Lock()
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
	}
	return ev
}

func (s *Service) appendWithRetry(ctx context.Context, ev *models.BillingEvent) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.ledger.Append(ctx, ev); err == nil {
			return nil
		}
		s.metrics.LedgerRetriesTotal.Inc()
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// flushPending redelivers parked events. Appends are idempotent on event_id,
// so a redelivery can never double bill.
func (s *Service) flushPending(ctx context.Context) {
	s.mu.Lock()
	parked := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range parked {
		if err := s.ledger.Append(ctx, ev); err != nil {
			s.mu.Lock()
			s.pending = append(s.pending, ev)
			s.mu.Unlock()
			return
		}
		s.logger.Info("redelivered parked billing event", "event_id", ev.EventID)
	}
}

// TenantDashboard aggregates a tenant's spend from the ledger.
func (s *Service) TenantDashboard(ctx context.Context, tenantID string) (*models.TenantDashboard, error) {
	events, err := s.ledger.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	balance, err := s.wallets.Balance(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	d := &models.TenantDashboard{
		TenantID:         tenantID,
		RemainingCredits: balance,
		TotalEvents:      len(events),
		BySkill:          map[string]models.SkillSpend{},
	}
	for _, ev := range events {
		d.TotalCreditsUsed += ev.Credits
		d.TotalSpendUSD += ev.GrossUSD
		spend := d.BySkill[ev.SkillID]
		spend.Credits += ev.Credits
		spend.GrossUSD = round6(spend.GrossUSD + ev.GrossUSD)
		d.BySkill[ev.SkillID] = spend
	}
	d.TotalSpendUSD = round6(d.TotalSpendUSD)
	return d, nil
}

// DeveloperDashboard aggregates a developer's earnings from the ledger.
func (s *Service) DeveloperDashboard(ctx context.Context, developerID string) (*models.DeveloperDashboard, error) {
	events, err := s.ledger.ListByDeveloper(ctx, developerID)
	if err != nil {
		return nil, err
	}

	d := &models.DeveloperDashboard{
		DeveloperID: developerID,
		TotalEvents: len(events),
		BySkill:     map[string]models.SkillSpend{},
	}
	for _, ev := range events {
		d.GrossUSD += ev.GrossUSD
		d.PlatformFeeUSD += ev.PlatformFeeUSD
		d.NetUSD += ev.DeveloperNetUSD
		spend := d.BySkill[ev.SkillID]
		spend.Credits += ev.Credits
		spend.GrossUSD = round6(spend.GrossUSD + ev.GrossUSD)
		spend.NetUSD = round6(spend.NetUSD + ev.DeveloperNetUSD)
		d.BySkill[ev.SkillID] = spend
	}
	d.GrossUSD = round6(d.GrossUSD)
	d.PlatformFeeUSD = round6(d.PlatformFeeUSD)
	d.NetUSD = round6(d.NetUSD)
	return d, nil
}

// PlatformDashboard aggregates the whole ledger.
func (s *Service) PlatformDashboard(ctx context.Context) (*models.PlatformDashboard, error) {
	events, err := s.ledger.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	d := &models.PlatformDashboard{TotalEvents: len(events)}
	for _, ev := range events {
		d.GrossUSD += ev.GrossUSD
		d.PlatformFeeUSD += ev.PlatformFeeUSD
		d.DeveloperNetUSD += ev.DeveloperNetUSD
	}
	d.GrossUSD = round6(d.GrossUSD)
	d.PlatformFeeUSD = round6(d.PlatformFeeUSD)
	d.DeveloperNetUSD = round6(d.DeveloperNetUSD)
	return d, nil
}
