package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

const eligibilityNamespace = "eligibility"

// EligibilityAuditor checks buyers against the allow-list after settlement.
// It never blocks or reverses a settlement; it only reports.
type EligibilityAuditor struct {
	allowList repository.AllowListRepository
	cache     cache.Cache
	cacheTTL  time.Duration
	timeout   time.Duration
}

// NewEligibilityAuditor creates an auditor. A nil allowList disables auditing;
// c may be nil.
func NewEligibilityAuditor(allowList repository.AllowListRepository, c cache.Cache, cacheTTL, timeout time.Duration) *EligibilityAuditor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &EligibilityAuditor{allowList: allowList, cache: c, cacheTTL: cacheTTL, timeout: timeout}
}

// Enabled reports whether an allow-list is configured.
func (a *EligibilityAuditor) Enabled() bool {
	return a.allowList != nil
}

// CheckEligibility looks the buyer up, through the cache when one is set.
func (a *EligibilityAuditor) CheckEligibility(ctx context.Context, buyer string) (bool, error) {
	if a.cache == nil || a.cacheTTL <= 0 {
		return a.allowList.CheckEligibility(ctx, buyer)
	}

	v, err := a.cache.GetOrSet(ctx, cache.Key(eligibilityNamespace, buyer), a.cacheTTL, func() ([]byte, error) {
		ok, err := a.allowList.CheckEligibility(ctx, buyer)
		if err != nil {
			return nil, err
		}
		if ok {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	})
	if err != nil {
		return false, err
	}
	return string(v) == "1", nil
}

// Audit returns an anomaly for an ineligible buyer or a failed lookup, nil otherwise.
func (a *EligibilityAuditor) Audit(ctx context.Context, ev *model.NotificationEvent) *model.Anomaly {
	if !a.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.CheckEligibility(ctx, ev.BuyerIdentity)
	if err != nil {
		detail := fmt.Sprintf("eligibility lookup failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			detail = fmt.Sprintf("eligibility lookup timed out after %s", a.timeout)
		}
		log.Printf("[Auditor] tx=%s: %s", ev.TxID, detail)
		return &model.Anomaly{
			Kind:          model.AnomalyEligibilityUnavailable,
			Severity:      model.SeverityMedium,
			TxID:          ev.TxID,
			BuyerIdentity: ev.BuyerIdentity,
			Subject:       ev.BuyerIdentity,
			Detail:        detail,
			Retryable:     true,
		}
	}
	if ok {
		return nil
	}

	return &model.Anomaly{
		Kind:          model.AnomalyIneligibleBuyer,
		Severity:      model.SeverityHigh,
		TxID:          ev.TxID,
		BuyerIdentity: ev.BuyerIdentity,
		Subject:       ev.BuyerIdentity,
		Detail:        "buyer not on allow-list; settlement kept, needs manual review",
	}
}
