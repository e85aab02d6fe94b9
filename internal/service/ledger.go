package service

import (
	"context"
	"errors"
	"log"
	"time"

	"purchase-settlement-api/internal/cache"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

const processedNamespace = "processed"

// MarkResult is the outcome of committing a ledger entry.
type MarkResult int

const (
	MarkRecorded MarkResult = iota
	// MarkAlreadyExists means another pipeline committed the same txID first.
	MarkAlreadyExists
)

// IdempotencyLedger records which transactions have been settled.
// The early HasProcessed check is an optimisation; the unique insert in
// MarkProcessed is what actually guarantees a single commit per txID.
type IdempotencyLedger struct {
	repo  repository.LedgerRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewIdempotencyLedger creates a ledger. c may be nil.
func NewIdempotencyLedger(repo repository.LedgerRepository, c cache.Cache, ttl time.Duration) *IdempotencyLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyLedger{repo: repo, cache: c, ttl: ttl}
}

// HasProcessed reports whether txID already has a ledger entry.
func (l *IdempotencyLedger) HasProcessed(ctx context.Context, txID string) (bool, error) {
	if l.cache != nil {
		ok, err := l.cache.Exists(ctx, cache.Key(processedNamespace, txID))
		if err != nil {
			log.Printf("[Ledger] Cache lookup failed for %s: %v", txID, err)
		} else if ok {
			return true, nil
		}
	}

	rec, err := l.repo.CheckProcessedWebhook(ctx, txID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	l.remember(ctx, txID)
	return true, nil
}

// MarkProcessed commits the ledger entry. Losing the unique-insert race is
// reported as MarkAlreadyExists, not as an error.
func (l *IdempotencyLedger) MarkProcessed(ctx context.Context, rec *model.ProcessedWebhook) (MarkResult, error) {
	err := l.repo.RecordProcessedWebhook(ctx, rec)
	if errors.Is(err, repository.ErrAlreadyExists) {
		l.remember(ctx, rec.TxID)
		return MarkAlreadyExists, nil
	}
	if err != nil {
		return MarkRecorded, err
	}

	l.remember(ctx, rec.TxID)
	return MarkRecorded, nil
}

func (l *IdempotencyLedger) remember(ctx context.Context, txID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, cache.Key(processedNamespace, txID), []byte("1"), l.ttl); err != nil {
		log.Printf("[Ledger] Cache write failed for %s: %v", txID, err)
	}
}
