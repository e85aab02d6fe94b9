package service

import (
	"context"
	"log"

	"purchase-settlement-api/internal/metrics"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

// AnomalySink is where reconciliation mismatches go. It is kept apart from
// error handling: an anomaly means the pipeline ran fine but the world
// disagrees with our records.
type AnomalySink struct {
	repo repository.AnomalyRepository
}

// NewAnomalySink creates a sink. repo may be nil, in which case anomalies are only logged.
func NewAnomalySink(repo repository.AnomalyRepository) *AnomalySink {
	return &AnomalySink{repo: repo}
}

// Record logs and stores an anomaly. Storage failures are logged only.
func (s *AnomalySink) Record(ctx context.Context, a *model.Anomaly) {
	if a == nil {
		return
	}

	metrics.AnomaliesTotal.WithLabelValues(string(a.Kind)).Inc()

	prefix := "[Anomaly]"
	if a.Severity == model.SeverityHigh {
		prefix = "[Anomaly] HIGH:"
	}
	log.Printf("%s kind=%s tx=%s buyer=%s subject=%s: %s",
		prefix, a.Kind, a.TxID, a.BuyerIdentity, a.Subject, a.Detail)

	if s.repo == nil {
		return
	}
	if err := s.repo.RecordAnomaly(ctx, a); err != nil {
		log.Printf("[Anomaly] failed to store %s for tx=%s: %v", a.Kind, a.TxID, err)
	}
}
