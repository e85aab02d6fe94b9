// Package service holds the settlement pipeline and the components it runs:
// signature verification, the idempotency ledger, event classification,
// reservation matching, settlement, eligibility auditing and claim recording.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"purchase-settlement-api/internal/metrics"
	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
)

// Outcome is how a single pipeline run ended.
type Outcome string

const (
	OutcomeMalformed     Outcome = "malformed"
	OutcomeProbe         Outcome = "probe"
	OutcomeRejected      Outcome = "rejected"
	OutcomeForeign       Outcome = "foreign_project"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeStatusUpdated Outcome = "status_updated"
	OutcomeCanceled      Outcome = "canceled"
	OutcomeSettled       Outcome = "settled"
	OutcomeFailed        Outcome = "failed"
)

// Delivery is one inbound notification as received over HTTP.
type Delivery struct {
	Body       []byte
	Signature  string
	RequestID  string
	ReceivedAt time.Time
	// Trusted skips signature verification. Set only for operator reprocessing.
	Trusted bool
}

// Result describes a finished pipeline run.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	TxID       string      `json:"tx_id,omitempty"`
	EventType  string      `json:"event_type,omitempty"`
	Settlement *Settlement `json:"settlement,omitempty"`
	Claims     int         `json:"claims_recorded"`
	Error      string      `json:"error,omitempty"`
}

// PipelineDeps are the components a Pipeline runs, in order.
type PipelineDeps struct {
	Verifier       *SignatureVerifier
	Classifier     *EventClassifier
	Ledger         *IdempotencyLedger
	Matcher        *ReservationMatcher
	Applier        *SettlementApplier
	Auditor        *EligibilityAuditor
	Claims         *ClaimRecorder
	Anomalies      *AnomalySink
	PurchaseStatus repository.PurchaseStatusRepository
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProjectUID drops notifications for any other project.
func WithProjectUID(uid string) Option {
	return func(p *Pipeline) { p.projectUID = uid }
}

// WithStepTimeout bounds every collaborator call.
func WithStepTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stepTimeout = d
		}
	}
}

// Pipeline reconciles provider notifications into settlement state.
// Each run is independent; safety under duplicate and concurrent deliveries
// comes from the ledger's unique insert and the store's conditional updates.
type Pipeline struct {
	PipelineDeps
	projectUID  string
	stepTimeout time.Duration
}

// NewPipeline creates a pipeline.
func NewPipeline(deps PipelineDeps, opts ...Option) (*Pipeline, error) {
	if deps.Verifier == nil || deps.Classifier == nil || deps.Ledger == nil ||
		deps.Matcher == nil || deps.Applier == nil || deps.Claims == nil || deps.PurchaseStatus == nil {
		return nil, errors.New("pipeline: missing required component")
	}
	if deps.Auditor == nil {
		deps.Auditor = NewEligibilityAuditor(nil, nil, 0, 0)
	}
	if deps.Anomalies == nil {
		deps.Anomalies = NewAnomalySink(nil)
	}

	p := &Pipeline{PipelineDeps: deps, stepTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.stepTimeout)
}

// Process runs one delivery through the pipeline. It never panics on bad
// input and never returns an error to the transport; the Result says what happened.
func (p *Pipeline) Process(ctx context.Context, d Delivery) Result {
	start := time.Now()
	res := p.process(ctx, d)

	metrics.PipelineOutcomesTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	return res
}

func (p *Pipeline) process(ctx context.Context, d Delivery) Result {
	ev, err := p.Classifier.Parse(d.Body)
	if err != nil {
		log.Printf("[Pipeline] req=%s: dropping payload: %v", d.RequestID, err)
		return Result{Outcome: OutcomeMalformed, Error: err.Error()}
	}

	res := Result{TxID: ev.TxID, EventType: ev.RawType}

	if ev.TxID == "" {
		log.Printf("[Pipeline] req=%s: probe without transaction id (type=%q), skipping", d.RequestID, ev.RawType)
		res.Outcome = OutcomeProbe
		return res
	}

	verdict := SignatureSkipped
	if !d.Trusted {
		verdict = p.Verifier.Verify(d.Body, d.Signature)
	}
	switch verdict {
	case SignatureInvalid:
		log.Printf("[Pipeline] HIGH: req=%s tx=%s: signature mismatch, rejecting", d.RequestID, ev.TxID)
		p.Anomalies.Record(ctx, &model.Anomaly{
			Kind:          model.AnomalySignatureMismatch,
			Severity:      model.SeverityHigh,
			TxID:          ev.TxID,
			BuyerIdentity: ev.BuyerIdentity,
			Detail:        "notification signature did not match shared secret",
		})
		res.Outcome = OutcomeRejected
		return res
	case SignatureSkipped:
		if p.Verifier.Enabled() && !d.Trusted {
			log.Printf("[Pipeline] req=%s tx=%s: no signature supplied, accepting unsigned", d.RequestID, ev.TxID)
		}
	}

	if p.projectUID != "" && ev.ProjectID != "" && ev.ProjectID != p.projectUID {
		log.Printf("[Pipeline] tx=%s: project %s is not ours, ignoring", ev.TxID, ev.ProjectID)
		res.Outcome = OutcomeForeign
		return res
	}

	stepCtx, cancel := p.step(ctx)
	processed, err := p.Ledger.HasProcessed(stepCtx, ev.TxID)
	cancel()
	if err != nil {
		// The unique insert at the end still protects us; keep going.
		log.Printf("[Pipeline] tx=%s: ledger lookup failed, continuing: %v", ev.TxID, err)
	}
	if processed {
		log.Printf("[Pipeline] tx=%s: already processed, skipping %s", ev.TxID, ev.Type)
		res.Outcome = OutcomeDuplicate
		return res
	}

	switch Classify(ev.Type) {
	case ActionUpdateStatus:
		return p.updateStatus(ctx, ev, OutcomeStatusUpdated, res)
	case ActionRecordCancel:
		// Nothing is released: a canceled notice may race a finished one.
		log.Printf("[Pipeline] tx=%s: provider reported cancellation for buyer %s", ev.TxID, ev.BuyerIdentity)
		return p.updateStatus(ctx, ev, OutcomeCanceled, res)
	case ActionSettle:
		return p.settle(ctx, ev, res)
	default:
		log.Printf("[Pipeline] tx=%s: unrecognised event type %q, dropping", ev.TxID, ev.RawType)
		res.Outcome = OutcomeIgnored
		return res
	}
}

func (p *Pipeline) updateStatus(ctx context.Context, ev *model.NotificationEvent, outcome Outcome, res Result) Result {
	if err := p.advanceStatus(ctx, ev); err != nil {
		log.Printf("[Pipeline] tx=%s: %v", ev.TxID, err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}
	res.Outcome = outcome
	return res
}

// advanceStatus folds ev into the stored purchase status and writes the
// result only when the transaction moves forward.
func (p *Pipeline) advanceStatus(ctx context.Context, ev *model.NotificationEvent) error {
	stepCtx, cancel := p.step(ctx)
	defer cancel()

	current := model.EventUnknown
	existing, err := p.PurchaseStatus.GetPurchaseStatus(stepCtx, ev.TxID)
	if err != nil {
		// The store's rank guard still keeps the write forward-only.
		log.Printf("[Pipeline] tx=%s: purchase status lookup failed, writing anyway: %v", ev.TxID, err)
	} else if existing != nil {
		current = eventForStatus(existing.Status)
	}

	next := Transition(current, ev.Type)
	if next == current {
		log.Printf("[Pipeline] tx=%s: status already %s, %s does not advance it", ev.TxID, current, ev.Type)
		return nil
	}

	return p.PurchaseStatus.UpdatePurchaseStatus(stepCtx, &model.PurchaseStatus{
		TxID:          ev.TxID,
		Status:        PurchaseStatusFor(next),
		BuyerIdentity: ev.BuyerIdentity,
		AssetID:       ev.PrimaryAssetID(),
		Amount:        ev.Amount,
	})
}

func (p *Pipeline) settle(ctx context.Context, ev *model.NotificationEvent, res Result) Result {
	fail := func(err error) Result {
		log.Printf("[Pipeline] tx=%s: settlement aborted, ledger not committed: %v", ev.TxID, err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}

	stepCtx, cancel := p.step(ctx)
	match, err := p.Matcher.Match(stepCtx, ev)
	cancel()
	if err != nil {
		return fail(err)
	}

	stepCtx, cancel = p.step(ctx)
	settlement, err := p.Applier.Apply(stepCtx, ev, match)
	cancel()
	if err != nil {
		return fail(err)
	}
	res.Settlement = settlement
	metrics.SettlementsTotal.WithLabelValues(string(settlement.Path)).Inc()

	for _, a := range settlement.Anomalies {
		stepCtx, cancel = p.step(ctx)
		p.Anomalies.Record(stepCtx, a)
		cancel()
	}

	if a := p.Auditor.Audit(ctx, ev); a != nil {
		settlement.Anomalies = append(settlement.Anomalies, a)
		stepCtx, cancel = p.step(ctx)
		p.Anomalies.Record(stepCtx, a)
		cancel()
	}

	stepCtx, cancel = p.step(ctx)
	recorded, claimAnomalies := p.Claims.Record(stepCtx, ev, settlement)
	cancel()
	res.Claims = recorded
	for _, a := range claimAnomalies {
		settlement.Anomalies = append(settlement.Anomalies, a)
		stepCtx, cancel = p.step(ctx)
		p.Anomalies.Record(stepCtx, a)
		cancel()
	}

	// The units are already sold; a missing status row is cosmetic.
	if err := p.advanceStatus(ctx, ev); err != nil {
		log.Printf("[Pipeline] tx=%s: purchase status not updated: %v", ev.TxID, err)
	}

	stepCtx, cancel = p.step(ctx)
	mark, err := p.Ledger.MarkProcessed(stepCtx, &model.ProcessedWebhook{
		TxID:           ev.TxID,
		BuyerIdentity:  ev.BuyerIdentity,
		AssetID:        ev.PrimaryAssetID(),
		ReservationID:  settlement.ReservationID(),
		EventType:      ev.Type,
		SettlementPath: settlement.Path,
	})
	cancel()
	if err != nil {
		return fail(fmt.Errorf("failed to commit ledger: %w", err))
	}
	if mark == MarkAlreadyExists {
		log.Printf("[Pipeline] tx=%s: concurrent delivery committed first", ev.TxID)
		res.Outcome = OutcomeDuplicate
		return res
	}

	log.Printf("[Pipeline] tx=%s: settled via %s (claims=%d, anomalies=%d)",
		ev.TxID, settlement.Path, res.Claims, len(settlement.Anomalies))
	res.Outcome = OutcomeSettled
	return res
}
