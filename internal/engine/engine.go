// Package engine provides the batch orchestrator, the single entry point of
// the reconciliation core. A batch scores every pending voucher for one
// tenant against the shared target pool, writes one decision per voucher to
// the append-only ledger, and consumes matched targets so they are never
// offered twice.
package engine

import (
	"context"
	"fmt"
	"sort"

	"voucher-reconciliation-engine/internal/feedback"
	"voucher-reconciliation-engine/internal/ledger"
	"voucher-reconciliation-engine/internal/matcher"
	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/internal/oracle"
	"voucher-reconciliation-engine/pkg/errors"
	"voucher-reconciliation-engine/pkg/logger"
)

// BatchSummary reports the outcome of one reconciliation batch. A batch
// aborted by a persistence failure or cancellation still returns a summary
// covering the decisions written before the abort.
type BatchSummary struct {
	TenantID      string   `json:"tenant_id"`
	Processed     int      `json:"processed"`
	Matched       int      `json:"matched"`
	NearMatch     int      `json:"near_match"`
	Unmatched     int      `json:"unmatched"`
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	AvgConfidence float64  `json:"avg_confidence"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Engine wires the matching pipeline to the record store, the decision
// ledger, the adaptation store and the optional oracle.
type Engine struct {
	store     RecordStore
	ledger    ledger.Ledger
	feedback  *feedback.Store
	oracle    oracle.Oracle
	config    *matcher.MatchingConfig
	generator *matcher.CandidateGenerator
	composer  *matcher.Composer
	log       logger.Logger
}

// NewEngine creates an engine. A nil config falls back to the default
// matching config; a nil oracle falls back to the disabled oracle.
func NewEngine(store RecordStore, decisionLedger ledger.Ledger, adaptation *feedback.Store, assessor oracle.Oracle, config *matcher.MatchingConfig) (*Engine, error) {
	if store == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingField, "record_store", nil, nil)
	}
	if decisionLedger == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingField, "ledger", nil, nil)
	}
	if adaptation == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingField, "feedback_store", nil, nil)
	}

	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if assessor == nil {
		assessor = oracle.Disabled{}
	}

	return &Engine{
		store:     store,
		ledger:    decisionLedger,
		feedback:  adaptation,
		oracle:    assessor,
		config:    config,
		generator: matcher.NewCandidateGenerator(config),
		composer:  matcher.NewComposer(config),
		log:       logger.WithComponent("engine"),
	}, nil
}

// scoredSource pairs one voucher with its ranked candidate pool
type scoredSource struct {
	source     *models.Voucher
	candidates []*models.ExternalRecord
	best       matcher.Composition
	hasBest    bool
	truncated  bool
}

// RunBatch reconciles up to batchSize pending vouchers for one tenant.
//
// The batch runs in two phases. The scoring phase is pure: every voucher is
// scored against a snapshot of the target pool and the tenant's weight
// profile, with no shared state. The assignment phase is the single
// serialization point for pool consumption: sources are assigned in
// descending best-score order, so when two vouchers want the same target the
// stronger match wins and the weaker one falls back to its next candidate.
//
// Cancellation is honored between source records; decisions already written
// remain valid. A ledger write failure aborts the batch and returns the
// partial summary alongside the error.
func (e *Engine) RunBatch(ctx context.Context, tenantID string, batchSize int) (*BatchSummary, error) {
	if tenantID == "" {
		return nil, errors.ValidationError(errors.CodeInvalidTenant, "tenant_id", tenantID, nil)
	}
	if batchSize <= 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "batch_size", batchSize, nil)
	}

	summary := &BatchSummary{TenantID: tenantID}

	sources, err := e.store.ListUnmatchedSources(tenantID, DateRange{})
	if err != nil {
		return summary, err
	}
	if len(sources) > batchSize {
		deferred := len(sources) - batchSize
		sources = sources[:batchSize]
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("batch size reached: %d pending vouchers deferred to the next run", deferred))
	}

	pool, err := e.store.ListUnmatchedTargets(tenantID, DateRange{})
	if err != nil {
		return summary, err
	}

	for _, group := range matcher.DetectDuplicateVouchers(sources) {
		ids := make([]string, 0, len(group.Vouchers))
		for _, v := range group.Vouchers {
			ids = append(ids, v.ID)
		}
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("possible duplicate vouchers %v: same amount and date with similar narration", ids))
	}

	profile, err := e.feedback.WeightProfile(tenantID)
	if err != nil {
		return summary, err
	}

	e.log.WithFields(logger.Fields{
		"tenant_id": tenantID,
		"sources":   len(sources),
		"targets":   len(pool),
	}).Info("Starting reconciliation batch")

	scored := e.scoreAll(sources, pool, profile)

	var confidenceTotal float64
	consumed := make(map[string]bool)

	for _, item := range scored {
		select {
		case <-ctx.Done():
			summary.Warnings = append(summary.Warnings, "batch cancelled before completion")
			return summary, errors.ReconciliationError(errors.CodeBatchAborted, "run batch", ctx.Err())
		default:
		}

		decision := e.decide(ctx, item, profile, consumed, summary)

		if _, err := e.ledger.Record(decision); err != nil {
			summary.Failed++
			return summary, errors.PersistenceError(errors.CodeLedgerWriteFailed, "decision ledger", err).
				WithContext("source_id", decision.SourceID)
		}

		if err := e.applyOutcome(decision, consumed); err != nil {
			return summary, err
		}

		summary.Processed++
		summary.Succeeded++
		confidenceTotal += decision.CompositeScore

		switch decision.Outcome {
		case models.OutcomeMatched:
			summary.Matched++
		case models.OutcomeNearMatch:
			summary.NearMatch++
		default:
			summary.Unmatched++
		}
	}

	if summary.Processed > 0 {
		summary.AvgConfidence = confidenceTotal / float64(summary.Processed)
	}

	e.log.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"processed":  summary.Processed,
		"matched":    summary.Matched,
		"near_match": summary.NearMatch,
		"unmatched":  summary.Unmatched,
	}).Info("Reconciliation batch complete")

	return summary, nil
}

// scoreAll runs the pure scoring phase and orders the results for
// assignment: best composite first, then source ID as the stable tie-break.
func (e *Engine) scoreAll(sources []*models.Voucher, pool []*models.ExternalRecord, profile *models.WeightProfile) []scoredSource {
	scored := make([]scoredSource, 0, len(sources))

	for _, source := range sources {
		candidates, truncated := e.generator.Generate(source, pool)
		best, hasBest := e.composer.Best(source, candidates, profile)

		scored = append(scored, scoredSource{
			source:     source,
			candidates: candidates,
			best:       best,
			hasBest:    hasBest,
			truncated:  truncated,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := scored[i], scored[j]
		if si.hasBest != sj.hasBest {
			return si.hasBest
		}
		if si.best.CompositeScore != sj.best.CompositeScore {
			return si.best.CompositeScore > sj.best.CompositeScore
		}
		return si.source.ID < sj.source.ID
	})

	return scored
}

// decide produces the decision for one voucher during the assignment phase.
// Targets consumed earlier in the batch are excluded before selection, so a
// weaker match falls back to its next-best candidate rather than
// double-matching.
func (e *Engine) decide(ctx context.Context, item scoredSource, profile *models.WeightProfile, consumed map[string]bool, summary *BatchSummary) *models.MatchDecision {
	source := item.source

	decision := &models.MatchDecision{
		TenantID: source.TenantID,
		SourceID: source.ID,
		Outcome:  models.OutcomeUnmatched,
	}

	if item.truncated {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("candidate pool for voucher %s truncated at %d records", source.ID, e.config.CandidateCap))
		decision.RuleTrace = decision.RuleTrace.AppendNote("candidates",
			fmt.Sprintf("pool truncated at %d nearest-date records", e.config.CandidateCap))
	}

	available := item.candidates
	if len(consumed) > 0 {
		available = nil
		for _, c := range item.candidates {
			if !consumed[c.ID] {
				available = append(available, c)
			}
		}
		if len(available) < len(item.candidates) {
			decision.RuleTrace = decision.RuleTrace.AppendNote("candidates",
				"one or more candidates already consumed in this batch")
		}
	}

	if len(available) == 0 {
		decision.RuleTrace = decision.RuleTrace.AppendNote("candidates", "no candidates")
		return decision
	}

	best, ok := e.composer.Best(source, available, profile)
	if !ok {
		decision.RuleTrace = decision.RuleTrace.AppendNote("candidates", "no candidates")
		return decision
	}

	decision.RuleTrace = append(decision.RuleTrace, best.Trace...)
	decision.TargetID = best.Target.ID
	decision.CompositeScore = best.CompositeScore
	decision.Outcome = matcher.Classify(best.CompositeScore, e.config)

	if decision.Outcome == models.OutcomeUnmatched {
		// Unmatched decisions carry no target reference
		decision.TargetID = ""
	}

	if decision.Outcome != models.OutcomeMatched {
		e.consultOracle(ctx, source, available, decision)
	}

	return decision
}

// consultOracle asks the oracle for reasoning on an ambiguous voucher. The
// oracle is advisory: its confidence and reasoning land in the trace for the
// reviewer, the rule-based outcome stands either way.
func (e *Engine) consultOracle(ctx context.Context, source *models.Voucher, candidates []*models.ExternalRecord, decision *models.MatchDecision) {
	if !e.oracle.Enabled() {
		return
	}

	assessments, err := e.oracle.ExplainOrScore(ctx, source, candidates)
	if err != nil {
		e.log.WithError(err).WithField("source_id", source.ID).Warn("Oracle consultation failed")
		decision.RuleTrace = decision.RuleTrace.AppendNote("oracle",
			"degraded mode: oracle unavailable, rule-based score stands")
		return
	}

	for _, a := range assessments {
		decision.RuleTrace = decision.RuleTrace.AppendNote("oracle",
			fmt.Sprintf("candidate %s confidence %.2f: %s", a.TargetID, a.Confidence, a.Reasoning))
	}
}

// applyOutcome performs the side effects of a written decision: consuming
// the target on Matched, holding it on NearMatch, retiring the voucher. A
// consumed-target conflict downgrades that one source, never the batch.
func (e *Engine) applyOutcome(decision *models.MatchDecision, consumed map[string]bool) error {
	switch decision.Outcome {
	case models.OutcomeMatched:
		if err := e.store.MarkTargetStatus(decision.TenantID, decision.TargetID, models.StatusMatched); err != nil {
			if errors.HasCode(err, errors.CodeTargetConsumed) {
				e.log.WithField("target_id", decision.TargetID).Warn("Target consumed concurrently, decision stands as audit record")
				return nil
			}
			return err
		}
		consumed[decision.TargetID] = true

		if err := e.store.MarkSourceReconciled(decision.TenantID, decision.SourceID); err != nil {
			return err
		}

		e.feedback.RecordMatchPattern(decision.TenantID, decision)

	case models.OutcomeNearMatch:
		if err := e.store.MarkTargetStatus(decision.TenantID, decision.TargetID, models.StatusNearMatch); err != nil {
			if errors.HasCode(err, errors.CodeTargetConsumed) {
				return nil
			}
			return err
		}
	}

	return nil
}

// DecisionHistory returns the chronological decision history for one voucher
func (e *Engine) DecisionHistory(tenantID, sourceID string) ([]*models.MatchDecision, error) {
	return e.ledger.History(tenantID, sourceID)
}

// SubmitFeedback records a human correction, adapts the tenant's weights and
// applies the corrected outcome to the record store: confirming a NearMatch
// as Matched consumes the target and retires the voucher, disputing marks
// the target disputed.
func (e *Engine) SubmitFeedback(tenantID, decisionID string, correctedOutcome models.Outcome, correctedBy string) (*models.FeedbackRecord, error) {
	record, err := e.feedback.SubmitFeedback(tenantID, decisionID, correctedOutcome, correctedBy)
	if err != nil {
		return nil, err
	}

	switch correctedOutcome {
	case models.OutcomeMatched:
		decision, getErr := e.ledger.Get(tenantID, decisionID)
		if getErr == nil && decision.TargetID != "" {
			e.confirmMatch(decision)
		}

	case models.OutcomeDisputed:
		decision, getErr := e.ledger.Get(tenantID, decisionID)
		if getErr == nil && decision.TargetID != "" {
			if markErr := e.store.MarkTargetStatus(tenantID, decision.TargetID, models.StatusDisputed); markErr != nil {
				e.log.WithError(markErr).WithField("target_id", decision.TargetID).Warn("Could not mark disputed target")
			}
		}
	}

	return record, nil
}

// confirmMatch consumes the target and retires the voucher of a decision a
// reviewer confirmed as Matched, so neither is offered again in later
// batches. Confirming a decision whose target was consumed by that same
// decision is a no-op.
func (e *Engine) confirmMatch(decision *models.MatchDecision) {
	err := e.store.MarkTargetStatus(decision.TenantID, decision.TargetID, models.StatusMatched)
	if err != nil && !errors.HasCode(err, errors.CodeTargetConsumed) {
		e.log.WithError(err).WithField("target_id", decision.TargetID).Warn("Could not consume confirmed target")
		return
	}

	if err := e.store.MarkSourceReconciled(decision.TenantID, decision.SourceID); err != nil {
		e.log.WithError(err).WithField("source_id", decision.SourceID).Warn("Could not retire confirmed voucher")
	}
}

// WeightProfile returns a snapshot of the tenant's adaptive weights
func (e *Engine) WeightProfile(tenantID string) (*models.WeightProfile, error) {
	return e.feedback.WeightProfile(tenantID)
}

// LearningStats returns the tenant's adaptation statistics
func (e *Engine) LearningStats(tenantID string) feedback.LearningStats {
	return e.feedback.Stats(tenantID)
}
