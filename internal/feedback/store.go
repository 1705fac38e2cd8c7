// Package feedback records human corrections to automated reconciliation
// decisions and adapts per-tenant scoring weights from them. Adaptation is a
// bounded online-learning rule: weights are nudged within [0.1, 2.0] with a
// learning rate that decays as the tenant accumulates samples, so the
// profile stabilizes over time and never diverges.
package feedback

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"voucher-reconciliation-engine/internal/ledger"
	"voucher-reconciliation-engine/internal/matcher"
	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/pkg/errors"
	"voucher-reconciliation-engine/pkg/logger"

	"github.com/google/uuid"
)

// DefaultLearningRate is the base step size for weight adaptation, decayed
// by 1/sqrt(sample count) per tenant.
const DefaultLearningRate = 0.1

// Store holds feedback records, per-tenant weight profiles and learned
// heuristic patterns. Weight updates are single-writer-per-tenant: a
// per-tenant lock serializes the read-modify-write.
type Store struct {
	ledger       ledger.Ledger
	learningRate float64
	log          logger.Logger

	mu          sync.RWMutex
	profiles    map[string]*models.WeightProfile
	feedback    map[string][]*models.FeedbackRecord
	patterns    map[string][]*models.HeuristicPattern
	tenantLocks map[string]*sync.Mutex
}

// NewStore creates a feedback store backed by the given decision ledger
func NewStore(decisionLedger ledger.Ledger) *Store {
	return &Store{
		ledger:       decisionLedger,
		learningRate: DefaultLearningRate,
		log:          logger.WithComponent("feedback_store"),
		profiles:     make(map[string]*models.WeightProfile),
		feedback:     make(map[string][]*models.FeedbackRecord),
		patterns:     make(map[string][]*models.HeuristicPattern),
		tenantLocks:  make(map[string]*sync.Mutex),
	}
}

// WeightProfile returns a snapshot of the tenant's weight profile. Batches
// call this once at start; the snapshot is never mutated mid-batch.
func (s *Store) WeightProfile(tenantID string) (*models.WeightProfile, error) {
	if tenantID == "" {
		return nil, errors.ValidationError(errors.CodeInvalidTenant, "tenant_id", tenantID, nil)
	}

	s.mu.RLock()
	profile, ok := s.profiles[tenantID]
	s.mu.RUnlock()

	if !ok {
		return models.NewWeightProfile(tenantID), nil
	}

	return profile.Clone(), nil
}

// SubmitFeedback validates a human correction against the ledger, appends
// the feedback record, and recomputes the tenant's weight profile.
func (s *Store) SubmitFeedback(tenantID, decisionID string, correctedOutcome models.Outcome, correctedBy string) (*models.FeedbackRecord, error) {
	if tenantID == "" {
		return nil, errors.ValidationError(errors.CodeInvalidTenant, "tenant_id", tenantID, nil)
	}

	if !correctedOutcome.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidOutcome, "corrected_outcome", correctedOutcome, nil)
	}

	if correctedBy == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "corrected_by", correctedBy, nil)
	}

	decision, err := s.ledger.Get(tenantID, decisionID)
	if err != nil {
		return nil, err
	}

	record := &models.FeedbackRecord{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		MatchDecisionID:  decisionID,
		OriginalOutcome:  decision.Outcome,
		CorrectedOutcome: correctedOutcome,
		CorrectedBy:      correctedBy,
		CreatedAt:        time.Now().UTC(),
	}

	if err := record.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "feedback", record.ID, err)
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.feedback[tenantID] = append(s.feedback[tenantID], record)
	s.mu.Unlock()

	if err := s.supersede(decision, correctedOutcome, correctedBy); err != nil {
		s.log.WithError(err).WithField("decision_id", decisionID).Warn("Could not write superseding decision")
	}

	s.adaptWeights(tenantID, decision, correctedOutcome)

	if correctedOutcome == models.OutcomeMatched {
		s.recordPattern(tenantID, decision, 1.0)
	}

	s.log.WithFields(logger.Fields{
		"tenant_id":   tenantID,
		"decision_id": decisionID,
		"original":    decision.Outcome,
		"corrected":   correctedOutcome,
	}).Info("Feedback recorded")

	return record, nil
}

// supersede appends the corrected decision to the ledger as a new record
// referencing the original. The original entry is never touched; the history
// for the source now ends with the correction.
func (s *Store) supersede(original *models.MatchDecision, corrected models.Outcome, correctedBy string) error {
	superseding := original.Clone()
	superseding.ID = ""
	superseding.CreatedAt = time.Time{}
	superseding.Outcome = corrected
	superseding.SupersedesID = original.ID
	superseding.RuleTrace = superseding.RuleTrace.AppendNote("feedback",
		fmt.Sprintf("corrected from %s to %s by %s", original.Outcome, corrected, correctedBy))

	if corrected == models.OutcomeUnmatched {
		superseding.TargetID = ""
	}

	// A correction to a matched outcome needs a target; a decision that never
	// had one cannot be superseded, only adapted from
	if err := superseding.Validate(); err != nil {
		return nil
	}

	_, err := s.ledger.Record(superseding)
	return err
}

// Feedback returns the feedback records for a tenant, oldest first
func (s *Store) Feedback(tenantID string) []*models.FeedbackRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*models.FeedbackRecord, len(s.feedback[tenantID]))
	copy(records, s.feedback[tenantID])
	return records
}

// correctionSignal maps a correction to the direction of the weight nudge:
// +1 when an automated reject was corrected to Matched (the dimensions that
// scored high were under-weighted), -1 when an automated Matched was
// disputed (over-weighted), 0 otherwise.
func correctionSignal(original, corrected models.Outcome) float64 {
	if corrected == models.OutcomeMatched &&
		(original == models.OutcomeUnmatched || original == models.OutcomeNearMatch) {
		return 1.0
	}

	if corrected == models.OutcomeDisputed && original == models.OutcomeMatched {
		return -1.0
	}

	return 0.0
}

// adaptWeights applies the bounded gradient update. The per-dimension
// contribution comes from the decision's own rule trace, so dimensions that
// drove the decision move the most. Caller holds the tenant lock.
func (s *Store) adaptWeights(tenantID string, decision *models.MatchDecision, corrected models.Outcome) {
	signal := correctionSignal(decision.Outcome, corrected)
	if signal == 0 {
		return
	}

	contributions := dimensionContributions(decision.RuleTrace)
	if len(contributions) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[tenantID]
	if !ok {
		profile = models.NewWeightProfile(tenantID)
		s.profiles[tenantID] = profile
	}

	rate := s.learningRate / math.Sqrt(float64(profile.SampleCount+1))

	for dim, contribution := range contributions {
		old := profile.Weight(dim)
		profile.Weights[dim] = models.ClampWeight(old + rate*signal*contribution)
	}

	profile.SampleCount++
	profile.LastUpdated = time.Now().UTC()
}

// dimensionContributions extracts the per-dimension score values from a rule
// trace, keeping the strongest sub-score per dimension and skipping
// dimensions that could not evaluate.
func dimensionContributions(trace models.RuleTrace) map[models.Dimension]float64 {
	contributions := make(map[models.Dimension]float64)

	for _, entry := range trace {
		if entry.SubScore == nil {
			continue
		}

		if entry.SubScore.Reason == matcher.ReasonFieldUnavailable {
			continue
		}

		dim := entry.SubScore.Dimension
		if entry.SubScore.Value > contributions[dim] || !hasKey(contributions, dim) {
			contributions[dim] = entry.SubScore.Value
		}
	}

	return contributions
}

func hasKey(m map[models.Dimension]float64, dim models.Dimension) bool {
	_, ok := m[dim]
	return ok
}

// RecordMatchPattern records the shape of a successful automatic match so
// learning statistics reflect what worked, not only what was corrected.
func (s *Store) RecordMatchPattern(tenantID string, decision *models.MatchDecision) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	s.recordPattern(tenantID, decision, decision.CompositeScore)
}

// recordPattern upserts a heuristic pattern keyed by a deterministic hash of
// the match shape. Repeated hits update the usage count and keep a running
// average of the success score. Caller holds the tenant lock.
func (s *Store) recordPattern(tenantID string, decision *models.MatchDecision, successScore float64) {
	description := patternDescription(decision)
	hash := patternHash(description)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, pattern := range s.patterns[tenantID] {
		if pattern.PatternHash == hash {
			pattern.UsageCount++
			pattern.SuccessScore = (pattern.SuccessScore + successScore) / 2
			pattern.LastUsed = now
			return
		}
	}

	s.patterns[tenantID] = append(s.patterns[tenantID], &models.HeuristicPattern{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		PatternHash:  hash,
		Description:  description,
		SuccessScore: successScore,
		UsageCount:   1,
		LastUsed:     now,
		CreatedAt:    now,
	})
}

// patternDescription summarizes which dimensions drove a decision. Two
// decisions with the same strong dimensions share a pattern.
func patternDescription(decision *models.MatchDecision) string {
	contributions := dimensionContributions(decision.RuleTrace)

	var strong []string
	for _, dim := range models.AllDimensions() {
		if contributions[dim] >= 0.8 {
			strong = append(strong, dim.String())
		}
	}

	if len(strong) == 0 {
		return fmt.Sprintf("outcome %s on weak signals", decision.Outcome)
	}

	sort.Strings(strong)
	return fmt.Sprintf("outcome %s driven by %v", decision.Outcome, strong)
}

func patternHash(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}

// LearningStats summarizes what a tenant's adaptation has learned
type LearningStats struct {
	TenantID        string                       `json:"tenant_id"`
	PatternCount    int                          `json:"pattern_count"`
	AverageSuccess  float64                      `json:"average_success"`
	MostUsedPattern string                       `json:"most_used_pattern,omitempty"`
	FeedbackCount   int                          `json:"feedback_count"`
	Weights         map[models.Dimension]float64 `json:"weights"`
}

// Stats returns the learning statistics for a tenant
func (s *Store) Stats(tenantID string) LearningStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := LearningStats{
		TenantID:      tenantID,
		PatternCount:  len(s.patterns[tenantID]),
		FeedbackCount: len(s.feedback[tenantID]),
		Weights:       make(map[models.Dimension]float64),
	}

	profile, ok := s.profiles[tenantID]
	if !ok {
		profile = models.NewWeightProfile(tenantID)
	}
	for dim, w := range profile.Weights {
		stats.Weights[dim] = w
	}

	var totalSuccess float64
	var mostUsed *models.HeuristicPattern
	for _, pattern := range s.patterns[tenantID] {
		totalSuccess += pattern.SuccessScore
		if mostUsed == nil || pattern.UsageCount > mostUsed.UsageCount {
			mostUsed = pattern
		}
	}

	if stats.PatternCount > 0 {
		stats.AverageSuccess = totalSuccess / float64(stats.PatternCount)
	}
	if mostUsed != nil {
		stats.MostUsedPattern = mostUsed.Description
	}

	return stats
}

func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenantLocks[tenantID] = lock
	}
	return lock
}
