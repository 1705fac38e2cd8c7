package feedback

import (
	"testing"

	"voucher-reconciliation-engine/internal/ledger"
	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordedDecision(t *testing.T, ml *ledger.MemoryLedger, tenantID string, outcome models.Outcome) string {
	t.Helper()

	decision := &models.MatchDecision{
		TenantID:       tenantID,
		SourceID:       "V-1",
		TargetID:       "T-1",
		CompositeScore: 0.7,
		Outcome:        outcome,
		RuleTrace: models.RuleTrace{}.
			AppendScore("amount-tolerance", models.SubScore{
				Dimension: models.DimensionAmount,
				Value:     0.9,
				Weight:    1.0,
				Reason:    "amount within tolerance",
			}).
			AppendScore("date-proximity", models.SubScore{
				Dimension: models.DimensionDate,
				Value:     0.5,
				Weight:    1.0,
				Reason:    "dates apart",
			}).
			AppendScore("text-similarity", models.SubScore{
				Dimension: models.DimensionText,
				Value:     0.0,
				Weight:    1.0,
				Reason:    "field unavailable",
			}),
	}
	if outcome == models.OutcomeUnmatched {
		decision.TargetID = ""
	}

	id, err := ml.Record(decision)
	require.NoError(t, err)
	return id
}

func TestSubmitFeedbackValidation(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)
	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)

	_, err := store.SubmitFeedback("", decisionID, models.OutcomeMatched, "reviewer")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidTenant))

	_, err = store.SubmitFeedback("tenant-a", decisionID, models.Outcome("BOGUS"), "reviewer")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidOutcome))

	_, err = store.SubmitFeedback("tenant-a", decisionID, models.OutcomeMatched, "")
	assert.True(t, errors.HasCode(err, errors.CodeMissingField))

	_, err = store.SubmitFeedback("tenant-a", "no-such-decision", models.OutcomeMatched, "reviewer")
	assert.True(t, errors.HasCode(err, errors.CodeDecisionUnknown))

	// Cross-tenant feedback fails like a missing decision
	_, err = store.SubmitFeedback("tenant-b", decisionID, models.OutcomeMatched, "reviewer")
	assert.True(t, errors.HasCode(err, errors.CodeDecisionUnknown))
}

func TestSubmitFeedbackRecordsCorrection(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)
	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)

	record, err := store.SubmitFeedback("tenant-a", decisionID, models.OutcomeMatched, "reviewer")
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.OutcomeNearMatch, record.OriginalOutcome)
	assert.Equal(t, models.OutcomeMatched, record.CorrectedOutcome)
	assert.Equal(t, "reviewer", record.CorrectedBy)
	assert.False(t, record.CreatedAt.IsZero())

	stored := store.Feedback("tenant-a")
	require.Len(t, stored, 1)
	assert.Equal(t, record.ID, stored[0].ID)
}

func TestSubmitFeedbackSupersedesDecision(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)
	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)

	_, err := store.SubmitFeedback("tenant-a", decisionID, models.OutcomeMatched, "reviewer")
	require.NoError(t, err)

	history, err := ml.History("tenant-a", "V-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	// The original entry is untouched; the correction is a new record
	assert.Equal(t, models.OutcomeNearMatch, history[0].Outcome)
	assert.Empty(t, history[0].SupersedesID)

	superseding := history[1]
	assert.Equal(t, models.OutcomeMatched, superseding.Outcome)
	assert.Equal(t, decisionID, superseding.SupersedesID)
	assert.NotEqual(t, decisionID, superseding.ID)
	assert.Equal(t, "T-1", superseding.TargetID)
}

func TestCorrectionToMatchedRaisesContributingWeights(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)
	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)

	before, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)

	_, err = store.SubmitFeedback("tenant-a", decisionID, models.OutcomeMatched, "reviewer")
	require.NoError(t, err)

	after, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)

	// Amount contributed 0.9 and date 0.5; both move up, amount more
	amountDelta := after.Weight(models.DimensionAmount) - before.Weight(models.DimensionAmount)
	dateDelta := after.Weight(models.DimensionDate) - before.Weight(models.DimensionDate)

	assert.Greater(t, amountDelta, 0.0)
	assert.Greater(t, dateDelta, 0.0)
	assert.Greater(t, amountDelta, dateDelta)

	// The unavailable text dimension carries no contribution
	assert.Equal(t, before.Weight(models.DimensionText), after.Weight(models.DimensionText))

	assert.Equal(t, 1, after.SampleCount)
	assert.False(t, after.LastUpdated.IsZero())
}

func TestDisputedMatchLowersContributingWeights(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)
	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeMatched)

	_, err := store.SubmitFeedback("tenant-a", decisionID, models.OutcomeDisputed, "reviewer")
	require.NoError(t, err)

	after, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)

	assert.Less(t, after.Weight(models.DimensionAmount), 1.0)
	assert.Less(t, after.Weight(models.DimensionDate), 1.0)
}

func TestNeutralCorrectionLeavesWeightsAlone(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)
	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)

	// NearMatch -> Disputed carries no adaptation signal
	_, err := store.SubmitFeedback("tenant-a", decisionID, models.OutcomeDisputed, "reviewer")
	require.NoError(t, err)

	after, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)

	for _, dim := range models.AllDimensions() {
		assert.Equal(t, 1.0, after.Weight(dim), "dimension %s", dim)
	}
	assert.Equal(t, 0, after.SampleCount)
}

func TestWeightsStayBoundedUnderRepeatedFeedback(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)

	for i := 0; i < 200; i++ {
		decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)
		_, err := store.SubmitFeedback("tenant-a", decisionID, models.OutcomeMatched, "reviewer")
		require.NoError(t, err)
	}

	profile, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)

	for _, dim := range models.AllDimensions() {
		w := profile.Weight(dim)
		assert.GreaterOrEqual(t, w, models.WeightMin, "dimension %s", dim)
		assert.LessOrEqual(t, w, models.WeightMax, "dimension %s", dim)
	}
	assert.Equal(t, 200, profile.SampleCount)
}

func TestLearningRateDecays(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)

	firstID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)
	_, err := store.SubmitFeedback("tenant-a", firstID, models.OutcomeMatched, "reviewer")
	require.NoError(t, err)

	afterFirst, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)
	firstDelta := afterFirst.Weight(models.DimensionAmount) - 1.0

	secondID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)
	_, err = store.SubmitFeedback("tenant-a", secondID, models.OutcomeMatched, "reviewer")
	require.NoError(t, err)

	afterSecond, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)
	secondDelta := afterSecond.Weight(models.DimensionAmount) - afterFirst.Weight(models.DimensionAmount)

	assert.Greater(t, firstDelta, 0.0)
	assert.Greater(t, secondDelta, 0.0)
	assert.Less(t, secondDelta, firstDelta)
}

func TestProfilesIsolatedPerTenant(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)

	decisionID := recordedDecision(t, ml, "tenant-a", models.OutcomeNearMatch)
	_, err := store.SubmitFeedback("tenant-a", decisionID, models.OutcomeMatched, "reviewer")
	require.NoError(t, err)

	other, err := store.WeightProfile("tenant-b")
	require.NoError(t, err)

	for _, dim := range models.AllDimensions() {
		assert.Equal(t, 1.0, other.Weight(dim))
	}
	assert.Equal(t, 0, other.SampleCount)
}

func TestWeightProfileReturnsSnapshot(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)

	snapshot, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)

	snapshot.Weights[models.DimensionAmount] = 99.0

	fresh, err := store.WeightProfile("tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, fresh.Weight(models.DimensionAmount))
}

func TestPatternRecording(t *testing.T) {
	ml := ledger.NewMemoryLedger()
	store := NewStore(ml)

	decision := &models.MatchDecision{
		TenantID:       "tenant-a",
		SourceID:       "V-1",
		TargetID:       "T-1",
		CompositeScore: 0.95,
		Outcome:        models.OutcomeMatched,
		RuleTrace: models.RuleTrace{}.AppendScore("amount-exact", models.SubScore{
			Dimension: models.DimensionAmount,
			Value:     1.0,
			Weight:    1.0,
			Reason:    "exact amount match",
		}),
	}

	store.RecordMatchPattern("tenant-a", decision)
	store.RecordMatchPattern("tenant-a", decision)

	stats := store.Stats("tenant-a")
	assert.Equal(t, 1, stats.PatternCount)
	assert.NotEmpty(t, stats.MostUsedPattern)
	assert.Greater(t, stats.AverageSuccess, 0.0)
}

func TestStatsEmptyTenant(t *testing.T) {
	store := NewStore(ledger.NewMemoryLedger())

	stats := store.Stats("tenant-a")
	assert.Equal(t, 0, stats.PatternCount)
	assert.Equal(t, 0, stats.FeedbackCount)
	for _, dim := range models.AllDimensions() {
		assert.Equal(t, 1.0, stats.Weights[dim])
	}
}
