package matcher

import "voucher-reconciliation-engine/internal/models"

// Classify maps a composite score to an outcome using the tenant's two
// thresholds. The mapping is a pure function with no hidden state:
//
//	composite >= match threshold            -> Matched
//	review threshold <= composite < match   -> NearMatch
//	composite < review threshold            -> Unmatched
//
// Monotonicity holds by construction: a higher composite score never
// produces a less-matched outcome.
func Classify(composite float64, config *MatchingConfig) models.Outcome {
	if composite >= config.MatchThreshold {
		return models.OutcomeMatched
	}

	if composite >= config.ReviewThreshold {
		return models.OutcomeNearMatch
	}

	return models.OutcomeUnmatched
}

// StatusForOutcome returns the target record status implied by an automatic
// outcome. Only Matched consumes the target from the candidate pool;
// NearMatch holds it for review while leaving it matchable.
func StatusForOutcome(outcome models.Outcome) models.RecordStatus {
	switch outcome {
	case models.OutcomeMatched:
		return models.StatusMatched
	case models.OutcomeNearMatch:
		return models.StatusNearMatch
	default:
		return models.StatusUnmatched
	}
}
