package matcher

import (
	"fmt"

	"voucher-reconciliation-engine/internal/models"
)

// Composition is the scored result of one (voucher, external record) pair
type Composition struct {
	Target         *models.ExternalRecord
	CompositeScore float64
	Trace          models.RuleTrace
	DateDiffDays   int
}

// Composer combines per-dimension sub-scores into one composite confidence
// value using the tenant's weight profile, and selects the best candidate
// per voucher deterministically.
type Composer struct {
	config *MatchingConfig
}

// NewComposer creates a composer with the given config
func NewComposer(config *MatchingConfig) *Composer {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &Composer{config: config}
}

// ScorePair runs every field scorer for one pair and composes the weighted
// average. The composite divides by the sum of weights of the dimensions
// that actually produced a score, so a pair with fewer evaluable dimensions
// is not biased against one with more.
func (c *Composer) ScorePair(source *models.Voucher, target *models.ExternalRecord, profile *models.WeightProfile) Composition {
	exact := ScoreAmountExact(source, target)
	tolerance := ScoreAmountTolerance(source, target, c.config.AmountToleranceFraction)
	date := ScoreDateProximity(source, target, c.config.DateProximityMaxDays)
	text := ScoreTextSimilarity(source, target)
	reference := ScoreReferenceMatch(source, target)

	// Both amount scorers share the amount dimension; the stronger signal
	// wins so an exact hit is never diluted by the tolerance band.
	amount := tolerance
	if exact.Value > tolerance.Value {
		amount = exact
	}

	var trace models.RuleTrace
	trace = trace.AppendScore("amount-exact", withWeight(exact, profile))
	trace = trace.AppendScore("amount-tolerance", withWeight(tolerance, profile))
	trace = trace.AppendScore("date-proximity", withWeight(date, profile))
	trace = trace.AppendScore("text-similarity", withWeight(text, profile))
	trace = trace.AppendScore("reference-match", withWeight(reference, profile))

	var weightedSum, weightTotal float64
	for _, sub := range []models.SubScore{amount, date, text, reference} {
		if sub.Reason == ReasonFieldUnavailable {
			continue
		}

		weight := profile.Weight(sub.Dimension)
		weightedSum += sub.Value * weight
		weightTotal += weight
	}

	var composite float64
	if weightTotal > 0 {
		composite = clip01(weightedSum / weightTotal)
	}

	trace = trace.AppendNote("composite", fmt.Sprintf("weighted average %.4f over %s", composite, source.ID))

	return Composition{
		Target:         target,
		CompositeScore: composite,
		Trace:          trace,
		DateDiffDays:   DaysBetween(source.Date, target.Date),
	}
}

// Best scores every candidate and returns the single best composition.
// Ties break by smallest date difference, then by lowest target ID, so
// repeated runs over the same inputs select the same candidate.
func (c *Composer) Best(source *models.Voucher, candidates []*models.ExternalRecord, profile *models.WeightProfile) (Composition, bool) {
	if len(candidates) == 0 {
		return Composition{}, false
	}

	var best Composition
	found := false

	for _, candidate := range candidates {
		current := c.ScorePair(source, candidate, profile)

		if !found || better(current, best) {
			best = current
			found = true
		}
	}

	return best, found
}

// better reports whether a should be preferred over b
func better(a, b Composition) bool {
	if a.CompositeScore != b.CompositeScore {
		return a.CompositeScore > b.CompositeScore
	}

	if a.DateDiffDays != b.DateDiffDays {
		return a.DateDiffDays < b.DateDiffDays
	}

	return a.Target.ID < b.Target.ID
}

func withWeight(sub models.SubScore, profile *models.WeightProfile) models.SubScore {
	sub.Weight = profile.Weight(sub.Dimension)
	return sub
}
