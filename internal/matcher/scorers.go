package matcher

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"voucher-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// ReasonFieldUnavailable marks a sub-score whose scorer could not evaluate
// because a required field is missing. Such scores carry value 0.0 and are
// excluded from the weighted composite rather than failing the match.
const ReasonFieldUnavailable = "field unavailable"

// exactAmountEpsilon is the currency-unit threshold under which two amounts
// are considered identical (sub-paisa differences from upstream rounding).
var exactAmountEpsilon = decimal.NewFromFloat(0.01)

// ScoreAmountExact scores 1.0 when the absolute amounts differ by less than
// one hundredth of a currency unit, 0.0 otherwise.
//
// Both amount scorers compare absolute values: the sign convention differs
// between sides (a voucher payment is positive, the bank statement line for
// it is a debit), so sign carries no matching signal.
func ScoreAmountExact(source *models.Voucher, target *models.ExternalRecord) models.SubScore {
	diff := source.Amount.Abs().Sub(target.Amount.Abs()).Abs()

	if diff.LessThan(exactAmountEpsilon) {
		return models.SubScore{
			Dimension: models.DimensionAmount,
			Value:     1.0,
			Reason:    "exact amount match",
		}
	}

	return models.SubScore{
		Dimension: models.DimensionAmount,
		Value:     0.0,
		Reason:    fmt.Sprintf("amounts differ by %s", diff.String()),
	}
}

// ScoreAmountTolerance scores linearly within a relative tolerance band:
// value = max(0, 1 - |diff| / (source amount x tolerance fraction)), clipped
// to [0, 1]. A zero tolerance fraction degenerates to exact matching.
// Amounts are compared sign-insensitively, see ScoreAmountExact.
func ScoreAmountTolerance(source *models.Voucher, target *models.ExternalRecord, toleranceFraction float64) models.SubScore {
	diff := source.Amount.Abs().Sub(target.Amount.Abs()).Abs()

	if diff.LessThan(exactAmountEpsilon) {
		return models.SubScore{
			Dimension: models.DimensionAmount,
			Value:     1.0,
			Reason:    "exact amount match",
		}
	}

	if toleranceFraction <= 0 {
		return models.SubScore{
			Dimension: models.DimensionAmount,
			Value:     0.0,
			Reason:    "no tolerance configured, amounts differ",
		}
	}

	tolerance := source.Amount.Abs().Mul(decimal.NewFromFloat(toleranceFraction))
	if tolerance.IsZero() {
		return models.SubScore{
			Dimension: models.DimensionAmount,
			Value:     0.0,
			Reason:    "zero tolerance band",
		}
	}

	ratio := diff.Div(tolerance).InexactFloat64()
	value := clip01(1.0 - ratio)

	reason := fmt.Sprintf("amount within %.1f%% tolerance (diff %s)", toleranceFraction*100, diff.String())
	if value == 0 {
		reason = fmt.Sprintf("amount outside %.1f%% tolerance (diff %s)", toleranceFraction*100, diff.String())
	}

	return models.SubScore{
		Dimension: models.DimensionAmount,
		Value:     value,
		Reason:    reason,
	}
}

// ScoreDateProximity scores linearly by calendar-day distance:
// value = max(0, 1 - days_diff / max_days).
func ScoreDateProximity(source *models.Voucher, target *models.ExternalRecord, maxDays int) models.SubScore {
	if source.Date.IsZero() || target.Date.IsZero() {
		return models.SubScore{
			Dimension: models.DimensionDate,
			Value:     0.0,
			Reason:    ReasonFieldUnavailable,
		}
	}

	days := DaysBetween(source.Date, target.Date)
	value := clip01(1.0 - float64(days)/float64(maxDays))

	reason := fmt.Sprintf("dates %d day(s) apart", days)
	if days == 0 {
		reason = "same date"
	}

	return models.SubScore{
		Dimension: models.DimensionDate,
		Value:     value,
		Reason:    reason,
	}
}

// ScoreReferenceMatch scores 1.0 when a normalized reference token from the
// voucher appears as a substring of the target narration or equals the
// target reference; otherwise a partial score from token overlap between the
// two reference fields.
func ScoreReferenceMatch(source *models.Voucher, target *models.ExternalRecord) models.SubScore {
	sourceRef := normalizeText(source.Reference)
	if sourceRef == "" {
		return models.SubScore{
			Dimension: models.DimensionReference,
			Value:     0.0,
			Reason:    ReasonFieldUnavailable,
		}
	}

	targetRef := normalizeText(target.Reference)
	targetNarration := normalizeText(target.Narration)

	if targetRef != "" && sourceRef == targetRef {
		return models.SubScore{
			Dimension: models.DimensionReference,
			Value:     1.0,
			Reason:    "references identical",
		}
	}

	for _, token := range tokenize(sourceRef) {
		if targetNarration != "" && strings.Contains(targetNarration, token) {
			return models.SubScore{
				Dimension: models.DimensionReference,
				Value:     1.0,
				Reason:    fmt.Sprintf("reference token '%s' found in target narration", token),
			}
		}
	}

	if targetRef == "" && targetNarration == "" {
		return models.SubScore{
			Dimension: models.DimensionReference,
			Value:     0.0,
			Reason:    ReasonFieldUnavailable,
		}
	}

	overlap := tokenOverlapRatio(sourceRef, targetRef)
	if overlap > 0 {
		return models.SubScore{
			Dimension: models.DimensionReference,
			Value:     overlap,
			Reason:    fmt.Sprintf("reference token overlap %.2f", overlap),
		}
	}

	return models.SubScore{
		Dimension: models.DimensionReference,
		Value:     0.0,
		Reason:    "no reference overlap",
	}
}

// ScoreTextSimilarity scores narration similarity: the token-overlap ratio
// (shared normalized word tokens over total distinct tokens across both
// strings), with a Levenshtein similarity ratio as a secondary signal for
// narrations that share few whole tokens but are near-identical strings.
func ScoreTextSimilarity(source *models.Voucher, target *models.ExternalRecord) models.SubScore {
	sourceText := normalizeText(source.Narration)
	targetText := normalizeText(target.Narration)

	if sourceText == "" || targetText == "" {
		return models.SubScore{
			Dimension: models.DimensionText,
			Value:     0.0,
			Reason:    ReasonFieldUnavailable,
		}
	}

	if sourceText == targetText {
		return models.SubScore{
			Dimension: models.DimensionText,
			Value:     1.0,
			Reason:    "narrations identical",
		}
	}

	overlap := tokenOverlapRatio(sourceText, targetText)
	ratio := levenshtein.RatioForStrings([]rune(sourceText), []rune(targetText), levenshtein.DefaultOptions)

	value := math.Max(overlap, ratio)
	value = clip01(value)

	reason := fmt.Sprintf("token overlap %.2f", overlap)
	if ratio > overlap {
		reason = fmt.Sprintf("edit-distance similarity %.2f", ratio)
	}

	return models.SubScore{
		Dimension: models.DimensionText,
		Value:     value,
		Reason:    reason,
	}
}

// clip01 bounds a score into [0, 1] and maps NaN to 0
func clip01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizeText lowercases and collapses whitespace for comparison
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// tokenize splits normalized text into alphanumeric word tokens
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenOverlapRatio computes shared distinct tokens over the total distinct
// tokens across both strings
func tokenOverlapRatio(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)

	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		setA[t] = true
	}

	setB := make(map[string]bool, len(tokensB))
	for _, t := range tokensB {
		setB[t] = true
	}

	shared := 0
	total := len(setA)
	for t := range setB {
		if setA[t] {
			shared++
		} else {
			total++
		}
	}

	if total == 0 {
		return 0
	}

	return float64(shared) / float64(total)
}
