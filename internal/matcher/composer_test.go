package matcher

import (
	"testing"
	"time"

	"voucher-reconciliation-engine/internal/models"
)

func equalProfile() *models.WeightProfile {
	return models.NewWeightProfile("tenant-a")
}

func TestScorePairPerfectMatch(t *testing.T) {
	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	composer := NewComposer(DefaultMatchingConfig())

	source := testVoucher(1000.00, date)
	target := testTarget(1000.00, date)

	result := composer.ScorePair(source, target, equalProfile())

	if !almostEqual(result.CompositeScore, 1.0) {
		t.Errorf("Expected composite 1.0 for identical amount and date, got %.4f", result.CompositeScore)
	}
	if result.DateDiffDays != 0 {
		t.Errorf("Expected zero date diff, got %d", result.DateDiffDays)
	}
}

func TestScorePairToleranceAndDate(t *testing.T) {
	// Amount 1000 vs 1005 inside the 2% band scores 0.75; dates four days
	// apart with a seven day decay score ~0.43. With matching narration and
	// reference both scoring 1.0, the equal-weight average lands between the
	// review and match thresholds.
	composer := NewComposer(DefaultMatchingConfig())

	source := testVoucher(1000.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))
	source.Narration = "payment to acme corp"
	source.Reference = "INV-42"

	target := testTarget(1005.00, time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC))
	target.Narration = "payment to acme corp"
	target.Reference = "INV-42"

	result := composer.ScorePair(source, target, equalProfile())

	expected := (0.75 + (1.0 - 4.0/7.0) + 1.0 + 1.0) / 4.0
	if !almostEqual(result.CompositeScore, expected) {
		t.Errorf("Expected composite %.4f, got %.4f", expected, result.CompositeScore)
	}

	if result.CompositeScore >= 0.85 || result.CompositeScore < 0.60 {
		t.Errorf("Expected composite in the review band, got %.4f", result.CompositeScore)
	}
}

func TestScorePairAmountTakesStrongerSignal(t *testing.T) {
	// Exact scorer gives 0 but the tolerance scorer gives a partial value;
	// the amount dimension must carry the stronger of the two.
	composer := NewComposer(DefaultMatchingConfig())

	source := testVoucher(1000.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))
	target := testTarget(1005.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	result := composer.ScorePair(source, target, equalProfile())

	// amount 0.75, date 1.0, text and reference unavailable
	expected := (0.75 + 1.0) / 2.0
	if !almostEqual(result.CompositeScore, expected) {
		t.Errorf("Expected composite %.4f, got %.4f", expected, result.CompositeScore)
	}
}

func TestScorePairExcludesUnavailableDimensions(t *testing.T) {
	// No narration or reference on either side: only amount and date divide
	// the composite, so sparse pairs are not biased against rich ones.
	composer := NewComposer(DefaultMatchingConfig())

	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	source := testVoucher(500.00, date)
	target := testTarget(500.00, date.AddDate(0, 0, 7))

	result := composer.ScorePair(source, target, equalProfile())

	if !almostEqual(result.CompositeScore, 0.5) {
		t.Errorf("Expected composite 0.5 over two dimensions, got %.4f", result.CompositeScore)
	}
}

func TestScorePairWeightsShiftComposite(t *testing.T) {
	composer := NewComposer(DefaultMatchingConfig())

	source := testVoucher(1000.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))
	target := testTarget(1005.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	amountHeavy := models.NewWeightProfile("tenant-a")
	amountHeavy.Weights[models.DimensionAmount] = 2.0

	equal := composer.ScorePair(source, target, equalProfile())
	weighted := composer.ScorePair(source, target, amountHeavy)

	// amount scored 0.75 and date 1.0, so up-weighting amount pulls the
	// composite down toward the weaker signal
	if weighted.CompositeScore >= equal.CompositeScore {
		t.Errorf("Expected amount-heavy composite %.4f below equal-weight %.4f",
			weighted.CompositeScore, equal.CompositeScore)
	}

	expected := (0.75*2.0 + 1.0*1.0) / 3.0
	if !almostEqual(weighted.CompositeScore, expected) {
		t.Errorf("Expected weighted composite %.4f, got %.4f", expected, weighted.CompositeScore)
	}
}

func TestScorePairTraceComplete(t *testing.T) {
	composer := NewComposer(DefaultMatchingConfig())

	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	result := composer.ScorePair(testVoucher(100, date), testTarget(100, date), equalProfile())

	rules := make(map[string]int)
	for _, entry := range result.Trace {
		rules[entry.Rule]++
	}

	for _, rule := range []string{"amount-exact", "amount-tolerance", "date-proximity", "text-similarity", "reference-match", "composite"} {
		if rules[rule] == 0 {
			t.Errorf("Expected trace to contain rule %q", rule)
		}
	}
}

func TestBestTieBreaksByDateThenID(t *testing.T) {
	composer := NewComposer(DefaultMatchingConfig())

	source := testVoucher(1000.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	near := testTarget(1000.00, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC))
	near.ID = "T-B"
	far := testTarget(1000.00, time.Date(2024, 4, 13, 0, 0, 0, 0, time.UTC))
	far.ID = "T-A"

	best, ok := composer.Best(source, []*models.ExternalRecord{far, near}, equalProfile())
	if !ok {
		t.Fatal("Expected a best candidate")
	}
	if best.Target.ID != "T-B" {
		t.Errorf("Expected nearer date to win the tie, got %s", best.Target.ID)
	}

	// Same composite and same date diff: lowest ID wins
	twinA := testTarget(1000.00, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC))
	twinA.ID = "T-A"
	twinB := testTarget(1000.00, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC))
	twinB.ID = "T-B"

	best, ok = composer.Best(source, []*models.ExternalRecord{twinB, twinA}, equalProfile())
	if !ok {
		t.Fatal("Expected a best candidate")
	}
	if best.Target.ID != "T-A" {
		t.Errorf("Expected lowest ID to win the tie, got %s", best.Target.ID)
	}
}

func TestBestEmptyCandidates(t *testing.T) {
	composer := NewComposer(DefaultMatchingConfig())
	source := testVoucher(100, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	if _, ok := composer.Best(source, nil, equalProfile()); ok {
		t.Error("Expected no composition for empty candidate list")
	}
}

func TestBestIsDeterministic(t *testing.T) {
	composer := NewComposer(DefaultMatchingConfig())
	source := testVoucher(1000.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	candidates := []*models.ExternalRecord{
		testTarget(1003.00, time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC)),
		testTarget(1000.00, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC)),
		testTarget(995.00, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)),
	}
	for i, c := range candidates {
		c.ID = []string{"T-1", "T-2", "T-3"}[i]
	}

	first, ok := composer.Best(source, candidates, equalProfile())
	if !ok {
		t.Fatal("Expected a best candidate")
	}

	for i := 0; i < 10; i++ {
		again, _ := composer.Best(source, candidates, equalProfile())
		if again.Target.ID != first.Target.ID || !almostEqual(again.CompositeScore, first.CompositeScore) {
			t.Fatalf("Selection not deterministic: run %d picked %s (%.4f), first picked %s (%.4f)",
				i, again.Target.ID, again.CompositeScore, first.Target.ID, first.CompositeScore)
		}
	}
}
