package matcher

import (
	"math"
	"testing"
	"time"

	"voucher-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

func testVoucher(amount float64, date time.Time) *models.Voucher {
	return &models.Voucher{
		ID:       "V001",
		TenantID: "tenant-a",
		Amount:   decimal.NewFromFloat(amount),
		Date:     date,
	}
}

func testTarget(amount float64, date time.Time) *models.ExternalRecord {
	return &models.ExternalRecord{
		ID:       "T001",
		TenantID: "tenant-a",
		Amount:   decimal.NewFromFloat(amount),
		Date:     date,
		Status:   models.StatusUnmatched,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func TestScoreAmountExact(t *testing.T) {
	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		sourceAmount float64
		targetAmount float64
		expected     float64
	}{
		{"identical amounts", 1000.00, 1000.00, 1.0},
		{"sub-paisa difference", 1000.00, 1000.005, 1.0},
		{"one paisa difference", 1000.00, 1000.01, 0.0},
		{"different amounts", 1000.00, 1005.00, 0.0},
		{"sign ignored", 250.00, -250.00, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreAmountExact(testVoucher(tt.sourceAmount, date), testTarget(tt.targetAmount, date))

			if score.Dimension != models.DimensionAmount {
				t.Errorf("Expected amount dimension, got %s", score.Dimension)
			}
			if !almostEqual(score.Value, tt.expected) {
				t.Errorf("Expected value %.4f, got %.4f", tt.expected, score.Value)
			}
		})
	}
}

func TestScoreAmountTolerance(t *testing.T) {
	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		sourceAmount float64
		targetAmount float64
		fraction     float64
		expected     float64
	}{
		{"exact match short-circuits", 1000.00, 1000.00, 0.02, 1.0},
		{"quarter of the band", 1000.00, 1005.00, 0.02, 0.75},
		{"half of the band", 1000.00, 1010.00, 0.02, 0.50},
		{"edge of the band", 1000.00, 1020.00, 0.02, 0.0},
		{"outside the band", 1000.00, 1050.00, 0.02, 0.0},
		{"zero fraction degenerates to exact", 1000.00, 1001.00, 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreAmountTolerance(testVoucher(tt.sourceAmount, date), testTarget(tt.targetAmount, date), tt.fraction)

			if !almostEqual(score.Value, tt.expected) {
				t.Errorf("Expected value %.4f, got %.4f", tt.expected, score.Value)
			}
			if score.Value < 0 || score.Value > 1 {
				t.Errorf("Score out of [0,1]: %f", score.Value)
			}
		})
	}
}

func TestScoreDateProximity(t *testing.T) {
	base := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		targetDate time.Time
		maxDays    int
		expected   float64
	}{
		{"same date", base, 7, 1.0},
		{"one day apart", base.AddDate(0, 0, 1), 7, 1.0 - 1.0/7.0},
		{"four days apart", base.AddDate(0, 0, 4), 7, 1.0 - 4.0/7.0},
		{"at the limit", base.AddDate(0, 0, 7), 7, 0.0},
		{"beyond the limit", base.AddDate(0, 0, 12), 7, 0.0},
		{"earlier target", base.AddDate(0, 0, -4), 7, 1.0 - 4.0/7.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreDateProximity(testVoucher(100, base), testTarget(100, tt.targetDate), tt.maxDays)

			if !almostEqual(score.Value, tt.expected) {
				t.Errorf("Expected value %.4f, got %.4f", tt.expected, score.Value)
			}
		})
	}
}

func TestScoreDateProximityMissingDate(t *testing.T) {
	source := testVoucher(100, time.Time{})
	target := testTarget(100, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	score := ScoreDateProximity(source, target, 7)

	if score.Value != 0 {
		t.Errorf("Expected 0 for missing date, got %f", score.Value)
	}
	if score.Reason != ReasonFieldUnavailable {
		t.Errorf("Expected reason %q, got %q", ReasonFieldUnavailable, score.Reason)
	}
}

func TestScoreReferenceMatch(t *testing.T) {
	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		sourceRef       string
		targetRef       string
		targetNarration string
		expected        float64
		wantUnavailable bool
	}{
		{"identical references", "INV-2024-001", "INV-2024-001", "", 1.0, false},
		{"reference token in narration", "INV2024", "", "payment against inv2024 april", 1.0, false},
		{"case and spacing normalized", "  INV-55  ", "inv-55", "", 1.0, false},
		{"partial token overlap", "INV 2024 001", "INV 2024 999", "", 0.5, false},
		{"no overlap", "INV-1", "PO-9", "", 0.0, false},
		{"missing source reference", "", "INV-1", "something", 0.0, true},
		{"target has neither field", "INV-1", "", "", 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := testVoucher(100, date)
			source.Reference = tt.sourceRef

			target := testTarget(100, date)
			target.Reference = tt.targetRef
			target.Narration = tt.targetNarration

			score := ScoreReferenceMatch(source, target)

			if !almostEqual(score.Value, tt.expected) {
				t.Errorf("Expected value %.4f, got %.4f", tt.expected, score.Value)
			}

			unavailable := score.Reason == ReasonFieldUnavailable
			if unavailable != tt.wantUnavailable {
				t.Errorf("Expected unavailable=%v, got reason %q", tt.wantUnavailable, score.Reason)
			}
		})
	}
}

func TestScoreTextSimilarity(t *testing.T) {
	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		sourceText      string
		targetText      string
		minValue        float64
		maxValue        float64
		wantUnavailable bool
	}{
		{"identical narrations", "payment to acme corp", "payment to acme corp", 1.0, 1.0, false},
		{"identical after normalization", "  Payment  TO Acme ", "payment to acme", 1.0, 1.0, false},
		{"strong overlap", "payment to acme corp april", "payment to acme corp", 0.7, 1.0, false},
		{"near-identical strings", "payment acme corp invoice 42", "payment acme corp invoice 43", 0.8, 1.0, false},
		{"unrelated narrations", "office rent", "fuel surcharge gst", 0.0, 0.6, false},
		{"missing source narration", "", "whatever", 0.0, 0.0, true},
		{"missing target narration", "whatever", "", 0.0, 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := testVoucher(100, date)
			source.Narration = tt.sourceText

			target := testTarget(100, date)
			target.Narration = tt.targetText

			score := ScoreTextSimilarity(source, target)

			if score.Value < tt.minValue || score.Value > tt.maxValue {
				t.Errorf("Expected value in [%.2f, %.2f], got %.4f", tt.minValue, tt.maxValue, score.Value)
			}

			unavailable := score.Reason == ReasonFieldUnavailable
			if unavailable != tt.wantUnavailable {
				t.Errorf("Expected unavailable=%v, got reason %q", tt.wantUnavailable, score.Reason)
			}
		})
	}
}

func TestTokenOverlapRatio(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{"identical", "a b c", "a b c", 1.0},
		{"half shared", "a b c", "a b d", 0.5},
		{"disjoint", "a b", "c d", 0.0},
		{"empty side", "", "a b", 0.0},
		{"duplicates collapse", "a a b", "a b", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenOverlapRatio(tt.a, tt.b)
			if !almostEqual(got, tt.expected) {
				t.Errorf("Expected %.4f, got %.4f", tt.expected, got)
			}
		})
	}
}

func TestClip01(t *testing.T) {
	if clip01(-0.5) != 0 {
		t.Error("Expected negative values clipped to 0")
	}
	if clip01(1.5) != 1 {
		t.Error("Expected values above 1 clipped to 1")
	}
	if clip01(math.NaN()) != 0 {
		t.Error("Expected NaN mapped to 0")
	}
	if clip01(0.42) != 0.42 {
		t.Error("Expected in-range value unchanged")
	}
}
