package matcher

import (
	"fmt"
	"testing"
	"time"

	"voucher-reconciliation-engine/internal/models"
)

func TestGenerateFiltersTenantAndStatus(t *testing.T) {
	generator := NewCandidateGenerator(DefaultMatchingConfig())

	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	source := testVoucher(100, date)

	sameTenant := testTarget(100, date)
	sameTenant.ID = "T-OK"

	otherTenant := testTarget(100, date)
	otherTenant.ID = "T-OTHER"
	otherTenant.TenantID = "tenant-b"

	consumed := testTarget(100, date)
	consumed.ID = "T-CONSUMED"
	consumed.Status = models.StatusMatched

	disputed := testTarget(100, date)
	disputed.ID = "T-DISPUTED"
	disputed.Status = models.StatusDisputed

	held := testTarget(100, date)
	held.ID = "T-HELD"
	held.Status = models.StatusNearMatch

	pool := []*models.ExternalRecord{sameTenant, otherTenant, consumed, disputed, held}

	candidates, truncated := generator.Generate(source, pool)

	if truncated {
		t.Error("Expected no truncation for a small pool")
	}

	ids := make(map[string]bool)
	for _, c := range candidates {
		ids[c.ID] = true
	}

	if !ids["T-OK"] || !ids["T-HELD"] {
		t.Errorf("Expected unmatched and near-match targets in candidates, got %v", ids)
	}
	if ids["T-OTHER"] {
		t.Error("Cross-tenant target must never be a candidate")
	}
	if ids["T-CONSUMED"] {
		t.Error("Consumed target must never be a candidate")
	}
	if ids["T-DISPUTED"] {
		t.Error("Disputed target must be held back from matching")
	}
}

func TestGenerateDateWindow(t *testing.T) {
	generator := NewCandidateGenerator(DefaultMatchingConfig())

	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	source := testVoucher(100, date)

	inside := testTarget(100, date.AddDate(0, 0, 30))
	inside.ID = "T-EDGE"
	outside := testTarget(100, date.AddDate(0, 0, 31))
	outside.ID = "T-OUT"

	candidates, _ := generator.Generate(source, []*models.ExternalRecord{inside, outside})

	if len(candidates) != 1 || candidates[0].ID != "T-EDGE" {
		t.Errorf("Expected only the in-window target, got %d candidates", len(candidates))
	}
}

func TestGenerateOrdersNearestDateFirst(t *testing.T) {
	generator := NewCandidateGenerator(DefaultMatchingConfig())

	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	source := testVoucher(100, date)

	var pool []*models.ExternalRecord
	for i, offset := range []int{5, 0, 2, 2} {
		target := testTarget(100, date.AddDate(0, 0, offset))
		target.ID = fmt.Sprintf("T-%d", i)
		pool = append(pool, target)
	}

	candidates, _ := generator.Generate(source, pool)

	expected := []string{"T-1", "T-2", "T-3", "T-0"}
	for i, want := range expected {
		if candidates[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, candidates[i].ID)
		}
	}
}

func TestGenerateTruncatesAtCap(t *testing.T) {
	config := DefaultMatchingConfig()
	config.CandidateCap = 3
	generator := NewCandidateGenerator(config)

	date := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	source := testVoucher(100, date)

	var pool []*models.ExternalRecord
	for i := 0; i < 10; i++ {
		target := testTarget(100, date.AddDate(0, 0, i))
		target.ID = fmt.Sprintf("T-%02d", i)
		pool = append(pool, target)
	}

	candidates, truncated := generator.Generate(source, pool)

	if !truncated {
		t.Error("Expected truncation warning when the pool exceeds the cap")
	}
	if len(candidates) != 3 {
		t.Fatalf("Expected %d candidates after truncation, got %d", 3, len(candidates))
	}

	// Truncation keeps the nearest-dated candidates
	for i, want := range []string{"T-00", "T-01", "T-02"} {
		if candidates[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, candidates[i].ID)
		}
	}
}

func TestGenerateEmptyPool(t *testing.T) {
	generator := NewCandidateGenerator(DefaultMatchingConfig())
	source := testVoucher(100, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC))

	candidates, truncated := generator.Generate(source, nil)

	if len(candidates) != 0 || truncated {
		t.Error("Expected empty candidate list without truncation for an empty pool")
	}
}
