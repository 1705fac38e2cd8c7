// Package matcher implements the reconciliation matching core: candidate
// generation, per-dimension field scoring, weighted composition and the
// decision classifier.
//
// The matching pipeline for one voucher is:
//  1. Candidate selection from the tenant's pool of matchable external
//     records (coarse date-window filter, nearest-date ordering, capped)
//  2. Field scoring across the amount, date, text and reference dimensions
//  3. Weighted-average composition against the tenant's weight profile
//  4. Deterministic best-candidate selection with stable tie-breaks
//  5. Threshold classification into Matched / NearMatch / Unmatched
//
// Every step is pure: the same inputs always produce the same decision.
package matcher

import (
	"fmt"
	"time"
)

// MatchingConfig holds the per-tenant parameters that control matching.
// Thresholds and tolerances are tenant-configurable; the host supplies one
// config per tenant and the engine snapshots it at batch start.
type MatchingConfig struct {
	// MatchThreshold is the composite score at or above which a pair is
	// accepted automatically
	MatchThreshold float64 `json:"match_threshold"`

	// ReviewThreshold is the composite score at or above which a pair is
	// routed to human review instead of being discarded
	ReviewThreshold float64 `json:"review_threshold"`

	// DateWindowDays is the coarse candidate filter: targets dated further
	// than this from the voucher are never scored
	DateWindowDays int `json:"date_window_days"`

	// DateProximityMaxDays controls the date scorer decay: the date
	// sub-score reaches zero at this distance
	DateProximityMaxDays int `json:"date_proximity_max_days"`

	// AmountToleranceFraction is the relative tolerance for the amount
	// scorer (0.02 = 2% of the voucher amount)
	AmountToleranceFraction float64 `json:"amount_tolerance_fraction"`

	// CandidateCap limits the number of candidates scored per voucher.
	// Exceeding it truncates nearest-date-first and emits a warning.
	CandidateCap int `json:"candidate_cap"`
}

// DefaultMatchingConfig returns a configuration with the standard defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MatchThreshold:          0.85,
		ReviewThreshold:         0.60,
		DateWindowDays:          30,
		DateProximityMaxDays:    7,
		AmountToleranceFraction: 0.02,
		CandidateCap:            500,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MatchThreshold:          0.95,
		ReviewThreshold:         0.80,
		DateWindowDays:          7,
		DateProximityMaxDays:    2,
		AmountToleranceFraction: 0.0,
		CandidateCap:            100,
	}
}

// RelaxedMatchingConfig returns a configuration for exploratory matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		MatchThreshold:          0.75,
		ReviewThreshold:         0.50,
		DateWindowDays:          90,
		DateProximityMaxDays:    14,
		AmountToleranceFraction: 0.05,
		CandidateCap:            1000,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.MatchThreshold < 0.0 || mc.MatchThreshold > 1.0 {
		return fmt.Errorf("match threshold must be between 0.0 and 1.0: %f", mc.MatchThreshold)
	}

	if mc.ReviewThreshold < 0.0 || mc.ReviewThreshold > 1.0 {
		return fmt.Errorf("review threshold must be between 0.0 and 1.0: %f", mc.ReviewThreshold)
	}

	if mc.ReviewThreshold > mc.MatchThreshold {
		return fmt.Errorf("review threshold %f cannot exceed match threshold %f",
			mc.ReviewThreshold, mc.MatchThreshold)
	}

	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}

	if mc.DateProximityMaxDays <= 0 {
		return fmt.Errorf("date proximity max days must be positive: %d", mc.DateProximityMaxDays)
	}

	if mc.AmountToleranceFraction < 0.0 || mc.AmountToleranceFraction > 1.0 {
		return fmt.Errorf("amount tolerance fraction must be between 0.0 and 1.0: %f", mc.AmountToleranceFraction)
	}

	if mc.CandidateCap <= 0 {
		return fmt.Errorf("candidate cap must be positive: %d", mc.CandidateCap)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	cp := *mc
	return &cp
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Match: %.2f, Review: %.2f, Window: %dd, Proximity: %dd, Tolerance: %.2f%%, Cap: %d}",
		mc.MatchThreshold, mc.ReviewThreshold, mc.DateWindowDays, mc.DateProximityMaxDays,
		mc.AmountToleranceFraction*100, mc.CandidateCap)
}

// DaysBetween returns the absolute calendar-day difference between two
// timestamps, ignoring the time-of-day component.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := int(da.Sub(db).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}
