package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus represents the reconciliation status of an external record
type RecordStatus string

const (
	// StatusUnmatched means the record has not been matched to any voucher
	StatusUnmatched RecordStatus = "UNMATCHED"
	// StatusMatched means the record was consumed by an automatic or confirmed match
	StatusMatched RecordStatus = "MATCHED"
	// StatusNearMatch means the record is held by a match awaiting human review
	StatusNearMatch RecordStatus = "NEAR_MATCH"
	// StatusDisputed means a human reviewer rejected a previously accepted match
	StatusDisputed RecordStatus = "DISPUTED"
)

// String returns the string representation of RecordStatus
func (s RecordStatus) String() string {
	return string(s)
}

// IsValid checks if the record status is valid
func (s RecordStatus) IsValid() bool {
	switch s {
	case StatusUnmatched, StatusMatched, StatusNearMatch, StatusDisputed:
		return true
	}
	return false
}

// Matchable reports whether a record with this status may still be offered
// as a candidate. Matched records are consumed; Disputed records are held
// back until resolved by review.
func (s RecordStatus) Matchable() bool {
	return s == StatusUnmatched || s == StatusNearMatch
}

// Outcome represents the decision produced for one source record
type Outcome string

const (
	// OutcomeMatched is an automatic accept at or above the match threshold
	OutcomeMatched Outcome = "MATCHED"
	// OutcomeNearMatch is a candidate between the review and match thresholds,
	// requiring human confirmation
	OutcomeNearMatch Outcome = "NEAR_MATCH"
	// OutcomeUnmatched means no candidate reached the review threshold
	OutcomeUnmatched Outcome = "UNMATCHED"
	// OutcomeDisputed is only reachable through human feedback on a prior
	// Matched or NearMatch decision, never assigned automatically
	OutcomeDisputed Outcome = "DISPUTED"
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	return string(o)
}

// IsValid checks if the outcome is valid
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeMatched, OutcomeNearMatch, OutcomeUnmatched, OutcomeDisputed:
		return true
	}
	return false
}

// IsAutomatic reports whether the outcome can be produced by the classifier
// (as opposed to human feedback)
func (o Outcome) IsAutomatic() bool {
	return o == OutcomeMatched || o == OutcomeNearMatch || o == OutcomeUnmatched
}

// Rank orders automatic outcomes from least to most matched. Used to verify
// that classification is monotone in the composite score.
func (o Outcome) Rank() int {
	switch o {
	case OutcomeUnmatched:
		return 0
	case OutcomeNearMatch:
		return 1
	case OutcomeMatched:
		return 2
	default:
		return -1
	}
}

// Dimension identifies one comparable scoring dimension
type Dimension string

const (
	DimensionAmount    Dimension = "AMOUNT"
	DimensionDate      Dimension = "DATE"
	DimensionText      Dimension = "TEXT"
	DimensionReference Dimension = "REFERENCE"
)

// String returns the string representation of Dimension
func (d Dimension) String() string {
	return string(d)
}

// AllDimensions lists every scoring dimension in a stable order
func AllDimensions() []Dimension {
	return []Dimension{DimensionAmount, DimensionDate, DimensionText, DimensionReference}
}

// Voucher is the accounting-side source record seeking a match. It is an
// immutable snapshot at scoring time; the reconciliation core only reads it.
type Voucher struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration"`
	Type      string          `json:"type"`
	Reference string          `json:"reference"`
}

// Validate performs basic validation on the Voucher
func (v *Voucher) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("voucher ID cannot be empty")
	}

	if strings.TrimSpace(v.TenantID) == "" {
		return fmt.Errorf("voucher tenant ID cannot be empty")
	}

	if v.Amount.IsZero() {
		return fmt.Errorf("voucher amount cannot be zero")
	}

	if v.Date.IsZero() {
		return fmt.Errorf("voucher date cannot be zero")
	}

	return nil
}

// String returns a string representation of the Voucher
func (v *Voucher) String() string {
	return fmt.Sprintf("Voucher{ID: %s, Tenant: %s, Amount: %s, Date: %s}",
		v.ID, v.TenantID, v.Amount.String(), v.Date.Format("2006-01-02"))
}

// MarshalJSON implements custom JSON marshaling for Voucher.
// Amounts are serialized as strings to avoid binary-float rounding drift.
func (v *Voucher) MarshalJSON() ([]byte, error) {
	type Alias Voucher
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: v.Amount.String(),
		Date:   v.Date.Format(time.RFC3339),
		Alias:  (*Alias)(v),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Voucher
func (v *Voucher) UnmarshalJSON(data []byte) error {
	type Alias Voucher
	aux := &struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Alias: (*Alias)(v),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	v.Amount, err = decimal.NewFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}

	v.Date, err = time.Parse(time.RFC3339, aux.Date)
	if err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}

	return nil
}

// ExternalRecord is the external-side target record (bank statement line or
// GST invoice). Only the Status field is mutated by the reconciliation core.
type ExternalRecord struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration"`
	Reference string          `json:"reference"`
	Status    RecordStatus    `json:"status"`
}

// Validate performs basic validation on the ExternalRecord
func (r *ExternalRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("external record ID cannot be empty")
	}

	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("external record tenant ID cannot be empty")
	}

	if r.Amount.IsZero() {
		return fmt.Errorf("external record amount cannot be zero")
	}

	if r.Date.IsZero() {
		return fmt.Errorf("external record date cannot be zero")
	}

	if !r.Status.IsValid() {
		return fmt.Errorf("invalid record status: %s", r.Status)
	}

	return nil
}

// String returns a string representation of the ExternalRecord
func (r *ExternalRecord) String() string {
	return fmt.Sprintf("ExternalRecord{ID: %s, Tenant: %s, Amount: %s, Date: %s, Status: %s}",
		r.ID, r.TenantID, r.Amount.String(), r.Date.Format("2006-01-02"), r.Status)
}

// MarshalJSON implements custom JSON marshaling for ExternalRecord
func (r *ExternalRecord) MarshalJSON() ([]byte, error) {
	type Alias ExternalRecord
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: r.Amount.String(),
		Date:   r.Date.Format(time.RFC3339),
		Alias:  (*Alias)(r),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for ExternalRecord
func (r *ExternalRecord) UnmarshalJSON(data []byte) error {
	type Alias ExternalRecord
	aux := &struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	r.Amount, err = decimal.NewFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}

	r.Date, err = time.Parse(time.RFC3339, aux.Date)
	if err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}

	return nil
}

// SubScore is the normalized result of one field scorer for one
// (voucher, external record) pair. Sub-scores are ephemeral: only the
// aggregate rule trace is persisted.
type SubScore struct {
	Dimension Dimension `json:"dimension"`
	Value     float64   `json:"value"`
	Weight    float64   `json:"weight"`
	Reason    string    `json:"reason"`
}

// String returns a compact representation used in rule traces
func (s SubScore) String() string {
	return fmt.Sprintf("%s=%.4f (w=%.2f): %s", s.Dimension, s.Value, s.Weight, s.Reason)
}

// TraceEntry is one step of a decision's rule trace: either a sub-score
// produced by a field scorer or a free-form note from the pipeline.
type TraceEntry struct {
	Rule     string    `json:"rule"`
	SubScore *SubScore `json:"sub_score,omitempty"`
	Note     string    `json:"note,omitempty"`
}

// String returns the human-readable form of the trace entry
func (t TraceEntry) String() string {
	if t.SubScore != nil {
		return fmt.Sprintf("%s: %s", t.Rule, t.SubScore.String())
	}
	if t.Note != "" {
		return fmt.Sprintf("%s: %s", t.Rule, t.Note)
	}
	return t.Rule
}

// RuleTrace is the ordered list of rules fired while scoring one pair
type RuleTrace []TraceEntry

// AppendScore appends a scorer result to the trace
func (rt RuleTrace) AppendScore(rule string, score SubScore) RuleTrace {
	s := score
	return append(rt, TraceEntry{Rule: rule, SubScore: &s})
}

// AppendNote appends a free-form note to the trace
func (rt RuleTrace) AppendNote(rule, note string) RuleTrace {
	return append(rt, TraceEntry{Rule: rule, Note: note})
}

// Strings renders the trace as display lines
func (rt RuleTrace) Strings() []string {
	lines := make([]string, 0, len(rt))
	for _, entry := range rt {
		lines = append(lines, entry.String())
	}
	return lines
}

// MatchDecision is the append-only audit record of one scoring decision.
// Once written it is never mutated; corrections create a new decision
// referencing the superseded one via SupersedesID.
type MatchDecision struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SourceID       string    `json:"source_id"`
	TargetID       string    `json:"target_id,omitempty"`
	CompositeScore float64   `json:"composite_score"`
	Outcome        Outcome   `json:"outcome"`
	RuleTrace      RuleTrace `json:"rule_trace"`
	SupersedesID   string    `json:"supersedes_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate performs basic validation on the MatchDecision
func (d *MatchDecision) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return fmt.Errorf("decision tenant ID cannot be empty")
	}

	if strings.TrimSpace(d.SourceID) == "" {
		return fmt.Errorf("decision source ID cannot be empty")
	}

	if !d.Outcome.IsValid() {
		return fmt.Errorf("invalid decision outcome: %s", d.Outcome)
	}

	if d.Outcome != OutcomeUnmatched && strings.TrimSpace(d.TargetID) == "" {
		return fmt.Errorf("decision with outcome %s requires a target ID", d.Outcome)
	}

	if d.CompositeScore < 0.0 || d.CompositeScore > 1.0 {
		return fmt.Errorf("composite score must be between 0.0 and 1.0: %f", d.CompositeScore)
	}

	return nil
}

// Clone returns a deep copy of the decision. Readers of the ledger receive
// copies so stored history cannot be modified after the fact.
func (d *MatchDecision) Clone() *MatchDecision {
	if d == nil {
		return nil
	}

	cp := *d
	cp.RuleTrace = make(RuleTrace, len(d.RuleTrace))
	for i, entry := range d.RuleTrace {
		cp.RuleTrace[i] = entry
		if entry.SubScore != nil {
			s := *entry.SubScore
			cp.RuleTrace[i].SubScore = &s
		}
	}
	return &cp
}

// String returns a string representation of the MatchDecision
func (d *MatchDecision) String() string {
	target := d.TargetID
	if target == "" {
		target = "<none>"
	}
	return fmt.Sprintf("MatchDecision{ID: %s, Source: %s, Target: %s, Score: %.4f, Outcome: %s}",
		d.ID, d.SourceID, target, d.CompositeScore, d.Outcome)
}

// FeedbackRecord captures a human correction of an automated decision
type FeedbackRecord struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	MatchDecisionID  string    `json:"match_decision_id"`
	OriginalOutcome  Outcome   `json:"original_outcome"`
	CorrectedOutcome Outcome   `json:"corrected_outcome"`
	CorrectedBy      string    `json:"corrected_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate performs basic validation on the FeedbackRecord
func (f *FeedbackRecord) Validate() error {
	if strings.TrimSpace(f.TenantID) == "" {
		return fmt.Errorf("feedback tenant ID cannot be empty")
	}

	if strings.TrimSpace(f.MatchDecisionID) == "" {
		return fmt.Errorf("feedback decision ID cannot be empty")
	}

	if !f.CorrectedOutcome.IsValid() {
		return fmt.Errorf("invalid corrected outcome: %s", f.CorrectedOutcome)
	}

	if strings.TrimSpace(f.CorrectedBy) == "" {
		return fmt.Errorf("feedback must identify the correcting user")
	}

	return nil
}

// Weight bounds for adaptive dimension weights. The adaptation step clamps
// every update into this range so weights never diverge.
const (
	WeightMin = 0.1
	WeightMax = 2.0
)

// ClampWeight bounds a dimension weight into [WeightMin, WeightMax]
func ClampWeight(w float64) float64 {
	if w < WeightMin {
		return WeightMin
	}
	if w > WeightMax {
		return WeightMax
	}
	return w
}

// WeightProfile holds the per-tenant scoring-dimension importance adapted
// from human feedback. Batches read it as an immutable snapshot; only the
// feedback adaptation step writes it.
type WeightProfile struct {
	TenantID    string                `json:"tenant_id"`
	Weights     map[Dimension]float64 `json:"weights"`
	LastUpdated time.Time             `json:"last_updated"`
	SampleCount int                   `json:"sample_count"`
}

// NewWeightProfile returns a profile with every dimension at neutral weight
func NewWeightProfile(tenantID string) *WeightProfile {
	weights := make(map[Dimension]float64, len(AllDimensions()))
	for _, dim := range AllDimensions() {
		weights[dim] = 1.0
	}

	return &WeightProfile{
		TenantID: tenantID,
		Weights:  weights,
	}
}

// Weight returns the weight for a dimension, defaulting to neutral 1.0
func (wp *WeightProfile) Weight(dim Dimension) float64 {
	if wp == nil || wp.Weights == nil {
		return 1.0
	}
	if w, ok := wp.Weights[dim]; ok {
		return w
	}
	return 1.0
}

// Clone returns a deep copy of the profile for snapshot reads
func (wp *WeightProfile) Clone() *WeightProfile {
	if wp == nil {
		return nil
	}

	cp := *wp
	cp.Weights = make(map[Dimension]float64, len(wp.Weights))
	for dim, w := range wp.Weights {
		cp.Weights[dim] = w
	}
	return &cp
}

// Validate checks the weight bounds invariant
func (wp *WeightProfile) Validate() error {
	if strings.TrimSpace(wp.TenantID) == "" {
		return fmt.Errorf("weight profile tenant ID cannot be empty")
	}

	for dim, w := range wp.Weights {
		if w < WeightMin || w > WeightMax {
			return fmt.Errorf("weight for %s out of bounds [%.1f, %.1f]: %f", dim, WeightMin, WeightMax, w)
		}
	}

	return nil
}

// HeuristicPattern records a match shape that worked, with usage statistics.
// Patterns feed per-tenant learning statistics and recommendations.
type HeuristicPattern struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	PatternHash  string    `json:"pattern_hash"`
	Description  string    `json:"description"`
	SuccessScore float64   `json:"success_score"`
	UsageCount   int       `json:"usage_count"`
	LastUsed     time.Time `json:"last_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// ParseDecimalFromString parses a decimal amount from string, tolerating
// currency symbols and thousand separators as found in imported data
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "₹", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse a timestamp using the formats
// commonly seen in voucher exports and bank statement files
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02-01-2006",
		"02/01/2006",
		"2006/01/02",
		"Jan 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}
