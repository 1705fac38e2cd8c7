// Package reporter renders batch summaries and decision histories for the
// CLI host.
//
// Supported output formats:
//   - Console: human-readable output for terminal display
//   - JSON: structured output for programmatic consumption
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"voucher-reconciliation-engine/internal/engine"
	"voucher-reconciliation-engine/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON:
		return true
	default:
		return false
	}
}

// Reporter writes reports to an output stream
type Reporter struct {
	out    io.Writer
	format OutputFormat
}

// NewReporter creates a reporter for the given format
func NewReporter(out io.Writer, format OutputFormat) (*Reporter, error) {
	if !format.IsValid() {
		return nil, fmt.Errorf("invalid output format: %s", format)
	}

	return &Reporter{out: out, format: format}, nil
}

// WriteBatchSummary renders one batch summary
func (r *Reporter) WriteBatchSummary(summary *engine.BatchSummary) error {
	if r.format == FormatJSON {
		return r.writeJSON(summary)
	}

	var sb strings.Builder

	sb.WriteString("Reconciliation Batch Summary\n")
	sb.WriteString("============================\n")
	sb.WriteString(fmt.Sprintf("Tenant:          %s\n", summary.TenantID))
	sb.WriteString(fmt.Sprintf("Processed:       %d\n", summary.Processed))
	sb.WriteString(fmt.Sprintf("  Matched:       %d\n", summary.Matched))
	sb.WriteString(fmt.Sprintf("  Near match:    %d\n", summary.NearMatch))
	sb.WriteString(fmt.Sprintf("  Unmatched:     %d\n", summary.Unmatched))
	sb.WriteString(fmt.Sprintf("Succeeded:       %d\n", summary.Succeeded))
	sb.WriteString(fmt.Sprintf("Failed:          %d\n", summary.Failed))
	sb.WriteString(fmt.Sprintf("Avg confidence:  %.4f\n", summary.AvgConfidence))

	if len(summary.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range summary.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", w))
		}
	}

	_, err := fmt.Fprint(r.out, sb.String())
	return err
}

// WriteDecisionHistory renders the chronological decision history of one
// voucher, including each decision's rule trace.
func (r *Reporter) WriteDecisionHistory(sourceID string, history []*models.MatchDecision) error {
	if r.format == FormatJSON {
		return r.writeJSON(map[string]interface{}{
			"source_id": sourceID,
			"decisions": history,
		})
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Decision History for %s\n", sourceID))
	sb.WriteString("============================\n")

	if len(history) == 0 {
		sb.WriteString("No decisions recorded.\n")
		_, err := fmt.Fprint(r.out, sb.String())
		return err
	}

	for i, decision := range history {
		target := decision.TargetID
		if target == "" {
			target = "<none>"
		}

		sb.WriteString(fmt.Sprintf("\n[%d] %s  outcome=%s  target=%s  score=%.4f\n",
			i+1, decision.CreatedAt.Format("2006-01-02 15:04:05"), decision.Outcome, target, decision.CompositeScore))

		if decision.SupersedesID != "" {
			sb.WriteString(fmt.Sprintf("    supersedes %s\n", decision.SupersedesID))
		}

		for _, line := range decision.RuleTrace.Strings() {
			sb.WriteString(fmt.Sprintf("    %s\n", line))
		}
	}

	_, err := fmt.Fprint(r.out, sb.String())
	return err
}

// WriteWeightProfile renders a tenant's adaptive weight profile
func (r *Reporter) WriteWeightProfile(profile *models.WeightProfile) error {
	if r.format == FormatJSON {
		return r.writeJSON(profile)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Weight Profile for %s\n", profile.TenantID))
	sb.WriteString("============================\n")
	for _, dim := range models.AllDimensions() {
		sb.WriteString(fmt.Sprintf("  %-10s %.4f\n", dim, profile.Weight(dim)))
	}
	sb.WriteString(fmt.Sprintf("Samples: %d\n", profile.SampleCount))
	if !profile.LastUpdated.IsZero() {
		sb.WriteString(fmt.Sprintf("Updated: %s\n", profile.LastUpdated.Format("2006-01-02 15:04:05")))
	}

	_, err := fmt.Fprint(r.out, sb.String())
	return err
}

// WriteFeedback renders one recorded feedback correction
func (r *Reporter) WriteFeedback(record *models.FeedbackRecord) error {
	if r.format == FormatJSON {
		return r.writeJSON(record)
	}

	_, err := fmt.Fprintf(r.out, "Feedback %s recorded: %s corrected %s -> %s on decision %s\n",
		record.ID, record.CorrectedBy, record.OriginalOutcome, record.CorrectedOutcome, record.MatchDecisionID)
	return err
}

func (r *Reporter) writeJSON(v interface{}) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
