// Package oracle provides the optional LLM assessor consulted for vouchers
// the rule-based pipeline could not match confidently. The oracle is
// advisory: its confidence and reasoning are recorded in the decision trace,
// and any failure degrades the run back to rule-based results.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/pkg/errors"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultTimeout bounds a single oracle consultation
const DefaultTimeout = 10 * time.Second

// Assessment is the oracle's judgement of one candidate pairing
type Assessment struct {
	TargetID   string  `json:"target_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Oracle assesses ambiguous voucher/candidate pairings. Implementations must
// honor context cancellation; callers bound each consultation with a timeout.
type Oracle interface {
	// ExplainOrScore returns one assessment per candidate it has an
	// opinion on. Candidates it stays silent on carry no oracle signal.
	ExplainOrScore(ctx context.Context, source *models.Voucher, candidates []*models.ExternalRecord) ([]Assessment, error)

	// Enabled reports whether consultations reach a real backend
	Enabled() bool
}

// Config holds oracle connection settings
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the disabled default; the engine runs fully
// rule-based unless an oracle is explicitly configured.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Model:   "gpt-4o-mini",
		Timeout: DefaultTimeout,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Model == "" {
		return errors.ConfigurationError(errors.CodeMissingField, "oracle.model", c.Model, nil)
	}

	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeMissingField, "oracle.timeout", c.Timeout, nil)
	}

	return nil
}

// Disabled is the no-op Oracle used when no backend is configured
type Disabled struct{}

// ExplainOrScore returns no assessments
func (Disabled) ExplainOrScore(context.Context, *models.Voucher, []*models.ExternalRecord) ([]Assessment, error) {
	return nil, nil
}

// Enabled reports false
func (Disabled) Enabled() bool { return false }

// LLMOracle consults an OpenAI-compatible chat model via langchaingo
type LLMOracle struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

// New creates an oracle from config. A disabled config yields the no-op
// Disabled oracle.
func New(config Config) (Oracle, error) {
	if !config.Enabled {
		return Disabled{}, nil
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for local OpenAI-compatible
		// endpoints
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, errors.OracleError(errors.CodeOracleUnavailable, config.Model, err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &LLMOracle{llm: llm, model: config.Model, timeout: timeout}, nil
}

// Enabled reports true
func (o *LLMOracle) Enabled() bool { return true }

// ExplainOrScore prompts the model with the voucher and its candidates and
// parses a JSON array of assessments from the completion.
func (o *LLMOracle) ExplainOrScore(ctx context.Context, source *models.Voucher, candidates []*models.ExternalRecord) ([]Assessment, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	prompt := buildPrompt(source, candidates)

	// The prompt demands JSON-only output; parseAssessments tolerates the
	// code fences models wrap around it anyway.
	completion, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithTemperature(0.0),
	)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.OracleError(errors.CodeOracleTimeout, o.model, err)
		}
		return nil, errors.OracleError(errors.CodeOracleUnavailable, o.model, err)
	}

	assessments, err := parseAssessments(completion)
	if err != nil {
		return nil, errors.OracleError(errors.CodeOracleBadResponse, o.model, err)
	}

	return assessments, nil
}

// buildPrompt renders the voucher and candidates into a deterministic prompt
// asking for structured JSON output.
func buildPrompt(source *models.Voucher, candidates []*models.ExternalRecord) string {
	var sb strings.Builder

	sb.WriteString("You are an accounting reconciliation assistant. ")
	sb.WriteString("Given one accounting voucher and a list of external candidate records, ")
	sb.WriteString("judge for each candidate how likely it settles the voucher.\n\n")

	sb.WriteString(fmt.Sprintf("Voucher: amount=%s date=%s narration=%q reference=%q\n\n",
		source.Amount.String(), source.Date.Format("2006-01-02"), source.Narration, source.Reference))

	sb.WriteString("Candidates:\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- id=%s amount=%s date=%s narration=%q reference=%q\n",
			c.ID, c.Amount.String(), c.Date.Format("2006-01-02"), c.Narration, c.Reference))
	}

	sb.WriteString("\nRespond with JSON only, in the form ")
	sb.WriteString(`{"assessments": [{"target_id": "...", "confidence": 0.0, "reasoning": "..."}]}. `)
	sb.WriteString("Confidence is between 0.0 and 1.0. Include every candidate you have an opinion on.")

	return sb.String()
}

type assessmentEnvelope struct {
	Assessments []Assessment `json:"assessments"`
}

// parseAssessments extracts the JSON payload from a completion, tolerating
// code fences some models wrap around JSON output.
func parseAssessments(completion string) ([]Assessment, error) {
	trimmed := strings.TrimSpace(completion)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var envelope assessmentEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, fmt.Errorf("completion is not valid assessment JSON: %w", err)
	}

	valid := envelope.Assessments[:0]
	for _, a := range envelope.Assessments {
		if a.TargetID == "" {
			continue
		}
		if a.Confidence < 0 {
			a.Confidence = 0
		}
		if a.Confidence > 1 {
			a.Confidence = 1
		}
		valid = append(valid, a)
	}

	return valid, nil
}
