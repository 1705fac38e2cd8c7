package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appconfig "voucher-reconciliation-engine/cmd/reconengine/config"
	"voucher-reconciliation-engine/internal/engine"
	"voucher-reconciliation-engine/internal/feedback"
	"voucher-reconciliation-engine/internal/ledger"
	"voucher-reconciliation-engine/internal/loader"
	"voucher-reconciliation-engine/internal/models"
	"voucher-reconciliation-engine/internal/oracle"
	"voucher-reconciliation-engine/internal/reporter"
	"voucher-reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the run command
var (
	tenantID     string
	voucherFile  string
	targetFile   string
	batchSize    int
	outputFormat string
	outputFile   string
	showHistory  []string
	showWeights  bool

	simulateFeedback []string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a reconciliation batch for one tenant",
	Long: `Run loads vouchers and external records from CSV fixtures, runs one
reconciliation batch for the tenant and reports the batch summary.

This command requires:
- A voucher CSV file (columns: id, date, amount; optional narration, type, reference)
- An external records CSV file (columns: id, date, amount; optional narration, reference, status)

Examples:
  # Basic batch run
  reconengine run --tenant acme --vouchers vouchers.csv --targets bank.csv

  # Custom thresholds and JSON output
  reconengine run --tenant acme --vouchers v.csv --targets t.csv \
    --match-threshold 0.9 --review-threshold 0.7 --output-format json

  # Print the decision history for specific vouchers after the run
  reconengine run --tenant acme --vouchers v.csv --targets t.csv \
    --show-history V-1001 --show-history V-1002

  # Preview weight adaptation from simulated corrections
  reconengine run --tenant acme --vouchers v.csv --targets t.csv \
    --simulate-feedback V-1001=MATCHED --show-weights

  # Consult an LLM oracle for ambiguous vouchers
  RECONENGINE_ORACLE_API_KEY=... reconengine run --tenant acme \
    --vouchers v.csv --targets t.csv --oracle-enabled`,

	PreRunE: validateRunFlags,
	RunE:    runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Required flags
	runCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant identifier (required)")
	runCmd.Flags().StringVar(&voucherFile, "vouchers", "", "path to voucher CSV file (required)")
	runCmd.Flags().StringVar(&targetFile, "targets", "", "path to external records CSV file (required)")

	// Batch flags
	runCmd.Flags().IntVar(&batchSize, "batch-size", 1000, "maximum vouchers per batch")

	// Output flags
	runCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json")
	runCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	runCmd.Flags().StringSliceVar(&showHistory, "show-history", nil, "voucher IDs whose decision history to print after the run")
	runCmd.Flags().BoolVar(&showWeights, "show-weights", false, "print the tenant's weight profile after the run")

	// Matching configuration flags
	runCmd.Flags().Float64("match-threshold", 0.85, "composite score at or above which a pair is Matched")
	runCmd.Flags().Float64("review-threshold", 0.60, "composite score at or above which a pair is NearMatch")
	runCmd.Flags().Int("date-window", 30, "candidate date window in days")
	runCmd.Flags().Int("date-proximity-days", 7, "days over which date proximity decays to zero")
	runCmd.Flags().Float64("amount-tolerance", 0.02, "amount tolerance as a fraction of the voucher amount")
	runCmd.Flags().Int("candidate-cap", 500, "maximum candidates scored per voucher")

	// Oracle flags
	runCmd.Flags().Bool("oracle-enabled", false, "consult the LLM oracle for ambiguous vouchers")
	runCmd.Flags().String("oracle-model", "gpt-4o-mini", "oracle model name")
	runCmd.Flags().String("oracle-base-url", "", "oracle base URL (OpenAI-compatible)")
	runCmd.Flags().Duration("oracle-timeout", 10*time.Second, "oracle consultation timeout")

	// Feedback simulation flags
	runCmd.Flags().StringSliceVar(&simulateFeedback, "simulate-feedback", nil,
		"simulated corrections as voucherID=OUTCOME, applied after the run")

	runCmd.MarkFlagRequired("tenant")
	runCmd.MarkFlagRequired("vouchers")
	runCmd.MarkFlagRequired("targets")

	// Bind flags to viper
	viper.BindPFlag("match-threshold", runCmd.Flags().Lookup("match-threshold"))
	viper.BindPFlag("review-threshold", runCmd.Flags().Lookup("review-threshold"))
	viper.BindPFlag("date-window", runCmd.Flags().Lookup("date-window"))
	viper.BindPFlag("date-proximity-days", runCmd.Flags().Lookup("date-proximity-days"))
	viper.BindPFlag("amount-tolerance", runCmd.Flags().Lookup("amount-tolerance"))
	viper.BindPFlag("candidate-cap", runCmd.Flags().Lookup("candidate-cap"))
	viper.BindPFlag("oracle-enabled", runCmd.Flags().Lookup("oracle-enabled"))
	viper.BindPFlag("oracle-model", runCmd.Flags().Lookup("oracle-model"))
	viper.BindPFlag("oracle-base-url", runCmd.Flags().Lookup("oracle-base-url"))
	viper.BindPFlag("oracle-timeout", runCmd.Flags().Lookup("oracle-timeout"))
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant is required")
	}

	if err := validateFileExists(voucherFile, "voucher file"); err != nil {
		return err
	}
	if err := validateFileExists(targetFile, "external records file"); err != nil {
		return err
	}

	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json", outputFormat)
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	for _, correction := range simulateFeedback {
		if _, _, err := parseCorrection(correction); err != nil {
			return err
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

func parseCorrection(s string) (string, models.Outcome, error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid correction '%s': expected voucherID=OUTCOME", s)
	}

	outcome := models.Outcome(strings.ToUpper(parts[1]))
	if !outcome.IsValid() {
		return "", "", fmt.Errorf("invalid correction outcome '%s': use MATCHED, NEAR_MATCH, UNMATCHED or DISPUTED", parts[1])
	}

	return parts[0], outcome, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	handler := NewCLIErrorHandler()

	if log, err := logger.NewLogger(appconfig.CreateLoggerConfig()); err == nil {
		logger.SetGlobalLogger(log)
	}

	matchingConfig, err := appconfig.CreateMatchingConfig()
	if err != nil {
		return handler.Exit(err)
	}

	assessor, err := oracle.New(appconfig.CreateOracleConfig())
	if err != nil {
		return handler.Exit(err)
	}

	fixtures := loader.NewLoader(tenantID)

	vouchers, voucherStats, err := fixtures.LoadVouchers(voucherFile)
	if err != nil {
		return handler.Exit(err)
	}
	reportRowErrors(voucherFile, voucherStats)

	targets, targetStats, err := fixtures.LoadTargets(targetFile)
	if err != nil {
		return handler.Exit(err)
	}
	reportRowErrors(targetFile, targetStats)

	store := engine.NewMemoryStore()
	if err := store.AddVouchers(vouchers); err != nil {
		return handler.Exit(err)
	}
	if err := store.AddTargets(targets); err != nil {
		return handler.Exit(err)
	}

	decisionLedger := ledger.NewMemoryLedger()
	adaptation := feedback.NewStore(decisionLedger)

	eng, err := engine.NewEngine(store, decisionLedger, adaptation, assessor, matchingConfig)
	if err != nil {
		return handler.Exit(err)
	}

	summary, runErr := eng.RunBatch(ctx, tenantID, batchSize)

	out, closeOut, err := openOutput()
	if err != nil {
		return handler.Exit(err)
	}
	defer closeOut()

	report, err := reporter.NewReporter(out, reporter.OutputFormat(outputFormat))
	if err != nil {
		return handler.Exit(err)
	}

	if summary != nil {
		if err := report.WriteBatchSummary(summary); err != nil {
			return handler.Exit(err)
		}
	}

	// A failed batch still reports the partial summary above before exiting
	if runErr != nil {
		return handler.Exit(runErr)
	}

	for _, correction := range simulateFeedback {
		voucherID, outcome, _ := parseCorrection(correction)
		if err := applyCorrection(eng, report, voucherID, outcome); err != nil {
			return handler.Exit(err)
		}
	}

	for _, sourceID := range showHistory {
		history, err := eng.DecisionHistory(tenantID, sourceID)
		if err != nil {
			return handler.Exit(err)
		}
		if err := report.WriteDecisionHistory(sourceID, history); err != nil {
			return handler.Exit(err)
		}
	}

	if showWeights {
		profile, err := eng.WeightProfile(tenantID)
		if err != nil {
			return handler.Exit(err)
		}
		if err := report.WriteWeightProfile(profile); err != nil {
			return handler.Exit(err)
		}
	}

	return nil
}

// applyCorrection submits feedback against the most recent decision for one
// voucher
func applyCorrection(eng *engine.Engine, report *reporter.Reporter, voucherID string, outcome models.Outcome) error {
	history, err := eng.DecisionHistory(tenantID, voucherID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("no decision recorded for voucher %s in this run", voucherID)
	}

	latest := history[len(history)-1]
	record, err := eng.SubmitFeedback(tenantID, latest.ID, outcome, "cli-simulation")
	if err != nil {
		return err
	}

	return report.WriteFeedback(record)
}

func openOutput() (*os.File, func(), error) {
	if outputFile == "" {
		return os.Stdout, func() {}, nil
	}

	out, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return out, func() { out.Close() }, nil
}

func reportRowErrors(filePath string, stats *loader.LoadStats) {
	if len(stats.Errors) == 0 {
		return
	}

	fmt.Fprintf(os.Stderr, "Skipped %d malformed rows in %s:\n", len(stats.Errors), filePath)
	limit := len(stats.Errors)
	if limit > 5 {
		limit = 5
	}
	for _, rowErr := range stats.Errors[:limit] {
		fmt.Fprintf(os.Stderr, "  %s\n", rowErr)
	}
	if len(stats.Errors) > limit {
		fmt.Fprintf(os.Stderr, "  ... and %d more\n", len(stats.Errors)-limit)
	}
}
