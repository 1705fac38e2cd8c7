// Package config builds component configurations for the CLI from flags,
// environment variables and the optional config file.
package config

import (
	"os"
	"time"

	"voucher-reconciliation-engine/internal/matcher"
	"voucher-reconciliation-engine/internal/oracle"
	"voucher-reconciliation-engine/pkg/logger"

	"github.com/spf13/viper"
)

// CreateMatchingConfig builds the matching config, starting from defaults
// and overriding with any values set via flags, environment or config file.
func CreateMatchingConfig() (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()

	if viper.IsSet("match-threshold") {
		config.MatchThreshold = viper.GetFloat64("match-threshold")
	}
	if viper.IsSet("review-threshold") {
		config.ReviewThreshold = viper.GetFloat64("review-threshold")
	}
	if viper.IsSet("date-window") {
		config.DateWindowDays = viper.GetInt("date-window")
	}
	if viper.IsSet("date-proximity-days") {
		config.DateProximityMaxDays = viper.GetInt("date-proximity-days")
	}
	if viper.IsSet("amount-tolerance") {
		config.AmountToleranceFraction = viper.GetFloat64("amount-tolerance")
	}
	if viper.IsSet("candidate-cap") {
		config.CandidateCap = viper.GetInt("candidate-cap")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// CreateOracleConfig builds the oracle config. The API key comes from the
// environment only, never from a flag.
func CreateOracleConfig() oracle.Config {
	config := oracle.DefaultConfig()

	config.Enabled = viper.GetBool("oracle-enabled")
	if viper.IsSet("oracle-model") {
		config.Model = viper.GetString("oracle-model")
	}
	if viper.IsSet("oracle-base-url") {
		config.BaseURL = viper.GetString("oracle-base-url")
	}
	if viper.IsSet("oracle-timeout") {
		config.Timeout = viper.GetDuration("oracle-timeout")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.APIKey = os.Getenv("RECONENGINE_ORACLE_API_KEY")

	return config
}

// CreateLoggerConfig builds the logger config from the verbosity flags
func CreateLoggerConfig() *logger.Config {
	config := logger.DefaultConfig()

	if viper.GetBool("verbose") {
		config.Level = logger.DebugLevel
	}
	if format := viper.GetString("log-format"); format != "" {
		config.Format = logger.Format(format)
	}

	return config
}
