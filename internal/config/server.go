// Package config provides configuration management for roundledger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

const (
	defaultPort             = 8080
	defaultDBMaxConns       = 25
	defaultTxMaxAttempts    = 3
	defaultLockTimeout      = 5 * time.Second
	defaultInsuranceWindow  = 168 * time.Hour
	defaultInsuranceFeeRate = "0.10"
	defaultSweepSchedule    = "@hourly"
	defaultPayoutMinimum    = "0"
	defaultRateLimit        = "300-M"
	defaultMaxBodyBytes     = 1 << 20
)

// ServerConfig holds server-level configuration.
type ServerConfig struct {
	Environment Environment
	Port        int
	DatabaseURL string
	StoreDriver string
	RedisURL    string

	DBMaxConns      int
	DBTxMaxAttempts int
	DBLockTimeout   time.Duration

	InsuranceWindow        time.Duration
	InsuranceFeeRate       decimal.Decimal
	InsuranceSweepSchedule string // cron spec, empty disables the sweeper
	InsuranceAutoNotify    bool

	NotifyWebhookURL    string
	NotifyWebhookSecret string

	PayoutMinimum decimal.Decimal

	RateLimit    limiter.Rate
	CORSOrigins  []string
	MaxBodyBytes int64
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Addr returns the HTTP listen address.
func (c ServerConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// LoadServerConfig reads the optional YAML file named by CONFIG_FILE and
// then applies environment variables on top of it.
func LoadServerConfig() (ServerConfig, error) {
	file := &FileConfig{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if file, err = LoadFile(path); err != nil {
			return ServerConfig{}, err
		}
	}
	return loadServerConfig(file)
}

func loadServerConfig(file *FileConfig) (ServerConfig, error) {
	var errs []error

	env := Environment(getEnvString("ENV", file.Env))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	port := getEnvInt("PORT", orInt(file.Port, defaultPort))
	if port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", port))
	}

	driver := strings.ToLower(getEnvString("STORE_DRIVER", orString(file.StoreDriver, StoreDriverPostgres)))
	dbURL := getEnvString("DATABASE_URL", file.DatabaseURL)
	switch driver {
	case StoreDriverPostgres:
		if dbURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of postgres, memory", driver))
	}

	maxConns := getEnvInt("DB_MAX_CONNS", orInt(file.Database.MaxConns, defaultDBMaxConns))
	if maxConns < 1 {
		maxConns = defaultDBMaxConns
	}
	attempts := getEnvInt("DB_TX_MAX_ATTEMPTS", orInt(file.Database.TxMaxAttempts, defaultTxMaxAttempts))
	if attempts < 1 {
		attempts = defaultTxMaxAttempts
	}
	lockTimeout, err := getEnvDuration("DB_LOCK_TIMEOUT", file.Database.LockTimeout, defaultLockTimeout)
	errs = appendErr(errs, err)

	window, err := getEnvDuration("INSURANCE_WINDOW", file.Insurance.Window, defaultInsuranceWindow)
	errs = appendErr(errs, err)
	if window <= 0 {
		errs = append(errs, errors.New("INSURANCE_WINDOW must be positive"))
	}
	feeRate, err := getEnvDecimal("INSURANCE_FEE_RATE", file.Insurance.FeeRate, defaultInsuranceFeeRate)
	errs = appendErr(errs, err)
	if feeRate.IsNegative() || feeRate.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("INSURANCE_FEE_RATE %s must be within [0, 1]", feeRate))
	}
	autoNotify := false
	if file.Insurance.AutoNotify != nil {
		autoNotify = *file.Insurance.AutoNotify
	}

	minimum, err := getEnvDecimal("PAYOUT_MINIMUM", file.Payout.Minimum, defaultPayoutMinimum)
	errs = appendErr(errs, err)
	if minimum.IsNegative() {
		errs = append(errs, errors.New("PAYOUT_MINIMUM must not be negative"))
	}

	rate, err := limiter.NewRateFromFormatted(getEnvString("RATE_LIMIT", orString(file.HTTP.RateLimit, defaultRateLimit)))
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
	}

	origins := file.HTTP.CORSOrigins
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = splitList(v)
	}

	maxBody := int64(getEnvInt("MAX_BODY_BYTES", int(orInt64(file.HTTP.MaxBodyBytes, defaultMaxBodyBytes))))
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	if err := errors.Join(errs...); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return ServerConfig{
		Environment:            env,
		Port:                   port,
		DatabaseURL:            dbURL,
		StoreDriver:            driver,
		RedisURL:               getEnvString("REDIS_URL", file.RedisURL),
		DBMaxConns:             maxConns,
		DBTxMaxAttempts:        attempts,
		DBLockTimeout:          lockTimeout,
		InsuranceWindow:        window,
		InsuranceFeeRate:       feeRate,
		InsuranceSweepSchedule: getEnvString("INSURANCE_SWEEP_SCHEDULE", orString(file.Insurance.SweepSchedule, defaultSweepSchedule)),
		InsuranceAutoNotify:    getEnvBool("INSURANCE_AUTO_NOTIFY", autoNotify),
		NotifyWebhookURL:       getEnvString("NOTIFY_WEBHOOK_URL", file.Notify.WebhookURL),
		NotifyWebhookSecret:    getEnvString("NOTIFY_WEBHOOK_SECRET", file.Notify.WebhookSecret),
		PayoutMinimum:          minimum,
		RateLimit:              rate,
		CORSOrigins:            origins,
		MaxBodyBytes:           maxBody,
	}, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orInt64(v, def int64) int64 {
	if v != 0 {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvString reads a string from an environment variable, returning the default if unset.
func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration parses a duration from the environment, then the file
// value, then falls back to def.
func getEnvDuration(key, fileVal string, def time.Duration) (time.Duration, error) {
	raw := getEnvString(key, fileVal)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// getEnvDecimal parses a decimal from the environment, then the file value,
// then def.
func getEnvDecimal(key, fileVal, def string) (decimal.Decimal, error) {
	raw := getEnvString(key, orString(fileVal, def))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.RequireFromString(def), fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
