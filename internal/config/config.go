package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration required by the billing process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Asterisk AsteriskConfig
	Rating   RatingConfig
	Billing  BillingConfig
	DID      DIDConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type AsteriskConfig struct {
	// ARIBaseURL points at the switch REST interface, e.g. http://pbx:8088.
	ARIBaseURL  string
	ARIUsername string
	ARIPassword string
	Timeout     time.Duration
}

type RatingConfig struct {
	// PrecisionDecimals is the monetary precision for computed costs.
	// Accepts: 2, 4, 6
	PrecisionDecimals int
	// Rounding accepts: up, down, nearest
	Rounding string

	// PeakBand is "HH:MM-HH:MM"; empty disables the peak multiplier.
	PeakBand string
	// PeakDays is a comma list of weekday names; empty means every day.
	PeakDays string

	PeakMultiplier    decimal.Decimal
	WeekendMultiplier decimal.Decimal
	HolidayMultiplier decimal.Decimal

	// Holidays is a comma list of YYYY-MM-DD dates.
	Holidays []string
	Timezone string
}

type BillingConfig struct {
	BalanceCheckInterval       time.Duration
	GracePeriod                time.Duration
	AutoTerminateOnZeroBalance bool
	TerminateRetries           int

	// MaxCallsPerAccount caps concurrent live calls per account; 0 disables
	// the cap.
	MaxCallsPerAccount int
}

type DIDConfig struct {
	// MinRefund is the smallest proration worth posting to the ledger.
	MinRefund       decimal.Decimal
	RenewalInterval time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	if c.DB.SSLMode == "" && c.App.Env != "production" {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL", 15*time.Minute)
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL", 30*24*time.Hour)

	c.Asterisk.ARIBaseURL = strings.TrimSpace(os.Getenv("ASTERISK_ARI_URL"))
	c.Asterisk.ARIUsername = strings.TrimSpace(os.Getenv("ASTERISK_ARI_USER"))
	c.Asterisk.ARIPassword = os.Getenv("ASTERISK_ARI_PASSWORD")
	c.Asterisk.Timeout = optDuration("ASTERISK_TIMEOUT", 5*time.Second)

	c.Rating.PrecisionDecimals = optInt("RATING_PRECISION", 4, &parseErrs)
	c.Rating.Rounding = strings.TrimSpace(os.Getenv("RATING_ROUNDING"))
	c.Rating.PeakBand = strings.TrimSpace(os.Getenv("RATING_PEAK_BAND"))
	c.Rating.PeakDays = strings.TrimSpace(os.Getenv("RATING_PEAK_DAYS"))
	c.Rating.PeakMultiplier = optDecimal("RATING_PEAK_MULTIPLIER", "1", &parseErrs)
	c.Rating.WeekendMultiplier = optDecimal("RATING_WEEKEND_MULTIPLIER", "1", &parseErrs)
	c.Rating.HolidayMultiplier = optDecimal("RATING_HOLIDAY_MULTIPLIER", "1", &parseErrs)
	c.Rating.Holidays = splitList(os.Getenv("RATING_HOLIDAYS"))
	c.Rating.Timezone = strings.TrimSpace(os.Getenv("RATING_TIMEZONE"))

	c.Billing.BalanceCheckInterval = optDuration("BILLING_CHECK_INTERVAL", 10*time.Second)
	c.Billing.GracePeriod = optDuration("BILLING_GRACE_PERIOD", 30*time.Second)
	c.Billing.AutoTerminateOnZeroBalance = optBool("BILLING_AUTO_TERMINATE")
	c.Billing.TerminateRetries = optInt("BILLING_TERMINATE_RETRIES", 3, &parseErrs)
	c.Billing.MaxCallsPerAccount = optInt("BILLING_MAX_CALLS_PER_ACCOUNT", 0, &parseErrs)

	c.DID.MinRefund = optDecimal("DID_MIN_REFUND", "0.01", &parseErrs)
	c.DID.RenewalInterval = optDuration("DID_RENEWAL_INTERVAL", time.Hour)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		}
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL > 0 && c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Asterisk.ARIBaseURL == "" {
		errs = append(errs, errors.New("ASTERISK_ARI_URL is required"))
	}

	switch c.Rating.PrecisionDecimals {
	case 2, 4, 6:
	default:
		errs = append(errs, fmt.Errorf("RATING_PRECISION must be 2, 4 or 6, got %d", c.Rating.PrecisionDecimals))
	}
	switch c.Rating.Rounding {
	case "", "up", "down", "nearest":
	default:
		errs = append(errs, fmt.Errorf("RATING_ROUNDING must be one of up, down, nearest, got %q", c.Rating.Rounding))
	}
	for _, m := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"RATING_PEAK_MULTIPLIER", c.Rating.PeakMultiplier},
		{"RATING_WEEKEND_MULTIPLIER", c.Rating.WeekendMultiplier},
		{"RATING_HOLIDAY_MULTIPLIER", c.Rating.HolidayMultiplier},
	} {
		if !m.v.IsPositive() {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", m.name, m.v))
		}
	}
	for _, d := range c.Rating.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			errs = append(errs, fmt.Errorf("RATING_HOLIDAYS entry %q is not YYYY-MM-DD", d))
		}
	}

	if c.Billing.BalanceCheckInterval <= 0 {
		errs = append(errs, errors.New("BILLING_CHECK_INTERVAL must be positive"))
	}
	if c.Billing.GracePeriod < 0 {
		errs = append(errs, errors.New("BILLING_GRACE_PERIOD may not be negative"))
	}
	if c.Billing.TerminateRetries <= 0 {
		errs = append(errs, errors.New("BILLING_TERMINATE_RETRIES must be positive"))
	}
	if c.Billing.MaxCallsPerAccount < 0 {
		errs = append(errs, errors.New("BILLING_MAX_CALLS_PER_ACCOUNT may not be negative"))
	}

	if c.DID.MinRefund.IsNegative() {
		errs = append(errs, errors.New("DID_MIN_REFUND may not be negative"))
	}
	if c.DID.RenewalInterval <= 0 {
		errs = append(errs, errors.New("DID_RENEWAL_INTERVAL must be positive"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func optBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func optDecimal(key, def string, errs *[]error) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a decimal, got %q", key, v))
		return decimal.Zero
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
