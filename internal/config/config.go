package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment; a local .env file is read first when present
// and never overrides variables that are already set.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Telnyx TelnyxConfig
	Dialer DialerConfig
	AMQP   AMQPConfig
	Sentry SentryConfig
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

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string

	// VoiceURL serves TwiML for answered outbound calls.
	VoiceURL          string
	StatusCallbackURL string

	// PublicBaseURL is the externally visible origin of this service. When
	// set, Twilio webhook signatures are verified against it.
	PublicBaseURL string

	// InboundConnectTo is the fallback dial target for inbound calls that
	// do not match a blended campaign.
	InboundConnectTo string
}

type TelnyxConfig struct {
	APIKey       string
	ConnectionID string
	BaseURL      string
	WebhookURL   string
}

// DialerConfig holds operational tuning for the campaign dialer.
type DialerConfig struct {
	TickInterval     time.Duration
	PlacementTimeout time.Duration
	// StaleCallAfter is how long a live call may go without a status event
	// before the dialer polls its provider.
	StaleCallAfter  time.Duration
	CallsPerSecond  float64
	Burst           int
	DefaultProvider string

	// RedisSlots enables the cross-process concurrency cap.
	RedisSlots bool
	SlotTTL    time.Duration
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type SentryConfig struct {
	DSN string
}

func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

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

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.BaseURL = strings.TrimSpace(os.Getenv("TWILIO_BASE_URL"))
	c.Twilio.VoiceURL = strings.TrimSpace(os.Getenv("TWILIO_VOICE_URL"))
	c.Twilio.StatusCallbackURL = strings.TrimSpace(os.Getenv("TWILIO_STATUS_CALLBACK_URL"))
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL")), "/")
	c.Twilio.InboundConnectTo = strings.TrimSpace(os.Getenv("TWILIO_INBOUND_CONNECT_TO"))

	c.Telnyx.APIKey = os.Getenv("TELNYX_API_KEY")
	c.Telnyx.ConnectionID = strings.TrimSpace(os.Getenv("TELNYX_CONNECTION_ID"))
	c.Telnyx.BaseURL = strings.TrimSpace(os.Getenv("TELNYX_BASE_URL"))
	c.Telnyx.WebhookURL = strings.TrimSpace(os.Getenv("TELNYX_WEBHOOK_URL"))

	c.Dialer.TickInterval = mustDuration("DIALER_TICK_INTERVAL")
	c.Dialer.PlacementTimeout = mustDuration("DIALER_PLACEMENT_TIMEOUT")
	c.Dialer.StaleCallAfter = mustDuration("DIALER_STALE_CALL_AFTER")
	c.Dialer.SlotTTL = mustDuration("DIALER_SLOT_TTL")
	c.Dialer.DefaultProvider = strings.ToLower(strings.TrimSpace(os.Getenv("DIALER_DEFAULT_PROVIDER")))
	{
		f, err := optionalFloat("DIALER_CALLS_PER_SECOND")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Dialer.CallsPerSecond = f
	}
	{
		n, err := optionalInt("DIALER_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dialer.Burst = n
	}
	{
		b, err := optionalBool("DIALER_REDIS_SLOTS")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Dialer.RedisSlots = b
	}

	c.AMQP.URL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.AMQP.Exchange = strings.TrimSpace(os.Getenv("AMQP_EXCHANGE"))
	c.Sentry.DSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every configuration problem at once and fills in defaults
// for optional values.
func (c *Config) Validate() error {
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
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
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateDialer()...)

	return joinErrors(errs)
}

func (c *Config) validateDialer() []error {
	var errs []error

	d := &c.Dialer
	if d.TickInterval <= 0 {
		d.TickInterval = 5 * time.Second
	}
	if d.PlacementTimeout <= 0 {
		d.PlacementTimeout = 10 * time.Second
	}
	if d.StaleCallAfter <= 0 {
		d.StaleCallAfter = 2 * time.Minute
	}
	if d.SlotTTL <= 0 {
		d.SlotTTL = 2 * time.Hour
	}
	if d.CallsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("DIALER_CALLS_PER_SECOND must be >= 0, got %v", d.CallsPerSecond))
	}
	if d.Burst <= 0 {
		d.Burst = 1
	}
	if d.DefaultProvider == "" {
		d.DefaultProvider = "twilio"
	}

	switch d.DefaultProvider {
	case "twilio":
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required when twilio is the default provider"))
		}
	case "telnyx":
		if c.Telnyx.APIKey == "" || c.Telnyx.ConnectionID == "" {
			errs = append(errs, errors.New("TELNYX_API_KEY and TELNYX_CONNECTION_ID are required when telnyx is the default provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("DIALER_DEFAULT_PROVIDER must be one of twilio, telnyx, got %q", d.DefaultProvider))
	}

	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "dialer.events"
	}
	return errs
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// mustDuration returns 0 for unset or unparseable values; Validate applies defaults.
func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
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
