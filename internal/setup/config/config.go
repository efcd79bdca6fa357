package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrMissingSetting        = errors.New("required setting is missing")
)

// Current version of the config files.
const (
	CurrentCommonVersion = 1
	CurrentBotVersion    = 1
)

// envMapping maps the environment variables we accept to their koanf keys.
var envMapping = map[string]string{
	"DATABASE_URL":           "common.postgresql.dsn",
	"REDIS_URL":              "common.redis.url",
	"UPTRACE_DSN":            "common.telemetry.uptrace_dsn",
	"DISCORD_BOT_TOKEN":      "bot.discord.token",
	"DISCORD_APP_ID":         "bot.discord.app_id",
	"DISCORD_STATUS_TEXT":    "bot.discord.status_text",
	"API_KEY":                "bot.api.key",
	"ABSOLUTESOLVER":         "bot.api.absolutesolver_key",
	"PATREON_CLIENT_ID":      "bot.patreon.client_id",
	"PATREON_CLIENT_SECRET":  "bot.patreon.client_secret",
	"PATREON_WEBHOOK_SECRET": "bot.patreon.webhook_secret",
	"ROBLOX_OPEN_CLOUD_KEY":  "bot.roblox.open_cloud_key",
	"SUPABASE_API_KEY":       "bot.supabase.api_key",
}

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig `koanf:"common"`
	Bot    BotConfig    `koanf:"bot"`
}

// CommonConfig contains configuration shared by every binary.
type CommonConfig struct {
	// Version of the common config.
	Version        int            `koanf:"version"`
	Debug          Debug          `koanf:"debug"`
	Telemetry      Telemetry      `koanf:"telemetry"`
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`
	Retry          Retry          `koanf:"retry"`
	PostgreSQL     PostgreSQL     `koanf:"postgresql"`
	Redis          Redis          `koanf:"redis"`
}

// BotConfig contains bot specific configuration.
type BotConfig struct {
	// Version of the bot config.
	Version int `koanf:"version"`
	// Request timeout in milliseconds for outbound HTTP calls.
	RequestTimeout int `koanf:"request_timeout"`
	// Timeout in milliseconds for member chunk requests.
	MemberRequestTimeout int      `koanf:"member_request_timeout"`
	Discord              Discord  `koanf:"discord"`
	API                  API      `koanf:"api"`
	Patreon              Patreon  `koanf:"patreon"`
	Roblox               Roblox   `koanf:"roblox"`
	Supabase             Supabase `koanf:"supabase"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Mirror logs to stdout.
	Stdout bool `koanf:"stdout"`
}

// Telemetry contains tracing configuration.
type Telemetry struct {
	// Uptrace DSN; tracing is disabled when empty.
	UptraceDSN string `koanf:"uptrace_dsn"`
}

// CircuitBreaker contains circuit breaker configuration.
type CircuitBreaker struct {
	// Maximum number of requests allowed to pass through when the circuit is half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// The cyclic period of the closed state for the circuit breaker to clear the internal counts.
	Interval int `koanf:"interval"`
	// The period of the open state after which the state of the circuit breaker becomes half-open.
	Timeout int `koanf:"timeout"`
}

// Retry contains retry configuration.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum retry delay in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Full connection string; takes precedence over the discrete fields.
	DSN string `koanf:"dsn"`
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// redis:// URL; takes precedence over the discrete fields.
	URL string `koanf:"url"`
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Discord contains Discord bot configuration.
type Discord struct {
	// Bot token for authentication.
	Token string `koanf:"token" validate:"required"`
	// Application ID used for interaction responses and command registration.
	AppID string `koanf:"app_id" validate:"required,number"`
	// Text shown in the bot's custom status.
	StatusText string `koanf:"status_text"`
}

// API contains the administration HTTP surface configuration.
type API struct {
	// Address to bind, loopback by default.
	Host string `koanf:"host"`
	// Port to bind.
	Port int `koanf:"port" validate:"min=1,max=65535"`
	// Key expected in the X-API-Key header.
	Key string `koanf:"key"`
	// HMAC key for database webhooks.
	AbsolutesolverKey string `koanf:"absolutesolver_key"`
}

// Patreon contains funding provider OAuth client configuration.
type Patreon struct {
	ClientID      string `koanf:"client_id"`
	ClientSecret  string `koanf:"client_secret"`
	WebhookSecret string `koanf:"webhook_secret"`
}

// Roblox contains game platform configuration.
type Roblox struct {
	OpenCloudKey string `koanf:"open_cloud_key"`
}

// Supabase contains identity registry configuration.
type Supabase struct {
	APIKey string `koanf:"api_key"`
}

// defaults are applied before any file or environment source.
func defaults() map[string]any {
	return map[string]any{
		"common.version":                      CurrentCommonVersion,
		"common.debug.log_level":              "info",
		"common.debug.max_logs_to_keep":       10,
		"common.debug.stdout":                 true,
		"common.circuit_breaker.max_requests": 5,
		"common.circuit_breaker.interval":     60000,
		"common.circuit_breaker.timeout":      30000,
		"common.retry.max_retries":            3,
		"common.retry.delay":                  500,
		"common.retry.max_delay":              2000,
		"common.postgresql.max_open_conns":    20,
		"common.postgresql.max_idle_conns":    10,
		"common.postgresql.max_lifetime":      30,
		"common.postgresql.max_idle_time":     5,
		"common.redis.host":                   "localhost",
		"common.redis.port":                   6379,
		"bot.version":                         CurrentBotVersion,
		"bot.request_timeout":                 30000,
		"bot.member_request_timeout":          10000,
		"bot.discord.status_text":             "syncing members",
		"bot.api.host":                        "127.0.0.1",
		"bot.api.port":                        8080,
	}
}

// LoadConfig loads the configuration from TOML files and the environment.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to apply default %s: %w", key, err)
		}
	}

	// List search paths
	configPaths := []string{".mellow", "/etc/mellow/config", "/app/config", "config", "."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		configPaths = append([]string{homeDir + "/.mellow/config"}, configPaths...)
	}

	// Config files are optional since containers usually configure through the environment
	var usedConfigPath string

	for _, configName := range []string{"common", "bot"} {
		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}
	}

	// Environment overrides everything else
	if err := k.Load(env.Provider("", ".", EnvKey), nil); err != nil {
		return nil, "", fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("bot", config.Bot.Version, CurrentBotVersion); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// EnvKey maps a process environment variable name to its koanf key.
// Unknown variables map to an empty key and are ignored.
func EnvKey(name string) string {
	return envMapping[strings.TrimSpace(name)]
}

// Validate checks that every setting the bot cannot run without is present.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingSetting, err)
	}

	if c.Common.PostgreSQL.DSN == "" && c.Common.PostgreSQL.Host == "" {
		return fmt.Errorf("%w: DATABASE_URL", ErrMissingSetting)
	}

	return nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf("%w: %s.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, name, current, expected)
	}

	return nil
}
