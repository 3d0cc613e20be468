// Package config loads server settings from .env, environment and flags.
// Flags take precedence; environment variables provide their defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Catalog sources.
const (
	CatalogFromFile     = "file"
	CatalogFromPostgres = "postgres"
)

// Default values.
const (
	DefaultGroupID           = int64(34785441)
	DefaultHTTPAddr          = ":8080"
	DefaultGroupPollInterval = 10 * time.Second
	DefaultPassPollInterval  = 5 * time.Second
	DefaultWaitingPeriod     = 14 * 24 * time.Hour
	DefaultExperiencePolicy  = "first"
)

// Config holds all server settings.
type Config struct {
	RobloxCookie string
	GroupID      int64

	StorageBackend string
	DataDir        string
	PostgresDSN    string
	ClickhouseDSN  string

	CatalogSource string
	CatalogPath   string
	AliasesPath   string
	DeskPath      string

	HTTPAddr string

	TelegramToken  string
	TelegramChatID int64
	StaffRoleID    string

	LogLevel string
	LogJSON  bool

	GroupPollInterval time.Duration
	PassPollInterval  time.Duration
	WaitingPeriod     time.Duration
	PollMaxDuration   time.Duration
	PollHeartbeat     time.Duration

	ExperiencePolicy string
	RejectAmbiguous  bool
}

// Load reads the .env file named by ENV_FILE (default ".env") if present,
// then parses args with environment defaults.
func Load(args []string) (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var (
		cfg  Config
		errs []error
	)
	flags := flag.NewFlagSet("trading-desk", flag.ContinueOnError)

	flags.StringVar(&cfg.RobloxCookie, "roblox-cookie", os.Getenv("ROBLOX_COOKIE"), "Platform session cookie")
	flags.Int64Var(&cfg.GroupID, "group-id", envInt64("ROBLOX_GROUP_ID", DefaultGroupID, &errs), "Payout group id")

	flags.StringVar(&cfg.StorageBackend, "storage", envString("STORAGE_BACKEND", BackendFile), "Ticket storage backend (memory, file, postgres)")
	flags.StringVar(&cfg.DataDir, "data-dir", envString("DATA_DIR", "data"), "Directory for file storage")
	flags.StringVar(&cfg.PostgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	flags.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (deal ledger)")

	flags.StringVar(&cfg.CatalogSource, "catalog-source", envString("CATALOG_SOURCE", CatalogFromFile), "Catalog source (file, postgres)")
	flags.StringVar(&cfg.CatalogPath, "catalog", envString("CATALOG_PATH", "data/items.json"), "Catalog JSON file")
	flags.StringVar(&cfg.AliasesPath, "aliases", envString("ALIASES_PATH", "data/aliases.yaml"), "Alias YAML file")
	flags.StringVar(&cfg.DeskPath, "desk", envString("DESK_PATH", "data/desk.json"), "Desk JSON file (obtainable, exceptions, support roles)")

	flags.StringVar(&cfg.HTTPAddr, "http-addr", envString("HTTP_ADDR", DefaultHTTPAddr), "HTTP listen address")

	flags.StringVar(&cfg.TelegramToken, "telegram-token", os.Getenv("TELEGRAM_TOKEN"), "Telegram bot token for staff alerts")
	flags.Int64Var(&cfg.TelegramChatID, "telegram-chat-id", envInt64("TELEGRAM_CHAT_ID", 0, &errs), "Telegram chat id for staff alerts")
	flags.StringVar(&cfg.StaffRoleID, "staff-role-id", os.Getenv("STAFF_ROLE_ID"), "Chat role pinged on staff notifications")

	flags.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level")
	flags.BoolVar(&cfg.LogJSON, "log-json", envBool("LOG_JSON", false, &errs), "Log as JSON")

	flags.DurationVar(&cfg.GroupPollInterval, "group-poll-interval", envDuration("GROUP_POLL_INTERVAL", DefaultGroupPollInterval, &errs), "Group membership check interval")
	flags.DurationVar(&cfg.PassPollInterval, "pass-poll-interval", envDuration("PASS_POLL_INTERVAL", DefaultPassPollInterval, &errs), "Pass creation/price check interval")
	flags.DurationVar(&cfg.WaitingPeriod, "waiting-period", envDuration("WAITING_PERIOD", DefaultWaitingPeriod, &errs), "Delay between group join and payout")
	flags.DurationVar(&cfg.PollMaxDuration, "poll-max-duration", envDuration("POLL_MAX_DURATION", 0, &errs), "Give up polling after this long (0 = never)")
	flags.DurationVar(&cfg.PollHeartbeat, "poll-heartbeat", envDuration("POLL_HEARTBEAT", 0, &errs), "Still-waiting notice interval (0 = off)")

	flags.StringVar(&cfg.ExperiencePolicy, "experience-policy", envString("EXPERIENCE_POLICY", DefaultExperiencePolicy), "Experience selection (first, single)")
	flags.BoolVar(&cfg.RejectAmbiguous, "reject-ambiguous", envBool("REJECT_AMBIGUOUS", false, &errs), "Reject ambiguous item names instead of picking by priority")

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("--postgres-dsn is required for storage %q", c.StorageBackend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.CatalogSource {
	case CatalogFromFile:
	case CatalogFromPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("--postgres-dsn is required for catalog source %q", c.CatalogSource)
		}
	default:
		return fmt.Errorf("unknown catalog source %q", c.CatalogSource)
	}

	switch c.ExperiencePolicy {
	case "first", "single":
	default:
		return fmt.Errorf("unknown experience policy %q", c.ExperiencePolicy)
	}

	if c.GroupPollInterval <= 0 || c.PassPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.WaitingPeriod < 0 || c.PollMaxDuration < 0 || c.PollHeartbeat < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64, errs *[]error) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
