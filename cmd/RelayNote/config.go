package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/RelayNote/internal/genai"
	"github.com/BTreeMap/RelayNote/internal/mediagroup"
	"github.com/BTreeMap/RelayNote/internal/queue"
	"github.com/BTreeMap/RelayNote/internal/store"
	"github.com/BTreeMap/RelayNote/internal/util"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RelayNote state data
	DefaultStateDir = "/var/lib/relaynote"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "relaynote.db"
	// DefaultAPIAddr is where the status API listens unless disabled
	DefaultAPIAddr = ":8080"
	// DefaultCleanupCron runs retention cleanup daily at 03:00
	DefaultCleanupCron = "0 3 * * *"
	// DefaultWeeklyReportCron sends the weekly report on Sunday evening
	DefaultWeeklyReportCron = "0 20 * * 0"
)

// Config holds the resolved configuration
type Config struct {
	TelegramToken string
	AllowedUsers  []int64
	StateDir      string
	DatabaseURL   string

	OpenAIKey   string
	OpenAIModel string
	APIAddr     string
	FetchLinks  bool

	BatchSize         int
	ProcessingDelay   time.Duration
	CheckInterval     time.Duration
	MediaGroupTimeout time.Duration
	RetentionDays     int
	OffsetHistory     int

	CleanupCron      string
	WeeklyReportCron string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	AlertSMSTo       string

	LogLevel  string
	LogFormat string
}

// SMSEnabled reports whether every Twilio setting needed for alerts is present.
func (c Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != "" && c.AlertSMSTo != ""
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	allowed, err := util.ParseInt64List(os.Getenv("ALLOWED_USER_IDS"))
	if err != nil {
		slog.Warn("ALLOWED_USER_IDS is invalid, ignoring it", "error", err)
	}

	config := Config{
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		AllowedUsers:      allowed,
		StateDir:          util.GetEnv("RELAYNOTE_STATE_DIR", DefaultStateDir),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       util.GetEnv("OPENAI_MODEL", genai.DefaultModel),
		APIAddr:           DefaultAPIAddr,
		FetchLinks:        util.ParseBoolEnv("FETCH_LINK_CONTENT", true),
		BatchSize:         util.ParseIntEnv("BATCH_SIZE", queue.DefaultBatchSize),
		ProcessingDelay:   util.ParseDurationEnv("PROCESSING_DELAY", queue.DefaultProcessingDelay),
		CheckInterval:     util.ParseDurationEnv("CONNECTION_CHECK_INTERVAL", queue.DefaultCheckInterval),
		MediaGroupTimeout: util.ParseDurationEnv("MEDIA_GROUP_TIMEOUT", mediagroup.DefaultTimeout),
		RetentionDays:     util.ParseIntEnv("PROCESSED_RETENTION_DAYS", store.DefaultRetentionDays),
		OffsetHistory:     util.ParseIntEnv("OFFSET_HISTORY_KEEP", store.DefaultOffsetHistoryKeep),
		CleanupCron:       util.GetEnv("CLEANUP_CRON", DefaultCleanupCron),
		WeeklyReportCron:  util.GetEnv("WEEKLY_REPORT_CRON", DefaultWeeklyReportCron),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		AlertSMSTo:        os.Getenv("ALERT_SMS_TO"),
		LogLevel:          util.GetEnv("LOG_LEVEL", "debug"),
		LogFormat:         util.GetEnv("LOG_FORMAT", "text"),
	}
	// An explicitly empty API_ADDR disables the status server.
	if addr, ok := os.LookupEnv("API_ADDR"); ok {
		config.APIAddr = strings.TrimSpace(addr)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"ALLOWED_USER_IDS", len(config.AllowedUsers),
		"RELAYNOTE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TWILIO_SET", config.SMSEnabled())

	return config
}

// parseCommandLineFlags applies command line overrides on top of config.
func parseCommandLineFlags(config Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("RelayNote", flag.ContinueOnError)

	token := fs.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)")
	allowed := fs.String("allowed-users", "", "comma separated Telegram user ids (overrides $ALLOWED_USER_IDS)")
	stateDir := fs.String("state-dir", config.StateDir, "state directory for RelayNote data (overrides $RELAYNOTE_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)")
	openaiKey := fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	openaiModel := fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fetchLinks := fs.Bool("fetch-links", config.FetchLinks, "fetch linked pages to summarize link entries (overrides $FETCH_LINK_CONTENT)")
	apiAddr := fs.String("api-addr", config.APIAddr, "status API address, empty disables (overrides $API_ADDR)")
	batchSize := fs.Int("batch-size", config.BatchSize, "updates per backlog fetch (overrides $BATCH_SIZE)")
	delay := fs.Duration("processing-delay", config.ProcessingDelay, "pause after each drained update (overrides $PROCESSING_DELAY)")
	checkInterval := fs.Duration("check-interval", config.CheckInterval, "connection check interval (overrides $CONNECTION_CHECK_INTERVAL)")
	mgTimeout := fs.Duration("media-group-timeout", config.MediaGroupTimeout, "album quiet period (overrides $MEDIA_GROUP_TIMEOUT)")
	retention := fs.Int("retention-days", config.RetentionDays, "days to keep processed-update records (overrides $PROCESSED_RETENTION_DAYS)")
	history := fs.Int("offset-history", config.OffsetHistory, "offset rows kept by cleanup (overrides $OFFSET_HISTORY_KEEP)")
	cleanupCron := fs.String("cleanup-cron", config.CleanupCron, "cron schedule for retention cleanup (overrides $CLEANUP_CRON)")
	weeklyCron := fs.String("weekly-report-cron", config.WeeklyReportCron, "cron schedule for the weekly report (overrides $WEEKLY_REPORT_CRON)")
	logLevel := fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")
	logFormat := fs.String("log-format", config.LogFormat, "text or json (overrides $LOG_FORMAT)")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	// Keep the default SQLite file inside the state directory when only -state-dir moved.
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *dbDSN == config.DatabaseURL && config.DatabaseURL == defaultDSN && *stateDir != config.StateDir {
		*dbDSN = filepath.Join(*stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *stateDir)
	}

	if *allowed != "" {
		ids, err := util.ParseInt64List(*allowed)
		if err != nil {
			return config, fmt.Errorf("-allowed-users: %w", err)
		}
		config.AllowedUsers = ids
	}
	config.TelegramToken = *token
	config.StateDir = *stateDir
	config.DatabaseURL = *dbDSN
	config.OpenAIKey = *openaiKey
	config.OpenAIModel = *openaiModel
	config.APIAddr = *apiAddr
	config.FetchLinks = *fetchLinks
	config.BatchSize = *batchSize
	config.ProcessingDelay = *delay
	config.CheckInterval = *checkInterval
	config.MediaGroupTimeout = *mgTimeout
	config.RetentionDays = *retention
	config.OffsetHistory = *history
	config.CleanupCron = *cleanupCron
	config.WeeklyReportCron = *weeklyCron
	config.LogLevel = *logLevel
	config.LogFormat = *logFormat

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseURL != "",
		"openaiKeySet", config.OpenAIKey != "",
		"apiAddr", config.APIAddr,
		"batchSize", config.BatchSize,
		"checkInterval", config.CheckInterval)

	return config, config.validate()
}

func (c Config) validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("telegram bot token is required (set TELEGRAM_BOT_TOKEN or -telegram-token)")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", c.RetentionDays)
	}
	if c.OffsetHistory <= 0 {
		return fmt.Errorf("offset history must be positive, got %d", c.OffsetHistory)
	}
	return nil
}

// newLogger builds the process logger: tint for text, JSON otherwise.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelDebug
	}

	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl, AddSource: true}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: lvl, TimeFormat: time.DateTime}))
}
