package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/HealthLog/internal/api"
	"github.com/BTreeMap/HealthLog/internal/flow"
	"github.com/BTreeMap/HealthLog/internal/genai"
	"github.com/BTreeMap/HealthLog/internal/lockfile"
	"github.com/BTreeMap/HealthLog/internal/sheets"
	"github.com/BTreeMap/HealthLog/internal/store"
	"github.com/BTreeMap/HealthLog/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for HealthLog state data
	DefaultStateDir = "/var/lib/healthlog"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "healthlog.db"
	// DefaultAITimeout bounds each OpenAI call
	DefaultAITimeout = 60 * time.Second
)

func main() {
	initializeLogger(false)

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)
	if *flags.debug {
		initializeLogger(true)
	}

	if err := validateConfiguration(flags); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}

	err = run(flags)
	lock.Release()
	if err != nil {
		slog.Error("HealthLog failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("HealthLog exited successfully")
}

// Config holds environment configuration
type Config struct {
	OpenAIKey       string
	SheetsCredsFile string
	SpreadsheetID   string
	SheetLogging    bool
	DatabaseDSN     string
	StateDir        string
	APIAddr         string
	HealthPlanFile  string
	AITimeout       time.Duration
	Debug           bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	sheetsCreds    *string
	spreadsheetID  *string
	sheetLogging   *bool
	apiAddr        *string
	healthPlanFile *string
	aiTimeout      *time.Duration
	debug          *bool
}

// initializeLogger sets up structured logging on stderr
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// getenvWithFallback returns the first non-empty value among the given keys.
func getenvWithFallback(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		OpenAIKey:       getenvWithFallback("HEALTHLOG_OPENAI_API_KEY", "OPENAI_API_KEY"),
		SheetsCredsFile: os.Getenv("HEALTHLOG_SHEETS_CREDENTIALS_FILE"),
		SpreadsheetID:   os.Getenv("HEALTHLOG_SPREADSHEET_ID"),
		SheetLogging:    util.ParseBoolEnv("HEALTHLOG_SHEET_LOGGING", true),
		DatabaseDSN:     getenvWithFallback("HEALTHLOG_DATABASE_URL", "DATABASE_URL"),
		StateDir:        os.Getenv("HEALTHLOG_STATE_DIR"),
		APIAddr:         os.Getenv("HEALTHLOG_API_ADDR"),
		HealthPlanFile:  os.Getenv("HEALTHLOG_HEALTH_PLAN_FILE"),
		AITimeout:       util.ParseDurationEnv("HEALTHLOG_AI_TIMEOUT", DefaultAITimeout),
		Debug:           util.ParseBoolEnv("HEALTHLOG_DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HEALTHLOG_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("HEALTHLOG_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"SHEETS_CREDENTIALS_FILE", config.SheetsCredsFile,
		"SPREADSHEET_ID_SET", config.SpreadsheetID != "",
		"SHEET_LOGGING", config.SheetLogging,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"HEALTH_PLAN_FILE", config.HealthPlanFile,
		"AI_TIMEOUT", config.AITimeout,
		"DEBUG", config.Debug)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for HealthLog data (overrides $HEALTHLOG_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseDSN, "database DSN for the session store (overrides $HEALTHLOG_DATABASE_URL or $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $HEALTHLOG_OPENAI_API_KEY or $OPENAI_API_KEY)"),
		sheetsCreds:    flag.String("sheets-credentials", config.SheetsCredsFile, "Google service account key file (overrides $HEALTHLOG_SHEETS_CREDENTIALS_FILE)"),
		spreadsheetID:  flag.String("spreadsheet-id", config.SpreadsheetID, "target spreadsheet ID (overrides $HEALTHLOG_SPREADSHEET_ID)"),
		sheetLogging:   flag.Bool("sheet-logging", config.SheetLogging, "append visit summaries to the spreadsheet (overrides $HEALTHLOG_SHEET_LOGGING)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $HEALTHLOG_API_ADDR)"),
		healthPlanFile: flag.String("health-plan-file", config.HealthPlanFile, "file with the personal health plan text (overrides $HEALTHLOG_HEALTH_PLAN_FILE)"),
		aiTimeout:      flag.Duration("ai-timeout", config.AITimeout, "timeout for each OpenAI call (overrides $HEALTHLOG_AI_TIMEOUT)"),
		debug:          flag.Bool("debug", config.Debug, "enable debug logging (overrides $HEALTHLOG_DEBUG)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"sheetsCreds", *flags.sheetsCreds,
		"spreadsheetIDSet", *flags.spreadsheetID != "",
		"sheetLogging", *flags.sheetLogging,
		"apiAddr", *flags.apiAddr,
		"healthPlanFile", *flags.healthPlanFile,
		"aiTimeout", *flags.aiTimeout,
		"debug", *flags.debug)

	applyStateDirOverride(flags, config)

	return flags
}

// applyStateDirOverride moves the default SQLite path into a state directory
// given on the command line. A DSN set explicitly is left alone.
func applyStateDirOverride(flags Flags, config Config) {
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if *flags.dbDSN == defaultDSN && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
}

// validateConfiguration rejects startup configurations that cannot work.
// These are fatal: the process refuses to start rather than fail per request.
func validateConfiguration(flags Flags) error {
	if *flags.openaiKey == "" {
		return fmt.Errorf("OpenAI API key is required: set HEALTHLOG_OPENAI_API_KEY or pass -openai-api-key")
	}
	if *flags.sheetLogging {
		if *flags.sheetsCreds == "" {
			return fmt.Errorf("sheets credentials are required: set HEALTHLOG_SHEETS_CREDENTIALS_FILE or disable with -sheet-logging=false")
		}
		if *flags.spreadsheetID == "" {
			return fmt.Errorf("spreadsheet ID is required: set HEALTHLOG_SPREADSHEET_ID or disable with -sheet-logging=false")
		}
	}
	return nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "db_dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "db_dir", dbDir)
			return err
		}
	}
	return nil
}

// loadHealthPlan reads a replacement health plan from a file. An empty path
// keeps the built-in plan.
func loadHealthPlan(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read health plan file %s: %w", path, err)
	}
	slog.Debug("Loaded health plan from file", "path", path, "bytes", len(data))
	return string(data), nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgres")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	return storeOpts
}

// buildGenAIOptions constructs OpenAI client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.aiTimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(*flags.aiTimeout))
	}
	return genaiOpts
}

// buildSheetsOptions constructs sheet logger configuration options
func buildSheetsOptions(flags Flags) []sheets.Option {
	var sheetsOpts []sheets.Option
	if *flags.sheetsCreds != "" {
		sheetsOpts = append(sheetsOpts, sheets.WithCredentialsFile(*flags.sheetsCreds))
	}
	if *flags.spreadsheetID != "" {
		sheetsOpts = append(sheetsOpts, sheets.WithSpreadsheetID(*flags.spreadsheetID))
	}
	return sheetsOpts
}

// buildFlowOptions constructs conversation machine configuration options
func buildFlowOptions(healthPlan string) []flow.Option {
	var flowOpts []flow.Option
	if healthPlan != "" {
		flowOpts = append(flowOpts, flow.WithHealthPlan(healthPlan))
	}
	return flowOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// openStore opens the session store backend matching the DSN type.
func openStore(flags Flags) (store.Store, error) {
	storeOpts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

// run assembles the modules and serves until the context is canceled.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	var rows flow.RowAppender
	if *flags.sheetLogging {
		logger, err := sheets.NewLogger(ctx, buildSheetsOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to initialize sheet logger: %w", err)
		}
		rows = logger
	} else {
		slog.Info("Spreadsheet logging disabled, visits are recorded locally only")
	}

	st, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	healthPlan, err := loadHealthPlan(*flags.healthPlanFile)
	if err != nil {
		return err
	}

	machine := flow.NewMachine(client, client, client, rows, buildFlowOptions(healthPlan)...)
	server := api.NewServer(machine, st, buildAPIOptions(flags)...)

	slog.Info("Bootstrapping HealthLog with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"sheet_logging", *flags.sheetLogging)
	return server.Run(ctx)
}
