package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"memoria/internal/driver"
	"memoria/internal/driver/telegram"
	"memoria/internal/store"
	llmconfig "memoria/pkg/llm/config"

	"gopkg.in/yaml.v3"
)

const (
	envConfigFile = "MEMORIA_CONFIG_FILE"
	envTimezone   = "MEMORIA_TIMEZONE"
	envPort       = "PORT"

	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envTelegramAppID    = "TELEGRAM_APP_ID"
	envTelegramAppHash  = "TELEGRAM_APP_HASH"

	envSheetsID           = "GOOGLE_SHEETS_ID"
	envServiceAccountPath = "GOOGLE_SERVICE_ACCOUNT_PATH"
	envServiceAccountJSON = "GOOGLE_SERVICE_ACCOUNT_JSON"
	envDatabaseURL        = "DATABASE_URL"
	envSQLitePath         = "SQLITE_PATH"
	envOpenAIAPIKey       = "OPENAI_API_KEY"
	envGroqAPIKey         = "GROQ_API_KEY"
	envGeminiAPIKey       = "GEMINI_API_KEY"

	defaultTelegramDriverName = "telegram"
	defaultTimezone           = "Europe/Berlin"
	defaultPort               = 5000
	defaultLogFormat          = logFormatJSON
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 15 * time.Second
	defaultSubscriptionBuffer = 64
	defaultSubscriptionWorker = 1
	defaultJournalWorkers     = 4
)

var defaultConfigFilePaths = []string{
	"config/bot.json",
	"config/bot.yaml",
	"bin/config/bot.json",
}

type appConfig struct {
	logLevel  slog.Level
	logFormat string

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	journalWorkers      int

	location   *time.Location
	healthAddr string
	audioDir   string

	drivers []driver.Definition
	store   store.Config
	llm     llmconfig.Config
}

type fileConfig struct {
	LogLevel  string            `json:"log_level" yaml:"log_level"`
	LogFormat string            `json:"log_format" yaml:"log_format"`
	Timezone  string            `json:"timezone" yaml:"timezone"`
	AudioDir  string            `json:"audio_dir" yaml:"audio_dir"`
	Kernel    fileKernelConfig  `json:"kernel" yaml:"kernel"`
	Journal   fileJournalConfig `json:"journal" yaml:"journal"`
	Health    fileHealthConfig  `json:"health" yaml:"health"`
	Drivers   []fileDriverEntry `json:"drivers" yaml:"drivers"`
	Store     fileStoreConfig   `json:"store" yaml:"store"`
	LLM       llmconfig.File    `json:"llm" yaml:"llm"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout" yaml:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer" yaml:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers" yaml:"subscription_workers"`
}

type fileJournalConfig struct {
	Workers *int `json:"workers" yaml:"workers"`
}

type fileHealthConfig struct {
	Port *int `json:"port" yaml:"port"`
}

type fileDriverEntry struct {
	Name    string         `json:"name" yaml:"name"`
	Type    string         `json:"type" yaml:"type"`
	Enabled *bool          `json:"enabled" yaml:"enabled"`
	Config  map[string]any `json:"config" yaml:"config"`
}

type fileStoreConfig struct {
	Backend         string `json:"backend" yaml:"backend"`
	SpreadsheetID   string `json:"spreadsheet_id" yaml:"spreadsheet_id"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
	Worksheet       string `json:"worksheet" yaml:"worksheet"`
	RewriteHeader   bool   `json:"rewrite_header" yaml:"rewrite_header"`
	SQLitePath      string `json:"sqlite_path" yaml:"sqlite_path"`
	DatabaseURL     string `json:"database_url" yaml:"database_url"`
}

// loadConfig reads the config file at path, or the first default candidate
// when path is empty, and applies environment overrides. With no file at all
// the defaults and environment alone are used.
func loadConfig(path string) (appConfig, error) {
	configFile, err := resolveConfigFilePath(path)
	if err != nil {
		return appConfig{}, err
	}

	var parsed fileConfig
	if configFile != "" {
		if err := readConfigFile(configFile, &parsed); err != nil {
			return appConfig{}, err
		}
	}

	cfg, err := buildAppConfig(parsed)
	if err != nil {
		if configFile == "" {
			return appConfig{}, fmt.Errorf("build config from environment: %w", err)
		}
		return appConfig{}, fmt.Errorf("build config from %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicit string) (string, error) {
	if configFile := strings.TrimSpace(explicit); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	for _, candidate := range defaultConfigFilePaths {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", nil
}

// readConfigFile decodes JSON or YAML by extension. Unknown fields are rejected
// in both formats.
func readConfigFile(path string, parsed *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(parsed); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(parsed); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config file %s: trailing content", path)
		}
	}

	return nil
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:  slog.LevelInfo,
		logFormat: defaultLogFormat,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
		journalWorkers:      defaultJournalWorkers,

		healthAddr: ":" + strconv.Itoa(defaultPort),
	}
}

func buildAppConfig(parsed fileConfig) (appConfig, error) {
	cfg := defaultAppConfig()

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if rawFormat := strings.TrimSpace(parsed.LogFormat); rawFormat != "" {
		format, err := parseLogFormat(rawFormat)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse log_format: %w", err)
		}
		cfg.logFormat = format
	}

	if err := applyKernelConfig(&cfg, parsed.Kernel); err != nil {
		return appConfig{}, err
	}
	if parsed.Journal.Workers != nil {
		if *parsed.Journal.Workers <= 0 {
			return appConfig{}, fmt.Errorf("parse journal.workers: must be > 0")
		}
		cfg.journalWorkers = *parsed.Journal.Workers
	}

	timezone := firstNonEmpty(os.Getenv(envTimezone), parsed.Timezone, defaultTimezone)
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return appConfig{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	cfg.location = location

	port := defaultPort
	if parsed.Health.Port != nil {
		port = *parsed.Health.Port
	}
	if rawPort := strings.TrimSpace(os.Getenv(envPort)); rawPort != "" {
		port, err = strconv.Atoi(rawPort)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", envPort, err)
		}
	}
	if port <= 0 || port > 65535 {
		return appConfig{}, fmt.Errorf("parse health port: %d out of range", port)
	}
	cfg.healthAddr = ":" + strconv.Itoa(port)
	cfg.audioDir = strings.TrimSpace(parsed.AudioDir)

	drivers, err := parseDrivers(parsed.Drivers)
	if err != nil {
		return appConfig{}, err
	}
	cfg.drivers = drivers

	cfg.store = store.Config{
		Backend: strings.TrimSpace(parsed.Store.Backend),
		Sheets: store.SheetsConfig{
			SpreadsheetID:   firstNonEmpty(os.Getenv(envSheetsID), parsed.Store.SpreadsheetID),
			CredentialsFile: firstNonEmpty(os.Getenv(envServiceAccountPath), parsed.Store.CredentialsFile),
			CredentialsJSON: strings.TrimSpace(os.Getenv(envServiceAccountJSON)),
			Worksheet:       strings.TrimSpace(parsed.Store.Worksheet),
			RewriteHeader:   parsed.Store.RewriteHeader,
		},
		SQLitePath:  firstNonEmpty(os.Getenv(envSQLitePath), parsed.Store.SQLitePath),
		DatabaseURL: firstNonEmpty(os.Getenv(envDatabaseURL), parsed.Store.DatabaseURL),
		Location:    location,
	}

	cfg.llm, err = llmconfig.Resolve(parsed.LLM, llmconfig.Env{
		OpenAIAPIKey: strings.TrimSpace(os.Getenv(envOpenAIAPIKey)),
		GroqAPIKey:   strings.TrimSpace(os.Getenv(envGroqAPIKey)),
		GeminiAPIKey: strings.TrimSpace(os.Getenv(envGeminiAPIKey)),
	})
	if err != nil {
		return appConfig{}, fmt.Errorf("parse llm: %w", err)
	}

	return cfg, nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "kernel.module_hook_timeout", raw: parsed.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{name: "kernel.shutdown_timeout", raw: parsed.ShutdownTimeout, target: &cfg.shutdownTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", duration.name, err)
		}
		if parsedDuration <= 0 {
			return fmt.Errorf("parse %s: must be > 0", duration.name)
		}
		*duration.target = parsedDuration
	}

	if parsed.SubscriptionBuffer != nil {
		if *parsed.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.SubscriptionBuffer
	}
	if parsed.SubscriptionWorkers != nil {
		if *parsed.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.SubscriptionWorkers
	}

	return nil
}

// parseDrivers converts file entries to definitions and overlays the Telegram
// environment credentials. Without a file entry, a Telegram driver is
// synthesized when TELEGRAM_BOT_TOKEN is set; without a token the bot runs
// with no driver.
func parseDrivers(entries []fileDriverEntry) ([]driver.Definition, error) {
	definitions := make([]driver.Definition, 0, len(entries)+1)
	hasTelegram := false
	for index, entry := range entries {
		definition := driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: true,
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("parse drivers[%d].name: required", index)
		}
		if definition.Type == "" {
			return nil, fmt.Errorf("parse drivers[%d].type: required", index)
		}
		if entry.Enabled != nil {
			definition.Enabled = *entry.Enabled
		}

		settings := cloneSettings(entry.Config)
		if definition.Type == telegram.DriverType {
			hasTelegram = true
			if err := overlayTelegramEnv(settings); err != nil {
				return nil, fmt.Errorf("parse drivers[%d]: %w", index, err)
			}
			if botToken, _ := settings["bot_token"].(string); strings.TrimSpace(botToken) == "" {
				definition.Enabled = false
			}
		}

		raw, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("parse drivers[%d].config: %w", index, err)
		}
		definition.Config = raw
		definitions = append(definitions, definition)
	}

	if !hasTelegram && strings.TrimSpace(os.Getenv(envTelegramBotToken)) != "" {
		settings := make(map[string]any)
		if err := overlayTelegramEnv(settings); err != nil {
			return nil, fmt.Errorf("parse telegram environment: %w", err)
		}
		raw, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("parse telegram environment: %w", err)
		}
		definitions = append(definitions, driver.Definition{
			Name:    defaultTelegramDriverName,
			Type:    telegram.DriverType,
			Enabled: true,
			Config:  raw,
		})
	}

	return definitions, nil
}

func overlayTelegramEnv(settings map[string]any) error {
	if botToken := strings.TrimSpace(os.Getenv(envTelegramBotToken)); botToken != "" {
		settings["bot_token"] = botToken
	}
	if appHash := strings.TrimSpace(os.Getenv(envTelegramAppHash)); appHash != "" {
		settings["app_hash"] = appHash
	}
	if rawAppID := strings.TrimSpace(os.Getenv(envTelegramAppID)); rawAppID != "" {
		appID, err := strconv.Atoi(rawAppID)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envTelegramAppID, err)
		}
		settings["app_id"] = appID
	}

	return nil
}

func cloneSettings(settings map[string]any) map[string]any {
	cloned := make(map[string]any, len(settings))
	for key, value := range settings {
		cloned[key] = value
	}

	return cloned
}

func (cfg appConfig) enabledDrivers() int {
	count := 0
	for _, definition := range cfg.drivers {
		if definition.Enabled {
			count++
		}
	}

	return count
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}

	return ""
}
