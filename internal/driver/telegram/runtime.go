package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultRuntimeSessionFile  = ".cache/telegram/session.json"
	defaultRuntimePublishDelay = 2 * time.Second
	defaultRuntimeAuthTimeout  = time.Minute
)

type runtimeConfig struct {
	AppID            int    `json:"app_id"`
	AppHash          string `json:"app_hash"`
	BotToken         string `json:"bot_token"`
	SessionFile      string `json:"session_file"`
	PublishTimeout   string `json:"publish_timeout"`
	OutboundTimeout  string `json:"outbound_timeout"`
	DownloadTimeout  string `json:"download_timeout"`
	AuthTimeout      string `json:"auth_timeout"`
	UpdateBuffer     int    `json:"update_buffer"`
	MaxDownloadBytes int64  `json:"max_download_bytes"`
}

type parsedRuntimeConfig struct {
	appID            int
	appHash          string
	botToken         string
	sessionFile      string
	publishTimeout   time.Duration
	outboundTimeout  time.Duration
	downloadTimeout  time.Duration
	authTimeout      time.Duration
	updateBuffer     int
	maxDownloadBytes int64
}

// BuildRuntimeFromConfig builds one Telegram bot runtime from its JSON config.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
) (*Driver, *SinkDispatcher, *MediaDownloader, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	updateChannel, err := NewGotdUpdateChannel(cfg.updateBuffer)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new gotd update channel: %w", err)
	}
	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	peers := NewPeerCache()
	documents := NewDocumentCache(0)
	source, err := NewGotdBotSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg)
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers), WithDocumentCache(documents)),
		WithMapErrorHandler(func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "telegram update skipped", "error", err)
		}),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new gotd bot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	sink, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.outboundTimeout),
		WithOutboundLogger(logger),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	downloads, err := NewMediaDownloader(
		client,
		documents,
		WithMaxDownloadBytes(cfg.maxDownloadBytes),
		WithDownloadTimeout(cfg.downloadTimeout),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new telegram media downloader: %w", err)
	}

	return driver, sink, downloads, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:            parsed.AppID,
		appHash:          strings.TrimSpace(parsed.AppHash),
		botToken:         strings.TrimSpace(parsed.BotToken),
		sessionFile:      strings.TrimSpace(parsed.SessionFile),
		publishTimeout:   defaultRuntimePublishDelay,
		outboundTimeout:  defaultOutboundTimeout,
		downloadTimeout:  defaultDownloadTimeout,
		authTimeout:      defaultRuntimeAuthTimeout,
		updateBuffer:     parsed.UpdateBuffer,
		maxDownloadBytes: parsed.MaxDownloadBytes,
	}
	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = 256
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}
	if cfg.maxDownloadBytes <= 0 {
		cfg.maxDownloadBytes = DefaultMaxDownloadBytes
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "publish_timeout", raw: parsed.PublishTimeout, target: &cfg.publishTimeout},
		{name: "outbound_timeout", raw: parsed.OutboundTimeout, target: &cfg.outboundTimeout},
		{name: "download_timeout", raw: parsed.DownloadTimeout, target: &cfg.downloadTimeout},
		{name: "auth_timeout", raw: parsed.AuthTimeout, target: &cfg.authTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.name, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.name)
		}
		*duration.target = parsedDuration
	}

	if cfg.appID <= 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	}
	if cfg.appHash == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	}
	if cfg.botToken == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("bot_token is required")
	}

	return cfg, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes client runtime and performs authentication before invoking fn.
func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return fmt.Errorf("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

func authenticateBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored from local storage", "session_file", cfg.sessionFile)
	} else {
		if _, err := client.Auth().Bot(authCtx, cfg.botToken); err != nil {
			return fmt.Errorf("authenticate bot: %w", err)
		}
		logger.Info("telegram authorized with bot token", "session_file", cfg.sessionFile)
	}

	// The server pushes updates only to sessions that have fetched the state.
	if _, err := client.API().UpdatesGetState(authCtx); err != nil {
		return fmt.Errorf("get updates state: %w", err)
	}

	return nil
}
