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

	"hookrelay/pkg/hookrelay"
)

const (
	defaultRuntimeSessionFile  = ".cache/telegram/session.json"
	defaultRuntimeRPCTimeout   = 5 * time.Second
	defaultRuntimeAuthTimeout  = time.Minute
	defaultRuntimeUpdateBuffer = 256
)

type runtimeConfig struct {
	AppID        int    `json:"app_id"`
	AppHash      string `json:"app_hash"`
	BotToken     string `json:"bot_token"`
	SessionFile  string `json:"session_file"`
	UpdateBuffer int    `json:"update_buffer"`
	RPCTimeout   string `json:"rpc_timeout"`
	AuthTimeout  string `json:"auth_timeout"`
	DeferText    string `json:"defer_text"`
	PeerCache    int    `json:"peer_cache_size"`
}

type parsedRuntimeConfig struct {
	appID        int
	appHash      string
	botToken     string
	sessionFile  string
	updateBuffer int
	rpcTimeout   time.Duration
	authTimeout  time.Duration
	deferText    string
	peerCache    int
}

// BuildRuntimeFromConfig builds one Telegram bot driver from config payload.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (hookrelay.Driver, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name)

	updateChannel, err := NewGotdUpdateChannel(cfg.updateBuffer)
	if err != nil {
		return nil, fmt.Errorf("new gotd update channel: %w", err)
	}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	peers, err := NewPeerCache(cfg.peerCache)
	if err != nil {
		return nil, fmt.Errorf("new telegram peer cache: %w", err)
	}
	outbound, err := NewOutbound(
		client,
		peers,
		WithOutboundTimeout(cfg.rpcTimeout),
		WithOutboundLogger(logger),
		WithDeferText(cfg.deferText),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram outbound: %w", err)
	}

	var driver *Driver
	source, err := NewGotdBotSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) (string, error) {
				return authenticateGotdBot(ctx, logger, client, cfg)
			},
			onReady: func(ctx context.Context, username string) error {
				return driver.SessionReady(ctx, username)
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("new gotd bot source: %w", err)
	}

	driver, err = NewDriver(
		source,
		outbound,
		WithName(name),
		WithSubmitTimeout(cfg.rpcTimeout),
		WithDriverLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram driver: %w", err)
	}

	return driver, nil
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
		appID:        parsed.AppID,
		appHash:      strings.TrimSpace(parsed.AppHash),
		botToken:     strings.TrimSpace(parsed.BotToken),
		sessionFile:  strings.TrimSpace(parsed.SessionFile),
		updateBuffer: parsed.UpdateBuffer,
		rpcTimeout:   defaultRuntimeRPCTimeout,
		authTimeout:  defaultRuntimeAuthTimeout,
		deferText:    parsed.DeferText,
		peerCache:    parsed.PeerCache,
	}

	if cfg.updateBuffer <= 0 {
		cfg.updateBuffer = defaultRuntimeUpdateBuffer
	}
	if cfg.peerCache < 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("peer_cache_size must be >= 0")
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}

	if timeout := strings.TrimSpace(parsed.RPCTimeout); timeout != "" {
		parsedTimeout, err := parsePositiveDuration(timeout)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse rpc_timeout: %w", err)
		}
		cfg.rpcTimeout = parsedTimeout
	}
	if timeout := strings.TrimSpace(parsed.AuthTimeout); timeout != "" {
		parsedTimeout, err := parsePositiveDuration(timeout)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse auth_timeout: %w", err)
		}
		cfg.authTimeout = parsedTimeout
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

func parsePositiveDuration(raw string) (time.Duration, error) {
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}

	return parsed, nil
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
	authenticate func(ctx context.Context) (string, error)
	onReady      func(ctx context.Context, username string) error
}

// Run executes client runtime and authenticates the bot before invoking fn.
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
		username, err := c.authenticate(runCtx)
		if err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if c.onReady != nil {
			if err := c.onReady(runCtx, username); err != nil {
				return fmt.Errorf("gotd session ready: %w", err)
			}
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

// authenticateGotdBot restores or creates a bot session and returns the bot username.
func authenticateGotdBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) (string, error) {
	if client == nil {
		return "", fmt.Errorf("authenticate gotd bot: nil client")
	}

	authCtx := ctx
	cancel := func() {}
	if cfg.authTimeout > 0 {
		authCtx, cancel = context.WithTimeout(ctx, cfg.authTimeout)
	}
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return "", fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", cfg.sessionFile)
	} else {
		if _, err := client.Auth().Bot(authCtx, cfg.botToken); err != nil {
			return "", fmt.Errorf("authenticate bot: %w", err)
		}
		logger.InfoContext(ctx, "telegram authorized with bot token", "session_file", cfg.sessionFile)
	}

	self, err := client.Self(authCtx)
	if err != nil {
		return "", fmt.Errorf("resolve bot identity: %w", err)
	}

	return self.Username, nil
}
