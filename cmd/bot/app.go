package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"hookrelay/internal/driver"
	"hookrelay/internal/driver/telegram"
	"hookrelay/internal/kernel"
	"hookrelay/internal/notify"
	"hookrelay/internal/relay"
	"hookrelay/internal/telemetry"
	"hookrelay/modules/help"
	"hookrelay/modules/pingpong"
	"hookrelay/modules/webhook"
	"hookrelay/pkg/hookrelay"
)

const (
	serviceName              = "hookrelay"
	defaultConfigFilePath    = "config/bot.json"
	alternateConfigFilePath  = "bin/config/bot.json"
	defaultDotEnvPath        = ".env"
	defaultModuleHookTimeout = 3 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultHandlerTimeout    = 30 * time.Second
	defaultRelayTimeout      = 10 * time.Second
	defaultNotifyTimeout     = 5 * time.Second
)

// envConfig carries process environment overrides. Secrets belong here rather
// than in the JSON config file.
type envConfig struct {
	ConfigFile       string `env:"HOOKRELAY_CONFIG_FILE"`
	LogLevel         string `env:"HOOKRELAY_LOG_LEVEL"`
	OTelEndpoint     string `env:"HOOKRELAY_OTEL_ENDPOINT"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAppID    int    `env:"TELEGRAM_APP_ID"`
	TelegramAppHash  string `env:"TELEGRAM_APP_HASH"`
	WebhookID        string `env:"WEBHOOK_ID"`
	WebhookToken     string `env:"WEBHOOK_TOKEN"`
}

type appConfig struct {
	logLevel     slog.Level
	otelEndpoint string

	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration
	handlerTimeout    time.Duration

	drivers []driver.Definition
	relay   relayConfig
	notify  notifyConfig
	webhook webhook.Config
}

type relayConfig struct {
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
}

type notifyConfig struct {
	credentials notify.Credentials
	apiBase     string
	linkBase    string
	username    string
	guildID     string
	timeout     time.Duration
}

type fileConfig struct {
	LogLevel string            `json:"log_level"`
	Kernel   fileKernelConfig  `json:"kernel"`
	Drivers  []fileDriverEntry `json:"drivers"`
	Relay    fileRelayConfig   `json:"relay"`
	Notify   fileNotifyConfig  `json:"notify"`
	Webhook  json.RawMessage   `json:"webhook"`
}

type fileKernelConfig struct {
	ModuleHookTimeout string `json:"module_hook_timeout"`
	ShutdownTimeout   string `json:"shutdown_timeout"`
	HandlerTimeout    string `json:"handler_timeout"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileRelayConfig struct {
	Timeout      string `json:"timeout"`
	MaxBodyBytes *int64 `json:"max_body_bytes"`
	UserAgent    string `json:"user_agent"`
}

type fileNotifyConfig struct {
	APIBase  string `json:"api_base"`
	LinkBase string `json:"link_base"`
	Username string `json:"username"`
	GuildID  string `json:"guild_id"`
	Timeout  string `json:"timeout"`
}

func run() error {
	if err := loadDotEnv(defaultDotEnvPath); err != nil {
		return err
	}

	var overrides envConfig
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.otelEndpoint)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	kernelRuntime := buildKernelRuntime(logger, cfg)

	sink, err := buildNotificationSink(logger, cfg.notify)
	if err != nil {
		return err
	}
	if err := registerRuntimeModules(kernelRuntime, logger, cfg, buildRelayClient(logger, cfg.relay), sink); err != nil {
		return err
	}

	drivers, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}
	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		return err
	}

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

// loadDotEnv loads path into the process environment when it exists.
//
// Variables already set in the environment win over the file.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

func loadConfig(registry *driver.Registry, overrides envConfig) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(overrides.ConfigFile)
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := applyEnvOverrides(&cfg, overrides); err != nil {
		return appConfig{}, fmt.Errorf("apply env overrides: %w", err)
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(configured string) (string, error) {
	if configFile := strings.TrimSpace(configured); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
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

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set HOOKRELAY_CONFIG_FILE",
		defaultConfigFilePath,
		alternateConfigFilePath,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		handlerTimeout:    defaultHandlerTimeout,

		drivers: make([]driver.Definition, 0),
		relay: relayConfig{
			timeout: defaultRelayTimeout,
		},
		notify: notifyConfig{
			timeout: defaultNotifyTimeout,
		},
		webhook: webhook.DefaultConfig(),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "kernel.module_hook_timeout", raw: parsed.Kernel.ModuleHookTimeout, target: &cfg.moduleHookTimeout},
		{field: "kernel.shutdown_timeout", raw: parsed.Kernel.ShutdownTimeout, target: &cfg.shutdownTimeout},
		{field: "kernel.handler_timeout", raw: parsed.Kernel.HandlerTimeout, target: &cfg.handlerTimeout},
		{field: "relay.timeout", raw: parsed.Relay.Timeout, target: &cfg.relay.timeout},
		{field: "notify.timeout", raw: parsed.Notify.Timeout, target: &cfg.notify.timeout},
	}
	for _, duration := range durations {
		if err := parsePositiveDuration(duration.field, duration.raw, duration.target); err != nil {
			return err
		}
	}

	if parsed.Relay.MaxBodyBytes != nil {
		if *parsed.Relay.MaxBodyBytes <= 0 {
			return fmt.Errorf("parse relay.max_body_bytes: must be > 0")
		}
		cfg.relay.maxBodyBytes = *parsed.Relay.MaxBodyBytes
	}
	cfg.relay.userAgent = strings.TrimSpace(parsed.Relay.UserAgent)

	cfg.notify.apiBase = strings.TrimSpace(parsed.Notify.APIBase)
	cfg.notify.linkBase = strings.TrimSpace(parsed.Notify.LinkBase)
	cfg.notify.username = strings.TrimSpace(parsed.Notify.Username)
	cfg.notify.guildID = strings.TrimSpace(parsed.Notify.GuildID)

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	webhookConfig, err := webhook.ParseConfig(parsed.Webhook)
	if err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	cfg.webhook = webhookConfig

	return nil
}

func parsePositiveDuration(field string, raw string, target *time.Duration) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = parsed

	return nil
}

// applyEnvOverrides layers environment values over the file config.
func applyEnvOverrides(cfg *appConfig, overrides envConfig) error {
	if rawLevel := strings.TrimSpace(overrides.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse HOOKRELAY_LOG_LEVEL: %w", err)
		}
		cfg.logLevel = level
	}
	cfg.otelEndpoint = strings.TrimSpace(overrides.OTelEndpoint)
	cfg.notify.credentials = notify.Credentials{
		ID:    strings.TrimSpace(overrides.WebhookID),
		Token: strings.TrimSpace(overrides.WebhookToken),
	}

	patch := make(map[string]any, 3)
	if token := strings.TrimSpace(overrides.TelegramBotToken); token != "" {
		patch["bot_token"] = token
	}
	if overrides.TelegramAppID > 0 {
		patch["app_id"] = overrides.TelegramAppID
	}
	if hash := strings.TrimSpace(overrides.TelegramAppHash); hash != "" {
		patch["app_hash"] = hash
	}
	if len(patch) == 0 {
		return nil
	}

	for index := range cfg.drivers {
		if cfg.drivers[index].Type != telegram.DriverType {
			continue
		}
		patched, err := patchDriverConfig(cfg.drivers[index].Config, patch)
		if err != nil {
			return fmt.Errorf("patch drivers[%s].config: %w", cfg.drivers[index].Name, err)
		}
		cfg.drivers[index].Config = patched
	}

	return nil
}

func patchDriverConfig(raw []byte, patch map[string]any) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	for key, value := range patch {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		fields[key] = encoded
	}

	patched, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	return patched, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	enabled := 0
	seenNames := make(map[string]struct{}, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seenNames[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if !registry.Supports(definition.Type) {
			return fmt.Errorf("drivers[%s].type: unsupported type %s (supported: %s)",
				definition.Name, definition.Type, strings.Join(registry.Types(), ", "))
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	credentials := cfg.notify.credentials
	if credentials.ID != "" || credentials.Token != "" {
		if err := credentials.Validate(); err != nil {
			return fmt.Errorf("notify credentials: %w", err)
		}
	}

	if err := cfg.webhook.Validate(); err != nil {
		return err
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithHandlerTimeout(cfg.handlerTimeout),
	)
}

func buildRelayClient(logger *slog.Logger, cfg relayConfig) *relay.Client {
	options := []relay.Option{
		relay.WithLogger(logger),
		relay.WithTimeout(cfg.timeout),
	}
	if cfg.maxBodyBytes > 0 {
		options = append(options, relay.WithMaxBodyBytes(cfg.maxBodyBytes))
	}
	if cfg.userAgent != "" {
		options = append(options, relay.WithUserAgent(cfg.userAgent))
	}

	return relay.New(options...)
}

// buildNotificationSink returns nil when no webhook credentials are configured.
func buildNotificationSink(logger *slog.Logger, cfg notifyConfig) (hookrelay.NotificationSink, error) {
	if cfg.credentials.ID == "" && cfg.credentials.Token == "" {
		logger.Warn("notification webhook not configured; broadcasts disabled")
		return nil, nil
	}

	options := []notify.Option{
		notify.WithLogger(logger),
		notify.WithTimeout(cfg.timeout),
	}
	if cfg.apiBase != "" {
		options = append(options, notify.WithAPIBase(cfg.apiBase))
	}
	if cfg.linkBase != "" {
		options = append(options, notify.WithLinkBase(cfg.linkBase))
	}
	if cfg.username != "" {
		options = append(options, notify.WithUsername(cfg.username))
	}
	if cfg.guildID != "" {
		options = append(options, notify.WithGuildID(cfg.guildID))
	}

	sink, err := notify.NewWebhookSink(cfg.credentials, options...)
	if err != nil {
		return nil, fmt.Errorf("build notification sink: %w", err)
	}

	return sink, nil
}

func registerRuntimeModules(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	cfg appConfig,
	relayClient hookrelay.RelayClient,
	sink hookrelay.NotificationSink,
) error {
	options := []webhook.Option{webhook.WithLogger(logger)}
	if sink != nil {
		options = append(options, webhook.WithNotificationSink(sink))
	}
	webhookModule, err := webhook.New(cfg.webhook, relayClient, options...)
	if err != nil {
		return fmt.Errorf("build webhook module: %w", err)
	}

	modules := []hookrelay.Module{
		webhookModule,
		pingpong.New(),
		help.New(kernelRuntime),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []hookrelay.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}
