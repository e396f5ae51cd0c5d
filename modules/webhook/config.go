package webhook

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"hookrelay/pkg/hookrelay"
)

// CommandKind selects how one configured command answers.
type CommandKind string

const (
	// CommandKindRelay forwards the invocation to a workflow backend.
	CommandKindRelay CommandKind = "relay"
	// CommandKindLink answers with a static card pointing at an external page.
	CommandKindLink CommandKind = "link"
)

const (
	// TestCommandName is the built-in ad hoc relay command.
	TestCommandName = "test"

	defaultReadyMessage = "Bot Testing Ready"
)

// Config configures the webhook module.
type Config struct {
	// ReadyMessage is posted to the notification sink on start. Empty disables it.
	ReadyMessage string
	// Commands declares every command served by the module.
	Commands []CommandConfig
}

// CommandConfig declares one command backed by a workflow endpoint or a static link.
type CommandConfig struct {
	// Name is the command name without prefix.
	Name string
	// Description is shown in help and platform command menus.
	Description string
	// Kind selects relay or link behavior.
	Kind CommandKind
	// Method is GET or POST for relay commands.
	Method hookrelay.Method
	// URL is the fixed backend URL. Empty when URLParameter supplies it.
	URL string
	// URLParameter names the argument carrying the target URL.
	URLParameter string
	// Parameters declares accepted arguments in order.
	Parameters []ParameterConfig
	// Fields are static values merged into POST bodies.
	Fields map[string]string
	// Headers are extra request headers.
	Headers map[string]string
	// Source labels POST bodies for the backend.
	Source string
	// Obfuscate brackets '.', '?', and '&' when the URL is echoed back.
	Obfuscate bool
	// Notify posts a broadcast to the notification sink after a successful relay.
	Notify bool
	// AllowedCallers restricts invocation to these caller ids when non-empty.
	AllowedCallers []string
	// CooldownSeconds is advisory metadata shown in help.
	CooldownSeconds int
	// Title is the link card heading.
	Title string
	// Body is the link card text.
	Body string
	// Link is the link card target.
	Link string
	// Color is the link card accent color.
	Color int
}

// ParameterConfig declares one command argument.
type ParameterConfig struct {
	// Name is the argument key.
	Name string
	// Description is shown in help.
	Description string
	// Required rejects invocations that omit the argument.
	Required bool
	// Choices restricts accepted values.
	Choices []string
	// Raw marks values of the form "key=value" that are split before use.
	Raw bool
}

type fileConfig struct {
	ReadyMessage *string             `json:"ready_message"`
	Commands     []fileCommandConfig `json:"commands"`
}

type fileCommandConfig struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Kind            string                `json:"kind"`
	Method          string                `json:"method"`
	URL             string                `json:"url"`
	URLParameter    string                `json:"url_parameter"`
	Parameters      []fileParameterConfig `json:"parameters"`
	Fields          map[string]string     `json:"fields"`
	Headers         map[string]string     `json:"headers"`
	Source          string                `json:"source"`
	Obfuscate       bool                  `json:"obfuscate"`
	Notify          *bool                 `json:"notify"`
	AllowedCallers  []string              `json:"allowed_callers"`
	CooldownSeconds int                   `json:"cooldown_seconds"`
	Title           string                `json:"title"`
	Body            string                `json:"body"`
	Link            string                `json:"link"`
	Color           int                   `json:"color"`
}

type fileParameterConfig struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Choices     []string `json:"choices"`
	Raw         bool     `json:"raw"`
}

// ParseConfig decodes and validates module configuration from raw JSON.
//
// An empty document yields DefaultConfig.
func ParseConfig(raw json.RawMessage) (Config, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return DefaultConfig(), nil
	}

	var parsed fileConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse webhook config: %w", err)
	}

	cfg := Config{
		ReadyMessage: defaultReadyMessage,
		Commands:     make([]CommandConfig, 0, len(parsed.Commands)),
	}
	if parsed.ReadyMessage != nil {
		cfg.ReadyMessage = strings.TrimSpace(*parsed.ReadyMessage)
	}
	for index, rawCommand := range parsed.Commands {
		command, err := parseCommandConfig(rawCommand)
		if err != nil {
			return Config{}, fmt.Errorf("parse webhook config commands[%d]: %w", index, err)
		}
		cfg.Commands = append(cfg.Commands, command)
	}
	if len(cfg.Commands) == 0 {
		cfg.Commands = DefaultConfig().Commands
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultConfig returns a configuration serving only the built-in test command.
func DefaultConfig() Config {
	return Config{
		ReadyMessage: defaultReadyMessage,
		Commands:     []CommandConfig{TestCommand()},
	}
}

// TestCommand declares the built-in ad hoc relay command.
//
// The target URL comes from the url argument and param1..param3 carry raw
// key=value query pairs.
func TestCommand() CommandConfig {
	return CommandConfig{
		Name:         TestCommandName,
		Description:  "Send a request to a webhook URL",
		Kind:         CommandKindRelay,
		Method:       hookrelay.MethodGet,
		URLParameter: "url",
		Parameters: []ParameterConfig{
			{Name: "url", Description: "target webhook URL", Required: true},
			{Name: "param1", Description: "query pair key=value", Raw: true},
			{Name: "param2", Description: "query pair key=value", Raw: true},
			{Name: "param3", Description: "query pair key=value", Raw: true},
		},
		Source:          TestCommandName,
		Obfuscate:       true,
		Notify:          true,
		CooldownSeconds: 3,
	}
}

// Validate checks module config coherence.
func (cfg Config) Validate() error {
	if len(cfg.Commands) == 0 {
		return fmt.Errorf("validate webhook config: at least one command is required")
	}

	seen := make(map[string]struct{}, len(cfg.Commands))
	for index, command := range cfg.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("validate webhook config commands[%d]: %w", index, err)
		}
		name := hookrelay.NormalizeCommandName(command.Name)
		if _, exists := seen[name]; exists {
			return fmt.Errorf("validate webhook config: duplicate command name %q: %w", command.Name, hookrelay.ErrCommandAlreadyRegistered)
		}
		seen[name] = struct{}{}
	}

	return nil
}

// Validate checks one command definition.
func (c CommandConfig) Validate() error {
	if err := c.Descriptor().Validate(); err != nil {
		return err
	}

	switch c.Kind {
	case CommandKindRelay:
		return c.validateRelay()
	case CommandKindLink:
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("command %s: link card requires title", c.Name)
		}
		if err := validateAbsoluteURL(c.Link); err != nil {
			return fmt.Errorf("command %s: link: %w", c.Name, err)
		}
		return nil
	default:
		return fmt.Errorf("command %s: unsupported kind %q", c.Name, c.Kind)
	}
}

func (c CommandConfig) validateRelay() error {
	if _, err := hookrelay.ParseMethod(string(c.Method)); err != nil {
		return fmt.Errorf("command %s: %w", c.Name, err)
	}

	urlParameter := hookrelay.NormalizeCommandName(c.URLParameter)
	if urlParameter == "" {
		if err := validateAbsoluteURL(c.URL); err != nil {
			return fmt.Errorf("command %s: url: %w", c.Name, err)
		}
		return nil
	}
	if strings.TrimSpace(c.URL) != "" {
		return fmt.Errorf("command %s: url and url_parameter are mutually exclusive", c.Name)
	}
	for _, parameter := range c.Parameters {
		if hookrelay.NormalizeCommandName(parameter.Name) != urlParameter {
			continue
		}
		if !parameter.Required || parameter.Raw {
			return fmt.Errorf("command %s: url parameter %s must be required and not raw", c.Name, urlParameter)
		}
		return nil
	}

	return fmt.Errorf("command %s: url parameter %s is not declared", c.Name, urlParameter)
}

// Descriptor derives the registry descriptor for this command.
func (c CommandConfig) Descriptor() hookrelay.CommandDescriptor {
	parameters := make([]hookrelay.ParameterSpec, 0, len(c.Parameters))
	for _, parameter := range c.Parameters {
		parameters = append(parameters, hookrelay.ParameterSpec{
			Name:        parameter.Name,
			Kind:        hookrelay.ParameterKindString,
			Required:    parameter.Required,
			Description: parameter.Description,
			Choices:     append([]string(nil), parameter.Choices...),
		})
	}

	return hookrelay.CommandDescriptor{
		Name:            c.Name,
		Description:     c.Description,
		Parameters:      parameters,
		CooldownSeconds: c.CooldownSeconds,
	}
}

func parseCommandConfig(raw fileCommandConfig) (CommandConfig, error) {
	kind := CommandKind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	if kind == "" {
		kind = CommandKindRelay
	}
	method, err := hookrelay.ParseMethod(raw.Method)
	if err != nil {
		return CommandConfig{}, err
	}
	notify := true
	if raw.Notify != nil {
		notify = *raw.Notify
	}

	command := CommandConfig{
		Name:            hookrelay.NormalizeCommandName(raw.Name),
		Description:     strings.TrimSpace(raw.Description),
		Kind:            kind,
		Method:          method,
		URL:             strings.TrimSpace(raw.URL),
		URLParameter:    hookrelay.NormalizeCommandName(raw.URLParameter),
		Fields:          cloneStringMap(raw.Fields),
		Headers:         cloneStringMap(raw.Headers),
		Source:          strings.TrimSpace(raw.Source),
		Obfuscate:       raw.Obfuscate,
		Notify:          notify,
		AllowedCallers:  trimAll(raw.AllowedCallers),
		CooldownSeconds: raw.CooldownSeconds,
		Title:           strings.TrimSpace(raw.Title),
		Body:            raw.Body,
		Link:            strings.TrimSpace(raw.Link),
		Color:           raw.Color,
	}
	if command.Source == "" {
		command.Source = command.Name
	}
	for _, parameter := range raw.Parameters {
		command.Parameters = append(command.Parameters, ParameterConfig{
			Name:        hookrelay.NormalizeCommandName(parameter.Name),
			Description: strings.TrimSpace(parameter.Description),
			Required:    parameter.Required,
			Choices:     trimAll(parameter.Choices),
			Raw:         parameter.Raw,
		})
	}

	return command, nil
}

func validateAbsoluteURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid url: scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid url: missing host")
	}

	return nil
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(values))
	for key, value := range values {
		cloned[key] = value
	}

	return cloned
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			trimmed = append(trimmed, value)
		}
	}

	return trimmed
}
