package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hookrelay/pkg/hookrelay"
	"hookrelay/pkg/query"
)

// DeniedReply is sent when a caller is outside a command's allow-list.
const DeniedReply = "❌ You are not allowed to use this command."

const (
	stateReceived = "received"
	stateDeferred = "deferred"
	stateRelayed  = "relayed"
	stateReplied  = "replied"
	stateFailed   = "failed"
)

var obfuscator = strings.NewReplacer(".", "[.]", "?", "[?]", "&", "[&]")

// Obfuscate brackets the characters chat clients use to auto-link a URL.
//
// The result is for display only and never used for requests.
func Obfuscate(target string) string {
	return obfuscator.Replace(target)
}

type relayPayload struct {
	User      payloadUser       `json:"user"`
	Channel   payloadChannel    `json:"channel"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp string            `json:"timestamp"`
	Source    string            `json:"source"`
}

type payloadUser struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type payloadChannel struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	IsThread   bool   `json:"is_thread"`
	ParentID   string `json:"parent_id,omitempty"`
	ParentName string `json:"parent_name,omitempty"`
}

func (m *Module) handleRelay(ctx context.Context, command CommandConfig, call hookrelay.Call) error {
	logger := m.invocationLogger(command, call)
	logger.DebugContext(ctx, "webhook state", "state", stateReceived)

	if !callerAllowed(command, call) {
		logger.InfoContext(ctx, "webhook caller denied")
		return call.Responder.Reply(ctx, hookrelay.Reply{Text: DeniedReply, Ephemeral: true})
	}

	request, display, err := m.buildRequest(command, call)
	if err != nil {
		logger.DebugContext(ctx, "webhook state", "state", stateFailed, "error", err)
		return err
	}

	if err := call.Responder.Defer(ctx); err != nil {
		logger.WarnContext(ctx, "webhook defer failed", "error", err)
	} else {
		logger.DebugContext(ctx, "webhook state", "state", stateDeferred)
	}

	response, err := m.relay.Fetch(ctx, request)
	if err != nil {
		logger.WarnContext(ctx, "webhook relay failed", "state", stateFailed, "error", err)
		return call.Responder.Reply(ctx, hookrelay.Reply{
			Text:      "❌ Failed to send request to " + display + ": " + hookrelay.ReplyCause(err),
			Ephemeral: true,
		})
	}
	logger.DebugContext(ctx, "webhook state", "state", stateRelayed, "status_code", response.StatusCode)

	messageURL := m.broadcast(ctx, logger, command, call, display, response)
	if err := call.Responder.Reply(ctx, successReply(display, response, messageURL)); err != nil {
		return fmt.Errorf("reply %s: %w", command.Name, err)
	}
	logger.DebugContext(ctx, "webhook state", "state", stateReplied)

	return nil
}

func (m *Module) handleLink(ctx context.Context, command CommandConfig, call hookrelay.Call) error {
	if !callerAllowed(command, call) {
		m.invocationLogger(command, call).InfoContext(ctx, "webhook caller denied")
		return call.Responder.Reply(ctx, hookrelay.Reply{Text: DeniedReply, Ephemeral: true})
	}

	color := command.Color
	if color == 0 {
		color = hookrelay.ColorInfo
	}

	return call.Responder.Reply(ctx, hookrelay.Reply{
		Text: command.Link,
		Embed: &hookrelay.Embed{
			Title:       command.Title,
			Description: command.Body,
			Color:       color,
		},
	})
}

// buildRequest derives the outbound request and its display form.
func (m *Module) buildRequest(command CommandConfig, call hookrelay.Call) (hookrelay.RelayRequest, string, error) {
	target := command.URL
	if command.URLParameter != "" {
		target = call.Arguments.Value(command.URLParameter)
		if err := validateAbsoluteURL(target); err != nil {
			return hookrelay.RelayRequest{}, "", &hookrelay.ValidationError{
				Command:   command.Name,
				Parameter: command.URLParameter,
				Reason:    "must be an absolute http or https URL",
			}
		}
	}

	params := commandParams(command, call.Arguments)
	request := hookrelay.RelayRequest{
		URL:     target,
		Method:  command.Method,
		Headers: command.Headers,
	}
	if command.Method == hookrelay.MethodPost {
		body, err := json.Marshal(m.payload(command, call, params))
		if err != nil {
			return hookrelay.RelayRequest{}, "", fmt.Errorf("build %s payload: %w", command.Name, err)
		}
		request.Body = body
	} else {
		request.URL = query.Build(target, params)
	}

	display := request.URL
	if command.Obfuscate {
		display = Obfuscate(display)
	}

	return request, display, nil
}

// commandParams lists bound arguments in declaration order, splitting raw pairs.
func commandParams(command CommandConfig, arguments hookrelay.Arguments) []query.Param {
	params := make([]query.Param, 0, arguments.Len())
	for _, parameter := range command.Parameters {
		if parameter.Name == command.URLParameter {
			continue
		}
		value, ok := arguments.Get(parameter.Name)
		if !ok {
			continue
		}
		if parameter.Raw {
			params = append(params, query.ParseRaw([]string{value})...)
			continue
		}
		params = append(params, query.Param{Name: parameter.Name, Value: value})
	}

	return params
}

func (m *Module) payload(command CommandConfig, call hookrelay.Call, params []query.Param) relayPayload {
	payload := relayPayload{
		Fields:    command.Fields,
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Source:    command.Source,
	}
	if len(params) > 0 {
		payload.Arguments = make(map[string]string, len(params))
		for _, param := range params {
			payload.Arguments[param.Name] = param.Value
		}
	}
	if invocation := call.Invocation; invocation != nil {
		payload.User = payloadUser{
			ID:          invocation.Caller.ID,
			Username:    invocation.Caller.Username,
			DisplayName: invocation.Caller.DisplayName,
		}
		payload.Channel = payloadChannel{
			ID:         invocation.Channel.ID,
			Name:       invocation.Channel.Name,
			IsThread:   invocation.Channel.IsThread,
			ParentID:   invocation.Channel.ParentID,
			ParentName: invocation.Channel.ParentName,
		}
	}

	return payload
}

// broadcast posts the relay outcome and returns the message link when known.
func (m *Module) broadcast(
	ctx context.Context,
	logger *slog.Logger,
	command CommandConfig,
	call hookrelay.Call,
	display string,
	response hookrelay.RelayResponse,
) string {
	if m.sink == nil || !command.Notify {
		return ""
	}

	content := fmt.Sprintf("📡 /%s triggered by %s", command.Name, callerLabel(call))
	result, err := m.sink.Post(ctx, content, &hookrelay.Embed{
		Title:       "Sent request to: " + display,
		Description: response.BodyText,
		Color:       hookrelay.ColorSuccess,
	})
	if err != nil {
		logger.WarnContext(ctx, "webhook notification failed", "error", err)
		return ""
	}
	if result == nil {
		return ""
	}

	return result.MessageURL
}

func successReply(display string, response hookrelay.RelayResponse, messageURL string) hookrelay.Reply {
	lines := []string{"✅ Sent request to: " + display}
	if response.Message != "" {
		lines = append(lines, response.Message)
	} else {
		lines = append(lines, "📡 The workflow was triggered!")
	}
	if messageURL != "" {
		lines = append(lines, "🔗 Notification: "+messageURL)
	}

	reply := hookrelay.Reply{Text: strings.Join(lines, "\n")}
	if response.BodyText != "" {
		reply.Embed = &hookrelay.Embed{
			Title:       "Response " + response.Status,
			Description: response.BodyText,
			Color:       hookrelay.ColorSuccess,
		}
	}

	return reply
}

func callerAllowed(command CommandConfig, call hookrelay.Call) bool {
	if len(command.AllowedCallers) == 0 {
		return true
	}
	if call.Invocation == nil {
		return false
	}
	for _, allowed := range command.AllowedCallers {
		if allowed == call.Invocation.Caller.ID {
			return true
		}
	}

	return false
}

func callerLabel(call hookrelay.Call) string {
	if call.Invocation == nil {
		return "unknown"
	}
	caller := call.Invocation.Caller
	switch {
	case caller.Username != "":
		return "@" + caller.Username
	case caller.DisplayName != "":
		return caller.DisplayName
	case caller.ID != "":
		return caller.ID
	default:
		return "unknown"
	}
}

func (m *Module) invocationLogger(command CommandConfig, call hookrelay.Call) *slog.Logger {
	logger := m.logger.With("module", moduleName, "command", command.Name)
	if call.Invocation != nil {
		logger = logger.With("invocation_id", call.Invocation.ID)
	}

	return logger
}
