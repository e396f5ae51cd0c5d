package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookrelay/pkg/hookrelay"
)

// ParsedCommand is one command line split into its name and raw tokens.
type ParsedCommand struct {
	// Name is the normalized command name without '/' or bot mention.
	Name string
	// Mention is the lowercased bot username after '@', when present.
	Mention string
	// Tokens are the unquoted argument tokens in order.
	Tokens []string
}

// ParseCommandText splits `/<name>[@bot] key=value key2="two words"` into tokens.
//
// Double quotes group whitespace and may appear mid-token; a backslash escapes
// the next character inside quotes. Text not starting with '/' is not a command.
func ParseCommandText(text string) (ParsedCommand, bool, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return ParsedCommand{}, false, nil
	}

	tokens, err := splitTokens(trimmed[1:])
	if err != nil {
		return ParsedCommand{}, true, err
	}
	if len(tokens) == 0 {
		return ParsedCommand{}, false, nil
	}

	head, mention, _ := strings.Cut(tokens[0], "@")
	name := hookrelay.NormalizeCommandName(head)
	if name == "" {
		return ParsedCommand{}, false, nil
	}

	return ParsedCommand{
		Name:    name,
		Mention: strings.ToLower(strings.TrimSpace(mention)),
		Tokens:  tokens[1:],
	}, true, nil
}

func splitTokens(input string) ([]string, error) {
	tokens := make([]string, 0, 4)
	var current strings.Builder
	inToken := false
	inQuotes := false
	escaped := false

	for _, char := range input {
		switch {
		case escaped:
			current.WriteRune(char)
			escaped = false
		case inQuotes && char == '\\':
			escaped = true
		case char == '"':
			inQuotes = !inQuotes
			inToken = true
		case !inQuotes && (char == ' ' || char == '\t' || char == '\n' || char == '\r'):
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(char)
			inToken = true
		}
	}
	if inQuotes || escaped {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inToken {
		tokens = append(tokens, current.String())
	}

	return tokens, nil
}

// CommandDecoder turns command messages into invocations.
//
// Descriptors drive positional binding: a bare token fills the next declared
// parameter that has not been set by name.
type CommandDecoder struct {
	descriptors map[string]hookrelay.CommandDescriptor
	botUsername string
	newID       func() string
}

// NewCommandDecoder creates a decoder for the registered commands.
//
// An empty botUsername accepts commands addressed to any bot.
func NewCommandDecoder(commands []hookrelay.RegisteredCommand, botUsername string) *CommandDecoder {
	descriptors := make(map[string]hookrelay.CommandDescriptor, len(commands))
	for _, command := range commands {
		descriptor := hookrelay.CloneDescriptor(command.Command)
		descriptors[descriptor.Name] = descriptor
	}

	return &CommandDecoder{
		descriptors: descriptors,
		botUsername: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(botUsername), "@")),
		newID:       uuid.NewString,
	}
}

// Decode maps one update into an invocation.
//
// Non-command messages and commands addressed to another bot yield nil. A
// malformed argument list of a registered command yields a
// *hookrelay.ValidationError. Arguments of unregistered commands are not
// interpreted: the invocation carries only the name so the dispatcher can log
// it without replying.
func (d *CommandDecoder) Decode(update Update) (*hookrelay.Invocation, error) {
	parsed, matched, err := ParseCommandText(update.Message.Text)
	if !matched {
		return nil, nil
	}
	if err != nil {
		name, mention := commandHead(update.Message.Text)
		if name == "" || !d.addressedToUs(mention) {
			return nil, nil
		}
		if _, known := d.descriptors[name]; !known {
			return d.invocation(update, name, nil), nil
		}

		return nil, &hookrelay.ValidationError{Command: name, Reason: err.Error()}
	}
	if !d.addressedToUs(parsed.Mention) {
		return nil, nil
	}
	if _, known := d.descriptors[parsed.Name]; !known {
		return d.invocation(update, parsed.Name, nil), nil
	}

	raw, err := d.bindTokens(parsed)
	if err != nil {
		return nil, err
	}

	return d.invocation(update, parsed.Name, raw), nil
}

func (d *CommandDecoder) addressedToUs(mention string) bool {
	return mention == "" || d.botUsername == "" || mention == d.botUsername
}

func (d *CommandDecoder) invocation(update Update, name string, raw map[string]string) *hookrelay.Invocation {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &hookrelay.Invocation{
		ID:           d.newID(),
		CommandName:  name,
		RawArguments: raw,
		Caller: hookrelay.Caller{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
		},
		Channel:    channelFromUpdate(update),
		OccurredAt: occurredAt,
	}
}

// commandHead extracts the name and mention of a command line whose arguments
// could not be tokenized.
func commandHead(text string) (string, string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "/"))
	if len(fields) == 0 {
		return "", ""
	}
	head, mention, _ := strings.Cut(fields[0], "@")
	if strings.ContainsRune(head, '"') {
		return "", ""
	}

	return hookrelay.NormalizeCommandName(head), strings.ToLower(strings.TrimSpace(mention))
}

func (d *CommandDecoder) bindTokens(parsed ParsedCommand) (map[string]string, error) {
	raw := make(map[string]string, len(parsed.Tokens))
	descriptor := d.descriptors[parsed.Name]
	declared := make(map[string]struct{}, len(descriptor.Parameters))
	for _, parameter := range descriptor.Parameters {
		declared[parameter.Name] = struct{}{}
	}

	positional := make([]string, 0, len(parsed.Tokens))
	for _, token := range parsed.Tokens {
		key, value, hasValue := strings.Cut(token, "=")
		key = hookrelay.NormalizeCommandName(key)
		_, isDeclared := declared[key]
		if hasValue && key != "" && isDeclared {
			raw[key] = value
			continue
		}
		positional = append(positional, token)
	}

	for _, value := range positional {
		slot := ""
		for _, parameter := range descriptor.Parameters {
			if _, taken := raw[parameter.Name]; !taken {
				slot = parameter.Name
				break
			}
		}
		if slot == "" {
			return nil, &hookrelay.ValidationError{
				Command: parsed.Name,
				Reason:  fmt.Sprintf("unexpected argument %q", value),
			}
		}
		raw[slot] = value
	}

	return raw, nil
}

func channelFromUpdate(update Update) hookrelay.Channel {
	channel := hookrelay.Channel{
		ID:     update.Chat.ID,
		Name:   update.Chat.Title,
		Type:   update.Chat.Type,
		Handle: update.Chat,
	}
	if update.Message.ThreadID != "" {
		channel.ID = update.Chat.ID + "/" + update.Message.ThreadID
		channel.IsThread = true
		channel.ParentID = update.Chat.ID
		channel.ParentName = update.Chat.Title
	}

	return channel
}
