package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"hookrelay/pkg/hookrelay"
)

const (
	defaultOutboundTimeout = 3 * time.Second
	defaultDeferText       = "⏳ Processing…"

	// maxMessageLength is Telegram's message limit in UTF-16 code units.
	maxMessageLength = 4096
	// maxCommandDescription is Telegram's bot menu description limit.
	maxCommandDescription = 256
)

// OutboundOption mutates outbound configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithDeferText overrides the placeholder sent when a handler defers.
func WithDeferText(text string) OutboundOption {
	return func(cfg *outboundConfig) {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			cfg.deferText = trimmed
		}
	}
}

// Outbound renders replies and command menus into Telegram RPC calls.
type Outbound struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	deferText  string
}

// NewOutbound creates a Telegram outbound adapter using gotd client APIs.
func NewOutbound(client *gotdtelegram.Client, peers *PeerCache, options ...OutboundOption) (*Outbound, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound: nil client")
	}

	return newOutboundWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundWithRPC(rpc outboundRPC, peers *PeerCache, options ...OutboundOption) (*Outbound, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		deferText:  defaultDeferText,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Outbound{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
	}, nil
}

// Responder binds a reply primitive to the command message in update.
//
// Defer posts a placeholder reply that the terminal Reply later edits in place.
// Telegram has no caller-only messages, so Ephemeral replies are sent as
// ordinary replies to the command message.
func (o *Outbound) Responder(update Update) hookrelay.Responder {
	replyTo, _ := strconv.Atoi(update.Message.ID)

	return &messageResponder{
		outbound: o,
		chat:     update.Chat,
		replyTo:  replyTo,
	}
}

// SendReply renders reply and sends it to chat, optionally as a reply to replyTo.
func (o *Outbound) SendReply(ctx context.Context, chat ChatRef, replyTo int, reply hookrelay.Reply) (int, error) {
	if err := reply.Validate(); err != nil {
		return 0, fmt.Errorf("send reply validate: %w", err)
	}
	text, entities := renderReply(reply)

	return o.sendText(ctx, chat, replyTo, text, entities)
}

// EditReply replaces the message messageID in chat with the rendered reply.
func (o *Outbound) EditReply(ctx context.Context, chat ChatRef, messageID int, reply hookrelay.Reply) error {
	if err := reply.Validate(); err != nil {
		return fmt.Errorf("edit reply validate: %w", err)
	}
	if messageID <= 0 {
		return fmt.Errorf("edit reply: invalid message id %d", messageID)
	}

	peer, err := o.peers.Resolve(chat)
	if err != nil {
		return fmt.Errorf("edit reply resolve peer: %w", err)
	}

	text, entities := renderReply(reply)
	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.telegram.EditText(rpcCtx, peer, messageID, text, entities); err != nil {
		return fmt.Errorf("edit message %d: %w", messageID, mapTelegramOutboundError(OutboundOperationEditMessage, err))
	}

	o.logOutbound(ctx, OutboundOperationEditMessage, "chat", chat.ID, "message_id", messageID)

	return nil
}

// PublishCommands replaces the bot command menu with commands.
func (o *Outbound) PublishCommands(ctx context.Context, commands []hookrelay.RegisteredCommand) error {
	menu := make([]tg.BotCommand, 0, len(commands))
	for _, command := range commands {
		descriptor := command.Command
		description := strings.TrimSpace(descriptor.Description)
		if description == "" {
			description = descriptor.Usage()
		}
		menu = append(menu, tg.BotCommand{
			Command:     descriptor.Name,
			Description: clipUTF16(description, maxCommandDescription),
		})
	}

	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.telegram.SetCommands(rpcCtx, menu); err != nil {
		return fmt.Errorf("publish commands: %w", mapTelegramOutboundError(OutboundOperationSetCommands, err))
	}

	o.logOutbound(ctx, OutboundOperationSetCommands, "commands", len(menu))

	return nil
}

func (o *Outbound) sendText(
	ctx context.Context,
	chat ChatRef,
	replyTo int,
	text string,
	entities []tg.MessageEntityClass,
) (int, error) {
	peer, err := o.peers.Resolve(chat)
	if err != nil {
		return 0, fmt.Errorf("send message resolve peer: %w", err)
	}

	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	id, err := o.telegram.SendText(rpcCtx, peer, text, entities, replyTo)
	if err != nil {
		return 0, fmt.Errorf("send message to %s: %w", chat.ID, mapTelegramOutboundError(OutboundOperationSendMessage, err))
	}

	o.logOutbound(
		ctx,
		OutboundOperationSendMessage,
		"chat", chat.ID,
		"chat_type", chat.Type,
		"message_id", id,
		"reply_to_message_id", replyTo,
	)

	return id, nil
}

func (o *Outbound) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, o.cfg.rpcTimeout)
}

func (o *Outbound) logOutbound(ctx context.Context, operation OutboundOperation, attrs ...any) {
	if o.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 2+len(attrs))
	values = append(values, "operation", operation, "platform", DriverType)
	values = append(values, attrs...)
	o.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

type messageResponder struct {
	outbound *Outbound
	chat     ChatRef
	replyTo  int

	mu          sync.Mutex
	placeholder int
}

func (r *messageResponder) Defer(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.placeholder > 0 {
		return nil
	}

	id, err := r.outbound.sendText(ctx, r.chat, r.replyTo, r.outbound.cfg.deferText, nil)
	if err != nil {
		return fmt.Errorf("defer: %w", err)
	}
	r.placeholder = id

	return nil
}

// Reply edits the placeholder when one exists and falls back to a new message.
func (r *messageResponder) Reply(ctx context.Context, reply hookrelay.Reply) error {
	r.mu.Lock()
	placeholder := r.placeholder
	r.mu.Unlock()

	if placeholder > 0 {
		err := r.outbound.EditReply(ctx, r.chat, placeholder, reply)
		if err == nil {
			return nil
		}
		if logger := r.outbound.cfg.logger; logger != nil {
			logger.WarnContext(ctx, "telegram placeholder edit failed", "chat", r.chat.ID, "error", err)
		}
	}

	if _, err := r.outbound.SendReply(ctx, r.chat, r.replyTo, reply); err != nil {
		return fmt.Errorf("reply: %w", err)
	}

	return nil
}

// renderReply flattens text and embed into one message with a bold embed title.
func renderReply(reply hookrelay.Reply) (string, []tg.MessageEntityClass) {
	var builder strings.Builder
	builder.WriteString(reply.Text)

	titleStart, titleEnd := -1, -1
	if embed := reply.Embed; embed != nil && (embed.Title != "" || embed.Description != "") {
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		if embed.Title != "" {
			titleStart = utf8.RuneCountInString(builder.String())
			builder.WriteString(embed.Title)
			titleEnd = utf8.RuneCountInString(builder.String())
		}
		if embed.Description != "" {
			if embed.Title != "" {
				builder.WriteString("\n")
			}
			builder.WriteString(embed.Description)
		}
	}

	text := clipUTF16(builder.String(), maxMessageLength)
	runes := utf8.RuneCountInString(text)
	if titleStart < 0 || titleStart >= runes {
		return text, nil
	}
	if titleEnd > runes {
		titleEnd = runes
	}

	offsets := buildUTF16Offsets(text)
	return text, []tg.MessageEntityClass{
		&tg.MessageEntityBold{
			Offset: offsets[titleStart],
			Length: offsets[titleEnd] - offsets[titleStart],
		},
	}
}

// clipUTF16 cuts text to at most limit UTF-16 code units on a rune boundary.
func clipUTF16(text string, limit int) string {
	units := 0
	for index, value := range text {
		units += utf16RuneLength(value)
		if units > limit {
			return text[:index]
		}
	}

	return text
}

func buildUTF16Offsets(text string) []int {
	offsets := make([]int, 1, len(text)+1)
	current := 0
	for _, value := range text {
		current += utf16RuneLength(value)
		offsets = append(offsets, current)
	}

	return offsets
}

func utf16RuneLength(value rune) int {
	if value >= 0x10000 && value <= 0x10FFFF {
		return 2
	}

	return 1
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text string, entities []tg.MessageEntityClass, replyTo int) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, text string, entities []tg.MessageEntityClass) error
	SetCommands(ctx context.Context, commands []tg.BotCommand) error
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:  client.API(),
		rand: crypto.DefaultRand(),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	text string,
	entities []tg.MessageEntityClass,
	replyTo int,
) (int, error) {
	request := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   text,
		NoWebpage: true,
		Entities:  entities,
	}
	if replyTo > 0 {
		request.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	request.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	text string,
	entities []tg.MessageEntityClass,
) error {
	_, err := r.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        messageID,
		Message:   text,
		NoWebpage: true,
		Entities:  entities,
	})
	if err != nil {
		return fmt.Errorf("edit text: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SetCommands(ctx context.Context, commands []tg.BotCommand) error {
	if _, err := r.raw.BotsSetBotCommands(ctx, &tg.BotsSetBotCommandsRequest{
		Scope:    &tg.BotCommandScopeDefault{},
		Commands: commands,
	}); err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}

	return nil
}
