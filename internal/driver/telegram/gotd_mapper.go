package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"hookrelay/pkg/hookrelay"
)

const unknownPeerID = "unknown"

// GotdUpdateMapper turns raw gotd updates into command candidates.
type GotdUpdateMapper interface {
	// Map reports accepted=false for updates that cannot carry a command.
	Map(ctx context.Context, raw any) (Update, bool, error)
}

// DefaultGotdUpdateMapper accepts incoming text messages that start with '/'.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
}

// GotdUpdateMapperOption configures DefaultGotdUpdateMapper.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache makes the mapper record reply peers for every update it sees.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the command message mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts raw into an Update when it is an incoming command message.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}

	envelope, err := toEnvelope(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}
	m.peerCache.RememberEnvelope(envelope)

	message, ok := commandMessage(envelope.update)
	if !ok {
		return Update{}, false, nil
	}

	update := envelope.commandUpdate(message)
	m.peerCache.RememberConversation(update.Chat, envelope.inputPeer(message.PeerID))

	return update, true, nil
}

func toEnvelope(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

// commandMessage extracts an incoming text message whose first character is '/'.
func commandMessage(update tg.UpdateClass) (*tg.Message, bool) {
	var class tg.MessageClass
	switch typed := update.(type) {
	case *tg.UpdateNewMessage:
		class = typed.Message
	case *tg.UpdateNewChannelMessage:
		class = typed.Message
	default:
		return nil, false
	}

	message, ok := class.(*tg.Message)
	if !ok || message == nil || message.Out {
		return nil, false
	}

	return message, strings.HasPrefix(strings.TrimSpace(message.Message), "/")
}

func (e gotdUpdateEnvelope) commandUpdate(message *tg.Message) Update {
	chat := e.chatRef(message.PeerID)
	actor := e.actorRef(message.FromID)
	if actor.ID == unknownPeerID {
		// Private chats omit from_id; the peer is the sender.
		actor = e.actorRef(message.PeerID)
	}

	payload := MessagePayload{ID: strconv.Itoa(message.ID), Text: message.Message}
	payload.ReplyToID, payload.ThreadID = replyAnchors(message)

	occurredAt := intToTimeUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = e.occurredAt
	}

	return Update{
		ID:         composeUpdateID(chat.ID, payload.ID),
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
	}
}

// replyAnchors returns the replied-to message id and, inside forum topics, the topic id.
func replyAnchors(message *tg.Message) (replyTo string, thread string) {
	class, ok := message.GetReplyTo()
	if !ok {
		return "", ""
	}
	header, ok := class.(*tg.MessageReplyHeader)
	if !ok {
		return "", ""
	}

	if id, ok := header.GetReplyToMsgID(); ok {
		replyTo = strconv.Itoa(id)
	}
	if !header.ForumTopic {
		return replyTo, ""
	}
	if top, ok := header.GetReplyToTopID(); ok {
		return replyTo, strconv.Itoa(top)
	}

	return replyTo, replyTo
}

func (e gotdUpdateEnvelope) chatRef(peer tg.PeerClass) ChatRef {
	var (
		id       int64
		fallback hookrelay.ChannelType
	)
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := e.userRef(typed.UserID)
		return ChatRef{ID: actor.ID, Title: actor.DisplayName, Type: hookrelay.ChannelTypePrivate}
	case *tg.PeerChat:
		id, fallback = typed.ChatID, hookrelay.ChannelTypeGroup
	case *tg.PeerChannel:
		id, fallback = typed.ChannelID, hookrelay.ChannelTypeChannel
	default:
		return ChatRef{ID: unknownPeerID, Type: hookrelay.ChannelTypePrivate}
	}

	chat := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := e.chatsByID[id]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func (e gotdUpdateEnvelope) actorRef(peer tg.PeerClass) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return e.userRef(typed.UserID)
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: e.chatsByID[typed.ChatID].title}
	case *tg.PeerChannel:
		// Anonymous admins and linked channels post as the channel itself.
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: e.chatsByID[typed.ChannelID].title}
	default:
		return ActorRef{ID: unknownPeerID}
	}
}

func (e gotdUpdateEnvelope) userRef(userID int64) ActorRef {
	if userID == 0 {
		return ActorRef{ID: unknownPeerID}
	}

	actor := ActorRef{ID: strconv.FormatInt(userID, 10)}
	user := e.usersByID[userID]
	if user == nil {
		return actor
	}

	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()
	actor.Username, _ = user.GetUsername()
	actor.IsBot = user.Bot
	switch displayName := strings.TrimSpace(firstName + " " + lastName); {
	case displayName != "":
		actor.DisplayName = displayName
	case actor.Username != "":
		actor.DisplayName = actor.Username
	default:
		actor.DisplayName = actor.ID
	}

	return actor
}

func (e gotdUpdateEnvelope) inputPeer(peer tg.PeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user := e.usersByID[typed.UserID]; user != nil {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if info, ok := e.chatsByID[typed.ChannelID]; ok && info.inputPeer != nil {
			return cloneInputPeer(info.inputPeer)
		}
	}

	return nil
}

func composeUpdateID(chatID string, messageID string) string {
	return "tg:" + chatID + ":" + messageID
}
