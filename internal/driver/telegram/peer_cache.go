package telegram

import (
	"fmt"
	"strconv"

	"github.com/gotd/td/tg"
	lru "github.com/hashicorp/golang-lru"

	"hookrelay/pkg/hookrelay"
)

// DefaultPeerCacheSize bounds remembered reply targets when no size is configured.
const DefaultPeerCacheSize = 4096

// PeerCache maps invoking chats to the input peers replies are sent to.
//
// Entries come from the users and chats attached to inbound updates, so any
// chat that just issued a command is resolvable. The least recently used
// chats are evicted once capacity is reached.
type PeerCache struct {
	entries *lru.Cache
}

// NewPeerCache creates a peer cache holding at most capacity chat keys.
// A non-positive capacity selects DefaultPeerCacheSize.
func NewPeerCache(capacity int) (*PeerCache, error) {
	if capacity <= 0 {
		capacity = DefaultPeerCacheSize
	}

	entries, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("new peer cache: %w", err)
	}

	return &PeerCache{entries: entries}, nil
}

// RememberEnvelope records every user and chat peer carried by envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		if peer := user.AsInputPeer(); peer != nil {
			c.store(ChatRef{ID: strconv.FormatInt(userID, 10), Type: hookrelay.ChannelTypePrivate}, peer)
		}
	}
	for chatID, chat := range envelope.chatsByID {
		if chat.inputPeer != nil {
			c.store(ChatRef{ID: strconv.FormatInt(chatID, 10), Type: chat.kind}, chat.inputPeer)
		}
	}
}

// RememberConversation records one explicit chat-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" {
		return
	}

	c.store(chat, peer)
}

func (c *PeerCache) store(chat ChatRef, peer tg.InputPeerClass) {
	c.entries.Add(chatKey(chat.Type, chat.ID), cloneInputPeer(peer))

	// Supergroups are typed as groups but address RPCs through channel peers.
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel && chat.Type == hookrelay.ChannelTypeGroup {
		c.entries.Add(chatKey(hookrelay.ChannelTypeChannel, chat.ID), cloneInputPeer(peer))
	}
}

// Resolve returns a private copy of the input peer for chat.
func (c *PeerCache) Resolve(chat ChatRef) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if chat.ID == "" || chat.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid chat")
	}

	keys := []string{chatKey(chat.Type, chat.ID)}
	switch chat.Type {
	case hookrelay.ChannelTypeGroup:
		keys = append(keys, chatKey(hookrelay.ChannelTypeChannel, chat.ID))
	case hookrelay.ChannelTypeChannel:
		keys = append(keys, chatKey(hookrelay.ChannelTypeGroup, chat.ID))
	}
	for _, key := range keys {
		if cached, ok := c.entries.Get(key); ok {
			if peer, ok := cached.(tg.InputPeerClass); ok {
				return cloneInputPeer(peer), nil
			}
		}
	}

	return nil, fmt.Errorf("resolve peer: chat %s/%s not found", chat.Type, chat.ID)
}

// Len reports the number of cached chat keys.
func (c *PeerCache) Len() int {
	if c == nil {
		return 0
	}

	return c.entries.Len()
}

func chatKey(channelType hookrelay.ChannelType, id string) string {
	return string(channelType) + ":" + id
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		clone := *typed
		return &clone
	case *tg.InputPeerChat:
		clone := *typed
		return &clone
	case *tg.InputPeerChannel:
		clone := *typed
		return &clone
	default:
		return peer
	}
}
