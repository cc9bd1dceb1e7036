package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"memoria/pkg/memoria"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound dispatch uses it to turn memoria conversations back into peers.
type PeerCache struct {
	mu             sync.RWMutex
	byConversation map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{byConversation: make(map[string]tg.InputPeerClass)}
}

// RememberEnvelope ingests entity data attached to one gotd update envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		peer := user.AsInputPeer()
		if peer == nil {
			continue
		}
		c.rememberLocked(memoria.ConversationTypePrivate, strconv.FormatInt(userID, 10), peer)
	}
	for id, chat := range envelope.chatsByID {
		if chat.inputPeer == nil {
			continue
		}
		c.rememberLocked(chat.kind, strconv.FormatInt(id, 10), chat.inputPeer)
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(chat.Type, chat.ID, peer)
}

// Resolve returns an input peer for an outbound target conversation.
func (c *PeerCache) Resolve(conversation memoria.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("%w: resolve peer: invalid conversation", memoria.ErrInvalidOutboundRequest)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if peer, ok := c.byConversation[conversationKey(conversation.Type, conversation.ID)]; ok {
		return cloneInputPeer(peer), nil
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not found", conversation.Type, conversation.ID)
}

// rememberLocked also files supergroups under the group key since they are
// reported as groups but addressed through channel peers.
func (c *PeerCache) rememberLocked(kind memoria.ConversationType, id string, peer tg.InputPeerClass) {
	c.byConversation[conversationKey(kind, id)] = cloneInputPeer(peer)
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel && kind == memoria.ConversationTypeGroup {
		c.byConversation[conversationKey(memoria.ConversationTypeChannel, id)] = cloneInputPeer(peer)
	}
}

func conversationKey(conversationType memoria.ConversationType, id string) string {
	return string(conversationType) + ":" + id
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
