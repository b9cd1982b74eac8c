package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrUserConnLimit   = errors.New("user connection limit reached")
	ErrServerConnLimit = errors.New("server connection limit reached")
)

// ChatHub maps each user to their live websocket sessions on this instance. Events are
// addressed to users, never to sessions, so every device of a participant (including
// the sender's other devices) receives them.
type ChatHub struct {
	mu         sync.RWMutex
	userConns  map[uint]map[*Client]struct{}
	totalConns int

	presence *PresenceTracker
}

// Name returns a human-readable identifier for this hub.
func (h *ChatHub) Name() string { return "chat hub" }

// NewChatHub creates a ChatHub. A nil presence tracker keeps presence local.
func NewChatHub(presence *PresenceTracker) *ChatHub {
	if presence == nil {
		presence = NewPresenceTracker(nil, PresenceConfig{})
	}
	return &ChatHub{
		userConns: make(map[uint]map[*Client]struct{}),
		presence:  presence,
	}
}

// Presence returns the hub's presence tracker.
func (h *ChatHub) Presence() *PresenceTracker { return h.presence }

// Register registers a user's websocket session and greets it with a connected frame.
func (h *ChatHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerConnLimit
	}
	clients := h.userConns[userID]
	if clients == nil {
		clients = make(map[*Client]struct{})
		h.userConns[userID] = clients
	}
	if len(clients) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrUserConnLimit
	}

	client := NewClient(h, conn, userID)
	client.OnActivity = func(uid uint) {
		h.presence.Touch(context.Background(), uid)
	}
	clients[client] = struct{}{}
	h.totalConns++
	sessions := len(clients)
	h.mu.Unlock()

	h.presence.Register(context.Background(), userID)
	log.Printf("ChatHub: Registered user %d session %s (Active sessions: %d)", userID, client.SessionID, sessions)

	hello := ChatMessage{
		Type:    EventConnected,
		UserID:  userID,
		Payload: map[string]interface{}{"session_id": client.SessionID, "user_id": userID},
	}
	if data, err := json.Marshal(hello); err == nil {
		client.TrySend(data)
	}
	return client, nil
}

// UnregisterClient removes one session. It is safe to call more than once.
func (h *ChatHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.userConns[client.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[client]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	h.totalConns--
	remaining := len(clients)
	if remaining == 0 {
		delete(h.userConns, client.UserID)
	}
	close(client.Send)
	h.mu.Unlock()

	h.presence.Unregister(context.Background(), client.UserID)
	log.Printf("ChatHub: Unregistered user %d session %s (Remaining sessions: %d)", client.UserID, client.SessionID, remaining)
}

// IsUserOnline reports whether the user has a session on this instance.
func (h *ChatHub) IsUserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID]) > 0
}

// SessionCount returns the number of sessions on this instance.
func (h *ChatHub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// DeliverToUsers queues data on every local session of every listed user and returns
// how many sessions accepted it.
func (h *ChatHub) DeliverToUsers(userIDs []uint, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, userID := range userIDs {
		for client := range h.userConns[userID] {
			if client.TrySend(data) {
				delivered++
			}
		}
	}
	return delivered
}

// Deliver marshals message and delivers it to its participants.
func (h *ChatHub) Deliver(message ChatMessage, userIDs []uint) int {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("ChatHub: Failed to marshal %s event: %v", message.Type, err)
		return 0
	}
	return h.DeliverToUsers(userIDs, data)
}

// StartWiring subscribes the hub to the Redis channels the dispatcher publishes on.
// Conversation events go to the participants named in the envelope; private events go
// to the user in the channel name.
func (h *ChatHub) StartWiring(ctx context.Context, n *Notifier) error {
	onMessage := func(channel, payload string) {
		prefix, id, ok := ParseChannel(channel)
		if !ok {
			log.Printf("ChatHub: Invalid channel format: %s", channel)
			return
		}
		if prefix == userChannelPrefix {
			h.DeliverToUsers([]uint{id}, []byte(payload))
			return
		}

		var envelope struct {
			ParticipantIDs []uint `json:"participant_ids"`
		}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			log.Printf("ChatHub: Failed to parse message from channel %s: %v", channel, err)
			return
		}
		h.DeliverToUsers(envelope.ParticipantIDs, []byte(payload))
	}

	if err := n.StartChatSubscriber(ctx, onMessage); err != nil {
		return err
	}
	return n.StartUserSubscriber(ctx, onMessage)
}

// Shutdown tells every session the server is going away and closes it.
func (h *ChatHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.userConns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				log.Printf("failed to write close message for user %d: %v", userID, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %d: %v", userID, err)
			}
		}
	}
	h.userConns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
