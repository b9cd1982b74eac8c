package notifications

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"parley/internal/models"
	"parley/internal/observability"
)

const (
	defaultDispatchQueueSize = 1024
	publishTimeout           = 5 * time.Second
)

// PushHandoff receives events for participants who are not connected anywhere.
type PushHandoff interface {
	Offline(ctx context.Context, userIDs []uint, event ChatMessage)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	QueueSize int
	Push      PushHandoff
}

// dispatchJob is one event. recipients receive the frame from the local hub when Redis
// is off; pushTo are handed to PushHandoff when they are offline.
type dispatchJob struct {
	ctx        context.Context
	channel    string
	event      ChatMessage
	recipients []uint
	pushTo     []uint
}

// Dispatcher turns committed messaging changes into websocket frames. A single worker
// drains a bounded queue so events are published in the order they were enqueued.
type Dispatcher struct {
	hub      *ChatHub
	notifier *Notifier
	push     PushHandoff

	mu     sync.RWMutex
	closed bool
	queue  chan dispatchJob
	done   chan struct{}
}

// NewDispatcher starts a dispatcher worker. notifier may be nil for single-instance
// deployments.
func NewDispatcher(hub *ChatHub, notifier *Notifier, cfg DispatcherConfig) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultDispatchQueueSize
	}
	d := &Dispatcher{
		hub:      hub,
		notifier: notifier,
		push:     cfg.Push,
		queue:    make(chan dispatchJob, size),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for job := range d.queue {
		observability.DispatchQueueDepth.Dec()
		d.publish(job)
	}
}

// Close stops accepting queued work and waits for the worker to drain. Later events
// are published inline.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

// enqueue hands job to the worker. A full queue blocks the caller until there is room,
// which keeps ordering intact under load.
func (d *Dispatcher) enqueue(job dispatchJob) {
	job.ctx = context.WithoutCancel(job.ctx)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		observability.DispatchFallbacks.WithLabelValues("closed").Inc()
		d.publish(job)
		return
	}
	select {
	case d.queue <- job:
		observability.DispatchQueueDepth.Inc()
		d.mu.RUnlock()
		return
	default:
	}
	observability.DispatchFallbacks.WithLabelValues("full").Inc()
	d.queue <- job
	observability.DispatchQueueDepth.Inc()
	d.mu.RUnlock()
}

func (d *Dispatcher) publish(job dispatchJob) {
	defer func() {
		if r := recover(); r != nil {
			observability.DispatchErrors.WithLabelValues("panic").Inc()
			log.Printf("PANIC in Dispatcher (%s): %v", job.event.Type, r)
		}
	}()

	data, err := json.Marshal(job.event)
	if err != nil {
		observability.DispatchErrors.WithLabelValues("marshal").Inc()
		log.Printf("Dispatcher: Failed to marshal %s event: %v", job.event.Type, err)
		return
	}

	delivered := false
	if d.notifier.Enabled() {
		ctx, cancel := context.WithTimeout(job.ctx, publishTimeout)
		err := d.notifier.publish(ctx, job.channel, string(data))
		cancel()
		if err == nil {
			delivered = true
		} else {
			observability.DispatchErrors.WithLabelValues("publish").Inc()
			log.Printf("Dispatcher: Redis publish failed, delivering locally: %v", err)
		}
	}
	if !delivered && d.hub != nil {
		d.hub.DeliverToUsers(job.recipients, data)
	}

	d.handOff(job)
}

func (d *Dispatcher) handOff(job dispatchJob) {
	if d.push == nil || len(job.pushTo) == 0 || d.hub == nil {
		return
	}
	offline := make([]uint, 0, len(job.pushTo))
	for _, id := range job.pushTo {
		if !d.hub.presence.IsOnline(job.ctx, id) {
			offline = append(offline, id)
		}
	}
	if len(offline) > 0 {
		d.push.Offline(job.ctx, offline, job.event)
	}
}

func without(ids []uint, skip uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}

// DispatchMessage publishes a message to every participant's sessions, the sender's
// other devices included.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg *models.Message, participantIDs []uint) {
	if msg.ConversationID == nil {
		return
	}
	convID := *msg.ConversationID
	event := NewEvent(EventMessage, convID, map[string]interface{}{
		"message":         msg,
		"conversation_id": convID,
	})
	event.UserID = msg.SenderID
	event.ParticipantIDs = participantIDs
	d.enqueue(dispatchJob{
		ctx:        ctx,
		channel:    ConversationChannel(convID),
		event:      event,
		recipients: participantIDs,
		pushTo:     without(participantIDs, msg.SenderID),
	})
}

// DispatchRequest notifies the receiver of a pending request on their private channel.
func (d *Dispatcher) DispatchRequest(ctx context.Context, req *models.MessageRequest, msg *models.Message) {
	event := NewEvent(EventMessageRequest, 0, map[string]interface{}{
		"request": req,
		"message": msg,
	})
	event.UserID = req.SenderID
	d.enqueue(dispatchJob{
		ctx:        ctx,
		channel:    UserChannel(req.ReceiverID),
		event:      event,
		recipients: []uint{req.ReceiverID},
		pushTo:     []uint{req.ReceiverID},
	})
}

// DispatchRequestAccepted tells both sides that a request became a conversation.
func (d *Dispatcher) DispatchRequestAccepted(ctx context.Context, req *models.MessageRequest, conv *models.Conversation) {
	participants := conv.ParticipantIDs()
	event := NewEvent(EventMessageRequestAccepted, conv.ID, map[string]interface{}{
		"request":      req,
		"conversation": conv,
	})
	event.UserID = req.ReceiverID
	event.ParticipantIDs = participants
	d.enqueue(dispatchJob{
		ctx:        ctx,
		channel:    ConversationChannel(conv.ID),
		event:      event,
		recipients: participants,
	})
}

// DispatchRead relays a read receipt to the conversation.
func (d *Dispatcher) DispatchRead(ctx context.Context, conversationID uint, participantIDs []uint, messageID, readerID uint) {
	event := NewEvent(EventRead, conversationID, map[string]interface{}{
		"message_id": messageID,
		"reader_id":  readerID,
	})
	event.UserID = readerID
	event.ParticipantIDs = participantIDs
	d.enqueue(dispatchJob{
		ctx:        ctx,
		channel:    ConversationChannel(conversationID),
		event:      event,
		recipients: participantIDs,
	})
}

// DispatchTyping relays a typing indicator to everyone but the typist.
func (d *Dispatcher) DispatchTyping(ctx context.Context, conversationID uint, participantIDs []uint, user models.UserSummary, isTyping bool) {
	others := without(participantIDs, user.ID)
	event := NewEvent(EventTyping, conversationID, map[string]interface{}{
		"is_typing":     isTyping,
		"expires_in_ms": typingExpiresMS,
	})
	event.UserID = user.ID
	event.Username = user.Username
	event.ParticipantIDs = others
	d.enqueue(dispatchJob{
		ctx:        ctx,
		channel:    TypingChannel(conversationID),
		event:      event,
		recipients: others,
	})
}
