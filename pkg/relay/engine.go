package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/models"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/reply"
	"github.com/ghhufue/chatrelay/pkg/store"
	"github.com/ghhufue/chatrelay/pkg/telemetry"
)

// DefaultReplyBudget bounds the reply-generation collaborator call. A
// hung collaborator then stalls at most this long, and only the sending
// session's own pipeline.
const DefaultReplyBudget = 30 * time.Second

// Engine decides whether a message is delivered live or queued, assigns
// durable identity through the store, and reconciles delivery state.
type Engine struct {
	registry    *presence.Registry
	directory   *auth.Directory
	generator   reply.Generator
	replyBudget time.Duration
}

func NewEngine(registry *presence.Registry, directory *auth.Directory, generator reply.Generator, replyBudget time.Duration) *Engine {
	if replyBudget <= 0 {
		replyBudget = DefaultReplyBudget
	}
	return &Engine{registry: registry, directory: directory, generator: generator, replyBudget: replyBudget}
}

// Submit accepts a message from sender to receiver. The receiver's kind
// picks the path: human receivers get live-push or queued store-and-
// forward; automated receivers get their reply generated and relayed
// back. Message identity and timestamp are authoritative from the store,
// never from caller-supplied values.
func (e *Engine) Submit(ctx context.Context, senderID, receiverID int64, content, msgType string, history []models.HistoryMessage) error {
	automated, err := e.directory.IsAutomated(receiverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			telemetry.DeliveryFailures.WithLabelValues("principal_not_found").Inc()
			return fmt.Errorf("%w: receiver %d", ErrPrincipalNotFound, receiverID)
		}
		return fmt.Errorf("classify receiver %d: %w", receiverID, err)
	}
	if automated {
		return e.submitAutomated(ctx, senderID, receiverID, content, msgType, history)
	}
	return e.submitHuman(senderID, receiverID, content, msgType)
}

func (e *Engine) submitHuman(senderID, receiverID int64, content, msgType string) error {
	m, err := store.AppendMessage(models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		Received:   false,
	})
	if err != nil {
		telemetry.DeliveryFailures.WithLabelValues("persistence").Inc()
		logger.Error("submit_persist_failed", "sender", senderID, "receiver", receiverID, "error", err)
		return fmt.Errorf("persist message: %w", err)
	}
	e.ackSender(m)
	e.forward(m)
	return nil
}

// forward pushes a persisted message to its receiver when a session is
// registered, marking it received together with the push. Absent or
// failed pushes leave the message queued for later retrieval.
func (e *Engine) forward(m models.Message) {
	sess, ok := e.registry.Lookup(m.ReceiverID)
	if !ok {
		telemetry.MessagesSubmitted.WithLabelValues("queued").Inc()
		logger.Info("message_queued", "id", m.ID, "receiver", m.ReceiverID)
		return
	}
	frame := models.NewMessage{
		Type:        "newMessage",
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.Type,
		Timestamp:   models.WireTime(m.CreatedTS),
	}
	if err := sess.Send(frame); err != nil {
		// the push failed, so the recipient never saw it: keep it queued
		telemetry.DeliveryFailures.WithLabelValues("push").Inc()
		logger.Warn("message_push_failed", "id", m.ID, "receiver", m.ReceiverID, "error", err)
		return
	}
	if _, err := store.MarkReceived(m.ID); err != nil {
		logger.Error("mark_received_failed", "id", m.ID, "error", err)
		return
	}
	telemetry.MessagesSubmitted.WithLabelValues("live").Inc()
	logger.Info("message_forwarded", "id", m.ID, "receiver", m.ReceiverID)
}

func (e *Engine) submitAutomated(ctx context.Context, senderID, receiverID int64, content, msgType string, history []models.HistoryMessage) error {
	// the automated peer has "read" the message by construction
	m, err := store.AppendMessage(models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		Received:   true,
	})
	if err != nil {
		telemetry.DeliveryFailures.WithLabelValues("persistence").Inc()
		logger.Error("submit_persist_failed", "sender", senderID, "receiver", receiverID, "error", err)
		return fmt.Errorf("persist message: %w", err)
	}
	e.ackSender(m)
	telemetry.MessagesSubmitted.WithLabelValues("automated").Inc()

	genCtx, cancel := context.WithTimeout(ctx, e.replyBudget)
	defer cancel()
	text, err := e.generator.Generate(genCtx, history, senderID)
	if err != nil {
		telemetry.Replies.WithLabelValues("error").Inc()
		logger.Error("reply_generation_failed", "sender", senderID, "bot", receiverID, "error", err)
		// contained: the inbound message is already persisted, the sender
		// simply receives no reply frame
		return nil
	}
	telemetry.Replies.WithLabelValues("ok").Inc()

	// direction reversed: the automated peer answers the human
	r, err := store.AppendMessage(models.Message{
		SenderID:   receiverID,
		ReceiverID: senderID,
		Content:    text,
		Type:       msgType,
		Received:   false,
	})
	if err != nil {
		telemetry.DeliveryFailures.WithLabelValues("persistence").Inc()
		logger.Error("reply_persist_failed", "bot", receiverID, "error", err)
		return nil
	}
	e.forward(r)
	return nil
}

// ackSender reports the store-assigned id and timestamp back to the
// sender's live session. An offline sender simply gets no ack.
func (e *Engine) ackSender(m models.Message) {
	sess, ok := e.registry.Lookup(m.SenderID)
	if !ok {
		return
	}
	frame := models.MessageReturn{
		Type:        "messageReturn",
		MessageID:   m.ID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		MessageType: m.Type,
		Timestamp:   models.WireTime(m.CreatedTS),
	}
	if err := sess.Send(frame); err != nil {
		logger.Warn("ack_push_failed", "id", m.ID, "sender", m.SenderID, "error", err)
	}
}

func nowNS() int64 { return time.Now().UTC().UnixNano() }

// MarkRead flips every queued message from sender to receiver to
// received. Repeat application is a no-op.
func (e *Engine) MarkRead(receiverID, senderID int64) (int, error) {
	n, err := store.MarkConversationRead(receiverID, senderID)
	if err != nil {
		return n, fmt.Errorf("mark conversation read: %w", err)
	}
	if n > 0 {
		telemetry.MessagesRead.Add(float64(n))
	}
	logger.Info("messages_read", "receiver", receiverID, "sender", senderID, "count", n)
	return n, nil
}

// History returns the messages between two principals with id strictly
// greater than afterID, ascending by id.
func (e *Engine) History(userID, friendID, afterID int64, limit int) ([]models.Message, error) {
	return store.ListConversation(userID, friendID, afterID, limit)
}
