package bus

import (
	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/logger"
)

// MemoryBus is the in-process Message Bus implementation: one
// subscriberSet for topic queues plus a single broadcast topic.
type MemoryBus struct {
	topics    *subscriberSet
	broadcast *subscriberSet
	log       *logger.Logger
}

const broadcastTopic = "__broadcast__"

func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		topics:    newSubscriberSet(log),
		broadcast: newSubscriberSet(log),
		log:       log,
	}
}

func (b *MemoryBus) Subscribe(topic string) *Receiver { return b.topics.subscribe(topic) }

func (b *MemoryBus) SubscribeBroadcast() *Receiver { return b.broadcast.subscribe(broadcastTopic) }

// Publish is best-effort: it never fails even with zero live subscribers.
func (b *MemoryBus) Publish(topic string, msg Message) (int, error) {
	n := b.topics.publish(topic, msg)
	return n, nil
}

// PublishRequired fails with ErrNoSubscriber if no live subscriber received the message.
func (b *MemoryBus) PublishRequired(topic string, msg Message) (int, error) {
	n := b.topics.publish(topic, msg)
	if n == 0 {
		return 0, ErrNoSubscriber
	}
	return n, nil
}

func (b *MemoryBus) broadcastMsg(msg Message) {
	b.broadcast.publish(broadcastTopic, msg)
}

// PublishWorkflowEvent publishes to workflow:<id> and also broadcasts,
// returning the workflow-topic subscriber count.
func (b *MemoryBus) PublishWorkflowEvent(workflowID string, msg Message) (int, error) {
	topic := workflowTopic(workflowID)
	n, _ := b.Publish(topic, msg)
	b.broadcastMsg(msg)
	return n, nil
}

// PublishTerminalInput prefers terminal.input.<id>; falls back to the
// legacy session-id topic only if the primary topic has no live
// subscriber, so at most one non-broadcast channel receives a copy.
// Always also broadcasts.
func (b *MemoryBus) PublishTerminalInput(terminalID, sessionID, input, decision string) error {
	payload := TerminalInputPayload{TerminalID: terminalID, SessionID: sessionID, Input: input, Decision: decision}
	msg := Message{Type: TypeTerminalInput, Payload: payload}

	primary := terminalInputTopic(terminalID)
	if b.topics.hasLiveSubscriber(primary) {
		b.topics.publish(primary, msg)
	} else if sessionID != "" {
		b.topics.publish(sessionID, msg)
	}
	b.broadcastMsg(msg)
	return nil
}

func (b *MemoryBus) PublishTerminalCompleted(workflowID string, payload TerminalCompletedPayload) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeTerminalCompleted, Payload: payload})
	return err
}

func (b *MemoryBus) PublishGitEvent(workflowID string, payload GitEventPayload) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeGitEvent, Payload: payload})
	return err
}

func (b *MemoryBus) PublishTerminalPromptDetected(workflowID string, payload any) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeTerminalPromptDetected, Payload: payload})
	return err
}

func (b *MemoryBus) PublishTerminalPromptDecision(workflowID string, payload any) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeTerminalPromptDecision, Payload: payload})
	return err
}

// PublishShutdown is a convenience wrapper used by the Runtime Registry to
// ask an agent's event loop to exit.
func (b *MemoryBus) PublishShutdown(workflowID string) {
	_, _ = b.PublishWorkflowEvent(workflowID, Message{Type: TypeShutdown})
	b.log.Debug("published shutdown", zap.String("workflow_id", workflowID))
}

var _ Bus = (*MemoryBus)(nil)
