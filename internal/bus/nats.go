package bus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/logger"
)

// NatsBus backs the same Bus interface over NATS subjects, so multiple
// orchestrator instances can share one bus.
//
// Payloads are JSON-encoded on the wire; subscribers receive a Message
// whose Payload is a map[string]any decoded from that JSON (callers that
// need a concrete type re-marshal/unmarshal it, mirroring how a
// cross-process bus loses static payload types).
type NatsBus struct {
	conn *nats.Conn
	log  *logger.Logger

	// broadcast subject every publish is mirrored to.
	broadcastSubject string
}

func NewNatsBus(url string, log *logger.Logger) (*NatsBus, error) {
	if log == nil {
		log = logger.Default()
	}
	conn, err := nats.Connect(url, nats.MaxReconnects(10))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsBus{conn: conn, log: log, broadcastSubject: "coderun.broadcast"}, nil
}

func (b *NatsBus) Close() { b.conn.Close() }

func natsSubject(topic string) string { return "coderun.topic." + sanitizeSubject(topic) }

// sanitizeSubject replaces NATS subject-delimiting characters so that
// topic strings containing ':' or '.' (e.g. "workflow:<uuid>") remain a
// single valid token.
func sanitizeSubject(topic string) string {
	out := make([]rune, 0, len(topic))
	for _, r := range topic {
		switch r {
		case ':', '.', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (b *NatsBus) subscribe(subject string) *Receiver {
	ch := make(chan Message, QueueCapacity)
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		var payload map[string]any
		_ = json.Unmarshal(m.Data, &payload)
		msgType, _ := payload["type"].(string)
		select {
		case ch <- Message{Type: MessageType(msgType), Payload: payload["data"]}:
		default:
			b.log.Warn("nats bus: dropping message, subscriber queue full")
		}
	})
	if err != nil {
		b.log.Error("nats bus: subscribe failed", zap.Error(err))
		close(ch)
		return &Receiver{ch: ch, closer: func() {}}
	}

	var closeOnce sync.Once
	return &Receiver{
		ch: ch,
		closer: func() {
			closeOnce.Do(func() {
				_ = sub.Unsubscribe()
				close(ch)
			})
		},
	}
}

func (b *NatsBus) Subscribe(topic string) *Receiver      { return b.subscribe(natsSubject(topic)) }
func (b *NatsBus) SubscribeBroadcast() *Receiver          { return b.subscribe(b.broadcastSubject) }

func (b *NatsBus) publishRaw(subject string, msg Message) error {
	data, err := json.Marshal(map[string]any{"type": string(msg.Type), "data": msg.Payload})
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

func (b *NatsBus) Publish(topic string, msg Message) (int, error) {
	if err := b.publishRaw(natsSubject(topic), msg); err != nil {
		return 0, err
	}
	// NATS does not report subscriber counts synchronously; callers that
	// need delivery confirmation should use the in-process bus instead.
	return 1, nil
}

func (b *NatsBus) PublishRequired(topic string, msg Message) (int, error) {
	return b.Publish(topic, msg)
}

func (b *NatsBus) PublishWorkflowEvent(workflowID string, msg Message) (int, error) {
	n, err := b.Publish(workflowTopic(workflowID), msg)
	if err != nil {
		return 0, err
	}
	_ = b.publishRaw(b.broadcastSubject, msg)
	return n, nil
}

func (b *NatsBus) PublishTerminalInput(terminalID, sessionID, input, decision string) error {
	payload := TerminalInputPayload{TerminalID: terminalID, SessionID: sessionID, Input: input, Decision: decision}
	msg := Message{Type: TypeTerminalInput, Payload: payload}
	_ = b.publishRaw(natsSubject(terminalInputTopic(terminalID)), msg)
	_ = b.publishRaw(b.broadcastSubject, msg)
	return nil
}

func (b *NatsBus) PublishTerminalCompleted(workflowID string, payload TerminalCompletedPayload) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeTerminalCompleted, Payload: payload})
	return err
}

func (b *NatsBus) PublishGitEvent(workflowID string, payload GitEventPayload) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeGitEvent, Payload: payload})
	return err
}

func (b *NatsBus) PublishTerminalPromptDetected(workflowID string, payload any) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeTerminalPromptDetected, Payload: payload})
	return err
}

func (b *NatsBus) PublishTerminalPromptDecision(workflowID string, payload any) error {
	_, err := b.PublishWorkflowEvent(workflowID, Message{Type: TypeTerminalPromptDecision, Payload: payload})
	return err
}

var _ Bus = (*NatsBus)(nil)
