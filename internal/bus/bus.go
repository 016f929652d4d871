// Package bus provides in-process pub/sub: topic-addressed fan-out to
// workflow, terminal-input, and broadcast channels, with bounded
// per-subscriber queues, stale-subscriber pruning, and primary/fallback
// terminal-input delivery.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/logger"
	"github.com/coderunhq/coderun/internal/model"
)

// QueueCapacity is the bounded capacity of every per-subscriber topic queue.
const QueueCapacity = 100

// Message is the tagged-union envelope published on the bus. Type is the
// stable discriminator; Payload carries the type-specific fields.
type Message struct {
	Type    MessageType
	Payload any
}

type MessageType string

const (
	TypeTerminalCompleted      MessageType = "TerminalCompleted"
	TypeGitEvent               MessageType = "GitEvent"
	TypeInstruction            MessageType = "Instruction"
	TypeStatusUpdate           MessageType = "StatusUpdate"
	TypeTerminalStatusUpdate   MessageType = "TerminalStatusUpdate"
	TypeTaskStatusUpdate       MessageType = "TaskStatusUpdate"
	TypeError                  MessageType = "Error"
	TypeTerminalMessage        MessageType = "TerminalMessage"
	TypeTerminalPromptDetected MessageType = "TerminalPromptDetected"
	TypeTerminalInput          MessageType = "TerminalInput"
	TypeTerminalPromptDecision MessageType = "TerminalPromptDecision"
	TypeShutdown               MessageType = "Shutdown"
)

// Receiver is a subscriber's read handle onto the bus.
type Receiver struct {
	ch     <-chan Message
	closer func()
}

// Recv returns the subscriber's delivery channel. The channel is closed
// when Close is called.
func (r *Receiver) Recv() <-chan Message { return r.ch }

// Close unregisters the subscriber. Safe to call more than once.
func (r *Receiver) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// Bus is the Message Bus interface every component depends on.
type Bus interface {
	Subscribe(topic string) *Receiver
	SubscribeBroadcast() *Receiver
	Publish(topic string, msg Message) (delivered int, err error)
	PublishRequired(topic string, msg Message) (delivered int, err error)

	PublishWorkflowEvent(workflowID string, msg Message) (subscribers int, err error)
	PublishTerminalInput(terminalID, sessionID string, input string, decision string) error
	PublishTerminalCompleted(workflowID string, payload TerminalCompletedPayload) error
	PublishGitEvent(workflowID string, payload GitEventPayload) error
	PublishTerminalPromptDetected(workflowID string, payload any) error
	PublishTerminalPromptDecision(workflowID string, payload any) error
}

// TerminalCompletedPayload is the payload for TypeTerminalCompleted.
// Meta carries the commit's parsed metadata block when the publisher had
// one (the Git Watcher always does), so review_pass/review_reject
// consumers can route the reviewed terminal without re-reading the
// commit.
type TerminalCompletedPayload struct {
	WorkflowID  string
	TaskID      string
	TerminalID  string
	CommitHash  string
	CommitMsg   string
	Status      string // model.CompletionStatus value
	Synthesized bool
	Meta        *model.CommitMetadata
}

// TerminalInputPayload is the payload for TypeTerminalInput.
type TerminalInputPayload struct {
	TerminalID string
	SessionID  string
	Input      string
	Decision   string
}

// GitEventPayload is the payload for TypeGitEvent. FullMessage carries the
// complete commit body (subject + trailer) so a consumer can run its own
// metadata parse, independent of whatever classification the publishing
// watcher already performed.
type GitEventPayload struct {
	WorkflowID  string
	CommitHash  string
	Branch      string
	Message     string
	FullMessage string
}

func workflowTopic(id string) string      { return "workflow:" + id }
func terminalInputTopic(id string) string { return "terminal.input." + id }

// helper used by callers that want the workflow-topic naming convention.
func WorkflowTopic(id string) string      { return workflowTopic(id) }
func TerminalInputTopic(id string) string { return terminalInputTopic(id) }

var (
	ErrNoSubscriber = apperrors.New(apperrors.CodeBusNoSubscriber, "publish_required: no live subscriber")
)

// subscriberSet groups the per-topic subscriber channels.
type subscriberSet struct {
	mu   sync.RWMutex
	subs map[string][]*subEntry
	log  *logger.Logger
}

// subEntry's own mutex serializes sends against close, so a publish
// racing a Receiver.Close never sends on a closed channel.
type subEntry struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// trySend delivers msg unless the entry is closed or its queue is full.
// stale is true when the entry should be pruned from the topic.
func (e *subEntry) trySend(msg Message) (sent, stale bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, true
	}
	select {
	case e.ch <- msg:
		return true, false
	default:
		return false, true
	}
}

func (e *subEntry) closeEntry() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.closed = true
	close(e.ch)
	return true
}

func newSubscriberSet(log *logger.Logger) *subscriberSet {
	return &subscriberSet{subs: make(map[string][]*subEntry), log: log}
}

func (s *subscriberSet) subscribe(topic string) *Receiver {
	entry := &subEntry{ch: make(chan Message, QueueCapacity)}

	s.mu.Lock()
	s.subs[topic] = append(s.subs[topic], entry)
	s.mu.Unlock()

	return &Receiver{
		ch: entry.ch,
		closer: func() {
			if !entry.closeEntry() {
				return
			}
			s.mu.Lock()
			s.removeLocked(topic, entry)
			s.mu.Unlock()
		},
	}
}

// publish fans out to every live subscriber of topic, pruning any
// subscriber whose queue is full or closed. Returns delivered count.
func (s *subscriberSet) publish(topic string, msg Message) int {
	s.mu.RLock()
	entries := append([]*subEntry(nil), s.subs[topic]...)
	s.mu.RUnlock()

	delivered := 0
	var stale []*subEntry
	for _, e := range entries {
		sent, isStale := e.trySend(msg)
		if sent {
			delivered++
			continue
		}
		if isStale {
			stale = append(stale, e)
			s.log.Warn("bus: dropping message to slow/stale subscriber", zap.String("topic", topic))
		}
	}

	if len(stale) > 0 {
		s.mu.Lock()
		for _, e := range stale {
			s.removeLocked(topic, e)
		}
		s.mu.Unlock()
	}
	return delivered
}

func (s *subscriberSet) removeLocked(topic string, target *subEntry) {
	list := s.subs[topic]
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		delete(s.subs, topic)
	} else {
		s.subs[topic] = out
	}
}

func (s *subscriberSet) hasLiveSubscriber(topic string) bool {
	s.mu.RLock()
	entries := append([]*subEntry(nil), s.subs[topic]...)
	s.mu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if !closed {
			return true
		}
	}
	return false
}

