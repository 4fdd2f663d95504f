// Package outbound sends the local user's messages: optimistic compose clearing,
// emission over the connection, draft rollback and acknowledgement tracking.
package outbound

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/models"
	"ledger-chat/internal/timers"
)

var ErrEmptyMessage = errors.New("message is empty")

// errAckTimeout is wrapped by the SendFailure raised when no echo arrives in time.
var errAckTimeout = errors.New("no acknowledgement from server")

// SendFailure reports a message the server did not take. The draft has been put
// back into the compose buffer unless the failure came from an ack timeout.
type SendFailure struct {
	CorrelationID  string
	ConversationID string
	Content        string
	Err            error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.ConversationID, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// Timeout reports whether the failure is a missing acknowledgement rather than a rejected emit.
func (e *SendFailure) Timeout() bool { return errors.Is(e.Err, errAckTimeout) }

// Emitter is the part of the connection the pipeline sends through.
type Emitter interface {
	Emit(event string, payload interface{}) error
	IsConnected() bool
}

// TypingStopper is told to end the local typing burst when a message goes out.
type TypingStopper interface {
	Stop(conversationID string)
}

// PendingSend is a message emitted but not yet echoed back by the server.
type PendingSend struct {
	CorrelationID  string
	ConversationID string
	Content        string
	SentAt         time.Time
}

// ComposeBuffer holds the text the user is writing.
type ComposeBuffer struct {
	text string
}

func (b *ComposeBuffer) Text() string    { return b.text }
func (b *ComposeBuffer) Set(text string) { b.text = text }
func (b *ComposeBuffer) Clear()          { b.text = "" }

type Config struct {
	SelfID     string
	AckTimeout time.Duration
}

// Pipeline is owned by the engine loop and is not safe for concurrent use.
type Pipeline struct {
	cfg     Config
	conn    Emitter
	typing  TypingStopper
	sched   timers.Scheduler
	timers  *timers.Keyed
	log     *zap.Logger
	buffer  ComposeBuffer
	pending map[string]PendingSend
	order   []string
	newID   func() string

	// OnExpire is called when a pending send times out.
	OnExpire func(*SendFailure)
}

func NewPipeline(cfg Config, c Emitter, typing TypingStopper, sched timers.Scheduler, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if sched == nil {
		sched = timers.Real{}
	}
	return &Pipeline{
		cfg:     cfg,
		conn:    c,
		typing:  typing,
		sched:   sched,
		timers:  timers.NewKeyed(sched),
		log:     log.Named("outbound"),
		pending: make(map[string]PendingSend),
		newID:   uuid.NewString,
	}
}

func (p *Pipeline) Buffer() *ComposeBuffer { return &p.buffer }

// Send emits content to conversationID. It never waits for the server: delivery is
// confirmed later when the message comes back through Acknowledge.
func (p *Pipeline) Send(conversationID, content string) (PendingSend, error) {
	if strings.TrimSpace(content) == "" {
		return PendingSend{}, ErrEmptyMessage
	}
	if !p.conn.IsConnected() {
		p.log.Warn("send rejected: not connected", zap.String("conversation_id", conversationID))
		return PendingSend{}, conn.ErrNotConnected
	}

	p.buffer.Clear()
	if p.typing != nil {
		p.typing.Stop(conversationID)
	}

	ps := PendingSend{
		CorrelationID:  p.newID(),
		ConversationID: conversationID,
		Content:        content,
		SentAt:         p.sched.Now(),
	}
	err := p.conn.Emit(models.EventSendMessage, models.SendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		Type:           models.MessageText,
		Attachments:    []string{},
		ClientID:       ps.CorrelationID,
	})
	if err != nil {
		p.buffer.Set(content)
		p.log.Error("send failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return ps, &SendFailure{
			CorrelationID:  ps.CorrelationID,
			ConversationID: conversationID,
			Content:        content,
			Err:            err,
		}
	}

	p.pending[ps.CorrelationID] = ps
	p.order = append(p.order, ps.CorrelationID)
	if p.cfg.AckTimeout > 0 {
		id := ps.CorrelationID
		p.timers.Arm(id, p.cfg.AckTimeout, func() { p.Expire(id) })
	}
	return ps, nil
}

// Acknowledge matches an inbound message against the pending sends, by correlation
// id when the server echoes one, else by conversation and content from the local user.
func (p *Pipeline) Acknowledge(msg models.Message) (PendingSend, bool) {
	id := msg.ClientID
	if _, ok := p.pending[id]; !ok || id == "" {
		id = ""
		if msg.SenderID != p.cfg.SelfID {
			return PendingSend{}, false
		}
		for _, cid := range p.order {
			ps := p.pending[cid]
			if ps.ConversationID == msg.ConversationID && ps.Content == msg.Content {
				id = cid
				break
			}
		}
		if id == "" {
			return PendingSend{}, false
		}
	}
	ps := p.remove(id)
	p.log.Debug("send acknowledged", zap.String("correlation_id", id), zap.String("message_id", msg.ID))
	return ps, true
}

// Expire drops a pending send whose acknowledgement never came and reports it.
// It returns nil if the send was already acknowledged.
func (p *Pipeline) Expire(correlationID string) *SendFailure {
	ps, ok := p.pending[correlationID]
	if !ok {
		return nil
	}
	p.remove(correlationID)
	failure := &SendFailure{
		CorrelationID:  correlationID,
		ConversationID: ps.ConversationID,
		Content:        ps.Content,
		Err:            errAckTimeout,
	}
	p.log.Warn("send not acknowledged", zap.String("correlation_id", correlationID),
		zap.String("conversation_id", ps.ConversationID))
	if p.OnExpire != nil {
		p.OnExpire(failure)
	}
	return failure
}

// Pending lists outstanding sends, oldest first.
func (p *Pipeline) Pending() []PendingSend {
	out := make([]PendingSend, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.pending[id])
	}
	return out
}

// Reset forgets pending sends and their timers.
func (p *Pipeline) Reset() {
	p.timers.CancelAll()
	p.pending = make(map[string]PendingSend)
	p.order = nil
}

func (p *Pipeline) remove(id string) PendingSend {
	ps := p.pending[id]
	delete(p.pending, id)
	p.timers.Cancel(id)
	for i, cid := range p.order {
		if cid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return ps
}
