// Package engine coordinates the realtime sync components. One goroutine, started
// by Run, owns every store; transport callbacks, timers and UI calls are posted to
// it as closures and run one at a time in arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledger-chat/internal/conn"
	"ledger-chat/internal/models"
	"ledger-chat/internal/outbound"
	"ledger-chat/internal/reconciler"
	"ledger-chat/internal/rooms"
	"ledger-chat/internal/roster"
	"ledger-chat/internal/timers"
	"ledger-chat/internal/typing"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("engine closed")

// Fetcher is the request/response collaborator that supplies initial state.
type Fetcher interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListFriends(ctx context.Context) ([]models.Friend, error)
	CreateDirectConversation(ctx context.Context, participantID string) (models.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, page, limit int) (models.MessagePage, error)
}

// Transport is the connection surface the engine drives. *conn.Manager implements it.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Reconnect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	State() conn.State
	Emit(event string, payload interface{}) error
	SetHandlers(h conn.Handlers)
}

type Options struct {
	SelfID       string
	Credential   string
	TypingExpiry time.Duration
	TypingIdle   time.Duration
	AckTimeout   time.Duration
	PageSize     int
	Scheduler    timers.Scheduler
	Logger       *zap.Logger
}

// ServerError carries an error event pushed by the backend.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server error: " + e.Message }

type Engine struct {
	opts    Options
	conn    Transport
	fetch   Fetcher
	log     *zap.Logger
	sched   timers.Posting
	loop    chan func()
	updates chan Update
	done    chan struct{}
	once    sync.Once

	// Owned by the loop goroutine.
	rooms      *rooms.Tracker
	recon      *reconciler.Reconciler
	roster     *roster.Roster
	typers     *typing.Aggregator
	debounce   *typing.Debouncer
	outbound   *outbound.Pipeline
	expiry     *timers.Keyed
	expiryKeys map[string][]string // armed expiry keys per conversation
	statuses   map[string]models.UserStatus
	lastErr    error
}

func New(opts Options, transport Transport, fetch Fetcher) *Engine {
	if opts.Scheduler == nil {
		opts.Scheduler = timers.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = 5 * time.Second
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = 2 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}

	e := &Engine{
		opts:       opts,
		conn:       transport,
		fetch:      fetch,
		log:        opts.Logger.Named("engine"),
		loop:       make(chan func(), 256),
		updates:    make(chan Update, 256),
		done:       make(chan struct{}),
		statuses:   make(map[string]models.UserStatus),
		expiryKeys: make(map[string][]string),
	}
	e.sched = timers.Posting{Scheduler: opts.Scheduler, Post: e.post}

	e.rooms = rooms.NewTracker(transport, opts.Logger)
	e.recon = reconciler.New()
	e.roster = roster.New(opts.SelfID)
	e.typers = typing.NewAggregator(opts.SelfID, opts.TypingExpiry, opts.Scheduler.Now)
	e.debounce = typing.NewDebouncer(opts.TypingIdle, e.sched, e.emitTyping, opts.Logger)
	e.outbound = outbound.NewPipeline(outbound.Config{SelfID: opts.SelfID, AckTimeout: opts.AckTimeout},
		transport, e.debounce, e.sched, opts.Logger)
	e.outbound.OnExpire = func(f *outbound.SendFailure) {
		e.publish(Update{Kind: UpdateError, ConversationID: f.ConversationID, Err: f})
	}
	e.expiry = timers.NewKeyed(e.sched)

	transport.SetHandlers(conn.Handlers{
		OnOpen:            func() { e.post(e.onOpen) },
		OnClose:           func(reason string) { e.post(func() { e.onClose(reason) }) },
		OnError:           func(err error) { e.post(func() { e.onError(err, false) }) },
		OnEvent:           func(env models.Envelope) { e.post(func() { e.dispatch(env) }) },
		OnReconnectFailed: func(err error) { e.post(func() { e.onError(err, true) }) },
	})
	return e
}

// Run processes posted work until ctx is cancelled or the engine is closed.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case f := <-e.loop:
			f()
		case <-e.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Updates delivers change notifications. Read the current state with View.
func (e *Engine) Updates() <-chan Update { return e.updates }

// Start opens the live connection with the configured credential.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.conn.Connect(ctx, e.opts.Credential); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Reconnect restarts the connection after the reconnect budget ran out.
func (e *Engine) Reconnect(ctx context.Context) error {
	return e.conn.Reconnect(ctx)
}

// Close leaves the joined room, drops timers and tears the connection down.
// Further calls return ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	err := e.do(ctx, func() {
		if e.debounce.Typing() {
			e.debounce.Stop(e.rooms.Active())
		}
		e.rooms.Clear()
		e.outbound.Reset()
		e.expiry.CancelAll()
	})
	e.conn.Disconnect()
	e.once.Do(func() { close(e.done) })
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// post queues f on the loop. It drops f once the engine is closed.
func (e *Engine) post(f func()) {
	select {
	case e.loop <- f:
	case <-e.done:
	}
}

// do runs f on the loop and waits for it.
func (e *Engine) do(ctx context.Context, f func()) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	finished := make(chan struct{})
	select {
	case e.loop <- func() { f(); close(finished) }:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) publish(u Update) {
	select {
	case e.updates <- u:
	default:
		e.log.Warn("update dropped, consumer too slow", zap.Stringer("kind", u.Kind))
	}
}

func (e *Engine) emitTyping(conversationID string, isTyping bool) error {
	return e.conn.Emit(models.EventTyping, models.TypingPayload{ConversationID: conversationID, IsTyping: isTyping})
}
