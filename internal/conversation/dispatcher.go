// ABOUTME: Dispatcher routes each inbound message to the chat's active conversation
// ABOUTME: Owns global commands, reentry policy, fallback replies and conversation teardown

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/fault"
	"github.com/2389/errand/internal/observability"
	"github.com/2389/errand/internal/store"
)

// User-facing replies owned by the dispatcher.
const (
	WelcomeText  = "👋 Welcome! Type /help to see everything I can do."
	CanceledText = "❌ Canceled."
	FallbackText = "❌ Invalid input. Please follow the steps or type /help."
	ApologyText  = "⚠️ Unexpected error occurred. Please try again."
	BusyText     = "⚠️ Finish the current step or send /cancel first."
)

// Reentry decides what an entry trigger does while another conversation is active.
type Reentry string

const (
	// ReentryReject keeps the active conversation and answers with BusyText.
	ReentryReject Reentry = "reject"
	// ReentryRestart tears the active conversation down and starts the new flow.
	ReentryRestart Reentry = "restart"
)

// ErrStepPanic wraps a recovered panic from a step.
var ErrStepPanic = errors.New("step panicked")

// Options configures a Dispatcher. Only the registry and link are required.
type Options struct {
	Store   Store         // defaults to a MemoryStore
	Ledger  store.Ledger  // optional audit trail
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	Reentry Reentry // defaults to ReentryReject
	Logger  *slog.Logger
}

// Dispatcher is the single authority over conversation state.
type Dispatcher struct {
	registry *Registry
	link     chat.Link
	store    Store
	ledger   store.Ledger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	reentry  Reentry
	logger   *slog.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[chat.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher creates a dispatcher that replies through link.
func NewDispatcher(registry *Registry, link chat.Link, opts Options) *Dispatcher {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("conversation")
	}
	if opts.Reentry == "" {
		opts.Reentry = ReentryReject
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		link:     link,
		store:    opts.Store,
		ledger:   opts.Ledger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		reentry:  opts.Reentry,
		logger:   opts.Logger.With("component", "dispatcher"),
		now:      time.Now,
		locks:    make(map[chat.Key]*keyLock),
	}
}

// lockKey serializes routing per chat without blocking other chats.
func (d *Dispatcher) lockKey(key chat.Key) func() {
	d.locksMu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &keyLock{}
		d.locks[key] = l
	}
	l.refs++
	d.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.locksMu.Unlock()
	}
}

// Route handles one inbound message. It mutates at most one conversation and
// returns an error only when the store or the reply transport fails.
func (d *Dispatcher) Route(ctx context.Context, msg chat.Message) error {
	key := msg.Key()

	ctx, span := d.tracer.Start(ctx, "conversation.route",
		trace.WithAttributes(
			attribute.String("chat.key", string(key)),
			attribute.String("message.id", msg.ID),
		))
	defer span.End()

	unlock := d.lockKey(key)
	defer unlock()

	conv, err := d.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		return fmt.Errorf("loading conversation: %w", err)
	}

	var flow *Flow
	if conv != nil {
		flow = d.registry.Flow(conv.Flow)
		if flow == nil {
			// Flow vanished from the registry; forget the orphan.
			d.logger.Warn("dropping conversation for unknown flow", "key", key, "flow", conv.Flow)
			_ = d.store.Delete(ctx, key)
			conv = nil
		}
	}

	d.recordInbound(ctx, msg, conv)
	conn := d.conn(msg, conv)

	outcome, err := d.route(ctx, msg, conv, flow, conn)

	flowName := ""
	switch {
	case conn.flow != "":
		flowName = conn.flow
	case flow != nil:
		flowName = string(flow.ID)
	}
	d.metrics.MessageRouted(ctx, flowName, outcome)
	span.SetAttributes(
		attribute.String("flow", flowName),
		attribute.String("outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) route(ctx context.Context, msg chat.Message, conv *Conversation, flow *Flow, conn *recordingConn) (string, error) {
	cmd := msg.Command()

	switch cmd {
	case CommandHelp:
		return observability.OutcomeCommand, conn.Send(ctx, chat.Text(d.registry.Help()))
	case CommandStart:
		return observability.OutcomeCommand, conn.Send(ctx, chat.Text(WelcomeText))
	case CommandCancel:
		if conv != nil {
			d.teardown(ctx, flow, conv)
			d.logger.Info("conversation canceled", "key", conv.Key, "flow", conv.Flow, "state", conv.State)
		}
		return observability.OutcomeCanceled, conn.Send(ctx, chat.Text(CanceledText))
	}

	if conv == nil {
		next := d.registry.ByTrigger(cmd)
		if next == nil {
			return observability.OutcomeUnrouted, conn.Send(ctx, chat.Text(FallbackText))
		}
		return d.start(ctx, next, msg, conn)
	}

	if next := d.registry.ByTrigger(cmd); next != nil {
		if d.reentry == ReentryReject {
			d.logger.Debug("entry trigger rejected while conversation active",
				"key", conv.Key, "active_flow", conv.Flow, "trigger", cmd)
			return observability.OutcomeBusy, conn.Send(ctx, chat.Text(BusyText))
		}
		d.teardown(ctx, flow, conv)
		d.logger.Info("conversation replaced", "key", conv.Key, "old_flow", conv.Flow, "new_flow", next.ID)
		return d.start(ctx, next, msg, conn)
	}

	state, ok := flow.States[conv.State]
	if !ok {
		d.logger.Error("conversation in unknown state", "key", conv.Key, "flow", conv.Flow, "state", conv.State)
		d.teardown(ctx, flow, conv)
		return observability.OutcomeFailed, conn.Send(ctx, chat.Text(ApologyText))
	}

	if !state.accepts(msg) {
		return observability.OutcomeRejected, d.fallback(ctx, flow, conv, msg, conn)
	}

	return d.step(ctx, flow, conv, state.Step, msg, conn)
}

func (d *Dispatcher) start(ctx context.Context, flow *Flow, msg chat.Message, conn *recordingConn) (string, error) {
	now := d.now()
	conv := &Conversation{
		Key:       msg.Key(),
		ChatID:    msg.ChatID,
		Flow:      flow.ID,
		State:     flow.Initial,
		Scratch:   make(map[string]string),
		StartedAt: now,
		UpdatedAt: now,
	}
	conn.at(conv)

	d.logger.Debug("conversation started", "key", conv.Key, "flow", flow.ID)

	outcome, err := d.step(ctx, flow, conv, flow.Start, msg, conn)
	if outcome == observability.OutcomeAdvanced {
		outcome = observability.OutcomeStarted
	}
	return outcome, err
}

// step runs one handler and applies its transition.
func (d *Dispatcher) step(ctx context.Context, flow *Flow, conv *Conversation, step Step, msg chat.Message, conn *recordingConn) (string, error) {
	req := &Request{Message: msg, Conversation: conv, Conn: conn}

	ctx, span := d.tracer.Start(ctx, "conversation.step",
		trace.WithAttributes(
			attribute.String("flow", string(flow.ID)),
			attribute.String("state", string(conv.State)),
		))
	defer span.End()

	started := d.now()
	transition, err := d.invoke(ctx, step, req)
	d.metrics.StepDuration(ctx, string(flow.ID), string(conv.State), d.now().Sub(started))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.fail(ctx, flow, conv, err, conn)
	}

	if transition.End {
		d.teardown(ctx, flow, conv)
		d.logger.Debug("conversation completed", "key", conv.Key, "flow", flow.ID)
		return observability.OutcomeCompleted, nil
	}

	if transition.Next != "" {
		if _, ok := flow.States[transition.Next]; !ok {
			return d.fail(ctx, flow, conv, fmt.Errorf("flow %q: transition to undefined state %q", flow.ID, transition.Next), conn)
		}
		conv.State = transition.Next
	}
	conv.UpdatedAt = d.now()

	if err := d.store.Put(ctx, conv); err != nil {
		d.teardown(ctx, flow, conv)
		return observability.OutcomeFailed, fmt.Errorf("saving conversation: %w", err)
	}
	return observability.OutcomeAdvanced, nil
}

// invoke runs step, converting a panic into an error wrapping ErrStepPanic.
func (d *Dispatcher) invoke(ctx context.Context, step Step, req *Request) (t Transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("step panicked",
				"key", req.Conversation.Key,
				"flow", req.Conversation.Flow,
				"state", req.Conversation.State,
				"panic", r,
				"stack", string(debug.Stack()))
			t = Transition{}
			err = fmt.Errorf("%w: %v", ErrStepPanic, r)
		}
	}()
	return step(ctx, req)
}

// fail reports a step error to the user and destroys the conversation.
func (d *Dispatcher) fail(ctx context.Context, flow *Flow, conv *Conversation, err error, conn *recordingConn) (string, error) {
	outcome := observability.OutcomeFailed
	text := ApologyText

	if errors.Is(err, ErrStepPanic) {
		outcome = observability.OutcomePanic
	} else {
		var fe *fault.Error
		if errors.As(err, &fe) {
			d.metrics.AdapterFailure(ctx, string(fe.Source), string(fe.Kind))
		}
		if flow.Failure != nil {
			if custom := flow.Failure(err); custom != "" {
				text = custom
			}
		}
		d.logger.Warn("step failed",
			"key", conv.Key,
			"flow", conv.Flow,
			"state", conv.State,
			"source", fault.SourceOf(err),
			"kind", fault.KindOf(err),
			"error", err)
	}

	d.recordError(ctx, conv, err)
	d.teardown(ctx, flow, conv)

	if sendErr := conn.Send(ctx, chat.Text(text)); sendErr != nil {
		return outcome, fmt.Errorf("sending failure reply: %w", sendErr)
	}
	return outcome, nil
}

func (d *Dispatcher) fallback(ctx context.Context, flow *Flow, conv *Conversation, msg chat.Message, conn *recordingConn) error {
	if flow.Fallback == nil {
		return conn.Send(ctx, chat.Text(FallbackText))
	}
	req := &Request{Message: msg, Conversation: conv.Clone(), Conn: conn}
	return flow.Fallback(ctx, req)
}

// teardown runs the flow's cleanup hook and deletes the conversation.
func (d *Dispatcher) teardown(ctx context.Context, flow *Flow, conv *Conversation) {
	if flow != nil && flow.Cleanup != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("cleanup panicked", "key", conv.Key, "flow", conv.Flow, "panic", r)
				}
			}()
			flow.Cleanup(conv)
		}()
	}
	if err := d.store.Delete(ctx, conv.Key); err != nil {
		d.logger.Error("deleting conversation", "key", conv.Key, "error", err)
	}
}

// Active returns the conversation for key, or ErrNotFound.
func (d *Dispatcher) Active(ctx context.Context, key chat.Key) (*Conversation, error) {
	return d.store.Get(ctx, key)
}

// Close tears down every remaining conversation so flow cleanup hooks run.
func (d *Dispatcher) Close(ctx context.Context) error {
	convs, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	for _, conv := range convs {
		unlock := d.lockKey(conv.Key)
		d.teardown(ctx, d.registry.Flow(conv.Flow), conv)
		unlock()
	}

	if len(convs) > 0 {
		d.logger.Info("abandoned active conversations", "count", len(convs))
	}
	return nil
}
