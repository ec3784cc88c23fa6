package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/session"
)

// State is the orchestrator's processing state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

const queuePreviewLen = 60

// Resetter is per-turn tool state the orchestrator clears alongside the
// session, such as the todo list.
type Resetter interface {
	Reset()
}

// Orchestrator serializes user inputs into turns. Input submitted while a
// turn runs is queued and processed in arrival order once the turn ends.
type Orchestrator struct {
	runner *Runner
	store  ItemStore
	sink   Sink
	logger *observability.Logger

	mu     sync.Mutex
	queue  []string
	state  State
	cancel context.CancelFunc
	wake   chan struct{}

	resetters []Resetter
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithResetter registers tool state cleared on /clear.
func WithResetter(r Resetter) OrchestratorOption {
	return func(o *Orchestrator) { o.resetters = append(o.resetters, r) }
}

// WithOrchestratorLogger sets the orchestrator's logger.
func WithOrchestratorLogger(l *observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator builds an orchestrator around a runner and its store.
func NewOrchestrator(runner *Runner, store ItemStore, sink Sink, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner: runner,
		store:  store,
		sink:   sink,
		logger: observability.Discard(),
		state:  StateIdle,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports whether a turn is in flight.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a turn is running or input is waiting. Used on
// shutdown to drain cleanly.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning || len(o.queue) > 0
}

// Submit enqueues one user input. Safe to call from any goroutine; when a
// turn is running the input waits its turn and the user is told so.
func (o *Orchestrator) Submit(input string) {
	input = strings.TrimRight(input, "\n")
	if strings.TrimSpace(input) == "" {
		return
	}

	o.mu.Lock()
	o.queue = append(o.queue, input)
	running := o.state == StateRunning
	o.mu.Unlock()

	if running {
		o.sink(Event{Kind: EventSystem, Text: fmt.Sprintf("queued: %s", preview(input))})
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Cancel aborts the in-flight turn, if any. Queued inputs are untouched.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run processes the queue until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		input, ok := o.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.wake:
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		o.process(ctx, input)
	}
}

func (o *Orchestrator) next() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return "", false
	}
	input := o.queue[0]
	o.queue = o.queue[1:]
	// Running from dequeue on, so Busy never reports idle with an input
	// in flight.
	o.state = StateRunning
	return input, true
}

func (o *Orchestrator) setIdle() {
	o.mu.Lock()
	o.state = StateIdle
	o.cancel = nil
	o.mu.Unlock()
}

func (o *Orchestrator) process(ctx context.Context, input string) {
	switch strings.TrimSpace(input) {
	case "/clear":
		o.clear(ctx)
		o.setIdle()
		return
	case "/undo":
		o.undo(ctx)
		o.setIdle()
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	err := o.runner.RunTurn(turnCtx, input, o.sink)
	o.setIdle()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		o.sink(Event{Kind: EventSystem, Text: "turn cancelled"})
	default:
		// Non-cancellation failures already surfaced as Error events.
		o.logger.Error(ctx, "turn failed", "error", err)
	}
}

func (o *Orchestrator) clear(ctx context.Context) {
	if err := o.store.Clear(ctx); err != nil {
		o.sink(Event{Kind: EventError, Err: classifyEvent(err)})
		return
	}
	for _, r := range o.resetters {
		r.Reset()
	}
	o.sink(Event{Kind: EventSystem, Text: "session cleared"})
}

// undo rolls the session back to before the last user input, popping the
// user item and everything the turn produced after it.
func (o *Orchestrator) undo(ctx context.Context) {
	popped := 0
	for {
		it, err := o.store.PopItem(ctx)
		if err != nil {
			o.sink(Event{Kind: EventError, Err: classifyEvent(err)})
			return
		}
		if it == nil {
			if popped == 0 {
				o.sink(Event{Kind: EventSystem, Text: "nothing to undo"})
			} else {
				o.sink(Event{Kind: EventSystem, Text: "removed last turn"})
			}
			return
		}
		popped++
		if it.Kind == session.KindUserText {
			o.sink(Event{Kind: EventSystem, Text: "removed last turn"})
			return
		}
	}
}

// Replay re-emits a stored session as events so the UI can render prior
// history on resume. A sink other than the live one may be passed so
// replayed history renders differently from streaming output; nil uses the
// orchestrator's sink. A session with a tool call missing its output is
// refused rather than replayed into a confused model context.
func (o *Orchestrator) Replay(ctx context.Context, sink Sink) error {
	if sink == nil {
		sink = o.sink
	}

	items, err := o.store.GetItems(ctx, 0)
	if err != nil {
		return err
	}
	if err := session.CheckReplay(items); err != nil {
		sink(Event{Kind: EventError, Err: classifyEvent(err)})
		return err
	}

	for _, it := range items {
		switch it.Kind {
		case session.KindUserText:
			sink(Event{Kind: EventUserText, Text: it.User.Text})
		case session.KindAssistant:
			sink(Event{Kind: EventMessageCompleted, Text: it.Assistant.Text})
		case session.KindToolCall:
			sink(Event{Kind: EventToolCallStarted, ToolCall: &ToolCallInfo{
				CallID:    it.ToolCall.CallID,
				Name:      it.ToolCall.Name,
				Arguments: it.ToolCall.Arguments,
			}})
		case session.KindToolOutput:
			sink(Event{Kind: EventToolCallCompleted, ToolOutput: &ToolOutputInfo{
				CallID: it.ToolOutput.CallID,
				Output: it.ToolOutput.Output,
			}})
		case session.KindReasoning:
			sink(Event{Kind: EventReasoningCompleted, Text: strings.Join(it.Reasoning.Summary, "\n")})
		}
	}
	return nil
}

func preview(input string) string {
	input = strings.ReplaceAll(input, "\n", " ")
	if len(input) > queuePreviewLen {
		return input[:queuePreviewLen] + "..."
	}
	return input
}
