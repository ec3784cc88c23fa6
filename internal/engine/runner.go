package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibecore-ai/vibecore/internal/auth"
	"github.com/vibecore-ai/vibecore/internal/backoff"
	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/provider"
	"github.com/vibecore-ai/vibecore/internal/session"
	"github.com/vibecore-ai/vibecore/internal/tools"
)

// DefaultMaxTurns caps model requests per user turn.
const DefaultMaxTurns = 200

// DefaultToolParallelism bounds concurrently running tool handlers.
const DefaultToolParallelism = 4

const modelRetryAttempts = 3

// ErrTurnCapExceeded is returned when a turn used its full model-request
// budget without producing a final message.
var ErrTurnCapExceeded = errors.New("turn cap exceeded")

// Runner drives one agent turn at a time: it streams model responses,
// dispatches tool calls with bounded parallelism, reconciles their outputs
// in call order, and persists every item.
type Runner struct {
	client   provider.Client
	registry *tools.Registry
	store    ItemStore
	agents   map[string]*Agent
	current  *Agent
	maxTurns int
	parallel int
	policy   backoff.Policy
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxTurns overrides the model-request cap per turn.
func WithMaxTurns(n int) RunnerOption {
	return func(r *Runner) { r.maxTurns = n }
}

// WithToolParallelism bounds concurrent tool handlers.
func WithToolParallelism(n int) RunnerOption {
	return func(r *Runner) { r.parallel = n }
}

// WithLogger sets the runner's logger.
func WithLogger(l *observability.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the runner's metrics.
func WithMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRetryPolicy overrides the model retry backoff, used by tests.
func WithRetryPolicy(p backoff.Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// NewRunner builds a runner starting as the named agent.
func NewRunner(client provider.Client, registry *tools.Registry, store ItemStore, agents map[string]*Agent, start string, opts ...RunnerOption) (*Runner, error) {
	if err := validateAgents(agents); err != nil {
		return nil, err
	}
	startAgent, ok := agents[start]
	if !ok {
		return nil, fmt.Errorf("unknown starting agent %q", start)
	}

	r := &Runner{
		client:   client,
		registry: registry,
		store:    store,
		agents:   agents,
		current:  startAgent,
		maxTurns: DefaultMaxTurns,
		parallel: DefaultToolParallelism,
		policy:   backoff.DefaultPolicy(),
		logger:   observability.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CurrentAgent returns the agent currently in effect.
func (r *Runner) CurrentAgent() *Agent {
	return r.current
}

// RunTurn processes one user input to completion: the user item is
// persisted first, then model iterations run until a final message, the
// turn cap, an error, or cancellation. Events stream through sink as they
// happen.
func (r *Runner) RunTurn(ctx context.Context, input string, sink Sink) error {
	started := time.Now()

	if input != "" {
		if err := r.store.AddItems(ctx, session.NewUserText(input)); err != nil {
			return r.fail(sink, err)
		}
		sink(Event{Kind: EventUserText, Text: input})
	}

	usage := &Usage{}
	for turn := 1; turn <= r.maxTurns; turn++ {
		ctx := observability.WithTurn(ctx, turn)

		final, finished, err := r.runIteration(ctx, sink, usage)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return r.fail(sink, err)
		}
		if finished {
			if r.metrics != nil {
				r.metrics.TurnDuration.Observe(time.Since(started).Seconds())
			}
			sink(Event{Kind: EventTurnFinished, Text: final, Usage: usage})
			return nil
		}
	}

	err := fmt.Errorf("%w: no final message after %d model requests", ErrTurnCapExceeded, r.maxTurns)
	return r.fail(sink, err)
}

// streamOutcome accumulates one model message.
type streamOutcome struct {
	text       string
	reasonings []string
	toolCalls  []provider.ToolUse
	emitted    bool
}

func (r *Runner) runIteration(ctx context.Context, sink Sink, usage *Usage) (string, bool, error) {
	history, err := r.store.GetItems(ctx, 0)
	if err != nil {
		return "", false, err
	}

	req := &provider.Request{
		Model:       r.current.Model,
		MaxTokens:   r.current.MaxTokens,
		System:      r.current.Instructions,
		History:     history,
		Tools:       r.definitions(r.current),
		Temperature: r.current.Temperature,
		Thinking:    r.current.Reasoning,
	}

	outcome, err := r.streamWithRetry(ctx, req, sink, usage)
	if err != nil {
		return "", false, err
	}

	// Persist the message's reasoning and text in stream order before any
	// tool pair is written.
	var items []session.Item
	for _, summary := range outcome.reasonings {
		if summary != "" {
			items = append(items, session.NewReasoning([]string{summary}))
		}
	}
	if outcome.text != "" {
		items = append(items, session.NewAssistantMessage(outcome.text))
	}
	if len(items) > 0 {
		if err := r.store.AddItems(ctx, items...); err != nil {
			return "", false, err
		}
	}

	if len(outcome.toolCalls) == 0 {
		return outcome.text, true, nil
	}

	if err := r.reconcileTools(ctx, outcome.toolCalls, sink); err != nil {
		return "", false, err
	}
	return "", false, nil
}

func (r *Runner) streamWithRetry(ctx context.Context, req *provider.Request, sink Sink, usage *Usage) (*streamOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= modelRetryAttempts; attempt++ {
		outcome, err := r.consumeStream(ctx, req, sink, usage)
		if err == nil {
			r.countRequest("ok")
			return outcome, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.countRequest("cancelled")
			return nil, err
		}

		lastErr = err
		// A message that already reached the UI cannot be retried without
		// duplicating output.
		if !provider.IsRetryable(err) || outcome.emitted {
			r.countRequest("error")
			return nil, err
		}
		r.logger.Warn(ctx, "retrying model request", "attempt", attempt, "error", err)
		if attempt < modelRetryAttempts {
			if err := backoff.SleepWithBackoff(ctx, r.policy, attempt); err != nil {
				return nil, err
			}
		}
	}
	r.countRequest("error")
	return nil, lastErr
}

func (r *Runner) consumeStream(ctx context.Context, req *provider.Request, sink Sink, usage *Usage) (*streamOutcome, error) {
	outcome := &streamOutcome{}

	chunks, err := r.client.Stream(ctx, req)
	if err != nil {
		return outcome, provider.ClassifyError(err)
	}

	usage.Requests++

	var streamErr error
	done := false
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			streamErr = chunk.Error
		case chunk.Text != "":
			outcome.text += chunk.Text
			outcome.emitted = true
			sink(Event{Kind: EventTextDelta, Text: chunk.Text})
		case chunk.ThinkingStart:
			outcome.emitted = true
			sink(Event{Kind: EventReasoningStarted})
		case chunk.ThinkingDone:
			outcome.reasonings = append(outcome.reasonings, chunk.ThinkingSummary)
			sink(Event{Kind: EventReasoningCompleted, Text: chunk.ThinkingSummary})
		case chunk.ToolUse != nil:
			outcome.toolCalls = append(outcome.toolCalls, *chunk.ToolUse)
			outcome.emitted = true
			sink(Event{Kind: EventToolCallStarted, ToolCall: &ToolCallInfo{
				CallID:    chunk.ToolUse.ID,
				Name:      chunk.ToolUse.Name,
				Arguments: string(chunk.ToolUse.Input),
			}})
		case chunk.Done:
			done = true
			usage.InputTokens += chunk.InputTokens
			usage.OutputTokens += chunk.OutputTokens
			if r.metrics != nil {
				r.metrics.InputTokens.Add(float64(chunk.InputTokens))
				r.metrics.OutputTokens.Add(float64(chunk.OutputTokens))
			}
		}
	}

	if ctx.Err() != nil {
		return outcome, ctx.Err()
	}
	if streamErr != nil {
		return outcome, streamErr
	}
	if !done {
		return outcome, fmt.Errorf("%w: stream closed without completion", provider.ErrModelTransient)
	}

	sink(Event{Kind: EventMessageCompleted, Text: outcome.text})
	return outcome, nil
}

type toolResult struct {
	output  string
	isError bool
	err     error
}

// reconcileTools executes the message's tool calls with bounded
// parallelism and appends each call/output pair in the order the calls
// were emitted, regardless of completion order. Handoffs are applied
// in-order during reconciliation so agent switches are deterministic.
func (r *Runner) reconcileTools(ctx context.Context, calls []provider.ToolUse, sink Sink) error {
	results := make([]chan toolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(r.parallel)
	for i, call := range calls {
		results[i] = make(chan toolResult, 1)
		if call.Name == HandoffToolName {
			continue
		}
		out := results[i]
		call := call
		g.Go(func() error {
			callCtx := observability.WithCallID(ctx, call.ID)
			res, err := r.registry.Execute(callCtx, call.Name, call.Input)
			if err != nil {
				out <- toolResult{err: err}
				return nil
			}
			out <- toolResult{output: res.Content, isError: res.IsError}
			return nil
		})
	}

	for i, call := range calls {
		var res toolResult
		if call.Name == HandoffToolName {
			res = r.applyHandoff(call, sink)
		} else {
			select {
			case res = <-results[i]:
			case <-ctx.Done():
				// In-flight handlers see the same context and stop on
				// their own; their outputs are discarded.
				return ctx.Err()
			}
		}
		if res.err != nil {
			return res.err
		}

		sink(Event{Kind: EventToolCallCompleted, ToolOutput: &ToolOutputInfo{
			CallID:  call.ID,
			Output:  res.output,
			IsError: res.isError,
		}})
		// The pair is appended in one locked write so a crash or cancel
		// can never strand a call without its output.
		err := r.store.AddItems(ctx,
			session.NewToolCall(call.ID, call.Name, string(call.Input)),
			session.NewToolOutput(call.ID, res.output),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) applyHandoff(call provider.ToolUse, sink Sink) toolResult {
	var args handoffArgs
	if err := unmarshalArgs(call.Input, &args); err != nil || args.Agent == "" {
		return toolResult{output: "Error: handoff requires an agent name", isError: true}
	}

	target, ok := r.agents[args.Agent]
	if !ok || !r.current.CanHandoff(args.Agent) {
		return toolResult{
			output:  fmt.Sprintf("Error: cannot hand off to unknown agent %q", args.Agent),
			isError: true,
		}
	}

	r.current = target
	sink(Event{Kind: EventAgentHandoff, Handoff: target.Name})
	return toolResult{output: fmt.Sprintf("Transferred to agent %q.", target.Name)}
}

// definitions renders the model-visible tools for an agent, including the
// handoff tool when the agent has targets.
func (r *Runner) definitions(agent *Agent) []provider.ToolDef {
	defs := r.registry.Definitions(agent.Tools)
	if len(agent.Handoffs) > 0 {
		targets := make([]any, len(agent.Handoffs))
		for i, name := range agent.Handoffs {
			targets[i] = name
		}
		defs = append(defs, provider.ToolDef{
			Name:        HandoffToolName,
			Description: "Hand the conversation off to another agent.",
			Properties: map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Name of the agent to hand off to",
					"enum":        targets,
				},
			},
			Required: []string{"agent"},
		})
	}
	return defs
}

func (r *Runner) fail(sink Sink, err error) error {
	sink(Event{Kind: EventError, Err: classifyEvent(err)})
	return err
}

func (r *Runner) countRequest(outcome string) {
	if r.metrics != nil {
		r.metrics.ModelRequests.WithLabelValues(outcome).Inc()
	}
}

func classifyEvent(err error) *ErrorInfo {
	kind := "Internal"
	switch {
	case errors.Is(err, ErrTurnCapExceeded):
		kind = "TurnCapExceeded"
	case errors.Is(err, auth.ErrNotAuthenticated):
		kind = "NotAuthenticated"
	case errors.Is(err, auth.ErrAuthExpired):
		kind = "AuthExpired"
	case errors.Is(err, auth.ErrAuthTransient):
		kind = "AuthTransient"
	case errors.Is(err, provider.ErrModelTransient):
		kind = "ModelTransient"
	case errors.Is(err, provider.ErrModelFatal):
		kind = "ModelFatal"
	case errors.Is(err, provider.ErrModelAuth):
		kind = "AuthExpired"
	case errors.Is(err, session.ErrLockTimeout):
		kind = "LockTimeout"
	case errors.Is(err, session.ErrUnpairedToolCall):
		kind = "UnpairedToolCall"
	}
	return &ErrorInfo{Kind: kind, Detail: err.Error()}
}

func unmarshalArgs(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
