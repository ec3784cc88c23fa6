package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vibecore-ai/vibecore/internal/observability"
	"github.com/vibecore-ai/vibecore/internal/provider"
	"github.com/vibecore-ai/vibecore/internal/session"
	"github.com/vibecore-ai/vibecore/internal/tools"
)

// TaskToolName is the built-in tool that spawns a sub-agent.
const TaskToolName = "task"

type taskArgs struct {
	Description string `json:"description,omitempty" jsonschema_description:"Short label for the task, shown while it runs"`
	Prompt      string `json:"prompt" jsonschema_description:"The full instructions for the sub-agent"`
	Agent       string `json:"agent,omitempty" jsonschema_description:"Named agent to run the task as"`
}

// Supervisor is the task tool. Each invocation runs a child turn loop with
// its own in-memory session; the child's final message becomes the tool
// output. Child events surface through the parent sink wrapped with the
// spawning call id, and cancelling the parent context cancels the child.
type Supervisor struct {
	client       provider.Client
	registry     *tools.Registry
	agents       map[string]*Agent
	defaultAgent string
	sink         Sink
	opts         []RunnerOption
}

// NewSupervisor builds the task tool. defaultAgent names the agent a task
// runs as when the arguments do not pick one.
func NewSupervisor(client provider.Client, registry *tools.Registry, agents map[string]*Agent, defaultAgent string, sink Sink, opts ...RunnerOption) *Supervisor {
	return &Supervisor{
		client:       client,
		registry:     registry,
		agents:       agents,
		defaultAgent: defaultAgent,
		sink:         sink,
		opts:         opts,
	}
}

func (s *Supervisor) Name() string { return TaskToolName }

func (s *Supervisor) Description() string {
	return "Delegate a self-contained task to a sub-agent that works in its own context and returns a single final answer."
}

func (s *Supervisor) Schema() tools.Schema { return tools.SchemaFor[taskArgs]() }

func (s *Supervisor) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args taskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}
	if args.Prompt == "" {
		return tools.Errorf("Error: task requires a prompt"), nil
	}

	name := args.Agent
	if name == "" {
		name = s.defaultAgent
	}
	parentAgent, ok := s.agents[name]
	if !ok {
		return tools.Errorf("Error: unknown agent %q", name), nil
	}

	// The child sees every tool except task itself, so delegation cannot
	// recurse.
	child := *parentAgent
	child.Tools = s.registry.Subset(TaskToolName)
	child.Handoffs = nil

	parentCallID, _ := ctx.Value(observability.CallIDKey).(string)

	runner, err := NewRunner(s.client, s.registry, session.NewMemoryStore(),
		map[string]*Agent{child.Name: &child}, child.Name, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("spawn sub-agent: %w", err)
	}

	var final string
	err = runner.RunTurn(ctx, args.Prompt, func(ev Event) {
		if ev.Kind == EventTurnFinished {
			final = ev.Text
		}
		if s.sink != nil {
			s.sink(Event{Kind: EventSubAgent, SubAgent: &SubAgentEvent{
				ParentCallID: parentCallID,
				Event:        &ev,
			}})
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("Error: sub-agent failed: %v", err), nil
	}
	if final == "" {
		final = "(sub-agent produced no output)"
	}
	return &tools.Result{Content: final}, nil
}
