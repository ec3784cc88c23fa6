package engine

import (
	"fmt"
)

// Agent is a named model persona: instructions, allowed tools, and handoff
// targets. Agents are immutable after construction; a handoff switches
// which agent a turn uses, it never mutates one.
type Agent struct {
	Name         string
	Instructions string
	Model        string
	MaxTokens    int64
	Temperature  *float64
	Reasoning    bool

	// Tools restricts the registry tools this agent may call. Nil means
	// all registered tools.
	Tools []string

	// Handoffs names the agents this one may hand the conversation to.
	Handoffs []string
}

// HandoffToolName is the built-in tool the model calls to switch agents.
const HandoffToolName = "handoff"

// handoffArgs is the argument shape of the handoff tool.
type handoffArgs struct {
	Agent string `json:"agent"`
}

// CanHandoff reports whether this agent may switch to the named target.
func (a *Agent) CanHandoff(target string) bool {
	for _, name := range a.Handoffs {
		if name == target {
			return true
		}
	}
	return false
}

// validateAgents checks that every handoff target exists.
func validateAgents(agents map[string]*Agent) error {
	for name, agent := range agents {
		if agent.Name != name {
			return fmt.Errorf("agent registered as %q but named %q", name, agent.Name)
		}
		for _, target := range agent.Handoffs {
			if _, ok := agents[target]; !ok {
				return fmt.Errorf("agent %q hands off to unknown agent %q", name, target)
			}
		}
	}
	return nil
}
