// Package orchestrator owns the agent registry and mediates every message
// between agents and the workflow layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sentinelsec/threatmesh/internal/agent"
)

// ErrUnknownAgent is returned for submissions addressed to an id that was
// never registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Orchestrator routes tasks to registered agents and drives their shared
// lifecycle.
type Orchestrator struct {
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]agent.Agent
}

// New creates an empty orchestrator.
func New(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		logger: logger.With("component", "orchestrator"),
		agents: make(map[string]agent.Agent),
	}
}

// Register adds an agent under its own id, replacing any previous
// registration for that id.
func (o *Orchestrator) Register(a agent.Agent) {
	o.mu.Lock()
	o.agents[a.ID()] = a
	o.mu.Unlock()
	o.logger.Info("agent registered", "agent_id", a.ID())
}

// Agent returns the registered agent for id, or nil.
func (o *Orchestrator) Agent(id string) agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.agents[id]
}

// InitializeAll initializes every registered agent.
func (o *Orchestrator) InitializeAll() {
	for _, a := range o.snapshot() {
		a.Initialize()
	}
	o.logger.Info("all agents initialized", "count", o.Count())
}

// StartAll starts every registered agent.
func (o *Orchestrator) StartAll() {
	for _, a := range o.snapshot() {
		a.Start()
	}
	o.logger.Info("all agents started", "count", o.Count())
}

// StopAll stops every registered agent.
func (o *Orchestrator) StopAll() {
	for _, a := range o.snapshot() {
		a.Stop()
	}
	o.logger.Info("all agents stopped", "count", o.Count())
}

// Count returns the number of registered agents.
func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.agents)
}

// Statuses returns a status snapshot per agent, ordered by agent id.
func (o *Orchestrator) Statuses() []agent.Status {
	agents := o.snapshot()
	statuses := make([]agent.Status, 0, len(agents))
	for _, a := range agents {
		statuses = append(statuses, a.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].AgentID < statuses[j].AgentID
	})
	return statuses
}

// Submit dispatches input to the agent registered under agentID and waits
// for its result.
func (o *Orchestrator) Submit(ctx context.Context, agentID string, input any) (any, error) {
	a := o.Agent(agentID)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	task := agent.NewTask(input)
	task.TargetAgentID = agentID

	select {
	case res := <-a.Submit(ctx, task):
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("agent %s: task %s: %w", agentID, task.ID, ctx.Err())
	}
}

// Route sends input through a chain of agents, feeding each agent's output
// to the next. A nil intermediate result short-circuits the chain and is
// returned as the final result.
func (o *Orchestrator) Route(ctx context.Context, input any, agentIDs ...string) (any, error) {
	current := input
	for _, id := range agentIDs {
		out, err := o.Submit(ctx, id, current)
		if err != nil {
			return nil, err
		}
		if out == nil {
			o.logger.Debug("routing chain short-circuited", "agent_id", id)
			return nil, nil
		}
		current = out
	}
	return current, nil
}

func (o *Orchestrator) snapshot() []agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	agents := make([]agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, a)
	}
	return agents
}
