// ABOUTME: Registry of flows, indexed by id and by entry trigger
// ABOUTME: Validates each flow's state table at registration

package conversation

import (
	"fmt"
	"strings"
	"sync"
)

// Global commands answered by the dispatcher itself. Flows may not claim them.
const (
	CommandStart  = "/start"
	CommandHelp   = "/help"
	CommandCancel = "/cancel"
)

// Registry holds flows in registration order.
type Registry struct {
	mu        sync.RWMutex
	flows     map[FlowID]*Flow
	byTrigger map[string]*Flow
	order     []FlowID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		flows:     make(map[FlowID]*Flow),
		byTrigger: make(map[string]*Flow),
	}
}

// Register adds flows. It fails on the first invalid or conflicting flow.
func (r *Registry) Register(flows ...*Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range flows {
		if err := validateFlow(f); err != nil {
			return err
		}
		trigger := strings.ToLower(f.Trigger)
		if _, exists := r.flows[f.ID]; exists {
			return fmt.Errorf("flow %q already registered", f.ID)
		}
		if other, exists := r.byTrigger[trigger]; exists {
			return fmt.Errorf("trigger %s already used by flow %q", trigger, other.ID)
		}
		r.flows[f.ID] = f
		r.byTrigger[trigger] = f
		r.order = append(r.order, f.ID)
	}
	return nil
}

func validateFlow(f *Flow) error {
	if f == nil {
		return fmt.Errorf("nil flow")
	}
	if f.ID == "" {
		return fmt.Errorf("flow id is required")
	}
	if !strings.HasPrefix(f.Trigger, "/") || strings.ContainsAny(f.Trigger, " \t\n@") || len(f.Trigger) < 2 {
		return fmt.Errorf("flow %q: trigger %q must be a single /command", f.ID, f.Trigger)
	}
	switch strings.ToLower(f.Trigger) {
	case CommandStart, CommandHelp, CommandCancel:
		return fmt.Errorf("flow %q: trigger %s is reserved", f.ID, f.Trigger)
	}
	if f.Start == nil {
		return fmt.Errorf("flow %q: start step is required", f.ID)
	}
	if _, ok := f.States[f.Initial]; !ok {
		return fmt.Errorf("flow %q: initial state %q is not defined", f.ID, f.Initial)
	}
	for id, st := range f.States {
		if st.Step == nil {
			return fmt.Errorf("flow %q: state %q has no step", f.ID, id)
		}
	}
	return nil
}

// Flow returns the flow with id, or nil.
func (r *Registry) Flow(id FlowID) *Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flows[id]
}

// ByTrigger returns the flow whose entry trigger is command, or nil.
func (r *Registry) ByTrigger(command string) *Flow {
	if command == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTrigger[strings.ToLower(command)]
}

// Flows returns every flow in registration order.
func (r *Registry) Flows() []*Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Flow, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.flows[id])
	}
	return out
}

// Help lists the global commands and every flow trigger.
func (r *Registry) Help() string {
	var b strings.Builder
	b.WriteString(CommandStart + " - Welcome message\n")
	b.WriteString(CommandHelp + " - List commands\n")
	for _, f := range r.Flows() {
		b.WriteString(f.Help())
		b.WriteString("\n")
	}
	b.WriteString(CommandCancel + " - Cancel operation")
	return b.String()
}
