package domain

import (
	"fmt"
	"sort"
)

// StateRegistry is the static catalog of lifecycle states and the legal
// (from, to) edge tables per workflow type. Pure lookups after construction;
// unknown codes are a configuration error caught at boot.
type StateRegistry struct {
	states map[StateCode]State
	types  map[string]WorkflowType
	edges  map[string]map[StateCode]map[StateCode]bool
	finals map[string]map[StateCode]bool
}

// DefaultStates returns the built-in lifecycle state catalog.
func DefaultStates() []State {
	return []State{
		{Code: StateDraft, Initial: true},
		{Code: StatePendingReview},
		{Code: StateUnderReview},
		{Code: StateReviewCompleted},
		{Code: StatePendingApproval},
		{Code: StateUnderApproval},
		{Code: StateApprovedPendingEffective},
		{Code: StateEffective},
		{Code: StateSuperseded, Terminal: true},
		{Code: StateObsolete, Terminal: true},
		{Code: StateTerminated, Terminal: true},
	}
}

// NewStateRegistry validates the catalog and builds the lookup tables.
func NewStateRegistry(states []State, types []WorkflowType) (*StateRegistry, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("state registry: no states configured")
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("state registry: no workflow types configured")
	}

	reg := &StateRegistry{
		states: make(map[StateCode]State, len(states)),
		types:  make(map[string]WorkflowType, len(types)),
		edges:  make(map[string]map[StateCode]map[StateCode]bool, len(types)),
		finals: make(map[string]map[StateCode]bool, len(types)),
	}

	for _, s := range states {
		if s.Code == "" {
			return nil, fmt.Errorf("state registry: empty state code")
		}
		if _, dup := reg.states[s.Code]; dup {
			return nil, fmt.Errorf("state registry: duplicate state %s", s.Code)
		}
		reg.states[s.Code] = s
	}

	for _, wt := range types {
		if wt.Code == "" {
			return nil, fmt.Errorf("state registry: workflow type without code")
		}
		if _, dup := reg.types[wt.Code]; dup {
			return nil, fmt.Errorf("state registry: duplicate workflow type %s", wt.Code)
		}
		if _, ok := reg.states[wt.InitialState]; !ok {
			return nil, fmt.Errorf("workflow type %s: %w: initial state %s", wt.Code, ErrUnknownState, wt.InitialState)
		}

		edges := make(map[StateCode]map[StateCode]bool)
		for _, e := range wt.Transitions {
			if _, ok := reg.states[e.From]; !ok {
				return nil, fmt.Errorf("workflow type %s: %w: transition from %s", wt.Code, ErrUnknownState, e.From)
			}
			if _, ok := reg.states[e.To]; !ok {
				return nil, fmt.Errorf("workflow type %s: %w: transition to %s", wt.Code, ErrUnknownState, e.To)
			}
			if edges[e.From] == nil {
				edges[e.From] = make(map[StateCode]bool)
			}
			edges[e.From][e.To] = true
		}

		finals := make(map[StateCode]bool, len(wt.FinalStates))
		for _, f := range wt.FinalStates {
			if _, ok := reg.states[f]; !ok {
				return nil, fmt.Errorf("workflow type %s: %w: final state %s", wt.Code, ErrUnknownState, f)
			}
			finals[f] = true
		}

		reg.types[wt.Code] = wt
		reg.edges[wt.Code] = edges
		reg.finals[wt.Code] = finals
	}

	return reg, nil
}

// State looks up a state by code.
func (r *StateRegistry) State(code StateCode) (State, bool) {
	s, ok := r.states[code]
	return s, ok
}

// Type looks up a workflow type by code.
func (r *StateRegistry) Type(code string) (WorkflowType, bool) {
	wt, ok := r.types[code]
	return wt, ok
}

// IsLegalTransition reports whether (from, to) is a declared edge of the
// workflow type. TERMINATED is always reachable from any state that is not
// already terminal for the type: the manual escape hatch.
func (r *StateRegistry) IsLegalTransition(typeCode string, from, to StateCode) bool {
	edges, ok := r.edges[typeCode]
	if !ok {
		return false
	}
	if _, ok := r.states[from]; !ok {
		return false
	}
	if _, ok := r.states[to]; !ok {
		return false
	}
	if to == StateTerminated && !r.IsTerminalFor(typeCode, from) {
		return true
	}
	return edges[from][to]
}

// IsTerminalFor reports whether the state ends workflows of the given type:
// either globally terminal or declared in the type's final states.
func (r *StateRegistry) IsTerminalFor(typeCode string, code StateCode) bool {
	if s, ok := r.states[code]; ok && s.Terminal {
		return true
	}
	return r.finals[typeCode][code]
}

// AllowedTransitions returns the sorted target states reachable from a state
// under the given workflow type, the escape hatch included.
func (r *StateRegistry) AllowedTransitions(typeCode string, from StateCode) []StateCode {
	targets := make(map[StateCode]bool)
	for to := range r.edges[typeCode][from] {
		targets[to] = true
	}
	if !r.IsTerminalFor(typeCode, from) {
		if _, ok := r.states[from]; ok {
			targets[StateTerminated] = true
		}
	}

	out := make([]StateCode, 0, len(targets))
	for to := range targets {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
