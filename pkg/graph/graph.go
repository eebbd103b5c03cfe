package graph

import (
	"fmt"

	"github.com/conveyorhq/conveyor/pkg/models"
)

// Definition is a validated, immutable workflow graph. It is built once at
// startup and shared read-only across all executions.
type Definition struct {
	name   string
	start  string
	states map[string]*models.State
}

// Name returns the workflow name.
func (d *Definition) Name() string { return d.name }

// Start returns the name of the start state.
func (d *Definition) Start() string { return d.start }

// StateNamed looks up a state by name.
func (d *Definition) StateNamed(name string) (*models.State, bool) {
	s, ok := d.states[name]

	return s, ok
}

// StateNames returns the declared state names, including branch sub-graph
// states. The order is unspecified.
func (d *Definition) StateNames() []string {
	names := make([]string, 0, len(d.states))
	for name := range d.states {
		names = append(names, name)
	}

	return names
}

// Build validates a workflow graph and returns its immutable definition.
// Branch sub-graphs of parallel states are flattened into the definition's
// namespace, so state names must be unique across the whole workflow.
func Build(name string, states []*models.State, start string) (*Definition, error) {
	def := &Definition{
		name:   name,
		start:  start,
		states: make(map[string]*models.State),
	}

	if err := collectStates(def, states); err != nil {
		return nil, err
	}

	if _, ok := def.states[start]; !ok {
		return nil, newDefinitionError(name, start, ErrStartStateMissing)
	}

	for _, state := range def.states {
		if err := validateState(def, state); err != nil {
			return nil, err
		}
	}

	if err := checkCycles(def); err != nil {
		return nil, err
	}

	return def, nil
}

func collectStates(def *Definition, states []*models.State) error {
	for _, state := range states {
		if _, exists := def.states[state.Name]; exists {
			return newDefinitionError(def.name, state.Name, ErrDuplicateState)
		}

		def.states[state.Name] = state

		if state.Type == models.StateTypeParallel && state.Parallel != nil {
			for _, branch := range state.Parallel.Branches {
				if err := collectStates(def, branch.States); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func validateState(def *Definition, state *models.State) error {
	specErr := func() error {
		return newDefinitionError(def.name, state.Name, ErrInvalidState)
	}

	targets := make([]string, 0, 4)

	switch state.Type {
	case models.StateTypeTask:
		if state.Task == nil || state.Task.AdapterKind == "" {
			return specErr()
		}

		if state.Next != "" {
			targets = append(targets, state.Next)
		}

		if state.Task.OnFailure != "" {
			targets = append(targets, state.Task.OnFailure)
		}
	case models.StateTypeWait:
		if state.Wait == nil || state.Wait.Duration <= 0 || state.Next == "" {
			return specErr()
		}

		targets = append(targets, state.Next)
	case models.StateTypeChoice:
		if state.Choice == nil {
			return specErr()
		}

		if len(state.Choice.Rules) == 0 && state.Choice.DefaultNext == "" {
			return newDefinitionError(def.name, state.Name, ErrChoiceExhaustible)
		}

		for _, rule := range state.Choice.Rules {
			targets = append(targets, rule.Next)
		}

		if state.Choice.DefaultNext != "" {
			targets = append(targets, state.Choice.DefaultNext)
		}
	case models.StateTypeParallel:
		if state.Parallel == nil || len(state.Parallel.Branches) == 0 || state.Next == "" {
			return specErr()
		}

		for _, branch := range state.Parallel.Branches {
			targets = append(targets, branch.Start)
		}

		targets = append(targets, state.Next)
	case models.StateTypePass:
		if state.Pass == nil {
			return specErr()
		}

		if !state.Pass.Terminal {
			if state.Next == "" {
				return specErr()
			}

			targets = append(targets, state.Next)
		}
	default:
		return newDefinitionError(def.name, state.Name, fmt.Errorf("%w: unknown type %q", ErrInvalidState, state.Type))
	}

	for _, target := range targets {
		if _, ok := def.states[target]; !ok {
			return newDefinitionError(def.name, state.Name, fmt.Errorf("%w: %q", ErrDanglingTransition, target))
		}
	}

	return nil
}

// edgesFor returns the outgoing edges considered by the cycle check. Wait
// states contribute no edges: a cycle through a wait is the intended
// poll-loop shape and cannot spin the interpreter.
func edgesFor(state *models.State) []string {
	if state.Type == models.StateTypeWait {
		return nil
	}

	edges := make([]string, 0, 4)

	if state.Next != "" {
		edges = append(edges, state.Next)
	}

	switch state.Type {
	case models.StateTypeTask:
		if state.Task.OnFailure != "" {
			edges = append(edges, state.Task.OnFailure)
		}
	case models.StateTypeChoice:
		for _, rule := range state.Choice.Rules {
			edges = append(edges, rule.Next)
		}

		if state.Choice.DefaultNext != "" {
			edges = append(edges, state.Choice.DefaultNext)
		}
	case models.StateTypeParallel:
		for _, branch := range state.Parallel.Branches {
			edges = append(edges, branch.Start)
		}
	case models.StateTypeWait, models.StateTypePass:
	}

	return edges
}

const (
	colorUnvisited = 0
	colorVisiting  = 1
	colorDone      = 2
)

func checkCycles(def *Definition) error {
	colors := make(map[string]int, len(def.states))

	var visit func(name string) error

	visit = func(name string) error {
		switch colors[name] {
		case colorVisiting:
			return newDefinitionError(def.name, name, ErrUnmediatedCycle)
		case colorDone:
			return nil
		}

		colors[name] = colorVisiting

		for _, next := range edgesFor(def.states[name]) {
			if err := visit(next); err != nil {
				return err
			}
		}

		colors[name] = colorDone

		return nil
	}

	for name := range def.states {
		if err := visit(name); err != nil {
			return err
		}
	}

	return nil
}
