package statemachine

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is a declarative machine description:
//
//	name: orders
//	start: created
//	retry_attempts: 20
//	retry_interval: 250ms
//	states:
//	  - name: created
//	  - name: pending
//	    blocking: true
//	  - name: shipped
//	    end: true
//	transitions:
//	  - from: created
//	    event: pay
//	    to: pending
//	    actions: [charge]
type Definition struct {
	Name          string                 `yaml:"name"`
	Start         string                 `yaml:"start"`
	RetryAttempts *int                   `yaml:"retry_attempts"`
	RetryInterval string                 `yaml:"retry_interval"`
	States        []StateDefinition      `yaml:"states"`
	Transitions   []TransitionDefinition `yaml:"transitions"`
}

type StateDefinition struct {
	Name     string `yaml:"name"`
	End      bool   `yaml:"end"`
	Blocking bool   `yaml:"blocking"`
}

type TransitionDefinition struct {
	From    string   `yaml:"from"`
	Event   string   `yaml:"event"`
	To      string   `yaml:"to"`
	Actions []string `yaml:"actions"`
}

// LoadDefinition decodes a YAML machine definition.
func LoadDefinition(r io.Reader) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode machine definition: %w", err)
	}
	return &def, nil
}

// Options converts the definition's name and retry settings into FSM options.
func (d *Definition) Options() ([]Option, error) {
	opts := []Option{WithName(d.Name)}
	if d.RetryAttempts != nil {
		opts = append(opts, WithRetryAttempts(*d.RetryAttempts))
	}
	if d.RetryInterval != "" {
		interval, err := time.ParseDuration(d.RetryInterval)
		if err != nil {
			return nil, fmt.Errorf("retry_interval: %w", err)
		}
		opts = append(opts, WithRetryInterval(interval))
	}
	return opts, nil
}

// BuildDefinition assembles the states of def. Action names are resolved
// against actions; an unknown name is an error.
func BuildDefinition[T any](def *Definition, actions map[string]Action[T]) (*Machine[T], error) {
	b := NewBuilder[T](def.Start)
	for _, s := range def.States {
		var opts []StateOption
		if s.End {
			opts = append(opts, AsEndState())
		}
		if s.Blocking {
			opts = append(opts, AsBlocking())
		}
		b.State(s.Name, opts...)
	}

	for _, t := range def.Transitions {
		b.From(t.From).When(t.Event).To(t.To)
		for _, name := range t.Actions {
			a, ok := actions[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q on %s(%s)", ErrUnknownAction, name, t.From, t.Event)
			}
			b.WithAction(a)
		}
		b.Add()
	}
	return b.Build()
}
