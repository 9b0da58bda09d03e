// Package transform compiles the declarative select/join/drop/format/concat
// DSL into an executable plan against a Frame. Stage arguments are resolved
// into the raw specification before compilation, so a compiled transform is
// fully bound to concrete cell names.
package transform

import (
	"fmt"

	"github.com/capport/capport/config"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/log"
)

// Env is the narrow surface a transform needs at run time: reading and
// publishing universe cells. task.Context implements it.
type Env interface {
	Read(cell string) (*frame.Frame, error)
	Publish(cell string, f *frame.Frame) error
	Logger() log.Logger
}

// Transform is a compiled, ordered sequence of steps between an input cell
// and an output cell.
type Transform struct {
	Label  string
	Input  string
	Output string

	steps []step
}

type step interface {
	name() string
	apply(env Env, f *frame.Frame) (*frame.Frame, error)
}

// reads is implemented by steps that consult cells beside the working frame.
type reads interface {
	inputs() []string
}

// Compile builds an executable plan from the resolved raw specification:
// {input, output, steps: [{select: …}, {join: …}, …]}.
func Compile(label string, cfg config.Config) (*Transform, error) {
	t := &Transform{
		Label:  label,
		Input:  cfg.GetString("input"),
		Output: cfg.GetString("output"),
	}
	if t.Input == "" {
		return nil, errors.New(errors.ConfigValidate, label, "transform has no input cell")
	}
	if t.Output == "" {
		return nil, errors.New(errors.ConfigValidate, label, "transform has no output cell")
	}

	rawSteps, _ := cfg["steps"].([]interface{})
	for i, rawStep := range rawSteps {
		m, ok := rawStep.(map[string]interface{})
		if !ok || len(m) != 1 {
			return nil, errors.New(errors.ConfigValidate, label, "step %d must be a map with exactly one action key, got %v", i, rawStep)
		}
		var action string
		var body interface{}
		for k, v := range m {
			action, body = k, v
		}
		s, err := compileStep(label, action, body)
		if err != nil {
			return nil, err
		}
		t.steps = append(t.steps, s)
	}

	// a task may not read and write the same cell: the runner would
	// deadlock waking itself
	for _, in := range t.Inputs() {
		if in == t.Output {
			return nil, errors.New(errors.ConfigValidate, label, "transform reads and writes cell %q", in)
		}
	}
	return t, nil
}

// Inputs returns every cell name the plan reads: the input cell plus each
// join's right side.
func (t *Transform) Inputs() []string {
	seen := map[string]bool{t.Input: true}
	ins := []string{t.Input}
	for _, s := range t.steps {
		if r, ok := s.(reads); ok {
			for _, c := range r.inputs() {
				if !seen[c] {
					seen[c] = true
					ins = append(ins, c)
				}
			}
		}
	}
	return ins
}

// Outputs returns the cell names the plan writes.
func (t *Transform) Outputs() []string {
	return []string{t.Output}
}

// Steps returns the step names in order, for listings and logs.
func (t *Transform) Steps() []string {
	names := make([]string, len(t.steps))
	for i, s := range t.steps {
		names[i] = s.name()
	}
	return names
}

// Run reads the input cell, threads the working frame through every step
// and publishes the result to the output cell.
func (t *Transform) Run(env Env) error {
	f, err := env.Read(t.Input)
	if err != nil {
		return err
	}
	out, err := t.ApplyTo(env, f)
	if err != nil {
		return err
	}
	return env.Publish(t.Output, out)
}

// ApplyTo runs the plan against a given working frame without touching the
// input or output cells, except for steps that read other cells (joins).
func (t *Transform) ApplyTo(env Env, f *frame.Frame) (*frame.Frame, error) {
	for i, s := range t.steps {
		var err error
		f, err = s.apply(env, f)
		if err != nil {
			return nil, fmt.Errorf("%s: step %d (%s): %w", t.Label, i, s.name(), err)
		}
	}
	return f, nil
}
