// Package pipeline builds and executes capport pipelines: dependency
// inference and validation over the stage list, the linear and the
// update-driven concurrent execution strategies, and the run scheduler.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/task"
	"github.com/capport/capport/transform"
)

// Stage is one labelled unit of a pipeline, bound to its constructed task
// or compiled transform and the cell names it reads and writes.
type Stage struct {
	Label string
	Kind  string
	Task  string
	Args  map[string]interface{}
	Every time.Duration

	inputs  []string
	outputs []string

	driver task.Task
	plan   *transform.Transform

	runs uint64
}

// Inputs returns the cell names the stage reads.
func (s *Stage) Inputs() []string {
	return s.inputs
}

// Outputs returns the cell names the stage writes.
func (s *Stage) Outputs() []string {
	return s.outputs
}

// Runs returns how many invocations have completed.
func (s *Stage) Runs() uint64 {
	return atomic.LoadUint64(&s.runs)
}

// invoke runs the stage once against the given context.
func (s *Stage) invoke(ctx *task.Context) error {
	defer atomic.AddUint64(&s.runs, 1)
	switch s.Kind {
	case "source":
		src, ok := s.driver.(task.Source)
		if !ok {
			return errors.New(errors.ConfigValidate, s.Label, "%s", task.ErrFuncNotSupported{Name: s.Task, Func: "source"})
		}
		return src.Read(ctx)
	case "sink":
		snk, ok := s.driver.(task.Sink)
		if !ok {
			return errors.New(errors.ConfigValidate, s.Label, "%s", task.ErrFuncNotSupported{Name: s.Task, Func: "sink"})
		}
		return snk.Write(ctx)
	default:
		return s.plan.Run(ctx)
	}
}

// root reports whether the stage is wake-driven by a schedule or by having
// no inputs, rather than by updates of its input cells.
func (s *Stage) root() bool {
	return len(s.inputs) == 0 || s.Every > 0
}
