// Package task defines the execution context handed to every stage and the
// registry of driver implementations dispatched by name. Drivers register
// themselves in their package init; task/all imports every built-in driver
// for side effect.
package task

import (
	"fmt"

	"github.com/capport/capport/config"
)

// ErrNotFound gives the details of the failed task lookup.
type ErrNotFound struct {
	Name string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("task '%s' not found in registry", e.Name)
}

// ErrFuncNotSupported should be used when a task does not support a
// capability required by its stage kind.
type ErrFuncNotSupported struct {
	Name string
	Func string
}

func (e ErrFuncNotSupported) Error() string {
	return fmt.Sprintf("'%s' does not support '%s' function", e.Name, e.Func)
}

// Task is a constructed driver bound to one stage's resolved configuration.
// Capabilities are discovered by asserting Source and Sink.
type Task interface{}

// Source is the capability of tasks that ingest external data and publish
// a frame to their output cells.
type Source interface {
	Read(ctx *Context) error
}

// Sink is the capability of tasks that read a cell and emit to an external
// store or file.
type Sink interface {
	Write(ctx *Context) error
}

// InputReporter exposes the cell names a constructed task reads, for
// dependency inference.
type InputReporter interface {
	Inputs() []string
}

// OutputReporter exposes the cell names a constructed task writes.
type OutputReporter interface {
	Outputs() []string
}

// Describable defines the interface tasks should follow to support the
// help listings.
type Describable interface {
	SampleConfig() string
	Description() string
}

// Creator defines the init structure for a task driver.
type Creator func() Task

var tasks = map[string]Creator{}

// Add should be called in the init func of a driver package.
func Add(name string, creator Creator) {
	tasks[name] = creator
}

// GetTask looks up a driver by name and constructs it from the resolved
// configuration. Returns ErrNotFound if the name was never registered.
func GetTask(name string, conf config.Config) (Task, error) {
	creator, ok := tasks[name]
	if !ok {
		return nil, ErrNotFound{name}
	}
	t := creator()
	if err := conf.Construct(t); err != nil {
		return nil, err
	}
	return t, nil
}

// RegisteredTasks returns a slice of the names of every task registered.
func RegisteredTasks() []string {
	all := make([]string, 0, len(tasks))
	for name := range tasks {
		all = append(all, name)
	}
	return all
}

// Tasks returns a non-initialized task per name, for capability assertions
// in listings.
func Tasks() map[string]Task {
	all := make(map[string]Task, len(tasks))
	for name, c := range tasks {
		all[name] = c()
	}
	return all
}
