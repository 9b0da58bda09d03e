// Package noop provides a placeholder driver that threads a frame through
// unchanged. Useful in tests and as a scaffold while a pipeline is being
// written.
package noop

import (
	"github.com/capport/capport/frame"
	"github.com/capport/capport/task"
)

var (
	_ task.Source = &Noop{}
	_ task.Sink   = &Noop{}
)

// Noop copies its input cell to its output cell, or publishes an empty
// frame when it has no input.
type Noop struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func init() {
	task.Add("noop", func() task.Task { return &Noop{} })
}

// Description for noop driver
func (n *Noop) Description() string {
	return "a driver that passes frames through unchanged"
}

// SampleConfig for noop driver
func (n *Noop) SampleConfig() string {
	return `    type: noop
    input: A
    output: B`
}

// Inputs reports the optional input cell.
func (n *Noop) Inputs() []string {
	if n.Input == "" {
		return nil
	}
	return []string{n.Input}
}

// Outputs reports the optional output cell.
func (n *Noop) Outputs() []string {
	if n.Output == "" {
		return nil
	}
	return []string{n.Output}
}

// Read publishes the input frame, or an empty one, to the output cell.
func (n *Noop) Read(ctx *task.Context) error {
	if n.Output == "" {
		return nil
	}
	out := frame.Empty()
	if n.Input != "" {
		var err error
		if out, err = ctx.Read(n.Input); err != nil {
			return err
		}
	}
	return ctx.Publish(n.Output, out)
}

// Write logs the frame and does nothing else.
func (n *Noop) Write(ctx *task.Context) error {
	if n.Input == "" {
		return nil
	}
	in, err := ctx.Read(n.Input)
	if err != nil {
		return err
	}
	ctx.Logger().With("rows", in.NumRows()).Infoln("noop sink")
	return nil
}
