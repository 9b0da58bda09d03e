package task

import (
	"github.com/capport/capport/config"
	"github.com/capport/capport/env"
	"github.com/capport/capport/log"
	"github.com/capport/capport/model"
	"github.com/capport/capport/universe"
)

// NewTestContext builds a Context around a fresh universe with the given
// cells, for driver tests.
func NewTestContext(cells []string, execute bool) *Context {
	return &Context{
		Pipeline:    "test",
		Stage:       "test_stage",
		Universe:    universe.New(cells, 0),
		Env:         env.New(),
		Models:      map[string]*model.Model{},
		Connections: map[string]config.ConnectionConfig{},
		Log:         log.With("stage", "test_stage"),
		Execute:     execute,
		Done:        make(chan struct{}),
	}
}
