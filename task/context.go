package task

import (
	"github.com/capport/capport/config"
	"github.com/capport/capport/env"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/log"
	"github.com/capport/capport/model"
	"github.com/capport/capport/universe"
)

// Context is the handle each task invocation receives: the universe, the
// typed registries, the environment, a stage-scoped logger and the
// cancellation signal. It implements transform.Env.
type Context struct {
	Pipeline string
	Stage    string

	Universe    *universe.Universe
	Env         *env.Registry
	Models      map[string]*model.Model
	Connections map[string]config.ConnectionConfig

	// Args is the stage's argument map as written in the pipeline config,
	// already substituted into the task configuration at build time.
	Args map[string]interface{}

	Log     log.Logger
	Execute bool
	Done    <-chan struct{}
}

// Read returns the current frame of the named cell.
func (c *Context) Read(cell string) (*frame.Frame, error) {
	cl, err := c.Universe.Cell(cell)
	if err != nil {
		return nil, errors.New(errors.ConfigValidate, c.Stage, "%s", err)
	}
	f, _ := cl.Read()
	return f, nil
}

// Publish atomically replaces the named cell's frame and wakes listeners.
func (c *Context) Publish(cell string, f *frame.Frame) error {
	cl, err := c.Universe.Cell(cell)
	if err != nil {
		return errors.New(errors.ConfigValidate, c.Stage, "%s", err)
	}
	cl.Publish(f, c.Stage)
	return nil
}

// Logger returns the stage-scoped logger.
func (c *Context) Logger() log.Logger {
	if c.Log == nil {
		return log.With("stage", c.Stage)
	}
	return c.Log
}

// Model returns the named model from the registry.
func (c *Context) Model(name string) (*model.Model, error) {
	m, ok := c.Models[name]
	if !ok {
		return nil, errors.New(errors.ConfigValidate, c.Stage, "model %q not found", name)
	}
	return m, nil
}

// ConnectionInfo is a connection template resolved against the environment
// registry.
type ConnectionInfo struct {
	Name     string
	Kind     string
	URL      string
	User     string
	Password string
	DB       string
}

// Connection resolves the named connection template once, at task run
// time, against the environment registry. Drivers must not read the
// environment in their hot paths.
func (c *Context) Connection(name string) (ConnectionInfo, error) {
	cfg, ok := c.Connections[name]
	if !ok {
		return ConnectionInfo{}, errors.New(errors.ConfigValidate, c.Stage, "connection %q not found", name)
	}
	info := ConnectionInfo{Name: cfg.Name, Kind: cfg.Kind}
	lookup := func(envKey string) (string, error) {
		if envKey == "" {
			return "", nil
		}
		v, ok := c.Env.Get(envKey)
		if !ok {
			return "", errors.New(errors.ConfigValidate, c.Stage, "connection %q needs environment key %q", name, envKey)
		}
		return v, nil
	}
	var err error
	if info.URL, err = lookup(cfg.URLEnv); err != nil {
		return ConnectionInfo{}, err
	}
	if info.User, err = lookup(cfg.UserEnv); err != nil {
		return ConnectionInfo{}, err
	}
	if info.Password, err = lookup(cfg.PasswordEnv); err != nil {
		return ConnectionInfo{}, err
	}
	if info.DB, err = lookup(cfg.DBEnv); err != nil {
		return ConnectionInfo{}, err
	}
	return info, nil
}

// Cancelled reports whether the run-wide cancellation signal has fired.
func (c *Context) Cancelled() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}
