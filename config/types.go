package config

import (
	"sort"
	"time"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/log"
	"github.com/capport/capport/model"
)

// StageConfig is one labelled unit of a pipeline.
type StageConfig struct {
	Label string                 `json:"label"`
	Kind  string                 `json:"kind"`
	Task  string                 `json:"task"`
	Args  map[string]interface{} `json:"args"`
	Every string                 `json:"every"`
}

// EveryDuration parses the stage's loop schedule, or zero.
func (s StageConfig) EveryDuration() (time.Duration, error) {
	if s.Every == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Every)
	if err != nil {
		return 0, errors.New(errors.ConfigValidate, s.Label, "invalid every %q: %s", s.Every, err)
	}
	return d, nil
}

// PipelineConfig is an ordered list of stages.
type PipelineConfig struct {
	Name   string        `json:"name"`
	Stages []StageConfig `json:"stages"`
}

// ConnectionConfig is a named client template. Credentials indirect through
// the environment registry and are resolved once at pipeline build time.
type ConnectionConfig struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	URLEnv      string `json:"url_env"`
	UserEnv     string `json:"user_env"`
	PasswordEnv string `json:"password_env"`
	DBEnv       string `json:"db_env"`
}

// ScheduleConfig drives repeated runner executions.
type ScheduleConfig struct {
	Timezone       string `json:"timezone"`
	Every          string `json:"every"`
	At             string `json:"at"`
	RepeatingEvery string `json:"repeating_every"`
	Times          int    `json:"times"`
}

// RunnerConfig names an execution strategy and its logger.
type RunnerConfig struct {
	Name     string          `json:"name"`
	Mode     string          `json:"mode"`
	Logger   string          `json:"logger"`
	Schedule *ScheduleConfig `json:"schedule"`
}

// Runner modes.
const (
	ModeDebug  = "debug"
	ModeOnce   = "once"
	ModeFanout = "fanout"
	ModeLoop   = "loop"
)

// ParsePipeline types the raw pipeline subtree registered under name.
func (p *Pack) ParsePipeline(name string) (PipelineConfig, error) {
	raw, ok := p.GetConfig(KindPipeline, name)
	if !ok {
		return PipelineConfig{}, errors.New(errors.ConfigValidate, name, "pipeline %q not found, have %v", name, p.Names(KindPipeline))
	}
	var cfg PipelineConfig
	if err := raw.Construct(&cfg); err != nil {
		return PipelineConfig{}, errors.New(errors.ConfigParse, name, "malformed pipeline: %s", err)
	}
	cfg.Name = name
	seen := map[string]string{}
	for i := range cfg.Stages {
		st := &cfg.Stages[i]
		if st.Label == "" {
			return PipelineConfig{}, errors.New(errors.ConfigValidate, name, "stage %d has no label", i)
		}
		if _, dup := seen[st.Label]; dup {
			return PipelineConfig{}, errors.New(errors.ConfigValidate, name, "duplicate stage label %q", st.Label)
		}
		seen[st.Label] = st.Label
		switch st.Kind {
		case "source", "transform", "sink":
		default:
			return PipelineConfig{}, errors.New(errors.ConfigValidate, name, "stage %q has unknown kind %q", st.Label, st.Kind)
		}
	}
	return cfg, nil
}

// ParseRunner types the raw runner subtree registered under name.
func (p *Pack) ParseRunner(name string) (RunnerConfig, error) {
	raw, ok := p.GetConfig(KindRunner, name)
	if !ok {
		return RunnerConfig{}, errors.New(errors.ConfigValidate, name, "runner %q not found, have %v", name, p.Names(KindRunner))
	}
	var cfg RunnerConfig
	if err := raw.Construct(&cfg); err != nil {
		return RunnerConfig{}, errors.New(errors.ConfigParse, name, "malformed runner: %s", err)
	}
	cfg.Name = name
	switch cfg.Mode {
	case "", ModeOnce:
		cfg.Mode = ModeOnce
	case ModeDebug, ModeFanout, ModeLoop:
	default:
		return RunnerConfig{}, errors.New(errors.ConfigValidate, name, "unknown run mode %q", cfg.Mode)
	}
	return cfg, nil
}

// ParseConnection types the raw connection subtree registered under name.
func (p *Pack) ParseConnection(name string) (ConnectionConfig, error) {
	raw, ok := p.GetConfig(KindConnection, name)
	if !ok {
		return ConnectionConfig{}, errors.New(errors.ConfigValidate, name, "connection %q not found, have %v", name, p.Names(KindConnection))
	}
	var cfg ConnectionConfig
	if err := raw.Construct(&cfg); err != nil {
		return ConnectionConfig{}, errors.New(errors.ConfigParse, name, "malformed connection: %s", err)
	}
	cfg.Name = name
	return cfg, nil
}

// ParseLogger types the raw logger subtree registered under name.
func (p *Pack) ParseLogger(name string) (log.Config, error) {
	raw, ok := p.GetConfig(KindLogger, name)
	if !ok {
		return log.Config{}, errors.New(errors.ConfigValidate, name, "logger %q not found, have %v", name, p.Names(KindLogger))
	}
	var cfg log.Config
	if err := raw.Construct(&cfg); err != nil {
		return log.Config{}, errors.New(errors.ConfigParse, name, "malformed logger: %s", err)
	}
	cfg.Name = name
	return cfg, nil
}

// ParseModel types the raw model subtree registered under name. Fields map
// a column name to either a dtype string or {dtype, constraints}; field
// order follows the sorted column names.
func (p *Pack) ParseModel(name string) (*model.Model, error) {
	raw, ok := p.GetConfig(KindModel, name)
	if !ok {
		return nil, errors.New(errors.ConfigValidate, name, "model %q not found, have %v", name, p.Names(KindModel))
	}
	fieldsRaw := raw
	if sub := AsConfig(raw["fields"]); sub != nil {
		fieldsRaw = sub
	}
	names := make([]string, 0, len(fieldsRaw))
	for fname := range fieldsRaw {
		names = append(names, fname)
	}
	sort.Strings(names)

	m := &model.Model{Label: name}
	for _, fname := range names {
		spec := fieldsRaw[fname]
		var (
			dtypeStr    string
			constraints []string
		)
		switch x := spec.(type) {
		case string:
			dtypeStr = x
		case map[string]interface{}:
			dtypeStr, _ = x["dtype"].(string)
			if cs, ok := x["constraints"].([]interface{}); ok {
				for _, c := range cs {
					constraints = append(constraints, toString(c))
				}
			}
		default:
			return nil, errors.New(errors.ConfigParse, name, "field %q must be a dtype string or a map", fname)
		}
		dt, err := frame.ParseDType(dtypeStr)
		if err != nil {
			return nil, errors.New(errors.ConfigParse, name, "field %q: %s", fname, err)
		}
		for _, c := range constraints {
			switch c {
			case model.Primary, model.Unique, model.NotNull, model.Foreign:
			default:
				return nil, errors.New(errors.ConfigValidate, name, "field %q has unknown constraint %q", fname, c)
			}
		}
		m.Fields = append(m.Fields, model.Field{Name: fname, Type: dt, Constraints: constraints})
	}
	return m, nil
}
