package pipeline

import (
	"fmt"
	"sort"

	"github.com/capport/capport/config"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
	"github.com/capport/capport/transform"
)

// Pipeline is the validated, fully bound description of one data flow: the
// ordered stages, the inferred dependency graph and the registries the
// stages resolve against.
type Pipeline struct {
	Name   string
	Stages []*Stage

	models      map[string]*model.Model
	connections map[string]config.ConnectionConfig
}

// Build binds a named pipeline from the config pack: stage arguments are
// resolved into task configurations, drivers constructed, transforms
// compiled and the dependency graph validated. Everything that can fail at
// load time fails here.
func Build(pack *config.Pack, name string) (*Pipeline, error) {
	cfg, err := pack.ParsePipeline(name)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Name:        name,
		models:      map[string]*model.Model{},
		connections: map[string]config.ConnectionConfig{},
	}
	for _, mname := range pack.Names(config.KindModel) {
		m, err := pack.ParseModel(mname)
		if err != nil {
			return nil, err
		}
		p.models[mname] = m
	}
	for _, cname := range pack.Names(config.KindConnection) {
		c, err := pack.ParseConnection(cname)
		if err != nil {
			return nil, err
		}
		p.connections[cname] = c
	}

	for _, sc := range cfg.Stages {
		st, err := buildStage(pack, sc)
		if err != nil {
			return nil, err
		}
		p.Stages = append(p.Stages, st)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildStage(pack *config.Pack, sc config.StageConfig) (*Stage, error) {
	every, err := sc.EveryDuration()
	if err != nil {
		return nil, err
	}
	st := &Stage{Label: sc.Label, Kind: sc.Kind, Task: sc.Task, Args: sc.Args, Every: every}

	kind := map[string]string{
		"source":    config.KindSource,
		"sink":      config.KindSink,
		"transform": config.KindTransform,
	}[sc.Kind]
	raw, ok := pack.GetConfig(kind, sc.Task)
	if !ok {
		return nil, errors.New(errors.ConfigValidate, sc.Label,
			"unknown %s task %q, have %v", sc.Kind, sc.Task, pack.Names(kind))
	}
	resolved, err := config.ResolveConfig(raw, sc.Args)
	if err != nil {
		if ce, ok := err.(errors.Error); ok {
			ce.Path = sc.Label
			return nil, ce
		}
		return nil, err
	}

	if sc.Kind == "transform" {
		plan, err := transform.Compile(sc.Label, resolved)
		if err != nil {
			return nil, err
		}
		st.plan = plan
		st.inputs = plan.Inputs()
		st.outputs = plan.Outputs()
		return st, nil
	}

	driverType := resolved.GetString("type")
	if driverType == "" {
		driverType = sc.Task
	}
	driver, err := task.GetTask(driverType, resolved)
	if err != nil {
		return nil, errors.New(errors.ConfigValidate, sc.Label, "%s", err)
	}
	switch sc.Kind {
	case "source":
		if _, ok := driver.(task.Source); !ok {
			return nil, errors.New(errors.ConfigValidate, sc.Label, "%s",
				task.ErrFuncNotSupported{Name: driverType, Func: "source"})
		}
	case "sink":
		if _, ok := driver.(task.Sink); !ok {
			return nil, errors.New(errors.ConfigValidate, sc.Label, "%s",
				task.ErrFuncNotSupported{Name: driverType, Func: "sink"})
		}
	}
	st.driver = driver
	if r, ok := driver.(task.InputReporter); ok {
		st.inputs = r.Inputs()
	}
	if r, ok := driver.(task.OutputReporter); ok {
		st.outputs = r.Outputs()
	}
	return st, nil
}

// validate enforces the structural invariants: one producer per cell,
// input references resolvable, no stage reading and writing one cell, and
// an acyclic graph except through scheduled loop roots.
func (p *Pipeline) validate() error {
	producer := map[string]string{}
	for _, st := range p.Stages {
		for _, out := range st.outputs {
			if prev, dup := producer[out]; dup {
				return errors.New(errors.ConfigValidate, p.Name,
					"cell %q has two producers: %q and %q", out, prev, st.Label)
			}
			producer[out] = st.Label
		}
		for _, in := range st.inputs {
			for _, out := range st.outputs {
				if in == out {
					return errors.New(errors.ConfigValidate, st.Label,
						"stage reads and writes cell %q", in)
				}
			}
		}
	}
	for _, st := range p.Stages {
		for _, in := range st.inputs {
			if _, ok := producer[in]; !ok {
				return errors.New(errors.ConfigValidate, st.Label,
					"input cell %q has no producer in pipeline %q", in, p.Name)
			}
		}
	}
	return p.checkCycles(producer)
}

// checkCycles rejects dependency cycles. A stage carrying an every:
// schedule is timer-driven and breaks any cycle through it; an every: on a
// stage with inputs that is not part of a cycle is rejected as
// meaningless.
func (p *Pipeline) checkCycles(producer map[string]string) error {
	byLabel := map[string]*Stage{}
	for _, st := range p.Stages {
		byLabel[st.Label] = st
	}
	// edges run producing stage -> consuming stage; scheduled stages have
	// no incoming edges
	succ := map[string][]string{}
	for _, st := range p.Stages {
		if st.Every > 0 {
			continue
		}
		for _, in := range st.inputs {
			from := producer[in]
			succ[from] = append(succ[from], st.Label)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var cyclePath []string
	var visit func(label string) bool
	visit = func(label string) bool {
		color[label] = gray
		for _, next := range succ[label] {
			switch color[next] {
			case gray:
				cyclePath = append(cyclePath, label, next)
				return false
			case white:
				if !visit(next) {
					return false
				}
			}
		}
		color[label] = black
		return true
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		if color[l] == white && !visit(l) {
			return errors.New(errors.ConfigValidate, p.Name,
				"dependency cycle through %v; break it with an every: schedule on one stage", cyclePath)
		}
	}

	// an every: schedule is only meaningful on a stage that either has no
	// inputs or breaks a cycle through itself
	for _, st := range p.Stages {
		if st.Every > 0 && len(st.inputs) > 0 && !p.inCycleIgnoringSchedule(st, producer) {
			return errors.New(errors.ConfigValidate, st.Label,
				"every: on a non-root stage that breaks no cycle")
		}
	}
	return nil
}

// inCycleIgnoringSchedule reports whether the stage would sit on a cycle
// if its schedule did not exempt it.
func (p *Pipeline) inCycleIgnoringSchedule(target *Stage, producer map[string]string) bool {
	succ := map[string][]string{}
	for _, st := range p.Stages {
		if st.Every > 0 && st != target {
			continue
		}
		for _, in := range st.inputs {
			succ[producer[in]] = append(succ[producer[in]], st.Label)
		}
	}
	seen := map[string]bool{}
	var walk func(label string) bool
	walk = func(label string) bool {
		for _, next := range succ[label] {
			if next == target.Label {
				return true
			}
			if !seen[next] {
				seen[next] = true
				if walk(next) {
					return true
				}
			}
		}
		return false
	}
	return walk(target.Label)
}

// Cells returns the sorted set of cell names the pipeline's stages write.
func (p *Pipeline) Cells() []string {
	seen := map[string]bool{}
	var cells []string
	for _, st := range p.Stages {
		for _, out := range st.outputs {
			if !seen[out] {
				seen[out] = true
				cells = append(cells, out)
			}
		}
	}
	sort.Strings(cells)
	return cells
}

// Endpoints maps stage labels to task names, for the boot event.
func (p *Pipeline) Endpoints() map[string]string {
	m := make(map[string]string, len(p.Stages))
	for _, st := range p.Stages {
		m[st.Label] = st.Task
	}
	return m
}

// String renders the stage list for CLI listings.
func (p *Pipeline) String() string {
	s := p.Name
	for _, st := range p.Stages {
		s += fmt.Sprintf("\n  - %-10s %-24s %-12s in=%v out=%v", st.Kind+":", st.Label, st.Task, st.inputs, st.outputs)
	}
	return s
}
