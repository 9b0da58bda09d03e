package pipeline

import (
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"

	"github.com/capport/capport/env"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/events"
	"github.com/capport/capport/log"
	"github.com/capport/capport/task"
	"github.com/capport/capport/universe"
)

const (
	defaultBufferSize   = 16
	defaultDrainTimeout = 5 * time.Second
)

// Runner executes a Pipeline under one of the execution strategies. It
// owns task lifetimes, the run-wide cancellation signal, the event channel
// and the universe built for the run.
type Runner struct {
	Log          log.Logger
	Env          *env.Registry
	Execute      bool
	BufferSize   int
	DrainTimeout time.Duration
	Emitter      events.Emitter

	// MetricsInterval, when set, emits periodic per-stage metrics during
	// async runs.
	MetricsInterval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewRunner builds a Runner with the default buffer and drain settings.
func NewRunner(l log.Logger, e *env.Registry) *Runner {
	if l == nil {
		l = log.Base()
	}
	return &Runner{
		Log:          l,
		Env:          e,
		BufferSize:   defaultBufferSize,
		DrainTimeout: defaultDrainTimeout,
		done:         make(chan struct{}),
	}
}

// Stop fires the run-wide cancellation signal. Safe to call more than
// once and from any goroutine.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Runner) cancelled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Runner) contextFor(p *Pipeline, st *Stage, u *universe.Universe) *task.Context {
	return &task.Context{
		Pipeline:    p.Name,
		Stage:       st.Label,
		Universe:    u,
		Env:         r.Env,
		Models:      p.models,
		Connections: p.connections,
		Args:        st.Args,
		Log:         r.Log.With("stage", st.Label),
		Execute:     r.Execute,
		Done:        r.done,
	}
}

func (r *Runner) startEmitter() (chan events.Event, events.Emitter) {
	ch := make(chan events.Event, 64)
	em := r.Emitter
	if em == nil {
		em = events.LogEmitter(r.Log)
	}
	em.Init(ch)
	em.Start()
	return ch, em
}

func runID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

func emit(ch chan events.Event, e events.Event) {
	select {
	case ch <- e:
	default:
	}
}

// Run walks the stages in declaration order on the caller's goroutine. The
// first error aborts the run and surfaces.
func (r *Runner) Run(p *Pipeline) error {
	u := universe.New(p.Cells(), r.BufferSize)
	defer u.Close()

	ch, em := r.startEmitter()
	defer em.Stop()

	id := runID()
	l := r.Log.With("pipeline", p.Name).With("run_id", id)
	emit(ch, events.BootEvent(time.Now().UnixNano(), id, p.Name, p.Endpoints()))
	l.Infoln("pipeline starting...")

	for _, st := range p.Stages {
		if r.cancelled() {
			err := errors.New(errors.Cancelled, st.Label, "run cancelled before stage")
			emit(ch, events.ErrorEvent(time.Now().UnixNano(), st.Label, string(errors.Cancelled), nil, err.Error()))
			return err
		}
		l.With("stage", st.Label).Debugln("stage starting...")
		if err := st.invoke(r.contextFor(p, st, u)); err != nil {
			emit(ch, events.ErrorEvent(time.Now().UnixNano(), st.Label, string(errors.KindOf(err)), nil, err.Error()))
			l.With("stage", st.Label).Errorln(err)
			return err
		}
	}

	for _, st := range p.Stages {
		emit(ch, events.MetricsEvent(time.Now().UnixNano(), p.Name+"/"+st.Label, 0, st.Runs()))
	}
	emit(ch, events.ExitEvent(time.Now().UnixNano(), id, p.Name, p.Endpoints()))
	l.Infoln("pipeline finished")
	return nil
}

// stageErrors records at most one error per stage for the whole run.
type stageErrors struct {
	mu sync.Mutex
	m  map[string]error
}

func (se *stageErrors) record(label string, err error) bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	if _, dup := se.m[label]; dup {
		return false
	}
	se.m[label] = err
	return true
}

func (se *stageErrors) has(label string) bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	_, ok := se.m[label]
	return ok
}

func (se *stageErrors) first(order []*Stage) error {
	se.mu.Lock()
	defer se.mu.Unlock()
	for _, st := range order {
		if err, ok := se.m[st.Label]; ok {
			return err
		}
	}
	return nil
}

// RunAsync executes every stage as a cooperating goroutine, update-driven
// rather than position-driven. With loop set, listener stages re-run on
// every input advance and scheduled roots re-run on their timers until the
// run is stopped; without it, every stage exits after its first completed
// invocation.
func (r *Runner) RunAsync(p *Pipeline, loop bool) error {
	u := universe.New(p.Cells(), r.BufferSize)

	ch, em := r.startEmitter()
	defer em.Stop()

	id := runID()
	l := r.Log.With("pipeline", p.Name).With("run_id", id)
	emit(ch, events.BootEvent(time.Now().UnixNano(), id, p.Name, p.Endpoints()))
	l.Infoln("async pipeline starting...")

	errs := &stageErrors{m: map[string]error{}}
	var finmu sync.Mutex
	finished := map[string]bool{}
	markFinished := func(label string) {
		finmu.Lock()
		finished[label] = true
		finmu.Unlock()
	}

	report := func(st *Stage, err error) {
		if errs.record(st.Label, err) {
			emit(ch, events.ErrorEvent(time.Now().UnixNano(), st.Label, string(errors.KindOf(err)), nil, err.Error()))
			l.With("stage", st.Label).With("kind", errors.KindOf(err)).Errorln(err)
		}
	}

	var wg sync.WaitGroup
	for _, st := range p.Stages {
		wg.Add(1)
		go func(st *Stage) {
			defer wg.Done()
			defer markFinished(st.Label)
			r.runStageAsync(p, st, u, loop, report)
		}(st)
	}

	quit := make(chan struct{})
	defer close(quit)
	if r.MetricsInterval > 0 {
		go r.gatherMetrics(p, ch, quit)
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-r.done:
		// stop dispatching, close all notification channels, then wait a
		// bounded drain interval for in-flight tasks
		u.Close()
		select {
		case <-waitCh:
		case <-time.After(r.DrainTimeout):
			finmu.Lock()
			for _, st := range p.Stages {
				if !finished[st.Label] {
					report(st, errors.New(errors.Cancelled, st.Label, "stage unresponsive after drain interval"))
				}
			}
			finmu.Unlock()
		}
	}
	u.Close()

	for _, st := range p.Stages {
		emit(ch, events.MetricsEvent(time.Now().UnixNano(), p.Name+"/"+st.Label, 0, st.Runs()))
	}
	emit(ch, events.ExitEvent(time.Now().UnixNano(), id, p.Name, p.Endpoints()))
	l.Infoln("async pipeline finished")
	return errs.first(p.Stages)
}

func (r *Runner) gatherMetrics(p *Pipeline, ch chan events.Event, quit chan struct{}) {
	ticker := time.NewTicker(r.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-quit:
			return
		case <-ticker.C:
			for _, st := range p.Stages {
				emit(ch, events.MetricsEvent(time.Now().UnixNano(), p.Name+"/"+st.Label, 0, st.Runs()))
			}
		}
	}
}

// runStageAsync drives one stage until it terminates: a run-once root runs
// once, a scheduled root runs on its timer, and a listener wakes whenever
// any required input cell advances past the generation it last consumed.
// The loop itself serializes a stage's invocations; a pending wake
// coalesces into at most one queued re-run because readiness is computed
// from generations, not from notification counts.
func (r *Runner) runStageAsync(p *Pipeline, st *Stage, u *universe.Universe, loop bool, report func(*Stage, error)) {
	ctx := r.contextFor(p, st, u)
	closeOutputs := func() {
		for _, out := range st.outputs {
			if cell, err := u.Cell(out); err == nil {
				cell.Close()
			}
		}
	}

	if st.root() && st.Every > 0 && loop {
		ticker := time.NewTicker(st.Every)
		defer ticker.Stop()
		for {
			if err := st.invoke(ctx); err != nil {
				report(st, err)
				closeOutputs()
				return
			}
			select {
			case <-r.done:
				report(st, errors.New(errors.Cancelled, st.Label, "cancelled"))
				return
			case <-ticker.C:
			}
		}
	}

	if st.root() {
		if err := st.invoke(ctx); err != nil {
			report(st, err)
			closeOutputs()
		}
		return
	}

	// listener: subscribe to every input, then merge the notification
	// streams into one channel that closes when every upstream is gone
	cells := make(map[string]*universe.Cell, len(st.inputs))
	merged := make(chan universe.Update, r.BufferSize)
	var fwd sync.WaitGroup
	for _, in := range st.inputs {
		cell, err := u.Cell(in)
		if err != nil {
			report(st, errors.New(errors.ConfigValidate, st.Label, "%s", err))
			closeOutputs()
			return
		}
		cells[in] = cell
		sub := cell.Subscribe(st.Label)
		fwd.Add(1)
		go func(sub *universe.Subscription) {
			defer fwd.Done()
			for up := range sub.C {
				select {
				case merged <- up:
				case <-r.done:
					return
				}
			}
		}(sub)
	}
	go func() {
		fwd.Wait()
		close(merged)
	}()

	last := make(map[string]uint64, len(st.inputs))
	for {
		// ready when every required input holds something and at least one
		// has advanced past what this stage last consumed
		ready, advanced := true, false
		for in, cell := range cells {
			gen := cell.Generation()
			if gen == 0 {
				ready = false
				break
			}
			if gen > last[in] {
				advanced = true
			}
		}
		if ready && advanced {
			for in, cell := range cells {
				last[in] = cell.Generation()
			}
			if err := st.invoke(ctx); err != nil {
				report(st, err)
				closeOutputs()
				return
			}
			if !loop {
				return
			}
			continue
		}

		select {
		case <-r.done:
			report(st, errors.New(errors.Cancelled, st.Label, "cancelled"))
			return
		case _, ok := <-merged:
			if !ok {
				// every upstream closed: treat as a cancellation point
				if r.cancelled() {
					report(st, errors.New(errors.Cancelled, st.Label, "cancelled"))
				}
				closeOutputs()
				return
			}
		}
	}
}
