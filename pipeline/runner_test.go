package pipeline

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/capport/capport/config"
	"github.com/capport/capport/env"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/events"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/task"
)

// funcSource runs an arbitrary function as a stage driver.
type funcSource struct {
	fn func(ctx *task.Context) error
}

func (s *funcSource) Read(ctx *task.Context) error { return s.fn(ctx) }

func oneRowFrame(t *testing.T, v int64) *frame.Frame {
	t.Helper()
	f, err := frame.New(frame.Schema{{Name: "v", Type: frame.Scalar(frame.Int64)}},
		[][]interface{}{{v}})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// publishStage builds a source stage publishing one frame to out.
func publishStage(t *testing.T, label, out string, every time.Duration) *Stage {
	var n int64
	return &Stage{
		Label: label,
		Kind:  "source",
		Task:  label,
		Every: every,
		outputs: []string{
			out,
		},
		driver: &funcSource{fn: func(ctx *task.Context) error {
			return ctx.Publish(out, oneRowFrame(t, atomic.AddInt64(&n, 1)))
		}},
	}
}

// consumeStage builds a stage reading every input and publishing to out.
func consumeStage(t *testing.T, label string, inputs []string, out string, body func(ctx *task.Context) error) *Stage {
	return &Stage{
		Label:   label,
		Kind:    "source",
		Task:    label,
		inputs:  inputs,
		outputs: []string{out},
		driver: &funcSource{fn: func(ctx *task.Context) error {
			if body != nil {
				if err := body(ctx); err != nil {
					return err
				}
			}
			return ctx.Publish(out, oneRowFrame(t, 0))
		}},
	}
}

// captureEmitter records every event for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
	ch     chan events.Event
	chstop chan chan bool
}

func newCaptureEmitter() *captureEmitter {
	return &captureEmitter{chstop: make(chan chan bool)}
}

func (e *captureEmitter) Init(ch chan events.Event) { e.ch = ch }

func (e *captureEmitter) Start() {
	go func() {
		for {
			select {
			case s := <-e.chstop:
				for {
					select {
					case ev := <-e.ch:
						e.mu.Lock()
						e.events = append(e.events, ev)
						e.mu.Unlock()
					default:
						s <- true
						return
					}
				}
			case ev := <-e.ch:
				e.mu.Lock()
				e.events = append(e.events, ev)
				e.mu.Unlock()
			}
		}
	}()
}

func (e *captureEmitter) Stop() {
	s := make(chan bool)
	e.chstop <- s
	<-s
}

func (e *captureEmitter) all() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.Event{}, e.events...)
}

func testPipeline(stages ...*Stage) *Pipeline {
	return &Pipeline{Name: "test", Stages: stages}
}

func TestSyncRunsInDeclarationOrder(t *testing.T) {
	defer leaktest.Check(t)()
	var order []string
	var mu sync.Mutex
	mark := func(label string) {
		mu.Lock()
		order = append(order, label)
		mu.Unlock()
	}

	a := publishStage(t, "a", "A", 0)
	b := consumeStage(t, "b", []string{"A"}, "B", func(ctx *task.Context) error {
		mark("b")
		return nil
	})
	aw := a.driver.(*funcSource).fn
	a.driver = &funcSource{fn: func(ctx *task.Context) error {
		mark("a")
		return aw(ctx)
	}}

	r := NewRunner(nil, env.New())
	r.Emitter = events.NoopEmitter()
	if err := r.Run(testPipeline(a, b)); err != nil {
		t.Fatalf("Run failed, %s", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("wrong order: %v", order)
	}
}

func TestSyncAbortsOnFirstError(t *testing.T) {
	defer leaktest.Check(t)()
	boom := &Stage{
		Label: "boom", Kind: "source", Task: "boom",
		outputs: []string{"X"},
		driver: &funcSource{fn: func(ctx *task.Context) error {
			return errors.New(errors.SourceFail, "boom", "no data")
		}},
	}
	after := publishStage(t, "after", "Y", 0)

	r := NewRunner(nil, env.New())
	r.Emitter = events.NoopEmitter()
	err := r.Run(testPipeline(boom, after))
	if errors.KindOf(err) != errors.SourceFail {
		t.Fatalf("expected SOURCE_FAIL, got %v", err)
	}
	if after.Runs() != 0 {
		t.Errorf("stages after the failure must not run")
	}
}

func TestFanoutRunsEveryStageOnce(t *testing.T) {
	defer leaktest.Check(t)()
	a := publishStage(t, "a", "A", 0)
	b := consumeStage(t, "b", []string{"A"}, "B", nil)
	c := consumeStage(t, "c", []string{"B"}, "C", nil)

	r := NewRunner(nil, env.New())
	r.Emitter = events.NoopEmitter()
	if err := r.RunAsync(testPipeline(a, b, c), false); err != nil {
		t.Fatalf("RunAsync failed, %s", err)
	}
	for _, st := range []*Stage{a, b, c} {
		if st.Runs() != 1 {
			t.Errorf("stage %s should run exactly once, ran %d", st.Label, st.Runs())
		}
	}
}

func TestAsyncWakeSemantics(t *testing.T) {
	// A updates fast, B slow; the join wakes on every A advance and must
	// never wait for a fresh B
	defer leaktest.Check(t)()
	a := publishStage(t, "a", "A", 30*time.Millisecond)
	b := publishStage(t, "b", "B", 250*time.Millisecond)

	var sawB int64
	j := consumeStage(t, "j", []string{"A", "B"}, "J", func(ctx *task.Context) error {
		fb, err := ctx.Read("B")
		if err != nil {
			return err
		}
		if fb.NumRows() > 0 {
			atomic.AddInt64(&sawB, 1)
		}
		return nil
	})

	r := NewRunner(nil, env.New())
	r.Emitter = events.NoopEmitter()
	errCh := make(chan error, 1)
	go func() { errCh <- r.RunAsync(testPipeline(a, b, j), true) }()

	time.Sleep(500 * time.Millisecond)
	r.Stop()
	err := <-errCh
	if errors.KindOf(err) != errors.Cancelled {
		t.Fatalf("loop stop should surface CANCELLED, got %v", err)
	}

	jr := j.Runs()
	if jr < 5 {
		t.Errorf("join should wake on every A advance, expected >= 5 runs, got %d", jr)
	}
	if int64(jr) != atomic.LoadInt64(&sawB) {
		t.Errorf("every join invocation must read some B value: runs %d, reads %d", jr, sawB)
	}
	if j.Runs() > a.Runs()+b.Runs()+1 {
		t.Errorf("join must not run more often than its inputs advance: j=%d a=%d b=%d", j.Runs(), a.Runs(), b.Runs())
	}
}

func TestAsyncSerializesInvocations(t *testing.T) {
	defer leaktest.Check(t)()
	a := publishStage(t, "a", "A", 10*time.Millisecond)

	var inflight, maxInflight int64
	s := consumeStage(t, "s", []string{"A"}, "S", func(ctx *task.Context) error {
		cur := atomic.AddInt64(&inflight, 1)
		if cur > atomic.LoadInt64(&maxInflight) {
			atomic.StoreInt64(&maxInflight, cur)
		}
		time.Sleep(25 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		return nil
	})

	r := NewRunner(nil, env.New())
	r.Emitter = events.NoopEmitter()
	errCh := make(chan error, 1)
	go func() { errCh <- r.RunAsync(testPipeline(a, s), true) }()
	time.Sleep(300 * time.Millisecond)
	r.Stop()
	<-errCh

	if atomic.LoadInt64(&maxInflight) > 1 {
		t.Errorf("at most one invocation of a stage may be in flight, saw %d", maxInflight)
	}
	if s.Runs() < 2 {
		t.Errorf("pending wakes should coalesce into re-runs, got %d", s.Runs())
	}
}

func TestAsyncStageErrorContinuesRest(t *testing.T) {
	defer leaktest.Check(t)()
	bad := &Stage{
		Label: "bad", Kind: "source", Task: "bad",
		outputs: []string{"X"},
		driver: &funcSource{fn: func(ctx *task.Context) error {
			return errors.New(errors.SourceFail, "bad", "boom")
		}},
	}
	down := consumeStage(t, "down", []string{"X"}, "Y", nil)
	independent := publishStage(t, "ok", "OK", 0)

	r := NewRunner(nil, env.New())
	r.Emitter = events.NoopEmitter()
	err := r.RunAsync(testPipeline(bad, down, independent), false)
	if errors.KindOf(err) != errors.SourceFail {
		t.Fatalf("expected SOURCE_FAIL, got %v", err)
	}
	if independent.Runs() != 1 {
		t.Errorf("independent stages must keep running after another errors")
	}
	if down.Runs() != 0 {
		t.Errorf("downstream of an errored stage must not run")
	}
}

func TestCancellationReportsEachStageOnce(t *testing.T) {
	defer leaktest.Check(t)()
	a := publishStage(t, "a", "A", 20*time.Millisecond)
	s := consumeStage(t, "s", []string{"A"}, "S", nil)

	em := newCaptureEmitter()
	r := NewRunner(nil, env.New())
	r.Emitter = em
	errCh := make(chan error, 1)
	go func() { errCh <- r.RunAsync(testPipeline(a, s), true) }()

	time.Sleep(50 * time.Millisecond)
	r.Stop()
	err := <-errCh
	if errors.KindOf(err) != errors.Cancelled {
		t.Fatalf("expected CANCELLED, got %v", err)
	}

	counts := map[string]int{}
	for _, ev := range em.all() {
		b, _ := ev.Emit()
		body := string(b)
		if !strings.Contains(body, `"name":"error"`) {
			continue
		}
		for _, label := range []string{"a", "s"} {
			if strings.Contains(body, `"path":"`+label+`"`) {
				counts[label]++
			}
		}
	}
	for label, n := range counts {
		if n > 1 {
			t.Errorf("stage %s reported %d times, expected once", label, n)
		}
	}
}

func scheduleEvery(every string, times int) *config.ScheduleConfig {
	return &config.ScheduleConfig{Every: every, Times: times}
}

func TestSchedulerRunsTimesAndStops(t *testing.T) {
	defer leaktest.Check(t)()
	var runs int64
	s, err := NewScheduler(scheduleEvery("25ms", 3), nil, func() error {
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("scheduler failed, %s", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after times limit")
	}
	if atomic.LoadInt64(&runs) != 3 {
		t.Errorf("expected exactly 3 runs, got %d", runs)
	}
}

func TestSchedulerNeverOverlapsRuns(t *testing.T) {
	defer leaktest.Check(t)()
	var inflight, maxInflight, runs int64
	s, err := NewScheduler(scheduleEvery("10ms", 0), nil, func() error {
		cur := atomic.AddInt64(&inflight, 1)
		if cur > atomic.LoadInt64(&maxInflight) {
			atomic.StoreInt64(&maxInflight, cur)
		}
		time.Sleep(40 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		atomic.AddInt64(&runs, 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	<-done

	if atomic.LoadInt64(&maxInflight) > 1 {
		t.Errorf("the scheduler must keep at most one run active, saw %d", maxInflight)
	}
	if atomic.LoadInt64(&runs) < 2 {
		t.Errorf("pending triggers should coalesce into follow-up runs, got %d", runs)
	}
}
