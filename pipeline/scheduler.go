package pipeline

import (
	"sync"
	"time"

	"github.com/capport/capport/config"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/log"
)

// Scheduler drives repeated pipeline runs from a runner schedule. It is
// the only component permitted to start runs: at most one run is active at
// a time, and a trigger firing while a run is in progress coalesces into
// at most one pending run.
type Scheduler struct {
	Log log.Logger

	timezone string
	every    time.Duration
	at       string
	repeat   time.Duration
	times    int

	runFn func() error

	trigger  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler builds a scheduler from a schedule config and the function
// that performs one run.
func NewScheduler(cfg *config.ScheduleConfig, l log.Logger, runFn func() error) (*Scheduler, error) {
	if l == nil {
		l = log.Base()
	}
	s := &Scheduler{
		Log:     l,
		runFn:   runFn,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if cfg == nil {
		return s, nil
	}
	s.timezone = cfg.Timezone
	s.at = cfg.At
	s.times = cfg.Times
	var err error
	if cfg.Every != "" {
		if s.every, err = time.ParseDuration(cfg.Every); err != nil {
			return nil, errors.New(errors.ConfigValidate, "schedule", "invalid every %q: %s", cfg.Every, err)
		}
	}
	if cfg.RepeatingEvery != "" {
		if s.repeat, err = time.ParseDuration(cfg.RepeatingEvery); err != nil {
			return nil, errors.New(errors.ConfigValidate, "schedule", "invalid repeating_every %q: %s", cfg.RepeatingEvery, err)
		}
	}
	if s.at != "" {
		if _, err := time.Parse("15:04", s.at); err != nil {
			return nil, errors.New(errors.ConfigValidate, "schedule", "invalid at %q, expected HH:MM: %s", s.at, err)
		}
	}
	return s, nil
}

// Stop ends the scheduling loop after the current run, if any, completes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Trigger requests a run. If one is already pending the request coalesces.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) location() *time.Location {
	if s.timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.timezone)
	if err != nil {
		s.Log.With("timezone", s.timezone).Errorln("unknown timezone, falling back to local")
		return time.Local
	}
	return loc
}

// nextAt returns the duration until the next wall-clock occurrence of the
// at time in the schedule's timezone.
func (s *Scheduler) nextAt(now time.Time) time.Duration {
	loc := s.location()
	t, _ := time.Parse("15:04", s.at)
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// Run executes the scheduling loop until Stop. With no schedule configured
// it performs exactly one run. Trigger overlap rule: if the timer fires
// while a run is in progress, the trigger is recorded and the next run
// starts after the current one completes.
func (s *Scheduler) Run() error {
	if s.every == 0 && s.at == "" {
		return s.runOnce()
	}

	count := 0
	var firstErr error

	// timer goroutine feeds the coalescing trigger channel
	timerDone := make(chan struct{})
	go func() {
		defer close(timerDone)
		if s.at != "" {
			select {
			case <-time.After(s.nextAt(time.Now())):
				s.Trigger()
			case <-s.done:
				return
			}
			interval := s.repeat
			if interval == 0 {
				interval = 24 * time.Hour
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.Trigger()
				case <-s.done:
					return
				}
			}
		}
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		s.Trigger()
		for {
			select {
			case <-ticker.C:
				s.Trigger()
			case <-s.done:
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			<-timerDone
			return firstErr
		case <-s.trigger:
			if err := s.runOnce(); err != nil && firstErr == nil {
				firstErr = err
			}
			count++
			if s.times > 0 && count >= s.times {
				s.Stop()
				<-timerDone
				return firstErr
			}
		}
	}
}

func (s *Scheduler) runOnce() error {
	start := time.Now()
	s.Log.Infoln("scheduled run starting...")
	err := s.runFn()
	s.Log.With("elapsed", time.Since(start).String()).Infoln("scheduled run finished")
	return err
}
