package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/oklog/run"

	"github.com/capport/capport/config"
	"github.com/capport/capport/env"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/log"
	"github.com/capport/capport/pipeline"
)

func runRun(opts *options, args []string) error {
	if opts.configDir == "" || opts.outputDir == "" || opts.pipeline == "" {
		return setupError{"config directory (-c), output directory (-o) and pipeline (-p) are required"}
	}

	ev, err := env.Init(opts.configDir, opts.outputDir, opts.execute, opts.refDate, opts.refDatetime)
	if err != nil {
		return setupError{err.Error()}
	}
	defer ev.Close()
	ev.Set(env.KeyPipeline, opts.pipeline)
	ev.Set(env.KeyRunner, opts.runner)

	pack, err := config.Load(opts.configDir)
	if err != nil {
		return err
	}

	runnerCfg := config.RunnerConfig{Name: "default", Mode: config.ModeOnce}
	if opts.runner != "" {
		if runnerCfg, err = pack.ParseRunner(opts.runner); err != nil {
			return err
		}
	}

	l := log.Base()
	if runnerCfg.Logger != "" {
		lcfg, err := pack.ParseLogger(runnerCfg.Logger)
		if err != nil {
			return err
		}
		fl, err := log.NewFileLogger(lcfg, opts.outputDir, opts.pipeline, ev.RefDatetime())
		if err != nil {
			return setupError{fmt.Sprintf("unable to open log file: %s", err)}
		}
		defer fl.Close()
		l = fl
	}

	p, err := pipeline.Build(pack, opts.pipeline)
	if err != nil {
		return err
	}
	l.With("pipeline", opts.pipeline).With("mode", runnerCfg.Mode).With("version", version).Infoln("configuration loaded")

	var (
		mu      sync.Mutex
		current *pipeline.Runner
	)
	runOne := func() error {
		r := pipeline.NewRunner(l, ev)
		r.Execute = opts.execute
		mu.Lock()
		current = r
		mu.Unlock()
		switch runnerCfg.Mode {
		case config.ModeDebug:
			log.SetLevel("debug")
			return r.Run(p)
		case config.ModeFanout:
			return r.RunAsync(p, false)
		case config.ModeLoop:
			return r.RunAsync(p, true)
		default:
			return r.Run(p)
		}
	}

	sched, err := pipeline.NewScheduler(runnerCfg.Schedule, l, runOne)
	if err != nil {
		return err
	}

	var g run.Group
	g.Add(func() error {
		return sched.Run()
	}, func(error) {
		sched.Stop()
		mu.Lock()
		if current != nil {
			current.Stop()
		}
		mu.Unlock()
	})

	cancel := make(chan struct{})
	g.Add(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			l.With("signal", sig.String()).Infoln("shutting down...")
			return errors.New(errors.Cancelled, opts.pipeline, "received %s", sig)
		case <-cancel:
			return nil
		}
	}, func(error) {
		close(cancel)
	})

	return g.Run()
}
