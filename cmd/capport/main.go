package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/capport/capport/errors"

	_ "github.com/capport/capport/task/all"
)

// exit codes
const (
	exitOK        = 0
	exitConfig    = 1
	exitRuntime   = 2
	exitCancelled = 130
)

var version = "dev"

type options struct {
	configDir   string
	outputDir   string
	pipeline    string
	runner      string
	execute     bool
	refDate     string
	refDatetime string
}

func baseFlagSet(name string, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&opts.configDir, "c", "", "directory of YAML configuration (required)")
	fs.StringVar(&opts.configDir, "config", "", "directory of YAML configuration (required)")
	fs.StringVar(&opts.outputDir, "o", "", "directory for logs and local-write outputs (required)")
	fs.StringVar(&opts.outputDir, "output", "", "directory for logs and local-write outputs (required)")
	fs.StringVar(&opts.pipeline, "p", "", "pipeline name to run (required)")
	fs.StringVar(&opts.pipeline, "pipeline", "", "pipeline name to run (required)")
	fs.StringVar(&opts.runner, "r", "", "runner spec name")
	fs.StringVar(&opts.runner, "runner", "", "runner spec name")
	fs.BoolVar(&opts.execute, "e", false, "execute external writes; absent means dry-run")
	fs.BoolVar(&opts.execute, "execute", false, "execute external writes; absent means dry-run")
	fs.StringVar(&opts.refDate, "d", "", "reference date override (ISO date)")
	fs.StringVar(&opts.refDate, "ref-date", "", "reference date override (ISO date)")
	fs.StringVar(&opts.refDatetime, "t", "", "reference datetime override (ISO datetime with timezone)")
	fs.StringVar(&opts.refDatetime, "ref-datetime", "", "reference datetime override (ISO datetime with timezone)")
	return fs
}

type command struct {
	name  string
	short string
	run   func(opts *options, args []string) error
}

var commands = map[string]*command{
	"run":  {name: "run", short: "run a configured pipeline", run: runRun},
	"list": {name: "list", short: "list configured pipelines and registered tasks", run: runList},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: capport [command] [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.short)
	}
	fmt.Fprintf(os.Stderr, "\nflags:\n")
	var opts options
	baseFlagSet("capport", &opts).PrintDefaults()
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	name := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "capport: unknown command %q\n\n", name)
		usage()
		return exitConfig
	}

	var opts options
	fs := baseFlagSet(name, &opts)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if err := cmd.run(&opts, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "capport: %s\n", err)
		switch errors.KindOf(err) {
		case errors.ConfigParse, errors.ConfigValidate:
			return exitConfig
		case errors.Cancelled:
			return exitCancelled
		default:
			if _, ok := err.(errors.Error); !ok {
				// flag and setup problems surface as config errors
				if _, setup := err.(setupError); setup {
					return exitConfig
				}
			}
			return exitRuntime
		}
	}
	return exitOK
}

// setupError marks failures before any stage ran: missing mandatory
// arguments and the like.
type setupError struct {
	msg string
}

func (e setupError) Error() string {
	return e.msg
}
