package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/capport/capport/config"
	"github.com/capport/capport/task"
)

func runList(opts *options, args []string) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Name", "Detail"})

	if opts.configDir != "" {
		pack, err := config.Load(opts.configDir)
		if err != nil {
			return err
		}
		for _, kind := range []string{
			config.KindPipeline, config.KindModel, config.KindTransform,
			config.KindSource, config.KindSink, config.KindConnection,
			config.KindLogger, config.KindRunner,
		} {
			for _, name := range pack.Names(kind) {
				table.Append([]string{kind, name, pack.Origin(kind, name)})
			}
		}
	}

	names := task.RegisteredTasks()
	sort.Strings(names)
	drivers := task.Tasks()
	for _, name := range names {
		detail := ""
		if d, ok := drivers[name].(task.Describable); ok {
			detail = d.Description()
		}
		caps := ""
		if _, ok := drivers[name].(task.Source); ok {
			caps = "source"
		}
		if _, ok := drivers[name].(task.Sink); ok {
			if caps != "" {
				caps += "+"
			}
			caps += "sink"
		}
		table.Append([]string{"driver", name, fmt.Sprintf("[%s] %s", caps, detail)})
	}

	table.Render()
	return nil
}
