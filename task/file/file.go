// Package file provides the csv and json drivers reading local files into
// frames and emitting frames back to disk.
package file

import (
	"path/filepath"
	"strings"

	"github.com/capport/capport/task"
)

const (
	sampleConfig = `    type: csv
    filepath: /data/players.csv
    output: PLAYERS`

	description = "a driver that reads / writes csv and json files"
)

var (
	_ task.Source = &File{}
	_ task.Sink   = &File{}
)

// File is a driver usable as a source or a sink for csv and json files on
// disk.
type File struct {
	Filepath  string   `json:"filepath"`
	Format    string   `json:"format"`
	Output    string   `json:"output"`
	Input     string   `json:"input"`
	Model     string   `json:"model"`
	MergeType string   `json:"merge_type"`
	Strict    bool     `json:"strict"`
	OrderBy   []string `json:"order_by"`
}

func init() {
	task.Add("csv", func() task.Task { return &File{Format: "csv"} })
	task.Add("json", func() task.Task { return &File{Format: "json"} })
}

// Description for file driver
func (f *File) Description() string {
	return description
}

// SampleConfig for file driver
func (f *File) SampleConfig() string {
	return sampleConfig
}

// Inputs reports the cell read when used as a sink.
func (f *File) Inputs() []string {
	if f.Input == "" {
		return nil
	}
	return []string{f.Input}
}

// Outputs reports the cell written when used as a source.
func (f *File) Outputs() []string {
	if f.Output == "" {
		return nil
	}
	return []string{f.Output}
}

func (f *File) format() string {
	if f.Format != "" {
		return f.Format
	}
	switch strings.ToLower(filepath.Ext(f.Filepath)) {
	case ".json":
		return "json"
	default:
		return "csv"
	}
}
