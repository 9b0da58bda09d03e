// Package events carries the lifecycle and metrics events a pipeline run
// emits: boot, per-stage metrics, per-stage errors and exit.
package events

import (
	"encoding/json"
	"fmt"
)

// An Event is produced by a running pipeline.
//
// Events come in multiple kinds. baseEvents are emitted when the pipeline
// starts and stops, metricsEvents are emitted per stage and include a
// measure of how many frames have been published.
type Event interface {
	Emit() ([]byte, error)
	String() string
}

// baseEvents are sent when the pipeline has been started or exited
type baseEvent struct {
	Ts        int64             `json:"ts"`
	Kind      string            `json:"name"`
	RunID     string            `json:"run_id,omitempty"`
	Pipeline  string            `json:"pipeline,omitempty"`
	Endpoints map[string]string `json:"endpoints,omitempty"`
}

// BootEvent (surprisingly) creates a new baseEvent
func BootEvent(ts int64, runID, pipeline string, endpoints map[string]string) Event {
	return &baseEvent{
		Ts:        ts,
		Kind:      "boot",
		RunID:     runID,
		Pipeline:  pipeline,
		Endpoints: endpoints,
	}
}

// ExitEvent (surprisingly) creates a new baseEvent
func ExitEvent(ts int64, runID, pipeline string, endpoints map[string]string) Event {
	return &baseEvent{
		Ts:        ts,
		Kind:      "exit",
		RunID:     runID,
		Pipeline:  pipeline,
		Endpoints: endpoints,
	}
}

func (e *baseEvent) Emit() ([]byte, error) {
	return json.Marshal(e)
}

func (e *baseEvent) String() string {
	msg := e.Kind
	msg += fmt.Sprintf(" %v", e.Endpoints)
	return msg
}

type metricsEvent struct {
	Ts      int64  `json:"ts"`
	Kind    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Records int    `json:"records,omitempty"`
	Runs    uint64 `json:"runs,omitempty"`
}

// MetricsEvent creates a new metrics event
func MetricsEvent(ts int64, path string, records int, runs uint64) Event {
	return &metricsEvent{
		Ts:      ts,
		Kind:    "metrics",
		Path:    path,
		Records: records,
		Runs:    runs,
	}
}

func (e *metricsEvent) Emit() ([]byte, error) {
	return json.Marshal(e)
}

func (e *metricsEvent) String() string {
	return fmt.Sprintf("%s %s records: %d, runs: %d", e.Kind, e.Path, e.Records, e.Runs)
}

type errorEvent struct {
	Ts      int64       `json:"ts"`
	Kind    string      `json:"name"`
	Path    string      `json:"path"`
	ErrKind string      `json:"kind,omitempty"`
	Record  interface{} `json:"record,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorEvents are sent to indicate a problem processing on one of the
// stages
func ErrorEvent(ts int64, path, errKind string, record interface{}, message string) Event {
	return &errorEvent{
		Ts:      ts,
		Kind:    "error",
		Path:    path,
		ErrKind: errKind,
		Record:  record,
		Message: message,
	}
}

func (e *errorEvent) Emit() ([]byte, error) {
	return json.Marshal(e)
}

func (e *errorEvent) String() string {
	return fmt.Sprintf("%s %s [%s] message: %s", e.Kind, e.Path, e.ErrKind, e.Message)
}
