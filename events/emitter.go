package events

import (
	"github.com/capport/capport/log"
)

// Emitters are used by the pipeline runner to consume events from a run's
// event channel and process them.
// Start() will start the emitter and begin consuming events
// Init() serves to set the Emitter's listening channel
// Stop() stops the event loop; the runner blocks until Stop() returns
type Emitter interface {
	Start()
	Init(chan Event)
	Stop()
}

// LogEmitter constructs an Emitter that writes each event to the given
// logger.
func LogEmitter(l log.Logger) Emitter {
	return &logEmitter{
		l:      l,
		chstop: make(chan chan bool),
	}
}

type logEmitter struct {
	l      log.Logger
	ch     chan Event
	chstop chan chan bool
}

// Start the emitter
func (e *logEmitter) Start() {
	go e.startEventListener()
}

// Init sets the event channel
func (e *logEmitter) Init(ch chan Event) {
	e.ch = ch
}

// Stop sends a stop signal and waits for the listener to drain
func (e *logEmitter) Stop() {
	s := make(chan bool)
	e.chstop <- s
	<-s
}

func (e *logEmitter) startEventListener() {
	for {
		select {
		case s := <-e.chstop:
			// drain whatever is buffered before exiting
			for {
				select {
				case event := <-e.ch:
					e.l.With("event", event.String()).Infoln("pipeline event")
				default:
					s <- true
					return
				}
			}
		case event := <-e.ch:
			e.l.With("event", event.String()).Infoln("pipeline event")
		}
	}
}

// NoopEmitter consumes the events from the listening channel and does
// nothing with them; useful for tests.
func NoopEmitter() Emitter {
	return &noopEmitter{chstop: make(chan chan bool)}
}

type noopEmitter struct {
	ch     chan Event
	chstop chan chan bool
}

func (e *noopEmitter) Start() {
	go func() {
		for {
			select {
			case s := <-e.chstop:
				s <- true
				return
			case <-e.ch:
			}
		}
	}()
}

func (e *noopEmitter) Init(ch chan Event) {
	e.ch = ch
}

func (e *noopEmitter) Stop() {
	s := make(chan bool)
	e.chstop <- s
	<-s
}
