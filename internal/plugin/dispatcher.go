package plugin

import (
	"sync"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/tss"
)

// Plugin is a command handler offering a peek and a process chance for
// every command. Peek is speculative and read-oriented; Process is
// authoritative and may write. A plugin returns handled=false to decline,
// leaving the command for the next plugin in registration order.
type Plugin interface {
	Name() string
	Peek(db tss.Surface, cmd *envelope.Command) (handled bool, err error)
	Process(db tss.Surface, cmd *envelope.Command) (handled bool, err error)

	// PreventDetach reports whether this plugin currently has an operation
	// in flight that graceful shutdown must wait to drain.
	PreventDetach() bool
}

// Dispatcher offers commands to a fixed, ordered list of plugins. The
// first plugin to return handled=true terminates dispatch.
type Dispatcher struct {
	plugins []Plugin

	// inFlight tracks operations plugins have asked shutdown to wait for,
	// replacing the source's process-wide fileManifest/operationInProgress
	// globals with one owner object passed to workers (Design Note 4).
	inFlight sync.WaitGroup
}

// NewDispatcher returns a Dispatcher offering commands to plugins in the
// given, fixed registration order.
func NewDispatcher(plugins ...Plugin) *Dispatcher {
	return &Dispatcher{plugins: plugins}
}

// Peek offers cmd to each plugin's Peek in order, stopping at the first
// handled=true or the first error.
func (d *Dispatcher) Peek(db tss.Surface, cmd *envelope.Command) (handled bool, pluginName string, err error) {
	for _, p := range d.plugins {
		h, err := p.Peek(db, cmd)
		if err != nil {
			return false, p.Name(), err
		}
		if h {
			return true, p.Name(), nil
		}
	}
	return false, "", nil
}

// Process offers cmd to each plugin's Process in order, stopping at the
// first handled=true or the first error.
func (d *Dispatcher) Process(db tss.Surface, cmd *envelope.Command) (handled bool, pluginName string, err error) {
	for _, p := range d.plugins {
		h, err := p.Process(db, cmd)
		if err != nil {
			return false, p.Name(), err
		}
		if h {
			return true, p.Name(), nil
		}
	}
	return false, "", nil
}

// BeginOperation marks the start of an in-flight operation a plugin wants
// graceful shutdown to wait for. Call EndOperation when it completes.
func (d *Dispatcher) BeginOperation() { d.inFlight.Add(1) }

// EndOperation marks the end of an in-flight operation started with BeginOperation.
func (d *Dispatcher) EndOperation() { d.inFlight.Done() }

// DrainOperations blocks until every BeginOperation call has a matching
// EndOperation. The server's shutdown path does not call it.
func (d *Dispatcher) DrainOperations() { d.inFlight.Wait() }

// AnyPreventDetach reports whether any registered plugin currently has an
// operation in flight that should block a detach/shutdown.
func (d *Dispatcher) AnyPreventDetach() bool {
	for _, p := range d.plugins {
		if p.PreventDetach() {
			return true
		}
	}
	return false
}
