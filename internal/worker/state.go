package worker

import (
	"golang.org/x/sys/cpu"

	"github.com/ehrlich-b/go-reorder/internal/sema"
)

// State is one worker's slot pair plus its start semaphore.
//
// writeVar and readVar are written only by the owning worker. The peer
// worker reads writeVar without synchronization; that race is the thing
// being measured. The orchestrator resets writeVar and reads readVar only
// on the far side of a semaphore edge.
//
// The padding keeps the two States of an experiment on separate cache
// lines, so the only sharing between workers is the deliberate one.
type State struct {
	_        cpu.CacheLinePad
	writeVar int64
	readVar  int64
	start    *sema.Semaphore
	_        cpu.CacheLinePad
}

// NewState allocates a State with a closed start gate.
func NewState() *State {
	return &State{start: sema.New(0)}
}

// Reset clears writeVar. The orchestrator calls it before Start, and the
// start semaphore publishes the cleared value to the worker.
func (s *State) Reset() {
	store(&s.writeVar, 0)
}

// Start opens the gate for one iteration.
func (s *State) Start() {
	s.start.Release(1)
}

// ReadVar is the value the worker last read from its peer.
func (s *State) ReadVar() int64 {
	return load(&s.readVar)
}

// WriteVar is the worker's own published value.
func (s *State) WriteVar() int64 {
	return load(&s.writeVar)
}

func (s *State) wait() {
	s.start.Acquire(1)
}
