package sync

import "sync/atomic"

// State is the processor's run state, stored via sync/atomic exactly as
// spirit stores its migrationState: a plain int32 behind Load/Store rather
// than a mutex, since every transition is a single assignment and reads
// happen far more often than writes (status reporting, logPeriodically).
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateProcessing
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateProcessing:
		return "processing"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

func (p *Processor) getCurrentState() State {
	return State(atomic.LoadInt32(&p.currentState))
}

func (p *Processor) setCurrentState(s State) {
	atomic.StoreInt32(&p.currentState, int32(s))
}
