package workerpool

import "sync/atomic"

// State is a worker slot's position in the UNUSED → SLEEPING → RUNNING →
// SLEEPING → ... → UNUSED state machine.
type State int32

const (
	StateUnused State = iota
	StateSleeping
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUnused:
		return "unuse"
	case StateSleeping:
		return "sleep"
	case StateRunning:
		return "run"
	default:
		return "unknown"
	}
}

// Slot is one entry of the worker table. The hot fields (status,
// lastAccessUnixMicro, count) are atomics so a status
// snapshot for the status control command never blocks a running worker.
type Slot struct {
	No int

	status         atomic.Int32
	commandFlag    atomic.Bool
	count          atomic.Uint64
	lastAccessMicro atomic.Int64
}

func newSlot(no int) *Slot {
	s := &Slot{No: no}
	s.status.Store(int32(StateUnused))
	return s
}

func (s *Slot) State() State { return State(s.status.Load()) }

func (s *Slot) setState(st State) { s.status.Store(int32(st)) }

// CommandFlag reports whether the slot is currently executing a control
// command — such a slot reports "sleep" in -status so the command request
// does not count itself.
func (s *Slot) CommandFlag() bool { return s.commandFlag.Load() }

// SetCommandFlag marks (or clears) this slot as executing a control
// command. Callers dispatching a control request should set this before
// running it and clear it afterward (http_server.c's do_command, whose
// caller flips worker_thread_info_t.command_flag around the call).
func (s *Slot) SetCommandFlag(v bool) { s.commandFlag.Store(v) }

// Count returns the cumulative number of requests this slot has served.
func (s *Slot) Count() uint64 { return s.count.Load() }

func (s *Slot) incCount() { s.count.Add(1) }

// LastAccessMicro returns the last-access timestamp in microseconds since
// the Unix epoch, matching the C source's int64 microsecond clock.
func (s *Slot) LastAccessMicro() int64 { return s.lastAccessMicro.Load() }

func (s *Slot) touch(nowMicro int64) { s.lastAccessMicro.Store(nowMicro) }

// StatusForDisplay reports the state a -status snapshot should show: a slot
// executing a control command is shown as "sleep" rather than "run".
func (s *Slot) StatusForDisplay() State {
	if s.CommandFlag() {
		return StateSleeping
	}
	return s.State()
}
