// Package store implements the Agent Store and its execution-state machine
// (C3 in the component design): the canonical per-agent state that both the
// execution engine and the declarative tree read and write. The store has
// sole write authority over the message log — the reconciler's collector and
// the engine call its action methods rather than mutating slices directly
// (spec §3, "Relationships & Ownership").
//
// Grounded on the teacher's per-run observable state
// (runtime/agent/session/session.go) and immutable run snapshots
// (runtime/agent/runtime/run_snapshot.go), simplified: this framework has no
// durable run log, so subscriptions are an in-process fan-out rather than a
// Pulse-backed bus.
package store

import (
	"fmt"
	"sync"

	"github.com/flowtree/agentkit/content"
)

// State is the tagged execution-state variant from spec §4.1.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateWaitingForTools
	StateExecutingTools
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateWaitingForTools:
		return "waiting_for_tools"
	case StateExecutingTools:
		return "executing_tools"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// PendingToolCall is one outstanding tool_use awaiting dispatch, carried by
// the waiting_for_tools/executing_tools states.
type PendingToolCall struct {
	ID    string
	Name  string
	Input []byte
}

// ExecutionState is the current FSM value plus the data attached to it (spec
// §4.1). Only the fields relevant to State are populated; callers should
// switch on State rather than infer it from which fields are non-zero.
type ExecutionState struct {
	State State

	// Cancel is the per-turn cancel handle, populated in StateStreaming.
	Cancel func()

	// Pending is the outstanding tool calls, populated in
	// StateWaitingForTools and StateExecutingTools.
	Pending []PendingToolCall

	// Final is the terminal assistant message, populated in StateCompleted.
	Final *content.Message

	// Err is the terminal failure, populated in StateError.
	Err error
}

// CanAcceptMessages reports whether new user input may be appended right now
// (spec §4.1: true in idle/completed).
func (es ExecutionState) CanAcceptMessages() bool {
	return es.State == StateIdle || es.State == StateCompleted
}

// IsProcessing reports whether a turn is actively in flight (spec §4.1: true
// in streaming/waiting_for_tools/executing_tools).
func (es ExecutionState) IsProcessing() bool {
	switch es.State {
	case StateStreaming, StateWaitingForTools, StateExecutingTools:
		return true
	default:
		return false
	}
}

// StateChange is published to subscribers on every transition.
type StateChange struct {
	From ExecutionState
	To   ExecutionState
}

// Store is the canonical per-agent state: the message log plus the
// execution-state FSM. Safe for concurrent use; all mutation happens through
// its action methods (spec §3 invariant: "The Agent Store has sole write
// authority over the message log").
type Store struct {
	mu    sync.RWMutex
	log   []content.Message
	state ExecutionState

	subMu sync.Mutex
	subs  map[int]chan StateChange
	nextSub int
}

// New constructs an empty Store in the idle state.
func New() *Store {
	return &Store{
		state: ExecutionState{State: StateIdle},
		subs:  make(map[int]chan StateChange),
	}
}

// Snapshot returns an immutable, deep-copied view of the current message log
// in append order. Safe to retain — later mutation of the store's log never
// affects a returned snapshot (spec §4.5.3, "an immutable snapshot of the
// message log").
func (s *Store) Snapshot() []content.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return content.CloneLog(s.log)
}

// Len returns the current message count without copying.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// State returns the current execution state.
func (s *Store) State() ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AppendMessage appends one message to the log. This is the store's sole
// write path for conversation content; the reconciler's Message-Instance
// seeding at mount and the engine's per-turn pushes both go through this
// (spec §4.2 Collect: "Message → push onto the store's message log via its
// action"; §4.5 steps 5 and 6.d).
func (s *Store) AppendMessage(m content.Message) {
	s.mu.Lock()
	s.log = append(s.log, m)
	s.mu.Unlock()
}

// RemoveMessage removes the first message matching by reference identity —
// found by scanning for a message whose Content slice header is the same
// array as want's (spec §9, open question (c): "the spec mandates reference
// identity"). Package reconcile does not call it, since Message Instances
// are never uncollected. Returns false if no match was found.
func (s *Store) RemoveMessage(want content.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if sameBacking(s.log[i], want) {
			s.log = append(s.log[:i], s.log[i+1:]...)
			return true
		}
	}
	return false
}

// sameBacking reports whether a and b were built from the same Content
// backing array — our reference-identity proxy, since Go slices don't carry
// a stable pointer identity comparable with ==.
func sameBacking(a, b content.Message) bool {
	if len(a.Content) == 0 || len(b.Content) == 0 {
		return a.Role == b.Role && len(a.Content) == len(b.Content)
	}
	return &a.Content[0] == &b.Content[0]
}

// ReplaceLog atomically swaps the entire message log. Used by compaction
// (spec §4.5.1 step 3) — the only in-turn-boundary operation allowed to
// rewrite history wholesale (spec §3 invariant 3: "compaction and removal
// are explicit, out-of-turn operations").
func (s *Store) ReplaceLog(newLog []content.Message) {
	s.mu.Lock()
	s.log = newLog
	s.mu.Unlock()
}

// Reset clears the log and returns the store to idle. Package spawn does not
// use it: each subagent spawn gets a new Store from New (spec §3 invariant
// 6: "Each Subagent spawn produces a fresh Agent Store").
func (s *Store) Reset() {
	s.mu.Lock()
	s.log = nil
	old := s.state
	s.state = ExecutionState{State: StateIdle}
	s.mu.Unlock()
	s.publish(old, s.state)
}

// Transition validates and applies a state transition per the table in spec
// §4.1, returning an error if the transition isn't legal from the current
// state. "any" source transitions (completed/error/reset) are always legal.
func (s *Store) Transition(to ExecutionState) error {
	s.mu.Lock()
	from := s.state
	if err := validateTransition(from.State, to.State); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = to
	s.mu.Unlock()
	s.publish(from, to)
	return nil
}

// MustTransition panics on an illegal transition. Intended for engine code
// paths where an illegal transition indicates a programming error in the
// turn loop, not a caller mistake.
func (s *Store) MustTransition(to ExecutionState) {
	if err := s.Transition(to); err != nil {
		panic(err)
	}
}

func validateTransition(from, to State) error {
	if to == StateCompleted || to == StateError || to == StateIdle {
		// "any -> completed/error" and "any -> reset(idle)" are always legal.
		// idle is also reachable from executing_tools via tools_completed.
		return nil
	}
	switch from {
	case StateIdle:
		if to == StateStreaming {
			return nil
		}
	case StateStreaming:
		if to == StateWaitingForTools {
			return nil
		}
	case StateWaitingForTools:
		if to == StateExecutingTools {
			return nil
		}
	case StateExecutingTools:
		// tools_completed -> idle handled above.
	}
	return fmt.Errorf("store: illegal transition %s -> %s", from, to)
}

// Subscribe registers a channel that receives every StateChange. The
// returned cancel function unregisters it; callers must call it to avoid
// leaking the channel's goroutine-free but unbounded-growth slot map entry.
func (s *Store) Subscribe(buf int) (<-chan StateChange, func()) {
	ch := make(chan StateChange, buf)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subMu.Unlock()
	}
}

func (s *Store) publish(from, to ExecutionState) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	change := StateChange{From: from, To: to}
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
			// Slow subscriber; drop rather than block the store (state
			// changes are a best-effort observability feed, not a queue
			// callers rely on for correctness).
		}
	}
}
