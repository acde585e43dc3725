package agentkit

import (
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/events"
)

// Stream is the lazy sequence of lifecycle events a Handle.Stream call
// returns (spec §4.6, §9 Design Notes "Iterators/streams"): callers pump it
// with Next/Event until it is exhausted, then read Final for the turn
// loop's result. Mirrors the Next/Event/Final iterator shape package
// anthropicclient's Streamer already uses for the same "lazy sequence
// terminated by a final value" pattern, one level up the stack.
type Stream struct {
	ch    chan events.Event
	cur   events.Event
	final content.Message
	err   error
}

// Next advances the stream, reporting whether an event is available. It
// blocks until either an event arrives or the underlying run finishes.
func (s *Stream) Next() bool {
	ev, ok := <-s.ch
	if !ok {
		return false
	}
	s.cur = ev
	return true
}

// Event returns the event most recently yielded by Next.
func (s *Stream) Event() events.Event { return s.cur }

// Final returns the turn loop's terminal result. Only meaningful once Next
// has returned false.
func (s *Stream) Final() (content.Message, error) { return s.final, s.err }
