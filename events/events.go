// Package events defines the lifecycle event types the execution engine
// emits up through the Agent Handle to caller subscribers (spec §7,
// "User-visible events").
//
// Grounded on goadesign-goa-ai/agents/runtime/hooks/events.go's Event
// interface and per-phase concrete struct pattern (baseEvent embedding plus
// one struct per lifecycle phase), narrowed to the six event kinds the
// specification names instead of the teacher's larger workflow-oriented
// set (run paused/resumed, tool-call-updated, planner notes — none of
// which have a place in this module's non-durable, non-paginated turn
// loop).
package events

import (
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/tree"
)

// Type tags which concrete event a Event carries.
type Type string

const (
	TypeStateChange Type = "state_change"
	TypeStream      Type = "stream"
	TypeMessage     Type = "message"
	TypeStepFinish  Type = "step_finish"
	TypeComplete    Type = "complete"
	TypeError       Type = "error"
)

// Event is the interface every lifecycle event implements (mirrors
// goa-ai's hooks.Event: a typed envelope plus event-specific payload
// fields reached via a type switch).
type Event interface {
	Type() Type
	AgentName() string
	TimestampUnix() int64
}

type baseEvent struct {
	agentName string
	ts        int64
}

func (b baseEvent) AgentName() string   { return b.agentName }
func (b baseEvent) TimestampUnix() int64 { return b.ts }

// newBase builds the baseEvent every exported New* constructor below
// embeds, so package engine never touches baseEvent's fields.
func newBase(agentName string, ts int64) baseEvent { return baseEvent{agentName: agentName, ts: ts} }

// StreamEventKind tags which incremental signal a StreamEvent carries.
type StreamEventKind string

const (
	StreamText           StreamEventKind = "text"
	StreamThinking       StreamEventKind = "thinking"
	StreamToolUseStart   StreamEventKind = "tool_use_start"
	StreamToolResult     StreamEventKind = "tool_result"
	StreamMessageComplete StreamEventKind = "message_complete"
)

// StateChangeEvent fires on every Agent Store transition (spec §4.1).
type StateChangeEvent struct {
	baseEvent
	From string
	To   string
}

// NewStateChange constructs a StateChangeEvent.
func NewStateChange(agentName string, ts int64, from, to string) *StateChangeEvent {
	return &StateChangeEvent{baseEvent: newBase(agentName, ts), From: from, To: to}
}
func (e *StateChangeEvent) Type() Type { return TypeStateChange }

// StreamEvent fires for each incremental signal during a streaming turn
// (spec §7: "stream (text/thinking/tool_use_start/tool_result/
// message_complete)").
type StreamEvent struct {
	baseEvent
	Kind     StreamEventKind
	Text     string
	ToolID   string
	ToolName string
	Result   string
	IsError  bool
	Message  *content.Message
}

// NewStream constructs a StreamEvent.
func NewStream(agentName string, ts int64, kind StreamEventKind) *StreamEvent {
	return &StreamEvent{baseEvent: newBase(agentName, ts), Kind: kind}
}
func (e *StreamEvent) Type() Type { return TypeStream }

// MessageEvent fires whenever a message is appended to the store (spec §7:
// "message").
type MessageEvent struct {
	baseEvent
	Message content.Message
}

// NewMessage constructs a MessageEvent.
func NewMessage(agentName string, ts int64, m content.Message) *MessageEvent {
	return &MessageEvent{baseEvent: newBase(agentName, ts), Message: m}
}
func (e *MessageEvent) Type() Type { return TypeMessage }

// StepFinishEvent fires at the end of each turn (spec §4.5.3). The payload
// is tree.StepFinish, already shaped to this event's field set, so it is
// embedded rather than duplicated.
type StepFinishEvent struct {
	baseEvent
	Step tree.StepFinish
}

// NewStepFinish constructs a StepFinishEvent.
func NewStepFinish(agentName string, ts int64, step tree.StepFinish) *StepFinishEvent {
	return &StepFinishEvent{baseEvent: newBase(agentName, ts), Step: step}
}
func (e *StepFinishEvent) Type() Type { return TypeStepFinish }

// CompleteEvent fires once, terminally, on run success (spec §7).
type CompleteEvent struct {
	baseEvent
	FinalMessage content.Message
}

// NewComplete constructs a CompleteEvent.
func NewComplete(agentName string, ts int64, final content.Message) *CompleteEvent {
	return &CompleteEvent{baseEvent: newBase(agentName, ts), FinalMessage: final}
}
func (e *CompleteEvent) Type() Type { return TypeComplete }

// ErrorEvent fires once, terminally, on run failure or abort (spec §7).
type ErrorEvent struct {
	baseEvent
	Err     error
	Aborted bool
}

// NewError constructs an ErrorEvent.
func NewError(agentName string, ts int64, err error, aborted bool) *ErrorEvent {
	return &ErrorEvent{baseEvent: newBase(agentName, ts), Err: err, Aborted: aborted}
}
func (e *ErrorEvent) Type() Type { return TypeError }
