package anthropicclient

import (
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flowtree/agentkit/content"
)

// StreamEventKind tags which lifecycle signal a StreamEvent carries, for
// the engine to re-emit as a `stream` event (spec §4.5 step 4, §7 "stream
// (text/thinking/tool_use_start/tool_result/message_complete)" — tool_result
// is emitted later by the engine itself, not by this package).
type StreamEventKind int

const (
	StreamText StreamEventKind = iota
	StreamThinking
	StreamToolUseStart
)

// StreamEvent is one incremental signal surfaced while a streaming request
// is in flight.
type StreamEvent struct {
	Kind     StreamEventKind
	Text     string // StreamText / StreamThinking delta
	ToolID   string // StreamToolUseStart
	ToolName string // StreamToolUseStart
}

// Streamer iterates a streaming Messages.New call, grounded on
// goadesign-goa-ai/features/model/anthropic/stream.go's chunk processor:
// the same per-content-block buffering (tool JSON fragments, thinking
// text/signature) collapsed here into a pull-based Next/Event/Final API
// instead of a channel, since the engine already runs the turn loop
// synchronously per iteration and has no need for a background goroutine
// here — the SDK's own ssestream.Stream already buffers network reads.
type Streamer struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	toolBlocks     map[int]*toolBuffer
	thinkingBlocks map[int]*thinkingBuffer
	textBlocks     map[int]*strings.Builder

	stopReason string
	usage      content.Usage
	final      content.Message

	pending []StreamEvent
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *Streamer {
	return &Streamer{
		stream:         stream,
		toolBlocks:     make(map[int]*toolBuffer),
		thinkingBlocks: make(map[int]*thinkingBuffer),
		textBlocks:     make(map[int]*strings.Builder),
	}
}

// Next advances the stream, buffering zero or more StreamEvents retrievable
// via Event, until either an event is produced or the stream ends. It
// returns false when the stream is exhausted; callers must then check Err.
func (s *Streamer) Next() bool {
	for len(s.pending) == 0 {
		if !s.stream.Next() {
			return false
		}
		s.handle(s.stream.Current())
	}
	return true
}

// Event pops the next buffered StreamEvent. Only valid immediately after
// Next returns true.
func (s *Streamer) Event() StreamEvent {
	e := s.pending[0]
	s.pending = s.pending[1:]
	return e
}

// Err returns the terminal stream error, if any.
func (s *Streamer) Err() error {
	return s.stream.Err()
}

// Close releases the underlying SSE connection.
func (s *Streamer) Close() error {
	return s.stream.Close()
}

// Final returns the fully assembled assistant message, stop reason, and
// usage once the stream has been drained. Only meaningful after Next has
// returned false with a nil Err.
func (s *Streamer) Final() (content.Message, content.StopReason, content.Usage) {
	return s.final, content.StopReason(s.stopReason), s.usage
}

func (s *Streamer) emit(e StreamEvent) {
	s.pending = append(s.pending, e)
}

func (s *Streamer) handle(event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.toolBlocks = make(map[int]*toolBuffer)
		s.thinkingBlocks = make(map[int]*thinkingBuffer)
		s.textBlocks = make(map[int]*strings.Builder)
		s.stopReason = ""
		s.final = content.Message{Role: content.RoleAssistant}

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			tb := &toolBuffer{id: tu.ID, name: tu.Name}
			s.toolBlocks[idx] = tb
			if tb.id != "" && tb.name != "" {
				s.emit(StreamEvent{Kind: StreamToolUseStart, ToolID: tb.id, ToolName: tb.name})
			}
		}

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				tb := s.textBlocks[idx]
				if tb == nil {
					tb = &strings.Builder{}
					s.textBlocks[idx] = tb
				}
				tb.WriteString(delta.Text)
				s.emit(StreamEvent{Kind: StreamText, Text: delta.Text})
			}
		case sdk.InputJSONDelta:
			if tb := s.toolBlocks[idx]; tb != nil && delta.PartialJSON != "" {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				break
			}
			tb := s.thinkingBlocks[idx]
			if tb == nil {
				tb = &thinkingBuffer{}
				s.thinkingBlocks[idx] = tb
			}
			tb.text.WriteString(delta.Thinking)
			s.emit(StreamEvent{Kind: StreamThinking, Text: delta.Thinking})
		case sdk.SignatureDelta:
			tb := s.thinkingBlocks[idx]
			if tb == nil {
				tb = &thinkingBuffer{}
				s.thinkingBlocks[idx] = tb
			}
			tb.signature = delta.Signature
		}

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb := s.textBlocks[idx]; tb != nil {
			delete(s.textBlocks, idx)
			if tb.Len() > 0 {
				s.final.Content = append(s.final.Content, content.NewTextBlock(tb.String()))
			}
		}
		if tb := s.thinkingBlocks[idx]; tb != nil {
			delete(s.thinkingBlocks, idx)
			if tb.text.Len() > 0 {
				s.final.Content = append(s.final.Content, content.NewThinkingBlock(tb.text.String(), tb.signature))
			}
		}
		if tb := s.toolBlocks[idx]; tb != nil {
			delete(s.toolBlocks, idx)
			s.final.Content = append(s.final.Content, content.NewToolUseBlock(tb.id, tb.name, json.RawMessage(tb.finalInput())))
		}

	case sdk.MessageDeltaEvent:
		s.stopReason = string(ev.Delta.StopReason)
		s.usage = content.Usage{
			InputTokens:              int(ev.Usage.InputTokens),
			OutputTokens:             int(ev.Usage.OutputTokens),
			CacheCreationInputTokens: int(ev.Usage.CacheCreationInputTokens),
			CacheReadInputTokens:     int(ev.Usage.CacheReadInputTokens),
		}

	case sdk.MessageStopEvent:
		s.toolBlocks = make(map[int]*toolBuffer)
		s.thinkingBlocks = make(map[int]*thinkingBuffer)
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	if len(tb.fragments) == 0 {
		return "{}"
	}
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

type thinkingBuffer struct {
	text      strings.Builder
	signature string
}
