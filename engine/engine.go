// Package engine implements the Execution Engine (C8): the per-agent turn
// loop that drives a tree.Instance from its seeded user message to a final
// assistant message, dispatching tool calls, re-evaluating conditions,
// compacting history, and emitting lifecycle events along the way (spec
// §4.5).
//
// Grounded on goadesign-goa-ai/runtime/agent/runtime's reconcile-then-drive
// loop shape and runtime/agent/tools' concurrent dispatch-and-join pattern
// for tool calls (golang.org/x/sync/errgroup, the same package the teacher
// uses there), generalized to this module's condition/compaction/abort
// machinery, which the teacher has no equivalent of.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/flowtree/agentkit/agenterrors"
	"github.com/flowtree/agentkit/anthropicclient"
	"github.com/flowtree/agentkit/condition"
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/events"
	"github.com/flowtree/agentkit/reconcile"
	"github.com/flowtree/agentkit/sdktool/memory"
	"github.com/flowtree/agentkit/spawn"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/telemetry"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

const (
	defaultCompactionThreshold     = 100_000
	defaultCompactionSummaryPrompt = "Summarize the conversation so far concisely, preserving any facts and decisions needed to continue the task."
)

// EventSink receives every lifecycle event an Engine emits (spec §7). A nil
// sink is legal and simply discards events — used for nested subagent runs,
// which never bubble events to the parent (spec §4.3).
type EventSink func(events.Event)

// Deps are the ambient seams an Engine reports through. A zero Deps
// resolves every field to its no-op implementation.
type Deps struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = telemetry.Noop{}
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.Noop{}
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.Noop{}
	}
	return d
}

// Engine drives one tree.Instance's turn loop. Not reused across
// instances; package agentkit constructs one per Agent Handle, and package
// spawn constructs one per subagent run via the package-level Run function.
type Engine struct {
	inst   *tree.Instance
	client *anthropicclient.Client
	deps   Deps

	mu      sync.Mutex
	aborted bool
	cancel  context.CancelFunc
}

// New builds an Engine for inst, reporting through deps.
func New(inst *tree.Instance, client *anthropicclient.Client, deps Deps) *Engine {
	return &Engine{inst: inst, client: client, deps: deps.withDefaults()}
}

// Abort requests that the current or next turn stop (spec §4.5.2). Safe to
// call from any goroutine, any number of times.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) isAborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

func (e *Engine) setCancel(cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
}

// Run drives inst to completion, emitting lifecycle events to sink (spec
// §4.5 "Turn loop"). A nil sink discards every event. Returns the final
// assistant message on success, or the terminating error.
func (e *Engine) Run(ctx context.Context, sink EventSink) (content.Message, error) {
	st := e.inst.Store

	if !hasUserMessage(st.Snapshot()) {
		return content.Message{}, agenterrors.EmptyConversation()
	}

	spawnFn := spawn.New(e.inst, e.client, e.deps.Logger, Run)

	var iteration int
	var lastMsg content.Message

	for {
		if e.isAborted() {
			return e.fail(ctx, sink, st, agenterrors.Aborted())
		}
		if e.inst.Config.MaxIterations > 0 && iteration >= e.inst.Config.MaxIterations {
			return lastMsg, nil
		}
		iteration++

		msg, done, err := e.runTurn(ctx, st, sink, spawnFn, iteration)
		if err != nil {
			return e.fail(ctx, sink, st, err)
		}
		lastMsg = msg
		if done {
			return msg, nil
		}
	}
}

// runTurn executes one iteration of the turn loop (spec §4.5 steps 1-7),
// returning the assistant message produced, whether the run is now
// complete, and any error that should terminate the whole run. The
// per-turn cancel handle spans the chat request, condition evaluation, and
// tool dispatch — every suspension point abort() must reach (spec §5) — and
// is released when the turn ends, successfully or not.
func (e *Engine) runTurn(ctx context.Context, st *store.Store, sink EventSink, spawnFn toolspec.SpawnFunc, iteration int) (msg content.Message, done bool, err error) {
	turnCtx, cancel := context.WithCancel(ctx)
	e.setCancel(cancel)
	defer cancel()

	agentAttr := attribute.String("agent", e.inst.Config.Name)
	turnCtx, span := e.deps.Tracer.Start(turnCtx, "engine.turn")
	turnStart := time.Now()
	e.deps.Metrics.IncCounter(turnCtx, "engine.turn.count", agentAttr)
	defer func() {
		span.SetError(err)
		span.End()
		e.deps.Metrics.RecordDuration(turnCtx, "engine.turn.duration_ms", float64(time.Since(turnStart).Milliseconds()), agentAttr)
	}()

	e.transition(st, sink, store.ExecutionState{State: store.StateStreaming, Cancel: cancel})

	if _, err := condition.Evaluate(turnCtx, e.inst, e.client, e.inst.Config.Model, iteration == 1, false, e.deps.Logger); err != nil {
		e.deps.Logger.Error(turnCtx, "condition evaluation failed, string conditions defaulted to inactive", "error", err.Error())
	}
	e.deps.Logger.Debug(turnCtx, "reconciler", "recollecting instance tree", "agent", e.inst.Config.Name, "iteration", iteration)
	if err := reconcile.Recollect(e.inst); err != nil {
		return content.Message{}, false, err
	}

	req := e.buildRequest(st.Snapshot())

	e.deps.Logger.Debug(turnCtx, "api", "dispatching chat request", "agent", e.inst.Config.Name, "model", req.Model, "stream", req.Stream, "tools", len(req.Tools))

	var resp *anthropicclient.Response
	if e.inst.Config.Stream {
		resp, err = e.runStreaming(turnCtx, req, sink)
	} else {
		resp, err = e.client.Complete(turnCtx, req)
	}
	if err != nil {
		if e.isAborted() {
			return content.Message{}, false, agenterrors.Aborted()
		}
		return content.Message{}, false, agenterrors.ChatRequest(err)
	}

	assistantMsg := resp.Message.Sanitize()
	st.AppendMessage(assistantMsg)
	e.emitMessage(sink, assistantMsg)

	toolUses := assistantMsg.ToolUses()
	if len(toolUses) > 0 && resp.StopReason == content.StopToolUse {
		pending := toPending(toolUses)
		e.transition(st, sink, store.ExecutionState{State: store.StateWaitingForTools, Pending: pending})
		e.transition(st, sink, store.ExecutionState{State: store.StateExecutingTools, Pending: pending})

		resultBlocks, records := e.dispatchTools(turnCtx, toolUses, spawnFn)
		if e.inst.Config.Stream {
			for _, rec := range records {
				se := events.NewStream(e.inst.Config.Name, e.now(), events.StreamToolResult)
				se.ToolID, se.ToolName, se.Result, se.IsError = rec.ID, rec.Name, rec.Content, rec.IsError
				e.emit(sink, se)
			}
		}

		resultMsg := content.Message{Role: content.RoleUser, Content: resultBlocks}
		st.AppendMessage(resultMsg)
		e.emitMessage(sink, resultMsg)

		e.transition(st, sink, store.ExecutionState{State: store.StateIdle})

		step := tree.StepFinish{
			Step:        iteration,
			Text:        assistantMsg.Text(),
			Thinking:    thinkingText(assistantMsg),
			ToolCalls:   toolCallRecords(toolUses),
			ToolResults: records,
			StopReason:  resp.StopReason,
			Usage:       resp.Usage,
			Message:     assistantMsg,
			LogSnapshot: st.Snapshot(),
		}
		e.emitStepFinish(sink, step)

		e.maybeCompact(ctx, st, resp.Usage)
		return assistantMsg, false, nil
	}

	step := tree.StepFinish{
		Step:        iteration,
		Text:        assistantMsg.Text(),
		Thinking:    thinkingText(assistantMsg),
		StopReason:  resp.StopReason,
		Usage:       resp.Usage,
		Message:     assistantMsg,
		LogSnapshot: st.Snapshot(),
	}
	e.emitStepFinish(sink, step)

	final := assistantMsg
	e.transition(st, sink, store.ExecutionState{State: store.StateCompleted, Final: &final})
	e.emit(sink, events.NewComplete(e.inst.Config.Name, e.now(), assistantMsg))
	if cb := e.inst.Config.Callbacks.OnComplete; cb != nil {
		cb(assistantMsg)
	}
	return assistantMsg, true, nil
}

// Run is the package-level entry point package spawn drives nested subagent
// runs through (spec §4.3: spawned runs "do not bubble as engine events to
// the parent's subscribers"), so it always passes a nil sink. Its signature
// matches spawn.Runner exactly.
func Run(ctx context.Context, inst *tree.Instance, client *anthropicclient.Client, logger telemetry.Logger) (content.Message, error) {
	eng := New(inst, client, Deps{Logger: logger})
	return eng.Run(ctx, nil)
}

func (e *Engine) fail(ctx context.Context, sink EventSink, st *store.Store, err error) (content.Message, error) {
	aborted := agenterrors.IsAborted(err)
	_ = st.Transition(store.ExecutionState{State: store.StateError, Err: err})
	e.emit(sink, events.NewError(e.inst.Config.Name, e.now(), err, aborted))
	if cb := e.inst.Config.Callbacks.OnError; cb != nil {
		cb(err)
	}
	return content.Message{}, err
}

func (e *Engine) transition(st *store.Store, sink EventSink, to store.ExecutionState) {
	from := st.State()
	if err := st.Transition(to); err != nil {
		e.deps.Logger.Error(context.Background(), "engine: illegal state transition", "error", err.Error())
		return
	}
	e.emit(sink, events.NewStateChange(e.inst.Config.Name, e.now(), from.State.String(), to.State.String()))
}

func (e *Engine) emit(sink EventSink, ev events.Event) {
	if sink != nil {
		sink(ev)
	}
}

func (e *Engine) emitMessage(sink EventSink, m content.Message) {
	e.emit(sink, events.NewMessage(e.inst.Config.Name, e.now(), m))
	if cb := e.inst.Config.Callbacks.OnMessage; cb != nil {
		cb(m)
	}
}

func (e *Engine) emitStepFinish(sink EventSink, step tree.StepFinish) {
	step.TimestampUnix = e.now()
	e.emit(sink, events.NewStepFinish(e.inst.Config.Name, step.TimestampUnix, step))
	if cb := e.inst.Config.Callbacks.OnStepFinish; cb != nil {
		cb(step)
	}
}

func (e *Engine) now() int64 { return time.Now().Unix() }

func hasUserMessage(log []content.Message) bool {
	for _, m := range log {
		if m.Role == content.RoleUser {
			return true
		}
	}
	return false
}

// buildRequest aggregates inst's current configuration and tool/system/sdk-
// tool/mcp-server arrays, plus log, into a chat-service request (spec §6.1).
func (e *Engine) buildRequest(log []content.Message) anthropicclient.Request {
	cfg := e.inst.Config
	req := anthropicclient.Request{
		Model:          cfg.Model,
		MaxTokens:      cfg.MaxTokens,
		System:         e.inst.SystemParts,
		Messages:       log,
		StopSequences:  cfg.StopSequences,
		Temperature:    cfg.Temperature,
		HasTemperature: cfg.HasTemperature,
		Betas:          cfg.Beta,
		Stream:         cfg.Stream,
	}
	for _, t := range e.inst.Tools {
		req.Tools = append(req.Tools, anthropicclient.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Strict:      t.Strict,
		})
	}
	for _, s := range e.inst.SDKTools {
		req.BuiltinTools = append(req.BuiltinTools, anthropicclient.BuiltinToolDef{Kind: sdkKindToBuiltin(s.Kind)})
	}
	for _, m := range e.inst.MCPServers {
		req.MCPServers = append(req.MCPServers, anthropicclient.MCPServerDef{Name: m.Name, URL: m.URL, APIKey: m.APIKey})
	}
	if cfg.Thinking != nil && cfg.Thinking.Enabled {
		req.ThinkingBudget = cfg.Thinking.BudgetTokens
	}
	return req
}

func sdkKindToBuiltin(k tree.SDKToolKind) anthropicclient.BuiltinToolKind {
	switch k {
	case tree.SDKToolCodeExecution:
		return anthropicclient.BuiltinCodeExecution
	case tree.SDKToolMemory:
		return anthropicclient.BuiltinMemory
	default:
		return anthropicclient.BuiltinWebSearch
	}
}

// runStreaming drains a Streamer, re-emitting each incremental signal as a
// `stream` lifecycle event (spec §4.5 step 4), and returns the assembled
// response once the stream ends.
func (e *Engine) runStreaming(ctx context.Context, req anthropicclient.Request, sink EventSink) (*anthropicclient.Response, error) {
	streamer, err := e.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	for streamer.Next() {
		ev := streamer.Event()
		se := events.NewStream(e.inst.Config.Name, e.now(), streamKind(ev.Kind))
		se.Text = ev.Text
		se.ToolID = ev.ToolID
		se.ToolName = ev.ToolName
		e.emit(sink, se)
	}
	if err := streamer.Err(); err != nil {
		return nil, err
	}

	msg, stopReason, usage := streamer.Final()
	mc := msg
	done := events.NewStream(e.inst.Config.Name, e.now(), events.StreamMessageComplete)
	done.Message = &mc
	e.emit(sink, done)

	return &anthropicclient.Response{Message: msg, StopReason: stopReason, Usage: usage}, nil
}

func streamKind(k anthropicclient.StreamEventKind) events.StreamEventKind {
	switch k {
	case anthropicclient.StreamThinking:
		return events.StreamThinking
	case anthropicclient.StreamToolUseStart:
		return events.StreamToolUseStart
	default:
		return events.StreamText
	}
}

// dispatchTools runs every pending tool_use concurrently and joins the
// results, reassembling them in call order regardless of completion order
// (spec §5, "results are serialised in call order").
func (e *Engine) dispatchTools(ctx context.Context, uses []content.ToolUse, spawnFn toolspec.SpawnFunc) ([]content.Block, []tree.ToolResultRecord) {
	blocks := make([]content.Block, len(uses))
	records := make([]tree.ToolResultRecord, len(uses))

	g, gctx := errgroup.WithContext(ctx)
	for i, use := range uses {
		i, use := i, use
		g.Go(func() error {
			toolAttr := attribute.String("tool", use.Name)
			toolCtx, span := e.deps.Tracer.Start(gctx, "engine.tool_dispatch")
			e.deps.Metrics.IncCounter(toolCtx, "engine.tool.count", toolAttr)

			start := time.Now()
			block, rec := e.invokeTool(toolCtx, use, spawnFn)
			rec.ExecutionTimeMS = time.Since(start).Milliseconds()

			e.deps.Metrics.RecordDuration(toolCtx, "engine.tool.duration_ms", float64(rec.ExecutionTimeMS), toolAttr)
			if rec.IsError {
				span.SetError(fmt.Errorf("tool %s: %s", use.Name, rec.Content))
			}
			span.End()

			blocks[i] = block
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait() // per-tool failures are folded into blocks/records, never returned here (spec §5)

	return blocks, records
}

func (e *Engine) invokeTool(ctx context.Context, use content.ToolUse, spawnFn toolspec.SpawnFunc) (content.Block, tree.ToolResultRecord) {
	e.deps.Logger.Debug(ctx, "tool", "dispatching tool call", "name", use.Name, "id", use.ID)

	if handlers := e.memoryHandlers(); handlers != nil && use.Name == tree.SDKToolMemory.String() {
		return e.invokeMemory(ctx, use, handlers, spawnFn)
	}

	spec := e.findTool(use.Name)
	if spec == nil {
		if e.isServerSideTool(use.Name) {
			return e.toolError(use, fmt.Sprintf("Error: tool %q is handled server-side and has no local handler", use.Name))
		}
		return e.toolError(use, fmt.Sprintf("Error: unknown tool %q", use.Name))
	}

	if err := spec.Validate(use.Input); err != nil {
		return e.toolError(use, err.Error())
	}

	tc := toolspec.NewContext(ctx, e.inst.Config.Name, e.inst.Config.Model, use.ID, spawnFn)
	res, err := spec.Handler(ctx, tc, use.Input)
	if err != nil {
		return e.toolError(use, fmt.Sprintf("Error: %s", err.Error()))
	}

	if len(res.Blocks) > 0 {
		return content.NewToolResultBlocksBlock(use.ID, res.Blocks, false),
			tree.ToolResultRecord{ID: use.ID, Name: use.Name, Content: blocksText(res.Blocks), IsError: false}
	}
	return content.NewToolResultTextBlock(use.ID, res.Text, false),
		tree.ToolResultRecord{ID: use.ID, Name: use.Name, Content: res.Text, IsError: false}
}

// memoryHandlers returns the command handlers configured on inst's memory
// SDK-Tool instance, or nil if none was collected (spec §6.3: the memory
// tool's command dispatch is local, unlike web_search/code_execution).
func (e *Engine) memoryHandlers() map[string]toolspec.HandlerFunc {
	for _, s := range e.inst.SDKTools {
		if s.Kind == tree.SDKToolMemory {
			return s.MemoryHandlers
		}
	}
	return nil
}

// invokeMemory routes a memory tool_use to the command handler its input
// names (spec §6.3's six named commands), rather than treating it as an
// opaque server-side call the way code_execution/web_search are.
func (e *Engine) invokeMemory(ctx context.Context, use content.ToolUse, handlers map[string]toolspec.HandlerFunc, spawnFn toolspec.SpawnFunc) (content.Block, tree.ToolResultRecord) {
	cmd, err := memory.CommandOf(use.Input)
	if err != nil {
		return e.toolError(use, fmt.Sprintf("Error: %s", err.Error()))
	}
	handler, ok := handlers[cmd]
	if !ok {
		return e.toolError(use, fmt.Sprintf("Error: memory tool has no handler for command %q", cmd))
	}

	tc := toolspec.NewContext(ctx, e.inst.Config.Name, e.inst.Config.Model, use.ID, spawnFn)
	res, err := handler(ctx, tc, use.Input)
	if err != nil {
		return e.toolError(use, fmt.Sprintf("Error: %s", err.Error()))
	}

	if len(res.Blocks) > 0 {
		return content.NewToolResultBlocksBlock(use.ID, res.Blocks, false),
			tree.ToolResultRecord{ID: use.ID, Name: use.Name, Content: blocksText(res.Blocks), IsError: false}
	}
	return content.NewToolResultTextBlock(use.ID, res.Text, false),
		tree.ToolResultRecord{ID: use.ID, Name: use.Name, Content: res.Text, IsError: false}
}

func (e *Engine) toolError(use content.ToolUse, msg string) (content.Block, tree.ToolResultRecord) {
	return content.NewToolResultTextBlock(use.ID, msg, true),
		tree.ToolResultRecord{ID: use.ID, Name: use.Name, Content: msg, IsError: true}
}

func (e *Engine) findTool(name string) *toolspec.Spec {
	for _, t := range e.inst.Tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (e *Engine) isServerSideTool(name string) bool {
	for _, t := range e.inst.SDKTools {
		if t.Kind.String() == name {
			return true
		}
	}
	for _, m := range e.inst.MCPServers {
		if m.Name == name {
			return true
		}
	}
	return false
}

func blocksText(blocks []content.Block) string {
	var out string
	for _, b := range blocks {
		if b.Type == content.BlockText {
			out += b.Text
		}
	}
	return out
}

func thinkingText(m content.Message) string {
	var out string
	for _, b := range m.Content {
		if b.Type == content.BlockThinking && b.Thinking != nil {
			out += b.Thinking.Text
		}
	}
	return out
}

func toolCallRecords(uses []content.ToolUse) []tree.ToolCallRecord {
	out := make([]tree.ToolCallRecord, len(uses))
	for i, u := range uses {
		out[i] = tree.ToolCallRecord{ID: u.ID, Name: u.Name, Input: u.Input}
	}
	return out
}

func toPending(uses []content.ToolUse) []store.PendingToolCall {
	out := make([]store.PendingToolCall, len(uses))
	for i, u := range uses {
		out[i] = store.PendingToolCall{ID: u.ID, Name: u.Name, Input: u.Input}
	}
	return out
}

// maybeCompact checks and, if warranted, performs history compaction after
// a tool-result push (spec §4.5.1). Never affects the in-flight turn.
func (e *Engine) maybeCompact(ctx context.Context, st *store.Store, usage content.Usage) {
	cfg := e.inst.Config.Compaction
	if !cfg.Enabled {
		return
	}
	threshold := cfg.ThresholdTokens
	if threshold <= 0 {
		threshold = defaultCompactionThreshold
	}
	if usage.Total() <= threshold {
		return
	}

	log := stripTrailingToolUse(st.Snapshot())

	prompt := cfg.SummaryPrompt
	if prompt == "" {
		prompt = defaultCompactionSummaryPrompt
	}
	log = append(log, content.NewUserText(prompt))

	model := cfg.Model
	if model == "" {
		model = e.inst.Config.Model
	}

	resp, err := e.client.Complete(ctx, anthropicclient.Request{
		Model:     model,
		MaxTokens: e.inst.Config.MaxTokens,
		Messages:  log,
	})
	if err != nil {
		e.deps.Logger.Error(ctx, "engine: compaction request failed", "error", agenterrors.Compaction(err).Error())
		return
	}

	text := resp.Message.Text()
	if text == "" {
		e.deps.Logger.Error(ctx, "engine: compaction produced no summary", "error", agenterrors.Compaction(fmt.Errorf("response carried no text block")).Error())
		return
	}
	st.ReplaceLog([]content.Message{content.NewUserText(text)})
}

// stripTrailingToolUse implements spec §4.5.1 step 1: if the copied log's
// last entry is an assistant message containing only tool_use blocks,
// remove it; else strip any tool_use blocks it carries.
func stripTrailingToolUse(log []content.Message) []content.Message {
	if len(log) == 0 {
		return log
	}
	last := log[len(log)-1]
	if last.Role != content.RoleAssistant {
		return log
	}

	onlyToolUse := len(last.Content) > 0
	for _, b := range last.Content {
		if b.Type != content.BlockToolUse {
			onlyToolUse = false
			break
		}
	}
	if onlyToolUse {
		return log[:len(log)-1]
	}

	hasToolUse := false
	for _, b := range last.Content {
		if b.Type == content.BlockToolUse {
			hasToolUse = true
			break
		}
	}
	if !hasToolUse {
		return log
	}

	stripped := make([]content.Block, 0, len(last.Content))
	for _, b := range last.Content {
		if b.Type != content.BlockToolUse {
			stripped = append(stripped, b)
		}
	}
	out := make([]content.Message, len(log))
	copy(out, log)
	out[len(out)-1] = content.Message{Role: last.Role, Content: stripped}
	return out
}
