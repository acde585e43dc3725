// Package agentkit is the module's root package: it exposes the Agent
// Handle (C9), the public surface a caller mounts a declarative tree
// through, drives turns on, and tears down (spec §4.6).
//
// Grounded on goadesign-goa-ai/agents/runtime/runtime.go's Options{}/New
// constructor idiom (nil-substitution of noop telemetry, a single
// top-level constructor gluing the lower packages together) and its own
// Subscribe/broadcast fan-out, adapted from the simpler store.Subscribe
// pattern already used inside package store for the same purpose. This
// package imports engine but not spawn: Engine.Run itself hands engine.Run
// to spawn.New as the Runner.
package agentkit

import (
	"context"
	"sync"

	"github.com/flowtree/agentkit/agenterrors"
	"github.com/flowtree/agentkit/anthropicclient"
	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/engine"
	"github.com/flowtree/agentkit/events"
	"github.com/flowtree/agentkit/reconcile"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/telemetry"
	"github.com/flowtree/agentkit/tree"
)

// Options configures a Handle. Tree and Client are required; the
// telemetry fields default to no-ops, mirroring runtime.New's
// nil-substitution (spec §4.6 carries no telemetry contract of its own,
// but the ambient stack is carried regardless of what a non-goal excludes).
type Options struct {
	// Tree is the declarative root Agent Node to mount (spec §4.2 Create).
	Tree *tree.Node
	// Client is the chat-service client every turn dispatches through.
	Client *anthropicclient.Client

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Handle is the Agent Handle (C9): the caller-facing lifecycle object
// wrapping one mounted Instance tree and the Engine driving it.
type Handle struct {
	inst *tree.Instance
	st   *store.Store
	eng  *engine.Engine

	mu      sync.Mutex
	ranOnce bool
	running bool
	closed  bool

	subMu   sync.Mutex
	subs    map[int]func(events.Event)
	nextSub int
}

// New mounts opts.Tree into a fresh Instance tree sharing a new Agent
// Store, and returns a Handle ready to Run. Returns a ConfigurationErr if
// Tree or Client is missing, or if the tree fails to mount (spec §7).
func New(opts Options) (*Handle, error) {
	if opts.Tree == nil {
		return nil, agenterrors.Configuration("agentkit: Options.Tree is required")
	}
	if opts.Client == nil {
		return nil, agenterrors.Configuration("agentkit: Options.Client is required")
	}

	st := store.New()
	inst, err := reconcile.Mount(opts.Tree, st)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		inst: inst,
		st:   st,
		subs: make(map[int]func(events.Event)),
	}
	h.eng = engine.New(inst, opts.Client, engine.Deps{
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
		Tracer:  opts.Tracer,
	})
	return h, nil
}

// Subscribe registers fn to receive every lifecycle event emitted by Run,
// SendMessage, or a live Stream call. Returns an unsubscribe function.
// Subscribers registered this way are released by Close.
func (h *Handle) Subscribe(fn func(events.Event)) func() {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.subMu.Unlock()
	return func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
	}
}

func (h *Handle) broadcast(ev events.Event) {
	h.subMu.Lock()
	fns := make([]func(events.Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Run seeds the store with initialMessages and drives the turn loop to
// completion (spec §4.6). Run is single-shot per handle in root mode: a
// second call returns an error, regardless of whether the first has
// finished. Use SendMessage for subsequent turns.
func (h *Handle) Run(ctx context.Context, initialMessages ...string) (content.Message, error) {
	h.mu.Lock()
	if h.ranOnce {
		h.mu.Unlock()
		return content.Message{}, agenterrors.Configuration("agentkit: Run already invoked on this handle")
	}
	if h.closed {
		h.mu.Unlock()
		return content.Message{}, agenterrors.Configuration("agentkit: handle is closed")
	}
	h.ranOnce = true
	h.running = true
	h.mu.Unlock()
	defer h.setRunning(false)

	for _, m := range initialMessages {
		h.st.AppendMessage(content.NewUserText(m))
	}
	return h.eng.Run(ctx, h.broadcast)
}

// SendMessage appends a user message and drives one more pass of the turn
// loop to completion. Rejected if the handle is already running (spec
// §4.6: "send_message is rejected if the handle is already running").
func (h *Handle) SendMessage(ctx context.Context, text string) (content.Message, error) {
	if err := h.beginTurn(); err != nil {
		return content.Message{}, err
	}
	defer h.setRunning(false)

	h.st.AppendMessage(content.NewUserText(text))
	return h.eng.Run(ctx, h.broadcast)
}

// Stream appends text and drives one more pass of the turn loop, yielding
// lifecycle events on the returned Stream as they occur, terminated by a
// final result or error. Rejected (via a Stream whose first Next returns
// false and whose Final reports the error) if the handle is already
// running. A Stream is not restartable; each call to Stream is a fresh
// invocation (spec §9 Design Notes, "Iterators/streams").
func (h *Handle) Stream(ctx context.Context, text string) *Stream {
	s := &Stream{ch: make(chan events.Event, 16)}

	if err := h.beginTurn(); err != nil {
		s.err = err
		close(s.ch)
		return s
	}

	go func() {
		defer close(s.ch)
		defer h.setRunning(false)

		h.st.AppendMessage(content.NewUserText(text))
		sink := func(ev events.Event) {
			h.broadcast(ev)
			s.ch <- ev
		}
		s.final, s.err = h.eng.Run(ctx, sink)
	}()
	return s
}

// beginTurn enforces the single-flight rule shared by SendMessage and
// Stream: a second call while one is already running is rejected rather
// than queued.
func (h *Handle) beginTurn() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return agenterrors.Configuration("agentkit: handle is closed")
	}
	if h.running {
		return agenterrors.Configuration("agentkit: handle is already running")
	}
	h.running = true
	return nil
}

func (h *Handle) setRunning(v bool) {
	h.mu.Lock()
	h.running = v
	h.mu.Unlock()
}

// Abort requests that the in-flight run stop at its next suspension point
// (spec §4.5.2). Safe to call whether or not a turn is in flight.
func (h *Handle) Abort() {
	h.eng.Abort()
}

// Close aborts any in-flight run, unmounts the Instance tree (clearing
// every instance's children and aggregates deterministically, depth
// first), and releases every subscriber (spec §4.6). Idempotent.
func (h *Handle) Close() error {
	h.eng.Abort()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	unmount(h.inst)

	h.subMu.Lock()
	h.subs = make(map[int]func(events.Event))
	h.subMu.Unlock()

	return nil
}

// unmount clears inst's structural children and aggregated arrays,
// depth first, so descendants are detached before their parent is (spec
// §4.6: "unmounts the tree (clearing all instance children
// deterministically)").
func unmount(inst *tree.Instance) {
	for _, c := range inst.Children {
		unmount(c)
	}
	inst.Children = nil
	if inst.IsAgentLike() {
		inst.Tools = nil
		inst.SDKTools = nil
		inst.MCPServers = nil
		inst.SystemParts = nil
	}
}
