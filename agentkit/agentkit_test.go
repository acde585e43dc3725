package agentkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtree/agentkit/content"
	"github.com/flowtree/agentkit/engine"
	"github.com/flowtree/agentkit/events"
	"github.com/flowtree/agentkit/reconcile"
	"github.com/flowtree/agentkit/store"
	"github.com/flowtree/agentkit/toolspec"
	"github.com/flowtree/agentkit/tree"
)

func TestNewRejectsMissingTree(t *testing.T) {
	_, err := New(Options{Client: nil})
	assert.Error(t, err)
}

func TestNewRejectsMissingClient(t *testing.T) {
	_, err := New(Options{Tree: tree.NewAgent(tree.AgentConfig{Name: "a", Model: "claude-x"})})
	assert.Error(t, err)
}

func buildHandle(t *testing.T) *Handle {
	t.Helper()
	spec := &toolspec.Spec{Name: "echo"}
	require.NoError(t, spec.Compile())

	root := tree.NewAgent(tree.AgentConfig{Name: "agent", Model: "claude-x", MaxTokens: 4096}, tree.NewTool(spec))
	st := store.New()
	inst, err := reconcile.Mount(root, st)
	require.NoError(t, err)
	require.Len(t, inst.Tools, 1)

	return &Handle{
		inst: inst,
		st:   st,
		eng:  engine.New(inst, nil, engine.Deps{}),
		subs: make(map[int]func(events.Event)),
	}
}

func TestSubscribeReceivesBroadcastAndUnsubscribeStopsIt(t *testing.T) {
	h := buildHandle(t)

	var received []events.Event
	unsub := h.Subscribe(func(ev events.Event) { received = append(received, ev) })

	ev := events.NewComplete("agent", 0, content.Message{})
	h.broadcast(ev)
	require.Len(t, received, 1)

	unsub()
	h.broadcast(ev)
	assert.Len(t, received, 1)
}

func TestCloseUnmountsTreeAndReleasesSubscribers(t *testing.T) {
	h := buildHandle(t)

	var called bool
	h.Subscribe(func(ev events.Event) { called = true })

	require.NoError(t, h.Close())

	assert.Nil(t, h.inst.Children)
	assert.Nil(t, h.inst.Tools)
	assert.Nil(t, h.inst.SDKTools)
	assert.Nil(t, h.inst.MCPServers)
	assert.Nil(t, h.inst.SystemParts)

	h.broadcast(events.NewComplete("agent", 0, content.Message{}))
	assert.False(t, called)

	// Idempotent: a second Close must not panic or error.
	assert.NoError(t, h.Close())
}

func TestBeginTurnRejectsConcurrentRun(t *testing.T) {
	h := buildHandle(t)

	require.NoError(t, h.beginTurn())
	assert.Error(t, h.beginTurn())

	h.setRunning(false)
	assert.NoError(t, h.beginTurn())
}

func TestBeginTurnRejectsAfterClose(t *testing.T) {
	h := buildHandle(t)
	require.NoError(t, h.Close())
	assert.Error(t, h.beginTurn())
}

func TestStreamRejectsWhenAlreadyRunning(t *testing.T) {
	h := buildHandle(t)
	require.NoError(t, h.beginTurn())

	s := h.Stream(context.Background(), "hi")
	assert.False(t, s.Next())
	_, err := s.Final()
	assert.Error(t, err)
}

func TestAbortDoesNotPanicWithoutActiveRun(t *testing.T) {
	h := buildHandle(t)
	assert.NotPanics(t, func() { h.Abort() })
}
