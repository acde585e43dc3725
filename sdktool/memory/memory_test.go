package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtree/agentkit/toolspec"
)

func call(t *testing.T, handlers map[string]toolspec.HandlerFunc, command string, args map[string]any) (toolspec.Result, error) {
	t.Helper()
	args["command"] = command
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	h, ok := handlers[command]
	require.True(t, ok, "no handler registered for %q", command)
	return h(context.Background(), toolspec.NewContext(context.Background(), "agent", "claude-x", "tool-1", nil), raw)
}

func TestCreateThenView(t *testing.T) {
	store := NewInMemoryStore()
	handlers := Handlers(store)

	_, err := call(t, handlers, CommandCreate, map[string]any{"path": "/memories/notes.md", "file_text": "hello\nworld"})
	require.NoError(t, err)

	res, err := call(t, handlers, CommandView, map[string]any{"path": "/memories/notes.md"})
	require.NoError(t, err)
	assert.Equal(t, "1: hello\n2: world\n", res.Text)
}

func TestViewDirectoryListsEntries(t *testing.T) {
	store := NewInMemoryStore()
	handlers := Handlers(store)

	_, err := call(t, handlers, CommandCreate, map[string]any{"path": "/memories/a.md", "file_text": "a"})
	require.NoError(t, err)
	_, err = call(t, handlers, CommandCreate, map[string]any{"path": "/memories/sub/b.md", "file_text": "b"})
	require.NoError(t, err)

	res, err := call(t, handlers, CommandView, map[string]any{"path": "/memories"})
	require.NoError(t, err)
	assert.Equal(t, "a.md\nsub/", res.Text)
}

func TestStrReplaceRequiresExactlyOneOccurrence(t *testing.T) {
	store := NewInMemoryStore()
	handlers := Handlers(store)

	_, err := call(t, handlers, CommandCreate, map[string]any{"path": "/memories/x.md", "file_text": "foo foo"})
	require.NoError(t, err)

	_, err = call(t, handlers, CommandStrReplace, map[string]any{"path": "/memories/x.md", "old_str": "foo", "new_str": "bar"})
	assert.Error(t, err)

	_, err = call(t, handlers, CommandStrReplace, map[string]any{"path": "/memories/x.md", "old_str": "foo foo", "new_str": "bar"})
	require.NoError(t, err)

	res, err := call(t, handlers, CommandView, map[string]any{"path": "/memories/x.md"})
	require.NoError(t, err)
	assert.Equal(t, "1: bar\n", res.Text)
}

func TestInsertAddsLineAtPosition(t *testing.T) {
	store := NewInMemoryStore()
	handlers := Handlers(store)

	_, err := call(t, handlers, CommandCreate, map[string]any{"path": "/memories/x.md", "file_text": "a\nb"})
	require.NoError(t, err)

	_, err = call(t, handlers, CommandInsert, map[string]any{"path": "/memories/x.md", "insert_line": 1, "insert_text": "inserted"})
	require.NoError(t, err)

	res, err := call(t, handlers, CommandView, map[string]any{"path": "/memories/x.md"})
	require.NoError(t, err)
	assert.Equal(t, "1: a\n2: inserted\n3: b\n", res.Text)
}

func TestDeleteRemovesFile(t *testing.T) {
	store := NewInMemoryStore()
	handlers := Handlers(store)

	_, err := call(t, handlers, CommandCreate, map[string]any{"path": "/memories/x.md", "file_text": "a"})
	require.NoError(t, err)

	_, err = call(t, handlers, CommandDelete, map[string]any{"path": "/memories/x.md"})
	require.NoError(t, err)

	_, err = call(t, handlers, CommandView, map[string]any{"path": "/memories/x.md"})
	assert.Error(t, err)
}

func TestRenameMovesFile(t *testing.T) {
	store := NewInMemoryStore()
	handlers := Handlers(store)

	_, err := call(t, handlers, CommandCreate, map[string]any{"path": "/memories/old.md", "file_text": "a"})
	require.NoError(t, err)

	_, err = call(t, handlers, CommandRename, map[string]any{"path": "/memories/old.md", "new_path": "/memories/new.md"})
	require.NoError(t, err)

	_, err = call(t, handlers, CommandView, map[string]any{"path": "/memories/old.md"})
	assert.Error(t, err)

	res, err := call(t, handlers, CommandView, map[string]any{"path": "/memories/new.md"})
	require.NoError(t, err)
	assert.Equal(t, "1: a\n", res.Text)
}

func TestCommandOfExtractsCommandField(t *testing.T) {
	cmd, err := CommandOf(json.RawMessage(`{"command":"view","path":"/memories"}`))
	require.NoError(t, err)
	assert.Equal(t, "view", cmd)

	_, err = CommandOf(json.RawMessage(`{"path":"/memories"}`))
	assert.Error(t, err)
}
