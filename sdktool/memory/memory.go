// Package memory implements the reference backing store and command
// handlers for the memory SDK tool (spec §6.3): unlike web_search and
// code_execution, the provider does not execute memory commands itself —
// it only emits tool_use blocks naming one of six commands, and the client
// is expected to carry them out against its own file tree. This package
// supplies that client-side half: an in-process, non-persisted
// (spec §6.4: "Persisted state: None") virtual file tree plus the six
// named command handlers routed by command, matching Anthropic's
// published memory-tool command set (view, create, str_replace, insert,
// delete, rename).
//
// Grounded on toolspec.HandlerFunc's existing shape (package toolspec) for
// the handler signature, and on the teacher's small-type-per-concern habit
// (runtime/agent/tools/issue.go) for keeping each command's argument
// decoding and store call in its own function rather than one large
// switch body.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/flowtree/agentkit/toolspec"
)

// Store is the backing file tree a memory tool call dispatches against.
// Paths are slash-separated and always rooted at "/memories" by convention
// (the provider's published default), but this package does not enforce
// the prefix — callers mount whatever root their Store implements.
type Store interface {
	// View returns a directory listing (one name per line, directories
	// suffixed with "/") when path names a directory, or the file's text
	// with 1-based line numbers prefixed when path names a file.
	View(path string) (string, error)
	// Create writes text to path, creating parent directories implicitly.
	// An existing file at path is overwritten.
	Create(path, text string) error
	// StrReplace replaces the first occurrence of oldStr with newStr in
	// the file at path. Returns an error if oldStr does not occur exactly
	// once.
	StrReplace(path, oldStr, newStr string) error
	// Insert splits the file at path into lines and inserts text as a new
	// line immediately after the given 1-based line number (0 inserts
	// before the first line).
	Insert(path string, afterLine int, text string) error
	// Delete removes the file or directory at path (recursively, for a
	// directory).
	Delete(path string) error
	// Rename moves the file or directory at oldPath to newPath.
	Rename(oldPath, newPath string) error
}

// InMemoryStore is the reference Store implementation: a flat map from
// normalized path to file text, with directory structure inferred from
// path prefixes rather than tracked explicitly. Safe for concurrent use.
type InMemoryStore struct {
	mu    sync.Mutex
	files map[string]string
}

// NewInMemoryStore builds an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{files: make(map[string]string)}
}

func normalize(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (s *InMemoryStore) View(p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = normalize(p)

	if text, ok := s.files[p]; ok {
		lines := strings.Split(text, "\n")
		var b strings.Builder
		for i, line := range lines {
			fmt.Fprintf(&b, "%d: %s\n", i+1, line)
		}
		return b.String(), nil
	}

	prefix := strings.TrimSuffix(p, "/") + "/"
	seen := make(map[string]bool)
	for fp := range s.files {
		if !strings.HasPrefix(fp, prefix) {
			continue
		}
		rest := strings.TrimPrefix(fp, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if strings.Contains(rest, "/") {
			name += "/"
		}
		seen[name] = true
	}
	if len(seen) == 0 && p != "/" {
		return "", fmt.Errorf("memory: path %q does not exist", p)
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (s *InMemoryStore) Create(p, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[normalize(p)] = text
	return nil
}

func (s *InMemoryStore) StrReplace(p, oldStr, newStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = normalize(p)
	text, ok := s.files[p]
	if !ok {
		return fmt.Errorf("memory: path %q does not exist", p)
	}
	if n := strings.Count(text, oldStr); n != 1 {
		return fmt.Errorf("memory: old_str occurs %d times in %q, expected exactly 1", n, p)
	}
	s.files[p] = strings.Replace(text, oldStr, newStr, 1)
	return nil
}

func (s *InMemoryStore) Insert(p string, afterLine int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = normalize(p)
	existing, ok := s.files[p]
	var lines []string
	if ok && existing != "" {
		lines = strings.Split(existing, "\n")
	}
	if afterLine < 0 || afterLine > len(lines) {
		return fmt.Errorf("memory: insert line %d out of range [0,%d]", afterLine, len(lines))
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:afterLine]...)
	out = append(out, text)
	out = append(out, lines[afterLine:]...)
	s.files[p] = strings.Join(out, "\n")
	return nil
}

func (s *InMemoryStore) Delete(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = normalize(p)
	if _, ok := s.files[p]; ok {
		delete(s.files, p)
		return nil
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	deleted := false
	for fp := range s.files {
		if strings.HasPrefix(fp, prefix) {
			delete(s.files, fp)
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("memory: path %q does not exist", p)
	}
	return nil
}

func (s *InMemoryStore) Rename(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldPath = normalize(oldPath)
	newPath = normalize(newPath)

	if text, ok := s.files[oldPath]; ok {
		delete(s.files, oldPath)
		s.files[newPath] = text
		return nil
	}

	oldPrefix := strings.TrimSuffix(oldPath, "/") + "/"
	newPrefix := strings.TrimSuffix(newPath, "/") + "/"
	renamed := false
	for fp, text := range s.files {
		if strings.HasPrefix(fp, oldPrefix) {
			delete(s.files, fp)
			s.files[newPrefix+strings.TrimPrefix(fp, oldPrefix)] = text
			renamed = true
		}
	}
	if !renamed {
		return fmt.Errorf("memory: path %q does not exist", oldPath)
	}
	return nil
}

// Command names the provider's memory tool dispatches on.
const (
	CommandView       = "view"
	CommandCreate     = "create"
	CommandStrReplace = "str_replace"
	CommandInsert     = "insert"
	CommandDelete     = "delete"
	CommandRename     = "rename"
)

// Handlers builds the six named command handlers against store, keyed for
// tree.SDKToolConfig.MemoryHandlers. Each handler ignores the command
// field on its own input (the engine already routed on it) and decodes
// only the arguments its command needs.
func Handlers(store Store) map[string]toolspec.HandlerFunc {
	return map[string]toolspec.HandlerFunc{
		CommandView: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, fmt.Errorf("memory: decode view args: %w", err)
			}
			out, err := store.View(args.Path)
			if err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(out), nil
		},
		CommandCreate: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Path     string `json:"path"`
				FileText string `json:"file_text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, fmt.Errorf("memory: decode create args: %w", err)
			}
			if err := store.Create(args.Path, args.FileText); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(fmt.Sprintf("created %s", args.Path)), nil
		},
		CommandStrReplace: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Path   string `json:"path"`
				OldStr string `json:"old_str"`
				NewStr string `json:"new_str"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, fmt.Errorf("memory: decode str_replace args: %w", err)
			}
			if err := store.StrReplace(args.Path, args.OldStr, args.NewStr); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(fmt.Sprintf("replaced text in %s", args.Path)), nil
		},
		CommandInsert: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Path       string `json:"path"`
				InsertLine int    `json:"insert_line"`
				InsertText string `json:"insert_text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, fmt.Errorf("memory: decode insert args: %w", err)
			}
			if err := store.Insert(args.Path, args.InsertLine, args.InsertText); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(fmt.Sprintf("inserted text into %s", args.Path)), nil
		},
		CommandDelete: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, fmt.Errorf("memory: decode delete args: %w", err)
			}
			if err := store.Delete(args.Path); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(fmt.Sprintf("deleted %s", args.Path)), nil
		},
		CommandRename: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var args struct {
				Path    string `json:"path"`
				NewPath string `json:"new_path"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolspec.Result{}, fmt.Errorf("memory: decode rename args: %w", err)
			}
			if err := store.Rename(args.Path, args.NewPath); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(fmt.Sprintf("renamed %s to %s", args.Path, args.NewPath)), nil
		},
	}
}

// CommandOf extracts the dispatch command from a raw memory tool_use
// input, used by package engine to route a call to the right handler
// before invoking it.
func CommandOf(input json.RawMessage) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("memory: decode command: %w", err)
	}
	if args.Command == "" {
		return "", fmt.Errorf("memory: missing command")
	}
	return args.Command, nil
}
