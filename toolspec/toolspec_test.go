package toolspec_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtree/agentkit/toolspec"
)

func echoSpec(t *testing.T) *toolspec.Spec {
	t.Helper()
	s := &toolspec.Spec{
		Name:        "echo",
		Description: "echoes the given text back",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"text": map[string]any{"type": "string"}},
			"required":             []any{"text"},
			"additionalProperties": false,
		},
		Handler: func(_ context.Context, _ *toolspec.Context, input json.RawMessage) (toolspec.Result, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return toolspec.Result{}, err
			}
			return toolspec.TextResult(in.Text), nil
		},
	}
	require.NoError(t, s.Compile())
	return s
}

func TestValidateAcceptsValidInput(t *testing.T) {
	s := echoSpec(t)
	err := s.Validate(json.RawMessage(`{"text":"hi"}`))
	assert.NoError(t, err)
}

func TestValidateRejectsMissingField(t *testing.T) {
	s := echoSpec(t)
	err := s.Validate(json.RawMessage(`{}`))
	require.Error(t, err)
	var ve *toolspec.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Issues)
}

func TestValidateRejectsAdditionalProperties(t *testing.T) {
	s := echoSpec(t)
	err := s.Validate(json.RawMessage(`{"text":"hi","extra":true}`))
	assert.Error(t, err)
}

func TestNilSchemaAlwaysValid(t *testing.T) {
	s := &toolspec.Spec{Name: "noop"}
	require.NoError(t, s.Compile())
	assert.NoError(t, s.Validate(json.RawMessage(`{"anything":1}`)))
}

func TestHandlerInvocation(t *testing.T) {
	s := echoSpec(t)
	tc := toolspec.NewContext(context.Background(), "agent", "claude-x", "tu_1", nil)
	res, err := s.Handler(context.Background(), tc, json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)
}
