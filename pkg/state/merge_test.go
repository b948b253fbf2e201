package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_MessagesAppendOnly(t *testing.T) {
	r := NewRegistry()
	s := New("researcher", "find the capital of France")
	require.Len(t, s.Messages, 1)

	next := r.AppendMessage(s, Message{Role: RoleAssistant, Content: "Paris"})

	require.Len(t, next.Messages, 2)
	assert.Equal(t, "find the capital of France", next.Messages[0].Content)
	assert.Equal(t, "Paris", next.Messages[1].Content)

	// Original state is untouched (round-trip / no-mutation invariant).
	require.Len(t, s.Messages, 1)
}

func TestApply_OldIsPrefixOfNew(t *testing.T) {
	r := NewRegistry()
	s := New("a", "one")
	s = r.AppendMessage(s, Message{Role: RoleAssistant, Content: "two"})
	next := r.AppendMessage(s, Message{Role: RoleUser, Content: "three"})

	for i, m := range s.Messages {
		assert.Equal(t, m, next.Messages[i])
	}
}

func TestApply_ReplaceOnUpdateFields(t *testing.T) {
	r := NewRegistry()
	s := State{AgentName: "a", RoutingKey: "x"}

	next := r.Apply(s, Delta{FieldRoutingKey: "y", FieldNextAction: "continue"})

	assert.Equal(t, "y", next.RoutingKey)
	assert.Equal(t, "continue", next.NextAction)
	assert.Equal(t, "x", s.RoutingKey, "original state must remain unchanged")
}

func TestApply_MetadataReplace(t *testing.T) {
	r := NewRegistry()
	s := State{Metadata: map[string]any{"k": "v1"}}

	next := r.Apply(s, Delta{FieldMetadata: map[string]any{"k": "v2"}})

	assert.Equal(t, "v2", next.Metadata["k"])
	assert.Equal(t, "v1", s.Metadata["k"])
}

func TestApply_UnknownFieldStashedInMetadata(t *testing.T) {
	r := NewRegistry()
	s := State{}
	next := r.Apply(s, Delta{"custom_field": 42})
	assert.Equal(t, 42, next.Metadata["custom_field"])
}

func TestApply_NoInPlaceMutationOfSlices(t *testing.T) {
	r := NewRegistry()
	s := New("a", "seed")
	first := r.AppendMessage(s, Message{Role: RoleAssistant, Content: "one"})
	second := r.AppendMessage(s, Message{Role: RoleAssistant, Content: "two"})

	// Both branch from s independently; one must not see the other's append.
	require.Len(t, first.Messages, 2)
	require.Len(t, second.Messages, 2)
	assert.NotEqual(t, first.Messages[1].Content, second.Messages[1].Content)
}
