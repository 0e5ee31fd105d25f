package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
)

func TestManagerGetCreatesLazilyAndReusesInstance(t *testing.T) {
	m := NewManager(10, time.Minute, nil)
	s1 := m.Get("qq:group:1")
	s2 := m.Get("qq:group:1")
	assert.Same(t, s1, s2)
}

func TestChatStreamAppendTrimsToWindowSize(t *testing.T) {
	s := newChatStream("test", 3)
	for i := 0; i < 5; i++ {
		s.Append(envelope.MessageEnvelope{MessageID: string(rune('a' + i))})
	}
	recent := s.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].MessageID)
	assert.Equal(t, "e", recent[2].MessageID)
}

func TestManagerForEnvelopeAppendsToDerivedStream(t *testing.T) {
	m := NewManager(10, time.Minute, nil)
	e := &envelope.MessageEnvelope{Platform: "qq", MessageInfo: envelope.MessageInfo{User: envelope.User{ID: "u1"}}}
	s := m.ForEnvelope(e)
	assert.Equal(t, "qq:private:u1", s.ID)
	assert.Len(t, s.Recent(), 1)
}

func TestSaveLoadContextFallsBackWithoutCache(t *testing.T) {
	m := NewManager(10, time.Minute, nil)

	type payload struct {
		Turn int `json:"turn"`
	}

	err := m.SaveContext(context.Background(), "s1", payload{Turn: 3})
	require.NoError(t, err)

	var got payload
	found, err := m.LoadContext(context.Background(), "s1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got.Turn)
}

func TestLoadContextMissingReturnsFalse(t *testing.T) {
	m := NewManager(10, time.Minute, nil)
	var got map[string]any
	found, err := m.LoadContext(context.Background(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
