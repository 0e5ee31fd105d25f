package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
)

func TestSaveLoadShortTermRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	memories := []shortterm.Memory{{ID: "m1", Subject: "alice", Topic: "likes", Object: "go"}}
	require.NoError(t, s.SaveShortTerm(memories))

	got, err := s.LoadShortTerm()
	require.NoError(t, err)
	assert.Equal(t, memories, got)
}

func TestLoadMissingJournalReturnsEmptyNoError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	got, err := s.LoadShortTerm()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveJournalReplacesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveShortTerm([]shortterm.Memory{{ID: "m1"}}))
	require.NoError(t, s.SaveShortTerm([]shortterm.Memory{{ID: "m2"}}))

	got, err := s.LoadShortTerm()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m2", got[0].ID)
}
