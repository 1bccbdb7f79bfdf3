package draft

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRequiresSelector(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	_, err := m.Commit(context.Background(), uuid.New(), Selector{})
	require.ErrorIs(t, err, ErrEmptySelector)
}

func TestDiscardRequiresSelector(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	_, err := m.Discard(context.Background(), uuid.New(), Selector{})
	require.ErrorIs(t, err, ErrEmptySelector)
}

func TestSaveDraftNoChanges(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	saved, err := m.SaveDraft(context.Background(), uuid.New(), "session-1", nil)
	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestSelectorEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, Selector{}.empty())
	assert.False(t, Selector{SessionID: "s"}.empty())
	assert.False(t, Selector{RecordIDs: []uuid.UUID{uuid.New()}}.empty())
}
