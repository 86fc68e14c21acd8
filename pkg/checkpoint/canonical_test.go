package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Phases: []PhaseSnapshot{
			{ID: "phase-1", Name: "Discovery", Status: "active", OrderIndex: 0},
		},
		Features: []FeatureSnapshot{
			{ID: "feat-1", Title: "Login", Status: "planning", PhaseID: "phase-1", Priority: 1},
		},
		Messages: []MessageSnapshot{
			{ID: "msg-1", ConversationID: "conv-1", Role: "user", Content: "Build login"},
		},
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	snap := sampleSnapshot()

	a, err := canonicalize(snap)
	require.NoError(t, err)
	b, err := canonicalize(snap)
	require.NoError(t, err)

	assert.Equal(t, a, b, "canonical encoding of identical snapshots must be byte-identical")
}

func TestContentHash_SingleByteEditChangesHash(t *testing.T) {
	snap := sampleSnapshot()
	original, err := canonicalize(snap)
	require.NoError(t, err)
	originalHash := contentHash(original)

	snap.Messages[0].Content = "Build logout" // single-field edit
	edited, err := canonicalize(snap)
	require.NoError(t, err)
	editedHash := contentHash(edited)

	assert.NotEqual(t, originalHash, editedHash)
}
