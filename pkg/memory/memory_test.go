package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/demiarch/orchestrator/pkg/config"
	"github.com/demiarch/orchestrator/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	cfg.SetDefaults()
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, "sqlite")
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	v1, err := e.Embed("the quick brown fox")
	require.NoError(t, err)
	v2, err := e.Embed("the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1, DefaultDimension)
}

func TestHashEmbedderDistinguishesDifferentText(t *testing.T) {
	e := NewHashEmbedder()
	v1, _ := e.Embed("login backend implementation")
	v2, _ := e.Embed("completely unrelated shopping cart checkout flow")
	require.NotEqual(t, v1, v2)
	require.Less(t, CosineSimilarity(v1, v2), 0.99)
}

func TestCosineSimilarityIdenticalVectorIsOne(t *testing.T) {
	e := NewHashEmbedder()
	v, _ := e.Embed("some repeated content")
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestIngestAndRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Ingest(ctx, "proj-1", "conv-1", "Implemented the login backend with bcrypt password hashing.")
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "proj-1", "conv-1", "Added a shopping cart checkout flow with Stripe.")
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "proj-2", "conv-9", "Unrelated entry for a different project.")
	require.NoError(t, err)

	results, err := s.Recall(ctx, "proj-1", RecallQuery{Text: "login password hashing", TopK: 5, MinScore: 0})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Entry.FullContext, "login backend")
	for _, r := range results {
		require.Equal(t, "proj-1", r.Entry.ProjectID, "recall must not leak across projects")
	}
}

func TestRecallRespectsTopKAndMinScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Ingest(ctx, "proj-1", "", "entry number for topic alpha beta gamma")
		require.NoError(t, err)
	}

	results, err := s.Recall(ctx, "proj-1", RecallQuery{Text: "entry number for topic alpha beta gamma", TopK: 3, MinScore: 0})
	require.NoError(t, err)
	require.Len(t, results, 3)

	none, err := s.Recall(ctx, "proj-1", RecallQuery{Text: "entry number for topic alpha beta gamma", TopK: 5, MinScore: 1.01})
	require.NoError(t, err)
	require.Empty(t, none, "a threshold above 1.0 cosine similarity can never match")
}

func TestRecallSortedByDescendingScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Ingest(ctx, "proj-1", "", "apple banana cherry date elderberry fig grape")
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "proj-1", "", "apple banana cherry")
	require.NoError(t, err)

	results, err := s.Recall(ctx, "proj-1", RecallQuery{Text: "apple banana cherry", TopK: 10, MinScore: 0})
	require.NoError(t, err)
	require.True(t, len(results) >= 2)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestDeriveSummariesExtractsEnumeratedHighlights(t *testing.T) {
	content := "Plan overview.\n- build the login form\n- write tests for login\n2) wire up the router\n"
	index, timeline, highlights := deriveSummaries(content)
	require.NotEmpty(t, index)
	require.NotEmpty(t, timeline)
	require.Equal(t, []string{"build the login form", "write tests for login", "wire up the router"}, highlights)
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Ingest(ctx, "proj-1", "", "old entry")
	require.NoError(t, err)

	n, err := s.Prune(ctx, "proj-1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	results, err := s.Recall(ctx, "proj-1", RecallQuery{Text: "old entry", TopK: 5, MinScore: 0})
	require.NoError(t, err)
	require.Empty(t, results)
}
