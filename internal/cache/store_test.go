package cache

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribtrack/internal/domain"
)

var baseBranches = []string{"main", "master", "develop"}

func newTestStore(t *testing.T) *Store {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewStore(t.TempDir(), baseBranches, logger)
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSanitizeUsername(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already safe", input: "octo-cat_42", expected: "octo-cat_42"},
		{name: "dots and at sign", input: "jane.doe@corp", expected: "jane_doe_corp"},
		{name: "slashes", input: "a/b\\c", expected: "a_b_c"},
		{name: "spaces", input: "John Smith", expected: "John_Smith"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeUsername(tc.input))
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	contribs := []domain.Contribution{
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-02T10:00:00Z"), URL: "https://example.com/c/2", Target: "main"},
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1", Target: "main"},
	}

	require.NoError(t, store.Save("github", "octocat", contribs))

	loaded := store.Load("github", "octocat")
	require.Len(t, loaded, 2)
	// Stored ascending by timestamp.
	assert.Equal(t, "https://example.com/c/1", loaded[0].URL)
	assert.Equal(t, "https://example.com/c/2", loaded[1].URL)
}

func TestSaveMergesMonotonically(t *testing.T) {
	store := newTestStore(t)
	setA := []domain.Contribution{
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1", Target: "main"},
		{Kind: domain.KindPR, Timestamp: ts("2024-03-02T10:00:00Z"), URL: "https://example.com/pr/1", Target: "main"},
	}
	setB := []domain.Contribution{
		// Exact duplicate of a record in A by (type, url).
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1", Target: "main"},
		{Kind: domain.KindReview, Timestamp: ts("2024-03-03T10:00:00Z"), URL: "https://example.com/pr/2", Text: "review"},
	}

	require.NoError(t, store.Save("github", "octocat", setA))
	require.NoError(t, store.Save("github", "octocat", setB))

	loaded := store.Load("github", "octocat")
	expected := domain.Deduplicate(append(append([]domain.Contribution{}, setA...), setB...), baseBranches)
	assert.ElementsMatch(t, expected, loaded)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	loaded := store.Load("github", "nobody")
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)
}

func TestLoadCorruptFileReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "github_octocat.json"), []byte("{broken"), 0o644))

	loaded := store.Load("github", "octocat")
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)
}

func TestEquivalentUsernamesShareOneFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("gitlab", "jane.doe", []domain.Contribution{
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1"},
	}))
	require.NoError(t, store.Save("gitlab", "jane_doe", []domain.Contribution{
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-02T10:00:00Z"), URL: "https://example.com/c/2"},
	}))

	files, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "both spellings sanitize to the same identity")
	assert.Len(t, store.Load("gitlab", "jane.doe"), 2)
}

func TestClear(t *testing.T) {
	store := newTestStore(t)

	deleted, err := store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	require.NoError(t, store.Save("github", "octocat", []domain.Contribution{{Kind: domain.KindCommit, Timestamp: ts("2024-03-01T10:00:00Z")}}))
	require.NoError(t, store.Save("gitlab", "jane", []domain.Contribution{{Kind: domain.KindPR, Timestamp: ts("2024-03-02T10:00:00Z")}}))

	deleted, err = store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, store.Load("github", "octocat"))
}

func TestStatus(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("github", "octocat", []domain.Contribution{
		{Kind: domain.KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1"},
		{Kind: domain.KindPR, Timestamp: ts("2024-03-05T10:00:00Z"), URL: "https://example.com/pr/1"},
	}))

	metas, err := store.Status()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "github", metas[0].Platform)
	assert.Equal(t, "octocat", metas[0].Username)
	assert.Equal(t, 2, metas[0].ContributionCount)
	assert.Equal(t, ts("2024-03-01T10:00:00Z"), metas[0].DateRange.Earliest)
	assert.Equal(t, ts("2024-03-05T10:00:00Z"), metas[0].DateRange.Latest)
	assert.False(t, metas[0].LastUpdated.IsZero())
}
