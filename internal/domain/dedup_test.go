package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var baseBranches = []string{"main", "master", "develop"}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDeduplicate(t *testing.T) {
	testCases := []struct {
		name     string
		input    []Contribution
		expected []Contribution
	}{
		{
			name:     "empty input yields empty non-nil output",
			input:    nil,
			expected: []Contribution{},
		},
		{
			name: "same type and url collapse to one survivor",
			input: []Contribution{
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1", Target: "main"},
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:05Z"), URL: "https://example.com/c/1", Target: ""},
			},
			expected: []Contribution{
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), URL: "https://example.com/c/1", Target: "main"},
			},
		},
		{
			name: "same url but different type stays distinct",
			input: []Contribution{
				{Kind: KindPR, URL: "https://example.com/pr/1"},
				{Kind: KindReview, URL: "https://example.com/pr/1"},
			},
			expected: []Contribution{
				{Kind: KindPR, URL: "https://example.com/pr/1"},
				{Kind: KindReview, URL: "https://example.com/pr/1"},
			},
		},
		{
			name: "base branch target wins over feature branch",
			input: []Contribution{
				{Kind: KindCommit, URL: "https://example.com/c/2", Target: "feature-x"},
				{Kind: KindCommit, URL: "https://example.com/c/2", Target: "main"},
			},
			expected: []Contribution{
				{Kind: KindCommit, URL: "https://example.com/c/2", Target: "main"},
			},
		},
		{
			name: "non-empty target wins over empty target",
			input: []Contribution{
				{Kind: KindCommit, URL: "https://example.com/c/3"},
				{Kind: KindCommit, URL: "https://example.com/c/3", Target: "feature-x"},
			},
			expected: []Contribution{
				{Kind: KindCommit, URL: "https://example.com/c/3", Target: "feature-x"},
			},
		},
		{
			name: "composite key fallback keeps first encountered",
			input: []Contribution{
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/r", Target: "main"},
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/r", Target: "main"},
			},
			expected: []Contribution{
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/r", Target: "main"},
			},
		},
		{
			name: "no url and different composite fields stay distinct",
			input: []Contribution{
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/r", Target: "main"},
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/other", Target: "main"},
			},
			expected: []Contribution{
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/r", Target: "main"},
				{Kind: KindCommit, Timestamp: ts("2024-03-01T10:00:00Z"), Text: "fix", Repository: "o/other", Target: "main"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Deduplicate(tc.input, baseBranches)
			assert.NotNil(t, result)
			assert.ElementsMatch(t, tc.expected, result)
		})
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	input := []Contribution{
		{Kind: KindCommit, URL: "https://example.com/c/1", Target: "main"},
		{Kind: KindCommit, URL: "https://example.com/c/1", Target: "feature-x"},
		{Kind: KindPR, URL: "https://example.com/pr/1", Target: "main"},
		{Kind: KindReview, Timestamp: ts("2024-03-02T09:00:00Z"), Text: "review", Repository: "o/r"},
		{Kind: KindReview, Timestamp: ts("2024-03-02T09:00:00Z"), Text: "review", Repository: "o/r"},
	}

	once := Deduplicate(input, baseBranches)
	twice := Deduplicate(once, baseBranches)
	assert.ElementsMatch(t, once, twice)
}

func TestDeduplicateDoesNotMutateInput(t *testing.T) {
	input := []Contribution{
		{Kind: KindCommit, URL: "https://example.com/c/1", Target: "feature-x"},
		{Kind: KindCommit, URL: "https://example.com/c/1", Target: "main"},
	}
	original := make([]Contribution, len(input))
	copy(original, input)

	Deduplicate(input, baseBranches)
	assert.Equal(t, original, input)
}
