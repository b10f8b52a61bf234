package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
)

var baseBranches = []string{"main", "master", "develop"}

// setupTestConnector creates a Connector whose REST and GraphQL clients both
// talk to a mock HTTP server.
func setupTestConnector(t *testing.T, handler http.Handler) (*Connector, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	restClient := gh.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	graphqlClient := githubv4.NewEnterpriseClient(server.URL, server.Client())
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewConnectorWithClients(restClient, graphqlClient, baseBranches, logger), server
}

func graphqlBody(t *testing.T, r *http.Request) string {
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return string(body)
}

const viewerResponse = `{"data":{"viewer":{"login":"octocat","id":"U_1"}}}`

func TestNewConnectorRejectsBlankToken(t *testing.T) {
	for _, token := range []string{"", "   "} {
		_, err := NewConnector(token, baseBranches, logrus.New())
		assert.ErrorIs(t, err, gateway.ErrMissingToken)
	}
}

func TestUserLogin(t *testing.T) {
	testCases := []struct {
		name         string
		responseBody string
		expected     string
		expectAuth   bool
	}{
		{
			name:         "happy path - resolves viewer login",
			responseBody: viewerResponse,
			expected:     "octocat",
		},
		{
			name:         "error case - identity unresolvable is an auth error",
			responseBody: `{"errors":[{"message":"Bad credentials"}]}`,
			expectAuth:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.responseBody)
			}
			connector, _ := setupTestConnector(t, http.HandlerFunc(handler))

			login, err := connector.UserLogin(context.Background())
			if tc.expectAuth {
				var authErr *gateway.AuthError
				require.ErrorAs(t, err, &authErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, login)
		})
	}
}

// The mock GraphQL JSON is "flattened" the way the githubv4 library expects:
// inline fragment fields appear directly under their parent object.
const contributionsResponse = `{"data":{"viewer":{"contributionsCollection":{
	"commitContributionsByRepository":[{"repository":{
		"nameWithOwner":"acme/api",
		"defaultBranchRef":{"name":"main","target":{"history":{
			"pageInfo":{"hasNextPage":false,"endCursor":""},
			"nodes":[
				{"committedDate":"2024-03-01T10:00:00Z","messageHeadline":"fix parser","url":"https://github.com/acme/api/commit/abc","author":{"user":{"login":"octocat"}}},
				{"committedDate":"2024-03-01T11:00:00Z","messageHeadline":"other work","url":"https://github.com/acme/api/commit/def","author":{"user":{"login":"someone-else"}}}
			]}}}}}],
	"pullRequestContributions":{"nodes":[{"pullRequest":{
		"title":"Add feature","url":"https://github.com/acme/api/pull/5","createdAt":"2024-03-02T10:00:00Z","baseRefName":"main","repository":{"nameWithOwner":"acme/api"}}}]},
	"pullRequestReviewContributions":{"nodes":[{"pullRequestReview":{
		"url":"https://github.com/acme/api/pull/6#pullrequestreview-1","submittedAt":"2024-03-03T10:00:00Z","repository":{"nameWithOwner":"acme/api"},"pullRequest":{"baseRefName":"main"}}}]}
}}}}`

func TestFetchContributions(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		body := graphqlBody(t, r)
		switch {
		case strings.Contains(body, "contributionsCollection"):
			assert.Contains(t, body, "pullRequestReviewContributions")
			fmt.Fprint(w, contributionsResponse)
		default:
			fmt.Fprint(w, viewerResponse)
		}
	}
	connector, _ := setupTestConnector(t, http.HandlerFunc(handler))

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	contribs, err := connector.FetchContributions(context.Background(), from, to)
	require.NoError(t, err)

	require.Len(t, contribs, 3, "the foreign-author commit must be discarded")
	byKind := map[domain.Kind]domain.Contribution{}
	for _, c := range contribs {
		byKind[c.Kind] = c
	}

	commit := byKind[domain.KindCommit]
	assert.Equal(t, "fix parser", commit.Text)
	assert.Equal(t, "https://github.com/acme/api/commit/abc", commit.URL)
	assert.Equal(t, "acme/api", commit.Repository)
	assert.Equal(t, "main", commit.Target)

	pr := byKind[domain.KindPR]
	assert.Equal(t, "Add feature", pr.Text)
	assert.Equal(t, "main", pr.Target)

	review := byKind[domain.KindReview]
	assert.Equal(t, "review", review.Text)
	assert.Equal(t, "https://github.com/acme/api/pull/6#pullrequestreview-1", review.URL)
}

func TestFetchContributionsUpstreamError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		body := graphqlBody(t, r)
		if strings.Contains(body, "contributionsCollection") {
			fmt.Fprint(w, `{"errors":[{"message":"Something went wrong"}]}`)
			return
		}
		fmt.Fprint(w, viewerResponse)
	}
	connector, _ := setupTestConnector(t, http.HandlerFunc(handler))

	_, err := connector.FetchContributions(context.Background(), time.Now().Add(-time.Hour), time.Now())
	var upstreamErr *gateway.UpstreamError
	assert.ErrorAs(t, err, &upstreamErr)
}

const contributedReposResponse = `{"data":{"viewer":{"contributionsCollection":{
	"commitContributionsByRepository":[{"repository":{"nameWithOwner":"acme/api"}}],
	"pullRequestContributions":{"nodes":[{"pullRequest":{"repository":{"nameWithOwner":"acme/api"}}}]}
}}}}`

func TestFetchAllCommits(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body := graphqlBody(t, r)
			if strings.Contains(body, "contributionsCollection") {
				fmt.Fprint(w, contributedReposResponse)
			} else {
				fmt.Fprint(w, viewerResponse)
			}
			return
		}

		switch {
		case r.URL.Path == "/repos/acme/api/branches":
			fmt.Fprint(w, `[{"name":"main"},{"name":"feature-x"}]`)
		case r.URL.Path == "/repos/acme/api/commits":
			assert.Equal(t, "octocat", r.URL.Query().Get("author"))
			if r.URL.Query().Get("sha") == "main" {
				fmt.Fprint(w, `[{"sha":"abc","html_url":"https://github.com/acme/api/commit/abc","commit":{"message":"fix parser\n\ndetails","author":{"date":"2024-03-01T10:00:00Z"}}}]`)
			} else {
				fmt.Fprint(w, `[{"sha":"fx1","html_url":"https://github.com/acme/api/commit/fx1","commit":{"message":"wip feature","author":{"date":"2024-03-02T10:00:00Z"}}}]`)
			}
		case r.URL.Path == "/repos/acme/api/pulls":
			fmt.Fprint(w, `[
				{"number":5,"state":"closed","merged_at":"2024-03-05T10:00:00Z","user":{"login":"octocat"},"base":{"ref":"main"}},
				{"number":6,"state":"closed","user":{"login":"octocat"},"base":{"ref":"main"}},
				{"number":7,"state":"closed","merged_at":"2024-03-06T10:00:00Z","user":{"login":"stranger"},"base":{"ref":"main"}}
			]`)
		case r.URL.Path == "/repos/acme/api/pulls/5/commits":
			fmt.Fprint(w, `[
				{"sha":"zzz","html_url":"https://github.com/acme/api/commit/zzz","author":{"login":"octocat"},"commit":{"message":"pr commit","author":{"date":"2024-03-04T10:00:00Z"}}},
				{"sha":"yyy","html_url":"https://github.com/acme/api/commit/yyy","author":null,"commit":{"message":"unlinked author","author":{"date":"2024-03-04T11:00:00Z"}}},
				{"sha":"xxx","html_url":"https://github.com/acme/api/commit/xxx","author":{"login":"stranger"},"committer":{"login":"stranger"},"commit":{"message":"someone else","author":{"date":"2024-03-04T12:00:00Z"}}}
			]`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
	connector, _ := setupTestConnector(t, http.HandlerFunc(handler))

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	commits, err := connector.FetchAllCommits(context.Background(), from, to)
	require.NoError(t, err)

	urls := make([]string, 0, len(commits))
	for _, c := range commits {
		assert.Equal(t, domain.KindCommit, c.Kind)
		urls = append(urls, c.URL)
	}
	assert.ElementsMatch(t, []string{
		"https://github.com/acme/api/commit/abc",
		"https://github.com/acme/api/commit/fx1",
		"https://github.com/acme/api/commit/zzz",
		"https://github.com/acme/api/commit/yyy",
	}, urls, "branch and merged-PR passes union; foreign commits are dropped")

	for _, c := range commits {
		if c.URL == "https://github.com/acme/api/commit/abc" {
			assert.Equal(t, "fix parser", c.Text, "only the message headline is kept")
			assert.Equal(t, "main", c.Target)
		}
		if c.URL == "https://github.com/acme/api/commit/zzz" {
			assert.Equal(t, "main", c.Target, "PR commits carry the base branch as target")
		}
	}
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "fix parser", headline("fix parser\n\nlong body"))
	assert.Equal(t, "fix parser", headline("fix parser"))
	assert.Equal(t, "", headline(""))
}
