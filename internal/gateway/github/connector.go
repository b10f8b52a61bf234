// Package github implements the hosting-platform connector for GitHub,
// combining the GraphQL v4 API for contribution discovery with the REST API
// for branch and pull-request commit listings.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	gh "github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
)

const platformName = "github"

// Connector fetches one user's GitHub activity. The zero value is not
// usable; construct with NewConnector or NewConnectorWithClients.
type Connector struct {
	rest         *gh.Client
	graphql      *githubv4.Client
	baseBranches []string
	logger       logrus.FieldLogger

	mu    sync.Mutex
	login string
	id    githubv4.ID
}

var _ gateway.Connector = &Connector{}

// NewConnector creates a connector authenticated with the given bearer
// token. A blank token is a construction-time error.
func NewConnector(token string, baseBranches []string, logger logrus.FieldLogger) (*Connector, error) {
	if strings.TrimSpace(token) == "" {
		return nil, gateway.ErrMissingToken
	}

	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("creating rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}

	return NewConnectorWithClients(gh.NewClient(httpClient), githubv4.NewClient(httpClient), baseBranches, logger), nil
}

// NewConnectorWithClients wires pre-built API clients. Used by tests and by
// callers that manage their own transport.
func NewConnectorWithClients(rest *gh.Client, graphql *githubv4.Client, baseBranches []string, logger logrus.FieldLogger) *Connector {
	return &Connector{
		rest:         rest,
		graphql:      graphql,
		baseBranches: baseBranches,
		logger:       logger,
	}
}

// PlatformName implements gateway.Connector.
func (c *Connector) PlatformName() string { return platformName }

type viewerQuery struct {
	Viewer struct {
		Login string
		ID    githubv4.ID
	}
}

// UserLogin resolves the token owner's username through the viewer query.
func (c *Connector) UserLogin(ctx context.Context) (string, error) {
	login, _, err := c.viewer(ctx)
	return login, err
}

// viewer resolves and memoizes the authenticated user's login and node ID.
// The ID feeds the server-side commit author filter.
func (c *Connector) viewer(ctx context.Context) (string, githubv4.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.login != "" {
		return c.login, c.id, nil
	}

	var q viewerQuery
	if err := c.graphql.Query(ctx, &q, nil); err != nil {
		return "", nil, &gateway.AuthError{Platform: platformName, Err: err}
	}
	c.login = q.Viewer.Login
	c.id = q.Viewer.ID
	return c.login, c.id, nil
}

// commitNode is the per-commit selection shared by the aggregate query and
// the per-repository history pagination query.
type commitNode struct {
	CommittedDate   githubv4.DateTime
	MessageHeadline string
	URL             githubv4.URI `graphql:"url"`
	Author          struct {
		User struct {
			Login string
		}
	}
}

type historyPage struct {
	PageInfo struct {
		HasNextPage bool
		EndCursor   githubv4.String
	}
	Nodes []commitNode
}

// contributionsQuery is the aggregate query: one round trip returns, per
// touched repository, the first page of default-branch commit history plus
// all PR and review contributions in range.
type contributionsQuery struct {
	Viewer struct {
		ContributionsCollection struct {
			CommitContributionsByRepository []struct {
				Repository struct {
					NameWithOwner    string
					DefaultBranchRef struct {
						Name   string
						Target struct {
							Commit struct {
								History historyPage `graphql:"history(since: $since, until: $until, author: $author, first: 100)"`
							} `graphql:"... on Commit"`
						}
					}
				}
			} `graphql:"commitContributionsByRepository(maxRepositories: 100)"`
			PullRequestContributions struct {
				Nodes []struct {
					PullRequest struct {
						Title       string
						URL         githubv4.URI `graphql:"url"`
						CreatedAt   githubv4.DateTime
						BaseRefName string
						Repository  struct {
							NameWithOwner string
						}
					}
				}
			} `graphql:"pullRequestContributions(first: 100)"`
			PullRequestReviewContributions struct {
				Nodes []struct {
					PullRequestReview struct {
						URL         githubv4.URI `graphql:"url"`
						SubmittedAt githubv4.DateTime
						Repository  struct {
							NameWithOwner string
						}
						PullRequest struct {
							BaseRefName string
						}
					}
				}
			} `graphql:"pullRequestReviewContributions(first: 100)"`
		} `graphql:"contributionsCollection(from: $from, to: $to)"`
	}
}

// historyPageQuery continues one repository's default-branch history past
// the page returned by the aggregate query.
type historyPageQuery struct {
	Repository struct {
		Ref struct {
			Target struct {
				Commit struct {
					History historyPage `graphql:"history(since: $since, until: $until, author: $author, first: 100, after: $cursor)"`
				} `graphql:"... on Commit"`
			}
		} `graphql:"ref(qualifiedName: $ref)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// pendingHistory marks a repository branch whose commit history did not fit
// in the aggregate query's first page.
type pendingHistory struct {
	repository string
	branch     string
	cursor     githubv4.String
}

// FetchContributions implements gateway.Connector using the aggregate
// contributions query, then paginating exhausted commit histories per
// repository, concurrently.
func (c *Connector) FetchContributions(ctx context.Context, from, to time.Time) ([]domain.Contribution, error) {
	login, id, err := c.viewer(ctx)
	if err != nil {
		return nil, err
	}

	vars := map[string]interface{}{
		"from":   githubv4.DateTime{Time: from},
		"to":     githubv4.DateTime{Time: to},
		"since":  githubv4.GitTimestamp{Time: from},
		"until":  githubv4.GitTimestamp{Time: to},
		"author": githubv4.CommitAuthor{ID: &id},
	}
	var q contributionsQuery
	if err := c.graphql.Query(ctx, &q, vars); err != nil {
		return nil, &gateway.UpstreamError{Platform: platformName, Err: fmt.Errorf("contributions query: %w", err)}
	}

	var out []domain.Contribution
	var pending []pendingHistory

	coll := q.Viewer.ContributionsCollection
	for _, byRepo := range coll.CommitContributionsByRepository {
		repo := byRepo.Repository.NameWithOwner
		branch := byRepo.Repository.DefaultBranchRef.Name
		history := byRepo.Repository.DefaultBranchRef.Target.Commit.History
		out = append(out, commitsFromNodes(history.Nodes, login, repo, branch)...)
		if history.PageInfo.HasNextPage {
			pending = append(pending, pendingHistory{repository: repo, branch: branch, cursor: history.PageInfo.EndCursor})
		}
	}
	for _, node := range coll.PullRequestContributions.Nodes {
		pr := node.PullRequest
		out = append(out, domain.Contribution{
			Kind:       domain.KindPR,
			Timestamp:  pr.CreatedAt.Time,
			Text:       pr.Title,
			URL:        uriString(pr.URL),
			Repository: pr.Repository.NameWithOwner,
			Target:     pr.BaseRefName,
		})
	}
	for _, node := range coll.PullRequestReviewContributions.Nodes {
		review := node.PullRequestReview
		out = append(out, domain.Contribution{
			Kind:       domain.KindReview,
			Timestamp:  review.SubmittedAt.Time,
			Text:       "review",
			URL:        uriString(review.URL),
			Repository: review.Repository.NameWithOwner,
			Target:     review.PullRequest.BaseRefName,
		})
	}

	// Remaining history pages are fetched per repository, concurrently.
	// A repository that fails to paginate loses only its own tail.
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range pending {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			commits, err := c.paginateHistory(ctx, login, id, p, from, to)
			if err != nil {
				c.logger.WithError(err).WithField("repository", p.repository).Warn("paginating commit history failed, keeping partial results")
				return
			}
			mu.Lock()
			out = append(out, commits...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return domain.Deduplicate(out, c.baseBranches), nil
}

func (c *Connector) paginateHistory(ctx context.Context, login string, id githubv4.ID, p pendingHistory, from, to time.Time) ([]domain.Contribution, error) {
	owner, name, ok := splitRepository(p.repository)
	if !ok {
		return nil, fmt.Errorf("malformed repository name %q", p.repository)
	}

	vars := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"ref":    githubv4.String("refs/heads/" + p.branch),
		"since":  githubv4.GitTimestamp{Time: from},
		"until":  githubv4.GitTimestamp{Time: to},
		"author": githubv4.CommitAuthor{ID: &id},
		"cursor": githubv4.NewString(p.cursor),
	}

	var out []domain.Contribution
	for {
		var q historyPageQuery
		if err := c.graphql.Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("history page query: %w", err)
		}
		history := q.Repository.Ref.Target.Commit.History
		out = append(out, commitsFromNodes(history.Nodes, login, p.repository, p.branch)...)
		if !history.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(history.PageInfo.EndCursor)
	}
	return out, nil
}

// commitsFromNodes converts history nodes to contributions, keeping only
// commits whose recorded author resolves to the authenticated user. Branch
// history is shared, not user-scoped, so other contributors' commits show up
// here and must be discarded.
func commitsFromNodes(nodes []commitNode, login, repository, branch string) []domain.Contribution {
	out := make([]domain.Contribution, 0, len(nodes))
	for _, n := range nodes {
		if n.Author.User.Login != login {
			continue
		}
		out = append(out, domain.Contribution{
			Kind:       domain.KindCommit,
			Timestamp:  n.CommittedDate.Time,
			Text:       n.MessageHeadline,
			URL:        uriString(n.URL),
			Repository: repository,
			Target:     branch,
		})
	}
	return out
}

func uriString(u githubv4.URI) string {
	if u.URL == nil {
		return ""
	}
	return u.URL.String()
}

func splitRepository(nameWithOwner string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(nameWithOwner, "/")
	if !ok || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// headline returns the first line of a commit message.
func headline(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	return strings.TrimSpace(message)
}
