package github

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
)

// maxConcurrentFetches bounds the REST fan-out across repositories,
// branches and pull requests.
const maxConcurrentFetches = 10

// contributedReposQuery lists the repositories the user committed to or
// opened pull requests against in range. It scopes the all-commits pass.
type contributedReposQuery struct {
	Viewer struct {
		ContributionsCollection struct {
			CommitContributionsByRepository []struct {
				Repository struct {
					NameWithOwner string
				}
			} `graphql:"commitContributionsByRepository(maxRepositories: 100)"`
			PullRequestContributions struct {
				Nodes []struct {
					PullRequest struct {
						Repository struct {
							NameWithOwner string
						}
					}
				}
			} `graphql:"pullRequestContributions(first: 100)"`
		} `graphql:"contributionsCollection(from: $from, to: $to)"`
	}
}

// FetchAllCommits implements gateway.Connector. It enumerates every live
// branch and every merged, user-authored pull request per contributed
// repository, fetches commits for each, and unions the results. Branch and
// pull-request enumeration for one repository run concurrently; repositories
// run concurrently. A failed sub-fetch costs only its own unit.
func (c *Connector) FetchAllCommits(ctx context.Context, from, to time.Time) ([]domain.Contribution, error) {
	login, _, err := c.viewer(ctx)
	if err != nil {
		return nil, err
	}

	repos, err := c.contributedRepositories(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var out []domain.Contribution
	collect := func(cs []domain.Contribution) {
		if len(cs) == 0 {
			return
		}
		mu.Lock()
		out = append(out, cs...)
		mu.Unlock()
	}

	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentFetches)
	for _, repo := range repos {
		repo := repo
		owner, name, ok := splitRepository(repo)
		if !ok {
			c.logger.WithField("repository", repo).Warn("malformed repository name, skipping")
			continue
		}

		eg.Go(func() error {
			collect(c.branchCommits(ctx, login, owner, name, from, to))
			return nil
		})
		eg.Go(func() error {
			collect(c.mergedPullRequestCommits(ctx, login, owner, name, from, to))
			return nil
		})
	}
	_ = eg.Wait()

	return domain.Deduplicate(out, c.baseBranches), nil
}

func (c *Connector) contributedRepositories(ctx context.Context, from, to time.Time) ([]string, error) {
	vars := map[string]interface{}{
		"from": githubv4.DateTime{Time: from},
		"to":   githubv4.DateTime{Time: to},
	}
	var q contributedReposQuery
	if err := c.graphql.Query(ctx, &q, vars); err != nil {
		return nil, &gateway.UpstreamError{Platform: platformName, Err: fmt.Errorf("contributed repositories query: %w", err)}
	}

	seen := make(map[string]bool)
	for _, byRepo := range q.Viewer.ContributionsCollection.CommitContributionsByRepository {
		seen[byRepo.Repository.NameWithOwner] = true
	}
	for _, node := range q.Viewer.ContributionsCollection.PullRequestContributions.Nodes {
		seen[node.PullRequest.Repository.NameWithOwner] = true
	}

	repos := make([]string, 0, len(seen))
	for repo := range seen {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos, nil
}

// branchCommits lists every live branch and fetches the user's commits on
// each. The author filter is applied server-side through the commits API.
func (c *Connector) branchCommits(ctx context.Context, login, owner, name string, from, to time.Time) []domain.Contribution {
	repo := owner + "/" + name

	var branches []*gh.Branch
	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		page, resp, err := c.rest.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			c.logger.WithError(err).WithField("repository", repo).Warn("listing branches failed, skipping repository branches")
			return nil
		}
		branches = append(branches, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var mu sync.Mutex
	var out []domain.Contribution
	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentFetches)
	for _, branch := range branches {
		branch := branch.GetName()
		eg.Go(func() error {
			commits := c.commitsOnBranch(ctx, login, owner, name, branch, from, to)
			mu.Lock()
			out = append(out, commits...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (c *Connector) commitsOnBranch(ctx context.Context, login, owner, name, branch string, from, to time.Time) []domain.Contribution {
	repo := owner + "/" + name
	opts := &gh.CommitsListOptions{
		SHA:         branch,
		Author:      login,
		Since:       from,
		Until:       to,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var out []domain.Contribution
	for {
		commits, resp, err := c.rest.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			c.logger.WithError(err).WithFields(logFields(repo, branch)).Warn("listing branch commits failed, skipping branch")
			return out
		}
		for _, rc := range commits {
			out = append(out, domain.Contribution{
				Kind:       domain.KindCommit,
				Timestamp:  rc.GetCommit().GetAuthor().GetDate().Time,
				Text:       headline(rc.GetCommit().GetMessage()),
				URL:        rc.GetHTMLURL(),
				Repository: repo,
				Target:     branch,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out
}

// mergedPullRequestCommits recovers commits reachable only through merged,
// user-authored pull requests, e.g. when the source branch was deleted after
// merge. A pull request merged before the window cannot contain commits in
// it, so enumeration stops at the window start.
func (c *Connector) mergedPullRequestCommits(ctx context.Context, login, owner, name string, from, to time.Time) []domain.Contribution {
	repo := owner + "/" + name

	var prs []*gh.PullRequest
	opts := &gh.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		page, resp, err := c.rest.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			c.logger.WithError(err).WithField("repository", repo).Warn("listing pull requests failed, skipping repository pull requests")
			return nil
		}
		for _, pr := range page {
			if pr.MergedAt == nil || pr.GetUser().GetLogin() != login {
				continue
			}
			if pr.GetMergedAt().Time.Before(from) {
				continue
			}
			prs = append(prs, pr)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var mu sync.Mutex
	var out []domain.Contribution
	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentFetches)
	for _, pr := range prs {
		pr := pr
		eg.Go(func() error {
			commits := c.pullRequestCommits(ctx, login, owner, name, pr, from, to)
			mu.Lock()
			out = append(out, commits...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (c *Connector) pullRequestCommits(ctx context.Context, login, owner, name string, pr *gh.PullRequest, from, to time.Time) []domain.Contribution {
	repo := owner + "/" + name
	target := pr.GetBase().GetRef()
	opts := &gh.ListOptions{PerPage: 100}

	var out []domain.Contribution
	for {
		commits, resp, err := c.rest.PullRequests.ListCommits(ctx, owner, name, pr.GetNumber(), opts)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"repository": repo, "pull": pr.GetNumber()}).Warn("listing pull request commits failed, skipping pull request")
			return out
		}
		for _, rc := range commits {
			ts := rc.GetCommit().GetAuthor().GetDate().Time
			if ts.Before(from) || ts.After(to) {
				continue
			}
			if !authoredBy(rc, login) {
				continue
			}
			out = append(out, domain.Contribution{
				Kind:       domain.KindCommit,
				Timestamp:  ts,
				Text:       headline(rc.GetCommit().GetMessage()),
				URL:        rc.GetHTMLURL(),
				Repository: repo,
				Target:     target,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out
}

// authoredBy reports whether a commit inside a user-authored pull request
// belongs to the user. Commits whose author has no linked GitHub account
// count as the user's: the surrounding pull request establishes authorship.
func authoredBy(rc *gh.RepositoryCommit, login string) bool {
	if rc.GetAuthor().GetLogin() == login || rc.GetCommitter().GetLogin() == login {
		return true
	}
	return rc.Author == nil
}

func logFields(repository, branch string) logrus.Fields {
	return logrus.Fields{"repository": repository, "branch": branch}
}
