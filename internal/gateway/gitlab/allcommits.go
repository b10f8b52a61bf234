package gitlab

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gl "github.com/xanzy/go-gitlab"
	"golang.org/x/sync/errgroup"

	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
)

// maxConcurrentFetches bounds the fan-out across projects, branches and
// merge requests. The shared limiter still paces individual requests.
const maxConcurrentFetches = 10

// FetchAllCommits implements gateway.Connector. GitLab has no branch-scoped
// contribution query, so the pass unions two sources per touched project:
// the user's commits on every live branch, and the commit lists of merged,
// user-authored merge requests (which survive source-branch deletion).
func (c *Connector) FetchAllCommits(ctx context.Context, from, to time.Time) ([]domain.Contribution, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	mrs, err := c.mergedMergeRequests(ctx, from)
	if err != nil {
		return nil, err
	}

	projectIDs := c.touchedProjects(ctx, mrs, from, to)

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
	for _, id := range projectIDs {
		id := id
		eg.Go(func() error {
			collect(c.projectBranchCommits(ctx, user, id, from, to))
			return nil
		})
	}
	for _, mr := range mrs {
		mr := mr
		eg.Go(func() error {
			collect(c.mergeRequestCommits(ctx, user, mr, from, to))
			return nil
		})
	}
	_ = eg.Wait()

	return domain.Deduplicate(out, c.baseBranches), nil
}

// mergedMergeRequests lists the user's merged MRs that could carry commits
// in the window. An MR merged before the window start cannot: its commits
// all predate the merge.
func (c *Connector) mergedMergeRequests(ctx context.Context, from time.Time) ([]*gl.MergeRequest, error) {
	opt := &gl.ListMergeRequestsOptions{
		ListOptions:  gl.ListOptions{PerPage: 100},
		Scope:        gl.Ptr("created_by_me"),
		State:        gl.Ptr("merged"),
		UpdatedAfter: gl.Ptr(from),
	}

	var mrs []*gl.MergeRequest
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.client.MergeRequests.ListMergeRequests(opt, gl.WithContext(ctx))
		if err != nil {
			return nil, &gateway.UpstreamError{Platform: platformName, Err: err}
		}
		mrs = append(mrs, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return mrs, nil
}

// touchedProjects unions the projects seen in the user's push events and
// merged MRs. A failing events feed only shrinks the branch pass, so it is
// a warning here, not an error.
func (c *Connector) touchedProjects(ctx context.Context, mrs []*gl.MergeRequest, from, to time.Time) []int {
	seen := make(map[int]bool)
	for _, mr := range mrs {
		seen[mr.ProjectID] = true
	}

	events, err := c.contributionEvents(ctx, from, to)
	if err != nil {
		c.logger.WithError(err).Warn("listing contribution events failed, branch pass limited to merge-request projects")
	}
	for _, ev := range events {
		if ev.PushData.RefType == "branch" && ev.ProjectID != 0 {
			seen[ev.ProjectID] = true
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *Connector) projectBranchCommits(ctx context.Context, user *gl.User, projectID int, from, to time.Time) []domain.Contribution {
	path := c.projectPath(ctx, projectID)

	var branches []*gl.Branch
	opt := &gl.ListBranchesOptions{ListOptions: gl.ListOptions{PerPage: 100}}
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		page, resp, err := c.client.Branches.ListBranches(projectID, opt, gl.WithContext(ctx))
		if err != nil {
			c.logger.WithError(err).WithField("project", projectID).Warn("listing branches failed, skipping project branches")
			return nil
		}
		branches = append(branches, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	var mu sync.Mutex
	var out []domain.Contribution
	eg := &errgroup.Group{}
	eg.SetLimit(maxConcurrentFetches)
	for _, branch := range branches {
		branch := branch.Name
		eg.Go(func() error {
			commits := c.branchCommits(ctx, user, projectID, path, branch, from, to)
			mu.Lock()
			out = append(out, commits...)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func (c *Connector) branchCommits(ctx context.Context, user *gl.User, projectID int, path, branch string, from, to time.Time) []domain.Contribution {
	opt := &gl.ListCommitsOptions{
		ListOptions: gl.ListOptions{PerPage: 100},
		RefName:     gl.Ptr(branch),
		Since:       gl.Ptr(from),
		Until:       gl.Ptr(to),
	}

	var out []domain.Contribution
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return out
		}
		commits, resp, err := c.client.Commits.ListCommits(projectID, opt, gl.WithContext(ctx))
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"project": projectID, "branch": branch}).Warn("listing branch commits failed, skipping branch")
			return out
		}
		for _, commit := range commits {
			if !c.authoredBy(commit, user) {
				continue
			}
			out = append(out, domain.Contribution{
				Kind:       domain.KindCommit,
				Timestamp:  commitTime(commit),
				Text:       commit.Title,
				URL:        commit.WebURL,
				Repository: path,
				Target:     branch,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out
}

func (c *Connector) mergeRequestCommits(ctx context.Context, user *gl.User, mr *gl.MergeRequest, from, to time.Time) []domain.Contribution {
	path := c.projectPath(ctx, mr.ProjectID)

	opt := &gl.GetMergeRequestCommitsOptions{PerPage: 100}
	var out []domain.Contribution
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return out
		}
		commits, resp, err := c.client.MergeRequests.GetMergeRequestCommits(mr.ProjectID, mr.IID, opt, gl.WithContext(ctx))
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"project": mr.ProjectID, "merge_request": mr.IID}).Warn("listing merge request commits failed, skipping merge request")
			return out
		}
		for _, commit := range commits {
			ts := commitTime(commit)
			if ts.Before(from) || ts.After(to) {
				continue
			}
			if !c.authoredBy(commit, user) {
				continue
			}
			out = append(out, domain.Contribution{
				Kind:       domain.KindCommit,
				Timestamp:  ts,
				Text:       commit.Title,
				URL:        commit.WebURL,
				Repository: path,
				Target:     mr.TargetBranch,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out
}

// authoredBy matches a raw git commit against the current user. The commits
// API carries only git author/committer identities, so matching is by the
// account's name and known email addresses.
func (c *Connector) authoredBy(commit *gl.Commit, user *gl.User) bool {
	for _, email := range []string{user.Email, user.PublicEmail, user.CommitEmail} {
		if email != "" && (commit.AuthorEmail == email || commit.CommitterEmail == email) {
			return true
		}
	}
	return user.Name != "" && (commit.AuthorName == user.Name || commit.CommitterName == user.Name)
}

func commitTime(commit *gl.Commit) time.Time {
	if commit.CommittedDate != nil {
		return *commit.CommittedDate
	}
	if commit.AuthoredDate != nil {
		return *commit.AuthoredDate
	}
	return derefTime(commit.CreatedAt)
}
