// Package gitlab implements the hosting-platform connector for GitLab,
// built on the contribution-events feed and the merge-request listing API.
// The events feed does not expose default-branch metadata, so push events
// are matched against the caller-configured base-branch allow-list.
package gitlab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gl "github.com/xanzy/go-gitlab"
	"golang.org/x/time/rate"

	"contribtrack/internal/domain"
	"contribtrack/internal/gateway"
)

const platformName = "gitlab"

// requestsPerSecond paces API calls client-side. GitLab.com throttles
// authenticated API traffic well above this, so the limiter only smooths
// bursts from the branch fan-out.
const requestsPerSecond = 5

// Connector fetches one user's GitLab activity.
type Connector struct {
	client       *gl.Client
	limiter      *rate.Limiter
	baseBranches []string
	logger       logrus.FieldLogger

	mu       sync.Mutex
	user     *gl.User
	projects map[int]*gl.Project
}

var _ gateway.Connector = &Connector{}

// NewConnector creates a connector authenticated with the given token.
// baseURL overrides the gitlab.com API endpoint for self-hosted instances;
// empty means gitlab.com. A blank token is a construction-time error.
func NewConnector(token, baseURL string, baseBranches []string, logger logrus.FieldLogger) (*Connector, error) {
	if strings.TrimSpace(token) == "" {
		return nil, gateway.ErrMissingToken
	}

	var opts []gl.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gl.WithBaseURL(baseURL))
	}
	client, err := gl.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return NewConnectorWithClient(client, baseBranches, logger), nil
}

// NewConnectorWithClient wires a pre-built API client. Used by tests.
func NewConnectorWithClient(client *gl.Client, baseBranches []string, logger logrus.FieldLogger) *Connector {
	return &Connector{
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		baseBranches: baseBranches,
		logger:       logger,
		projects:     make(map[int]*gl.Project),
	}
}

// PlatformName implements gateway.Connector.
func (c *Connector) PlatformName() string { return platformName }

// UserLogin resolves the token owner's username.
func (c *Connector) UserLogin(ctx context.Context) (string, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

func (c *Connector) currentUser(ctx context.Context) (*gl.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		return c.user, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	user, _, err := c.client.Users.CurrentUser(gl.WithContext(ctx))
	if err != nil {
		return nil, &gateway.AuthError{Platform: platformName, Err: err}
	}
	c.user = user
	return user, nil
}

// FetchContributions implements gateway.Connector: the paginated
// contribution-events feed yields commits (push events restricted to base
// branches) and reviews (approval events); a separate merge-request listing
// yields MR contributions.
func (c *Connector) FetchContributions(ctx context.Context, from, to time.Time) ([]domain.Contribution, error) {
	if _, err := c.currentUser(ctx); err != nil {
		return nil, err
	}

	var out []domain.Contribution

	events, err := c.contributionEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if contrib, ok := c.eventContribution(ctx, ev); ok {
			out = append(out, contrib)
		}
	}

	mrs, err := c.authoredMergeRequests(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, mr := range mrs {
		out = append(out, domain.Contribution{
			Kind:       domain.KindPR,
			Timestamp:  derefTime(mr.CreatedAt),
			Text:       mr.Title,
			URL:        mr.WebURL,
			Repository: c.projectPath(ctx, mr.ProjectID),
			Target:     mr.TargetBranch,
		})
	}

	return domain.Deduplicate(out, c.baseBranches), nil
}

// contributionEvents pages through the current user's event feed. The API's
// after/before parameters are exclusive whole days, so the window is widened
// by one day on each side and trimmed precisely afterwards.
func (c *Connector) contributionEvents(ctx context.Context, from, to time.Time) ([]*gl.ContributionEvent, error) {
	after := gl.ISOTime(from.AddDate(0, 0, -1))
	before := gl.ISOTime(to.AddDate(0, 0, 1))
	opt := &gl.ListContributionEventsOptions{
		ListOptions: gl.ListOptions{PerPage: 100},
		After:       &after,
		Before:      &before,
	}

	var events []*gl.ContributionEvent
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.client.Events.ListCurrentUserContributionEvents(opt, gl.WithContext(ctx))
		if err != nil {
			return nil, &gateway.UpstreamError{Platform: platformName, Err: fmt.Errorf("listing contribution events: %w", err)}
		}
		for _, ev := range page {
			ts := derefTime(ev.CreatedAt)
			if ts.Before(from) || ts.After(to) {
				continue
			}
			events = append(events, ev)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return events, nil
}

// eventContribution maps one feed event to a contribution. Push events to
// branches outside the base-branch allow-list are dropped; so is everything
// that is neither a push nor an approval.
func (c *Connector) eventContribution(ctx context.Context, ev *gl.ContributionEvent) (domain.Contribution, bool) {
	ts := derefTime(ev.CreatedAt)

	if ev.PushData.RefType == "branch" && ev.PushData.Ref != "" {
		if !c.isBaseBranch(ev.PushData.Ref) {
			return domain.Contribution{}, false
		}
		return domain.Contribution{
			Kind:       domain.KindCommit,
			Timestamp:  ts,
			Text:       ev.PushData.CommitTitle,
			URL:        c.commitURL(ctx, ev.ProjectID, ev.PushData.CommitTo),
			Repository: c.projectPath(ctx, ev.ProjectID),
			Target:     ev.PushData.Ref,
		}, true
	}

	// An approval event is a review.
	if ev.ActionName == "approved" {
		return domain.Contribution{
			Kind:       domain.KindReview,
			Timestamp:  ts,
			Text:       "review",
			URL:        c.mergeRequestURL(ctx, ev.ProjectID, ev.TargetIID),
			Repository: c.projectPath(ctx, ev.ProjectID),
		}, true
	}

	return domain.Contribution{}, false
}

func (c *Connector) authoredMergeRequests(ctx context.Context, from, to time.Time) ([]*gl.MergeRequest, error) {
	opt := &gl.ListMergeRequestsOptions{
		ListOptions:   gl.ListOptions{PerPage: 100},
		Scope:         gl.Ptr("created_by_me"),
		CreatedAfter:  gl.Ptr(from),
		CreatedBefore: gl.Ptr(to),
	}

	var mrs []*gl.MergeRequest
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.client.MergeRequests.ListMergeRequests(opt, gl.WithContext(ctx))
		if err != nil {
			return nil, &gateway.UpstreamError{Platform: platformName, Err: fmt.Errorf("listing merge requests: %w", err)}
		}
		mrs = append(mrs, page...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return mrs, nil
}

func (c *Connector) isBaseBranch(name string) bool {
	for _, b := range c.baseBranches {
		if b == name {
			return true
		}
	}
	return false
}

// project resolves a project ID to its metadata, memoized for the life of
// the connector. A failed lookup degrades to nil: the contribution then just
// misses its repository path and URL, which beats dropping the event.
func (c *Connector) project(ctx context.Context, id int) *gl.Project {
	c.mu.Lock()
	if p, ok := c.projects[id]; ok {
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}
	p, _, err := c.client.Projects.GetProject(id, nil, gl.WithContext(ctx))
	if err != nil {
		c.logger.WithError(err).WithField("project", id).Warn("resolving project failed")
		p = nil
	}

	c.mu.Lock()
	c.projects[id] = p
	c.mu.Unlock()
	return p
}

func (c *Connector) projectPath(ctx context.Context, id int) string {
	if p := c.project(ctx, id); p != nil {
		return p.PathWithNamespace
	}
	return ""
}

func (c *Connector) commitURL(ctx context.Context, projectID int, sha string) string {
	p := c.project(ctx, projectID)
	if p == nil || sha == "" {
		return ""
	}
	return fmt.Sprintf("%s/-/commit/%s", p.WebURL, sha)
}

func (c *Connector) mergeRequestURL(ctx context.Context, projectID, iid int) string {
	p := c.project(ctx, projectID)
	if p == nil || iid == 0 {
		return ""
	}
	return fmt.Sprintf("%s/-/merge_requests/%d", p.WebURL, iid)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
