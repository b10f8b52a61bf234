// Package gateway defines the contract every hosting-platform connector
// implements, plus the error taxonomy shared by the implementations.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contribtrack/internal/domain"
)

// Connector adapts one hosting platform's activity APIs to canonical
// contributions. Implementations are safe for concurrent use: the report
// generator fans out across connectors, and connectors fan out internally
// across repositories and branches.
type Connector interface {
	// PlatformName returns a stable short identifier used in logs and
	// cache keys, e.g. "github".
	PlatformName() string

	// UserLogin resolves the token owner's username via the platform's
	// identity endpoint. Failure is an *AuthError: no partial result is
	// meaningful without knowing who the user is.
	UserLogin(ctx context.Context) (string, error)

	// FetchContributions returns every commit, PR/MR and review
	// contribution authored by the token owner in [from, to], restricted
	// to the configured base branches (or the platform default branch
	// where branch-scoped querying is unavailable). The result is
	// deduplicated before return.
	FetchContributions(ctx context.Context, from, to time.Time) ([]domain.Contribution, error)

	// FetchAllCommits returns commit contributions from every branch the
	// user pushed to or merged into in [from, to], including commits only
	// recoverable through merged pull/merge requests whose source branch
	// was later deleted.
	FetchAllCommits(ctx context.Context, from, to time.Time) ([]domain.Contribution, error)
}

// ErrMissingToken is returned by connector constructors when no credential
// is supplied. Connectors never proceed unauthenticated.
var ErrMissingToken = errors.New("missing or blank access token")

// AuthError reports that the token owner's identity could not be resolved.
// It is fatal for the fetch call that triggered it.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: resolving authenticated user: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a fatal failure of a connector's primary discovery
// query. Failures of individual repository, branch or merge-request
// sub-fetches are logged and swallowed instead, so they never surface as
// this type.
type UpstreamError struct {
	Platform string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream query failed: %v", e.Platform, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
