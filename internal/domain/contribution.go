// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"sort"
	"time"
)

// Kind classifies a contribution event.
type Kind string

// The three contribution kinds every connector normalizes to.
const (
	KindCommit Kind = "commit"
	KindPR     Kind = "pr"
	KindReview Kind = "review"
)

// Contribution is the canonical record of one commit, pull/merge request or
// review event, regardless of which platform reported it.
// It is an immutable value; identity is defined solely by the deduplication
// rules in Deduplicate, never by pointer or position.
type Contribution struct {
	Kind       Kind      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text,omitempty"`
	URL        string    `json:"url,omitempty"`
	Repository string    `json:"repository,omitempty"`
	Target     string    `json:"target,omitempty"`
	ProjectID  string    `json:"projectId,omitempty"`
}

// WithProjectID returns a copy of the contribution carrying the given billing
// project identifier. Connectors never set ProjectID; only report enrichment
// does, through this method.
func (c Contribution) WithProjectID(id string) Contribution {
	c.ProjectID = id
	return c
}

// SortAscending orders contributions oldest first. The sort is stable so that
// same-instant records keep their merge order.
func SortAscending(cs []Contribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Timestamp.Before(cs[j].Timestamp)
	})
}

// SortDescending orders contributions newest first.
func SortDescending(cs []Contribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Timestamp.After(cs[j].Timestamp)
	})
}
