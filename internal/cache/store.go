// Package cache persists fetched contribution history on disk, one JSON
// document per (platform, username) identity. The cache only accumulates:
// every save merges the new window into whatever was stored before, and
// nothing is dropped except exact duplicates.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"contribtrack/internal/domain"
)

// Metadata summarizes one cached identity without requiring the full
// contribution list.
type Metadata struct {
	Platform          string    `json:"platform"`
	Username          string    `json:"username"`
	LastUpdated       time.Time `json:"lastUpdated"`
	ContributionCount int       `json:"contributionCount"`
	DateRange         DateRange `json:"dateRange"`
}

// DateRange spans the earliest and latest cached contribution timestamps.
type DateRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// Entry is the on-disk document for one (platform, username) identity.
// Schema changes must be additive only.
type Entry struct {
	Metadata      Metadata              `json:"metadata"`
	Contributions []domain.Contribution `json:"contributions"`
}

// Store reads and writes cache entries under a single root directory.
// Concurrent saves for the same identity are not serialized here; callers
// needing strict correctness under concurrent runs must do that themselves.
type Store struct {
	dir          string
	baseBranches []string
	logger       logrus.FieldLogger
}

// NewStore creates a store rooted at dir. The base branches feed the
// deduplication run on every merge.
func NewStore(dir string, baseBranches []string, logger logrus.FieldLogger) *Store {
	return &Store{dir: dir, baseBranches: baseBranches, logger: logger}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeUsername maps a username to its filename-safe form: any character
// outside [A-Za-z0-9_-] becomes an underscore, so one logical user always
// maps to one file regardless of punctuation.
func SanitizeUsername(username string) string {
	return unsafeChars.ReplaceAllString(username, "_")
}

func (s *Store) entryPath(platform, username string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", platform, SanitizeUsername(username)))
}

// Load returns the cached contributions for an identity. The cache is a
// performance aid, not a durability guarantee: a missing or unparsable file
// degrades to an empty result, never an error.
func (s *Store) Load(platform, username string) []domain.Contribution {
	path := s.entryPath(platform, username)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("path", path).Warn("reading cache entry failed, treating as empty")
		}
		return []domain.Contribution{}
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("cache entry is corrupt, treating as empty")
		return []domain.Contribution{}
	}
	if entry.Contributions == nil {
		return []domain.Contribution{}
	}
	return entry.Contributions
}

// Save merges contributions into the identity's entry: existing plus new are
// deduplicated, sorted ascending by timestamp, and written back wholesale
// with recomputed metadata. A write failure is propagated; silently losing
// freshly fetched data is unacceptable.
func (s *Store) Save(platform, username string, contributions []domain.Contribution) error {
	existing := s.Load(platform, username)
	merged := domain.Deduplicate(append(existing, contributions...), s.baseBranches)
	domain.SortAscending(merged)

	entry := Entry{
		Metadata: Metadata{
			Platform:          platform,
			Username:          username,
			LastUpdated:       time.Now().UTC(),
			ContributionCount: len(merged),
		},
		Contributions: merged,
	}
	if len(merged) > 0 {
		entry.Metadata.DateRange = DateRange{
			Earliest: merged[0].Timestamp,
			Latest:   merged[len(merged)-1].Timestamp,
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling cache entry: %w", err)
	}
	if err := os.WriteFile(s.entryPath(platform, username), data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Clear deletes every cache file and returns how many were removed.
// A missing cache directory counts as zero, not an error.
func (s *Store) Clear() (int, error) {
	files, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing cache directory: %w", err)
	}

	deleted := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.Name())); err != nil {
			return deleted, fmt.Errorf("removing cache entry %s: %w", f.Name(), err)
		}
		deleted++
	}
	return deleted, nil
}

// Status returns the stored metadata for every cached identity, skipping
// entries that no longer parse. Only the metadata section of each document
// is used.
func (s *Store) Status() ([]Metadata, error) {
	files, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache directory: %w", err)
	}

	metas := make([]Metadata, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			s.logger.WithError(err).WithField("file", f.Name()).Warn("reading cache entry failed, skipping")
			continue
		}
		var header struct {
			Metadata Metadata `json:"metadata"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			s.logger.WithError(err).WithField("file", f.Name()).Warn("cache entry is corrupt, skipping")
			continue
		}
		metas = append(metas, header.Metadata)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Platform != metas[j].Platform {
			return metas[i].Platform < metas[j].Platform
		}
		return metas[i].Username < metas[j].Username
	})
	return metas, nil
}
