package domain

import "time"

// dedupKey identifies one logically distinct event. When a contribution
// carries a canonical URL the key is (kind, url): the same event reaching us
// through different API surfaces still links to the same page. Without a URL
// the key falls back to the full composite of observable fields.
type dedupKey struct {
	kind       Kind
	url        string
	timestamp  string
	text       string
	repository string
	target     string
}

func keyOf(c Contribution) dedupKey {
	if c.URL != "" {
		return dedupKey{kind: c.Kind, url: c.URL}
	}
	return dedupKey{
		kind:       c.Kind,
		timestamp:  c.Timestamp.UTC().Format(time.RFC3339Nano),
		text:       c.Text,
		repository: c.Repository,
		target:     c.Target,
	}
}

// Deduplicate collapses a contribution list to one entry per logically
// distinct event. When two records share a key, the one whose target names a
// configured base branch wins; failing that, the one with a non-empty target;
// failing that, the record encountered first. The same commit is often seen
// once with full branch context and once without, and the more informative
// record must survive.
//
// Deduplicate is pure: it never mutates its input and performs no I/O.
func Deduplicate(cs []Contribution, baseBranches []string) []Contribution {
	base := make(map[string]bool, len(baseBranches))
	for _, b := range baseBranches {
		base[b] = true
	}

	out := make([]Contribution, 0, len(cs))
	index := make(map[dedupKey]int, len(cs))
	for _, c := range cs {
		k := keyOf(c)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, c)
			continue
		}
		if preferred(c, out[i], base) {
			out[i] = c
		}
	}

	return out
}

// preferred reports whether candidate should replace incumbent under the
// base-branch > non-empty-target > first-encountered rule.
func preferred(candidate, incumbent Contribution, base map[string]bool) bool {
	cBase, iBase := base[candidate.Target], base[incumbent.Target]
	if cBase != iBase {
		return cBase
	}
	return candidate.Target != "" && incumbent.Target == ""
}
