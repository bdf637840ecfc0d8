package pipeline

import (
	"fmt"
	"strings"

	"boorusync/internal/config"
	"boorusync/internal/resources"
)

// TagFilter is one blacklist or requirement entry. A single name matches
// when the post carries it; a multi-name entry is an AND-group and
// matches only when every member is present.
type TagFilter []string

// Matches reports whether the post satisfies the filter.
func (f TagFilter) Matches(post *resources.Post) bool {
	if len(f) == 0 {
		return false
	}
	for _, name := range f {
		if !post.HasTag(name) {
			return false
		}
	}
	return true
}

func (f TagFilter) String() string {
	return strings.Join(f, "|")
}

// ParseTagFilters splits filter entries into TagFilters. Within each
// entry, commas separate independent filters and pipes join the members
// of an AND-group; empty fragments are dropped.
func ParseTagFilters(entries ...string) []TagFilter {
	var filters []TagFilter
	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			var filter TagFilter
			for _, name := range strings.Split(part, "|") {
				if name = strings.TrimSpace(name); name != "" {
					filter = append(filter, name)
				}
			}
			if len(filter) > 0 {
				filters = append(filters, filter)
			}
		}
	}
	return filters
}

// PostFilter is the allowed-post predicate applied to every normalized
// post before it is considered for the destination.
type PostFilter struct {
	Blacklisted   []TagFilter
	Required      []TagFilter
	AllowedSafety []resources.Safety
	MinimumScore  int
}

// NewPostFilter builds the predicate from the sync configuration. The
// safety values arrive pre-validated against the canonical set.
func NewPostFilter(cfg config.Sync) *PostFilter {
	filter := &PostFilter{
		Blacklisted:  ParseTagFilters(cfg.BlacklistedTags...),
		Required:     ParseTagFilters(cfg.RequiredTags...),
		MinimumScore: cfg.MinimumScore,
	}
	for _, safety := range cfg.AllowedSafety {
		filter.AllowedSafety = append(filter.AllowedSafety, resources.Safety(safety))
	}
	return filter
}

// Allow applies the checks in fixed order: blacklist, required tags,
// safety, score, deleted. The reason is empty for an allowed post and
// names the first failed check otherwise.
func (f *PostFilter) Allow(post *resources.Post) (bool, string) {
	for _, filter := range f.Blacklisted {
		if filter.Matches(post) {
			return false, fmt.Sprintf("contains blacklisted tags %q", filter.String())
		}
	}
	for _, filter := range f.Required {
		if !filter.Matches(post) {
			return false, fmt.Sprintf("missing required tags %q", filter.String())
		}
	}
	if len(f.AllowedSafety) > 0 && !f.safetyAllowed(post.Safety) {
		return false, fmt.Sprintf("safety %q is not allowed", post.Safety)
	}
	if f.MinimumScore > 0 && post.Score < f.MinimumScore {
		return false, fmt.Sprintf("score %d is below the minimum of %d", post.Score, f.MinimumScore)
	}
	if post.Deleted {
		return false, "deleted on the origin site"
	}
	return true, ""
}

func (f *PostFilter) safetyAllowed(safety resources.Safety) bool {
	for _, allowed := range f.AllowedSafety {
		if safety == allowed {
			return true
		}
	}
	return false
}
