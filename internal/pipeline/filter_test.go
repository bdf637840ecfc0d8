package pipeline

import (
	"strings"
	"testing"

	"boorusync/internal/config"
	"boorusync/internal/resources"
)

func testPost(names ...string) *resources.Post {
	post := resources.NewPost()
	post.ID = 1
	post.Safety = resources.SafetySafe
	post.Score = 100
	for _, name := range names {
		post.Tags = append(post.Tags, resources.NewTag([]string{name}, resources.TagCategoryGeneral))
	}
	return post
}

func TestParseTagFilters(t *testing.T) {
	cases := []struct {
		name    string
		entries []string
		want    []TagFilter
	}{
		{name: "empty", entries: []string{""}, want: nil},
		{name: "single", entries: []string{"banned"}, want: []TagFilter{{"banned"}}},
		{name: "comma separated", entries: []string{"a,b"}, want: []TagFilter{{"a"}, {"b"}}},
		{name: "and group", entries: []string{"a|b"}, want: []TagFilter{{"a", "b"}}},
		{name: "mixed", entries: []string{"a,b|c,d"}, want: []TagFilter{{"a"}, {"b", "c"}, {"d"}}},
		{name: "multiple entries", entries: []string{"a", "b|c"}, want: []TagFilter{{"a"}, {"b", "c"}}},
		{name: "whitespace trimmed", entries: []string{" a , b "}, want: []TagFilter{{"a"}, {"b"}}},
		{name: "empty fragments dropped", entries: []string{"a,,b", "c||d"}, want: []TagFilter{{"a"}, {"b"}, {"c", "d"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTagFilters(tc.entries...)
			if len(got) != len(tc.want) {
				t.Fatalf("ParseTagFilters(%v) = %v, want %v", tc.entries, got, tc.want)
			}
			for i := range got {
				if got[i].String() != tc.want[i].String() {
					t.Errorf("filter %d = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTagFilterMatches(t *testing.T) {
	post := testPost("dragon", "scales")
	post.Tags = append(post.Tags, resources.NewTag([]string{"ryuu", "dragon_artist"}, resources.TagCategoryArtist))

	cases := []struct {
		name   string
		filter TagFilter
		want   bool
	}{
		{name: "present", filter: TagFilter{"dragon"}, want: true},
		{name: "absent", filter: TagFilter{"cat"}, want: false},
		{name: "group all present", filter: TagFilter{"dragon", "scales"}, want: true},
		{name: "group partially present", filter: TagFilter{"dragon", "cat"}, want: false},
		{name: "matches an alias", filter: TagFilter{"dragon_artist"}, want: true},
		{name: "empty never matches", filter: nil, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(post); got != tc.want {
				t.Errorf("Matches(%v) = %v, want %v", tc.filter, got, tc.want)
			}
		})
	}
}

func TestPostFilterAllow(t *testing.T) {
	filter := NewPostFilter(config.Sync{
		BlacklistedTags: []string{"banned,watermark|sample"},
		RequiredTags:    []string{"dragon"},
		AllowedSafety:   []string{"safe", "sketchy"},
		MinimumScore:    10,
	})

	cases := []struct {
		name       string
		mutate     func(*resources.Post)
		wantAllow  bool
		wantReason string
	}{
		{
			name:      "clean post passes",
			mutate:    func(*resources.Post) {},
			wantAllow: true,
		},
		{
			name: "blacklisted tag",
			mutate: func(p *resources.Post) {
				p.Tags = append(p.Tags, resources.NewTag([]string{"banned"}, resources.TagCategoryGeneral))
			},
			wantReason: "blacklisted",
		},
		{
			name: "blacklist group needs every member",
			mutate: func(p *resources.Post) {
				p.Tags = append(p.Tags, resources.NewTag([]string{"watermark"}, resources.TagCategoryGeneral))
			},
			wantAllow: true,
		},
		{
			name: "blacklist group complete",
			mutate: func(p *resources.Post) {
				p.Tags = append(p.Tags,
					resources.NewTag([]string{"watermark"}, resources.TagCategoryGeneral),
					resources.NewTag([]string{"sample"}, resources.TagCategoryGeneral),
				)
			},
			wantReason: "blacklisted",
		},
		{
			name: "missing required tag",
			mutate: func(p *resources.Post) {
				p.Tags = p.Tags[:0]
			},
			wantReason: "required",
		},
		{
			name: "disallowed safety",
			mutate: func(p *resources.Post) {
				p.Safety = resources.SafetyUnsafe
			},
			wantReason: "safety",
		},
		{
			name: "score below minimum",
			mutate: func(p *resources.Post) {
				p.Score = 9
			},
			wantReason: "below the minimum",
		},
		{
			name: "deleted on origin",
			mutate: func(p *resources.Post) {
				p.Deleted = true
			},
			wantReason: "deleted",
		},
		{
			name: "blacklist wins over later checks",
			mutate: func(p *resources.Post) {
				p.Tags = append(p.Tags, resources.NewTag([]string{"banned"}, resources.TagCategoryGeneral))
				p.Deleted = true
			},
			wantReason: "blacklisted",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			post := testPost("dragon")
			tc.mutate(post)
			allowed, reason := filter.Allow(post)
			if allowed != tc.wantAllow {
				t.Fatalf("Allow() = %v (%q), want %v", allowed, reason, tc.wantAllow)
			}
			if !tc.wantAllow && !strings.Contains(reason, tc.wantReason) {
				t.Errorf("reason = %q, want it to mention %q", reason, tc.wantReason)
			}
			if tc.wantAllow && reason != "" {
				t.Errorf("allowed post carries reason %q", reason)
			}
		})
	}
}

func TestPostFilterZeroConfigAllowsEverything(t *testing.T) {
	filter := NewPostFilter(config.Sync{})

	post := testPost("anything")
	post.Safety = resources.SafetyUnsafe
	post.Score = 0
	if allowed, reason := filter.Allow(post); !allowed {
		t.Errorf("empty filter rejected post: %s", reason)
	}
}
