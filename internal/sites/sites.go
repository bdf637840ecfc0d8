// Package sites holds the source adapters for the supported booru and
// gallery sites. Each adapter declares its registry attributes and
// implements whichever contracts the site supports: sidecar parsing,
// URL classification, and API access.
package sites

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// RegisterAll registers every site adapter.
func RegisterAll(r *plugins.Registry) {
	r.Register(NewE621())
	r.Register(NewDanbooru())
	r.Register(NewGelbooru())
	r.Register(NewRule34())
	r.Register(NewSafebooru())
	r.Register(NewYandere())
	r.Register(NewKonachan())
	r.Register(NewTwitter())
	r.Register(NewPixiv())
	r.Register(NewNewgrounds())
}

// urlValidator classifies URLs against a site's canonical URL shapes.
// Patterns are matched in a fixed order so post links win over author
// and pool links, and the bare-host pattern is checked last.
type urlValidator struct {
	post   *regexp.Regexp
	author *regexp.Regexp
	pool   *regexp.Regexp
	global *regexp.Regexp
}

func (v urlValidator) Classify(rawURL string) plugins.SourceType {
	switch {
	case v.post != nil && v.post.MatchString(rawURL):
		return plugins.SourceTypePost
	case v.author != nil && v.author.MatchString(rawURL):
		return plugins.SourceTypeAuthor
	case v.pool != nil && v.pool.MatchString(rawURL):
		return plugins.SourceTypePool
	case v.global != nil && v.global.MatchString(rawURL):
		return plugins.SourceTypeGlobal
	}
	return plugins.SourceTypeUnknown
}

// globalPattern matches a bare site root, shared by every validator.
var globalPattern = regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/?$`)

// safetyFrom reduces a site rating string to the canonical safety set.
func safetyFrom(mapping map[string]resources.Safety, rating string, fallback resources.Safety) resources.Safety {
	if safety, ok := mapping[strings.ToLower(strings.TrimSpace(rating))]; ok {
		return safety
	}
	return fallback
}

// tagsFromString splits a space-separated tag string into uncategorized
// tags, the shape the Gelbooru and Moebooru families use.
func tagsFromString(tagString string) []*resources.Tag {
	var tags []*resources.Tag
	for _, name := range strings.Fields(tagString) {
		tags = append(tags, resources.NewTag([]string{name}, ""))
	}
	return tags
}

// sourcesFromString splits a newline-separated source field, the shape
// most booru APIs use for multiple sources.
func sourcesFromString(source string) []string {
	var sources []string
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			sources = append(sources, line)
		}
	}
	return sources
}

// parseISOTime parses an RFC 3339 style timestamp, tolerating a
// missing timezone.
func parseISOTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}
	return nil
}

// parseBooruTime parses the legacy timestamp format the Gelbooru family
// returns, e.g. "Sat Jun 01 02:15:05 -0500 2024".
func parseBooruTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	if parsed, err := time.Parse("Mon Jan 02 15:04:05 -0700 2006", value); err == nil {
		return &parsed
	}
	return parseISOTime(value)
}

// unixTime converts epoch seconds to a time, used by the Moebooru
// family.
func unixTime(seconds int) *time.Time {
	if seconds == 0 {
		return nil
	}
	t := time.Unix(int64(seconds), 0).UTC()
	return &t
}

// tagsFromCategoryMap flattens a category-keyed tag map, the shape the
// e621 API uses. Categories are visited in sorted order so the tag
// list is stable.
func tagsFromCategoryMap(categories map[string]any) []*resources.Tag {
	keys := make([]string, 0, len(categories))
	for key := range categories {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var tags []*resources.Tag
	for _, category := range keys {
		names, ok := categories[category].([]any)
		if !ok {
			continue
		}
		for _, raw := range names {
			name, ok := raw.(string)
			if !ok {
				continue
			}
			tags = append(tags, resources.NewTag([]string{name}, resources.TagCategory(category)))
		}
	}
	return tags
}

// asInt coerces a decoded JSON value to an int.
func asInt(value any) (int, bool) {
	switch n := value.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// intOption reads an integer from a plugin configuration block,
// tolerating the numeric shapes viper produces.
func intOption(block map[string]any, key string) (int, bool, error) {
	value, ok := block[key]
	if !ok {
		return 0, false, nil
	}
	n, ok := asInt(value)
	if !ok {
		return 0, false, fmt.Errorf("option %q must be an integer, got %T", key, value)
	}
	return n, true, nil
}

// stringOption reads a string from a plugin configuration block.
func stringOption(block map[string]any, key string) (string, bool) {
	value, ok := block[key].(string)
	return value, ok && value != ""
}
