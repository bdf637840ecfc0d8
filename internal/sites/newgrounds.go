package sites

import (
	"fmt"
	"regexp"
	"strings"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

var newgroundsSafeties = map[string]resources.Safety{
	"g": resources.SafetySafe,
	"t": resources.SafetySafe,
	"m": resources.SafetySketchy,
	"a": resources.SafetyUnsafe,
}

// Newgrounds covers newgrounds.com art posts. The site exposes no
// checksum, so existence checks fall back to source URLs regardless of
// configuration.
type Newgrounds struct {
	urlValidator
}

func NewNewgrounds() *Newgrounds {
	return &Newgrounds{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[w.]*newgrounds\.com/[\w\d]+/view/.+`),
			author: regexp.MustCompile(`^https://[a-zA-Z0-9-]+\.newgrounds\.com`),
			global: regexp.MustCompile(`^https://[w.]*newgrounds\.com/?$`),
		},
	}
}

// Classify overrides the shared matcher to keep www away from the
// author pattern, which stands in for the original negative lookahead.
func (p *Newgrounds) Classify(rawURL string) plugins.SourceType {
	if p.author.MatchString(rawURL) && strings.HasPrefix(rawURL, "https://www.") {
		if p.post.MatchString(rawURL) {
			return plugins.SourceTypePost
		}
		if p.global.MatchString(rawURL) {
			return plugins.SourceTypeGlobal
		}
		return plugins.SourceTypeUnknown
	}
	return p.urlValidator.Classify(rawURL)
}

func (p *Newgrounds) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "newgrounds",
		Domains:    []string{"newgrounds.com"},
		Categories: []string{"newgrounds"},
	}
}

func (p *Newgrounds) SearchURL() string {
	return "https://www.newgrounds.com/search/summary?terms="
}

func (p *Newgrounds) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	id, ok := meta.Int("index")
	if !ok {
		return nil, fmt.Errorf("sidecar %s has no post index", meta.Path)
	}

	post := resources.NewPost()
	post.Origin = p.Attributes().Name
	post.Metadata = meta
	post.ID = id

	post.PostURL, _ = meta.String("post_url")
	if fileURL, ok := meta.String("url"); ok {
		post.Sources.Append(fileURL)
	}
	post.Sources.Append(post.PostURL)

	post.Description, _ = meta.String("description")
	post.Score, _ = meta.Int("favorites")
	post.Tags = newgroundsTags(meta)

	if raw, ok := meta.String("date"); ok {
		post.CreatedAt = parseISOTime(raw)
		post.UpdatedAt = post.CreatedAt
	}

	rating, _ := meta.String("rating")
	post.Safety = safetyFrom(newgroundsSafeties, rating, resources.SafetySafe)

	return post, nil
}

// newgroundsTags merges the artist list and the plain tag list,
// normalizing dashes the way booru tags are spelled.
func newgroundsTags(meta *resources.Metadata) []*resources.Tag {
	artists, _ := meta.StringSlice("artist")
	names, _ := meta.StringSlice("tags")

	seen := make(map[string]struct{}, len(artists))
	var tags []*resources.Tag
	for _, artist := range artists {
		seen[artist] = struct{}{}
		name := strings.ReplaceAll(artist, "-", "_")
		tags = append(tags, resources.NewTag([]string{name}, resources.TagCategoryArtist))
	}
	for _, raw := range names {
		if _, ok := seen[raw]; ok {
			continue
		}
		name := strings.ReplaceAll(raw, "-", "_")
		tags = append(tags, resources.NewTag([]string{name}, ""))
	}
	return tags
}
