package sites

import (
	"fmt"
	"regexp"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// gelbooruSafeties covers both the spelled-out ratings gelbooru.com
// returns and the single letters its derivatives use.
var gelbooruSafeties = map[string]resources.Safety{
	"general":      resources.SafetySafe,
	"safe":         resources.SafetySafe,
	"g":            resources.SafetySafe,
	"s":            resources.SafetySafe,
	"sensitive":    resources.SafetySketchy,
	"questionable": resources.SafetySketchy,
	"q":            resources.SafetySketchy,
	"explicit":     resources.SafetyUnsafe,
	"e":            resources.SafetyUnsafe,
}

// gelbooruParsePost reduces a Gelbooru-family sidecar to a post. The
// family shares one metadata shape: a flat record with a space-joined
// tag string, a single source field, a legacy created_at format, and
// an epoch change counter.
func gelbooruParsePost(meta *resources.Metadata, origin, urlBase string, fallback resources.Safety) (*resources.Post, error) {
	id, ok := meta.Int("id")
	if !ok {
		return nil, fmt.Errorf("sidecar %s has no post id", meta.Path)
	}

	post := resources.NewPost()
	post.Origin = origin
	post.Metadata = meta
	post.ID = id

	post.Tags = flatTags(meta)

	rating, _ := meta.String("rating")
	post.Safety = safetyFrom(gelbooruSafeties, rating, fallback)

	post.MD5, _ = meta.String("md5")
	if source, ok := meta.String("source"); ok {
		post.Sources.Append(sourcesFromString(source)...)
	}
	post.Score, _ = meta.Int("score")

	if raw, ok := meta.String("created_at"); ok {
		post.CreatedAt = parseBooruTime(raw)
	}
	if change, ok := meta.Int("change"); ok {
		post.UpdatedAt = unixTime(change)
	}

	if parent, ok := meta.Int("parent_id"); ok && parent != 0 {
		post.Relations.Parent = &parent
	}

	post.PostURL = fmt.Sprintf("%s/index.php?page=post&s=view&id=%d", urlBase, id)

	return post, nil
}

// flatTags reads a tag list, falling back to the space-joined string
// for sidecars written without the tags option.
func flatTags(meta *resources.Metadata) []*resources.Tag {
	if names, ok := meta.StringSlice("tags"); ok {
		var tags []*resources.Tag
		for _, name := range names {
			tags = append(tags, resources.NewTag([]string{name}, ""))
		}
		return tags
	}
	raw, _ := meta.String("tags")
	return tagsFromString(raw)
}

// Gelbooru covers gelbooru.com.
type Gelbooru struct {
	urlValidator
}

func NewGelbooru() *Gelbooru {
	return &Gelbooru{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/.+page=post.+|^https://[a-zA-Z0-9.-]+/+samples/.+`),
			global: globalPattern,
		},
	}
}

func (p *Gelbooru) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "gelbooru",
		Domains:    []string{"gelbooru.com"},
		Categories: []string{"gelbooru"},
	}
}

func (p *Gelbooru) SearchURL() string {
	return "https://gelbooru.com/index.php?page=post&s=list&tags="
}

func (p *Gelbooru) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	return gelbooruParsePost(meta, p.Attributes().Name, "https://gelbooru.com", resources.SafetySketchy)
}
