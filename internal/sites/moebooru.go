package sites

import (
	"fmt"
	"regexp"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

var moebooruSafeties = map[string]resources.Safety{
	"s":            resources.SafetySafe,
	"safe":         resources.SafetySafe,
	"q":            resources.SafetySketchy,
	"questionable": resources.SafetySketchy,
	"e":            resources.SafetyUnsafe,
	"explicit":     resources.SafetyUnsafe,
}

// moebooruParsePost reduces a Moebooru-family sidecar to a post. The
// family reports timestamps as epoch seconds and carries deletion as a
// status string.
func moebooruParsePost(meta *resources.Metadata, origin, urlBase string) (*resources.Post, error) {
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
	post.Safety = safetyFrom(moebooruSafeties, rating, resources.SafetySketchy)

	post.MD5, _ = meta.String("md5")
	if source, ok := meta.String("source"); ok {
		post.Sources.Append(sourcesFromString(source)...)
	}
	post.Score, _ = meta.Int("score")

	if created, ok := meta.Int("created_at"); ok {
		post.CreatedAt = unixTime(created)
	}
	if updated, ok := meta.Int("updated_at"); ok {
		post.UpdatedAt = unixTime(updated)
	}

	if parent, ok := meta.Int("parent_id"); ok && parent != 0 {
		post.Relations.Parent = &parent
	}

	if status, ok := meta.String("status"); ok {
		post.Deleted = status == "deleted"
	}
	post.PostURL = fmt.Sprintf("%s/post/show/%d", urlBase, id)

	return post, nil
}

// moebooruValidator matches the family's /post/show and /pool/show URL
// shapes.
func moebooruValidator() urlValidator {
	return urlValidator{
		post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/post/show/.+`),
		pool:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/pool/show/.+`),
		global: globalPattern,
	}
}

// Yandere covers yande.re.
type Yandere struct {
	urlValidator
}

func NewYandere() *Yandere {
	return &Yandere{urlValidator: moebooruValidator()}
}

func (p *Yandere) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "yandere",
		Domains:    []string{"yande.re"},
		Categories: []string{"yandere"},
	}
}

func (p *Yandere) SearchURL() string {
	return "https://yande.re/post?tags="
}

func (p *Yandere) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	return moebooruParsePost(meta, p.Attributes().Name, "https://yande.re")
}

// Konachan covers konachan.com.
type Konachan struct {
	urlValidator
}

func NewKonachan() *Konachan {
	return &Konachan{urlValidator: moebooruValidator()}
}

func (p *Konachan) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "konachan",
		Domains:    []string{"konachan.com"},
		Categories: []string{"konachan"},
	}
}

func (p *Konachan) SearchURL() string {
	return "https://konachan.com/post?tags="
}

func (p *Konachan) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	return moebooruParsePost(meta, p.Attributes().Name, "https://konachan.com")
}
