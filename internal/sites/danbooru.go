package sites

import (
	"fmt"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

const danbooruURLBase = "https://danbooru.donmai.us"

var danbooruSafeties = map[string]resources.Safety{
	"g": resources.SafetySafe,
	"s": resources.SafetySketchy,
	"q": resources.SafetySketchy,
	"e": resources.SafetyUnsafe,
}

// danbooruTagCategories lists the categories a danbooru sidecar keys
// its tags_<category> fields by.
var danbooruTagCategories = []resources.TagCategory{
	resources.TagCategoryGeneral,
	resources.TagCategoryArtist,
	resources.TagCategoryCopyright,
	resources.TagCategoryCharacter,
	resources.TagCategoryMeta,
}

// Danbooru parses danbooru.donmai.us sidecars. Danbooru post URLs are
// classified by the generic e621 patterns, so no validator is declared
// here.
type Danbooru struct{}

func NewDanbooru() *Danbooru {
	return &Danbooru{}
}

func (p *Danbooru) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "danbooru",
		Domains:    []string{"danbooru.donmai.us"},
		Categories: []string{"danbooru"},
	}
}

func (p *Danbooru) SearchURL() string {
	return danbooruURLBase + "/posts?tags="
}

func (p *Danbooru) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	id, ok := meta.Int("id")
	if !ok {
		return nil, fmt.Errorf("sidecar %s has no post id", meta.Path)
	}

	post := resources.NewPost()
	post.Origin = p.Attributes().Name
	post.Metadata = meta
	post.ID = id

	post.Tags = danbooruTags(meta)

	rating, _ := meta.String("rating")
	post.Safety = safetyFrom(danbooruSafeties, rating, resources.SafetySketchy)

	post.MD5, _ = meta.String("md5")
	if source, ok := meta.String("source"); ok {
		post.Sources.Append(sourcesFromString(source)...)
	}
	post.Score, _ = meta.Int("score")

	if raw, ok := meta.String("created_at"); ok {
		post.CreatedAt = parseISOTime(raw)
	}
	if raw, ok := meta.String("updated_at"); ok {
		post.UpdatedAt = parseISOTime(raw)
	}

	if parent, ok := meta.Int("parent_id"); ok && parent != 0 {
		post.Relations.Parent = &parent
	}

	post.Deleted, _ = meta.Bool("is_deleted")
	post.PostURL = fmt.Sprintf("%s/posts/%d", danbooruURLBase, id)

	return post, nil
}

// danbooruTags reads the per-category tag lists, falling back to the
// flat tag list and then the raw tag string for sidecars written
// without the tags option.
func danbooruTags(meta *resources.Metadata) []*resources.Tag {
	var tags []*resources.Tag
	for _, category := range danbooruTagCategories {
		names, ok := meta.StringSlice("tags_" + string(category))
		if !ok {
			continue
		}
		for _, name := range names {
			tags = append(tags, resources.NewTag([]string{name}, category))
		}
	}
	if len(tags) > 0 {
		return tags
	}

	if names, ok := meta.StringSlice("tags"); ok {
		for _, name := range names {
			tags = append(tags, resources.NewTag([]string{name}, ""))
		}
		return tags
	}

	raw, _ := meta.String("tag_string")
	return tagsFromString(raw)
}
