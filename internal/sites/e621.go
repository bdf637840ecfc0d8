package sites

import (
	"fmt"
	"regexp"
	"strings"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
	"boorusync/internal/session"
)

const e621URLBase = "https://e621.net"

var e621Safeties = map[string]resources.Safety{
	"safe":         resources.SafetySafe,
	"s":            resources.SafetySafe,
	"questionable": resources.SafetySketchy,
	"q":            resources.SafetySketchy,
	"explicit":     resources.SafetyUnsafe,
	"e":            resources.SafetyUnsafe,
}

// e621CategoryCodes maps the numeric category codes the database
// exports use onto tag categories.
var e621CategoryCodes = map[string]resources.TagCategory{
	"0": resources.TagCategoryGeneral,
	"1": resources.TagCategoryArtist,
	"2": resources.TagCategoryContributor,
	"3": resources.TagCategoryCopyright,
	"4": resources.TagCategoryCharacter,
	"5": resources.TagCategorySpecies,
	"6": resources.TagCategoryInvalid,
	"7": resources.TagCategoryMeta,
	"8": resources.TagCategoryLore,
}

// E621 covers e621.net: sidecar parsing, URL classification, and bulk
// tag imports from the site's database exports.
type E621 struct {
	urlValidator
	session   *session.Session
	urlBase   string
	threshold int
	tempDir   string
}

func NewE621() *E621 {
	return &E621{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/posts/.+|^https://[a-zA-Z0-9.-]+/data/sample/.+`),
			global: globalPattern,
		},
		urlBase:   e621URLBase,
		threshold: 5,
		tempDir:   "tmp",
	}
}

func (p *E621) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "e621",
		Domains:    []string{"e621.net"},
		Categories: []string{"e621"},
	}
}

func (p *E621) SearchURL() string {
	return p.urlBase + "/posts?tags="
}

func (p *E621) Bind(s *session.Session) {
	p.session = s
}

func (p *E621) Configure(block map[string]any) error {
	if n, ok, err := intOption(block, "tag_post_count_threshold"); err != nil {
		return err
	} else if ok {
		p.threshold = n
	}
	if dir, ok := stringOption(block, "temp_dir"); ok {
		p.tempDir = dir
	}
	if base, ok := stringOption(block, "url_base"); ok {
		p.urlBase = strings.TrimRight(base, "/")
	}
	return nil
}

func (p *E621) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	id, ok := meta.Int("id")
	if !ok {
		return nil, fmt.Errorf("sidecar %s has no post id", meta.Path)
	}

	post := resources.NewPost()
	post.Origin = p.Attributes().Name
	post.Metadata = meta
	post.ID = id

	if sources, ok := meta.StringSlice("sources"); ok {
		post.Sources.Append(sources...)
	}
	post.Description, _ = meta.String("description")
	post.Score, _ = meta.Int("score", "total")

	if categories, ok := meta.Map("tags"); ok {
		post.Tags = tagsFromCategoryMap(categories)
	}

	if raw, ok := meta.String("created_at"); ok {
		post.CreatedAt = parseISOTime(raw)
	}
	if raw, ok := meta.String("updated_at"); ok {
		post.UpdatedAt = parseISOTime(raw)
	}

	if parent, ok := meta.Int("relationships", "parent_id"); ok {
		post.Relations.Parent = &parent
	}
	if children, ok := meta.Slice("relationships", "children"); ok {
		for _, raw := range children {
			if child, ok := asInt(raw); ok {
				post.Relations.Children = append(post.Relations.Children, child)
			}
		}
	}

	rating, _ := meta.String("rating")
	post.Safety = safetyFrom(e621Safeties, rating, resources.SafetySketchy)

	post.MD5, _ = meta.String("file", "md5")
	post.Deleted, _ = meta.Bool("flags", "deleted")
	post.PostURL = fmt.Sprintf("%s/posts/%d", p.urlBase, id)

	if pools, ok := meta.Slice("pools"); ok {
		for _, raw := range pools {
			if poolID, ok := asInt(raw); ok {
				post.Pools = append(post.Pools, &resources.Pool{ID: poolID})
			}
		}
	}

	return post, nil
}
