package szurubooru

import (
	"strings"
	"time"

	"boorusync/internal/resources"
)

// Wire shapes for the destination's JSON API. Field names follow the
// server's camelCase convention.

type microTag struct {
	Names    []string `json:"names"`
	Category string   `json:"category"`
	Usages   int      `json:"usages,omitempty"`
}

type microPost struct {
	ID int `json:"id"`
}

type wireTag struct {
	Version      int        `json:"version"`
	Names        []string   `json:"names"`
	Category     string     `json:"category"`
	Description  string     `json:"description,omitempty"`
	Implications []microTag `json:"implications,omitempty"`
	Suggestions  []microTag `json:"suggestions,omitempty"`
	Usages       int        `json:"usages"`
}

type wirePost struct {
	ID           int         `json:"id"`
	Version      int         `json:"version"`
	CreationTime string      `json:"creationTime,omitempty"`
	LastEditTime string      `json:"lastEditTime,omitempty"`
	Safety       string      `json:"safety"`
	Source       string      `json:"source"` // Newline-separated URLs
	Checksum     string      `json:"checksum"`
	ChecksumMD5  string      `json:"checksumMD5"`
	Tags         []microTag  `json:"tags,omitempty"`
	Pools        []microPool `json:"pools,omitempty"`
	ContentURL   string      `json:"contentUrl,omitempty"`
}

type microPool struct {
	ID       int      `json:"id"`
	Names    []string `json:"names"`
	Category string   `json:"category,omitempty"`
}

type wirePool struct {
	ID       int         `json:"id"`
	Version  int         `json:"version"`
	Names    []string    `json:"names"`
	Category string      `json:"category,omitempty"`
	Posts    []microPost `json:"posts,omitempty"`
}

type postPage struct {
	Query   string      `json:"query"`
	Offset  int         `json:"offset"`
	Limit   int         `json:"limit"`
	Total   int         `json:"total"`
	Results []*wirePost `json:"results"`
}

type tagPage struct {
	Query   string     `json:"query"`
	Offset  int        `json:"offset"`
	Limit   int        `json:"limit"`
	Total   int        `json:"total"`
	Results []*wireTag `json:"results"`
}

type poolPage struct {
	Query   string      `json:"query"`
	Offset  int         `json:"offset"`
	Limit   int         `json:"limit"`
	Total   int         `json:"total"`
	Results []*wirePool `json:"results"`
}

type similarHit struct {
	Distance float64   `json:"distance"`
	Post     *wirePost `json:"post"`
}

type imageSearchResult struct {
	ExactPost    *wirePost    `json:"exactPost"`
	SimilarPosts []similarHit `json:"similarPosts"`
}

// Write bodies. Implication lists carry flattened tag names, never
// nested tags.

type tagWrite struct {
	Version      int      `json:"version,omitempty"`
	Names        []string `json:"names"`
	Category     string   `json:"category,omitempty"`
	Implications []string `json:"implications,omitempty"`
}

type postWrite struct {
	Version        int      `json:"version,omitempty"`
	Tags           []string `json:"tags"`
	Safety         string   `json:"safety"`
	Source         string   `json:"source"`
	ContentToken   string   `json:"contentToken,omitempty"`
	ThumbnailToken string   `json:"thumbnailToken,omitempty"`
}

type tagMerge struct {
	RemoveVersion  int    `json:"removeVersion"`
	Remove         string `json:"remove"`
	MergeToVersion int    `json:"mergeToVersion"`
	MergeTo        string `json:"mergeTo"`
}

// postToResource lifts a destination post into the shared representation.
// The server's version token lands in the post's scratch so later updates
// can send it back.
func (p *Plugin) postToResource(w *wirePost) *resources.Post {
	if w == nil {
		return nil
	}

	post := resources.NewPost()
	post.ID = w.ID
	post.Origin = PluginName
	post.Category = PluginName
	post.Safety = resources.ParseSafety(w.Safety)
	post.SHA1 = w.Checksum
	post.MD5 = w.ChecksumMD5
	post.PostURL = p.postURL(w.ID)
	post.CreatedAt = parseServerTime(w.CreationTime)
	post.UpdatedAt = parseServerTime(w.LastEditTime)

	for _, line := range strings.Split(w.Source, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			post.Sources.Append(line)
		}
	}
	for _, mt := range w.Tags {
		post.Tags = append(post.Tags, resources.NewTag(mt.Names, resources.TagCategory(mt.Category)))
	}
	for _, mp := range w.Pools {
		post.Pools = append(post.Pools, &resources.Pool{
			ID:       mp.ID,
			Names:    mp.Names,
			Category: mp.Category,
		})
	}

	post.ExtraFor(PluginName)["version"] = w.Version
	return post
}

// tagToResource lifts a destination tag into the shared representation.
// Implications flatten one level, matching what the write path sends.
func tagToResource(w *wireTag) *resources.Tag {
	if w == nil {
		return nil
	}
	var implications []*resources.Tag
	for _, mt := range w.Implications {
		implications = append(implications, resources.NewTag(mt.Names, resources.TagCategory(mt.Category)))
	}
	return resources.NewTag(w.Names, resources.TagCategory(w.Category), implications...)
}

// firstName returns the tag's server-side primary name, the one its API
// paths are addressed by.
func firstName(w *wireTag) string {
	if w == nil || len(w.Names) == 0 {
		return ""
	}
	return w.Names[0]
}

var serverTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
}

func parseServerTime(value string) *time.Time {
	for _, layout := range serverTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
