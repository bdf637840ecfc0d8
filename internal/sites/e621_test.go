package sites

import (
	"strings"
	"testing"

	"boorusync/internal/resources"
)

const e621Sidecar = `{
  "id": 4353804,
  "created_at": "2023-10-09T13:12:04.241-04:00",
  "updated_at": "2024-01-11T20:11:43.836-05:00",
  "file": {
    "width": 2500,
    "height": 1800,
    "ext": "png",
    "size": 4055103,
    "md5": "fbf6863b6a0d48decd835f2cb02ab50b"
  },
  "score": {"up": 131, "down": -3, "total": 128},
  "tags": {
    "general": ["smile", "solo"],
    "species": ["sergal"],
    "character": [],
    "copyright": ["vilous"],
    "artist": ["mick39"],
    "invalid": [],
    "lore": [],
    "meta": ["hi_res"]
  },
  "rating": "s",
  "sources": ["https://twitter.com/mick39/status/1755612190"],
  "pools": [31266],
  "relationships": {"parent_id": null, "has_children": true, "children": [4353805]},
  "flags": {"pending": false, "deleted": false},
  "description": "A sergal by the window.",
  "category": "e621",
  "subcategory": "post"
}`

func TestE621ParsePost(t *testing.T) {
	post, err := NewE621().ParsePost(sidecarFromJSON(t, e621Sidecar))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}

	if post.ID != 4353804 {
		t.Errorf("ID = %d, want 4353804", post.ID)
	}
	if post.Origin != "e621" {
		t.Errorf("Origin = %q", post.Origin)
	}
	if post.Safety != resources.SafetySafe {
		t.Errorf("Safety = %s, want safe", post.Safety)
	}
	if post.MD5 != "fbf6863b6a0d48decd835f2cb02ab50b" {
		t.Errorf("MD5 = %q", post.MD5)
	}
	if post.Score != 128 {
		t.Errorf("Score = %d, want 128", post.Score)
	}
	if post.Description != "A sergal by the window." {
		t.Errorf("Description = %q", post.Description)
	}
	if post.PostURL != "https://e621.net/posts/4353804" {
		t.Errorf("PostURL = %q", post.PostURL)
	}

	if !post.Sources.Contains("https://twitter.com/mick39/status/1755612190") {
		t.Error("sidecar source missing from source list")
	}
	if post.Sources.Contains(post.PostURL) {
		t.Error("post URL should not be appended during parse")
	}

	if len(post.Tags) != 6 {
		t.Fatalf("got %d tags, want 6", len(post.Tags))
	}
	var sergal *resources.Tag
	for _, tag := range post.Tags {
		if tag.Name() == "sergal" {
			sergal = tag
		}
	}
	if sergal == nil || sergal.Category != resources.TagCategorySpecies {
		t.Errorf("sergal tag = %+v, want species category", sergal)
	}

	if post.CreatedAt == nil || post.CreatedAt.Year() != 2023 {
		t.Errorf("CreatedAt = %v", post.CreatedAt)
	}
	if post.UpdatedAt == nil || post.UpdatedAt.Year() != 2024 {
		t.Errorf("UpdatedAt = %v", post.UpdatedAt)
	}

	if post.Relations.Parent != nil {
		t.Errorf("Parent = %v, want nil for a null parent_id", *post.Relations.Parent)
	}
	if len(post.Relations.Children) != 1 || post.Relations.Children[0] != 4353805 {
		t.Errorf("Children = %v", post.Relations.Children)
	}

	if len(post.Pools) != 1 || post.Pools[0].ID != 31266 {
		t.Errorf("Pools = %+v", post.Pools)
	}
	if post.Deleted {
		t.Error("post should not be deleted")
	}
}

func TestE621ParsePostRequiresID(t *testing.T) {
	_, err := NewE621().ParsePost(sidecarFromJSON(t, `{"rating": "e"}`))
	if err == nil {
		t.Fatal("ParsePost() should fail without an id")
	}
	if !strings.Contains(err.Error(), "no post id") {
		t.Errorf("error = %v", err)
	}
}

func TestE621UnknownRatingIsSketchy(t *testing.T) {
	post, err := NewE621().ParsePost(sidecarFromJSON(t, `{"id": 1, "rating": "x"}`))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}
	if post.Safety != resources.SafetySketchy {
		t.Errorf("Safety = %s, want sketchy", post.Safety)
	}
}

func TestE621Configure(t *testing.T) {
	p := NewE621()
	err := p.Configure(map[string]any{
		"tag_post_count_threshold": float64(25),
		"url_base":                 "https://e926.net/",
	})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if p.threshold != 25 {
		t.Errorf("threshold = %d, want 25", p.threshold)
	}
	if got := p.SearchURL(); got != "https://e926.net/posts?tags=" {
		t.Errorf("SearchURL() = %q", got)
	}

	post, err := p.ParsePost(sidecarFromJSON(t, `{"id": 7}`))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}
	if post.PostURL != "https://e926.net/posts/7" {
		t.Errorf("PostURL = %q", post.PostURL)
	}
}

func TestE621ConfigureRejectsBadThreshold(t *testing.T) {
	err := NewE621().Configure(map[string]any{"tag_post_count_threshold": "lots"})
	if err == nil {
		t.Fatal("Configure() should reject a non-numeric threshold")
	}
}
