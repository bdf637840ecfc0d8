// Package resources holds the site-agnostic value types the sync engine
// passes between source adapters, the pipeline, and destination adapters.
// Posts, tags, and pools created here carry no site-specific shapes; the
// per-site adapters are responsible for reducing raw sidecar metadata to
// these types.
package resources

import (
	"encoding/json"
	"strings"
	"time"
)

// Safety is the canonical content rating after normalization.
type Safety string

const (
	SafetySafe    Safety = "safe"
	SafetySketchy Safety = "sketchy"
	SafetyUnsafe  Safety = "unsafe"
)

// Safeties lists every canonical safety value.
func Safeties() []Safety {
	return []Safety{SafetySafe, SafetySketchy, SafetyUnsafe}
}

// ParseSafety maps an arbitrary rating string onto the canonical set,
// case-insensitively. Unknown values fall back to safe.
func ParseSafety(raw string) Safety {
	switch Safety(strings.ToLower(strings.TrimSpace(raw))) {
	case SafetySketchy:
		return SafetySketchy
	case SafetyUnsafe:
		return SafetyUnsafe
	default:
		return SafetySafe
	}
}

// TagCategory is the closed set of tag categories the engine understands.
// Site adapters map their raw category codes onto these values.
type TagCategory string

const (
	TagCategoryGeneral     TagCategory = "general"
	TagCategoryArtist      TagCategory = "artist"
	TagCategoryContributor TagCategory = "contributor"
	TagCategoryCopyright   TagCategory = "copyright"
	TagCategoryCharacter   TagCategory = "character"
	TagCategorySpecies     TagCategory = "species"
	TagCategoryInvalid     TagCategory = "invalid"
	TagCategoryMeta        TagCategory = "meta"
	TagCategoryLore        TagCategory = "lore"
)

// Tag is a destination-agnostic tag: a set of names where the first name is
// primary, a category, and the tags this one implies. Implications form a
// DAG; the destination rejects cycles.
type Tag struct {
	Names        []string    `json:"names"`
	Category     TagCategory `json:"category,omitempty"`
	Implications []*Tag      `json:"implications,omitempty"`
}

// NewTag builds a tag with deduplicated names in first-seen order.
func NewTag(names []string, category TagCategory, implications ...*Tag) *Tag {
	return &Tag{
		Names:        dedupeStrings(names),
		Category:     category,
		Implications: implications,
	}
}

// Name returns the primary (first) name, or an empty string for a nameless tag.
func (t *Tag) Name() string {
	if t == nil || len(t.Names) == 0 {
		return ""
	}
	return t.Names[0]
}

// Equal reports whether two tags refer to the same entity. Two tags are the
// same entity when their name sets intersect, regardless of order or category.
func (t *Tag) Equal(other *Tag) bool {
	if t == nil || other == nil {
		return t == other
	}
	for _, name := range t.Names {
		for _, otherName := range other.Names {
			if name == otherName {
				return true
			}
		}
	}
	return false
}

// HasName reports whether name is one of the tag's names.
func (t *Tag) HasName(name string) bool {
	if t == nil {
		return false
	}
	for _, n := range t.Names {
		if n == name {
			return true
		}
	}
	return false
}

// ImplicationNames returns the primary name of each implied tag.
func (t *Tag) ImplicationNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.Implications))
	for _, implied := range t.Implications {
		if name := implied.Name(); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Clone returns a deep copy of the tag.
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	clone := &Tag{
		Names:    append([]string(nil), t.Names...),
		Category: t.Category,
	}
	for _, implied := range t.Implications {
		clone.Implications = append(clone.Implications, implied.Clone())
	}
	return clone
}

func (t *Tag) String() string {
	return t.Name()
}

// TagNames returns the union of every name across tags, deduplicated in
// first-seen order.
func TagNames(tags []*Tag) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, tag := range tags {
		if tag == nil {
			continue
		}
		for _, name := range tag.Names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// ContainsTag reports whether tags already holds an entry equal to candidate.
func ContainsTag(tags []*Tag, candidate *Tag) bool {
	for _, tag := range tags {
		if tag.Equal(candidate) {
			return true
		}
	}
	return false
}

// Pool is an ordered collection of posts on a site. Cross references stay
// id-valued; full posts are resolved only when a caller explicitly needs them.
type Pool struct {
	ID          int      `json:"id"`
	Names       []string `json:"names,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Posts       []int    `json:"posts,omitempty"`
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		ID:          p.ID,
		Names:       append([]string(nil), p.Names...),
		Category:    p.Category,
		Description: p.Description,
		Posts:       append([]int(nil), p.Posts...),
	}
}

// Relationship links a post to its parent and children on the origin site.
type Relationship struct {
	Parent   *int  `json:"parent,omitempty"`
	Children []int `json:"children,omitempty"`
}

// RelatedIDs returns the union of parent and children ids, parent first.
func (r Relationship) RelatedIDs() []int {
	var ids []int
	if r.Parent != nil {
		ids = append(ids, *r.Parent)
	}
	return append(ids, r.Children...)
}

// IsZero reports whether the relationship carries no links at all.
func (r Relationship) IsZero() bool {
	return r.Parent == nil && len(r.Children) == 0
}

func (r Relationship) clone() Relationship {
	clone := Relationship{Children: append([]int(nil), r.Children...)}
	if r.Parent != nil {
		parent := *r.Parent
		clone.Parent = &parent
	}
	return clone
}

// Extra is adapter-private scratch space keyed by adapter name. Destination
// adapters park content tokens, server-side versions, and perceptual
// distances here; the merge and diff operations never touch it.
type Extra map[string]map[string]any

// Post is the central entity: one origin-site post normalized for the
// destination. A post is created when a sidecar is parsed, enriched inside
// the pipeline (hashes, local file, merged destination fields), and dropped
// when its page job cleans up.
type Post struct {
	ID          int          `json:"id"`                    // Numeric id on the origin site
	Category    string       `json:"category,omitempty"`    // Origin category tag
	Description string       `json:"description,omitempty"` // Free-form description text
	Score       int          `json:"score,omitempty"`       // Site score or favourite count
	Tags        []*Tag       `json:"tags,omitempty"`        // Normalized tags
	Sources     *OrderedSet  `json:"sources,omitempty"`     // Source URLs, first-seen order, unique
	CreatedAt   *time.Time   `json:"created_at,omitempty"`  // Creation instant on the origin site
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`  // Last-update instant on the origin site
	Relations   Relationship `json:"relations,omitempty"`   // Parent and children post ids
	Safety      Safety       `json:"safety,omitempty"`      // Canonical content rating
	MD5         string       `json:"md5,omitempty"`         // 32 lowercase hex chars, or empty
	SHA1        string       `json:"sha1,omitempty"`        // 40 lowercase hex chars, or empty
	PostURL     string       `json:"post_url,omitempty"`    // Canonical URL on the origin site
	Pools       []*Pool      `json:"pools,omitempty"`       // Pools the post belongs to
	LocalFile   string       `json:"-"`                     // Path of the downloaded media file, if any
	Deleted     bool         `json:"deleted,omitempty"`     // Deleted on the origin site
	Origin      string       `json:"origin,omitempty"`      // Name of the source adapter that produced this post

	Metadata *Metadata `json:"-"` // Raw sidecar the post was parsed from
	Extra    Extra     `json:"-"` // Adapter-private scratch, keyed by adapter name
}

// NewPost returns an empty post with its collections initialized.
func NewPost() *Post {
	return &Post{
		Sources: NewOrderedSet(),
		Extra:   Extra{},
	}
}

// ExtraFor returns the scratch namespace for the named adapter, creating it
// on first use.
func (p *Post) ExtraFor(adapter string) map[string]any {
	if p.Extra == nil {
		p.Extra = Extra{}
	}
	ns, ok := p.Extra[adapter]
	if !ok {
		ns = map[string]any{}
		p.Extra[adapter] = ns
	}
	return ns
}

// EnsurePostURL guarantees the canonical post URL is part of the source
// list. Appending through the ordered set keeps the list duplicate free.
func (p *Post) EnsurePostURL() {
	if p.PostURL == "" {
		return
	}
	if p.Sources == nil {
		p.Sources = NewOrderedSet()
	}
	p.Sources.Append(p.PostURL)
}

// SourceList returns the post's sources as a plain slice, never nil.
func (p *Post) SourceList() []string {
	if p.Sources == nil {
		return []string{}
	}
	return p.Sources.Items()
}

// TagNames returns the union of all names across the post's tags.
func (p *Post) TagNames() []string {
	return TagNames(p.Tags)
}

// HasTag reports whether any of the post's tags carries the given name.
func (p *Post) HasTag(name string) bool {
	for _, tag := range p.Tags {
		if tag.HasName(name) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the post. The raw metadata reference is
// shared; everything else, including adapter scratch, is copied so callers
// can merge into the clone without mutating the original.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	clone := &Post{
		ID:          p.ID,
		Category:    p.Category,
		Description: p.Description,
		Score:       p.Score,
		Sources:     p.Sources.Clone(),
		Relations:   p.Relations.clone(),
		Safety:      p.Safety,
		MD5:         p.MD5,
		SHA1:        p.SHA1,
		PostURL:     p.PostURL,
		LocalFile:   p.LocalFile,
		Deleted:     p.Deleted,
		Origin:      p.Origin,
		Metadata:    p.Metadata,
	}
	if p.CreatedAt != nil {
		created := *p.CreatedAt
		clone.CreatedAt = &created
	}
	if p.UpdatedAt != nil {
		updated := *p.UpdatedAt
		clone.UpdatedAt = &updated
	}
	for _, tag := range p.Tags {
		clone.Tags = append(clone.Tags, tag.Clone())
	}
	for _, pool := range p.Pools {
		clone.Pools = append(clone.Pools, pool.Clone())
	}
	if p.Extra != nil {
		clone.Extra = Extra{}
		for adapter, ns := range p.Extra {
			nsCopy := make(map[string]any, len(ns))
			for key, value := range ns {
				nsCopy[key] = value
			}
			clone.Extra[adapter] = nsCopy
		}
	}
	return clone
}

// OrderedSet is an insertion-ordered string collection that rejects
// duplicates on append. It backs a post's source list.
type OrderedSet struct {
	items []string
	index map[string]struct{}
}

// NewOrderedSet builds a set from the given items, dropping duplicates.
func NewOrderedSet(items ...string) *OrderedSet {
	set := &OrderedSet{index: make(map[string]struct{})}
	set.Append(items...)
	return set
}

// Append adds each item that is not already present, preserving order.
func (s *OrderedSet) Append(items ...string) {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := s.index[item]; ok {
			continue
		}
		s.index[item] = struct{}{}
		s.items = append(s.items, item)
	}
}

// Contains reports whether item is in the set.
func (s *OrderedSet) Contains(item string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[item]
	return ok
}

// Items returns a copy of the set's contents in insertion order.
func (s *OrderedSet) Items() []string {
	if s == nil {
		return []string{}
	}
	return append([]string{}, s.items...)
}

// Len returns the number of items in the set.
func (s *OrderedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Clone returns a copy of the set.
func (s *OrderedSet) Clone() *OrderedSet {
	if s == nil {
		return nil
	}
	return NewOrderedSet(s.items...)
}

// MarshalJSON encodes the set as a plain JSON array.
func (s *OrderedSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

// UnmarshalJSON decodes a JSON array, dropping duplicate entries.
func (s *OrderedSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	s.items = nil
	s.index = make(map[string]struct{})
	s.Append(items...)
	return nil
}

func dedupeStrings(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
