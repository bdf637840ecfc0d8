package resources

import "time"

// postDiffIgnores are the fields a post diff skips unless a caller insists
// otherwise: they are pipeline enrichments, not user-intended state.
var postDiffIgnores = []string{"md5", "sha1", "score", "local_file", "relations"}

// adminFields never participate in merge or diff.
var adminFields = []string{"metadata", "extra", "origin", "deleted", "plugins"}

// Diff reports what p carries that other does not: a map of field name to
// difference. Sequences contribute their set difference (elements of p
// missing from other), scalars contribute p's value when it is non-default
// and differs. Empty differences are omitted, so an empty map means other
// already covers p.
func (p *Post) Diff(other *Post, fieldsToIgnore ...string) map[string]any {
	diff := make(map[string]any)
	if other == nil {
		other = NewPost()
	}
	skip := ignoreSet(postDiffIgnores, fieldsToIgnore)

	if !skip["id"] && p.ID != 0 && p.ID != other.ID {
		diff["id"] = p.ID
	}
	if !skip["category"] && p.Category != "" && p.Category != other.Category {
		diff["category"] = p.Category
	}
	if !skip["description"] && p.Description != "" && p.Description != other.Description {
		diff["description"] = p.Description
	}
	if !skip["score"] && p.Score != 0 && p.Score != other.Score {
		diff["score"] = p.Score
	}
	if !skip["safety"] && p.Safety != "" && p.Safety != other.Safety {
		diff["safety"] = p.Safety
	}
	if !skip["md5"] && p.MD5 != "" && p.MD5 != other.MD5 {
		diff["md5"] = p.MD5
	}
	if !skip["sha1"] && p.SHA1 != "" && p.SHA1 != other.SHA1 {
		diff["sha1"] = p.SHA1
	}
	if !skip["post_url"] && p.PostURL != "" && p.PostURL != other.PostURL {
		diff["post_url"] = p.PostURL
	}
	if !skip["local_file"] && p.LocalFile != "" && p.LocalFile != other.LocalFile {
		diff["local_file"] = p.LocalFile
	}
	if !skip["created_at"] && p.CreatedAt != nil && !timeEqual(p.CreatedAt, other.CreatedAt) {
		diff["created_at"] = *p.CreatedAt
	}
	if !skip["updated_at"] && p.UpdatedAt != nil && !timeEqual(p.UpdatedAt, other.UpdatedAt) {
		diff["updated_at"] = *p.UpdatedAt
	}

	if !skip["tags"] {
		var missing []*Tag
		for _, tag := range p.Tags {
			if !ContainsTag(other.Tags, tag) {
				missing = append(missing, tag)
			}
		}
		if len(missing) > 0 {
			diff["tags"] = missing
		}
	}

	if !skip["sources"] {
		var missing []string
		for _, source := range p.SourceList() {
			if !other.Sources.Contains(source) {
				missing = append(missing, source)
			}
		}
		if len(missing) > 0 {
			diff["sources"] = missing
		}
	}

	if !skip["pools"] {
		var missing []*Pool
		for _, pool := range p.Pools {
			if !containsPool(other.Pools, pool) {
				missing = append(missing, pool)
			}
		}
		if len(missing) > 0 {
			diff["pools"] = missing
		}
	}

	if !skip["relations"] {
		var missing []int
		for _, id := range p.Relations.RelatedIDs() {
			if !containsInt(other.Relations.RelatedIDs(), id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			diff["relations"] = missing
		}
	}

	return diff
}

// Diff reports what t carries that other does not, with the same rules as
// Post.Diff. There are no default ignores for tags.
func (t *Tag) Diff(other *Tag, fieldsToIgnore ...string) map[string]any {
	diff := make(map[string]any)
	if other == nil {
		other = &Tag{}
	}
	skip := ignoreSet(nil, fieldsToIgnore)

	if !skip["names"] {
		var missing []string
		for _, name := range t.Names {
			if !other.HasName(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			diff["names"] = missing
		}
	}

	if !skip["category"] && t.Category != "" && t.Category != other.Category {
		diff["category"] = t.Category
	}

	if !skip["implications"] {
		var missing []*Tag
		for _, implied := range t.Implications {
			if !ContainsTag(other.Implications, implied) {
				missing = append(missing, implied)
			}
		}
		if len(missing) > 0 {
			diff["implications"] = missing
		}
	}

	return diff
}

func ignoreSet(defaults, extra []string) map[string]bool {
	skip := make(map[string]bool, len(defaults)+len(extra)+len(adminFields))
	for _, field := range adminFields {
		skip[field] = true
	}
	for _, field := range defaults {
		skip[field] = true
	}
	for _, field := range extra {
		skip[field] = true
	}
	return skip
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
