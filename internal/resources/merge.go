package resources

// MergeOptions control how another resource's fields fold into this one.
//
// AllowBlank lets a default (zero) value on the other side overwrite a
// populated field. MergeWherePossible appends sequence elements instead of
// replacing whole sequences. FieldsToIgnore names fields (by their wire
// name) that must not change; the administrative fields metadata, extra,
// origin, and deleted are always skipped regardless.
type MergeOptions struct {
	AllowBlank         bool
	MergeWherePossible bool
	FieldsToIgnore     []string
}

func (o MergeOptions) skip(field string) bool {
	for _, ignored := range o.FieldsToIgnore {
		if ignored == field {
			return true
		}
	}
	return false
}

// Merge folds other into p.
//
// Scalars keep p's value when other's is a default and AllowBlank is off.
// Sequences append missing elements under MergeWherePossible, otherwise they
// are replaced wholesale (still subject to the blank rule). Tag identity
// during appends follows Tag.Equal, pools match by id.
func (p *Post) Merge(other *Post, opts MergeOptions) {
	if other == nil {
		return
	}

	if !opts.skip("id") && (opts.AllowBlank || other.ID != 0) {
		p.ID = other.ID
	}
	if !opts.skip("category") && (opts.AllowBlank || other.Category != "") {
		p.Category = other.Category
	}
	if !opts.skip("description") && (opts.AllowBlank || other.Description != "") {
		p.Description = other.Description
	}
	if !opts.skip("score") && (opts.AllowBlank || other.Score != 0) {
		p.Score = other.Score
	}
	if !opts.skip("safety") && (opts.AllowBlank || other.Safety != "") {
		p.Safety = other.Safety
	}
	if !opts.skip("md5") && (opts.AllowBlank || other.MD5 != "") {
		p.MD5 = other.MD5
	}
	if !opts.skip("sha1") && (opts.AllowBlank || other.SHA1 != "") {
		p.SHA1 = other.SHA1
	}
	if !opts.skip("post_url") && (opts.AllowBlank || other.PostURL != "") {
		p.PostURL = other.PostURL
	}
	if !opts.skip("local_file") && (opts.AllowBlank || other.LocalFile != "") {
		p.LocalFile = other.LocalFile
	}
	if !opts.skip("created_at") && (opts.AllowBlank || other.CreatedAt != nil) {
		p.CreatedAt = other.CreatedAt
	}
	if !opts.skip("updated_at") && (opts.AllowBlank || other.UpdatedAt != nil) {
		p.UpdatedAt = other.UpdatedAt
	}

	if !opts.skip("tags") {
		switch {
		case opts.MergeWherePossible:
			for _, tag := range other.Tags {
				if !ContainsTag(p.Tags, tag) {
					p.Tags = append(p.Tags, tag)
				}
			}
		case opts.AllowBlank || len(other.Tags) > 0:
			p.Tags = other.Tags
		}
	}

	if !opts.skip("sources") {
		switch {
		case opts.MergeWherePossible:
			if other.Sources.Len() > 0 {
				if p.Sources == nil {
					p.Sources = NewOrderedSet()
				}
				p.Sources.Append(other.Sources.Items()...)
			}
		case opts.AllowBlank || other.Sources.Len() > 0:
			p.Sources = other.Sources.Clone()
		}
	}

	if !opts.skip("pools") {
		switch {
		case opts.MergeWherePossible:
			for _, pool := range other.Pools {
				if !containsPool(p.Pools, pool) {
					p.Pools = append(p.Pools, pool)
				}
			}
		case opts.AllowBlank || len(other.Pools) > 0:
			p.Pools = other.Pools
		}
	}

	if !opts.skip("relations") {
		if opts.AllowBlank || other.Relations.Parent != nil {
			p.Relations.Parent = other.Relations.Parent
		}
		switch {
		case opts.MergeWherePossible:
			for _, child := range other.Relations.Children {
				if !containsInt(p.Relations.Children, child) {
					p.Relations.Children = append(p.Relations.Children, child)
				}
			}
		case opts.AllowBlank || len(other.Relations.Children) > 0:
			p.Relations.Children = other.Relations.Children
		}
	}
}

// Merge folds other into t using the same rules as Post.Merge. Implication
// identity follows Tag.Equal.
func (t *Tag) Merge(other *Tag, opts MergeOptions) {
	if other == nil {
		return
	}

	if !opts.skip("names") {
		switch {
		case opts.MergeWherePossible:
			for _, name := range other.Names {
				if !t.HasName(name) && name != "" {
					t.Names = append(t.Names, name)
				}
			}
		case opts.AllowBlank || len(other.Names) > 0:
			t.Names = dedupeStrings(other.Names)
		}
	}

	if !opts.skip("category") && (opts.AllowBlank || other.Category != "") {
		t.Category = other.Category
	}

	if !opts.skip("implications") {
		switch {
		case opts.MergeWherePossible:
			for _, implied := range other.Implications {
				if !ContainsTag(t.Implications, implied) {
					t.Implications = append(t.Implications, implied)
				}
			}
		case opts.AllowBlank || len(other.Implications) > 0:
			t.Implications = other.Implications
		}
	}
}

// Merge folds other into the pool. Post references append under
// MergeWherePossible and keep their order.
func (p *Pool) Merge(other *Pool, opts MergeOptions) {
	if other == nil {
		return
	}

	if !opts.skip("id") && (opts.AllowBlank || other.ID != 0) {
		p.ID = other.ID
	}
	if !opts.skip("category") && (opts.AllowBlank || other.Category != "") {
		p.Category = other.Category
	}
	if !opts.skip("description") && (opts.AllowBlank || other.Description != "") {
		p.Description = other.Description
	}

	if !opts.skip("names") {
		switch {
		case opts.MergeWherePossible:
			for _, name := range other.Names {
				if !containsString(p.Names, name) && name != "" {
					p.Names = append(p.Names, name)
				}
			}
		case opts.AllowBlank || len(other.Names) > 0:
			p.Names = dedupeStrings(other.Names)
		}
	}

	if !opts.skip("posts") {
		switch {
		case opts.MergeWherePossible:
			for _, id := range other.Posts {
				if !containsInt(p.Posts, id) {
					p.Posts = append(p.Posts, id)
				}
			}
		case opts.AllowBlank || len(other.Posts) > 0:
			p.Posts = other.Posts
		}
	}
}

func containsPool(pools []*Pool, candidate *Pool) bool {
	if candidate == nil {
		return true
	}
	for _, pool := range pools {
		if pool != nil && pool.ID == candidate.ID {
			return true
		}
	}
	return false
}

func containsInt(values []int, candidate int) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}

func containsString(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}
