package szurubooru

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boorusync/internal/logger"
	"boorusync/internal/resources"
)

// PushTag reconciles one tag into the destination. Conflicting
// destination tags collapse into a single primary, which is then updated
// to the merged desired state. Integrity conflicts re-run the whole
// reconciliation against fresh server state.
//
// replace overwrites the destination's fields instead of merging them;
// createEmpty keeps tags alive even when the destination shows no usages.
func (p *Plugin) PushTag(ctx context.Context, tag *resources.Tag, replace, createEmpty bool) (*resources.Tag, error) {
	if _, err := p.api(); err != nil {
		return nil, err
	}
	if tag == nil || tag.Name() == "" {
		return nil, fmt.Errorf("cannot push a nameless tag")
	}

	createEmpty = createEmpty || p.createEmptyTags

	work := tag.Clone()
	work.Names = p.capNames(work.Names)

	var result *resources.Tag
	attempt := func() error {
		var err error
		result, err = p.reconcileTag(ctx, work, replace, createEmpty)
		return err
	}
	if err := p.retryIntegrity(ctx, work.Name(), attempt); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Plugin) reconcileTag(ctx context.Context, tag *resources.Tag, replace, createEmpty bool) (*resources.Tag, error) {
	conflicting, err := p.conflictingTags(ctx, tag.Names)
	if err != nil {
		return nil, err
	}

	if len(conflicting) == 0 {
		return p.createMissingTag(ctx, tag)
	}

	primary := conflicting[0]
	if primary.Usages == 0 && !createEmpty {
		logger.Debug("skipping tag, destination copy is unused", "tag", tag.Name())
		return nil, nil
	}
	if len(tag.Diff(tagToResource(primary))) == 0 {
		return tagToResource(primary), nil
	}

	for _, other := range conflicting[1:] {
		refreshed, err := p.collapseTag(ctx, other, primary)
		if err != nil {
			return nil, err
		}
		if refreshed != nil {
			primary = refreshed
		}
	}

	desired := tagToResource(primary).Clone()
	if replace {
		desired.Merge(tag, resources.MergeOptions{AllowBlank: true})
	} else {
		desired.Merge(tag, resources.MergeOptions{MergeWherePossible: true})
	}
	desired.Names = p.capNames(desired.Names)

	return p.applyDesiredTag(ctx, primary, desired)
}

// conflictingTags returns the distinct destination tags whose name sets
// intersect the given names, in first-seen order. Names already covered
// by an earlier hit are not looked up again.
func (p *Plugin) conflictingTags(ctx context.Context, names []string) ([]*wireTag, error) {
	var conflicting []*wireTag
	covered := map[string]bool{}

	for _, name := range names {
		if covered[name] {
			continue
		}
		found, err := p.client.getTag(ctx, name)
		if err != nil {
			if errors.Is(err, ErrTagNotFound) {
				continue
			}
			return nil, fmt.Errorf("look up tag %q: %w", name, err)
		}

		logger.Debug("found conflicting destination tag", "name", name, "names", found.Names)
		conflicting = append(conflicting, found)
		for _, alias := range found.Names {
			covered[alias] = true
		}
	}

	return conflicting, nil
}

func (p *Plugin) createMissingTag(ctx context.Context, tag *resources.Tag) (*resources.Tag, error) {
	body := tagWrite{
		Names:        tag.Names,
		Category:     wireCategory(tag.Category),
		Implications: implicationNames(tag),
	}

	created, err := p.client.createTag(ctx, body)
	if err != nil {
		if errors.Is(err, ErrTagAlreadyExists) {
			// Another worker created it between lookup and write; the
			// next wave merges into it.
			logger.Error("tag appeared on the destination mid-push", err, "tag", tag.Name())
			return nil, nil
		}
		return nil, fmt.Errorf("create tag %q: %w", tag.Name(), err)
	}

	logger.Debug("created destination tag", "tag", tag.Name(), "category", body.Category)
	return tagToResource(created), nil
}

// collapseTag removes a redundant conflicting tag. Unused tags are
// deleted outright; used ones merge into the primary so their posts keep
// a living tag. Returns the refreshed primary after a merge.
func (p *Plugin) collapseTag(ctx context.Context, other, primary *wireTag) (*wireTag, error) {
	if other.Usages == 0 {
		logger.Debug("deleting unused conflicting tag", "tag", firstName(other))
		if err := p.client.deleteTag(ctx, firstName(other), other.Version); err != nil {
			return nil, fmt.Errorf("delete tag %q: %w", firstName(other), err)
		}
		return nil, nil
	}

	logger.Debug("merging conflicting tag into primary", "tag", firstName(other), "primary", firstName(primary))
	merged, err := p.client.mergeTags(ctx, other, primary)
	if err == nil {
		return merged, nil
	}
	if !errors.Is(err, ErrTagNotFound) {
		return nil, fmt.Errorf("merge tag %q into %q: %w", firstName(other), firstName(primary), err)
	}

	// A rename between read and write can move either side's first name.
	// Pause, re-read both by any surviving alias, and retry once.
	if err := p.sleep(ctx, p.relocateDelay); err != nil {
		return nil, err
	}
	freshOther, err := p.refreshTag(ctx, other)
	if errors.Is(err, ErrTagNotFound) {
		logger.Debug("conflicting tag disappeared before merge", "tag", firstName(other))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	freshPrimary, err := p.refreshTag(ctx, primary)
	if err != nil {
		return nil, err
	}

	merged, err = p.client.mergeTags(ctx, freshOther, freshPrimary)
	if err != nil {
		return nil, fmt.Errorf("merge tag %q into %q: %w", firstName(freshOther), firstName(freshPrimary), err)
	}
	return merged, nil
}

// applyDesiredTag PUTs the desired state over the primary, working
// through the destination's first-name and alias quirks.
func (p *Plugin) applyDesiredTag(ctx context.Context, primary *wireTag, desired *resources.Tag) (*resources.Tag, error) {
	body := tagWrite{
		Version:      primary.Version,
		Names:        desired.Names,
		Category:     wireCategory(desired.Category),
		Implications: implicationNames(desired),
	}

	logger.Debug("updating destination tag",
		"tag", firstName(primary),
		"names", len(body.Names),
		"category", body.Category,
	)

	updated, err := p.client.updateTag(ctx, firstName(primary), body)
	if err == nil {
		return tagToResource(updated), nil
	}

	switch {
	case errors.Is(err, ErrTagNotFound):
		return p.relocateAndRetry(ctx, primary, body)
	case errors.Is(err, ErrInvalidTagRelation):
		return p.pruneAndRetry(ctx, primary, body, err)
	case errors.Is(err, ErrTagAlreadyExists):
		return p.shrinkAndExpand(ctx, primary, body)
	}
	return nil, fmt.Errorf("update tag %q: %w", desired.Name(), err)
}

// relocateAndRetry handles the primary's first name moving between read
// and write: re-read the tag by any surviving alias, put the name the
// server knows first, and retry.
func (p *Plugin) relocateAndRetry(ctx context.Context, primary *wireTag, body tagWrite) (*resources.Tag, error) {
	logger.Warn("tag first name moved on the destination, relocating", "tag", firstName(primary))
	if err := p.sleep(ctx, p.relocateDelay); err != nil {
		return nil, err
	}

	fresh, err := p.refreshTag(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("relocate tag %q: %w", firstName(primary), err)
	}

	body.Version = fresh.Version
	body.Names = frontLoad(body.Names, firstName(fresh))
	updated, err := p.client.updateTag(ctx, firstName(fresh), body)
	if err != nil {
		return nil, fmt.Errorf("update tag %q: %w", firstName(fresh), err)
	}
	return tagToResource(updated), nil
}

// pruneAndRetry handles the server refusing an implication that is
// already one of the tag's names: drop the collisions and retry once.
func (p *Plugin) pruneAndRetry(ctx context.Context, primary *wireTag, body tagWrite, cause error) (*resources.Tag, error) {
	names := map[string]bool{}
	for _, name := range body.Names {
		names[name] = true
	}

	pruned := make([]string, 0, len(body.Implications))
	for _, implication := range body.Implications {
		if names[implication] {
			logger.Warn("dropping implication that collides with a tag name",
				"tag", firstName(primary),
				"implication", implication,
			)
			continue
		}
		pruned = append(pruned, implication)
	}
	if len(pruned) == len(body.Implications) {
		return nil, fmt.Errorf("update tag %q: %w", firstName(primary), cause)
	}

	body.Implications = pruned
	updated, err := p.client.updateTag(ctx, firstName(primary), body)
	if err != nil {
		return nil, fmt.Errorf("update tag %q after pruning implications: %w", firstName(primary), err)
	}
	return tagToResource(updated), nil
}

// shrinkAndExpand handles an alias conflict during update, usually
// merge-index lag: shrink the tag to its primary name alone, let the
// server settle, then expand to the full desired set.
func (p *Plugin) shrinkAndExpand(ctx context.Context, primary *wireTag, body tagWrite) (*resources.Tag, error) {
	logger.Warn("tag update hit an alias conflict, shrinking before expanding", "tag", firstName(primary))

	shrunk := body
	shrunk.Names = []string{firstName(primary)}
	first, err := p.client.updateTag(ctx, firstName(primary), shrunk)
	if err != nil {
		return nil, fmt.Errorf("shrink tag %q: %w", firstName(primary), err)
	}

	if err := p.sleep(ctx, p.shrinkDelay); err != nil {
		return nil, err
	}

	body.Version = first.Version
	updated, err := p.client.updateTag(ctx, firstName(first), body)
	if err != nil {
		return nil, fmt.Errorf("expand tag %q: %w", firstName(first), err)
	}
	return tagToResource(updated), nil
}

// refreshTag re-reads a tag by the first of its known aliases that still
// resolves, bypassing the read cache.
func (p *Plugin) refreshTag(ctx context.Context, tag *wireTag) (*wireTag, error) {
	err := error(ErrTagNotFound)
	for _, name := range tag.Names {
		p.client.forgetTag(name)
		var found *wireTag
		found, err = p.client.getTag(ctx, name)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, ErrTagNotFound) {
			return nil, err
		}
	}
	return nil, err
}

// retryIntegrity re-runs fn while the destination reports integrity
// conflicts. Every attempt starts from fresh reads, so a retry acts on
// current versions.
func (p *Plugin) retryIntegrity(ctx context.Context, tag string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.integrityAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrIntegrity) {
			return err
		}
		if attempt == p.integrityAttempts {
			break
		}
		logger.Warn("destination reported an integrity conflict, retrying",
			"tag", tag,
			"attempt", attempt,
			"delay", p.integrityDelay.String(),
		)
		if sleepErr := p.sleep(ctx, p.integrityDelay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("push tag %q: integrity conflict persisted after %d attempts: %w", tag, p.integrityAttempts, err)
}

func (p *Plugin) capNames(names []string) []string {
	if p.tagNameCap > 0 && len(names) > p.tagNameCap {
		logger.Warn("trimming tag name list to the destination cap",
			"kept", p.tagNameCap,
			"dropped", len(names)-p.tagNameCap,
		)
		return names[:p.tagNameCap]
	}
	return names
}

func (p *Plugin) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// frontLoad moves name to the start of the list, inserting it when absent.
func frontLoad(names []string, name string) []string {
	out := []string{name}
	for _, candidate := range names {
		if candidate != name {
			out = append(out, candidate)
		}
	}
	return out
}

// implicationNames flattens every alias of every implied tag into one
// deduplicated list, the shape the server's write endpoints expect.
func implicationNames(tag *resources.Tag) []string {
	var names []string
	seen := map[string]bool{}
	for _, implied := range tag.Implications {
		for _, name := range implied.Names {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func wireCategory(category resources.TagCategory) string {
	if category == "" {
		return string(resources.TagCategoryGeneral)
	}
	return string(category)
}
