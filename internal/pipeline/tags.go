package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"boorusync/internal/logger"
	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// DedupeTags collapses tags that share a name into one tag carrying the
// union of their names and implications. Later tags fold into the first
// tag holding any of their names.
func DedupeTags(tags []*resources.Tag) []*resources.Tag {
	byName := map[string]*resources.Tag{}
	var unique []*resources.Tag
	for _, tag := range tags {
		var existing *resources.Tag
		for _, name := range tag.Names {
			if found, ok := byName[name]; ok {
				existing = found
				break
			}
		}
		if existing == nil {
			unique = append(unique, tag)
			for _, name := range tag.Names {
				byName[name] = tag
			}
			continue
		}
		foldTag(existing, tag)
		for _, name := range existing.Names {
			byName[name] = existing
		}
	}
	return unique
}

func foldTag(tag, other *resources.Tag) {
	for _, name := range other.Names {
		if !tag.HasName(name) {
			tag.Names = append(tag.Names, name)
		}
	}
	for _, implication := range other.Implications {
		if !resources.ContainsTag(tag.Implications, implication) {
			tag.Implications = append(tag.Implications, implication)
		}
	}
}

// PushTagCorpus upserts a whole tag corpus in concurrent waves after a
// name-level dedupe, and reports how many tags it pushed. Unlike the
// per-page pushes, general-category tags are included: a bulk import
// exists to carry alias and implication data for every tag the site
// knows, and the tags are created even while no post uses them yet.
func PushTagCorpus(ctx context.Context, dest plugins.DestinationPlugin, tags []*resources.Tag) (int, error) {
	unique := DedupeTags(tags)
	total := len(unique)
	logger.Info("pushing tag corpus", "total", total, "merged_away", len(tags)-total)

	for start := 0; start < total; start += tagWaveSize {
		end := min(start+tagWaveSize, total)
		logger.Info("pushing tag wave",
			"from", start+1,
			"to", end,
			"total", total,
			"percent", end*100/total,
		)
		group, groupCtx := errgroup.WithContext(ctx)
		for _, tag := range unique[start:end] {
			group.Go(func() error {
				if _, err := dest.PushTag(groupCtx, tag, false, true); err != nil {
					return fmt.Errorf("tag %s: %w", tag.Name(), err)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return start, err
		}
	}
	return total, nil
}
