// Package pipeline orchestrates a sync run: crawl each source URL page
// by page, normalize sidecars into posts, filter, reconcile with the
// destination, fetch wanted media, and upsert posts and their tags.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"boorusync/internal/config"
	"boorusync/internal/download"
	"boorusync/internal/logger"
	"boorusync/internal/plugins"
	"boorusync/internal/resources"
	"boorusync/internal/store"
)

// tagWaveSize caps how many tag pushes run in one concurrent wave.
const tagWaveSize = 500

// Options holds the pipeline's collaborators, built by the caller from
// configuration.
type Options struct {
	Registry    *plugins.Registry
	Destination plugins.DestinationPlugin
	Downloads   *download.Manager
	History     *store.Store // Optional; nil disables run history
	Sync        config.Sync
}

// Pipeline coordinates one sync run end to end.
type Pipeline struct {
	registry  *plugins.Registry
	dest      plugins.DestinationPlugin
	downloads *download.Manager
	history   *store.Store
	filter    *PostFilter

	runID  string
	mu     sync.Mutex
	counts store.Counts
}

// New creates a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	return &Pipeline{
		registry:  opts.Registry,
		dest:      opts.Destination,
		downloads: opts.Downloads,
		history:   opts.History,
		filter:    NewPostFilter(opts.Sync),
	}
}

// Run syncs every URL in order. A failing URL is logged and the next
// one proceeds; cancellation stops the whole run. Scratch folders are
// removed before returning, whatever happened.
func (p *Pipeline) Run(ctx context.Context, urls []string) error {
	defer p.downloads.CleanupFolders()

	p.mu.Lock()
	p.counts = store.Counts{}
	p.mu.Unlock()

	if p.history != nil {
		run, err := p.history.BeginRun(urls)
		if err != nil {
			return fmt.Errorf("starting run history: %w", err)
		}
		p.runID = run.ID
		defer func() {
			if err := p.history.FinishRun(run.ID, p.snapshot()); err != nil {
				logger.Warn("failed to finish run history", "error", err)
			}
		}()
	}

	for _, target := range urls {
		if err := p.syncURL(ctx, target); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("url import failed", err, "url", target)
		}
	}

	counts := p.snapshot()
	logger.Info("sync finished",
		"created", counts.Created,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
		"failed", counts.Failed,
	)
	return nil
}

// Counts returns the decisions tallied so far.
func (p *Pipeline) Counts() store.Counts {
	return p.snapshot()
}

func (p *Pipeline) snapshot() store.Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// RefreshMetadata re-crawls each URL and force-pushes every post it
// parses, media included, skipping the filter and existence stages. It
// is the recovery path for destination posts whose metadata drifted.
func (p *Pipeline) RefreshMetadata(ctx context.Context, urls []string) error {
	defer p.downloads.CleanupFolders()

	for _, target := range urls {
		if err := p.crawl(ctx, "refreshing metadata", target, p.refreshPage); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("metadata refresh failed", err, "url", target)
		}
	}
	return nil
}

// syncURL crawls one URL page by page through the full import sequence.
// The tag ledger spans the URL's pages.
func (p *Pipeline) syncURL(ctx context.Context, target string) error {
	ledger := &tagLedger{}
	return p.crawl(ctx, "importing", target, func(ctx context.Context, job *download.Job, bundle plugins.Bundle) error {
		return p.processPage(ctx, job, bundle, ledger)
	})
}

// crawl walks one URL page by page and hands every job to process.
// Page-level failures are logged and the crawl moves on; only
// cancellation or a failing crawl cursor abort the URL.
func (p *Pipeline) crawl(ctx context.Context, verb, target string, process func(context.Context, *download.Job, plugins.Bundle) error) error {
	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parsing url %s: %w", target, err)
	}
	host := parsed.Hostname()

	source, err := p.registry.FindSource(plugins.Query{Domain: host})
	if err != nil {
		return fmt.Errorf("selecting source adapter for %s: %w", host, err)
	}
	bundle := plugins.Bundle{
		Source:      source,
		Destination: p.dest,
		Validators:  p.registry.Validators(),
	}

	extractor := ""
	if override, ok := source.(plugins.ExtractorOverride); ok {
		extractor = override.ExtractorPrefix()
	}

	logger.Info(verb, "url", target, "adapter", source.Attributes().Name)
	run := p.downloads.Start(target, extractor)
	for {
		job, err := run.NextPage(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		if err := process(ctx, job, bundle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("page processing failed", err, "url", target, "folder", job.Folder)
		}
	}
}

// processPage takes one discovery job through the full sequence:
// normalize, filter, existence check, merge or mark, media fetch, tag
// push, post upsert. The scratch folder is removed when done.
func (p *Pipeline) processPage(ctx context.Context, job *download.Job, bundle plugins.Bundle, ledger *tagLedger) error {
	defer job.Cleanup()

	p.normalize(job, bundle)
	newTags := p.applyFilter(job, ledger)

	survivors := surviving(job)
	if len(survivors) == 0 {
		logger.Debug("no posts to process on this page", "folder", job.Folder)
		return nil
	}

	matches, err := p.findExisting(ctx, survivors)
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}
	for _, item := range survivors {
		if match := matches[item]; match != nil {
			merged := match.Clone()
			merged.Merge(item.Resource, resources.MergeOptions{MergeWherePossible: true})
			// Merge never transfers origin; the decision trail should
			// name the site the post was discovered on.
			merged.Origin = item.Resource.Origin
			item.Resource = merged
		} else {
			item.MediaDownloadDesired = true
		}
	}

	if err := job.DownloadMedia(ctx); err != nil {
		return fmt.Errorf("fetching media: %w", err)
	}
	p.finalize(survivors)

	if err := p.pushTags(ctx, newTags); err != nil {
		return fmt.Errorf("pushing tags: %w", err)
	}
	ledger.commit(newTags)
	return p.pushPosts(ctx, surviving(job), matches)
}

// refreshPage force-pushes every parsed post on the page. All media is
// fetched so the destination can reconcile uploads against its own
// copies by content.
func (p *Pipeline) refreshPage(ctx context.Context, job *download.Job, bundle plugins.Bundle) error {
	defer job.Cleanup()

	p.normalize(job, bundle)
	survivors := surviving(job)
	if len(survivors) == 0 {
		logger.Debug("no posts to refresh on this page", "folder", job.Folder)
		return nil
	}
	for _, item := range survivors {
		item.MediaDownloadDesired = true
	}
	if err := job.DownloadMedia(ctx); err != nil {
		return fmt.Errorf("fetching media: %w", err)
	}
	p.finalize(survivors)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, item := range surviving(job) {
		post := item.Resource
		group.Go(func() error {
			if _, err := p.dest.PushPost(groupCtx, post, true); err != nil {
				return fmt.Errorf("post %d: %w", post.ID, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// normalize parses every sidecar into a post. Items whose sidecar
// cannot be read or parsed are ignored from here on.
func (p *Pipeline) normalize(job *download.Job, bundle plugins.Bundle) {
	for _, item := range job.Items {
		meta, err := resources.LoadMetadata(item.MetadataPath)
		if err != nil {
			logger.Error("failed to load sidecar", err, "sidecar", item.MetadataPath)
			item.Ignore = true
			continue
		}
		post, err := bundle.Source.ParsePost(meta)
		if err != nil {
			logger.Error("failed to parse sidecar", err, "sidecar", item.MetadataPath)
			item.Ignore = true
			continue
		}
		item.Resource = post
	}
}

// applyFilter marks disallowed posts as ignored and returns the tags
// this page contributed that the per-URL ledger has not seen yet. The
// ledger itself is only advanced once those tags were pushed.
func (p *Pipeline) applyFilter(job *download.Job, ledger *tagLedger) []*resources.Tag {
	page := &tagLedger{}
	for _, item := range job.Items {
		if item.Ignore || item.Resource == nil {
			continue
		}
		post := item.Resource
		allowed, reason := p.filter.Allow(post)
		if !allowed {
			item.Ignore = true
			p.record(post, store.ActionSkip, reason)
			continue
		}
		for _, tag := range post.Tags {
			if ledger.contains(tag) || page.contains(tag) {
				continue
			}
			page.tags = append(page.tags, tag)
		}
	}
	return page.tags
}

// findExisting fans out the destination existence lookups, one per
// surviving item, and returns the matches keyed by item.
func (p *Pipeline) findExisting(ctx context.Context, survivors []*download.Item) (map[*download.Item]*resources.Post, error) {
	results := make([]*resources.Post, len(survivors))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, item := range survivors {
		i, item := i, item
		group.Go(func() error {
			match, err := p.dest.FindExactPost(groupCtx, item.Resource)
			if err != nil {
				return fmt.Errorf("post %d: %w", item.Resource.ID, err)
			}
			results[i] = match
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	matches := make(map[*download.Item]*resources.Post, len(survivors))
	for i, item := range survivors {
		matches[item] = results[i]
	}
	return matches, nil
}

// finalize recomputes hashes from downloaded files and folds the post
// URL into the source list. Items whose media cannot be hashed are
// marked failed and ignored.
func (p *Pipeline) finalize(survivors []*download.Item) {
	for _, item := range survivors {
		if item.Ignore {
			continue
		}
		post := item.Resource
		if err := post.RefreshHashes(); err != nil {
			p.record(post, store.ActionError, fmt.Sprintf("hashing media: %v", err))
			item.Ignore = true
			continue
		}
		post.EnsurePostURL()
	}
}

// pushTags upserts the page's new tags in concurrent waves.
func (p *Pipeline) pushTags(ctx context.Context, tags []*resources.Tag) error {
	pushable := categorized(tags)
	if len(pushable) == 0 {
		return nil
	}
	logger.Info("pushing tags", "count", len(pushable))

	for start := 0; start < len(pushable); start += tagWaveSize {
		end := min(start+tagWaveSize, len(pushable))
		group, groupCtx := errgroup.WithContext(ctx)
		for _, tag := range pushable[start:end] {
			tag := tag
			group.Go(func() error {
				if _, err := p.dest.PushTag(groupCtx, tag, false, false); err != nil {
					return fmt.Errorf("tag %s: %w", tag.Name(), err)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// pushPosts fans out the destination upserts and records a decision per
// item. A failed push cancels the page's remaining pushes.
func (p *Pipeline) pushPosts(ctx context.Context, items []*download.Item, matches map[*download.Item]*resources.Post) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, item := range items {
		matched := matches[item] != nil
		post := item.Resource
		group.Go(func() error {
			if _, err := p.dest.PushPost(groupCtx, post, false); err != nil {
				// A push aborted by a sibling's failure was never decided.
				if !errors.Is(err, context.Canceled) {
					p.record(post, store.ActionError, err.Error())
				}
				return fmt.Errorf("post %d: %w", post.ID, err)
			}
			if matched {
				p.record(post, store.ActionUpdate, "merged into existing destination post")
			} else {
				p.record(post, store.ActionCreate, "no destination match")
			}
			return nil
		})
	}
	return group.Wait()
}

// surviving returns the items that are still in play: parsed and not
// ignored.
func surviving(job *download.Job) []*download.Item {
	var items []*download.Item
	for _, item := range job.Items {
		if !item.Ignore && item.Resource != nil {
			items = append(items, item)
		}
	}
	return items
}

// record logs one decision and tallies it, mirroring it into the run
// history when one is being kept.
func (p *Pipeline) record(post *resources.Post, action, reason string) {
	logger.Info("post decision",
		"action", action,
		"post", post.ID,
		"origin", post.Origin,
		"reason", reason,
	)

	p.mu.Lock()
	switch action {
	case store.ActionCreate:
		p.counts.Created++
	case store.ActionUpdate:
		p.counts.Updated++
	case store.ActionSkip:
		p.counts.Skipped++
	case store.ActionError:
		p.counts.Failed++
	}
	p.mu.Unlock()

	if p.history == nil || p.runID == "" {
		return
	}
	decision := store.Decision{
		PostID: strconv.Itoa(post.ID),
		Origin: post.Origin,
		Action: action,
		Reason: reason,
	}
	if err := p.history.RecordDecision(p.runID, decision); err != nil {
		logger.Warn("failed to record decision", "error", err, "post", post.ID)
	}
}

// tagLedger tracks the unique tags already handled for one URL, so a
// tag appearing on every page is pushed once. Equality is alias
// intersection, matching how the destination reconciles tags.
type tagLedger struct {
	tags []*resources.Tag
}

func (l *tagLedger) commit(tags []*resources.Tag) {
	l.tags = append(l.tags, tags...)
}

func (l *tagLedger) contains(tag *resources.Tag) bool {
	for _, known := range l.tags {
		if known.Equal(tag) {
			return true
		}
	}
	return false
}

// categorized filters out general-category tags: the destination
// creates those implicitly when posts reference them, so only tags
// carrying real category information are worth a push of their own.
func categorized(tags []*resources.Tag) []*resources.Tag {
	var out []*resources.Tag
	for _, tag := range tags {
		if tag.Category != "" && tag.Category != resources.TagCategoryGeneral {
			out = append(out, tag)
		}
	}
	return out
}
