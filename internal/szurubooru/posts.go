package szurubooru

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"boorusync/internal/logger"
	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// FindExactPost looks a post up by content hash. The source-URL fallback
// runs when enabled, and always for posts that carry no MD5 at all.
func (p *Plugin) FindExactPost(ctx context.Context, post *resources.Post) (*resources.Post, error) {
	client, err := p.api()
	if err != nil {
		return nil, err
	}

	if post.MD5 != "" {
		page, err := client.searchPosts(ctx, "md5:"+post.MD5, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("md5 lookup: %w", err)
		}
		if len(page.Results) > 0 {
			return p.postToResource(page.Results[0]), nil
		}
		if !p.forceSourceCheck {
			return nil, nil
		}
	}

	for _, source := range plugins.SourcesOfType(p.validators, post.SourceList(), plugins.SourceTypePost) {
		page, err := client.searchPosts(ctx, "source:"+source, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("source lookup: %w", err)
		}
		if len(page.Results) > 0 {
			logger.Debug("matched destination post by source", "source", source, "post", page.Results[0].ID)
			return p.postToResource(page.Results[0]), nil
		}
	}

	return nil, nil
}

// FindSimilarPosts uploads the post's media once, runs a reverse-image
// search, and returns the hits below the distance threshold, closest
// first. An exact server-side match comes back as a single zero-distance
// hit.
func (p *Plugin) FindSimilarPosts(ctx context.Context, post *resources.Post) ([]plugins.SimilarPost, error) {
	client, err := p.api()
	if err != nil {
		return nil, err
	}

	token, err := p.contentToken(ctx, post)
	if err != nil {
		return nil, err
	}

	result, err := client.reverseSearch(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("reverse search: %w", err)
	}

	if result.ExactPost != nil {
		exact := p.postToResource(result.ExactPost)
		exact.ExtraFor(PluginName)["distance"] = float64(0)
		return []plugins.SimilarPost{{Post: exact, Distance: 0}}, nil
	}

	var hits []plugins.SimilarPost
	for _, hit := range result.SimilarPosts {
		if hit.Post == nil || hit.Distance >= p.threshold {
			continue
		}
		similar := p.postToResource(hit.Post)
		similar.ExtraFor(PluginName)["distance"] = hit.Distance
		hits = append(hits, plugins.SimilarPost{Post: similar, Distance: hit.Distance})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits, nil
}

// PushPost reconciles one post into the destination. With media in hand
// it creates the post or folds it into the nearest visual duplicate;
// without media it updates the existing copy found by hash or source.
// forceUpdate pushes metadata even when the diff is empty.
func (p *Plugin) PushPost(ctx context.Context, post *resources.Post, forceUpdate bool) (*resources.Post, error) {
	if _, err := p.api(); err != nil {
		return nil, err
	}

	if post.LocalFile != "" {
		return p.pushWithMedia(ctx, post)
	}
	return p.pushMetadata(ctx, post, forceUpdate)
}

func (p *Plugin) pushWithMedia(ctx context.Context, post *resources.Post) (*resources.Post, error) {
	token, err := p.contentToken(ctx, post)
	if err != nil {
		if errors.Is(err, ErrMissingFile) {
			logger.Warn("aborting push, media file is missing",
				"post", post.ID,
				"origin", post.Origin,
				"path", post.LocalFile,
			)
		}
		return nil, err
	}

	similar, err := p.FindSimilarPosts(ctx, post)
	if err != nil {
		return nil, err
	}

	if len(similar) == 0 {
		return p.createFrom(ctx, post, token)
	}

	logger.Info("similar posts already exist, updating the closest",
		"post", post.ID,
		"origin", post.Origin,
		"count", len(similar),
		"closest", similar[0].Distance,
		"farthest", similar[len(similar)-1].Distance,
	)
	return p.updateInto(ctx, similar[0].Post, post, token)
}

func (p *Plugin) pushMetadata(ctx context.Context, post *resources.Post, forceUpdate bool) (*resources.Post, error) {
	existing, err := p.FindExactPost(ctx, post)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("post %d from %s has no media file and no destination copy to update", post.ID, post.Origin)
	}

	changes := post.Diff(existing, "id", "category", "created_at", "updated_at", "post_url", "description", "pools")
	if len(changes) == 0 && !forceUpdate {
		logger.Debug("destination already covers post", "post", existing.ID, "origin", post.Origin)
		return existing, nil
	}

	return p.updateInto(ctx, existing, post, "")
}

// contentToken returns the destination's token for the post's media,
// uploading the file once and parking the token in the post's scratch so
// a later push never re-uploads.
func (p *Plugin) contentToken(ctx context.Context, post *resources.Post) (string, error) {
	scratch := post.ExtraFor(PluginName)
	if token, ok := scratch["content_token"].(string); ok && token != "" {
		return token, nil
	}

	if post.LocalFile == "" {
		return "", ErrMissingFile
	}

	token, err := p.client.uploadTemporaryFile(ctx, post.LocalFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMissingFile, post.LocalFile)
		}
		return "", fmt.Errorf("upload %s: %w", post.LocalFile, err)
	}

	scratch["content_token"] = token
	return token, nil
}

func (p *Plugin) createFrom(ctx context.Context, post *resources.Post, token string) (*resources.Post, error) {
	body := postWrite{
		Tags:         flattenTagNames(post.Tags),
		Safety:       wireSafety(post.Safety),
		Source:       strings.Join(post.SourceList(), "\n"),
		ContentToken: token,
	}

	if thumbnail := p.thumbnailFor(post.LocalFile); thumbnail != "" {
		thumbToken, err := p.client.uploadTemporaryFile(ctx, thumbnail)
		if err != nil {
			logger.Warn("failed to upload default thumbnail", "path", thumbnail, "error", err.Error())
		} else {
			body.ThumbnailToken = thumbToken
		}
	}

	created, err := p.client.createPost(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	logger.Info("created destination post",
		"post", created.ID,
		"origin", post.Origin,
		"source", post.PostURL,
	)
	return p.postToResource(created), nil
}

// updateInto folds the source post into the destination copy and PUTs
// the merged state under the destination's version token.
func (p *Plugin) updateInto(ctx context.Context, existing, post *resources.Post, token string) (*resources.Post, error) {
	merged := existing.Clone()
	merged.Merge(post, resources.MergeOptions{MergeWherePossible: true})

	body := postWrite{
		Version:      versionOf(existing),
		Tags:         flattenTagNames(merged.Tags),
		Safety:       wireSafety(merged.Safety),
		Source:       strings.Join(merged.SourceList(), "\n"),
		ContentToken: token,
	}

	updated, err := p.client.updatePost(ctx, existing.ID, body)
	if err != nil {
		return nil, fmt.Errorf("update post %d: %w", existing.ID, err)
	}

	logger.Info("updated destination post",
		"post", updated.ID,
		"origin", post.Origin,
		"source", post.PostURL,
	)
	return p.postToResource(updated), nil
}

// versionOf reads the destination version token parked in the post's
// scratch. Posts that never came from the destination report zero, which
// the server rejects, surfacing the programming error loudly.
func versionOf(post *resources.Post) int {
	switch value := post.ExtraFor(PluginName)["version"].(type) {
	case int:
		return value
	case float64:
		return int(value)
	}
	return 0
}

// flattenTagNames collects every alias of every tag, deduplicated in
// first-seen order. The server resolves any alias to its tag, so sending
// all of them is harmless and keeps renames sticky.
func flattenTagNames(tags []*resources.Tag) []string {
	names := []string{}
	seen := map[string]bool{}
	for _, tag := range tags {
		for _, name := range tag.Names {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func wireSafety(safety resources.Safety) string {
	if safety == "" {
		return string(resources.SafetySafe)
	}
	return string(safety)
}
