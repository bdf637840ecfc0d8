// Package szurubooru is the canonical destination adapter. It reconciles
// normalized posts and tags into a szurubooru server: existence by content
// hash, near-duplicates by reverse-image search, and tag writes through a
// conflict-resolving merge dance.
package szurubooru

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
	"boorusync/internal/session"
)

// PluginName is the adapter's registry name and its key into every
// post's scratch space.
const PluginName = "szurubooru"

const (
	defaultDistanceThreshold = 0.15
	defaultRatePerMinute     = 100

	// The server degrades above roughly 190 names on one tag, so writes
	// trim to this empirical cap.
	defaultTagNameCap = 189
)

// defaultThumbnails maps media extensions the destination cannot render
// natively to bundled placeholder images under <root_dir>/thumbnails.
var defaultThumbnails = map[string]string{
	".swf": "flash.png",
}

// Plugin implements the destination contract plus sidecar parsing, so a
// szurubooru instance can be synced from as well as into.
type Plugin struct {
	sess   *session.Session
	client *Client

	urlBase          string
	username         string
	password         string
	threshold        float64
	ratePerMinute    int
	forceSourceCheck bool
	createEmptyTags  bool
	tagNameCap       int
	rootDir          string

	validators []plugins.ValidationPlugin

	// Pauses the tag dance takes when the server needs to settle.
	// Tunable because the right values are empirical.
	relocateDelay     time.Duration
	shrinkDelay       time.Duration
	integrityDelay    time.Duration
	integrityAttempts int
}

func New() *Plugin {
	return &Plugin{
		threshold:         defaultDistanceThreshold,
		ratePerMinute:     defaultRatePerMinute,
		tagNameCap:        defaultTagNameCap,
		relocateDelay:     5 * time.Second,
		shrinkDelay:       2 * time.Second,
		integrityDelay:    30 * time.Second,
		integrityAttempts: 6,
	}
}

// Attributes carries the instance's domain only once a url_base is
// configured; before that the adapter matches by name and category.
func (p *Plugin) Attributes() plugins.Attributes {
	attrs := plugins.Attributes{
		Name:       PluginName,
		Categories: []string{PluginName},
	}
	if host := hostOf(p.urlBase); host != "" {
		attrs.Domains = []string{host}
	}
	return attrs
}

// Bind stores the shared session. The client is rebuilt here and again
// after Configure, whichever runs last wins.
func (p *Plugin) Bind(s *session.Session) {
	p.sess = s
	p.rebuild()
}

// BindValidators hands the adapter every registered URL validator, used
// to pick which of a post's sources are worth a source-URL lookup.
func (p *Plugin) BindValidators(validators []plugins.ValidationPlugin) {
	p.validators = validators
}

func (p *Plugin) Configure(block map[string]any) error {
	if value, ok := stringOption(block, "url_base"); ok {
		p.urlBase = strings.TrimRight(value, "/")
	}
	if value, ok := stringOption(block, "username"); ok {
		p.username = value
	}
	if value, ok := stringOption(block, "password"); ok {
		p.password = value
	}
	if value, ok := stringOption(block, "root_dir"); ok {
		p.rootDir = value
	}

	value, ok, err := floatOption(block, "image_distance_threshold")
	if err != nil {
		return err
	}
	if ok {
		if value <= 0 || value >= 1 {
			return fmt.Errorf("image_distance_threshold must be between 0 and 1, got %v", value)
		}
		p.threshold = value
	}

	rate, ok, err := intOption(block, "rate_limit_per_minute")
	if err != nil {
		return err
	}
	if ok {
		if rate <= 0 {
			return fmt.Errorf("rate_limit_per_minute must be positive, got %d", rate)
		}
		p.ratePerMinute = rate
	}

	nameCap, ok, err := intOption(block, "tag_name_cap")
	if err != nil {
		return err
	}
	if ok {
		if nameCap <= 0 {
			return fmt.Errorf("tag_name_cap must be positive, got %d", nameCap)
		}
		p.tagNameCap = nameCap
	}

	if value, ok := boolOption(block, "force_source_check"); ok {
		p.forceSourceCheck = value
	}
	if value, ok := boolOption(block, "create_empty_tags"); ok {
		p.createEmptyTags = value
	}

	p.rebuild()
	return nil
}

// rebuild constructs the API client once both the session and the URL
// base are known, and pins the destination host to its own rate bucket.
func (p *Plugin) rebuild() {
	if p.sess == nil || p.urlBase == "" {
		return
	}
	p.client = newClient(p.sess, p.urlBase, p.username, p.password)
	if host := hostOf(p.urlBase); host != "" {
		p.sess.SetRateForHost(host, p.ratePerMinute)
	}
}

func (p *Plugin) api() (*Client, error) {
	if p.client == nil {
		return nil, fmt.Errorf("szurubooru destination is not configured with a url_base")
	}
	return p.client, nil
}

// ParsePost reads a szurubooru sidecar back into a normalized post. Tags
// arrive either as full API objects or as bare name lists depending on
// the downloader version.
func (p *Plugin) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	id, ok := meta.Int("id")
	if !ok {
		return nil, fmt.Errorf("szurubooru sidecar is missing a post id")
	}

	post := resources.NewPost()
	post.ID = id
	post.Origin = PluginName
	post.Category = PluginName
	post.Metadata = meta

	safety, ok := meta.String("safety")
	if !ok {
		safety, _ = meta.String("rating")
	}
	post.Safety = resources.ParseSafety(safety)
	if post.Safety == "" {
		post.Safety = resources.SafetySafe
	}

	if sha1, ok := meta.String("checksum"); ok {
		post.SHA1 = sha1
	}
	if md5, ok := meta.String("checksumMD5"); ok {
		post.MD5 = md5
	}
	if score, ok := meta.Int("score"); ok {
		post.Score = score
	}
	if source, ok := meta.String("source"); ok {
		for _, line := range strings.Split(source, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				post.Sources.Append(line)
			}
		}
	}
	if created, ok := meta.String("creationTime"); ok {
		post.CreatedAt = parseServerTime(created)
	}
	if edited, ok := meta.String("lastEditTime"); ok {
		post.UpdatedAt = parseServerTime(edited)
	}

	post.Tags = sidecarTags(meta)
	post.Pools = sidecarPools(meta)
	post.PostURL = p.postURL(id)
	if version, ok := meta.Int("version"); ok {
		post.ExtraFor(PluginName)["version"] = version
	}

	return post, nil
}

func sidecarTags(meta *resources.Metadata) []*resources.Tag {
	raw, ok := meta.Slice("tags")
	if !ok {
		return nil
	}

	var tags []*resources.Tag
	for _, entry := range raw {
		switch value := entry.(type) {
		case string:
			if value != "" {
				tags = append(tags, resources.NewTag([]string{value}, resources.TagCategoryGeneral))
			}
		case map[string]any:
			names := stringsOf(value["names"])
			if len(names) == 0 {
				continue
			}
			category, _ := value["category"].(string)
			tags = append(tags, resources.NewTag(names, resources.TagCategory(category)))
		}
	}
	return tags
}

func sidecarPools(meta *resources.Metadata) []*resources.Pool {
	raw, ok := meta.Slice("pools")
	if !ok {
		return nil
	}

	var pools []*resources.Pool
	for _, entry := range raw {
		value, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		pool := &resources.Pool{Names: stringsOf(value["names"])}
		if id, ok := value["id"].(float64); ok {
			pool.ID = int(id)
		}
		if category, ok := value["category"].(string); ok {
			pool.Category = category
		}
		pools = append(pools, pool)
	}
	return pools
}

func stringsOf(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PushPool is not supported: the server exposes no safe pool upsert that
// preserves post order under concurrent writers.
func (p *Plugin) PushPool(ctx context.Context, pool *resources.Pool, forceUpdate bool) (*resources.Pool, error) {
	return nil, fmt.Errorf("push pool to %s: %w", PluginName, plugins.ErrNotSupported)
}

func (p *Plugin) postURL(id int) string {
	if p.urlBase == "" {
		return ""
	}
	return p.urlBase + "/post/" + strconv.Itoa(id)
}

// thumbnailFor returns the bundled placeholder for files the server
// cannot thumbnail itself, or an empty string when none applies.
func (p *Plugin) thumbnailFor(localFile string) string {
	if localFile == "" || p.rootDir == "" {
		return ""
	}
	name, ok := defaultThumbnails[strings.ToLower(filepath.Ext(localFile))]
	if !ok {
		return ""
	}
	path := filepath.Join(p.rootDir, "thumbnails", name)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func stringOption(block map[string]any, key string) (string, bool) {
	raw, ok := block[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	return value, ok && value != ""
}

func boolOption(block map[string]any, key string) (bool, bool) {
	raw, ok := block[key]
	if !ok {
		return false, false
	}
	value, ok := raw.(bool)
	return value, ok
}

func intOption(block map[string]any, key string) (int, bool, error) {
	raw, ok := block[key]
	if !ok {
		return 0, false, nil
	}
	switch value := raw.(type) {
	case int:
		return value, true, nil
	case int64:
		return int(value), true, nil
	case float64:
		return int(value), true, nil
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %w", key, err)
		}
		return parsed, true, nil
	}
	return 0, false, fmt.Errorf("option %s has unsupported type %T", key, raw)
}

func floatOption(block map[string]any, key string) (float64, bool, error) {
	raw, ok := block[key]
	if !ok {
		return 0, false, nil
	}
	switch value := raw.(type) {
	case float64:
		return value, true, nil
	case int:
		return float64(value), true, nil
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false, fmt.Errorf("option %s: %w", key, err)
		}
		return parsed, true, nil
	}
	return 0, false, fmt.Errorf("option %s has unsupported type %T", key, raw)
}
