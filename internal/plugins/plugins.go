// Package plugins defines the adapter contracts and the registry that
// matches site adapters to URLs, categories, and names.
package plugins

import (
	"context"
	"errors"

	"boorusync/internal/resources"
	"boorusync/internal/session"
)

// ErrNotSupported is returned by adapters for operations their site has
// no equivalent of.
var ErrNotSupported = errors.New("operation not supported by this plugin")

// Attributes are the discriminators every plugin declares for registry
// lookup.
type Attributes struct {
	Name       string   // Unique identifier, e.g. "e621"
	Domains    []string // Hostname fragments the plugin claims
	Categories []string // Site families, e.g. "gelbooru_v02"
}

// SourceType classifies what a source URL points at.
type SourceType int

const (
	SourceTypeUnknown SourceType = iota
	SourceTypePost
	SourceTypeAuthor
	SourceTypePool
	SourceTypeGlobal
)

func (t SourceType) String() string {
	switch t {
	case SourceTypePost:
		return "post"
	case SourceTypeAuthor:
		return "author"
	case SourceTypePool:
		return "pool"
	case SourceTypeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Plugin is anything the registry can hold.
type Plugin interface {
	Attributes() Attributes
}

// MetadataPlugin parses downloader sidecars into normalized posts.
// Fields a site cannot supply are left at their type defaults.
type MetadataPlugin interface {
	Plugin
	ParsePost(meta *resources.Metadata) (*resources.Post, error)
}

// APIPlugin talks to its site over the shared HTTP session. The
// registry binds the session during initialization.
type APIPlugin interface {
	Plugin
	Bind(s *session.Session)
}

// ValidationPlugin classifies raw source URLs against the plugin's
// canonical URL shapes.
type ValidationPlugin interface {
	Plugin
	Classify(rawURL string) SourceType
}

// Configurable plugins receive their per-plugin configuration block
// during initialization.
type Configurable interface {
	Configure(block map[string]any) error
}

// SimilarPost is a reverse-image search hit with its perceptual
// distance from the query file.
type SimilarPost struct {
	Post     *resources.Post
	Distance float64
}

// DestinationPlugin pushes normalized resources into a destination
// booru. All operations may fail transiently.
type DestinationPlugin interface {
	Plugin
	FindExactPost(ctx context.Context, post *resources.Post) (*resources.Post, error)
	FindSimilarPosts(ctx context.Context, post *resources.Post) ([]SimilarPost, error)
	PushPost(ctx context.Context, post *resources.Post, forceUpdate bool) (*resources.Post, error)
	PushTag(ctx context.Context, tag *resources.Tag, replace, createEmpty bool) (*resources.Tag, error)
	PushPool(ctx context.Context, pool *resources.Pool, forceUpdate bool) (*resources.Pool, error)
}

// ExtractorOverride lets a plugin steer the external downloader to a
// specific extractor when URL recognition alone is ambiguous.
type ExtractorOverride interface {
	ExtractorPrefix() string
}

// Searchable plugins expose the site's post search page so a bare site
// name can be turned into a crawlable URL.
type Searchable interface {
	SearchURL() string
}

// TagExporter plugins can enumerate the site's full tag corpus,
// typically from a bulk database export.
type TagExporter interface {
	AllTags(ctx context.Context, aliasesAsImplications bool) ([]*resources.Tag, error)
}

// ValidatorAware plugins receive every registered validator during
// initialization, so they can classify source URLs themselves.
type ValidatorAware interface {
	BindValidators(validators []ValidationPlugin)
}

// Bundle carries the adapters involved in processing one item.
type Bundle struct {
	Source      MetadataPlugin
	Destination DestinationPlugin
	Validators  []ValidationPlugin
}

// ClassifySource returns the first non-unknown classification any
// validator produces for the URL.
func ClassifySource(validators []ValidationPlugin, rawURL string) SourceType {
	for _, v := range validators {
		if t := v.Classify(rawURL); t != SourceTypeUnknown {
			return t
		}
	}
	return SourceTypeUnknown
}

// SourcesOfType filters a post's source URLs to those classified as the
// wanted type, preserving order.
func SourcesOfType(validators []ValidationPlugin, sources []string, want SourceType) []string {
	var matched []string
	for _, source := range sources {
		if ClassifySource(validators, source) == want {
			matched = append(matched, source)
		}
	}
	return matched
}
