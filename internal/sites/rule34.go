package sites

import (
	"regexp"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// Rule34 covers rule34.xxx, a Gelbooru derivative whose URLs the
// downloader cannot recognize on its own.
type Rule34 struct {
	urlValidator
}

func NewRule34() *Rule34 {
	return &Rule34{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/index\.php.+post.+|^https://[a-zA-Z0-9.-]+/+images/.+`),
			global: globalPattern,
		},
	}
}

func (p *Rule34) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "rule34",
		Domains:    []string{"rule34.xxx"},
		Categories: []string{"rule34"},
	}
}

// ExtractorPrefix pins the downloader to the gelbooru_v02 extractor,
// which rule34.xxx is not auto-detected as.
func (p *Rule34) ExtractorPrefix() string {
	return "gelbooru_v02"
}

func (p *Rule34) SearchURL() string {
	return "https://rule34.xxx/index.php?page=dapi&s=post&q=index"
}

func (p *Rule34) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	return gelbooruParsePost(meta, p.Attributes().Name, "https://rule34.xxx", resources.SafetySketchy)
}
