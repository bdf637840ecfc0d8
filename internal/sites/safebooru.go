package sites

import (
	"regexp"

	"boorusync/internal/plugins"
	"boorusync/internal/resources"
)

// Safebooru covers safebooru.org. The site hosts safe content only, so
// unmapped ratings stay safe.
type Safebooru struct {
	urlValidator
}

func NewSafebooru() *Safebooru {
	return &Safebooru{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/index\.php.+|^https://[a-zA-Z0-9.-]+/+samples/.+|^https://[a-zA-Z0-9.-]+/+images/.+`),
			global: globalPattern,
		},
	}
}

func (p *Safebooru) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "safebooru",
		Domains:    []string{"safebooru.org"},
		Categories: []string{"safebooru"},
	}
}

func (p *Safebooru) SearchURL() string {
	return "https://safebooru.org/index.php?page=post&s=list&tags=all"
}

func (p *Safebooru) ParsePost(meta *resources.Metadata) (*resources.Post, error) {
	return gelbooruParsePost(meta, p.Attributes().Name, "https://safebooru.org", resources.SafetySafe)
}
