package sites

import (
	"regexp"

	"boorusync/internal/plugins"
)

// Twitter classifies twitter.com and x.com URLs so tweet links inside
// a post's source list count as post sources. Tweets carry no booru
// metadata, so no sidecar parser is declared.
type Twitter struct {
	urlValidator
}

func NewTwitter() *Twitter {
	return &Twitter{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/.+/status/\d+|^https://[a-zA-Z0-9.-]+/media/.+`),
			author: regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/[^/]+/?$`),
			global: globalPattern,
		},
	}
}

func (p *Twitter) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "twitter",
		Domains:    []string{"twitter.com", "x.com"},
		Categories: []string{"twitter"},
	}
}
