package sites

import (
	"regexp"

	"boorusync/internal/plugins"
)

// Pixiv classifies pixiv.net artwork and pximg.net image URLs. Like
// Twitter it is source-list plumbing only.
type Pixiv struct {
	urlValidator
}

func NewPixiv() *Pixiv {
	return &Pixiv{
		urlValidator: urlValidator{
			post:   regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/.+/artworks/.+|^https://[a-zA-Z0-9.-]+/img-master/img/.+`),
			author: regexp.MustCompile(`^https://[a-zA-Z0-9.-]+/.+/users/.+`),
			global: globalPattern,
		},
	}
}

func (p *Pixiv) Attributes() plugins.Attributes {
	return plugins.Attributes{
		Name:       "pixiv",
		Domains:    []string{"pixiv.net", "pximg.net"},
		Categories: []string{"pixiv"},
	}
}
