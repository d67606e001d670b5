package transformer

import (
	"fmt"
	"regexp"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// ConvertRule rewrites URLs matching Pattern with Replacement (${1} style).
type ConvertRule struct {
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// URLConverter applies convert rules in order.
type URLConverter struct {
	rules []compiledRule
}

// NewURLConverter compiles rules. An invalid pattern is a configuration error.
func NewURLConverter(rules []ConvertRule) (*URLConverter, error) {
	c := &URLConverter{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: url convert rule %q: %w", crawler.ErrConfiguration, r.Pattern, err)
		}
		c.rules = append(c.rules, compiledRule{re: re, replacement: r.Replacement})
	}
	return c, nil
}

// Convert returns url after every rule has been applied.
func (c *URLConverter) Convert(url string) string {
	if c == nil {
		return url
	}
	for _, r := range c.rules {
		url = r.re.ReplaceAllString(url, r.replacement)
	}
	return url
}
