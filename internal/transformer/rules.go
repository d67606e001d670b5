package transformer

import (
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
)

// ChildURLRule selects elements with a CSS selector and reads one attribute.
type ChildURLRule struct {
	Selector string `mapstructure:"selector"`
	Attr     string `mapstructure:"attr"`
}

// DefaultChildURLRules cover the elements that usually reference other resources.
var DefaultChildURLRules = []ChildURLRule{
	{Selector: "a", Attr: "href"},
	{Selector: "area", Attr: "href"},
	{Selector: "frame", Attr: "src"},
	{Selector: "iframe", Attr: "src"},
	{Selector: "img", Attr: "src"},
	{Selector: "link", Attr: "href"},
	{Selector: "script", Attr: "src"},
}

type compiledChildRule struct {
	ChildURLRule
	sel cascadia.Selector
}

// compileRules drops blank or unparsable rules with a warning.
func compileRules(rules []ChildURLRule, logger *zap.Logger) []compiledChildRule {
	out := make([]compiledChildRule, 0, len(rules))
	for _, r := range rules {
		if r.Selector == "" || r.Attr == "" {
			continue
		}
		sel, err := cascadia.Compile(r.Selector)
		if err != nil {
			logger.Warn("invalid child url rule dropped",
				zap.String("selector", r.Selector),
				zap.String("attr", r.Attr),
				zap.Error(err),
			)
			continue
		}
		out = append(out, compiledChildRule{ChildURLRule: r, sel: sel})
	}
	return out
}
