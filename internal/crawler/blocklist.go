package crawler

import "strings"

// unfetchableSchemes lists link schemes that never resolve to crawlable content.
var unfetchableSchemes = []string{
	"javascript:",
	"mailto:",
	"irc:",
	"skype:",
	"about:",
	"fscommand:",
	"aim:",
	"msnim:",
	"news:",
	"tel:",
	"unsaved:",
	"callto:",
}

// IsFetchableLink reports whether a raw attribute value is worth resolving.
// Blank values and the schemes above (case-insensitive, leading whitespace
// ignored) are rejected.
func IsFetchableLink(raw string) bool {
	value := strings.ToLower(strings.TrimLeft(raw, " \t\r\n\f"))
	if value == "" {
		return false
	}
	for _, scheme := range unfetchableSchemes {
		if strings.HasPrefix(value, scheme) {
			return false
		}
	}
	return true
}
