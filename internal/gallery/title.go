package gallery

import (
	"regexp"
	"strings"
)

// Known scanlation languages recognized in trailing parentheticals.
var languages = map[string]string{
	"english":  "English",
	"japanese": "Japanese",
	"chinese":  "Chinese",
	"korean":   "Korean",
}

var (
	leadingParens = regexp.MustCompile(`^\([^)]*\)\s*`)
	artistBracket = regexp.MustCompile(`\[([^\]]+)\]`)
	trailingParen = regexp.MustCompile(`\(([^)]*)\)\s*$`)
)

// ParsedName is the metadata recoverable from a release-style folder or
// archive name like "(C88) [Artist Name] Some Title (English)".
type ParsedName struct {
	Title    string
	Artist   string
	Language string
}

// ParseName extracts title, artist and language from a gallery source name.
// The input should already be stripped of any archive extension. Names that
// follow no convention come back with the whole string as the title.
func ParseName(name string) ParsedName {
	name = strings.TrimSpace(name)
	name = leadingParens.ReplaceAllString(name, "")

	var parsed ParsedName
	if m := artistBracket.FindStringSubmatch(name); m != nil {
		parsed.Artist = strings.TrimSpace(m[1])
		name = strings.Replace(name, m[0], "", 1)
	}

	for {
		m := trailingParen.FindStringSubmatch(name)
		if m == nil {
			break
		}
		if lang, ok := languages[strings.ToLower(strings.TrimSpace(m[1]))]; ok {
			parsed.Language = lang
		}
		name = strings.TrimSpace(name[:len(name)-len(m[0])])
	}

	parsed.Title = strings.TrimSpace(name)
	if parsed.Title == "" {
		parsed.Title = parsed.Artist
	}
	return parsed
}
