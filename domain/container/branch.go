package container

import (
	"regexp"
	"strings"
)

// shortIDLen is the fixed length of the base16 workspace-id abbreviation
// used in generated branch names.
const shortIDLen = 8

var slugCollapse = regexp.MustCompile(`[^a-z0-9]+`)

// GitBranchFromWorkspace returns "<prefix>/<short(id)>-<slug(title)>" when
// prefix is non-empty, otherwise "<short(id)>-<slug(title)>", per
// spec.md §6.
func GitBranchFromWorkspace(prefix, id, title string) string {
	slug := GitBranchID(title)
	short := shortID(id)

	name := short
	if slug != "" {
		name = short + "-" + slug
	}

	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// GitBranchID normalizes title into a branch-safe slug: lowercase, ASCII,
// non-alphanumeric runs collapsed to a single hyphen, leading/trailing
// hyphens trimmed.
func GitBranchID(title string) string {
	lower := strings.ToLower(toASCII(title))
	slug := slugCollapse.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// toASCII drops every byte of 0x80 or above (ASCII control bytes are kept
// and left for the regex pass to collapse), which keeps
// GitBranchID's regex pass meaningful for non-ASCII titles instead of
// emitting a run of replacement hyphens for every multi-byte rune.
func toASCII(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x80 {
			b = append(b, c)
		}
	}
	return string(b)
}

// shortID abbreviates id (a uuid or other base16 identifier) to a fixed
// length by taking its leading hex characters, with dashes removed first.
func shortID(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) <= shortIDLen {
		return compact
	}
	return compact[:shortIDLen]
}
