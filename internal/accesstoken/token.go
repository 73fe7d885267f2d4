// Package accesstoken recognizes access tokens embedded in free-form message text.
//
// A token is a two-letter role prefix, the EDU namespace, and a suffix of at
// least six letters, digits, or hyphens, joined by '-' or '_':
//
//	ST-EDU-7K2P9Q   staff
//	pa_edu_a1b2c3   guardian (normalized to PA-EDU-A1B2C3)
package accesstoken

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

const (
	PrefixStaff    = "ST"
	PrefixGuardian = "PA"
	Namespace      = "EDU"
	MinSuffixLen   = 6
)

var tokenPattern = regexp.MustCompile(`(?i)\b(ST|PA)[-_]EDU[-_]([A-Z0-9][A-Z0-9_-]{5,})\b`)

// ParsedToken is a token found in message text.
type ParsedToken struct {
	Raw        string     // as written in the message
	Normalized string     // uppercase, underscores replaced with hyphens; the lookup key
	Role       store.Role // role implied by the prefix
}

// Parse returns the first well-formed token in text. Candidates whose suffix
// is too short once trailing separators are trimmed are skipped.
func Parse(text string) (ParsedToken, bool) {
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimRight(m[0], "-_")
		if len(raw)-len(m[0])+len(m[2]) < MinSuffixLen {
			continue
		}
		role := store.RoleStaff
		if strings.EqualFold(m[1], PrefixGuardian) {
			role = store.RoleGuardian
		}
		return ParsedToken{
			Raw:        raw,
			Normalized: Normalize(raw),
			Role:       role,
		}, true
	}
	return ParsedToken{}, false
}

// Normalize uppercases s and replaces underscores with hyphens.
func Normalize(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", "-")
}
