// Package normalizer cleans up downloaded track names.
//
// Rules run in a fixed order over the name without its extension. Each
// rule is pure and idempotent on its own. The extension is never touched
// and an empty result falls back to the original name.
package normalizer

import (
	"path"
	"regexp"
	"strings"
)

type rule struct {
	name  string
	apply func(string) string
}

var (
	messageIDSuffix = regexp.MustCompile(`__\d+$`)
	numericTag      = regexp.MustCompile(`\[\d+\]`)
	openBracketGap  = regexp.MustCompile(`([\[(])\s+`)
	closeBracketGap = regexp.MustCompile(`\s+([\])])`)
	releaseTag      = regexp.MustCompile(`(?i)[\[(]\s*(official\s+(audio|video)|lyric\s+video|lyrics|audio|visuali[sz]er|hq|hd|\d{2,3}\s?kbps|flac|web|cdq|cdm|promo)\s*[\])]`)
	vinylTag        = regexp.MustCompile(`(?i)\b(vinyl|lp|ep)\b`)
	extraSpaces     = regexp.MustCompile(`\s{2,}`)
	residualEdges   = regexp.MustCompile(`^[-–—.\s]+|[-–—.\s]+$`)
)

// The pipeline. Order matters: bracket spacing is fixed before tag
// patterns run so "( Official Audio )" is still recognized.
var rules = []rule{
	{"strip message id", func(s string) string {
		return messageIDSuffix.ReplaceAllString(s, "")
	}},
	{"underscores to spaces", func(s string) string {
		return strings.ReplaceAll(s, "_", " ")
	}},
	{"bracket spacing", func(s string) string {
		s = openBracketGap.ReplaceAllString(s, "$1")
		return closeBracketGap.ReplaceAllString(s, "$1")
	}},
	{"strip numeric tags", func(s string) string {
		return numericTag.ReplaceAllString(s, "")
	}},
	{"strip release tags", func(s string) string {
		return releaseTag.ReplaceAllString(s, "")
	}},
	{"strip vinyl tags", func(s string) string {
		return vinylTag.ReplaceAllString(s, "")
	}},
	{"trim residual edges", func(s string) string {
		return residualEdges.ReplaceAllString(s, "")
	}},
	{"collapse whitespace", func(s string) string {
		return strings.TrimSpace(extraSpaces.ReplaceAllString(s, " "))
	}},
}

// Normalize applies the rule pipeline to the stem of name, preserving
// the extension. If the pipeline would leave nothing, the original name
// is returned unchanged.
func Normalize(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	out := stem
	for _, r := range rules {
		out = r.apply(out)
	}
	if strings.TrimSpace(out) == "" {
		return name
	}
	return out + ext
}
