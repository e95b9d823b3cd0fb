package markup

import (
	"regexp"

	"github.com/JakeFAU/sitemirror/internal/handler"
)

var (
	cssURL    = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"\s]+))\s*\)`)
	cssImport = regexp.MustCompile(`@import\s+(?:"([^"]*)"|'([^']*)')`)
)

func firstGroup(groups []string) (string, int) {
	for i := 1; i < len(groups); i++ {
		if groups[i] != "" {
			return groups[i], i
		}
	}
	return "", 0
}

// CSSParser extracts url() and @import references.
var CSSParser = handler.ParserFunc(func(body []byte, _ string) ([]string, error) {
	var links []string
	for _, re := range []*regexp.Regexp{cssURL, cssImport} {
		for _, m := range re.FindAllStringSubmatch(string(body), -1) {
			if ref, _ := firstGroup(m); ref != "" {
				links = append(links, ref)
			}
		}
	}
	return links, nil
})

// CSSPreparer rewrites url() and @import references, keeping their quoting.
var CSSPreparer = handler.PreparerFunc(func(body []byte, _ string, resolve handler.ResolveFunc) ([]byte, error) {
	out := string(body)
	for _, re := range []*regexp.Regexp{cssURL, cssImport} {
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			groups := re.FindStringSubmatch(match)
			ref, idx := firstGroup(groups)
			if ref == "" {
				return match
			}
			replacement, ok := resolve(ref)
			if !ok {
				return match
			}
			loc := re.FindStringSubmatchIndex(match)
			return match[:loc[2*idx]] + replacement + match[loc[2*idx+1]:]
		})
	}
	return []byte(out), nil
})
