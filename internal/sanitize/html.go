// Package sanitize turns scraped markup into plain text fit for storage.
package sanitize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// policy drops every tag and attribute.
	policy = bluemonday.StrictPolicy()

	spaceRun = regexp.MustCompile(`[ \t\f\v\x{3000}]+`)

	// blockBreak matches markup that ends a line of prose in a description.
	blockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div|li|h[1-6]|tr)\s*>`)
)

// Text strips markup and entities and folds horizontal whitespace,
// ideographic spaces included, to one space. "Jazz & Blues" round-trips.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(foldSpaces(strip(input)))
}

// Description is Text for multi-line prose: paragraph and line-break markup
// become newlines, each line is folded and trimmed, and blank lines collapse
// to a single paragraph gap.
func Description(input string) string {
	if input == "" {
		return ""
	}
	plain := strip(blockBreak.ReplaceAllString(input, "\n"))
	plain = strings.ReplaceAll(plain, "\r\n", "\n")

	var b strings.Builder
	gap := false
	for _, line := range strings.Split(plain, "\n") {
		line = strings.TrimSpace(foldSpaces(line))
		if line == "" {
			gap = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if gap {
				b.WriteByte('\n')
			}
		}
		gap = false
		b.WriteString(line)
	}
	return b.String()
}

// TextSlice applies Text to each entry and drops the ones left empty.
// A nil slice stays nil.
func TextSlice(inputs []string) []string {
	if inputs == nil {
		return nil
	}
	out := inputs[:0:0]
	for _, input := range inputs {
		if cleaned := Text(input); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func strip(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

func foldSpaces(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}
