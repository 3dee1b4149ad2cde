package validation

import "regexp"

// MaxSiteTagLength bounds the site tags stored with events and runs.
const MaxSiteTagLength = 128

var siteTagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// IsSiteTag reports whether s can name an ingestion site: a letter or digit
// followed by letters, digits, '.', '_' or '-'.
func IsSiteTag(s string) bool {
	return len(s) <= MaxSiteTagLength && siteTagPattern.MatchString(s)
}
