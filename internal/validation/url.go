// Package validation holds the small value checks shared by configuration,
// source configs and the ingest boundary.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLError names the setting or field whose URL was rejected.
type URLError struct {
	Field   string
	URL     string
	Problem string
}

func (e *URLError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Problem, e.URL)
}

// ValidateURL accepts an absolute http or https URL. Empty passes; callers
// decide whether the field is required.
func ValidateURL(raw, field string) error {
	if raw == "" {
		return nil
	}
	_, err := parseWebURL(raw, field)
	return err
}

// ValidateBaseURL accepts a URL that API paths are appended to, such as a
// remote catalog server. Only a bare "/" path is allowed, and no query or
// fragment.
func ValidateBaseURL(raw, field string) error {
	if raw == "" {
		return nil
	}
	u, err := parseWebURL(raw, field)
	if err != nil {
		return err
	}
	var problem string
	switch {
	case u.Path != "" && u.Path != "/":
		problem = "base URL must not contain a path"
	case u.RawQuery != "":
		problem = "base URL must not contain query parameters"
	case u.Fragment != "":
		problem = "base URL must not contain a fragment"
	default:
		return nil
	}
	return &URLError{Field: field, URL: raw, Problem: problem}
}

// IsWebURL reports whether s is an absolute http or https URL.
func IsWebURL(s string) bool {
	if s == "" {
		return false
	}
	_, err := parseWebURL(s, "")
	return err == nil
}

func parseWebURL(raw, field string) (*url.URL, error) {
	fail := func(problem string) (*url.URL, error) {
		return nil, &URLError{Field: field, URL: raw, Problem: problem}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fail("invalid URL format")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return fail("URL must include a scheme (http:// or https://)")
	default:
		return fail("URL scheme must be http or https")
	}
	if u.Host == "" {
		return fail("URL must include a host")
	}
	return u, nil
}
