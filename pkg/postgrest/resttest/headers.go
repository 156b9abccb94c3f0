package resttest

import (
	"net/http"
	"strings"
)

// Prefer holds preferences from the Prefer header (RFC 7240).
type Prefer struct {
	Return     string // "minimal", "representation", "headers-only"
	Count      string // "exact", "planned", "estimated"
	Resolution string // "merge-duplicates", "ignore-duplicates"
}

// parsePrefer parses the Prefer header according to RFC 7240.
// It returns nil if the header is not present.
func parsePrefer(r *http.Request) *Prefer {
	header := r.Header.Get("Prefer")
	if header == "" {
		return nil
	}

	p := &Prefer{
		Return: "minimal", // RFC 7240 default behavior
	}

	parseKeyValPairs(header, func(key, value string) {
		value = strings.ToLower(value)
		switch key {
		case "return":
			if isValidReturn(value) {
				p.Return = value
			}
		case "count":
			if isValidCount(value) {
				p.Count = value
			}
		case "resolution":
			if value == "merge-duplicates" || value == "ignore-duplicates" {
				p.Resolution = value
			}
		}
	})

	return p
}

// parseKeyValPairs parses comma-separated preference directives.
// For each key=value pair found, it calls fn with the key and value.
func parseKeyValPairs(header string, fn func(key, value string)) {
	for pref := range strings.SplitSeq(header, ",") {
		pref = strings.TrimSpace(pref)
		if key, value, found := strings.Cut(pref, "="); found {
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			fn(key, value)
		}
	}
}

func isValidReturn(s string) bool {
	switch s {
	case "minimal", "representation", "headers-only":
		return true
	}
	return false
}

func isValidCount(s string) bool {
	switch s {
	case "exact", "planned", "estimated":
		return true
	}
	return false
}

// WantsRepresentation reports whether mutated rows belong in the response body.
func (p *Prefer) WantsRepresentation() bool {
	return p != nil && p.Return == "representation"
}

// WantsCount reports whether any count was requested. The test server always
// counts exactly.
func (p *Prefer) WantsCount() bool {
	return p != nil && p.Count != ""
}

// MergeDuplicates reports whether an insert should upsert.
func (p *Prefer) MergeDuplicates() bool {
	return p != nil && p.Resolution == "merge-duplicates"
}

// IgnoreDuplicates reports whether conflicting inserted rows are skipped.
func (p *Prefer) IgnoreDuplicates() bool {
	return p != nil && p.Resolution == "ignore-duplicates"
}

// requestedProfile returns the schema named by the profile header matching
// the request method, and whether one was sent.
func requestedProfile(r *http.Request) (string, bool) {
	header := "Content-Profile"
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		header = "Accept-Profile"
	}
	v := strings.TrimSpace(r.Header.Get(header))
	return v, v != ""
}

// wantsSingleObject reports whether the client asked for one object.
func wantsSingleObject(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), singleObjectMedia)
}
