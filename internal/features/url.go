package features

import (
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"yclid":   {},
	"dclid":   {},
	"msclkid": {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"_ga":     {},
	"_hsenc":  {},
	"_hsmi":   {},
	"cmpid":   {},
}

// IsTrackingParam reports whether a query key only carries campaign tracking.
func IsTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// CleanURL drops tracking query parameters and the fragment. Unparseable input
// is returned trimmed.
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.RawQuery = cleanQuery(u.Query())
	return u.String()
}

// NormalizeURL reduces a URL to a canonical identity form: lowercase host
// without "www.", no tracking params, sorted query, no duplicate or trailing
// slashes, no scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := u.EscapedPath()
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimSuffix(path, "/")

	out := host + path
	if q := cleanQuery(u.Query()); q != "" {
		out += "?" + q
	}
	return out
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if IsTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	kept := url.Values{}
	for _, k := range keys {
		kept[k] = values[k]
	}
	return kept.Encode()
}
