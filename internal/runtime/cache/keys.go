package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key derives a cache key from an adapter name plus its normalized request
// parts. Distinct logical requests must never collide, so callers pass every
// discriminating input as a part.
func Key(adapter string, parts ...string) string {
	if len(parts) == 0 {
		return adapter
	}
	return adapter + ":" + strings.Join(parts, ":")
}

// ParamsKey canonicalizes a query-parameter set into a cache key. Parameter
// names are sorted, and values within a repeated name are sorted too, so two
// requests carrying the same parameters in any order land on the same entry.
func ParamsKey(adapter string, params url.Values) string {
	if len(params) == 0 {
		return adapter
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(adapter)
	for _, name := range names {
		values := append([]string(nil), params[name]...)
		sort.Strings(values)
		for _, value := range values {
			b.WriteByte(':')
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}
