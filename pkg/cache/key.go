package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// KeyPrefix namespaces every derived key in a shared store.
const KeyPrefix = "rest-cache"

// KeyAttributes declares which request attributes participate in the cache key.
// The request path always participates.
type KeyAttributes struct {
	// UseQueryParams includes the query string in the key.
	UseQueryParams bool

	// QueryParams restricts the query parameters used in the key.
	// Empty means all parameters when UseQueryParams is set.
	QueryParams []string

	// Headers are the request headers included in the key (e.g. "Accept-Language").
	Headers []string
}

// DeriveKey generates a deterministic cache key for r.
// Format: rest-cache:<escaped path>[?<sorted query>][#<sorted headers>]
//
// Example:
//
//	rest-cache:/api/articles?page=2&sort=desc#accept-language=en
//
// Query and header sections are url-encoded with sorted names, so two requests
// with the same declared attribute values always yield the same key, and the
// '?' and '#' separators cannot occur inside the escaped path.
func DeriveKey(r *http.Request, attrs KeyAttributes) (string, error) {
	if r == nil || r.URL == nil {
		return "", fmt.Errorf("%w: request has no URL", ErrKeyDerivation)
	}

	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteByte(':')

	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if attrs.UseQueryParams || len(attrs.QueryParams) > 0 {
		query, err := keyQuery(r.URL.RawQuery, attrs.QueryParams)
		if err != nil {
			return "", err
		}
		if query != "" {
			b.WriteByte('?')
			b.WriteString(query)
		}
	}

	if headers := keyHeaders(r.Header, attrs.Headers); headers != "" {
		b.WriteByte('#')
		b.WriteString(headers)
	}

	return b.String(), nil
}

// keyQuery parses the raw query and re-encodes the selected parameters in
// sorted order. A malformed query string fails derivation.
func keyQuery(rawQuery string, only []string) (string, error) {
	if rawQuery == "" {
		return "", nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("%w: parse query: %v", ErrKeyDerivation, err)
	}
	if len(only) > 0 {
		selected := make(url.Values, len(only))
		for _, name := range only {
			if v, ok := values[name]; ok {
				selected[name] = v
			}
		}
		values = selected
	}
	return values.Encode(), nil
}

// keyHeaders encodes the declared headers present on the request.
// Names are lower-cased; an absent header contributes nothing while a
// present-but-empty header contributes "name=".
func keyHeaders(header http.Header, names []string) string {
	if len(names) == 0 {
		return ""
	}
	values := make(url.Values, len(names))
	for _, name := range names {
		v := header.Values(name)
		if len(v) == 0 {
			continue
		}
		values[strings.ToLower(name)] = []string{strings.Join(v, ",")}
	}
	return values.Encode()
}
