package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

var errMalformedETag = errors.New("malformed entity tag")

// GenerateETag returns a strong ETag for a response body stored under key.
// Format: "<body length in hex>-<base64 sha256 prefix>"
//
// The same body under the same key always yields the same ETag.
func GenerateETag(body []byte, key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(body)
	sum := base64.RawURLEncoding.EncodeToString(h.Sum(nil))

	return `"` + strconv.FormatInt(int64(len(body)), 16) + "-" + sum[:27] + `"`
}

// MatchesIfNoneMatch reports whether the request's If-None-Match header
// matches the stored etag.
//
// Comparison is the weak comparison used for If-None-Match: opaque tags must
// be byte-for-byte equal, a W/ prefix is ignored on either side, and quoted
// and unquoted forms of the same tag are equal. "*" matches any stored etag.
// A malformed header never matches.
func MatchesIfNoneMatch(r *http.Request, etag string) bool {
	if r == nil || etag == "" {
		return false
	}
	header := strings.Join(r.Header.Values("If-None-Match"), ",")
	if header == "" {
		return false
	}

	want := opaqueTag(etag)
	if want == "" {
		return false
	}

	tags, wildcard, err := ParseEntityTags(header)
	if err != nil {
		return false
	}
	if wildcard {
		return true
	}
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

// ParseEntityTags parses an If-None-Match style list into opaque tags
// (quotes and W/ prefixes removed). wildcard reports a "*" member.
func ParseEntityTags(header string) (tags []string, wildcard bool, err error) {
	s := header
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		if s[0] == ',' {
			s = s[1:]
			continue
		}

		s = strings.TrimPrefix(s, "W/")

		var tag string
		if s != "" && s[0] == '"' {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				return nil, false, errMalformedETag
			}
			tag = s[1 : end+1]
			s = strings.TrimLeft(s[end+2:], " \t")
			if s != "" && s[0] != ',' {
				return nil, false, errMalformedETag
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			tag = strings.TrimRight(s[:end], " \t")
			s = s[end:]
			if tag == "" || strings.ContainsAny(tag, "\" \t") {
				return nil, false, errMalformedETag
			}
			if tag == "*" {
				wildcard = true
				continue
			}
		}
		tags = append(tags, tag)
	}
	return tags, wildcard, nil
}

// opaqueTag strips the weak prefix and surrounding quotes from an ETag.
func opaqueTag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		etag = etag[1 : len(etag)-1]
	}
	return etag
}
