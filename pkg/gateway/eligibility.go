package gateway

import (
	"net/http"
	"strings"
)

// IsLookupEligible reports whether r may be answered from the cache.
//
// A request is ineligible when its method is not a read (GET or HEAD), when
// the route's hitpass policy asks for a bypass, or when the client demands a
// fresh response (Cache-Control no-cache/no-store, Pragma no-cache).
func IsLookupEligible(r *http.Request, hitpass HitpassPolicy) bool {
	if r == nil {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if hitpass != nil && hitpass(r) {
		return false
	}
	return !cacheBusting(r.Header)
}

func cacheBusting(header http.Header) bool {
	for _, v := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "no-cache", "no-store":
				return true
			}
		}
	}
	for _, v := range header.Values("Pragma") {
		if strings.EqualFold(strings.TrimSpace(v), "no-cache") {
			return true
		}
	}
	return false
}
