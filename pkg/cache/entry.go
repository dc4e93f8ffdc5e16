package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Entry represents a cached response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// Headers are the representation headers replayed on a hit (Content-Type, ...)
	Headers http.Header `json:"headers,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// unreplayedHeaders are never stored with an entry. Hop-by-hop headers belong
// to the original connection, and the rest are recomputed on every response.
var unreplayedHeaders = []string{
	"Connection",
	"Content-Length",
	"Date",
	"ETag",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Connection",
	"Set-Cookie",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"X-Cache",
}

// NewEntry builds an entry from a response body and its headers.
// The body is copied, so the caller may keep mutating its buffer.
func NewEntry(body []byte, header http.Header) *Entry {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, name := range unreplayedHeaders {
		h.Del(name)
	}
	if len(h) == 0 {
		h = nil
	}
	return &Entry{
		Data:     bytes.Clone(body),
		Headers:  h,
		CachedAt: time.Now(),
	}
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

func marshalEntry(entry *Entry) ([]byte, error) {
	if entry == nil {
		return nil, fmt.Errorf("cache entry cannot be nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func unmarshalEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
