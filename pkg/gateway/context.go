package gateway

import (
	"context"
	"net/http"
	"strconv"
)

// RequestContext is the per-request state shared by the gateway and the
// backend: the inbound request (read-only) and the response slot the backend
// fills in.
type RequestContext struct {
	// Request is the inbound request. It must not be modified.
	Request *http.Request

	// Route is the cache policy of the matched route.
	Route RouteConfig

	// StatusCode of the response (0 until set)
	StatusCode int

	// Header of the response
	Header http.Header

	// Body of the response
	Body []byte
}

// NewRequestContext creates a context with an empty response slot.
func NewRequestContext(r *http.Request, route RouteConfig) *RequestContext {
	return &RequestContext{
		Request: r,
		Route:   route,
		Header:  http.Header{},
	}
}

// Context returns the request's context.
func (rc *RequestContext) Context() context.Context {
	if rc.Request == nil {
		return context.Background()
	}
	return rc.Request.Context()
}

// WriteTo writes the response slot to w.
//
// Content-Length is the body length, except for a HEAD response without a
// body, which keeps the length the backend declared (or none).
func (rc *RequestContext) WriteTo(w http.ResponseWriter) error {
	status := rc.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	header := w.Header()
	for k, vv := range rc.Header {
		header[k] = append([]string(nil), vv...)
	}

	if !bodyAllowed(status) {
		header.Del("Content-Length")
		w.WriteHeader(status)
		return nil
	}

	head := rc.Request != nil && rc.Request.Method == http.MethodHead
	if !head || len(rc.Body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(rc.Body)))
	}
	w.WriteHeader(status)
	if head {
		return nil
	}
	_, err := w.Write(rc.Body)
	return err
}

func (rc *RequestContext) respondCached(body []byte, header http.Header, etag string) {
	rc.StatusCode = http.StatusOK
	rc.Header = header.Clone()
	if rc.Header == nil {
		rc.Header = http.Header{}
	}
	rc.Body = body
	if etag != "" {
		rc.Header.Set("ETag", etag)
	}
}

func (rc *RequestContext) respondNotModified(etag string) {
	rc.StatusCode = http.StatusNotModified
	rc.Header = http.Header{}
	rc.Header.Set("ETag", etag)
	rc.Body = nil
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
