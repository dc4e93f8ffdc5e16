package gateway

import (
	"bytes"
	"net/http"
)

// recorder is an http.ResponseWriter that buffers a handler's response so
// the gateway can decorate it before anything reaches the client.
type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newRecorder() *recorder {
	return &recorder{header: http.Header{}}
}

// Implementation of http.ResponseWriter
func (r *recorder) Header() http.Header {
	return r.header
}

// Implementation of http.ResponseWriter
func (r *recorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = statusCode
}

// Implementation of http.ResponseWriter
func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// fill copies the recorded response into the response slot of rc.
// Content-Length is dropped unless it describes a HEAD response.
func (r *recorder) fill(rc *RequestContext) {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	rc.StatusCode = status
	rc.Header = r.header.Clone()
	if rc.Request == nil || rc.Request.Method != http.MethodHead {
		rc.Header.Del("Content-Length")
	}
	rc.Body = bytes.Clone(r.body.Bytes())
}
