package gateway

import (
	"errors"
	"net/http"
)

// Middleware returns an http middleware that runs every request through the
// gateway with the given route policy. The wrapped handler is the backend;
// its response is buffered so the gateway can decorate it.
func (g *Gateway) Middleware(route RouteConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Handler(route, func(rc *RequestContext) error {
			rec := newRecorder()
			next.ServeHTTP(rec, rc.Request)
			rec.fill(rc)
			return nil
		})
	}
}

// Handler returns an http.Handler serving every request through the gateway
// with next as the backend.
//
// A request whose cache key cannot be derived is answered 500 without
// invoking next. A backend error is answered 502.
func (g *Gateway) Handler(route RouteConfig, next Next) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := NewRequestContext(r, route)
		if err := g.Process(rc, next); err != nil {
			status := http.StatusBadGateway
			var keyErr *KeyDerivationError
			if errors.As(err, &keyErr) {
				status = http.StatusInternalServerError
			}
			g.logger.Error().Err(err).Str("route", route.Name).Msg("Request failed")
			http.Error(w, http.StatusText(status), status)
			return
		}
		if err := rc.WriteTo(w); err != nil {
			g.logger.Debug().Err(err).Str("route", route.Name).Msg("Writing response failed")
		}
	})
}
