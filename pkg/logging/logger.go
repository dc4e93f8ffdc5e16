// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// levels maps every accepted LOG_LEVEL spelling to its zerolog level.
var levels = map[string]zerolog.Level{
	string(LevelDebug): zerolog.DebugLevel,
	string(LevelInfo):  zerolog.InfoLevel,
	string(LevelWarn):  zerolog.WarnLevel,
	"warning":          zerolog.WarnLevel,
	string(LevelError): zerolog.ErrorLevel,
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written. Unknown levels mean LevelInfo.
	Level LogLevel

	// Pretty switches from JSON lines to console output
	Pretty bool

	// Output defaults to os.Stderr
	Output io.Writer

	// Service is added to every line as "service" when set
	Service string
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// NewLogger returns the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ParseLevel converts a level name (e.g. from LOG_LEVEL) to a LogLevel.
// Unknown names yield LevelInfo.
func ParseLevel(name string) LogLevel {
	name = strings.ToLower(strings.TrimSpace(name))
	lvl, ok := levels[name]
	if !ok {
		return LevelInfo
	}
	return LogLevel(lvl.String())
}

func (l LogLevel) zerologLevel() zerolog.Level {
	if lvl, ok := levels[strings.ToLower(string(l))]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// Middleware returns HTTP middleware that attaches logger to every request
// context (see hlog.FromRequest), assigns a request id and writes one access
// log line per request.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})
	return func(next http.Handler) http.Handler {
		h := access(next)
		h = hlog.RequestIDHandler("request_id", "X-Request-Id")(h)
		return hlog.NewHandler(logger)(h)
	}
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache decisions (hit, miss, hitpass, 304) with key and TTL
//   - Background store writes completed
//   - Upstream retries and forwarded requests
//
// Info: Normal operation events
//   - Access log lines
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Store read failures (served as a miss)
//   - Upstream error responses, retry exhaustion
//
// Error: Error conditions requiring attention
//   - Store write failures
//   - Key derivation failures
//   - Upstream unreachable
//   - Configuration errors
//
// Context Fields:
//   - component: cache-gateway, upstream, rest-cache-proxy
//   - route: route name ("GET /api/articles")
//   - cache_key: derived cache key
//   - status_code: HTTP status code
//   - error_class: upstream error classification (client, server, network)
//   - etag: validator of a 304 answer
//   - ttl: lifetime of a stored entry
//   - store: "response" or "etag"
