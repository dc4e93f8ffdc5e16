package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anilslabs/plugin-rest-cache/pkg/cache"
	"github.com/anilslabs/plugin-rest-cache/pkg/gateway"
	"gopkg.in/yaml.v3"
)

// File is the cache policy file.
//
//	strategy:
//	  enableEtag: true
//	  enableXCacheHeaders: true
//	routes:
//	  - method: GET
//	    path: /api/articles
//	    maxAge: 3600
//	    keys:
//	      useQueryParams: [page, sort]
//	      useHeaders: [Accept-Language]
//	    hitpass:
//	      headers: [Authorization]
type File struct {
	Strategy Strategy `yaml:"strategy"`
	Routes   []Route  `yaml:"routes"`
}

// Strategy holds the process-wide toggles.
type Strategy struct {
	EnableEtag          bool `yaml:"enableEtag"`
	EnableXCacheHeaders bool `yaml:"enableXCacheHeaders"`
}

// Route is the cache policy of one route.
type Route struct {
	Method string `yaml:"method"`

	// Path is a chi route pattern, e.g. "/api/articles/{id}"
	Path string `yaml:"path"`

	// MaxAge in seconds. Zero means gateway.DefaultMaxAge.
	MaxAge int `yaml:"maxAge"`

	Keys    Keys     `yaml:"keys"`
	Hitpass *Hitpass `yaml:"hitpass"`
}

// Keys declares the request attributes in the cache key.
type Keys struct {
	UseQueryParams QueryParams `yaml:"useQueryParams"`
	UseHeaders     []string    `yaml:"useHeaders"`
}

// QueryParams is either a boolean (all or no parameters) or a list of
// parameter names.
type QueryParams struct {
	All   bool
	Names []string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *QueryParams) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var all bool
		if err := node.Decode(&all); err != nil {
			return fmt.Errorf("line %d: useQueryParams must be a boolean or a list", node.Line)
		}
		*q = QueryParams{All: all}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return fmt.Errorf("line %d: useQueryParams: %w", node.Line, err)
		}
		*q = QueryParams{Names: names}
		return nil
	default:
		return fmt.Errorf("line %d: useQueryParams must be a boolean or a list", node.Line)
	}
}

// Hitpass declares when a route bypasses the cache. A nil Hitpass uses
// gateway.DefaultHitpass.
type Hitpass struct {
	Always  bool     `yaml:"always"`
	Headers []string `yaml:"headers"`
}

// DefaultFile returns the policy used when no file is configured: ETags and
// X-Cache headers on, no cached routes.
func DefaultFile() File {
	return File{
		Strategy: Strategy{
			EnableEtag:          true,
			EnableXCacheHeaders: true,
		},
	}
}

// LoadFile reads and validates the policy file at filename.
func LoadFile(filename string) (File, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates a policy file.
func ParseFile(data []byte) (File, error) {
	f := DefaultFile()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks every route and rejects duplicates.
func (f File) Validate() error {
	seen := make(map[string]bool, len(f.Routes))
	for i, r := range f.Routes {
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route %d: path must start with / (got %q)", i, r.Path)
		}
		if r.MaxAge < 0 {
			return fmt.Errorf("route %s: maxAge must be >= 0 (got %d)", r.Name(), r.MaxAge)
		}
		switch r.HTTPMethod() {
		case http.MethodGet, http.MethodHead:
		default:
			return fmt.Errorf("route %s: only GET and HEAD routes can be cached", r.Name())
		}
		if seen[r.Name()] {
			return fmt.Errorf("route %s: duplicate route", r.Name())
		}
		seen[r.Name()] = true
	}
	return nil
}

// Gateway returns the strategy as a gateway.StrategyConfig.
func (s Strategy) Gateway() gateway.StrategyConfig {
	return gateway.StrategyConfig{
		EnableEtag:          s.EnableEtag,
		EnableXCacheHeaders: s.EnableXCacheHeaders,
	}
}

// Name identifies the route, e.g. "GET /api/articles".
func (r Route) Name() string {
	return r.HTTPMethod() + " " + r.Path
}

// HTTPMethod returns the upper-cased method, GET when unset.
func (r Route) HTTPMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// RouteConfig converts the route into the gateway's policy.
func (r Route) RouteConfig() gateway.RouteConfig {
	return gateway.RouteConfig{
		Name:    r.Name(),
		Hitpass: r.hitpass(),
		MaxAge:  time.Duration(r.MaxAge) * time.Second,
		Keys: cache.KeyAttributes{
			UseQueryParams: r.Keys.UseQueryParams.All,
			QueryParams:    r.Keys.UseQueryParams.Names,
			Headers:        r.Keys.UseHeaders,
		},
	}
}

func (r Route) hitpass() gateway.HitpassPolicy {
	switch {
	case r.Hitpass == nil:
		return gateway.DefaultHitpass
	case r.Hitpass.Always:
		return gateway.HitpassAlways
	case len(r.Hitpass.Headers) > 0:
		return gateway.HitpassOnHeaders(r.Hitpass.Headers...)
	default:
		return gateway.HitpassNever
	}
}
