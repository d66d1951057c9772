// Package routing maps operation types to gateway targets.
package routing

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNoRoute = errors.New("no route configured")

// DefaultTimeout applies to routes that do not set a timeout.
const DefaultTimeout = 30 * time.Second

// Target is where messages of one operation type are POSTed.
type Target struct {
	URL     string
	Timeout time.Duration
}

// ConfigError reports a routing source that could not be read, parsed or
// validated. No table is produced alongside it.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("routing config: %v", e.Err)
	}
	return fmt.Sprintf("routing config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Table is immutable once built. Reloading produces a new Table.
type Table struct {
	routes map[string]Target
	def    *Target
}

type fileTarget struct {
	URL     string   `yaml:"url"`
	Timeout *float64 `yaml:"timeout"`
}

type fileConfig struct {
	Routes  map[string]fileTarget `yaml:"routes"`
	Default *fileTarget           `yaml:"default"`
}

// Resolve looks up an exact match, then the default route.
func (t *Table) Resolve(op string) (Target, error) {
	if tgt, ok := t.routes[op]; ok {
		return tgt, nil
	}
	if t.def != nil {
		return *t.def, nil
	}
	return Target{}, ErrNoRoute
}

func (t *Table) Len() int { return len(t.routes) }

// Default returns the fallback route, if any.
func (t *Table) Default() (Target, bool) {
	if t.def == nil {
		return Target{}, false
	}
	return *t.def, true
}

// Operations lists the configured operation types in sorted order.
func (t *Table) Operations() []string {
	var ops []string
	for op := range t.routes {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// Route is one configured entry, for listing.
type Route struct {
	Operation string `json:"operation"`
	URL       string `json:"url"`
	Timeout   string `json:"timeout"`
}

// Routes lists the explicit routes sorted by operation type.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, op := range t.Operations() {
		tgt := t.routes[op]
		out = append(out, Route{Operation: op, URL: tgt.URL, Timeout: tgt.Timeout.String()})
	}
	return out
}

func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return parse(data, "")
}

func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	return parse(data, path)
}

func parse(data []byte, source string) (*Table, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, &ConfigError{Source: source, Err: fmt.Errorf("invalid YAML: %w", err)}
	}
	t := &Table{routes: make(map[string]Target, len(fc.Routes))}
	for op, ft := range fc.Routes {
		tgt, err := ft.target()
		if err != nil {
			return nil, &ConfigError{Source: source, Err: fmt.Errorf("route %q: %w", op, err)}
		}
		t.routes[op] = tgt
	}
	if fc.Default != nil {
		tgt, err := fc.Default.target()
		if err != nil {
			return nil, &ConfigError{Source: source, Err: fmt.Errorf("default route: %w", err)}
		}
		t.def = &tgt
	}
	return t, nil
}

// maxTimeoutSeconds keeps the conversion to time.Duration from overflowing.
const maxTimeoutSeconds = float64(math.MaxInt64) / float64(time.Second)

func (ft fileTarget) target() (Target, error) {
	if ft.URL == "" {
		return Target{}, errors.New("url is required")
	}
	u, err := url.Parse(ft.URL)
	if err != nil {
		return Target{}, fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Target{}, fmt.Errorf("url %q must be an absolute http(s) URL", ft.URL)
	}
	timeout := DefaultTimeout
	if ft.Timeout != nil {
		secs := *ft.Timeout
		if !(secs > 0) {
			return Target{}, fmt.Errorf("timeout must be positive, got %v", secs)
		}
		if secs > maxTimeoutSeconds {
			return Target{}, fmt.Errorf("timeout %v exceeds the maximum of %.0f seconds", secs, maxTimeoutSeconds)
		}
		timeout = time.Duration(secs * float64(time.Second))
		if timeout <= 0 {
			return Target{}, fmt.Errorf("timeout %v rounds to zero", secs)
		}
	}
	return Target{URL: ft.URL, Timeout: timeout}, nil
}
