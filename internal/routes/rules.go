package routes

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Redirect sends matching requests to a new location.
type Redirect struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Permanent   bool   `yaml:"permanent"`

	matcher *Matcher
}

// Rewrite transparently maps a request path onto another before page
// resolution.
type Rewrite struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`

	matcher *Matcher
}

// Header attaches response headers to matching requests.
type Header struct {
	Source  string            `yaml:"source"`
	Headers map[string]string `yaml:"headers"`

	matcher *Matcher
}

// Rules is the read-only set of custom routes consumed by the router.
type Rules struct {
	Redirects []Redirect `yaml:"redirects"`
	Rewrites  []Rewrite  `yaml:"rewrites"`
	Headers   []Header   `yaml:"headers"`
}

// Empty reports whether no custom routes are configured.
func (r *Rules) Empty() bool {
	return r == nil || (len(r.Redirects) == 0 && len(r.Rewrites) == 0 && len(r.Headers) == 0)
}

// LoadRules reads and compiles a custom-routes file. A missing file is
// not an error; it yields an empty rule set.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Rules{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading routes file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rule definitions and compiles their source
// patterns.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing routes file: %w", err)
	}

	for i := range rules.Redirects {
		m, err := compileSource(rules.Redirects[i].Source)
		if err != nil {
			return nil, err
		}
		rules.Redirects[i].matcher = m
	}
	for i := range rules.Rewrites {
		m, err := compileSource(rules.Rewrites[i].Source)
		if err != nil {
			return nil, err
		}
		rules.Rewrites[i].matcher = m
	}
	for i := range rules.Headers {
		m, err := compileSource(rules.Headers[i].Source)
		if err != nil {
			return nil, err
		}
		rules.Headers[i].matcher = m
	}
	return &rules, nil
}

func compileSource(source string) (*Matcher, error) {
	if source == "" || !strings.HasPrefix(source, "/") {
		return nil, fmt.Errorf("rule source must start with /: %q", source)
	}
	return CompileMatcher(source)
}

// MatchRedirect resolves the first redirect matching path.
func (r *Rules) MatchRedirect(p string) (string, bool, bool) {
	for i := range r.Redirects {
		if params, ok := r.Redirects[i].matcher.Match(p); ok {
			return substituteParams(r.Redirects[i].Destination, params), r.Redirects[i].Permanent, true
		}
	}
	return "", false, false
}

// MatchRewrite resolves the first rewrite matching path.
func (r *Rules) MatchRewrite(p string) (string, bool) {
	for i := range r.Rewrites {
		if params, ok := r.Rewrites[i].matcher.Match(p); ok {
			return substituteParams(r.Rewrites[i].Destination, params), true
		}
	}
	return "", false
}

// MatchHeaders collects headers from every matching header rule.
func (r *Rules) MatchHeaders(p string) map[string]string {
	var out map[string]string
	for i := range r.Headers {
		if _, ok := r.Headers[i].matcher.Match(p); ok {
			if out == nil {
				out = make(map[string]string)
			}
			for k, v := range r.Headers[i].Headers {
				out[k] = v
			}
		}
	}
	return out
}

// substituteParams replaces :name tokens in a destination with extracted
// parameter values.
func substituteParams(dest string, params map[string]string) string {
	for name, val := range params {
		dest = strings.ReplaceAll(dest, ":"+name, val)
	}
	return dest
}
