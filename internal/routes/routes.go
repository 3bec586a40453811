// Package routes turns page source files into a priority-sorted route
// table and compiles dynamic pathnames into matchers that extract named
// parameters from request paths.
package routes

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// PageRoute is one routable unit of the application.
type PageRoute struct {
	Pathname  string
	IsDynamic bool
	Matcher   *Matcher
}

// dynamicSegment matches a bracketed parameter anywhere in a pathname.
var dynamicSegment = regexp.MustCompile(`\[[^/]+?\](?:/|$)`)

// IsDynamicPathname reports whether pathname contains parameter segments.
func IsDynamicPathname(pathname string) bool {
	return dynamicSegment.MatchString(pathname)
}

// PathnameFromFile derives a route pathname from a source file path
// relative to the pages root: the extension is stripped, a trailing
// index segment collapses to the parent, and the root becomes "/".
func PathnameFromFile(relPath string) string {
	p := strings.ReplaceAll(relPath, "\\", "/")
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	p = strings.TrimPrefix(p, "/")
	p = "/" + p
	if p == "/index" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/index")
	if p == "" {
		return "/"
	}
	return p
}

// dynamicSegments counts the parameter segments of a pathname.
func dynamicSegments(pathname string) int {
	count := 0
	for _, seg := range strings.Split(strings.Trim(pathname, "/"), "/") {
		if strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
			count++
		}
	}
	return count
}

// Sort orders pathnames by specificity: routes with fewer dynamic
// segments sort before routes with more, ties broken lexicographically.
// The input slice is not modified.
func Sort(pathnames []string) []string {
	sorted := make([]string, len(pathnames))
	copy(sorted, pathnames)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := dynamicSegments(sorted[i]), dynamicSegments(sorted[j])
		if di != dj {
			return di < dj
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}

// Equal reports whether two ordered route tables hold the same entries.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Matcher is a compiled dynamic-route pattern.
type Matcher struct {
	re     *regexp.Regexp
	params []paramSpec
}

type paramSpec struct {
	name     string
	repeated bool
	optional bool
}

// CompileMatcher compiles a dynamic pathname into a Matcher. Parameter
// segments take three forms: [name] for a single segment, [...name] for
// a catch-all consuming the rest of the path, and [[...name]] for an
// optional catch-all that also matches the bare parent path.
func CompileMatcher(pathname string) (*Matcher, error) {
	segments := strings.Split(strings.Trim(pathname, "/"), "/")
	var pattern strings.Builder
	var params []paramSpec

	pattern.WriteString("^")
	for _, seg := range segments {
		switch {
		case strings.HasPrefix(seg, "[[...") && strings.HasSuffix(seg, "]]"):
			name := seg[5 : len(seg)-2]
			if name == "" {
				return nil, fmt.Errorf("empty parameter name in segment %q of %s", seg, pathname)
			}
			params = append(params, paramSpec{name: name, repeated: true, optional: true})
			pattern.WriteString("(?:/(.+?))?")
		case strings.HasPrefix(seg, "[...") && strings.HasSuffix(seg, "]"):
			name := seg[4 : len(seg)-1]
			if name == "" {
				return nil, fmt.Errorf("empty parameter name in segment %q of %s", seg, pathname)
			}
			params = append(params, paramSpec{name: name, repeated: true})
			pattern.WriteString("/(.+?)")
		case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
			name := seg[1 : len(seg)-1]
			if name == "" {
				return nil, fmt.Errorf("empty parameter name in segment %q of %s", seg, pathname)
			}
			params = append(params, paramSpec{name: name})
			pattern.WriteString("/([^/]+?)")
		default:
			pattern.WriteString("/" + regexp.QuoteMeta(seg))
		}
	}
	pattern.WriteString("/?$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("compiling matcher for %s: %w", pathname, err)
	}
	return &Matcher{re: re, params: params}, nil
}

// Match tests path against the pattern and extracts named parameters.
// Catch-all parameters keep their segments joined with "/".
func (m *Matcher) Match(p string) (map[string]string, bool) {
	groups := m.re.FindStringSubmatch(p)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(m.params))
	for i, spec := range m.params {
		val := groups[i+1]
		if val == "" && spec.optional {
			continue
		}
		params[spec.name] = val
	}
	return params, true
}

// NewPageRoute builds a PageRoute for a pathname, compiling a matcher
// when the pathname is dynamic.
func NewPageRoute(pathname string) (PageRoute, error) {
	route := PageRoute{Pathname: pathname}
	if !IsDynamicPathname(pathname) {
		return route, nil
	}
	m, err := CompileMatcher(pathname)
	if err != nil {
		return route, err
	}
	route.IsDynamic = true
	route.Matcher = m
	return route, nil
}
