// Package router matches inbound request paths against the static route
// table. Rules are evaluated in declaration order, first match wins; the
// table is built once at startup and never mutated afterwards.
package router

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/socialmesh/edge/internal/config"
)

// Rule is a compiled routing rule.
type Rule struct {
	Name         string
	PathPrefix   string
	Target       *url.URL
	RequiresAuth bool
	Sensitive    bool

	stripPrefix   string
	rewritePrefix string
}

// Table holds the ordered route rules.
type Table struct {
	rules []*Rule
}

// New compiles the configured routes into a table.
func New(routes []config.Route) (*Table, error) {
	rules := make([]*Rule, 0, len(routes))
	for i, rc := range routes {
		target, err := url.Parse(rc.Target)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): invalid target %s: %w", i, rc.Name, rc.Target, err)
		}
		rules = append(rules, &Rule{
			Name:          rc.Name,
			PathPrefix:    rc.PathPrefix,
			Target:        target,
			RequiresAuth:  rc.RequiresAuth,
			Sensitive:     rc.Sensitive,
			stripPrefix:   rc.StripPrefix,
			rewritePrefix: rc.RewritePrefix,
		})
	}
	return &Table{rules: rules}, nil
}

// Match returns the first rule whose prefix matches the path, or nil.
func (t *Table) Match(path string) *Rule {
	for _, rule := range t.rules {
		if matchPrefix(path, rule.PathPrefix) {
			return rule
		}
	}
	return nil
}

// Rules returns the rules in declaration order.
func (t *Table) Rules() []*Rule {
	return t.rules
}

// matchPrefix reports whether path starts with prefix at a path-segment
// boundary: /v1/auth matches /v1/auth and /v1/auth/login but not
// /v1/authors.
func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// Rewrite returns the forwarded path for the given inbound path: the
// rule's strip prefix is removed and the rewrite prefix put in its place
// ("/v1/auth/login" -> "/api/auth/login").
func (r *Rule) Rewrite(path string) string {
	if r.stripPrefix == "" {
		return path
	}
	if !strings.HasPrefix(path, r.stripPrefix) {
		return path
	}
	rewritten := r.rewritePrefix + path[len(r.stripPrefix):]
	if rewritten == "" {
		rewritten = "/"
	}
	return rewritten
}
