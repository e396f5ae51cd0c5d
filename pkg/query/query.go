// Package query builds backend URLs from ordered command parameters.
package query

import (
	"net/url"
	"strings"
)

// Param is one named query parameter.
type Param struct {
	// Name is the query key.
	Name string
	// Value is the raw, unescaped value. Empty values are skipped.
	Value string
}

// Build appends every non-empty parameter to base in the order given.
//
// Keys and values are percent-encoded. When no parameter carries a value, base
// is returned unchanged. A base that already has a query string is extended
// with '&' rather than a second '?'. A fragment stays at the end.
func Build(base string, params []Param) string {
	encoded := make([]string, 0, len(params))
	for _, param := range params {
		name := strings.TrimSpace(param.Name)
		value := strings.TrimSpace(param.Value)
		if name == "" || value == "" {
			continue
		}
		encoded = append(encoded, url.QueryEscape(name)+"="+url.QueryEscape(value))
	}
	if len(encoded) == 0 {
		return base
	}

	target, fragment, hasFragment := strings.Cut(base, "#")
	built := target + separator(target) + strings.Join(encoded, "&")
	if hasFragment {
		built += "#" + fragment
	}

	return built
}

// BuildRaw appends raw "key=value" entries to base.
//
// Entries without '=' or with an empty key are dropped silently.
func BuildRaw(base string, raw []string) string {
	return Build(base, ParseRaw(raw))
}

// ParseRaw splits raw "key=value" entries on their first '='.
//
// Malformed entries are skipped; the remaining entries keep their order.
func ParseRaw(raw []string) []Param {
	params := make([]Param, 0, len(raw))
	for _, entry := range raw {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		params = append(params, Param{Name: name, Value: value})
	}

	return params
}

func separator(base string) string {
	if !strings.Contains(base, "?") {
		return "?"
	}
	if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
		return ""
	}

	return "&"
}
