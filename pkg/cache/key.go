package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached API resource.
type Key struct {
	// Resource is the logical resource group (e.g., "projects", "blog").
	Resource string

	// Segments narrow the resource down (e.g., "active", a slug, a locale).
	Segments []string

	// Params are query parameters (e.g., {"page": "2"}).
	Params url.Values
}

// String generates a deterministic cache key string, without prefix.
// Format: resource:segment1:segment2:param1=val1:param2=val2
//
// Example:
//
//	projects:active:locale=de:page=2
func (k Key) String() string {
	parts := make([]string, 0, 1+len(k.Segments)+len(k.Params))

	if resource := strings.Trim(k.Resource, ":"); resource != "" {
		parts = append(parts, resource)
	}

	for _, segment := range k.Segments {
		if segment = strings.Trim(segment, ":"); segment != "" {
			parts = append(parts, segment)
		}
	}

	// Params sorted for determinism
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Params[name]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(values, ",")))
		}
	}

	return strings.Join(parts, ":")
}

// FullKey joins prefix and key the way the request cache stores them.
func FullKey(key, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
