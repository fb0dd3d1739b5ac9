// Package invalidate deletes request cache entries in bulk by key namespace
// and reports how many keys each namespace holds.
//
// Invalidation works on the remote store only. Concurrent callers coalesced
// inside a cache.Cache are not affected; their flights end on their own.
package invalidate

import (
	"fmt"
	"sort"

	"github.com/Sternrassler/sitecache/pkg/cache"
)

// Group is a logical set of cached resources sharing one key pattern.
type Group struct {
	Name    string
	Pattern string
}

// ResourceGroup returns the group covering every request cache key of
// resource, i.e. "api:<resource>:*".
func ResourceGroup(resource string) Group {
	return Group{
		Name:    resource,
		Pattern: fmt.Sprintf("%s:%s:*", cache.APIPrefix, resource),
	}
}

// Built-in resource groups.
var (
	Projects     = ResourceGroup("projects")
	Services     = ResourceGroup("services")
	Blog         = ResourceGroup("blog")
	Testimonials = ResourceGroup("testimonials")
	Team         = ResourceGroup("team")
)

// DefaultGroups lists the built-in resource groups.
func DefaultGroups() []Group {
	return []Group{Projects, Services, Blog, Testimonials, Team}
}

// allAPIPattern matches every request cache key.
var allAPIPattern = cache.APIPrefix + ":*"

func groupNames(groups map[string]Group) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
