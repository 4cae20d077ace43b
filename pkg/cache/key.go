package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached listing of one shop.
type Key struct {
	// Shop is the store domain.
	Shop string

	// Resource is the Admin API resource, e.g. "collections" or
	// "collections/42/products".
	Resource string

	// Query holds parameters that change the listing's content.
	Query url.Values
}

// String generates a deterministic Redis key.
// Format: shop:{shop}:{resource}:q1=v1:q2=v2
//
// Example:
//
//	shop:demo.myshopify.com:collections/42/products:fields=id,title
func (k Key) String() string {
	parts := []string{"shop", strings.ToLower(strings.TrimSpace(k.Shop))}

	resource := strings.Trim(k.Resource, "/")
	if resource != "" {
		parts = append(parts, resource)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, name+"="+strings.Join(k.Query[name], ","))
		}
	}

	return strings.Join(parts, ":")
}
