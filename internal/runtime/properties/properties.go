// Package properties holds the string property bag carried by every bus message.
package properties

import "maps"

// Properties is the application property map attached to a message. Routing
// filters and subscription rules match against these values.
type Properties map[string]string

// Clone returns a shallow copy. A nil receiver yields an empty, non-nil map.
func (p Properties) Clone() Properties {
	cloned := make(Properties, len(p))
	maps.Copy(cloned, p)
	return cloned
}

// With returns a copy of p containing key=value.
func (p Properties) With(key, value string) Properties {
	cloned := p.Clone()
	cloned[key] = value
	return cloned
}

// WithAll returns a copy of p containing all supplied entries.
func (p Properties) WithAll(entries Properties) Properties {
	cloned := p.Clone()
	maps.Copy(cloned, entries)
	return cloned
}

// Get returns the value stored under key and whether it exists.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// ContainsAll reports whether every entry of required is present in p with an
// equal value. An empty requirement is always satisfied.
func (p Properties) ContainsAll(required Properties) bool {
	for k, v := range required {
		if got, ok := p[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Equal reports whether both maps hold the same entries. Nil and empty maps are equal.
func (p Properties) Equal(other Properties) bool {
	return len(p) == len(other) && p.ContainsAll(other)
}

// Without returns a copy of p with the supplied keys removed.
func (p Properties) Without(keys ...string) Properties {
	cloned := p.Clone()
	for _, k := range keys {
		delete(cloned, k)
	}
	return cloned
}

// New constructs Properties from alternating key/value pairs.
func New(pairs ...string) Properties {
	p := make(Properties, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		p[pairs[i]] = pairs[i+1]
	}
	return p
}
