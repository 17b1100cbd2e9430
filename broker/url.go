package broker

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// ConnectionURL is a parsed scheme://host[,host2,...][?key=value&...] broker address.
type ConnectionURL struct {
	Scheme string
	// Address is everything between the scheme separator and the query string, including
	// credentials and paths where the native client understands them.
	Address  string
	Bindings map[string]string
}

func ParseURL(raw string) (ConnectionURL, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok || scheme == "" {
		return ConnectionURL{}, fmt.Errorf("invalid connection url %q: missing scheme", raw)
	}

	u := ConnectionURL{Scheme: strings.ToLower(scheme), Bindings: map[string]string{}}
	address, query, _ := strings.Cut(rest, "?")
	u.Address = address
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return ConnectionURL{}, fmt.Errorf("invalid connection url %q: %w", raw, err)
		}
		for k, v := range values {
			if len(v) > 0 {
				u.Bindings[k] = v[len(v)-1]
			}
		}
	}
	return u, nil
}

// Hosts splits the address into its comma separated hosts, dropping credentials and paths.
func (u ConnectionURL) Hosts() []string {
	address := u.Address
	if _, after, found := strings.Cut(address, "@"); found {
		address = after
	}
	if before, _, found := strings.Cut(address, "/"); found {
		address = before
	}

	var hosts []string
	for h := range strings.SplitSeq(address, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Native renders the address for a native client under the given scheme, keeping only the
// bindings for which keep returns true as query parameters.
func (u ConnectionURL) Native(scheme string, keep func(key string) bool) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(u.Address)

	values := url.Values{}
	for _, k := range slices.Sorted(maps.Keys(u.Bindings)) {
		if keep == nil || keep(k) {
			values.Set(k, u.Bindings[k])
		}
	}
	if len(values) > 0 {
		b.WriteByte('?')
		b.WriteString(values.Encode())
	}
	return b.String()
}
