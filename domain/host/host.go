// Package host maps request hostnames to their configuration and ordered
// route resolvers. The table is built once per configuration and read-only
// afterwards.
package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/hostgate/domain/route"
	"github.com/artpar/hostgate/pkg/httputil"
)

// Wildcard is the hostname that catches lookups with no exact entry.
const Wildcard = "*"

// Config is the immutable per-host configuration.
type Config struct {
	// Timeout bounds proxy upstream exchanges for this host. 0 leaves the
	// engine-wide timeout in effect; a host cannot disable the timeout.
	Timeout time.Duration

	// Header maps already merged over the configured defaults, keys
	// lower-cased. Any of them may be nil.
	Headers         map[string]string
	ProxyHeaders    map[string]string
	RedirectHeaders map[string]string
}

// Entry binds a host's config to its route resolvers in table order.
type Entry struct {
	Config    Config
	Resolvers []route.Resolver
}

// Decl is the declarative description of one host block.
type Decl struct {
	Hostnames   []string
	RouteTables []string
	Timeout     time.Duration
	HasTimeout  bool

	Headers         map[string]string
	ProxyHeaders    map[string]string
	RedirectHeaders map[string]string
}

// Defaults seed every host's config.
type Defaults struct {
	Timeout         time.Duration
	Headers         map[string]string
	ProxyHeaders    map[string]string
	RedirectHeaders map[string]string
}

// Table maps lower-cased hostnames to entries.
type Table struct {
	entries map[string]*Entry
}

// Build compiles host declarations against the already-built route tables.
// Hostnames run through %name% substitution first; a name substituted to
// the empty string drops silently. Binding the same hostname twice is an
// error, as is referencing an unknown route table.
func Build(decls []Decl, tables map[string]*route.Table, defaults Defaults, subs map[string]string) (*Table, error) {
	t := &Table{entries: make(map[string]*Entry)}

	for i, d := range decls {
		cfg := Config{
			Timeout:         defaults.Timeout,
			Headers:         mergeOrNil(defaults.Headers, d.Headers),
			ProxyHeaders:    mergeOrNil(defaults.ProxyHeaders, d.ProxyHeaders),
			RedirectHeaders: mergeOrNil(defaults.RedirectHeaders, d.RedirectHeaders),
		}
		if d.HasTimeout {
			cfg.Timeout = d.Timeout
		}

		resolvers := make([]route.Resolver, 0, len(d.RouteTables))
		for _, id := range d.RouteTables {
			rt, ok := tables[id]
			if !ok {
				return nil, fmt.Errorf("host block %d: unknown route table %q", i, id)
			}
			resolvers = append(resolvers, rt.Resolver())
		}

		entry := &Entry{Config: cfg, Resolvers: resolvers}
		for _, raw := range d.Hostnames {
			name := httputil.Substitute(raw, subs)
			if name == "" {
				continue
			}
			name = strings.ToLower(name)
			if name != Wildcard && !httputil.IsHostnameValid(name) {
				return nil, fmt.Errorf("host block %d: invalid hostname %q", i, name)
			}
			if _, dup := t.entries[name]; dup {
				return nil, fmt.Errorf("host block %d: hostname %q bound twice", i, name)
			}
			t.entries[name] = entry
		}
	}

	return t, nil
}

// Lookup resolves hostname (already lower-cased) to its entry, falling back
// to the wildcard entry. Returns nil when neither exists.
func (t *Table) Lookup(hostname string) *Entry {
	if e, ok := t.entries[hostname]; ok {
		return e
	}
	return t.entries[Wildcard]
}

// Len returns the number of bound hostnames.
func (t *Table) Len() int { return len(t.entries) }

func mergeOrNil(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	return httputil.MergeHeaders(base, extra)
}
