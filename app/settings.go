// Package app wires the routing core together: it owns the per-request
// pipeline and the engine that composes host and route tables.
package app

import (
	"time"

	"github.com/artpar/hostgate/domain/host"
	"github.com/artpar/hostgate/domain/route"
)

// Settings are the engine-wide knobs carried into every request.
type Settings struct {
	// AllowWrite lets routes without a method filter match write methods.
	AllowWrite bool
	// NormalizeUrls runs percent-escape normalization on entry and rewrite.
	NormalizeUrls bool
	// RedirectCode is the default redirect status (302).
	RedirectCode int
	// ReduceRedirectCode is the status of the entry-time double-slash
	// collapse redirect (301).
	ReduceRedirectCode int
	// RemoveDoubleSlashes collapses // runs in paths.
	RemoveDoubleSlashes bool
	// RetryLimit bounds rewrite recursion (20).
	RetryLimit int
	// Timeout bounds proxy upstream exchanges (20s) unless the route or
	// host sets a non-zero timeout of its own, which replaces it.
	Timeout time.Duration
}

// withDefaults fills zero values with the documented defaults.
func (s Settings) withDefaults() Settings {
	if s.RedirectCode == 0 {
		s.RedirectCode = 302
	}
	if s.ReduceRedirectCode == 0 {
		s.ReduceRedirectCode = 301
	}
	if s.RetryLimit == 0 {
		s.RetryLimit = 20
	}
	if s.Timeout == 0 {
		s.Timeout = 20 * time.Second
	}
	return s
}

// PortConfig recovers the true client-facing scheme, protocol version and
// port for connections accepted on a given local port, for deployments
// behind a TLS terminator.
type PortConfig struct {
	OrigProto    string // "http" or "https"
	OrigProtoVer string // "1.1" or "2.0"
	OrigPort     int
}

// HostsConfig is the declarative host-side configuration an engine is built
// or reconfigured from.
type HostsConfig struct {
	Settings Settings
	Defaults host.Defaults
	Tables   []route.TableDecl
	Hosts    []host.Decl
}
