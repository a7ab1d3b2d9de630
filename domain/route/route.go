// Package route compiles declarative route descriptions into immutable
// route tables and resolves requests against them. A table matches with
// either a radix trie or an ordered regex list; matched routes dispatch to
// one of three actions: redirect, rewrite, or a named handler.
package route

import (
	"regexp"
	"time"

	"github.com/artpar/hostgate/pkg/httputil"
)

// Exchange is the per-request surface a matched route acts on. The request
// pipeline implements it; actions and handlers terminate the exchange
// through its response primitives or re-enter routing through Rewrite.
type Exchange interface {
	Method() string
	Scheme() string
	Hostname() string
	Port() int
	Path() string
	NormalizedPath() string
	RawQuery() string
	URL() string

	SetType(contentType string)
	SetHeader(key, value string)
	Send(status int, body string)
	JSON(status int, v any)
	Redirect(code int, location string)
	Error(code int, message string)
	SendFile(path string)

	// Rewrite updates the request URL and re-enters routing. UpdateURL
	// applies the same URL mutation without re-entering, so resolution
	// continues in the current pass.
	Rewrite(newURL string)
	UpdateURL(newURL string)

	// Proxy forwards the exchange upstream per opts and finalizes it.
	Proxy(opts *ProxyOptions) bool
}

// Resolver attempts to match a request against one table. It returns true
// when the exchange was handled (a terminal action ran).
type Resolver func(Exchange) bool

// Handler is a user-supplied route action. It must either terminate the
// exchange and return true, or return false to let matching continue.
type Handler func(ex Exchange, r *Route, args Args) bool

// Args carries the match context into a handler. Matches[0] is the matched
// portion of the key; in trie mode Matches[1] is the unmatched tail, in
// regex mode Matches[1:] are the capture groups. Key is the full match key.
type Args struct {
	Matches []string
	Key     string
}

// Match returns Matches[i], or "" when absent.
func (a Args) Match(i int) string {
	if i < 0 || i >= len(a.Matches) {
		return ""
	}
	return a.Matches[i]
}

// Kind discriminates the three route actions.
type Kind int

const (
	KindHandled Kind = iota
	KindRewrite
	KindRedirect
)

// Route is a compiled rule: a match pattern, runtime filters, and exactly
// one action.
type Route struct {
	Kind Kind
	On   string

	// Runtime filters, evaluated on every match attempt.
	MethodMatch string
	HostMatch   string
	PortMatch   int
	ProtoMatch  string
	AllowWrite  bool
	ForceProto  string
	ForcePort   int
	PostMatch   *regexp.Regexp

	// Regex-mode match pattern compiled from On.
	Pattern *regexp.Regexp

	// Rewrite action.
	Rewrite      *regexp.Regexp
	Replace      string
	MatchParams  bool
	RedirectCode int
	Status       int
	IsLast       bool

	// Redirect action.
	Redirect   string
	Code       int
	KeepParams bool
	Geo        *GeoTarget

	// Handled action.
	HandlerName string
	Handler     Handler
	Options     *Options
}

// Options carries per-route handler options. Proxy is recognized by the
// engine's proxy primitive; Values holds any remaining string options for
// custom handlers.
type Options struct {
	Proxy  *ProxyOptions
	Values map[string]string
}

// ProxyOptions describes the upstream of a proxied route.
type ProxyOptions struct {
	Hostname    string
	Proto       string
	Port        int
	Path        string
	PathMatch   *regexp.Regexp
	PathReplace string
	Query       string
	Auth        string
	Headers     map[string]string
	Timeout     time.Duration
}

// RuntimeChecks evaluates the route's filters against the request: method
// (or, absent a method filter, the write-method gate), port, host, and
// protocol must all agree.
func (r *Route) RuntimeChecks(ex Exchange) bool {
	if r.MethodMatch != "" {
		if r.MethodMatch != ex.Method() {
			return false
		}
	} else if !r.AllowWrite && httputil.IsWriteMethod(ex.Method()) {
		return false
	}
	if r.PortMatch != 0 && r.PortMatch != ex.Port() {
		return false
	}
	if r.HostMatch != "" && r.HostMatch != ex.Hostname() {
		return false
	}
	if r.ProtoMatch != "" && r.ProtoMatch != ex.Scheme() {
		return false
	}
	return true
}

// forceProto returns the protocol coercion in effect for this route within
// table t: the route's own wins over the table's.
func (r *Route) forceProto(t *Table) string {
	if r.ForceProto != "" {
		return r.ForceProto
	}
	return t.ForceProto
}

func (r *Route) forcePort(t *Table) int {
	if r.ForcePort != 0 {
		return r.ForcePort
	}
	return t.ForcePort
}
