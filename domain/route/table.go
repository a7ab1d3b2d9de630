package route

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/hostgate/domain/trie"
	"github.com/artpar/hostgate/pkg/httputil"
)

// MatchType selects the table's matching strategy.
type MatchType int

const (
	MatchTrie MatchType = iota
	MatchRegex
)

// Env is the build-time environment a table is compiled against.
type Env struct {
	// Conds gates conditional routes; a route declaring conds is kept only
	// if every key is present here with an equal value.
	Conds map[string]string
	// Subs feeds %name% substitution of configured strings.
	Subs map[string]string
	// Handlers is the handler namespace routes resolve against.
	Handlers map[string]Handler
	// Geo backs geoTarget expansion. Nil forbids geoTarget routes.
	Geo *GeoData
	// DefaultAllowWrite seeds the per-route write gate.
	DefaultAllowWrite bool

	Logger zerolog.Logger
}

// TableDecl is the declarative description of one route table.
type TableDecl struct {
	ID                    string
	MatchType             string // "trie", "simple" (alias) or "regex"
	IsCaseSpecific        *bool  // default true
	MatchUsingQueryParams bool
	ForceProto            string
	ForcePort             int
	DefaultHandler        string
	RouteNamespace        string
	DefaultRedirectCode   int // default 302
	Routes                []RouteDecl
}

// RouteDecl is the declarative description of one route. Exactly one action
// group (rewrite / redirect / handled) may be present; classification picks
// the first of rewrite, redirect, else handled.
type RouteDecl struct {
	On    string
	Conds map[string]string

	MethodMatch string
	HostMatch   string
	PortMatch   int
	ProtoMatch  string
	AllowWrite  *bool
	ForceProto  string
	ForcePort   int
	PostMatch   string

	Rewrite      string
	Replace      string
	MatchParams  bool
	RedirectCode int
	Status       int
	IsLast       bool

	Redirect   string
	Code       int
	KeepParams bool
	GeoTarget  map[string]string

	Do      string
	Options *OptionsDecl
}

// OptionsDecl is the declarative form of handler options.
type OptionsDecl struct {
	Proxy  *ProxyDecl
	Values map[string]string
}

// ProxyDecl is the declarative form of proxy options.
type ProxyDecl struct {
	Hostname    string
	Proto       string
	Port        int
	Path        string
	PathMatch   string
	PathReplace string
	Query       string
	Auth        string
	Headers     map[string]string
	Timeout     time.Duration
}

// Table is an immutable compiled route table.
type Table struct {
	ID                    string
	MatchType             MatchType
	IsCaseSpecific        bool
	MatchUsingQueryParams bool
	ForceProto            string
	ForcePort             int
	DefaultRedirectCode   int

	trie *trie.Tree[*Route]
	// Regex routes resolve in declaration order; the first match wins
	// regardless of specificity.
	regex []*Route

	logger zerolog.Logger
}

// NewTable compiles decl against env. Any malformed route aborts the build.
func NewTable(decl TableDecl, env Env) (*Table, error) {
	t := &Table{
		ID:                    decl.ID,
		IsCaseSpecific:        decl.IsCaseSpecific == nil || *decl.IsCaseSpecific,
		MatchUsingQueryParams: decl.MatchUsingQueryParams,
		DefaultRedirectCode:   decl.DefaultRedirectCode,
		logger:                env.Logger.With().Str("table", decl.ID).Logger(),
	}

	switch decl.MatchType {
	case "trie", "simple", "":
		t.MatchType = MatchTrie
		t.trie = trie.New[*Route]()
	case "regex":
		t.MatchType = MatchRegex
	default:
		return nil, fmt.Errorf("table %s: unknown match type %q", decl.ID, decl.MatchType)
	}

	if t.DefaultRedirectCode == 0 {
		t.DefaultRedirectCode = 302
	}
	if t.DefaultRedirectCode < 300 || t.DefaultRedirectCode > 399 {
		return nil, fmt.Errorf("table %s: invalid default redirect code %d", decl.ID, t.DefaultRedirectCode)
	}

	var err error
	if t.ForceProto, err = normalizeProto(decl.ForceProto); err != nil {
		return nil, fmt.Errorf("table %s: %w", decl.ID, err)
	}
	if decl.ForcePort < 0 || decl.ForcePort > 65535 {
		return nil, fmt.Errorf("table %s: invalid force port %d", decl.ID, decl.ForcePort)
	}
	t.ForcePort = decl.ForcePort

	for i, rd := range decl.Routes {
		r, err := t.compileRoute(rd, decl, env)
		if err != nil {
			return nil, fmt.Errorf("table %s route %d: %w", decl.ID, i, err)
		}
		if r == nil {
			continue // dropped by conds
		}
		if err := t.register(r); err != nil {
			return nil, fmt.Errorf("table %s route %d: %w", decl.ID, i, err)
		}
	}

	return t, nil
}

// compileRoute prepares one route. It returns (nil, nil) when the route's
// conditionals exclude it from this build.
func (t *Table) compileRoute(d RouteDecl, decl TableDecl, env Env) (*Route, error) {
	for k, want := range d.Conds {
		if env.Conds[k] != httputil.Substitute(want, env.Subs) {
			return nil, nil
		}
	}

	r := &Route{
		On:          httputil.Substitute(d.On, env.Subs),
		HostMatch:   strings.ToLower(httputil.Substitute(d.HostMatch, env.Subs)),
		MethodMatch: strings.ToUpper(d.MethodMatch),
		PortMatch:   d.PortMatch,
		AllowWrite:  env.DefaultAllowWrite,
		ForcePort:   d.ForcePort,
		IsLast:      d.IsLast,
		MatchParams: d.MatchParams,
		KeepParams:  d.KeepParams,
	}
	if d.AllowWrite != nil {
		r.AllowWrite = *d.AllowWrite
	}

	if r.MethodMatch != "" && !httputil.IsMethodValid(r.MethodMatch) {
		return nil, fmt.Errorf("invalid method filter %q", d.MethodMatch)
	}
	if r.HostMatch != "" && !httputil.IsHostnameValid(r.HostMatch) {
		return nil, fmt.Errorf("invalid host filter %q", r.HostMatch)
	}
	if r.PortMatch < 0 || r.PortMatch > 65535 {
		return nil, fmt.Errorf("invalid port filter %d", r.PortMatch)
	}
	var err error
	if r.ProtoMatch, err = normalizeProto(d.ProtoMatch); err != nil {
		return nil, err
	}
	if r.ForceProto, err = normalizeProto(d.ForceProto); err != nil {
		return nil, err
	}
	if r.ForcePort < 0 || r.ForcePort > 65535 {
		return nil, fmt.Errorf("invalid force port %d", r.ForcePort)
	}
	if d.PostMatch != "" {
		if r.PostMatch, err = regexp.Compile(d.PostMatch); err != nil {
			return nil, fmt.Errorf("post match: %w", err)
		}
	}

	switch {
	case d.Rewrite != "":
		err = t.prepareRewrite(r, d, env)
	case d.Redirect != "":
		err = t.prepareRedirect(r, d, env)
	default:
		err = t.prepareHandled(r, d, decl, env)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (t *Table) prepareRewrite(r *Route, d RouteDecl, env Env) error {
	r.Kind = KindRewrite
	pattern := httputil.Substitute(d.Rewrite, env.Subs)

	var err error
	if r.Rewrite, err = regexp.Compile(t.patternFlags() + pattern); err != nil {
		return fmt.Errorf("rewrite pattern: %w", err)
	}
	r.Replace = httputil.Substitute(d.Replace, env.Subs)

	r.Status = d.Status
	if r.Status != 0 && (r.Status < 400 || r.Status > 505) {
		return fmt.Errorf("invalid rewrite status %d", r.Status)
	}

	r.RedirectCode = d.RedirectCode
	if r.RedirectCode == 0 &&
		(strings.HasPrefix(r.Replace, "http:") || strings.HasPrefix(r.Replace, "https:")) {
		r.RedirectCode = t.DefaultRedirectCode
	}
	if r.RedirectCode != 0 && (r.RedirectCode < 301 || r.RedirectCode > 308) {
		return fmt.Errorf("invalid rewrite redirect code %d", r.RedirectCode)
	}

	// A rewrite without its own match key matches on the pattern itself:
	// regex tables use it directly, trie tables get a match-all key.
	if r.On == "" && t.MatchType == MatchRegex {
		r.On = pattern
	}
	return nil
}

func (t *Table) prepareRedirect(r *Route, d RouteDecl, env Env) error {
	r.Kind = KindRedirect
	r.Redirect = httputil.Substitute(d.Redirect, env.Subs)

	u, err := url.Parse(r.Redirect)
	if err != nil {
		return fmt.Errorf("redirect destination: %w", err)
	}
	if u.Host == "" && u.Path == "" {
		return fmt.Errorf("redirect destination %q has neither host nor path", r.Redirect)
	}

	r.Code = d.Code
	if r.Code == 0 {
		r.Code = t.DefaultRedirectCode
	}
	if r.Code < 300 || r.Code > 399 {
		return fmt.Errorf("invalid redirect code %d", r.Code)
	}

	if len(d.GeoTarget) > 0 {
		if env.Geo == nil {
			return fmt.Errorf("geo target declared but no geo data loaded")
		}
		if r.Geo, err = compileGeoTarget(d.GeoTarget, env.Geo, env.Subs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) prepareHandled(r *Route, d RouteDecl, decl TableDecl, env Env) error {
	r.Kind = KindHandled

	name := httputil.Substitute(d.Do, env.Subs)
	if name == "" {
		name = decl.DefaultHandler
	}
	if name == "" {
		return fmt.Errorf("route has no action: no rewrite, redirect or handler")
	}
	if decl.RouteNamespace != "" {
		name = decl.RouteNamespace + "." + name
	}
	h, ok := env.Handlers[name]
	if !ok {
		return fmt.Errorf("unknown route handler %q", name)
	}
	r.HandlerName = name
	r.Handler = h

	if d.Options != nil {
		opts := &Options{}
		if len(d.Options.Values) > 0 {
			opts.Values = make(map[string]string, len(d.Options.Values))
			for k, v := range d.Options.Values {
				opts.Values[k] = httputil.Substitute(v, env.Subs)
			}
		}
		if d.Options.Proxy != nil {
			p, err := compileProxy(d.Options.Proxy, env)
			if err != nil {
				return err
			}
			opts.Proxy = p
		}
		r.Options = opts
	}
	return nil
}

func compileProxy(d *ProxyDecl, env Env) (*ProxyOptions, error) {
	p := &ProxyOptions{
		Hostname: httputil.Substitute(d.Hostname, env.Subs),
		Path:     httputil.Substitute(d.Path, env.Subs),
		Query:    httputil.Substitute(d.Query, env.Subs),
		Auth:     httputil.Substitute(d.Auth, env.Subs),
		Port:     d.Port,
		Timeout:  d.Timeout,
	}

	var err error
	if p.Proto, err = normalizeProto(httputil.Substitute(d.Proto, env.Subs)); err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	if p.Port < 0 || p.Port > 65535 {
		return nil, fmt.Errorf("proxy: invalid port %d", p.Port)
	}
	if d.PathMatch != "" {
		if p.PathMatch, err = regexp.Compile(httputil.Substitute(d.PathMatch, env.Subs)); err != nil {
			return nil, fmt.Errorf("proxy path match: %w", err)
		}
	}
	p.PathReplace = httputil.Substitute(d.PathReplace, env.Subs)
	if len(d.Headers) > 0 {
		p.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			p.Headers[strings.ToLower(k)] = httputil.Substitute(v, env.Subs)
		}
	}
	return p, nil
}

// register adds a compiled route to the table's matcher.
func (t *Table) register(r *Route) error {
	if t.MatchType == MatchRegex {
		pattern, err := regexp.Compile(t.patternFlags() + r.On)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", r.On, err)
		}
		r.Pattern = pattern
		t.regex = append(t.regex, r)
		return nil
	}

	key := r.On
	if !t.IsCaseSpecific {
		key = strings.ToLower(key)
	}
	return t.trie.Add(key, r)
}

// patternFlags returns the regex flag prefix implied by case specificity.
func (t *Table) patternFlags() string {
	if t.IsCaseSpecific {
		return ""
	}
	return "(?i)"
}

func normalizeProto(p string) (string, error) {
	switch p {
	case "", "http", "https":
		return p, nil
	default:
		return "", fmt.Errorf("invalid protocol %q", p)
	}
}
