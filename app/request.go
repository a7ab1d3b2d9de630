package app

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpar/hostgate/domain/host"
	"github.com/artpar/hostgate/pkg/httputil"
)

// Request is the per-request pipeline state. One value is created per
// incoming request, owned by that request's goroutine, and discarded after
// the response is finalized. It implements route.Exchange.
type Request struct {
	engine *Engine
	graph  *graph

	id       string
	scheme   string
	protoVer string
	method   string
	hostname string
	origHost string
	port     int
	ip       string
	local    string // ip of the accepting socket

	path           string
	normalizedPath string
	rawQuery       string
	queryParams    map[string]any

	isXhr bool

	typ     string
	body    any
	rawBody []byte

	headers   map[string]string
	routePass int
	hostCfg   *host.Config

	w     http.ResponseWriter
	r     *http.Request
	sent  bool
	start time.Time

	logger zerolog.Logger
}

// newRequest derives the request state from the transport request, applying
// the ports map to recover the client-facing scheme and port behind a TLS
// terminator.
func newRequest(e *Engine, g *graph, w http.ResponseWriter, r *http.Request) *Request {
	req := &Request{
		engine:   e,
		graph:    g,
		id:       uuid.NewString(),
		method:   r.Method,
		origHost: r.Host,
		headers:  make(map[string]string),
		w:        w,
		r:        r,
		start:    e.env.Clock.Now(),
	}

	req.scheme = "http"
	if r.TLS != nil {
		req.scheme = "https"
	}
	req.protoVer = "1.1"
	if r.ProtoMajor == 2 {
		req.protoVer = "2.0"
	}

	localIP, localPort := localAddr(r)
	req.local = localIP
	origPort := 0
	if pc, ok := e.env.Ports[localPort]; ok {
		req.scheme = pc.OrigProto
		if pc.OrigProtoVer != "" {
			req.protoVer = pc.OrigProtoVer
		}
		origPort = pc.OrigPort
	}

	req.hostname, req.port = httputil.SplitHostPort(r.Host, req.scheme)
	if origPort != 0 {
		req.port = origPort
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.ip = ip
	} else {
		req.ip = r.RemoteAddr
	}
	req.isXhr = r.Header.Get("X-Requested-With") == "XMLHttpRequest"

	// The engine works on the wire form of the path; URL.Path has escapes
	// already decoded.
	req.path = r.URL.EscapedPath()
	req.rawQuery = r.URL.RawQuery
	req.normalizedPath = strings.ToLower(req.path)

	req.logger = e.logger.With().
		Str("req", req.id).
		Str("host", req.hostname).
		Str("method", req.method).
		Logger()
	return req
}

func localAddr(r *http.Request) (string, int) {
	addr, _ := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if addr == nil {
		return "", 0
	}
	ip, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port := 0
	for i := 0; i < len(portStr); i++ {
		port = port*10 + int(portStr[i]-'0')
	}
	return ip, port
}

// serve runs the pipeline: host check, normalization, body ingestion, then
// the routing loop.
func (req *Request) serve() {
	if req.hostname == "" {
		req.Error(400, "Missing Host header")
		return
	}

	settings := req.graph.settings
	if settings.NormalizeUrls {
		out, ok := normalizeAndReduce(req.url())
		if !ok {
			req.Error(404, "")
			return
		}
		req.setURL(out)
	}

	if settings.RemoveDoubleSlashes && strings.Contains(req.path, "//") {
		loc := collapseSlashes(req.path)
		if req.rawQuery != "" {
			loc += "?" + req.rawQuery
		}
		req.Redirect(settings.ReduceRedirectCode, loc)
		return
	}

	req.parseQuery()

	if err := req.readBody(); err != nil {
		req.Error(err.Code, err.Message)
		return
	}

	req.doRoute()
}

// doRoute resolves the host and walks its resolvers. Rewrites re-enter here
// with routePass incremented; passes beyond the retry limit fail with 500.
func (req *Request) doRoute() {
	settings := req.graph.settings
	if req.routePass > settings.RetryLimit {
		req.Error(500, "Rewrite limit exceeded")
		return
	}

	entry := req.graph.hosts.Lookup(req.hostname)
	if entry == nil {
		req.Error(503, "Unknown host")
		return
	}
	req.hostCfg = &entry.Config

	for _, resolve := range entry.Resolvers {
		if resolve(req) {
			return
		}
	}
	req.Error(404, "")
}

// Rewrite points the request at newURL and re-enters routing. A URL whose
// origin (scheme, host or port) differs from the request's becomes a client
// redirect instead.
func (req *Request) Rewrite(newURL string) {
	u, err := url.Parse(newURL)
	if err != nil {
		req.Error(500, "Invalid rewrite target")
		return
	}

	if u.IsAbs() {
		scheme := u.Scheme
		hostname := strings.ToLower(u.Hostname())
		port := httputil.DefaultPort(scheme)
		if p := u.Port(); p != "" {
			port = atoiOr(p, port)
		}
		if scheme != req.scheme || hostname != req.hostname || port != req.port {
			req.Redirect(req.graph.settings.RedirectCode, newURL)
			return
		}
		newURL = u.RequestURI()
	}

	if !req.applyURL(newURL) {
		return
	}
	req.routePass++
	req.doRoute()
}

// UpdateURL applies the same URL mutation as Rewrite without re-entering
// routing, so the current resolver pass continues with the new URL.
func (req *Request) UpdateURL(newURL string) {
	req.applyURL(newURL)
}

// applyURL re-normalizes and installs a rewritten URL. Unlike at entry, a
// double-slash path is collapsed in place rather than redirected.
func (req *Request) applyURL(newURL string) bool {
	if req.graph.settings.NormalizeUrls {
		out, ok := normalizeAndReduce(newURL)
		if !ok {
			req.Error(404, "")
			return false
		}
		newURL = out
	}
	req.setURL(newURL)
	if req.graph.settings.RemoveDoubleSlashes && strings.Contains(req.path, "//") {
		req.path = collapseSlashes(req.path)
		req.normalizedPath = strings.ToLower(req.path)
	}
	req.parseQuery()
	return true
}

// setURL splits a path?query string into the request's URL fields.
func (req *Request) setURL(u string) {
	path, query := u, ""
	if i := strings.IndexByte(u, '?'); i >= 0 {
		path, query = u[:i], u[i+1:]
	}
	req.path = path
	req.normalizedPath = strings.ToLower(path)
	req.rawQuery = query
}

// url returns the path?query form of the current request URL.
func (req *Request) url() string {
	if req.rawQuery == "" {
		return req.path
	}
	return req.path + "?" + req.rawQuery
}

// parseQuery decodes the raw query into queryParams. Duplicate keys follow
// last-wins; a bare key decodes to boolean true.
func (req *Request) parseQuery() {
	req.queryParams = make(map[string]any)
	for _, pair := range strings.Split(req.rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, hasValue := strings.Cut(pair, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if !hasValue {
			req.queryParams[k] = true
			continue
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		req.queryParams[k] = v
	}
}

func atoiOr(s string, fallback int) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return fallback
		}
		n = n*10 + int(s[i]-'0')
	}
	if n < 1 || n > 65535 {
		return fallback
	}
	return n
}

// Exchange accessors.

// Method returns the HTTP method.
func (req *Request) Method() string { return req.method }

// Scheme returns "http" or "https".
func (req *Request) Scheme() string { return req.scheme }

// Hostname returns the lower-cased request hostname.
func (req *Request) Hostname() string { return req.hostname }

// Port returns the client-facing port.
func (req *Request) Port() int { return req.port }

// Path returns the request path.
func (req *Request) Path() string { return req.path }

// NormalizedPath returns the lower-cased request path.
func (req *Request) NormalizedPath() string { return req.normalizedPath }

// RawQuery returns the raw query string without the leading "?".
func (req *Request) RawQuery() string { return req.rawQuery }

// URL returns the path?query form of the request URL.
func (req *Request) URL() string { return req.url() }

// ID returns the request id.
func (req *Request) ID() string { return req.id }

// IsXhr reports whether the request was flagged as XMLHttpRequest.
func (req *Request) IsXhr() bool { return req.isXhr }

// RoutePass returns the rewrite-recursion counter.
func (req *Request) RoutePass() int { return req.routePass }

// Body returns the ingested request body: nil, raw bytes, parsed JSON or a
// parsed form map.
func (req *Request) Body() any { return req.body }

// QueryParam returns the decoded query parameter, which is a string or
// boolean true for bare keys.
func (req *Request) QueryParam(name string) any { return req.queryParams[name] }

// SetType sets the MIME hint used for the response Content-Type.
func (req *Request) SetType(contentType string) { req.typ = contentType }

// SetHeader records a response header override.
func (req *Request) SetHeader(key, value string) {
	req.headers[strings.ToLower(key)] = value
}

// normalizeAndReduce walks percent escapes in u: unreserved characters are
// decoded, other escapes get their hex uppercased, and any encoded CR or LF
// rejects the URL. After the walk the URL is also rejected when an
// unescaped % remains in the path portion (before any ?).
func normalizeAndReduce(u string) (string, bool) {
	var b strings.Builder
	b.Grow(len(u))

	newline := false
	badEscape := false
	inQuery := false

	for i := 0; i < len(u); {
		c := u[i]
		if c == '?' {
			inQuery = true
		}
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}

		if i+2 >= len(u) || !isHex(u[i+1]) || !isHex(u[i+2]) {
			if !inQuery {
				badEscape = true
			}
			b.WriteByte(c)
			i++
			continue
		}

		v := hexVal(u[i+1])<<4 | hexVal(u[i+2])
		switch {
		case v == 0x0D || v == 0x0A:
			newline = true
			i += 3
		case isUnreserved(byte(v)):
			b.WriteByte(byte(v))
			i += 3
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex(u[i+1]))
			b.WriteByte(upperHex(u[i+2]))
			i += 3
		}
	}

	if newline || badEscape {
		return "", false
	}
	return b.String(), true
}

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' ||
		c >= '0' && c <= '9' || c == '-' || c == '.' || c == '_' || c == '~'
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

func upperHex(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

// collapseSlashes reduces every run of slashes in path to a single one.
func collapseSlashes(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
