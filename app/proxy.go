package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/artpar/hostgate/domain/route"
	"github.com/artpar/hostgate/pkg/httputil"
)

// hopByHop headers are never forwarded in either direction.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Proxy forwards the exchange to the upstream described by opts and streams
// the response back. It always finalizes the exchange and returns true.
func (req *Request) Proxy(opts *route.ProxyOptions) bool {
	if opts == nil || opts.Hostname == "" {
		req.Error(502, "Proxy hostname not set")
		return true
	}

	target := req.proxyURL(opts)

	timeout := opts.Timeout
	if timeout == 0 && req.hostCfg != nil {
		timeout = req.hostCfg.Timeout
	}
	if timeout == 0 {
		timeout = req.graph.settings.Timeout
	}

	ctx := req.r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.rawBody != nil {
		body = bytes.NewReader(req.rawBody)
	} else if req.r.Body != nil {
		body = req.r.Body
	}

	upstream, err := http.NewRequestWithContext(ctx, req.method, target.String(), body)
	if err != nil {
		req.Error(502, "")
		return true
	}
	req.proxyHeaders(upstream, opts)

	client := &http.Client{
		Transport: req.engine.transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(upstream)
	if err != nil {
		if ctx.Err() != nil {
			req.logger.Error().Str("upstream", target.Host).Dur("timeout", timeout).Msg("proxy upstream timed out")
		} else {
			req.logger.Error().Err(err).Str("upstream", target.Host).Msg("proxy upstream failed")
		}
		if m := req.engine.env.Metrics; m != nil {
			m.IncProxyError()
		}
		req.Error(502, "")
		return true
	}
	defer resp.Body.Close()

	if !req.finalize() {
		return true
	}

	for k, vs := range resp.Header {
		if hopByHop[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			req.w.Header().Add(k, v)
		}
	}
	for k, v := range req.headers {
		req.w.Header().Set(k, v)
	}
	rerootLocation(req.w.Header(), resp.StatusCode, target)

	req.w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(req.w, resp.Body); err != nil {
		req.logger.Debug().Err(err).Msg("proxy body copy interrupted")
	}
	req.afterSend(resp.StatusCode, "proxy")
	return true
}

// proxyURL assembles the upstream URL from the proxy options and the
// request.
func (req *Request) proxyURL(opts *route.ProxyOptions) *url.URL {
	scheme := opts.Proto
	if scheme == "" {
		if req.protoVer == "2.0" {
			scheme = "https"
		} else {
			scheme = req.scheme
		}
	}

	host := opts.Hostname
	if opts.Port != 0 && opts.Port != httputil.DefaultPort(scheme) {
		host += ":" + strconv.Itoa(opts.Port)
	}

	upath := req.path
	if opts.Path != "" {
		upath = opts.Path
	}
	if opts.PathMatch != nil {
		upath = opts.PathMatch.ReplaceAllString(upath, opts.PathReplace)
	}

	query := req.rawQuery
	if opts.Query != "" {
		query = opts.Query
	}

	u := &url.URL{Scheme: scheme, Host: host, Path: upath, RawQuery: query}
	if opts.Auth != "" {
		if user, pass, ok := strings.Cut(opts.Auth, ":"); ok {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(opts.Auth)
		}
	}
	return u
}

// proxyHeaders builds the upstream header set: the original request headers
// minus hop-by-hop, the host's proxy header map, the route's proxy headers,
// and the X-Forwarded-* chain.
func (req *Request) proxyHeaders(upstream *http.Request, opts *route.ProxyOptions) {
	for k, vs := range req.r.Header {
		if hopByHop[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			upstream.Header.Add(k, v)
		}
	}

	var extra map[string]string
	if req.hostCfg != nil {
		extra = req.hostCfg.ProxyHeaders
	}
	for k, v := range httputil.MergeHeaders(extra, opts.Headers) {
		if k == "host" {
			upstream.Host = v
			continue
		}
		upstream.Header.Set(k, v)
	}

	if prior := upstream.Header.Get("X-Forwarded-For"); prior != "" {
		local := req.local
		if local == "" {
			local = req.ip
		}
		upstream.Header.Set("X-Forwarded-For", prior+", "+local)
	} else {
		upstream.Header.Set("X-Forwarded-For", req.ip)
	}
	if upstream.URL.Scheme != req.scheme {
		upstream.Header.Set("X-Forwarded-Proto", req.scheme)
	}
	upstream.Header.Set("X-Forwarded-Host", req.origHost)
	upstream.Header.Set("X-Request-ID", req.id)
}

// rerootLocation strips the scheme and host from a redirect Location that
// points back at the proxy target, so the client follows it through this
// server again.
func rerootLocation(h http.Header, status int, target *url.URL) {
	switch status {
	case 301, 302, 303, 307, 308:
	default:
		return
	}
	loc := h.Get("Location")
	if loc == "" {
		return
	}
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() {
		return
	}
	if !strings.EqualFold(u.Hostname(), target.Hostname()) {
		return
	}
	h.Set("Location", u.RequestURI())
}
