package app

import (
	"path"
	"strconv"
	"strings"

	"github.com/artpar/hostgate/domain/route"
)

// BuiltinHandlers returns the stock route-handler namespace: proxy, static
// and status. Callers may merge their own handlers over it.
func BuiltinHandlers() map[string]route.Handler {
	return map[string]route.Handler{
		"proxy":  ProxyHandler,
		"static": StaticHandler,
		"status": StatusHandler,
	}
}

// ProxyHandler forwards the exchange per the route's proxy options.
func ProxyHandler(ex route.Exchange, r *route.Route, _ route.Args) bool {
	var opts *route.ProxyOptions
	if r.Options != nil {
		opts = r.Options.Proxy
	}
	return ex.Proxy(opts)
}

// StaticHandler serves files under the route's root option. The unmatched
// tail of a prefix match selects the file; an exact match serves the root's
// index.html.
func StaticHandler(ex route.Exchange, r *route.Route, args route.Args) bool {
	root := ""
	if r.Options != nil {
		root = r.Options.Values["root"]
	}
	if root == "" {
		ex.Error(500, "Static route has no root")
		return true
	}

	rel := args.Match(1)
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel = path.Join(rel, "index.html")
	}
	clean := path.Clean("/" + rel)
	ex.SendFile(path.Join(root, clean))
	return true
}

// StatusHandler replies with a fixed status and optional body from the
// route options.
func StatusHandler(ex route.Exchange, r *route.Route, _ route.Args) bool {
	code := 200
	body := ""
	if r.Options != nil {
		if s := r.Options.Values["status"]; s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				code = n
			}
		}
		body = r.Options.Values["body"]
	}
	ex.Send(code, body)
	return true
}
