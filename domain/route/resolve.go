package route

import (
	"strconv"
	"strings"

	"github.com/artpar/hostgate/pkg/httputil"
)

// Resolver returns the table's bound resolver callable.
func (t *Table) Resolver() Resolver {
	return t.Resolve
}

// Resolve matches the request against the table and, on a hit, runs the
// matched route's action. It returns true when the exchange was handled.
func (t *Table) Resolve(ex Exchange) bool {
	key := t.matchKey(ex)
	if t.MatchType == MatchRegex {
		return t.resolveRegex(ex, key)
	}
	return t.resolveTrie(ex, key)
}

// matchKey builds the key the matcher sees: the (optionally lower-cased)
// path, plus the literal "?"+query when the table matches on query params.
func (t *Table) matchKey(ex Exchange) string {
	key := ex.NormalizedPath()
	if t.IsCaseSpecific {
		key = ex.Path()
	}
	if t.MatchUsingQueryParams {
		key += "?" + ex.RawQuery()
	}
	return key
}

func (t *Table) resolveTrie(ex Exchange, key string) bool {
	r, match, ok := t.trie.Find(key, func(r *Route) bool { return r.RuntimeChecks(ex) })
	if !ok {
		return false
	}

	tail := key[len(match):]
	if r.PostMatch != nil && !r.PostMatch.MatchString(tail) {
		return false
	}

	if fp := r.forceProto(t); fp != "" && fp != ex.Scheme() {
		t.forceProtoRedirect(ex, r, fp)
		return true
	}
	return t.dispatch(ex, r, Args{Matches: []string{match, tail}, Key: key})
}

func (t *Table) resolveRegex(ex Exchange, key string) bool {
	for _, r := range t.regex {
		m := r.Pattern.FindStringSubmatch(key)
		if m == nil || !r.RuntimeChecks(ex) {
			continue
		}

		if fp := r.forceProto(t); fp != "" && fp != ex.Scheme() {
			t.forceProtoRedirect(ex, r, fp)
			return true
		}
		return t.dispatch(ex, r, Args{Matches: m, Key: key})
	}
	return false
}

// dispatch runs the matched route's action. A panic inside an action or
// handler is logged and converted to a 500; the exchange counts as handled.
func (t *Table) dispatch(ex Exchange, r *Route, args Args) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error().
				Interface("panic", rec).
				Str("on", r.On).
				Msg("route action panicked")
			ex.Error(500, "")
			handled = true
		}
	}()

	switch r.Kind {
	case KindRedirect:
		return t.redirectAction(ex, r)
	case KindRewrite:
		return t.rewriteAction(ex, r)
	default:
		return r.Handler(ex, r, args)
	}
}

// forceProtoRedirect issues the protocol-coercion redirect of a route (or
// table) whose forceProto disagrees with the request scheme. It preempts
// the route's own action.
func (t *Table) forceProtoRedirect(ex Exchange, r *Route, proto string) {
	var b strings.Builder
	b.WriteString(proto)
	b.WriteString("://")
	b.WriteString(ex.Hostname())
	if port := r.forcePort(t); port != 0 && port != httputil.DefaultPort(proto) {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(port))
	}
	b.WriteString(ex.Path())
	if q := ex.RawQuery(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	ex.Redirect(301, b.String())
}

// redirectAction replies with the route's redirect, or with the geo
// redirector page when a geo target is configured.
func (t *Table) redirectAction(ex Exchange, r *Route) bool {
	loc := r.Redirect
	if r.KeepParams {
		if q := ex.RawQuery(); q != "" {
			sep := "?"
			if strings.Contains(loc, "?") {
				sep = "&"
			}
			loc += sep + q
		}
	}

	if r.Geo == nil {
		ex.Redirect(r.Code, loc)
		return true
	}

	ex.SetType("text/html")
	ex.Send(200, r.Geo.Page(loc))
	return true
}

// rewriteAction applies the route's rewrite. With a status it short-circuits
// to an empty-bodied reply; with a redirect code it redirects to the
// rewritten URL; an isLast rewrite updates the URL in place and returns false
// so matching continues; otherwise it re-enters routing with the new URL. It
// also returns false when no rewrite was produced.
func (t *Table) rewriteAction(ex Exchange, r *Route) bool {
	if r.Status != 0 {
		ex.Send(r.Status, "")
		return true
	}

	var newURL string
	if r.MatchParams {
		in := ex.URL()
		out := r.Rewrite.ReplaceAllString(in, r.Replace)
		if out == in {
			return false
		}
		newURL = out
	} else {
		in := ex.Path()
		out := r.Rewrite.ReplaceAllString(in, r.Replace)
		if out == in {
			return false
		}
		newURL = out
		// A pre-existing query is re-joined with "&"; the path-only
		// rewrite never sees or produces one.
		if q := ex.RawQuery(); q != "" {
			newURL += "&" + q
		}
	}

	if r.RedirectCode != 0 {
		ex.Redirect(r.RedirectCode, newURL)
		return true
	}
	if r.IsLast {
		ex.UpdateURL(newURL)
		return false
	}
	ex.Rewrite(newURL)
	return true
}
