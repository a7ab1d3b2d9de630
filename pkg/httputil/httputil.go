// Package httputil provides small request/header helpers shared by the
// routing engine: method and hostname validation, %name% substitution,
// header merging, and host/port splitting.
package httputil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hostnameRE = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)

// IsHostnameValid reports whether s is a syntactically valid hostname:
// dot-separated labels of letters, digits, underscores and dashes.
func IsHostnameValid(s string) bool {
	return hostnameRE.MatchString(s)
}

// validMethods is the closed set of HTTP methods the engine accepts.
var validMethods = map[string]bool{
	"ACL": true, "CHECKOUT": true, "CONNECT": true, "COPY": true,
	"DELETE": true, "GET": true, "HEAD": true, "LOCK": true,
	"MERGE": true, "MKACTIVITY": true, "MKCALENDAR": true, "MKCOL": true,
	"MOVE": true, "NOTIFY": true, "OPTIONS": true, "PATCH": true,
	"POST": true, "PROPFIND": true, "PROPPATCH": true, "PURGE": true,
	"PUT": true, "REPORT": true, "SEARCH": true, "SUBSCRIBE": true,
	"TRACE": true, "UNLOCK": true, "UNSUBSCRIBE": true,
}

// writeMethods are the methods that can carry a request body and mutate
// upstream state.
var writeMethods = map[string]bool{
	"POST": true, "PUT": true, "DELETE": true, "LOCK": true,
	"MERGE": true, "MKACTIVITY": true, "MKCOL": true, "MOVE": true,
	"PATCH": true, "PURGE": true, "UNLOCK": true, "UNSUBSCRIBE": true,
}

// IsMethodValid reports whether m is a known HTTP method.
func IsMethodValid(m string) bool {
	return validMethods[m]
}

// IsWriteMethod reports whether m is a write (state-changing) method.
func IsWriteMethod(m string) bool {
	return writeMethods[m]
}

// Substitute replaces %name% tokens in s with subs[name]. Tokens whose name
// is not a key of subs are left in place. The scan resumes after a
// substituted region, so replacement values containing % never expand again.
func Substitute(s string, subs map[string]string) string {
	if subs == nil || !strings.ContainsRune(s, '%') {
		return s
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.IndexByte(s[i:], '%')
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		end += start + 1

		name := s[start+1 : end]
		if val, ok := subs[name]; ok {
			b.WriteString(s[i:start])
			b.WriteString(val)
			i = end + 1
			continue
		}
		// Unknown token: keep the leading % literal and rescan from the
		// closing one, which may open the next token.
		b.WriteString(s[i : start+1])
		i = start + 1
	}
	return b.String()
}

// MergeHeaders returns a fresh map holding base then extra, with all keys
// lower-cased. Values from extra override base.
func MergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[strings.ToLower(k)] = v
	}
	for k, v := range extra {
		out[strings.ToLower(k)] = v
	}
	return out
}

// HeaderValue coerces a raw configuration value into a header string.
// Strings pass through; numeric values are allowed in override maps and are
// formatted; anything else is a configuration error.
func HeaderValue(v any, allowNumeric bool) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		if allowNumeric {
			return strconv.Itoa(t), nil
		}
	case int64:
		if allowNumeric {
			return strconv.FormatInt(t, 10), nil
		}
	case float64:
		if allowNumeric {
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		}
	}
	return "", fmt.Errorf("invalid header value %v (%T)", v, v)
}

// SplitHostPort splits a Host header value into hostname and port. When no
// port is present the scheme default (80/443) is used. The hostname is
// lower-cased and anything from the first comma or whitespace on is dropped,
// which covers clients that fold multiple Host values into one line.
func SplitHostPort(hostHeader, scheme string) (string, int) {
	host := hostHeader
	if i := strings.IndexAny(host, ", \t"); i >= 0 {
		host = host[:i]
	}

	port := 0
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		if p, err := strconv.Atoi(host[i+1:]); err == nil && p >= 1 && p <= 65535 {
			port = p
		}
		host = host[:i]
	}
	if port == 0 {
		port = DefaultPort(scheme)
	}
	return strings.ToLower(host), port
}

// DefaultPort returns the default port for a scheme.
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}
