package route_test

import (
	"strings"

	"github.com/artpar/hostgate/domain/route"
)

// fakeExchange records the terminal action a resolver takes.
type fakeExchange struct {
	method   string
	scheme   string
	hostname string
	port     int
	path     string
	rawQuery string

	sentStatus   int
	sentBody     string
	sentType     string
	jsonValue    any
	redirectCode int
	redirectLoc  string
	errCode      int
	errMessage   string
	rewriteURL   string
	updatedURL   string
	fileSent     string
	proxied      *route.ProxyOptions
	headers      map[string]string
}

func newExchange(method, path string) *fakeExchange {
	return &fakeExchange{
		method:   method,
		scheme:   "http",
		hostname: "example.com",
		port:     80,
		path:     path,
		headers:  map[string]string{},
	}
}

func (f *fakeExchange) Method() string         { return f.method }
func (f *fakeExchange) Scheme() string         { return f.scheme }
func (f *fakeExchange) Hostname() string       { return f.hostname }
func (f *fakeExchange) Port() int              { return f.port }
func (f *fakeExchange) Path() string           { return f.path }
func (f *fakeExchange) NormalizedPath() string { return strings.ToLower(f.path) }
func (f *fakeExchange) RawQuery() string       { return f.rawQuery }

func (f *fakeExchange) URL() string {
	if f.rawQuery == "" {
		return f.path
	}
	return f.path + "?" + f.rawQuery
}

func (f *fakeExchange) SetType(t string)      { f.sentType = t }
func (f *fakeExchange) SetHeader(k, v string) { f.headers[strings.ToLower(k)] = v }

func (f *fakeExchange) Send(status int, body string) {
	f.sentStatus = status
	f.sentBody = body
}

func (f *fakeExchange) JSON(status int, v any) {
	f.sentStatus = status
	f.jsonValue = v
}

func (f *fakeExchange) Redirect(code int, location string) {
	f.redirectCode = code
	f.redirectLoc = location
}

func (f *fakeExchange) Error(code int, message string) {
	f.errCode = code
	f.errMessage = message
}

func (f *fakeExchange) SendFile(path string) { f.fileSent = path }

func (f *fakeExchange) Rewrite(newURL string)   { f.rewriteURL = newURL }
func (f *fakeExchange) UpdateURL(newURL string) { f.updatedURL = newURL }

func (f *fakeExchange) Proxy(opts *route.ProxyOptions) bool {
	f.proxied = opts
	return true
}

var _ route.Exchange = (*fakeExchange)(nil)
