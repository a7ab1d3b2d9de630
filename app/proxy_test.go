package app_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/artpar/hostgate/app"
	"github.com/artpar/hostgate/domain/host"
	"github.com/artpar/hostgate/domain/route"
)

// proxyEngine builds an engine with a single proxy route pointing at the
// given backend URL.
func proxyEngine(t *testing.T, backendURL string, decl func(*route.ProxyDecl), hc func(*app.HostsConfig)) *app.Engine {
	t.Helper()
	u, err := url.Parse(backendURL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	pd := &route.ProxyDecl{Hostname: u.Hostname(), Port: port, Proto: "http"}
	if decl != nil {
		decl(pd)
	}

	cfg := app.HostsConfig{
		Tables: []route.TableDecl{{
			ID: "main",
			Routes: []route.RouteDecl{
				{On: "/", Do: "proxy", Options: &route.OptionsDecl{Proxy: pd}},
			},
		}},
		Hosts: []host.Decl{{Hostnames: []string{"*"}, RouteTables: []string{"main"}}},
	}
	if hc != nil {
		hc(&cfg)
	}
	return newEngine(t, cfg, nil)
}

func withLocalAddr(r *http.Request, ip string, port int) *http.Request {
	addr := &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
	return r.WithContext(context.WithValue(r.Context(), http.LocalAddrContextKey, net.Addr(addr)))
}

func TestProxy_ForwardsAndCopiesResponse(t *testing.T) {
	var seen *http.Request
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(201)
		io.WriteString(w, "backend says hi")
	}))
	defer backend.Close()

	engine := proxyEngine(t, backend.URL, nil, nil)

	r := httptest.NewRequest("GET", "http://front.example.com/api/users?page=2", nil)
	r.Header.Set("Accept", "application/json")
	r.RemoteAddr = "2.2.2.2:5000"
	r = withLocalAddr(r, "3.3.3.3", 80)
	w := httptest.NewRecorder()
	engine.HandleRouting(w, r)

	if w.Code != 201 {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if w.Body.String() != "backend says hi" {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get("X-Backend") != "yes" {
		t.Error("upstream headers should be copied")
	}

	if seen == nil {
		t.Fatal("backend saw no request")
	}
	if seen.URL.Path != "/api/users" || seen.URL.RawQuery != "page=2" {
		t.Errorf("backend got %q ? %q", seen.URL.Path, seen.URL.RawQuery)
	}
	if got := seen.Header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
	if got := seen.Header.Get("X-Forwarded-For"); got != "2.2.2.2" {
		t.Errorf("X-Forwarded-For = %q, want the client ip", got)
	}
	if got := seen.Header.Get("X-Forwarded-Host"); got != "front.example.com" {
		t.Errorf("X-Forwarded-Host = %q", got)
	}
}

func TestProxy_AppendsLocalAddrToForwardedFor(t *testing.T) {
	var got string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Forwarded-For")
	}))
	defer backend.Close()

	engine := proxyEngine(t, backend.URL, nil, nil)

	r := httptest.NewRequest("GET", "http://front.example.com/x", nil)
	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	r.RemoteAddr = "2.2.2.2:5000"
	r = withLocalAddr(r, "3.3.3.3", 80)
	engine.HandleRouting(httptest.NewRecorder(), r)

	if got != "1.1.1.1, 3.3.3.3" {
		t.Errorf("X-Forwarded-For = %q, want \"1.1.1.1, 3.3.3.3\"", got)
	}
}

func TestProxy_PathRewriteAndHeaders(t *testing.T) {
	var seen *http.Request
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
	}))
	defer backend.Close()

	engine := proxyEngine(t, backend.URL, func(pd *route.ProxyDecl) {
		pd.PathMatch = "^/api/"
		pd.PathReplace = "/internal/"
		pd.Headers = map[string]string{"X-Gateway": "hostgate"}
	}, nil)

	r := httptest.NewRequest("GET", "http://h/api/users", nil)
	engine.HandleRouting(httptest.NewRecorder(), r)

	if seen == nil {
		t.Fatal("backend saw no request")
	}
	if seen.URL.Path != "/internal/users" {
		t.Errorf("path = %q, want /internal/users", seen.URL.Path)
	}
	if seen.Header.Get("X-Gateway") != "hostgate" {
		t.Error("proxy option headers should be set")
	}
}

func TestProxy_HostProxyHeaders(t *testing.T) {
	var got string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-From-Host-Config")
	}))
	defer backend.Close()

	engine := proxyEngine(t, backend.URL, nil, func(hc *app.HostsConfig) {
		hc.Defaults.ProxyHeaders = map[string]string{"X-From-Host-Config": "1"}
	})

	engine.HandleRouting(httptest.NewRecorder(), httptest.NewRequest("GET", "http://h/x", nil))
	if got != "1" {
		t.Errorf("X-From-Host-Config = %q, want 1", got)
	}
}

func TestProxy_RerootsRedirectLocation(t *testing.T) {
	var backendHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://"+backendHost+"/moved?x=1")
		w.WriteHeader(302)
	}))
	defer backend.Close()
	backendHost = backend.Listener.Addr().String()

	engine := proxyEngine(t, backend.URL, nil, nil)

	w := httptest.NewRecorder()
	engine.HandleRouting(w, httptest.NewRequest("GET", "http://h/x", nil))

	if w.Code != 302 {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/moved?x=1" {
		t.Errorf("location = %q, want scheme/host stripped", loc)
	}
}

func TestProxy_KeepsForeignRedirectLocation(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://elsewhere.example.com/moved")
		w.WriteHeader(301)
	}))
	defer backend.Close()

	engine := proxyEngine(t, backend.URL, nil, nil)

	w := httptest.NewRecorder()
	engine.HandleRouting(w, httptest.NewRequest("GET", "http://h/x", nil))

	if loc := w.Header().Get("Location"); loc != "https://elsewhere.example.com/moved" {
		t.Errorf("location = %q, want untouched foreign host", loc)
	}
}

func TestProxy_MissingHostnameIs502(t *testing.T) {
	engine := newEngine(t, app.HostsConfig{
		Tables: []route.TableDecl{{
			ID: "main",
			Routes: []route.RouteDecl{
				{On: "/", Do: "proxy", Options: &route.OptionsDecl{Proxy: &route.ProxyDecl{}}},
			},
		}},
		Hosts: []host.Decl{{Hostnames: []string{"*"}, RouteTables: []string{"main"}}},
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if w.Code != 502 {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestProxy_UnreachableUpstreamIs502(t *testing.T) {
	// A closed listener port: nothing is listening there anymore.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := backend.URL
	backend.Close()

	engine := proxyEngine(t, deadURL, func(pd *route.ProxyDecl) {
		pd.Timeout = 2 * time.Second
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if w.Code != 502 {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestProxy_BodyForwarded(t *testing.T) {
	var gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer backend.Close()

	engine := proxyEngine(t, backend.URL, nil, func(hc *app.HostsConfig) {
		hc.Settings.AllowWrite = true
	})

	r := httptest.NewRequest("POST", "http://h/submit", strings.NewReader(`{"a":1}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Content-Length", "7")
	w := httptest.NewRecorder()
	engine.HandleRouting(w, r)

	if gotBody != `{"a":1}` {
		t.Errorf("backend body = %q", gotBody)
	}
}
