package route_test

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/hostgate/domain/route"
)

func testEnv(t *testing.T) route.Env {
	t.Helper()
	geo, err := route.LoadGeoData()
	if err != nil {
		t.Fatalf("LoadGeoData: %v", err)
	}
	return route.Env{
		Conds: map[string]string{"env": "prod"},
		Subs:  map[string]string{"cdn": "cdn.example.com", "env": "prod"},
		Handlers: map[string]route.Handler{
			"noop": func(route.Exchange, *route.Route, route.Args) bool { return true },
			"api.v2": func(route.Exchange, *route.Route, route.Args) bool {
				return true
			},
		},
		Geo:    geo,
		Logger: zerolog.Nop(),
	}
}

func TestNewTable_MatchTypes(t *testing.T) {
	env := testEnv(t)

	for _, mt := range []string{"trie", "simple", ""} {
		if _, err := route.NewTable(route.TableDecl{ID: "t", MatchType: mt}, env); err != nil {
			t.Errorf("match type %q should build: %v", mt, err)
		}
	}
	if _, err := route.NewTable(route.TableDecl{ID: "t", MatchType: "regex"}, env); err != nil {
		t.Errorf("regex table should build: %v", err)
	}
	if _, err := route.NewTable(route.TableDecl{ID: "t", MatchType: "glob"}, env); err == nil {
		t.Error("unknown match type should fail")
	}
}

func TestNewTable_BadRouteAbortsBuild(t *testing.T) {
	env := testEnv(t)

	tests := []struct {
		name  string
		decl  route.RouteDecl
		table route.TableDecl
	}{
		{"bad method filter", route.RouteDecl{On: "/a", MethodMatch: "FETCH", Do: "noop"}, route.TableDecl{}},
		{"bad host filter", route.RouteDecl{On: "/a", HostMatch: "ex ample", Do: "noop"}, route.TableDecl{}},
		{"bad proto filter", route.RouteDecl{On: "/a", ProtoMatch: "ftp", Do: "noop"}, route.TableDecl{}},
		{"bad port filter", route.RouteDecl{On: "/a", PortMatch: 70000, Do: "noop"}, route.TableDecl{}},
		{"unknown handler", route.RouteDecl{On: "/a", Do: "nope"}, route.TableDecl{}},
		{"no action", route.RouteDecl{On: "/a"}, route.TableDecl{}},
		{"bad rewrite regex", route.RouteDecl{On: "/a", Rewrite: "("}, route.TableDecl{}},
		{"bad rewrite status", route.RouteDecl{On: "/a", Rewrite: "^/a$", Status: 200}, route.TableDecl{}},
		{"bad rewrite redirect code", route.RouteDecl{On: "/a", Rewrite: "^/a$", RedirectCode: 200}, route.TableDecl{}},
		{"bad redirect code", route.RouteDecl{On: "/a", Redirect: "/new", Code: 200}, route.TableDecl{}},
		{"empty redirect", route.RouteDecl{On: "/a", Redirect: "?q=1"}, route.TableDecl{}},
		{"bad post match", route.RouteDecl{On: "/a", PostMatch: "(", Do: "noop"}, route.TableDecl{}},
		{"unknown geo key", route.RouteDecl{On: "/a", Redirect: "/new", GeoTarget: map[string]string{"atlantis": "/x"}}, route.TableDecl{}},
		{"bad proxy port", route.RouteDecl{On: "/a", Do: "noop", Options: &route.OptionsDecl{Proxy: &route.ProxyDecl{Hostname: "up", Port: 70000}}}, route.TableDecl{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := tt.table
			decl.ID = "t"
			decl.Routes = []route.RouteDecl{tt.decl}
			if _, err := route.NewTable(decl, env); err == nil {
				t.Error("expected build error")
			}
		})
	}
}

func TestNewTable_CondsDropRoutes(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID: "t",
		Routes: []route.RouteDecl{
			{On: "/kept", Conds: map[string]string{"env": "prod"}, Do: "noop"},
			{On: "/dropped", Conds: map[string]string{"env": "dev"}, Do: "noop"},
			// A dropped route is never validated further, so this bad
			// handler name must not abort the build.
			{On: "/also-dropped", Conds: map[string]string{"missing": "x"}, Do: "no-such-handler"},
		},
	}
	table, err := route.NewTable(decl, env)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	ex := newExchange("GET", "/kept")
	if !table.Resolve(ex) {
		t.Error("kept route should match")
	}
	if table.Resolve(newExchange("GET", "/dropped")) {
		t.Error("dropped route should not match")
	}
}

func TestNewTable_CondValueSubstitution(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID: "t",
		Routes: []route.RouteDecl{
			{On: "/a", Conds: map[string]string{"env": "%env%"}, Do: "noop"},
		},
	}
	table, err := route.NewTable(decl, env)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if !table.Resolve(newExchange("GET", "/a")) {
		t.Error("route with substituted cond value should be kept")
	}
}

func TestNewTable_Substitution(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID: "t",
		Routes: []route.RouteDecl{
			{On: "/go", Redirect: "https://%cdn%/assets"},
		},
	}
	table, err := route.NewTable(decl, env)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	ex := newExchange("GET", "/go")
	if !table.Resolve(ex) {
		t.Fatal("route should match")
	}
	if ex.redirectLoc != "https://cdn.example.com/assets" {
		t.Errorf("redirect location = %q", ex.redirectLoc)
	}
}

func TestNewTable_DuplicateTrieKey(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID: "t",
		Routes: []route.RouteDecl{
			{On: "/a#", Do: "noop"},
			{On: "/a#", Do: "noop"},
		},
	}
	if _, err := route.NewTable(decl, env); err == nil {
		t.Error("duplicate trie key should fail the build")
	} else if !strings.Contains(err.Error(), "uplicate") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewTable_RouteNamespace(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID:             "t",
		RouteNamespace: "api",
		Routes:         []route.RouteDecl{{On: "/x", Do: "v2"}},
	}
	if _, err := route.NewTable(decl, env); err != nil {
		t.Errorf("namespaced handler lookup failed: %v", err)
	}

	decl.Routes = []route.RouteDecl{{On: "/x", Do: "noop"}}
	if _, err := route.NewTable(decl, env); err == nil {
		t.Error("handler outside the namespace should not resolve")
	}
}

func TestNewTable_DefaultHandler(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID:             "t",
		DefaultHandler: "noop",
		Routes:         []route.RouteDecl{{On: "/x"}},
	}
	table, err := route.NewTable(decl, env)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if !table.Resolve(newExchange("GET", "/x")) {
		t.Error("default-handler route should match")
	}
}

func TestNewTable_RewriteRedirectCodeAutoSet(t *testing.T) {
	env := testEnv(t)

	decl := route.TableDecl{
		ID:                  "t",
		DefaultRedirectCode: 307,
		Routes: []route.RouteDecl{
			{On: "/a/", Rewrite: "^/a/(.*)$", Replace: "https://b.example.com/$1"},
		},
	}
	table, err := route.NewTable(decl, env)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	ex := newExchange("GET", "/a/path")
	if !table.Resolve(ex) {
		t.Fatal("rewrite route should match")
	}
	if ex.redirectCode != 307 {
		t.Errorf("redirect code = %d, want table default 307", ex.redirectCode)
	}
	if ex.redirectLoc != "https://b.example.com/path" {
		t.Errorf("redirect location = %q", ex.redirectLoc)
	}
}
