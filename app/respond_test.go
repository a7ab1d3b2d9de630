package app_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/hostgate/adapters/fileserver"
	"github.com/artpar/hostgate/app"
	"github.com/artpar/hostgate/domain/host"
	"github.com/artpar/hostgate/domain/route"
)

// handlerEngine routes everything to the given handler.
func handlerEngine(t *testing.T, h route.Handler, mutate func(*app.EnvConfig)) *app.Engine {
	t.Helper()
	return newEngine(t, app.HostsConfig{
		Tables: []route.TableDecl{{
			ID:     "main",
			Routes: []route.RouteDecl{{On: "/", Do: "under-test"}},
		}},
		Hosts: []host.Decl{{Hostnames: []string{"*"}, RouteTables: []string{"main"}}},
	}, func(env *app.EnvConfig) {
		env.Handlers["under-test"] = h
		if mutate != nil {
			mutate(env)
		}
	})
}

func TestRespond_JSON(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.JSON(200, map[string]any{"ok": true})
		return true
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRespond_JSONPWithCallback(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.(*app.Request).JSONP(200, map[string]any{"ok": true})
		return true
	}, nil)

	w := do(engine, "GET", "http://h/x?callback=cb", nil)
	if w.Body.String() != `cb({"ok":true});` {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/javascript" {
		t.Errorf("content type = %q", ct)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("jsonp must set nosniff")
	}
}

func TestRespond_JSONPWithoutCallback(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.(*app.Request).JSONP(200, []int{1, 2})
		return true
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if w.Body.String() != `[1,2]` {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestRespond_EndPromotesErrorCodes(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.(*app.Request).End(404)
		return true
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if w.Code != 404 {
		t.Errorf("status = %d", w.Code)
	}
	if w.Body.String() != "Not Found" {
		t.Errorf("body = %q, want the reason phrase", w.Body.String())
	}
}

func TestRespond_EndPlainStatus(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.(*app.Request).End(204)
		return true
	}, nil)

	if w := do(engine, "GET", "http://h/x", nil); w.Code != 204 {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRespond_SendDefaultContentType(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.Send(200, "<p>hi</p>")
		return true
	}, nil)

	w := do(engine, "GET", "http://h/page", nil)
	if ct := w.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("content type = %q, want text/html fallback", ct)
	}
}

func TestRespond_SendInfersTypeFromPath(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.Send(200, "body{}")
		return true
	}, nil)

	w := do(engine, "GET", "http://h/styles.css", nil)
	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/css") {
		t.Errorf("content type = %q, want text/css", ct)
	}
}

func TestRespond_DoubleSendIsSuppressed(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.Send(201, "first")
		ex.Send(500, "second")
		return true
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if w.Code != 201 || w.Body.String() != "first" {
		t.Errorf("got %d %q, want the first send only", w.Code, w.Body.String())
	}
}

func TestRespond_SendFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(file, []byte("hello file"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.SendFile(file)
		return true
	}, func(env *app.EnvConfig) {
		env.Files = fileserver.Local{}
	})

	w := do(engine, "GET", "http://h/hello.txt", nil)
	if w.Code != 200 || w.Body.String() != "hello file" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestRespond_SendFileMissingIs404(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.SendFile(filepath.Join(t.TempDir(), "nope.txt"))
		return true
	}, func(env *app.EnvConfig) {
		env.Files = fileserver.Local{}
	})

	if w := do(engine, "GET", "http://h/x", nil); w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRespond_SendFileDirectoryIs404(t *testing.T) {
	dir := t.TempDir()
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.SendFile(dir)
		return true
	}, func(env *app.EnvConfig) {
		env.Files = fileserver.Local{}
	})

	if w := do(engine, "GET", "http://h/x", nil); w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRespond_PerRequestHeaders(t *testing.T) {
	engine := handlerEngine(t, func(ex route.Exchange, _ *route.Route, _ route.Args) bool {
		ex.SetHeader("X-Custom", "v1")
		ex.Send(200, "ok")
		return true
	}, nil)

	w := do(engine, "GET", "http://h/x", nil)
	if got := w.Header().Get("X-Custom"); got != "v1" {
		t.Errorf("X-Custom = %q", got)
	}
}
