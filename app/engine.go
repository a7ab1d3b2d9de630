package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/hostgate/domain/host"
	"github.com/artpar/hostgate/domain/route"
	"github.com/artpar/hostgate/ports"
)

// Metrics receives the engine's observations. adapters/metrics provides the
// Prometheus implementation; a nil Metrics disables collection.
type Metrics interface {
	ObserveRequest(hostname, action string, status int, d time.Duration)
	ObserveRewritePasses(n int)
	IncProxyError()
	IncReload(ok bool)
}

// SentHook fires once per request, after the response bytes are handed to
// the transport.
type SentHook func(*Request)

// RequestLogger receives one call per finished request.
type RequestLogger func(req *Request, status int, d time.Duration)

// EnvConfig is the code-side environment of an engine: handler namespace,
// substitution inputs, hooks and infrastructure.
type EnvConfig struct {
	// Conds gates conditional routes at build time.
	Conds map[string]string
	// Subs feeds %name% substitution of configured strings.
	Subs map[string]string
	// Handlers is the route-handler namespace tables resolve against.
	Handlers map[string]route.Handler

	OnSent        SentHook
	RequestLogger RequestLogger

	// Ports maps a local listener port to the original scheme/port seen by
	// the client, for deployments behind a TLS terminator.
	Ports map[int]PortConfig

	Logger   zerolog.Logger
	Clock    ports.Clock
	Files    ports.FileSender
	Resolver ports.DNSResolver
	Metrics  Metrics
}

// graph is one immutable configuration generation. In-flight requests keep
// the generation they captured at entry.
type graph struct {
	settings Settings
	hosts    *host.Table
}

// Engine is the top-level dispatcher. It is safe for concurrent use; the
// configuration graph is swapped atomically on reconfigure.
type Engine struct {
	env       EnvConfig
	geo       *route.GeoData
	graph     atomic.Pointer[graph]
	transport *http.Transport
	logger    zerolog.Logger
}

// New validates env, compiles hc and returns a ready engine.
func New(env EnvConfig, hc HostsConfig) (*Engine, error) {
	if env.Clock == nil {
		env.Clock = systemClock{}
	}
	if env.Resolver == nil {
		env.Resolver = ports.SystemResolver{}
	}
	for name, h := range env.Handlers {
		if h == nil {
			return nil, fmt.Errorf("route handler %q is nil", name)
		}
	}
	for port, pc := range env.Ports {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("ports map: invalid port %d", port)
		}
		if pc.OrigProto != "http" && pc.OrigProto != "https" {
			return nil, fmt.Errorf("ports map %d: invalid protocol %q", port, pc.OrigProto)
		}
		if pc.OrigPort < 0 || pc.OrigPort > 65535 {
			return nil, fmt.Errorf("ports map %d: invalid original port %d", port, pc.OrigPort)
		}
	}

	geo, err := route.LoadGeoData()
	if err != nil {
		return nil, fmt.Errorf("geo data: %w", err)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	resolver := env.Resolver
	e := &Engine{
		env:    env,
		geo:    geo,
		logger: env.Logger.With().Str("component", "engine").Logger(),
		transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err == nil {
					if addrs, lerr := resolver.LookupHost(ctx, host); lerr == nil && len(addrs) > 0 {
						addr = net.JoinHostPort(addrs[0], port)
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}

	g, err := e.build(hc)
	if err != nil {
		return nil, err
	}
	e.graph.Store(g)

	e.logger.Info().
		Int("hosts", g.hosts.Len()).
		Int("tables", len(hc.Tables)).
		Msg("engine configured")
	return e, nil
}

// build compiles a configuration into a fresh graph without touching the
// live one.
func (e *Engine) build(hc HostsConfig) (*graph, error) {
	settings := hc.Settings.withDefaults()

	renv := route.Env{
		Conds:             e.env.Conds,
		Subs:              e.env.Subs,
		Handlers:          e.env.Handlers,
		Geo:               e.geo,
		DefaultAllowWrite: settings.AllowWrite,
		Logger:            e.logger,
	}

	tables := make(map[string]*route.Table, len(hc.Tables))
	for _, td := range hc.Tables {
		if td.ID == "" {
			return nil, fmt.Errorf("route table with empty id")
		}
		if _, dup := tables[td.ID]; dup {
			return nil, fmt.Errorf("route table %q declared twice", td.ID)
		}
		t, err := route.NewTable(td, renv)
		if err != nil {
			return nil, err
		}
		tables[td.ID] = t
	}

	hosts, err := host.Build(hc.Hosts, tables, hc.Defaults, e.env.Subs)
	if err != nil {
		return nil, err
	}

	return &graph{settings: settings, hosts: hosts}, nil
}

// Reconfigure compiles hc and atomically publishes it. On error the prior
// configuration stays live.
func (e *Engine) Reconfigure(hc HostsConfig) error {
	g, err := e.build(hc)
	if err != nil {
		if e.env.Metrics != nil {
			e.env.Metrics.IncReload(false)
		}
		e.logger.Error().Err(err).Msg("reconfigure failed, keeping previous configuration")
		return err
	}

	e.graph.Store(g)
	if e.env.Metrics != nil {
		e.env.Metrics.IncReload(true)
	}
	e.logger.Info().Int("hosts", g.hosts.Len()).Msg("configuration reloaded")
	return nil
}

// Settings returns the live settings generation.
func (e *Engine) Settings() Settings {
	return e.graph.Load().settings
}

// HandleRouting is the catch-all HTTP entry point. The embedding server
// must route every method and path here.
func (e *Engine) HandleRouting(w http.ResponseWriter, r *http.Request) {
	req := newRequest(e, e.graph.Load(), w, r)
	req.serve()
}

// Handler adapts the engine to http.Handler.
func (e *Engine) Handler() http.Handler {
	return http.HandlerFunc(e.HandleRouting)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
