// Package config provides configuration loading, validation and hot reload.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/hostgate/app"
	"github.com/artpar/hostgate/domain/host"
	"github.com/artpar/hostgate/domain/route"
	"github.com/artpar/hostgate/pkg/httputil"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Logging     LoggingConfig               `yaml:"logging"`
	Env         EnvConfig                   `yaml:"env"`
	Ports       map[int]PortConfig          `yaml:"ports"`
	Defaults    DefaultsConfig              `yaml:"defaults"`
	Hosts       []HostConfig                `yaml:"hosts"`
	RouteTables map[string]RouteTableConfig `yaml:"route_tables"`

	// TableOrder fixes the build order of route tables; tables not listed
	// build afterwards in lexical order.
	TableOrder []string `yaml:"table_order"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	MetricsPort  int           `yaml:"metrics_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
	Access bool   `yaml:"access"` // per-request access log lines
}

// EnvConfig carries the build-time substitution environment.
type EnvConfig struct {
	Conds map[string]string `yaml:"conds"`
	Subs  map[string]string `yaml:"subs"`
}

// PortConfig recovers the client-facing scheme and port for a local
// listener port, for deployments behind a TLS terminator.
type PortConfig struct {
	OrigProto    string `yaml:"orig_proto"`
	OrigProtoVer string `yaml:"orig_proto_ver"`
	OrigPort     int    `yaml:"orig_port"`
}

// DefaultsConfig seeds every host's settings and header maps.
type DefaultsConfig struct {
	AllowWrite          bool          `yaml:"allow_write"`
	NormalizeUrls       bool          `yaml:"normalize_urls"`
	RedirectCode        int           `yaml:"redirect_code"`
	ReduceRedirectCode  int           `yaml:"reduce_redirect_code"`
	RemoveDoubleSlashes bool          `yaml:"remove_double_slashes"`
	RetryLimit          int           `yaml:"retry_limit"`
	Timeout             time.Duration `yaml:"timeout"`

	Headers         map[string]any `yaml:"headers"`
	ProxyHeaders    map[string]any `yaml:"proxy_headers"`
	RedirectHeaders map[string]any `yaml:"redirect_headers"`
}

// HostConfig declares one host block.
type HostConfig struct {
	Hostnames   []string       `yaml:"hostnames"`
	RouteTables []string       `yaml:"route_tables"`
	Timeout     *time.Duration `yaml:"timeout"`

	Headers         map[string]any `yaml:"headers"`
	ProxyHeaders    map[string]any `yaml:"proxy_headers"`
	RedirectHeaders map[string]any `yaml:"redirect_headers"`
}

// RouteTableConfig declares one route table.
type RouteTableConfig struct {
	MatchType             string        `yaml:"match_type"`
	IsCaseSpecific        *bool         `yaml:"is_case_specific"`
	MatchUsingQueryParams bool          `yaml:"match_using_query_params"`
	ForceProto            string        `yaml:"force_proto"`
	ForcePort             int           `yaml:"force_port"`
	DefaultHandler        string        `yaml:"default_handler"`
	RouteNamespace        string        `yaml:"route_namespace"`
	DefaultRedirectCode   int           `yaml:"default_redirect_code"`
	Routes                []RouteConfig `yaml:"routes"`
}

// RouteConfig declares one route.
type RouteConfig struct {
	On    string            `yaml:"on"`
	Conds map[string]string `yaml:"conds"`

	MethodMatch string `yaml:"method_match"`
	HostMatch   string `yaml:"host_match"`
	PortMatch   int    `yaml:"port_match"`
	ProtoMatch  string `yaml:"proto_match"`
	AllowWrite  *bool  `yaml:"allow_write"`
	ForceProto  string `yaml:"force_proto"`
	ForcePort   int    `yaml:"force_port"`
	PostMatch   string `yaml:"post_match"`

	Rewrite      string `yaml:"rewrite"`
	Replace      string `yaml:"replace"`
	MatchParams  bool   `yaml:"match_params"`
	RedirectCode int    `yaml:"redirect_code"`
	Status       int    `yaml:"status"`
	IsLast       bool   `yaml:"is_last"`

	Redirect   string            `yaml:"redirect"`
	Code       int               `yaml:"code"`
	KeepParams bool              `yaml:"keep_params"`
	GeoTarget  map[string]string `yaml:"geo_target"`

	Do      string         `yaml:"do"`
	Options *OptionsConfig `yaml:"options"`
}

// OptionsConfig declares handler options.
type OptionsConfig struct {
	Proxy  *ProxyConfig      `yaml:"proxy"`
	Values map[string]string `yaml:"values"`
}

// ProxyConfig declares the upstream of a proxied route.
type ProxyConfig struct {
	Hostname    string            `yaml:"hostname"`
	Proto       string            `yaml:"proto"`
	Port        int               `yaml:"port"`
	Path        string            `yaml:"path"`
	PathMatch   string            `yaml:"path_match"`
	PathReplace string            `yaml:"path_replace"`
	Query       string            `yaml:"query"`
	Auth        string            `yaml:"auth"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     time.Duration     `yaml:"timeout"`
}

// Load reads and parses the config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 0 // streams and proxies run until done
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// HostsConfig converts the declarative host side into the engine's build
// input. All header maps are coerced and validated here, so a malformed
// value fails the build before it reaches the engine.
func (c *Config) HostsConfig() (app.HostsConfig, error) {
	hc := app.HostsConfig{
		Settings: app.Settings{
			AllowWrite:          c.Defaults.AllowWrite,
			NormalizeUrls:       c.Defaults.NormalizeUrls,
			RedirectCode:        c.Defaults.RedirectCode,
			ReduceRedirectCode:  c.Defaults.ReduceRedirectCode,
			RemoveDoubleSlashes: c.Defaults.RemoveDoubleSlashes,
			RetryLimit:          c.Defaults.RetryLimit,
			Timeout:             c.Defaults.Timeout,
		},
	}

	var err error
	if hc.Defaults.Headers, err = headerMap(c.Defaults.Headers, false); err != nil {
		return hc, fmt.Errorf("defaults.headers: %w", err)
	}
	if hc.Defaults.ProxyHeaders, err = headerMap(c.Defaults.ProxyHeaders, false); err != nil {
		return hc, fmt.Errorf("defaults.proxy_headers: %w", err)
	}
	if hc.Defaults.RedirectHeaders, err = headerMap(c.Defaults.RedirectHeaders, false); err != nil {
		return hc, fmt.Errorf("defaults.redirect_headers: %w", err)
	}
	hc.Defaults.Timeout = c.Defaults.Timeout

	for i, h := range c.Hosts {
		decl := host.Decl{
			Hostnames:   h.Hostnames,
			RouteTables: h.RouteTables,
		}
		if h.Timeout != nil {
			decl.Timeout = *h.Timeout
			decl.HasTimeout = true
		}
		if decl.Headers, err = headerMap(h.Headers, true); err != nil {
			return hc, fmt.Errorf("hosts[%d].headers: %w", i, err)
		}
		if decl.ProxyHeaders, err = headerMap(h.ProxyHeaders, true); err != nil {
			return hc, fmt.Errorf("hosts[%d].proxy_headers: %w", i, err)
		}
		if decl.RedirectHeaders, err = headerMap(h.RedirectHeaders, true); err != nil {
			return hc, fmt.Errorf("hosts[%d].redirect_headers: %w", i, err)
		}
		hc.Hosts = append(hc.Hosts, decl)
	}

	for _, id := range c.tableOrder() {
		hc.Tables = append(hc.Tables, c.tableDecl(id, c.RouteTables[id]))
	}
	return hc, nil
}

// tableOrder returns table ids in build order: the explicit table_order
// list first, then any remaining ids lexically.
func (c *Config) tableOrder() []string {
	seen := make(map[string]bool, len(c.RouteTables))
	order := make([]string, 0, len(c.RouteTables))
	for _, id := range c.TableOrder {
		if _, ok := c.RouteTables[id]; ok && !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	rest := make([]string, 0, len(c.RouteTables))
	for id := range c.RouteTables {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func (c *Config) tableDecl(id string, t RouteTableConfig) route.TableDecl {
	decl := route.TableDecl{
		ID:                    id,
		MatchType:             t.MatchType,
		IsCaseSpecific:        t.IsCaseSpecific,
		MatchUsingQueryParams: t.MatchUsingQueryParams,
		ForceProto:            t.ForceProto,
		ForcePort:             t.ForcePort,
		DefaultHandler:        t.DefaultHandler,
		RouteNamespace:        t.RouteNamespace,
		DefaultRedirectCode:   t.DefaultRedirectCode,
	}
	for _, r := range t.Routes {
		rd := route.RouteDecl{
			On:           r.On,
			Conds:        r.Conds,
			MethodMatch:  r.MethodMatch,
			HostMatch:    r.HostMatch,
			PortMatch:    r.PortMatch,
			ProtoMatch:   r.ProtoMatch,
			AllowWrite:   r.AllowWrite,
			ForceProto:   r.ForceProto,
			ForcePort:    r.ForcePort,
			PostMatch:    r.PostMatch,
			Rewrite:      r.Rewrite,
			Replace:      r.Replace,
			MatchParams:  r.MatchParams,
			RedirectCode: r.RedirectCode,
			Status:       r.Status,
			IsLast:       r.IsLast,
			Redirect:     r.Redirect,
			Code:         r.Code,
			KeepParams:   r.KeepParams,
			GeoTarget:    r.GeoTarget,
			Do:           r.Do,
		}
		if r.Options != nil {
			od := &route.OptionsDecl{Values: r.Options.Values}
			if p := r.Options.Proxy; p != nil {
				od.Proxy = &route.ProxyDecl{
					Hostname:    p.Hostname,
					Proto:       p.Proto,
					Port:        p.Port,
					Path:        p.Path,
					PathMatch:   p.PathMatch,
					PathReplace: p.PathReplace,
					Query:       p.Query,
					Auth:        p.Auth,
					Headers:     p.Headers,
					Timeout:     p.Timeout,
				}
			}
			rd.Options = od
		}
		decl.Routes = append(decl.Routes, rd)
	}
	return decl
}

// PortsMap converts the ports section into the engine's form.
func (c *Config) PortsMap() map[int]app.PortConfig {
	if len(c.Ports) == 0 {
		return nil
	}
	out := make(map[int]app.PortConfig, len(c.Ports))
	for port, pc := range c.Ports {
		out[port] = app.PortConfig{
			OrigProto:    pc.OrigProto,
			OrigProtoVer: pc.OrigProtoVer,
			OrigPort:     pc.OrigPort,
		}
	}
	return out
}

// Validate checks the configuration without building an engine.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	for port, pc := range c.Ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("ports: invalid port %d", port)
		}
		if pc.OrigProto != "http" && pc.OrigProto != "https" {
			return fmt.Errorf("ports[%d].orig_proto %q must be http or https", port, pc.OrigProto)
		}
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("no hosts configured")
	}
	_, err := c.HostsConfig()
	return err
}

// headerMap coerces a raw YAML header map. Numeric values are accepted only
// in override maps (allowNumeric), matching the header-merge contract.
func headerMap(raw map[string]any, allowNumeric bool) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := httputil.HeaderValue(v, allowNumeric)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
