// Package config loads and validates the proxy's INI configuration file into
// the typed, immutable Config struct consumed by the rest of the proxy.
package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"regexp"

	"github.com/gns3net/gns3-proxy/pkg/constants"
	"github.com/gns3net/gns3-proxy/pkg/errors"
	"gopkg.in/ini.v1"
)

// Mapping is an ordered (user_pattern -> server_name) routing rule.
type Mapping struct {
	UserPattern *regexp.Regexp
	ServerName  string
}

// ProjectFilter is an ordered (user_pattern -> project_name_pattern) rule.
type ProjectFilter struct {
	UserPattern    *regexp.Regexp
	ProjectPattern *regexp.Regexp
}

// DenyRule is an ordered five-field deny tuple. An empty pattern field means
// "match anything" for that field.
type DenyRule struct {
	UserPattern   *regexp.Regexp
	MethodPattern *regexp.Regexp
	URLPattern    *regexp.Regexp
	HeaderPattern *regexp.Regexp
	BodyPattern   *regexp.Regexp
}

// Config is the immutable, shared configuration consumed by every session.
type Config struct {
	ListenHost string
	ListenPort int

	BackendPort       int
	BackendCredential string // pre-encoded "Basic base64(user:password)"

	DefaultBackend string

	Servers map[string]string // symbolic name -> IPv4 address
	Users   map[string]string // username -> cleartext password

	Mappings       []Mapping
	ProjectFilters []ProjectFilter
	DenyRules      []DenyRule

	ServerRecvBufSize int
	ClientRecvBufSize int

	Backlog       int
	OpenFileLimit int

	// LogLevel is set from the CLI flag, not the config file, but is
	// threaded through the Config so call sites have a single source of
	// runtime settings.
	LogLevel string
}

var quotedPairRe = regexp.MustCompile(`^"([^"]*)":"([^"]*)"$`)
var quotedFiveRe = regexp.MustCompile(`^"([^"]*)":"([^"]*)":"([^"]*)":"([^"]*)":"([^"]*)"$`)

// Load parses and validates the INI configuration file at path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.NewConfigError("load", fmt.Sprintf("reading config file %s", path), err)
	}

	cfg := &Config{
		ListenHost:        constants.DefaultListenHost,
		ListenPort:        constants.DefaultListenPort,
		BackendPort:       constants.DefaultBackendPort,
		Backlog:           constants.DefaultBacklog,
		OpenFileLimit:     constants.DefaultOpenFileLimit,
		ServerRecvBufSize: constants.DefaultRecvBufSize,
		ClientRecvBufSize: constants.DefaultRecvBufSize,
		Servers:           map[string]string{},
		Users:             map[string]string{},
	}

	if err := loadProxySection(f, cfg); err != nil {
		return nil, err
	}
	if err := loadServers(f, cfg); err != nil {
		return nil, err
	}
	loadUsers(f, cfg)
	if err := loadMappings(f, cfg); err != nil {
		return nil, err
	}
	if err := loadProjectFilters(f, cfg); err != nil {
		return nil, err
	}
	if err := loadDenyRules(f, cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadProxySection(f *ini.File, cfg *Config) error {
	if !f.HasSection("proxy") {
		return nil
	}
	sec := f.Section("proxy")

	if v := sec.Key("hostname").String(); v != "" {
		cfg.ListenHost = v
	}
	if sec.HasKey("port") {
		port, err := sec.Key("port").Int()
		if err != nil {
			return errors.NewConfigError("load", "proxy.port is not an integer", err)
		}
		cfg.ListenPort = port
	}
	if sec.HasKey("backend_port") {
		port, err := sec.Key("backend_port").Int()
		if err != nil {
			return errors.NewConfigError("load", "proxy.backend_port is not an integer", err)
		}
		cfg.BackendPort = port
	}
	if v := sec.Key("default_server").String(); v != "" {
		cfg.DefaultBackend = v
	}
	if sec.HasKey("backlog") {
		backlog, err := sec.Key("backlog").Int()
		if err != nil {
			return errors.NewConfigError("load", "proxy.backlog is not an integer", err)
		}
		cfg.Backlog = backlog
	}
	if sec.HasKey("server-recvbuf-size") {
		n, err := sec.Key("server-recvbuf-size").Int()
		if err != nil {
			return errors.NewConfigError("load", "proxy.server-recvbuf-size is not an integer", err)
		}
		cfg.ServerRecvBufSize = n
	}
	if sec.HasKey("client-recvbuf-size") {
		n, err := sec.Key("client-recvbuf-size").Int()
		if err != nil {
			return errors.NewConfigError("load", "proxy.client-recvbuf-size is not an integer", err)
		}
		cfg.ClientRecvBufSize = n
	}
	if sec.HasKey("open-file-limit") {
		n, err := sec.Key("open-file-limit").Int()
		if err != nil {
			return errors.NewConfigError("load", "proxy.open-file-limit is not an integer", err)
		}
		cfg.OpenFileLimit = n
	}

	user := sec.Key("backend_user").String()
	password := sec.Key("backend_password").String()
	cfg.BackendCredential = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))

	return nil
}

func loadServers(f *ini.File, cfg *Config) error {
	if !f.HasSection("servers") {
		return nil
	}
	for _, key := range f.Section("servers").Keys() {
		addr := key.String()
		if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil {
			return errors.NewConfigError("load", fmt.Sprintf("servers.%s is not a valid IPv4 address: %q", key.Name(), addr), nil)
		}
		cfg.Servers[key.Name()] = addr
	}
	return nil
}

func loadUsers(f *ini.File, cfg *Config) {
	if !f.HasSection("users") {
		return
	}
	for _, key := range f.Section("users").Keys() {
		cfg.Users[key.Name()] = key.String()
	}
}

func loadMappings(f *ini.File, cfg *Config) error {
	if !f.HasSection("mapping") {
		return nil
	}
	for _, key := range f.Section("mapping").Keys() {
		m := quotedPairRe.FindStringSubmatch(key.String())
		if m == nil {
			return errors.NewConfigError("load", fmt.Sprintf("mapping.%s does not match \"user\":\"server\" form: %q", key.Name(), key.String()), nil)
		}
		re, err := regexp.Compile(anchor(m[1]))
		if err != nil {
			return errors.NewConfigError("load", fmt.Sprintf("mapping.%s user pattern does not compile", key.Name()), err)
		}
		cfg.Mappings = append(cfg.Mappings, Mapping{UserPattern: re, ServerName: m[2]})
	}
	return nil
}

func loadProjectFilters(f *ini.File, cfg *Config) error {
	if !f.HasSection("project-filter") {
		return nil
	}
	for _, key := range f.Section("project-filter").Keys() {
		m := quotedPairRe.FindStringSubmatch(key.String())
		if m == nil {
			return errors.NewConfigError("load", fmt.Sprintf("project-filter.%s does not match \"user\":\"project\" form: %q", key.Name(), key.String()), nil)
		}
		userRe, err := regexp.Compile(anchor(m[1]))
		if err != nil {
			return errors.NewConfigError("load", fmt.Sprintf("project-filter.%s user pattern does not compile", key.Name()), err)
		}
		projectRe, err := regexp.Compile(anchor(m[2]))
		if err != nil {
			return errors.NewConfigError("load", fmt.Sprintf("project-filter.%s project pattern does not compile", key.Name()), err)
		}
		cfg.ProjectFilters = append(cfg.ProjectFilters, ProjectFilter{UserPattern: userRe, ProjectPattern: projectRe})
	}
	return nil
}

func loadDenyRules(f *ini.File, cfg *Config) error {
	if !f.HasSection("deny") {
		return nil
	}
	for _, key := range f.Section("deny").Keys() {
		m := quotedFiveRe.FindStringSubmatch(key.String())
		if m == nil {
			return errors.NewConfigError("load", fmt.Sprintf("deny.%s does not match the five-field quoted form: %q", key.Name(), key.String()), nil)
		}
		rule, err := compileDenyRule(m[1], m[2], m[3], m[4], m[5])
		if err != nil {
			return errors.NewConfigError("load", fmt.Sprintf("deny.%s pattern does not compile", key.Name()), err)
		}
		cfg.DenyRules = append(cfg.DenyRules, rule)
	}
	return nil
}

func compileDenyRule(user, method, url, header, body string) (DenyRule, error) {
	var rule DenyRule
	var err error
	if rule.UserPattern, err = compileOptional(user); err != nil {
		return rule, err
	}
	if rule.MethodPattern, err = compileOptional(method); err != nil {
		return rule, err
	}
	if rule.URLPattern, err = compileOptional(url); err != nil {
		return rule, err
	}
	if rule.HeaderPattern, err = compileOptional(header); err != nil {
		return rule, err
	}
	if rule.BodyPattern, err = compileOptional(body); err != nil {
		return rule, err
	}
	return rule, nil
}

// compileOptional compiles pattern, or returns nil if pattern is empty
// (empty means "match anything" per the deny-rule semantics).
func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(anchor(pattern))
}

// anchor wraps pattern so that matches are full-string, per the "anchored
// regular expressions (full-string match)" rule in §3.
func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

func validate(cfg *Config) error {
	for _, m := range cfg.Mappings {
		if _, ok := cfg.Servers[m.ServerName]; !ok {
			return errors.NewConfigError("validate", fmt.Sprintf("mapping references unknown server %q", m.ServerName), nil)
		}
	}

	if cfg.DefaultBackend != "" {
		if _, ok := cfg.Servers[cfg.DefaultBackend]; !ok {
			if net.ParseIP(cfg.DefaultBackend) == nil {
				return errors.NewConfigError("validate", fmt.Sprintf("default_server %q is neither a known server name nor a valid IP address", cfg.DefaultBackend), nil)
			}
		}
	}

	return nil
}
