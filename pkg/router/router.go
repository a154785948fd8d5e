// Package router picks a backend address for an authenticated user by
// applying the configured ordered mapping rules, falling back to the
// default backend.
package router

import (
	"net"

	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/errors"
)

// SelectBackend returns the backend IPv4 address to route authenticatedUser
// to, applying the mappings in declaration order and falling back to
// cfg.DefaultBackend.
//
// A misspelled server name in a mapping is treated as a fatal configuration
// error at load time (see pkg/config), not a silent fallback here.
func SelectBackend(cfg *config.Config, authenticatedUser string) (string, error) {
	for _, m := range cfg.Mappings {
		if mappingAppliesToUser(cfg, m, authenticatedUser) {
			addr, ok := cfg.Servers[m.ServerName]
			if !ok {
				return "", errors.NewAuthRequired("route", "mapping references unknown server")
			}
			return addr, nil
		}
	}

	if cfg.DefaultBackend == "" {
		return "", errors.NewAuthRequired("route", "no mapping matched and no default backend configured")
	}

	if addr, ok := cfg.Servers[cfg.DefaultBackend]; ok {
		return addr, nil
	}
	if net.ParseIP(cfg.DefaultBackend) != nil {
		return cfg.DefaultBackend, nil
	}

	return "", errors.NewAuthRequired("route", "default backend is neither a known server name nor a valid address")
}

func mappingAppliesToUser(cfg *config.Config, m config.Mapping, authenticatedUser string) bool {
	for u := range cfg.Users {
		if u == authenticatedUser && m.UserPattern.MatchString(u) {
			return true
		}
	}
	return false
}
