// Package auth implements Basic-auth decoding, user lookup, and deny-rule
// evaluation against the proxy's configured identity and policy tables.
package auth

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/errors"
	"github.com/gns3net/gns3-proxy/pkg/message"
)

// Authenticate extracts and validates the Authorization header of req
// against cfg.Users, returning the authenticated username on success.
func Authenticate(cfg *config.Config, req *message.Message) (string, error) {
	authz, ok := req.Headers.Get("Authorization")
	if !ok {
		return "", errors.NewAuthRequired("authenticate", "missing Authorization header")
	}

	const prefix = "Basic "
	if !strings.HasPrefix(authz, prefix) {
		return "", errors.NewAuthRequired("authenticate", "Authorization header is not Basic")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(authz[len(prefix):]))
	if err != nil {
		return "", errors.NewAuthRequired("authenticate", "Authorization header is not valid base64")
	}

	user, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", errors.NewAuthRequired("authenticate", "decoded credential missing ':' separator")
	}

	stored, ok := cfg.Users[user]
	if !ok || stored != password {
		return "", errors.NewAuthRequired("authenticate", "unknown user or bad password")
	}

	return user, nil
}

// CheckDenyRules evaluates cfg.DenyRules in declaration order against the
// authenticated user and the completed request. A deny rule's user pattern
// is matched against the table of known users, not the authenticated name
// directly: the rule fires only if some known user u matches the pattern
// AND u equals the authenticated user.
func CheckDenyRules(cfg *config.Config, authenticatedUser string, req *message.Message) error {
	for _, rule := range cfg.DenyRules {
		if !ruleAppliesToUser(cfg, rule, authenticatedUser) {
			continue
		}

		if !matchesOptional(rule.MethodPattern, req.Method) {
			continue
		}
		if !matchesOptional(rule.URLPattern, req.Path) {
			continue
		}
		if !matchesOptional(rule.HeaderPattern, req.Headers.String()) {
			continue
		}
		if !matchesOptional(rule.BodyPattern, string(req.Body)) {
			continue
		}

		return errors.NewAuthRequired("deny", "request matched a deny rule")
	}

	return nil
}

func ruleAppliesToUser(cfg *config.Config, rule config.DenyRule, authenticatedUser string) bool {
	if rule.UserPattern == nil {
		return true
	}
	for u := range cfg.Users {
		if u == authenticatedUser && rule.UserPattern.MatchString(u) {
			return true
		}
	}
	return false
}

// matchesOptional reports whether pattern matches value. A nil pattern
// ("match anything") always matches.
func matchesOptional(pattern *regexp.Regexp, value string) bool {
	if pattern == nil {
		return true
	}
	return pattern.MatchString(value)
}
