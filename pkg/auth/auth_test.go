package auth

import (
	"bufio"
	"bytes"
	"regexp"
	"testing"

	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/message"
)

func parseReq(t *testing.T, raw string) *message.Message {
	t.Helper()
	msg, err := message.ParseRequest(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return msg
}

func TestAuthenticateSuccess(t *testing.T) {
	cfg := &config.Config{Users: map[string]string{"alice": "pw1"}}
	req := parseReq(t, "GET /v2/version HTTP/1.1\r\nAuthorization: Basic YWxpY2U6cHcx\r\n\r\n")

	user, err := Authenticate(cfg, req)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if user != "alice" {
		t.Fatalf("expected alice, got %s", user)
	}
}

func TestAuthenticateBadPassword(t *testing.T) {
	cfg := &config.Config{Users: map[string]string{"alice": "pw1"}}
	req := parseReq(t, "GET /v2/version HTTP/1.1\r\nAuthorization: Basic YWxpY2U6Ym9ndXM=\r\n\r\n")

	if _, err := Authenticate(cfg, req); err == nil {
		t.Fatalf("expected auth failure for bad password")
	}
}

func TestAuthenticateMissingHeader(t *testing.T) {
	cfg := &config.Config{Users: map[string]string{"alice": "pw1"}}
	req := parseReq(t, "GET /v2/version HTTP/1.1\r\n\r\n")

	if _, err := Authenticate(cfg, req); err == nil {
		t.Fatalf("expected auth failure for missing Authorization header")
	}
}

func TestAuthenticateAllowsEmptyPassword(t *testing.T) {
	// base64("probe:") == "cHJvYmU6"
	cfg := &config.Config{Users: map[string]string{"probe": ""}}
	req := parseReq(t, "GET /v2/version HTTP/1.1\r\nAuthorization: Basic cHJvYmU6\r\n\r\n")

	user, err := Authenticate(cfg, req)
	if err != nil {
		t.Fatalf("expected success with empty password, got %v", err)
	}
	if user != "probe" {
		t.Fatalf("expected probe, got %s", user)
	}
}

func TestCheckDenyRulesMatches(t *testing.T) {
	cfg := &config.Config{
		Users: map[string]string{"alice": "pw1"},
		DenyRules: []config.DenyRule{
			{
				UserPattern:   regexp.MustCompile(`^(?:alice)$`),
				MethodPattern: regexp.MustCompile(`^(?:POST)$`),
				URLPattern:    regexp.MustCompile(`^(?:/v2/projects.*)$`),
			},
		},
	}
	req := parseReq(t, "POST /v2/projects/x HTTP/1.1\r\nAuthorization: Basic YWxpY2U6cHcx\r\nContent-Length: 2\r\n\r\n{}")

	if err := CheckDenyRules(cfg, "alice", req); err == nil {
		t.Fatalf("expected deny rule to fire")
	}
}

func TestCheckDenyRulesDoesNotMatchOtherUser(t *testing.T) {
	cfg := &config.Config{
		Users: map[string]string{"alice": "pw1", "bob": "pw2"},
		DenyRules: []config.DenyRule{
			{
				UserPattern:   regexp.MustCompile(`^(?:alice)$`),
				MethodPattern: regexp.MustCompile(`^(?:POST)$`),
			},
		},
	}
	req := parseReq(t, "POST /v2/projects HTTP/1.1\r\nAuthorization: Basic Ym9iOnB3Mg==\r\nContent-Length: 0\r\n\r\n")

	if err := CheckDenyRules(cfg, "bob", req); err != nil {
		t.Fatalf("expected no deny for bob, got %v", err)
	}
}

func TestCheckDenyRulesEmptyPatternMatchesAnything(t *testing.T) {
	cfg := &config.Config{
		Users: map[string]string{"alice": "pw1"},
		DenyRules: []config.DenyRule{
			{UserPattern: regexp.MustCompile(`^(?:alice)$`)},
		},
	}
	req := parseReq(t, "GET /v2/version HTTP/1.1\r\n\r\n")

	if err := CheckDenyRules(cfg, "alice", req); err == nil {
		t.Fatalf("expected all-empty-field rule to match anything")
	}
}
