package listener

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gns3net/gns3-proxy/pkg/config"
)

func TestServeAcceptsAndRunsASession(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fake backend: %v", err)
	}
	defer backendLn.Close()
	go func() {
		c, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4096)
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		c.Read(buf)
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	cfg := &config.Config{
		ListenHost:        "127.0.0.1",
		ListenPort:        0,
		Users:             map[string]string{"alice": "secret"},
		Servers:           map[string]string{"b1": "127.0.0.1"},
		DefaultBackend:    "b1",
		BackendPort:       backendLn.Addr().(*net.TCPAddr).Port,
		BackendCredential: "Basic YmFja2VuZDpzaGFyZWQ=",
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	l, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer l.Close()

	go l.Serve()

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial listener: %v", err)
	}
	defer client.Close()

	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	fmt.Fprintf(client, "GET /v2/version HTTP/1.1\r\nAuthorization: %s\r\nHost: x\r\n\r\n", auth)

	out, _ := io.ReadAll(client)
	if !strings.Contains(string(out), "200 OK") {
		t.Fatalf("expected relayed response, got %q", out)
	}
}
