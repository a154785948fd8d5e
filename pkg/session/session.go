// Package session implements the proxy session state machine (component F):
// it owns one client/backend connection pair, drives authentication, backend
// selection, request forwarding, response filtering, and the inactivity
// watchdog for a single accepted client connection.
package session

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gns3net/gns3-proxy/pkg/auth"
	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/conn"
	"github.com/gns3net/gns3-proxy/pkg/constants"
	"github.com/gns3net/gns3-proxy/pkg/errors"
	"github.com/gns3net/gns3-proxy/pkg/filter"
	"github.com/gns3net/gns3-proxy/pkg/message"
	"github.com/gns3net/gns3-proxy/pkg/router"
	"github.com/gns3net/gns3-proxy/pkg/timing"
)

const (
	response401 = "HTTP/1.1 401 Unauthorized\r\n" +
		"X-Route: /v2/version\r\n" +
		"Connection: close\r\n" +
		"Server: " + constants.GNS3ServerHeader + "\r\n" +
		"WWW-Authenticate: Basic realm=\"GNS3 server\"\r\n" +
		"Content-Length: 0\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Date: %s\r\n\r\n"

	response502 = "HTTP/1.1 502 Bad Gateway\r\n" +
		"Content-Length: 11\r\n" +
		"Connection: close\r\n\r\n" +
		"Bad Gateway"

	connectAck = "HTTP/1.1 200 Connection established\r\n\r\n"
)

// trackedConn wraps a net.Conn so every successful Read updates a shared
// last-activity timestamp, letting the session's inactivity watchdog
// observe reads on either direction without threading state through the
// HTTP parser.
type trackedConn struct {
	net.Conn
	touch func()
}

func (t *trackedConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		t.touch()
	}
	return n, err
}

// CloseWrite exposes the wrapped conn's half-close, when it supports one, so
// conn.Conn.Close's write-direction half-close still reaches a *net.TCPConn
// through the trackedConn wrapper instead of silently no-oping.
func (t *trackedConn) CloseWrite() error {
	if cw, ok := t.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Session owns one accepted client connection and its lazily-opened backend
// connection.
type Session struct {
	cfg    *config.Config
	logger *logrus.Entry

	client  *conn.Conn
	backend *conn.Conn

	id                string
	authenticatedUser string

	mu           sync.Mutex
	lastActivity time.Time
	startTime    time.Time
	timer        *timing.Timer
}

// New constructs a session for an accepted client connection.
func New(cfg *config.Config, clientNetConn net.Conn, logger *logrus.Logger) *Session {
	s := &Session{
		cfg:       cfg,
		id:        newSessionID(),
		startTime: time.Now(),
		timer:     timing.NewTimer(),
	}
	s.lastActivity = s.startTime
	s.logger = logger.WithFields(logrus.Fields{
		"session": s.id,
		"remote":  clientNetConn.RemoteAddr().String(),
	})
	s.client = conn.New(&trackedConn{Conn: clientNetConn, touch: s.touch})
	return s
}

func newSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Run drives the session to completion. It never returns until the session
// has terminated, per one of the conditions in the proxy session spec.
func (s *Session) Run() {
	defer s.client.Close(constants.CloseDrainTimeout)

	clientReader := bufio.NewReader(s.client.Underlying())

	if err := s.client.Underlying().SetReadDeadline(time.Now().Add(constants.IdleTimeout)); err != nil {
		s.logger.WithError(err).Warn("failed to set initial read deadline")
	}

	req, err := message.ParseRequest(clientReader)
	if err != nil {
		s.logger.WithError(err).Debug("session terminated: failed to parse client request")
		return
	}

	user, err := auth.Authenticate(s.cfg, req)
	if err != nil {
		s.logger.WithError(err).Info("session terminated: authentication failed")
		s.sendCanonical401()
		return
	}
	s.authenticatedUser = user
	s.logger = s.logger.WithField("user", user)

	if err := auth.CheckDenyRules(s.cfg, user, req); err != nil {
		s.logger.WithError(err).Info("session terminated: request matched a deny rule")
		s.sendCanonical401()
		return
	}

	if req.IsConnect() {
		if _, err := s.client.Send([]byte(connectAck), time.Now().Add(5*time.Second)); err != nil {
			s.logger.WithError(err).Debug("failed to write CONNECT acknowledgement")
		}
		s.logger.Debug("session terminated: CONNECT acknowledged, no tunnel established")
		return
	}

	backendAddr, err := router.SelectBackend(s.cfg, user)
	if err != nil {
		s.logger.WithError(err).Warn("session terminated: backend selection failed")
		s.sendCanonical401()
		return
	}

	s.timer.StartTCP()
	backendNetConn, err := net.DialTimeout("tcp", net.JoinHostPort(backendAddr, strconv.Itoa(s.cfg.BackendPort)), constants.IdleTimeout)
	s.timer.EndTCP()
	if err != nil {
		s.logger.WithError(err).Warn("session terminated: backend unreachable")
		s.sendCanonical502()
		return
	}
	s.backend = conn.New(&trackedConn{Conn: backendNetConn, touch: s.touch})
	defer s.backend.Close(constants.CloseDrainTimeout)

	forwarded := req.Build(
		[]string{"Authorization"},
		[]message.Header{{Name: "Authorization", Value: s.cfg.BackendCredential}},
	)
	if _, err := s.backend.Send(forwarded, time.Now().Add(constants.IdleTimeout)); err != nil {
		s.logger.WithError(err).Warn("session terminated: failed to forward request to backend")
		return
	}
	s.timer.StartTTFB()

	s.relay(clientReader)

	s.logger.WithField("timing", s.timer.Metrics().String()).Debug("session complete")
}

func (s *Session) sendCanonical401() {
	body := fmt.Sprintf(response401, time.Now().UTC().Format(time.RFC1123))
	_, _ = s.client.Send([]byte(body), time.Now().Add(5*time.Second))
}

func (s *Session) sendCanonical502() {
	_, _ = s.client.Send([]byte(response502), time.Now().Add(5*time.Second))
}

// relay implements the bidirectional forwarding phase of the session: client
// bytes after the initial request are forwarded verbatim to the backend,
// the backend's response is parsed once, passed through the response
// filter, and forwarded to the client; no further backend bytes are read
// after that response. A watchdog goroutine enforces the inactivity timeout
// across both directions.
func (s *Session) relay(clientReader *bufio.Reader) {
	done := make(chan struct{})
	defer close(done)

	go s.watchdog(done)

	clientDone := make(chan error, 1)
	go func() {
		// Any bytes remaining in clientReader's buffer, plus whatever
		// arrives afterwards, are forwarded verbatim without re-parsing.
		buf := make([]byte, recvBufSize(s.cfg.ClientRecvBufSize))
		_, err := io.CopyBuffer(s.backend.Underlying(), clientReader, buf)
		clientDone <- err
	}()

	backendDone := make(chan error, 1)
	go func() {
		backendDone <- s.relayBackendResponse()
	}()

	select {
	case err := <-clientDone:
		if err != nil && err != io.EOF {
			s.logger.WithError(err).Debug("client->backend forwarding ended with error")
		}
		s.logger.Debug("session terminated: client end-of-stream")
	case err := <-backendDone:
		if err != nil {
			if errors.Is(err, errors.ErrorTypeBackendMisconfigured) {
				s.logger.WithError(err).WithField("fatal", true).Error("session terminated: backend misconfigured (console_host guard)")
			} else {
				s.logger.WithError(err).Debug("session terminated: backend response ended")
			}
		} else {
			s.logger.Debug("session terminated: response complete")
		}
	}
}

// relayBackendResponse parses exactly one response from the backend, runs
// it through the response filter, and forwards the result to the client.
// Per the session's termination conditions, the session ends as soon as the
// response parser completes and the write to the client returns: it does
// not linger on the backend connection waiting for it to close, which would
// hold a keep-alive backend connection (and its session) open for up to the
// full inactivity timeout after the response was already delivered.
func (s *Session) relayBackendResponse() error {
	backendReader := bufio.NewReaderSize(s.backend.Underlying(), recvBufSize(s.cfg.ServerRecvBufSize))

	if err := s.backend.Underlying().SetReadDeadline(time.Now().Add(constants.IdleTimeout)); err != nil {
		return err
	}

	// Wait for the first response byte before stopping the TTFB clock; a
	// read error here resurfaces from ParseResponse below.
	_, _ = backendReader.Peek(1)
	s.timer.EndTTFB()

	resp, err := message.ParseResponse(backendReader)
	if err != nil {
		return err
	}

	rawHeaderBlock := statusAndHeaderBlock(resp)

	out, filterErr := filter.Apply(s.cfg, s.authenticatedUser, resp, rawHeaderBlock, backendReader)
	if filterErr != nil {
		if errors.Is(filterErr, errors.ErrorTypeBackendMisconfigured) {
			return filterErr
		}
		// ParseError: non-fatal, pass through and log by the caller.
		s.logger.WithError(filterErr).Warn("response filter parse error, passing body through unchanged")
	}

	if _, err := s.client.Send(out, time.Now().Add(constants.IdleTimeout)); err != nil {
		return err
	}

	return nil
}

// recvBufSize falls back to the package default when cfg carries an unset
// (zero) buffer size, which a Config built by hand rather than through
// config.Load may leave unpopulated.
func recvBufSize(configured int) int {
	if configured <= 0 {
		return constants.DefaultRecvBufSize
	}
	return configured
}

func statusAndHeaderBlock(resp *message.Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %d %s\r\n", resp.Version, resp.StatusCode, resp.Reason)
	b.WriteString(resp.Headers.String())
	block := b.Bytes()
	return bytes.TrimRight(block, "\r\n")
}

func (s *Session) watchdog(done <-chan struct{}) {
	ticker := time.NewTicker(constants.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if s.idleFor() > constants.IdleTimeout {
				s.logger.Warn("session terminated: inactivity timeout")
				s.client.Underlying().Close()
				if s.backend != nil {
					s.backend.Underlying().Close()
				}
				return
			}
		}
	}
}
