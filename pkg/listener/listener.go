// Package listener implements the proxy's accept loop (component G): it
// binds the configured listen address, raises the process's open-file limit
// on a best-effort basis, and spawns one session goroutine per accepted
// connection.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/session"
)

// Listener accepts client connections and runs a session for each.
type Listener struct {
	cfg    *config.Config
	logger *logrus.Logger
	ln     net.Listener
}

// New binds the address configured in cfg. It does not start accepting
// connections; call Serve for that.
func New(cfg *config.Config, logger *logrus.Logger) (*Listener, error) {
	raiseOpenFileLimit(cfg.OpenFileLimit, logger)

	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}

	return &Listener{cfg: cfg, logger: logger, ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until the listener is closed, spawning a
// session goroutine for each. It returns the error that stopped the accept
// loop, which is nil only if the caller closed the listener deliberately.
func (l *Listener) Serve() error {
	l.logger.WithField("addr", l.ln.Addr().String()).Info("listening for connections")

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go session.New(l.cfg, nc, l.logger).Run()
	}
}

// raiseOpenFileLimit attempts to raise RLIMIT_NOFILE to limit. Failure is
// logged as a warning, not fatal: the proxy still runs, just with whatever
// descriptor budget the process started with.
func raiseOpenFileLimit(limit int, logger *logrus.Logger) {
	if limit <= 0 {
		return
	}

	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.WithError(err).Warn("failed to read current open file limit")
		return
	}

	want := uint64(limit)
	if rLimit.Cur >= want {
		return
	}
	if rLimit.Max < want {
		want = rLimit.Max
	}

	rLimit.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.WithError(err).Warn("failed to raise open file limit")
	}
}
