// Command gns3-proxy runs the multi-tenant GNS3 reverse proxy: it loads an
// INI configuration file, binds the listen address it describes, and
// relays authenticated client sessions to the backend fleet until it
// receives SIGINT or SIGTERM.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/listener"
)

var (
	configFile string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gns3-proxy",
	Short: "Multi-tenant reverse proxy for GNS3 servers",
	RunE:  run,
}

func init() {
	var flags *pflag.FlagSet = rootCmd.Flags()
	flags.StringVarP(&configFile, "config-file", "c", "gns3_proxy_config.ini", "path to the proxy's INI configuration file")
	flags.StringVarP(&logLevel, "log-level", "l", "INFO", "log level: DEBUG, INFO, WARNING, ERROR, CRITICAL")
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	cfg.LogLevel = logLevel

	ln, err := listener.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to bind listen address")
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve() }()

	select {
	case s := <-sig:
		logger.WithField("signal", s.String()).Info("shutting down")
		ln.Close()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("accept loop stopped")
			return err
		}
	}

	return nil
}

func parseLevel(raw string) (logrus.Level, error) {
	switch raw {
	case "DEBUG":
		return logrus.DebugLevel, nil
	case "INFO":
		return logrus.InfoLevel, nil
	case "WARNING", "WARN":
		return logrus.WarnLevel, nil
	case "ERROR":
		return logrus.ErrorLevel, nil
	case "CRITICAL":
		return logrus.FatalLevel, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", raw)
	}
}
