// Command chat-server runs the secure chat listener: it loads its
// settings from the environment, opens the pebble-backed account store,
// and serves connections until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/duskline/securechat/chatserver"
	"github.com/duskline/securechat/internal/cmdutil"
	"github.com/duskline/securechat/internal/config"
	"github.com/duskline/securechat/internal/version"
	"github.com/duskline/securechat/observability"
	"github.com/duskline/securechat/observability/prom"
	"github.com/duskline/securechat/store/pebblestore"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chat-server:", err)
		if cmdutil.IsUsage(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chat-server", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	jsonOut := fs.Bool("json", false, "with -version, print version info as JSON")
	host := fs.String("host", "", "override SERVER_HOST")
	port := fs.Int("port", 0, "override SERVER_PORT")
	dbPath := fs.String("db", "", "override DATABASE_PATH")
	fresh := fs.Bool("fresh", false, "require DATABASE_PATH not already exist (refuses to reuse an existing account store)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		if *jsonOut {
			return cmdutil.WriteJSON(os.Stdout, struct {
				Version string `json:"version"`
				Commit  string `json:"commit"`
				Date    string `json:"date"`
			}{buildVersion, buildCommit, buildDate}, true)
		}
		fmt.Println(version.String(buildVersion, buildCommit, buildDate))
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *host != "" {
		cfg.ServerHost = *host
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *fresh {
		if err := cmdutil.RefuseOverwrite(cfg.DatabasePath, false); err != nil {
			return err
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	st := pebblestore.New(cfg.DatabasePath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := st.Connect(ctx); err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	defer st.Close()

	var observer observability.ChatObserver = observability.NoopChatObserver
	if cfg.MetricsAddr != "" {
		reg := prom.NewRegistry()
		chatObs := prom.NewChatObserver(reg)
		observer = chatObs
		go serveMetrics(logger, cfg.MetricsAddr, reg)
	}

	srv, err := chatserver.New(chatserver.Config{
		MaxLineBytes:     cfg.MaxLineBytes,
		MaxConnsPerIP:    cfg.MaxConnsPerIP,
		HandshakeTimeout: config.HandshakeTimeout,
		IdleTimeout:      config.IdleTimeout,
		Logger:           logger,
		Observer:         observer,
	}, st)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	defer ln.Close()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", cfg.Addr()).Str("version", version.String(buildVersion, buildCommit, buildDate)).Msg("chat-server listening")
	return srv.Serve(sigCtx, ln)
}

func serveMetrics(logger zerolog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler(reg))
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}
