// Command simulflow-server runs a simulflow dataflow graph behind an HTTP
// server: a websocket endpoint accepts Twilio media-stream connections and
// attaches each one to a fresh graph instance, while /healthz, /readyz, and
// /metrics expose operational status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shipclojure/simulflow-go/internal/app"
	"github.com/shipclojure/simulflow-go/internal/config"
	"github.com/shipclojure/simulflow-go/internal/health"
	"github.com/shipclojure/simulflow-go/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "simulflow-server: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "simulflow-server: %v\n", err)
		}
		return 1
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("simulflow-server starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "simulflow-server"})
	if err != nil {
		slog.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	sessions := app.NewSessionManager(application)

	watcher, err := config.NewWatcher(*configPath, onConfigChange(levelVar))
	if err != nil {
		slog.Warn("config hot-reload disabled: failed to start watcher", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	mux := http.NewServeMux()
	healthHandler := health.New(health.Checker{
		Name: "app",
		Check: func(ctx context.Context) error {
			return nil
		},
	})
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", observe.PrometheusHandler())
	mux.HandleFunc("/twilio/stream", twilioStreamHandler(sessions))

	handler := observe.Middleware(application.Metrics())(mux)
	handler = otelhttp.NewHandler(handler, "simulflow-server")

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}

	sessions.StopAll(shutdownCtx)

	if err := application.Shutdown(); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// twilioStreamHandler upgrades each inbound request to a websocket, starts a
// fresh graph instance under a freshly minted session ID, and attaches the
// connection to its twilio_in/twilio_out nodes, then returns. The session is
// not stopped when the call ends; it keeps running until it is stopped
// through the SessionManager (StopAll at server shutdown).
func twilioStreamHandler(sessions *app.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Twilio connects over TLS terminated upstream
		})
		if err != nil {
			slog.Error("websocket accept failed", "err", err)
			return
		}

		sessionID := uuid.NewString()
		ctx := r.Context()

		if _, err := sessions.Start(ctx, sessionID); err != nil {
			slog.Error("failed to start session", "session_id", sessionID, "err", err)
			conn.Close(websocket.StatusInternalError, "failed to start session")
			return
		}

		if err := sessions.AttachTwilio(sessionID, conn); err != nil {
			slog.Error("failed to attach transport", "session_id", sessionID, "err", err)
			sessions.Stop(ctx, sessionID)
			conn.Close(websocket.StatusInternalError, "failed to attach transport")
			return
		}

		slog.Info("twilio call attached", "session_id", sessionID)
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        simulflow — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if cfg.LLM.Name != "" {
		fmt.Printf("║  LLM provider    : %-19s ║\n", cfg.LLM.Name)
	} else {
		fmt.Println("║  LLM provider    : (none configured)   ║")
	}
	fmt.Printf("║  Graph nodes     : %-19d ║\n", len(cfg.Graph.Nodes))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// onConfigChange reacts to a reloaded config file. Only the log level is
// applied live; a changed LLM provider, MCP server list, or graph topology
// requires tearing down and rebuilding the running [app.App] and its
// sessions, so those are surfaced as a warning rather than applied
// in-place.
func onConfigChange(levelVar *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)

		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("config reload: log level changed", "new_level", d.NewLogLevel)
		}
		if d.LLMChanged || d.MCPServersChanged || d.GraphChanged {
			slog.Warn("config reload: llm/mcp/graph settings changed but require a process restart to take effect",
				"llm_changed", d.LLMChanged,
				"mcp_servers_changed", d.MCPServersChanged,
				"graph_changed", d.GraphChanged,
			)
		}
	}
}
