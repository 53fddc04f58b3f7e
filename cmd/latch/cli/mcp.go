package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/faucetdb/latch/internal/mcp"
	"github.com/faucetdb/latch/internal/server/middleware"
	"github.com/faucetdb/latch/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key management
as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for MCP clients that launch latch as a subprocess.

In HTTP mode, the server listens on the given port for Streamable HTTP
connections. Requests must carry an admin session token issued by a latch
server that shares auth.jwt_secret.`,
		Example: `  latch mcp                                # stdio mode
  latch mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(cmd *cobra.Command, transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("transport") && cfg.MCP.Transport != "" {
		transport = cfg.MCP.Transport
	}
	if !cmd.Flags().Changed("port") {
		port = cfg.MCP.Port
	}

	// stdout belongs to the protocol in stdio mode; logs go to stderr.
	logger, err := newLogger(cfg.Logging, false, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mcpSrv := mcp.NewMCPServer(newKeyService(cfg, st, logger), logger, versionString())

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("the http transport requires auth.jwt_secret (or LATCH_AUTH_JWT_SECRET)")
		}
		authSvc := service.NewAuthService(st, cfg.Auth.JWTSecret, service.WithAuthLogger(logger))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(logger))
		r.With(middleware.Authenticate(authSvc), middleware.RequireAdmin()).Handle("/mcp", mcpSrv.HTTPHandler())

		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		logger.Info("starting MCP HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
