package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/faucetdb/latch/internal/mcp"
	"github.com/faucetdb/latch/internal/metrics"
	"github.com/faucetdb/latch/internal/server"
	"github.com/faucetdb/latch/internal/service"
)

const banner = `
 _        _  _____  ___  _   _
| |      / \|_   _|/ __|| | | |
| |__   / _ \ | | | (__ | |_| |
|____| /_/ \_\|_|  \___||_| |_|
`

// storeCheckInterval is how often serve pings the key store in the
// background.
const storeCheckInterval = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Latch API server",
		Long: `Start the HTTP server that redeems and checks license keys for client
applications and exposes the authenticated admin API.`,
		Example: `  latch serve
  latch serve --port 9090 --dev
  latch serve --daemon   # run in the background, see 'latch status' and 'latch stop'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return startDaemon()
			}
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, CORS *)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, dev, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Print(banner)
	fmt.Println()

	// 1. Key store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("key store initialized", "driver", st.Driver())

	// 2. Services
	m := metrics.New()
	keys := newKeyService(cfg, st, logger, service.WithRecorder(m))

	secret, err := jwtSecret(cfg, logger)
	if err != nil {
		return err
	}
	authSvc := service.NewAuthService(st, secret, service.WithAuthLogger(logger))

	// 3. Check for first-run (no admin exists)
	hasAdmin, err := st.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if err == nil && !hasAdmin {
		logger.Warn("no admin account found - run: latch admin create --email <email>")
	}

	// 4. Build HTTP server
	deps := server.Deps{
		Keys:    keys,
		Auth:    authSvc,
		Store:   st,
		Metrics: m,
	}
	if cfg.MCP.Enabled {
		deps.MCP = mcp.NewMCPServer(keys, logger, versionString()).HTTPHandler()
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		SessionTTL:      cfg.SessionTTL(),
		Version:         versionString(),
	}
	if dev {
		srvCfg.CORSOrigins = []string{"*"}
	}
	srv := server.New(srvCfg, deps, logger)

	base := "http://" + displayAddr(cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Latch %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	fmt.Printf("→ Metrics:    %s/metrics\n", base)
	if cfg.MCP.Enabled {
		fmt.Printf("→ MCP:        %s/mcp\n", base)
	}
	fmt.Println()

	// 5. Run until a signal arrives or the listener fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return srv.MonitorStore(gctx, storeCheckInterval) })
	err = g.Wait()

	if pid, perr := readPID(); perr == nil && pid == os.Getpid() {
		removePID()
	}
	return err
}

// startDaemon re-executes the current binary without --daemon, detached from
// the terminal, with output appended to the log file in the data directory.
func startDaemon() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server is already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := slices.DeleteFunc(slices.Clone(os.Args[1:]), func(a string) bool {
		return a == "--daemon" || a == "-d" || a == "--daemon=true"
	})

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = os.Environ()
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	child.Process.Release()

	fmt.Printf("Latch server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs:   %s\n", logFilePath())
	fmt.Println("  Status: latch status")
	fmt.Println("  Stop:   latch stop")
	return nil
}

// displayAddr maps wildcard listen hosts to a loopback address a browser or
// curl can reach.
func displayAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
