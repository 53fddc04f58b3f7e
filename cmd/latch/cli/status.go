package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the Latch server is running",
		Long:  "Check the status of a background Latch server, including process state and readiness.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID()
		fmt.Println("Server is not running (stale PID file removed).")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// /readyz also reports whether the key store is reachable.
	readyAddr := fmt.Sprintf("http://%s/readyz", displayAddr(cfg.Server.Host, cfg.Server.Port))
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Printf("Server process is running (PID %d) but not responding to HTTP.\n", pid)
		fmt.Printf("  Logs: %s\n", logFilePath())
		return nil
	}
	resp.Body.Close()

	state := "ready"
	if resp.StatusCode != http.StatusOK {
		state = "degraded (key store unreachable)"
	}

	fmt.Printf("Server is running (PID %d)\n", pid)
	fmt.Printf("  State:   %s\n", state)
	fmt.Printf("  Probe:   %s (%d)\n", readyAddr, resp.StatusCode)
	fmt.Printf("  Logs:    %s\n", logFilePath())
	return nil
}
