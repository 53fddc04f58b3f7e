package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/latch/internal/model"
	"github.com/faucetdb/latch/internal/service"
	"github.com/faucetdb/latch/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"keys"},
		Short:   "Manage license keys",
		Long:    "Issue, inspect, ban, and delete license keys directly against the key store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyCheckCmd())
	cmd.AddCommand(newKeyBanCmd())
	cmd.AddCommand(newKeyUnbanCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// withKeyService opens the configured store for the duration of fn. Service
// logs below WARN are suppressed so they don't mix with command output.
func withKeyService(fn func(ctx context.Context, keys *service.KeyService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, newKeyService(cfg, st, logger))
}

// keyError turns a missing key into a readable message.
func keyError(key string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("key %q does not exist", key)
	}
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		days       int
		createdBy  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new license key",
		Long:  "Issue a new license key. The key is unbound until a client redeems it.",
		Example: `  latch key create
  latch key create --days 30 --created-by support@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.CreateKeyRequest{CreatedBy: createdBy}
			if cmd.Flags().Changed("days") {
				req.ExpiryDays = &days
			}
			return runKeyCreate(req, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Days until the key expires (default from keys.default_days)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Issuer recorded on the key")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyCreate(req service.CreateKeyRequest, jsonOutput bool) error {
	return withKeyService(func(ctx context.Context, keys *service.KeyService) error {
		k, err := keys.Create(ctx, req)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(k)
		}

		fmt.Println("License key created:")
		fmt.Println()
		fmt.Printf("  Key:        %s\n", k.KeyString)
		fmt.Printf("  Expires:    %s\n", k.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("  Created by: %s\n", k.CreatedBy)
		return nil
	})
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		jsonOutput bool
		status     string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all license keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(status, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&status, "status", "", "Only show keys with this status (normal or banned)")

	return cmd
}

func runKeyList(status string, jsonOutput bool) error {
	return withKeyService(func(ctx context.Context, keys *service.KeyService) error {
		all, err := keys.List(ctx)
		if err != nil {
			return err
		}

		rows := all
		if status != "" {
			rows = rows[:0:0]
			for _, k := range all {
				if strings.EqualFold(k.Status, status) {
					rows = append(rows, k)
				}
			}
		}

		if jsonOutput {
			return printJSON(rows)
		}

		if len(rows) == 0 {
			fmt.Println("No license keys found. Use 'latch key create' to issue one.")
			return nil
		}

		fmt.Printf("%-20s %-8s %-22s %-8s %-20s %-5s\n", "KEY", "STATUS", "EXPIRES", "EXPIRED", "HWID", "VIOL")
		fmt.Printf("%-20s %-8s %-22s %-8s %-20s %-5s\n", "---", "------", "-------", "-------", "----", "----")
		for _, k := range rows {
			expired := "no"
			if k.Expired {
				expired = "yes"
			}
			fmt.Printf("%-20s %-8s %-22s %-8s %-20s %-5d\n",
				k.Key, k.Status, k.ExpiresAt.Format(time.RFC3339), expired, k.HardwareID, k.Violations)
		}
		return nil
	})
}

// ---------- key check ----------

func newKeyCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <key>",
		Short: "Show the status of a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCheck(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyCheck(key string, jsonOutput bool) error {
	return withKeyService(func(ctx context.Context, keys *service.KeyService) error {
		st, err := keys.Check(ctx, key)
		if err != nil {
			return keyError(key, err)
		}

		if jsonOutput {
			return printJSON(st)
		}
		printKeyStatus(st)
		return nil
	})
}

func printKeyStatus(st model.KeyStatus) {
	usedBy := strings.Join(st.RedeemedBy, ", ")
	if usedBy == "" {
		usedBy = "-"
	}
	expired := ""
	if st.Expired {
		expired = " (expired)"
	}

	fmt.Printf("Key:         %s\n", st.Key)
	fmt.Printf("Status:      %s\n", st.Status)
	fmt.Printf("Expires:     %s%s\n", st.ExpiresAt.Format(time.RFC3339), expired)
	fmt.Printf("Hardware:    %s\n", st.HardwareID)
	fmt.Printf("Used by:     %s\n", usedBy)
	fmt.Printf("Violations:  %d\n", st.Violations)
	fmt.Printf("Created by:  %s\n", st.CreatedBy)
	fmt.Printf("Created at:  %s\n", st.CreatedAt.Format(time.RFC3339))
}

// ---------- key ban / unban / delete ----------

func newKeyBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <key>",
		Short: "Ban a license key",
		Long:  "Ban a license key so that every further redemption is refused.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyAction(args[0], (*service.KeyService).Ban, "Banned key %q\n")
		},
	}
}

func newKeyUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <key>",
		Short: "Lift the ban on a license key",
		Long:  "Lift a ban. The violation count and hardware binding are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyAction(args[0], (*service.KeyService).Unban, "Unbanned key %q\n")
		},
	}
}

func newKeyDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a license key permanently",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("deleting %q cannot be undone; re-run with --force", args[0])
			}
			return runKeyAction(args[0], (*service.KeyService).Delete, "Deleted key %q\n")
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm the deletion")

	return cmd
}

func runKeyAction(key string, op func(*service.KeyService, context.Context, string) error, okFormat string) error {
	return withKeyService(func(ctx context.Context, keys *service.KeyService) error {
		if err := op(keys, ctx, key); err != nil {
			return keyError(key, err)
		}
		fmt.Printf(okFormat, key)
		return nil
	})
}
