// Command gatewctl is gatewd's operator CLI: validate a config file, run
// pending store migrations, print version info, or start the server
// in-process (equivalent to running the gatewd binary directly).
//
// Grounded on the teacher's cmd/ferrogw-cli (validate/version/help command
// set), rebuilt on spf13/cobra instead of a hand-rolled os.Args switch.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaywire/gatewd/catalog"
	"github.com/relaywire/gatewd/config"
	"github.com/relaywire/gatewd/dispatch"
	"github.com/relaywire/gatewd/internal/gatewayhttp"
	"github.com/relaywire/gatewd/internal/serve"
	"github.com/relaywire/gatewd/internal/version"
	"github.com/relaywire/gatewd/store"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "gatewctl",
		Short: "Operate the gatewd LLM gateway",
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GATEWD_CONFIG"), "path to a JSON or YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newValidateCmd(&configPath),
		newMigrateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			corsOrigins := serve.ParseCORSOrigins()
			newHandler := func(d *dispatch.Dispatcher, cat *catalog.Catalog) (http.Handler, error) {
				return gatewayhttp.NewHandler(d, cat, corsOrigins)
			}
			return serve.Run(ctx, cfg, newHandler)
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Println("config is valid")
			fmt.Printf("  httpAddr:      %s\n", cfg.HTTPAddr)
			fmt.Printf("  storeDsn:      %s\n", redactDSN(cfg.StoreDSN))
			fmt.Printf("  providers:     %d configured\n", len(cfg.ProviderAPIKeyEnv))
			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.StoreDSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()
			if err := st.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.String())
			return nil
		},
	}
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return "(none)"
	}
	if idx := indexOfAt(dsn); idx >= 0 {
		return dsn[:8] + "***" + dsn[idx:]
	}
	return dsn
}

func indexOfAt(s string) int {
	for i, r := range s {
		if r == '@' {
			return i
		}
	}
	return -1
}
