package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/relay/internal/config"
	"github.com/neboloop/relay/internal/logging"
	"github.com/neboloop/relay/internal/relay"
)

var (
	flagHost  string
	flagPort  int
	flagToken string
	flagDebug bool
)

// SetupRootCmd wires the CLI around a loaded configuration. Flags override
// the config file.
func SetupRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "CDP relay between a Chrome extension and local automation clients",
		Long: "relay accepts CDP clients on /cdp and forwards their commands to a\n" +
			"Chrome extension connected on /extension, demultiplexing events back\n" +
			"to the right client session.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, cfg)
			return runServe(cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "bind address (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token required on CDP connections")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "trace CDP messages through the relay")

	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Relay.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Relay.Port = flagPort
	}
	if cmd.Flags().Changed("token") {
		cfg.Relay.BearerToken = flagToken
	}
	if cmd.Flags().Changed("debug") {
		cfg.Log.Debug = flagDebug
	}
}

func runServe(cfg *config.Config) error {
	logging.SetDebug(cfg.Log.Debug)

	r := relay.New(cfg.Relay)
	if err := r.Start(); err != nil {
		return err
	}

	fmt.Printf("CDP endpoint:       %s\n", r.CDPWebSocketURL())
	fmt.Printf("Extension endpoint: ws://%s/extension\n", r.Addr())
	if cfg.Relay.BearerToken != "" {
		fmt.Println("Bearer token auth:  enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\nReceived signal: %v - shutting down...\n", sig)

	return r.Stop()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(relay.Version)
		},
	}
}
