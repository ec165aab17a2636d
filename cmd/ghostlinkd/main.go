// Package main provides the CLI entry point for the GhostLink P2P secure
// messaging node.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghostlink/ghostlink/internal/api"
	"github.com/ghostlink/ghostlink/internal/config"
	"github.com/ghostlink/ghostlink/internal/engine"
	"github.com/ghostlink/ghostlink/internal/logging"
	"github.com/ghostlink/ghostlink/internal/metrics"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "ghostlinkd",
		Short:   "GhostLink - peer-to-peer secure messaging node",
		Long:    "GhostLink establishes a direct, encrypted, NAT-punched channel between two hosts and carries AEAD-framed chat messages until either side disconnects.",
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(fingerprintCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var clientPort int
	var stunServer string
	var stunVerifier string
	var webPort int
	var logLevel string
	var logFormat string
	var encryptionMode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node and its HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			applyFlagOverrides(cmd, &cfg, clientPort, stunServer, stunVerifier, webPort, logLevel, logFormat, encryptionMode)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			m := metrics.NewMetrics()

			node, err := engine.New(cfg, m, logger)
			if err != nil {
				return fmt.Errorf("start node: %w", err)
			}
			defer node.Close()

			logger.Info("ghostlinkd: bound local socket", logging.KeyLocalAddr, node.LocalAddr().String())

			webAddr := fmt.Sprintf(":%d", cfg.WebPort)
			server := api.NewServer(api.DefaultServerConfig(webAddr), node, logger)
			if err := server.Start(); err != nil {
				return fmt.Errorf("start control API: %w", err)
			}
			logger.Info("ghostlinkd: control API listening", "addr", server.Addr())
			defer server.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := node.Run(ctx)
			if runErr != nil && runErr != context.Canceled {
				logger.Warn("ghostlinkd: node loop exited", logging.KeyError, runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file (defaults built in if omitted)")
	cmd.Flags().IntVar(&clientPort, "client-port", 0, "UDP port to bind locally (0 = ephemeral)")
	cmd.Flags().StringVar(&stunServer, "stun-server", "", "primary STUN server (host:port)")
	cmd.Flags().StringVar(&stunVerifier, "stun-verifier", "", "secondary STUN server used for NAT classification")
	cmd.Flags().IntVar(&webPort, "web-port", 0, "HTTP control-surface listen port")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "log format: text, json")
	cmd.Flags().StringVar(&encryptionMode, "encryption-mode", "", "AEAD mode: chacha20poly1305, aes256gcm")

	return cmd
}

// applyFlagOverrides layers pflag-sourced CLI overrides onto a loaded
// config, only touching fields whose flag was actually set so an unset
// flag never clobbers a value read from the YAML file.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, clientPort int, stunServer, stunVerifier string, webPort int, logLevel, logFormat, encryptionMode string) {
	flags := cmd.Flags()
	if flags.Changed("client-port") {
		cfg.ClientPort = clientPort
	}
	if flags.Changed("stun-server") {
		cfg.StunServer = stunServer
	}
	if flags.Changed("stun-verifier") {
		cfg.StunVerifier = stunVerifier
	}
	if flags.Changed("web-port") {
		cfg.WebPort = webPort
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("encryption-mode") {
		cfg.EncryptionMode = encryptionMode
	}
}

// fingerprintCmd prints a build fingerprint for diagnostics: a short hash
// over the binary's version and target platform. This is unrelated to
// crypto.SessionData's per-handshake SAS fingerprint (spec.md §3) — it
// identifies the running binary, not a session, and is stable across runs
// of the same build rather than freshly derived from ephemeral keys.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print a build fingerprint for diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildFingerprint())
			return nil
		},
	}
}

func buildFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "ghostlinkd_build|%s|%s/%s|%s", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	sum := h.Sum(nil)
	return fmt.Sprintf("%02X %02X %02X", sum[0], sum[1], sum[2])
}
