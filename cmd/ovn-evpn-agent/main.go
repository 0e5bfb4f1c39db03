package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ovn-evpn-agent/internal/agent"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ovn-evpn-agent",
		Short: "OVN to EVPN/VXLAN fabric agent",
		Long: `ovn-evpn-agent runs on each chassis and bridges OVN tenant networks
into an EVPN/VXLAN fabric. It watches the OVN Southbound database,
programs the local kernel data plane (VRFs, VXLAN tunnels, bridge
VLANs, FDB and neighbor tables) and keeps FRR's BGP EVPN
configuration in sync.`,
		RunE: runAgent,
	}

	// Flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/ovn-evpn-agent/agent.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().String("ovn-sb-connection", "", "OVN Southbound endpoint (auto-discovered from OVS if empty)")
	rootCmd.Flags().String("evpn-local-ip", "", "VTEP IP address (auto-discovered if empty)")
	rootCmd.Flags().String("evpn-nic", "", "interface to take the VTEP IP from")
	rootCmd.Flags().String("evpn-bridge", "br-evpn", "Linux bridge for EVPN VNI devices")
	rootCmd.Flags().String("ovs-bridge", "br-int", "OVS integration bridge")
	rootCmd.Flags().String("exposing-method", "vrf", "exposing method (vrf or dynamic)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9469", "Prometheus listen address (empty disables)")

	// Bind flags to viper
	viper.BindPFlag("ovn_sb_connection", rootCmd.Flags().Lookup("ovn-sb-connection"))
	viper.BindPFlag("evpn_local_ip", rootCmd.Flags().Lookup("evpn-local-ip"))
	viper.BindPFlag("evpn_nic", rootCmd.Flags().Lookup("evpn-nic"))
	viper.BindPFlag("evpn_bridge", rootCmd.Flags().Lookup("evpn-bridge"))
	viper.BindPFlag("ovs_bridge", rootCmd.Flags().Lookup("ovs-bridge"))
	viper.BindPFlag("exposing_method", rootCmd.Flags().Lookup("exposing-method"))
	viper.BindPFlag("metrics_addr", rootCmd.Flags().Lookup("metrics-addr"))

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ovn-evpn-agent %s\n", Version)
			fmt.Printf("  Build Time: %s\n", BuildTime)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger, err := initLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	config, err := loadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting ovn-evpn-agent",
		zap.String("version", Version),
		zap.String("exposing_method", config.ExposingMethod),
	)

	ag, err := agent.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ag.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("received shutdown signal")

	if err := ag.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	return nil
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func loadConfig(cfgFile string) (agent.Config, error) {
	config := agent.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("agent")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/ovn-evpn-agent")
		viper.AddConfigPath("$HOME/.ovn-evpn-agent")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("OVN_EVPN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, err
		}
		// Config file not found; use defaults
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}

	return config, nil
}
