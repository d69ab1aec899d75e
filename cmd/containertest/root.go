// Command containertest is a thin debug surface over the library: run a
// container with a wait strategy, read its logs, terminate it, ping the
// engine. Everything it does goes through the public packages.
package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dragosv/containertest/internal/logging"
	"github.com/dragosv/containertest/pkg/container"
)

var rootCmd = &cobra.Command{
	Use:   "containertest",
	Short: "Throwaway containers for integration tests",
	Long: `containertest starts disposable service containers against a local
container engine, waits for them to become ready and tears them down.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("socket", "", "engine socket path (default: resolved from DOCKER_HOST)")
	rootCmd.PersistentFlags().String("host", "", "hostname used to reach mapped ports")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	_ = viper.BindPFlag("socket", rootCmd.PersistentFlags().Lookup("socket"))
	_ = viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// A local .env is a convenience for development, not a requirement.
	_ = godotenv.Load()
	viper.SetEnvPrefix("CONTAINERTEST")
	viper.AutomaticEnv()
}

// newProvider builds a provider from the resolved flag/env configuration.
func newProvider() (*container.Provider, zerolog.Logger, error) {
	logger := logging.Setup(viper.GetString("log_level"))

	opts := []container.Option{container.WithLogger(logger)}
	if socket := viper.GetString("socket"); socket != "" {
		opts = append(opts, container.WithSocketPath(socket))
	}
	if host := viper.GetString("host"); host != "" {
		opts = append(opts, container.WithDaemonHost(host))
	}
	p, err := container.NewProvider(opts...)
	return p, logger, err
}
