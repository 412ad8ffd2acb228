// Package cmd holds the scribe-relay command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghyeongl/scribe-relay/config"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "scribe-relay",
	Short:         "Audio chunk ingestion with real-time websocket fan-out",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.SetDefaults(v)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./scribe-relay.yaml or ~/.scribe-relay/scribe-relay.yaml)")
	if err := config.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(serveCmd, configCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
