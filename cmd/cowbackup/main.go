// Command cowbackup drives a copy-on-write live block backup job: it walks
// a source device and its guest writes, copying every cluster's original
// content to a target before the guest can overwrite it (§2, §4). The CLI
// is a cobra command tree, the way yanet2's coordinator and
// bird-adapter commands are structured, replacing ublk-mem's flat
// flag.FlagSet (cmd/ublk-mem/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/behrlich/go-cowbackup/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "cowbackup",
	Short: "Copy-on-write live block backup engine",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
