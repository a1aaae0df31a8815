// Package cmd provides the command-line interface for linecache.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "linecache",
	Short: "linecache runs and checks a block cache in front of a device.",
	Long: `linecache runs a set-associative block cache in front of an ` +
		`in-memory or file-backed device. It can benchmark the cache, serve ` +
		`a live monitor while a workload runs, and verify that cached ` +
		`writes reach the device.`,
	SilenceUsage: true,
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringSlice("env", nil, ".env files to read settings from")
	flags.Uint64("size", 0, "number of device bytes")
	flags.Uint64("line-size", 0, "cache line size in bytes")
	flags.Int("num-lines", 0, "number of cache lines")
	flags.Int("ways", 0, "way associativity")
	flags.String("victim", "", "replacement policy, lru or srrip")
	flags.String("policy", "", "write policy, write_through or write_back")
	flags.Int("rate", 0, "device bandwidth limit in bytes per second")
	flags.String("trace-db", "", "write task traces to this SQLite database")
	flags.String("device-file", "", "use this file as the device")
	flags.Bool("log-tasks", false, "log every cache operation")
	flags.Bool("log-lines", false, "log every line event")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It exits through atexit so that trace databases are
// flushed.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
