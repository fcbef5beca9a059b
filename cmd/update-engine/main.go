// Command update-engine is the A/B update engine's daemon and
// operator CLI (spec.md sec.6): run the attempter loop, force a single
// check, or dump its durable state for inspection.
//
// Grounded on LanternOps-breeze's cmd package shape (a cobra root command
// with persistent --config flag, one subcommand per operator action) and
// cmd/installer/main.go's subcommand-dispatch-to-a-runner pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "update-engine",
	Short: "A/B update engine",
	Long:  "update-engine drives the boot-slot update attempter: checking for, downloading, and applying payloads across a device's A/B partition slots.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/abupdate/update-engine.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(dumpPlanCmd)
	rootCmd.AddCommand(dumpPrefsCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
