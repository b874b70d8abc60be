// Command fluxmesh is the coordinator/worker/query CLI for FluxMesh
// (spec.md §6), following cmd/warren's cobra idiom: a root command with
// shared logging flags, one subcommand tree per process role plus a
// client-side query subcommand that talks to a running coordinator's
// pkg/api HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluxmesh/fluxmesh/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fluxmesh",
	Short: "FluxMesh - a distributed streaming data-processing engine",
	Long: `FluxMesh runs streaming queries across a cluster of coordinator
and worker processes: the coordinator parses and places query plans,
the workers run their compiled pipelines and exchange tuples directly
over the network (spec.md §1).`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fluxmesh version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(topologyCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
