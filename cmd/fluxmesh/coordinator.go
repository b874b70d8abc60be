package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxmesh/fluxmesh/pkg/api"
	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/coordinator"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/metrics"
	"github.com/fluxmesh/fluxmesh/pkg/rpc"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Coordinator process operations",
}

var coordinatorServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator: catalogs, placement/deployment, and the query HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadCoordinatorConfig(configPath)
		if err != nil {
			return fmt.Errorf("load coordinator config: %w", err)
		}

		coord := coordinator.New(cfg)

		var clients []*rpc.Client
		defer func() {
			for _, c := range clients {
				c.Close()
			}
		}()

		nodeByIndex := make([]types.TopologyNodeId, len(cfg.Workers))
		for i, w := range cfg.Workers {
			client, err := rpc.Dial(w.Address)
			if err != nil {
				return fmt.Errorf("dial worker %s: %w", w.Address, err)
			}
			clients = append(clients, client)
			nodeByIndex[i] = coord.RegisterWorker(w.Address, w.Slots, client)
		}

		for _, ls := range cfg.LogicalSources {
			schema := make(types.Schema, len(ls.Fields))
			for i, f := range ls.Fields {
				schema[i] = types.Field{Name: f.Name, Type: types.FieldType(f.Type)}
			}
			if err := coord.RegisterLogicalSource(ls.Name, schema); err != nil {
				return fmt.Errorf("register logical source %s: %w", ls.Name, err)
			}
		}

		for _, ps := range cfg.PhysicalSources {
			if ps.WorkerIndex < 0 || ps.WorkerIndex >= len(nodeByIndex) {
				return fmt.Errorf("physical source %s: workerIndex %d out of range", ps.PhysicalName, ps.WorkerIndex)
			}
			if _, err := coord.RegisterPhysicalSource(nodeByIndex[ps.WorkerIndex], ps.LogicalName, ps.PhysicalName); err != nil {
				return fmt.Errorf("register physical source %s: %w", ps.PhysicalName, err)
			}
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Info("metrics listening on " + cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Errorf("metrics server", err)
			}
		}()

		apiServer := &http.Server{Addr: cfg.BindAddr, Handler: api.NewHandler(coord)}
		go func() {
			log.Info("query API listening on " + cfg.BindAddr)
			if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("query API server", err)
			}
		}()

		fmt.Println("Coordinator is running. Press Ctrl+C to stop.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		return apiServer.Close()
	},
}

func init() {
	coordinatorCmd.AddCommand(coordinatorServeCmd)
	coordinatorServeCmd.Flags().String("config", "", "Path to coordinator YAML config")
}
