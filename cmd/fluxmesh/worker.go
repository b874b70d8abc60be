package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/metrics"
	"github.com/fluxmesh/fluxmesh/pkg/network"
	"github.com/fluxmesh/fluxmesh/pkg/rpc"
	"github.com/fluxmesh/fluxmesh/pkg/runtime"
	"github.com/fluxmesh/fluxmesh/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker process operations",
}

var workerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a worker: data-plane transport plus the deployment RPC server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadWorkerConfig(configPath)
		if err != nil {
			return fmt.Errorf("load worker config: %w", err)
		}

		pool := buffer.NewPool(buffer.Config{Name: "worker", BufferSize: 64 * 1024, NumBuffers: 1024})
		manager := runtime.NewQueryManager(runtime.Config{
			Mode:           runtime.QueueMode(cfg.QueueMode),
			NumThreads:     cfg.HandlerThreads,
			QueuesPerQuery: cfg.PerQueryQueues,
		})
		manager.Start(context.Background())
		defer manager.Shutdown()

		dataAddr, err := dataPlaneAddr(cfg.BindAddr, cfg.DataPort)
		if err != nil {
			return fmt.Errorf("derive data-plane address: %w", err)
		}
		transport := network.NewTransport(network.Config{
			BindAddr:       dataAddr,
			HandlerThreads: cfg.HandlerThreads,
			QueueSize:      256,
		})
		if err := transport.Start(context.Background()); err != nil {
			return fmt.Errorf("start network transport: %w", err)
		}
		defer transport.Shutdown()

		exec := worker.NewExecutor(cfg, pool, manager, transport)

		lis, err := net.Listen("tcp", cfg.BindAddr)
		if err != nil {
			return fmt.Errorf("listen on rpc address %s: %w", cfg.BindAddr, err)
		}
		grpcServer := grpc.NewServer()
		rpc.Register(grpcServer, rpc.NewServer(exec))
		go func() {
			log.Info(fmt.Sprintf("rpc server listening on %s", lis.Addr()))
			if err := grpcServer.Serve(lis); err != nil {
				log.Errorf("rpc server", err)
			}
		}()
		defer grpcServer.GracefulStop()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Info("metrics listening on " + cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Errorf("metrics server", err)
			}
		}()

		fmt.Println("Worker is running. Press Ctrl+C to stop.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerServeCmd)
	workerServeCmd.Flags().String("config", "", "Path to worker YAML config")
}

// dataPlaneAddr swaps rpcAddr's port for dataPort, reusing its host so
// the data-plane transport binds the same interface as the RPC server.
func dataPlaneAddr(rpcAddr string, dataPort int) (string, error) {
	host, _, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", dataPort)), nil
}
