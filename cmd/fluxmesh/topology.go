package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Inspect the cluster topology",
}

var topologyInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the worker nodes a running coordinator knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _ := cmd.Flags().GetString("coordinator")
		resp, err := http.Get("http://" + coord + "/topology")
		if err != nil {
			return fmt.Errorf("fetch topology: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

func init() {
	topologyCmd.AddCommand(topologyInspectCmd)
	topologyInspectCmd.Flags().String("coordinator", "127.0.0.1:4000", "Coordinator query API address")
}
