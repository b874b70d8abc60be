package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Submit, inspect, and stop queries against a running coordinator",
}

type submitBody struct {
	UserQuery      string `json:"userQuery"`
	Placement      string `json:"placement"`
	FaultTolerance string `json:"faultTolerance,omitempty"`
	Lineage        string `json:"lineage,omitempty"`
}

var querySubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a query (spec.md §6 POST /queries)",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _ := cmd.Flags().GetString("coordinator")
		userQuery, _ := cmd.Flags().GetString("query")
		placement, _ := cmd.Flags().GetString("placement")
		faultTolerance, _ := cmd.Flags().GetString("fault-tolerance")
		lineage, _ := cmd.Flags().GetString("lineage")

		body, err := json.Marshal(submitBody{
			UserQuery:      userQuery,
			Placement:      placement,
			FaultTolerance: faultTolerance,
			Lineage:        lineage,
		})
		if err != nil {
			return err
		}

		resp, err := http.Post("http://"+coord+"/queries", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("submit query: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

var queryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get a query's status (spec.md §6 GET /query/{id})",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _ := cmd.Flags().GetString("coordinator")
		id, _ := cmd.Flags().GetUint64("id")

		resp, err := http.Get(fmt.Sprintf("http://%s/query/%d", coord, id))
		if err != nil {
			return fmt.Errorf("get query status: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

var queryStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a query (spec.md §6 DELETE /query/{id})",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _ := cmd.Flags().GetString("coordinator")
		id, _ := cmd.Flags().GetUint64("id")

		req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://%s/query/%d", coord, id), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("stop query: %w", err)
		}
		defer resp.Body.Close()
		return printResponse(resp)
	},
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", resp.Status, data)
	return nil
}

func init() {
	queryCmd.AddCommand(querySubmitCmd, queryStatusCmd, queryStopCmd)

	for _, c := range []*cobra.Command{querySubmitCmd, queryStatusCmd, queryStopCmd} {
		c.Flags().String("coordinator", "127.0.0.1:4000", "Coordinator query API address")
	}

	querySubmitCmd.Flags().String("query", "", "Fluent query string (required)")
	querySubmitCmd.Flags().String("placement", "BottomUp", "Placement strategy")
	querySubmitCmd.Flags().String("fault-tolerance", "", "Fault tolerance mode")
	querySubmitCmd.Flags().String("lineage", "", "Lineage mode")
	querySubmitCmd.MarkFlagRequired("query")

	queryStatusCmd.Flags().Uint64("id", 0, "Query id (required)")
	queryStatusCmd.MarkFlagRequired("id")

	queryStopCmd.Flags().Uint64("id", 0, "Query id (required)")
	queryStopCmd.MarkFlagRequired("id")
}
