// dpsynccli queries a running dpsyncd over its gRPC admin API.
//
// Usage:
//
//	dpsynccli                          Interactive shell
//	dpsynccli show ports [PORT]        Show mirrored dataplane ports
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/veesix-networks/dpsync/api/show"
	"github.com/veesix-networks/dpsync/pkg/version"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const requestTimeout = 5 * time.Second

var serverAddr string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "dpsynccli",
	Short:             "Query the dataplane sync daemon",
	Version:           version.Full(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "127.0.0.1:50051", "dpsyncd API address")

	rootCmd.AddCommand(
		newShowCmd(),
		newShellCmd(),
	)
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show operational state",
	}
	cmd.AddCommand(newShowPortsCmd())
	return cmd
}

func newShowPortsCmd() *cobra.Command {
	var req show.PortsRequest

	cmd := &cobra.Command{
		Use:   "ports [PORT]",
		Short: "Show mirrored dataplane ports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				req.Port = port
			}
			return withClient(func(c *show.Client) error {
				out, err := showPorts(cmd.Context(), c, req)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.Detail, "detail", false, "one block per port")
	cmd.Flags().BoolVar(&req.JSON, "json", false, "JSON output")
	return cmd
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context())
		},
	}
}

func withClient(fn func(c *show.Client) error) error {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverAddr, err)
	}
	defer conn.Close()
	return fn(show.NewClient(conn))
}

func showPorts(ctx context.Context, c *show.Client, req show.PortsRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return c.ShowPorts(ctx, req)
}
