package client

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// newHealthCommand constructs the `health` command, a grpc.health.v1 check.
func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, _ := cmd.Flags().GetString("service")
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = grpcAddrFromEnv()
			}
			conn, err := dialGRPC(addr)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			ctx, cancel := context.WithTimeout(contextOrBackground(cmd), requestTimeout)
			defer cancel()
			res, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status:", res.GetStatus())
			if res.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
				return fmt.Errorf("not serving")
			}
			return nil
		},
	}
	cmd.Flags().String("service", "", "Service name (empty for overall health)")
	cmd.Flags().String("addr", "", "gRPC address (default EVENT_BUS_GRPC or 127.0.0.1:50051)")
	return cmd
}
