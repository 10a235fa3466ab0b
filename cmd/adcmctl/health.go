package main

import (
	"context"
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/client"
	"github.com/arenadata/adcm/pkg/health"
	"github.com/arenadata/adcm/pkg/scheduler"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the scheduler's gRPC health service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		c, err := client.NewClient(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		unhealthy := false
		for _, row := range c.CheckAll(context.Background(), append([]string{""}, scheduler.Loops...)...) {
			name := row.Service
			if name == "" {
				name = "scheduler"
			}
			if row.Err != nil {
				return fmt.Errorf("health check %s at %s: %w", name, addr, row.Err)
			}
			fmt.Printf("%-10s %s\n", name, row.Status)
			// the recoverer stops serving once its pass is done
			if row.Status != healthpb.HealthCheckResponse_SERVING && row.Service != scheduler.LoopRecoverer {
				unhealthy = true
			}
		}
		if readyAddr, _ := cmd.Flags().GetString("ready-addr"); readyAddr != "" {
			res := health.NewHTTPChecker("http://" + readyAddr + "/ready").
				WithTimeout(5 * time.Second).
				Check(context.Background())
			fmt.Printf("%-10s %s (%s)\n", "ready", readyState(res.Healthy), res.Message)
			if !res.Healthy {
				unhealthy = true
			}
		}
		if unhealthy {
			return fmt.Errorf("scheduler at %s is not healthy", addr)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("addr", "127.0.0.1:9181", "Scheduler gRPC address")
	healthCmd.Flags().String("ready-addr", "", "Also probe /ready on this metrics address")
}

func readyState(ok bool) string {
	if ok {
		return "READY"
	}
	return "NOT_READY"
}
