/*
Copyright © 2024 Nokia
*/
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var services []string

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:          "health",
	Short:        "check the serving status of the daemon or of individual pools",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		healthClient, cc, err := createHealthClient(ctx, addr)
		if err != nil {
			return err
		}
		defer cc.Close()

		if len(services) == 0 {
			services = []string{""}
		}
		result := make(map[string]string, len(services))
		rows := make([][]string, 0, len(services))
		for _, svc := range services {
			rsp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
			if err != nil {
				return err
			}
			name := svc
			if name == "" {
				name = "(server)"
			}
			result[name] = rsp.GetStatus().String()
			rows = append(rows, []string{name, rsp.GetStatus().String()})
		}
		if format == formatJSON {
			return printJSON(result)
		}
		printTable([]string{"Service", "Status"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringSliceVarP(&services, "service", "s", nil, "pool name(s), empty checks the whole server")
}
