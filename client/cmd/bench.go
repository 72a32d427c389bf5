/*
Copyright © 2024 Nokia
*/
package cmd

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sdcio/workpool/pkg/workload"
)

var benchCfg = workload.BenchConfig{}

// benchCmd represents the bench command
var benchCmd = &cobra.Command{
	Use:          "bench",
	Short:        "hash random payloads through an in-process pool and report throughput",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := workload.Bench(cmd.Context(), benchCfg)
		if err != nil {
			return err
		}
		if format == formatJSON {
			return printJSON(map[string]any{
				"run-id":     res.RunID,
				"pool":       res.Pool,
				"workers":    res.Workers,
				"tasks":      res.Tasks,
				"duration":   res.Duration.String(),
				"throughput": res.Throughput(),
				"stats":      res.Stats,
			})
		}
		printTable([]string{"Run", "Workers", "Tasks", "Duration", "Tasks/s", "Failed"}, [][]string{{
			res.RunID,
			strconv.Itoa(res.Workers),
			strconv.Itoa(res.Tasks),
			res.Duration.String(),
			fmt.Sprintf("%.0f", res.Throughput()),
			strconv.FormatInt(res.Stats.Failed, 10),
		}})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntVarP(&benchCfg.Workers, "workers", "w", runtime.NumCPU(), "number of pool workers")
	benchCmd.Flags().IntVarP(&benchCfg.Producers, "producers", "p", 4, "number of concurrent producers")
	benchCmd.Flags().IntVarP(&benchCfg.Batches, "batches", "b", 100, "batches per producer")
	benchCmd.Flags().IntVarP(&benchCfg.BatchSize, "batch-size", "", 64, "payloads per batch")
	benchCmd.Flags().IntVarP(&benchCfg.PayloadSize, "payload-size", "", 256, "payload size in bytes")
	benchCmd.Flags().Int64VarP(&benchCfg.MaxInflight, "max-inflight", "", 0, "max batches waiting on the pool, defaults to producers")
	benchCmd.Flags().Int64VarP(&benchCfg.Seed, "seed", "", 1, "payload generator seed")
}
