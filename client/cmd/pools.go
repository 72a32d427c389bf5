/*
Copyright © 2024 Nokia
*/
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdcio/workpool/pkg/pool"
)

var startWorkers int

// poolsCmd represents the pools command
var poolsCmd = &cobra.Command{
	Use:          "pools",
	Short:        "list the pools of a daemon",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats := make([]pool.Stats, 0)
		if err := doHTTP(cmd.Context(), http.MethodGet, "/pools", nil, &stats); err != nil {
			return err
		}
		return printStats(stats...)
	},
}

func newPoolActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:          action + " <pool>",
		Short:        short,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if action == "start" && startWorkers > 0 {
				body = map[string]int{"workers": startWorkers}
			}
			st := pool.Stats{}
			if err := doHTTP(cmd.Context(), http.MethodPost, "/pools/"+args[0]+"/"+action, body, &st); err != nil {
				return err
			}
			return printStats(st)
		},
	}
}

func init() {
	rootCmd.AddCommand(poolsCmd)
	startCmd := newPoolActionCmd("start", "start the workers of a pool")
	startCmd.Flags().IntVarP(&startWorkers, "workers", "w", 0, "number of workers, defaults to the configured value")
	poolsCmd.AddCommand(
		startCmd,
		newPoolActionCmd("stop", "drain and join the workers of a pool"),
		newPoolActionCmd("interrupt", "stop a pool from accepting tasks"),
	)
}

func doHTTP(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+httpAddr+path, body)
	if err != nil {
		return err
	}
	rsp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(rsp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, rsp.Status, bytes.TrimSpace(b))
	}
	return json.NewDecoder(rsp.Body).Decode(out)
}

func printStats(stats ...pool.Stats) error {
	if format == formatJSON {
		return printJSON(stats)
	}
	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []string{
			st.Name,
			st.State,
			strconv.Itoa(st.Workers),
			strconv.Itoa(st.Live),
			strconv.Itoa(st.Queued),
			strconv.FormatInt(st.Submitted, 10),
			strconv.FormatInt(st.Completed, 10),
			strconv.FormatInt(st.Failed, 10),
			strconv.FormatInt(st.Rejected, 10),
		})
	}
	printTable([]string{"Name", "State", "Workers", "Live", "Queued", "Submitted", "Completed", "Failed", "Rejected"}, rows)
	return nil
}
