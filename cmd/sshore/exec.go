package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aitechnerd/sshore/internal/config"
	"github.com/aitechnerd/sshore/internal/execrun"
)

var execConcurrency int

var execCmd = &cobra.Command{
	Use:   "exec <command> <host>...",
	Short: "Run a command on many hosts concurrently",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runExec,
}

func init() {
	execCmd.Flags().IntVarP(&execConcurrency, "concurrency", "c", 0,
		"max simultaneous hosts (default from config)")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	command := args[0]

	hosts := make([]*config.HostRecord, 0, len(args)-1)
	for _, target := range args[1:] {
		rec, err := resolveTarget(target)
		if err != nil {
			return err
		}
		hosts = append(hosts, rec)
	}

	limit := execConcurrency
	if limit <= 0 {
		limit = cfg.Settings.ExecConcurrency
	}

	runner := &execrun.Runner{Open: newSupervisor().Open, Concurrency: limit}

	// A single host streams live instead of buffering until completion.
	if len(hosts) == 1 {
		res := runner.RunStream(cmd.Context(), command, hosts[0], os.Stdout, os.Stderr)
		if res.Err != nil {
			return res.Err
		}
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
		return nil
	}

	results := runner.Run(cmd.Context(), command, hosts)

	for _, res := range results {
		fmt.Printf("=== %s (exit %d) ===\n", res.Host, res.ExitCode)
		if res.Err != nil {
			fmt.Printf("error: %v\n", res.Err)
		}
		if res.Stdout != "" {
			fmt.Print(res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
	}

	if execrun.Failed(results) {
		os.Exit(1)
	}
	return nil
}
