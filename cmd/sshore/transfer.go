package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aitechnerd/sshore/internal/transfer"
)

var transferResume bool

var putCmd = &cobra.Command{
	Use:   "put <local-path> <host>:<remote-path>",
	Short: "Upload a file over a dedicated transfer channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, remotePath, err := splitRemoteArg(args[1])
		if err != nil {
			return err
		}
		return runTransfer(cmd, target, func(eng *transfer.Engine) error {
			return eng.Upload(cmd.Context(), args[0], remotePath, transferResume)
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <host>:<remote-path> <local-path>",
	Short: "Download a file over a dedicated transfer channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, remotePath, err := splitRemoteArg(args[0])
		if err != nil {
			return err
		}
		return runTransfer(cmd, target, func(eng *transfer.Engine) error {
			return eng.Download(cmd.Context(), remotePath, args[1], transferResume)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{putCmd, getCmd} {
		c.Flags().BoolVarP(&transferResume, "resume", "r", false,
			"continue a partial transfer from the destination's current size")
	}
	rootCmd.AddCommand(putCmd, getCmd)
}

func splitRemoteArg(arg string) (target, path string, err error) {
	idx := strings.Index(arg, ":")
	if idx <= 0 || idx == len(arg)-1 {
		return "", "", fmt.Errorf("invalid remote %q: want <host>:<path>", arg)
	}
	return arg[:idx], arg[idx+1:], nil
}

func runTransfer(cmd *cobra.Command, target string, fn func(*transfer.Engine) error) error {
	rec, err := resolveTarget(target)
	if err != nil {
		return err
	}

	client, err := newSupervisor().Open(cmd.Context(), rec)
	if err != nil {
		return err
	}
	defer client.Close()

	eng, err := transfer.NewEngine(client)
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.OnProgress = printProgress
	if err := fn(eng); err != nil {
		fmt.Fprintln(os.Stderr)
		return err
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

// printProgress rewrites one status line in place.
func printProgress(p transfer.Progress) {
	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Transferred) / float64(p.Total) * 100
	}
	fmt.Fprintf(os.Stderr, "\r%6.1f%%  %s / %s  %s/s   ",
		percent, humanBytes(p.Transferred), humanBytes(p.Total), humanBytes(int64(p.Rate)))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
