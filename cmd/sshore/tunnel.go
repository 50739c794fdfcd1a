package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aitechnerd/sshore/internal/conn"
	"github.com/aitechnerd/sshore/internal/tunnel"
)

var (
	localForwards  []string
	remoteForwards []string
	tunnelPersist  bool
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Manage port-forwarding tunnels",
}

var tunnelStartCmd = &cobra.Command{
	Use:   "start <host>",
	Short: "Start tunnels to a host and keep them up until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runTunnelStart,
}

var tunnelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List running tunnels",
	Args:  cobra.NoArgs,
	RunE:  runTunnelList,
}

var tunnelStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a running tunnel by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runTunnelStop,
}

func init() {
	tunnelStartCmd.Flags().StringArrayVarP(&localForwards, "local", "L", nil,
		"local forward [bind:]port:host:hostport (repeatable)")
	tunnelStartCmd.Flags().StringArrayVarP(&remoteForwards, "remote", "R", nil,
		"remote forward [bind:]port:host:hostport (repeatable)")
	tunnelStartCmd.Flags().BoolVar(&tunnelPersist, "persist", false,
		"reconnect automatically when the transport is lost")

	tunnelCmd.AddCommand(tunnelStartCmd, tunnelListCmd, tunnelStopCmd)
	rootCmd.AddCommand(tunnelCmd)
}

func runTunnelStart(cmd *cobra.Command, args []string) error {
	rec, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	var specs []tunnel.Spec
	for _, raw := range localForwards {
		spec, err := tunnel.ParseSpec(tunnel.DirectionLocal, raw)
		if err != nil {
			return err
		}
		spec.Persist = tunnelPersist
		specs = append(specs, spec)
	}
	for _, raw := range remoteForwards {
		spec, err := tunnel.ParseSpec(tunnel.DirectionRemote, raw)
		if err != nil {
			return err
		}
		spec.Persist = tunnelPersist
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return fmt.Errorf("no forwards given: use -L and/or -R")
	}

	sup := newSupervisor()
	dial := func(ctx context.Context) (*conn.Client, error) {
		return sup.Open(ctx, rec)
	}

	registry := tunnel.NewRegistry(tunnel.DefaultRegistryPath())
	tunnels := make([]*tunnel.Tunnel, 0, len(specs))

	for _, spec := range specs {
		spec := spec
		tun := tunnel.New(spec, dial)
		tun.OnState = func(st tunnel.Status) {
			log.Printf("[TUNNEL] %s -> %s", spec, st.Kind)
		}
		if err := tun.Start(); err != nil {
			for _, running := range tunnels {
				running.Stop()
			}
			return err
		}
		tunnels = append(tunnels, tun)

		id := tunnel.RecordID(rec.Name, spec)
		if err := registry.Add(tunnel.Record{
			ID: id, HostName: rec.Name, Spec: spec,
			PID: os.Getpid(), StartedAt: time.Now(),
		}); err != nil {
			log.Printf("[TUNNEL] registry update failed: %v", err)
		}
		defer registry.Remove(id)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	for _, tun := range tunnels {
		tun.Stop()
	}
	return nil
}

func runTunnelList(cmd *cobra.Command, args []string) error {
	records, err := tunnel.NewRegistry(tunnel.DefaultRegistryPath()).List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no running tunnels")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%-40s pid %-8d up %s\n",
			rec.ID, rec.PID, time.Since(rec.StartedAt).Round(time.Second))
	}
	return nil
}

func runTunnelStop(cmd *cobra.Command, args []string) error {
	registry := tunnel.NewRegistry(tunnel.DefaultRegistryPath())
	records, err := registry.List()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ID != args[0] {
			continue
		}
		proc, err := os.FindProcess(rec.PID)
		if err == nil {
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("stop tunnel %s (pid %d): %w", rec.ID, rec.PID, err)
			}
		}
		return registry.Remove(rec.ID)
	}
	return fmt.Errorf("no running tunnel with id %q", args[0])
}
