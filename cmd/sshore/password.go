package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aitechnerd/sshore/internal/keychain"
	"github.com/aitechnerd/sshore/internal/trust"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage keychain-stored host passwords",
}

var passwordSetCmd = &cobra.Command{
	Use:   "set <host|user@host[:port]>",
	Short: "Store a password in the OS keychain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		user := rec.EffectiveUser(cfg.Settings.DefaultUser)

		fmt.Fprintf(os.Stderr, "Password for %s@%s:%d: ", user, rec.Host, rec.EffectivePort())
		password, err := readSecret()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		return keychain.Set(user, rec.Host, rec.EffectivePort(), password)
	},
}

var passwordDeleteCmd = &cobra.Command{
	Use:   "delete <host|user@host[:port]>",
	Short: "Remove a stored password from the OS keychain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		user := rec.EffectiveUser(cfg.Settings.DefaultUser)
		return keychain.Delete(user, rec.Host, rec.EffectivePort())
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage recorded host keys",
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <host|host:port>",
	Short: "Forget all recorded keys for a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := resolveTarget(args[0])
		if err != nil {
			return err
		}
		store := trust.NewStore(trust.DefaultPath())
		return store.Remove(rec.Host, rec.EffectivePort())
	},
}

func init() {
	passwordCmd.AddCommand(passwordSetCmd, passwordDeleteCmd)
	trustCmd.AddCommand(trustRemoveCmd)
	rootCmd.AddCommand(passwordCmd, trustCmd)
}
