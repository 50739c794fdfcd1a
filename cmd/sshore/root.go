package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aitechnerd/sshore/internal/config"
	"github.com/aitechnerd/sshore/internal/conn"
	"github.com/aitechnerd/sshore/internal/trust"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "sshore",
	Short:         "SSH session engine: sessions, tunnels, transfers, multi-host exec",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "path to config file")
}

// newSupervisor builds the connection supervisor shared by all subcommands.
func newSupervisor() *conn.Supervisor {
	return &conn.Supervisor{
		Trust:       trust.NewStore(trust.DefaultPath()),
		Policy:      cfg.Settings.HostKeyPolicy,
		Prompter:    &terminalPrompter{},
		Lookup:      cfg.FindHost,
		DefaultUser: cfg.Settings.DefaultUser,
		Timeout:     time.Duration(cfg.Settings.ConnectTimeoutSecs) * time.Second,
	}
}

// terminalPrompter answers trust and passphrase questions on the controlling
// terminal.
type terminalPrompter struct{}

func (p *terminalPrompter) ConfirmUnknownKey(host string, port int, fp string) (bool, error) {
	fmt.Fprintf(os.Stderr, "The authenticity of host %s:%d can't be established.\n", host, port)
	fmt.Fprintf(os.Stderr, "Key fingerprint is %s.\n", fp)
	fmt.Fprint(os.Stderr, "Are you sure you want to continue connecting (yes/no)? ")

	answer, err := readLine()
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "yes"), nil
}

func (p *terminalPrompter) ConfirmChangedKey(host string, port int, recorded, presented string) (bool, error) {
	fmt.Fprintln(os.Stderr, "@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@")
	fmt.Fprintln(os.Stderr, "@  WARNING: REMOTE HOST IDENTIFICATION HAS CHANGED!       @")
	fmt.Fprintln(os.Stderr, "@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@")
	fmt.Fprintf(os.Stderr, "Recorded key:  %s\n", recorded)
	fmt.Fprintf(os.Stderr, "Presented key: %s\n", presented)
	fmt.Fprintf(os.Stderr, "Someone could be eavesdropping on %s:%d.\n", host, port)
	fmt.Fprint(os.Stderr, "Type 'replace' to trust the new key, anything else aborts: ")

	answer, err := readLine()
	if err != nil {
		return false, err
	}
	return answer == "replace", nil
}

func (p *terminalPrompter) AskPassphrase(path string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter passphrase for key %s: ", path)
	pass, err := readSecret()
	fmt.Fprintln(os.Stderr)
	return pass, err
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo when stdin is a terminal.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		return string(secret), err
	}
	return readLine()
}

// resolveTarget maps a CLI target argument to a host record.
func resolveTarget(target string) (*config.HostRecord, error) {
	rec, err := cfg.ResolveTarget(target)
	if err != nil {
		return nil, err
	}
	if rec.Env == "" {
		if env := config.DetectEnv(rec); env != "" {
			log.Printf("[HOST] %s classified as %s", rec.Name, env)
		}
	}
	return rec, nil
}
