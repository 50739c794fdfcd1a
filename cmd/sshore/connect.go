package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aitechnerd/sshore/internal/config"
	"github.com/aitechnerd/sshore/internal/keychain"
	"github.com/aitechnerd/sshore/internal/session"
	"github.com/aitechnerd/sshore/internal/transcript"
)

var recordPath string

var connectCmd = &cobra.Command{
	Use:   "connect <host|user@host[:port]>",
	Short: "Open an interactive shell session",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&recordPath, "record", "", "record the session to an asciinema cast file")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	rec, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	sup := newSupervisor()
	client, err := sup.Open(cmd.Context(), rec)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := session.Options{
		ConfirmSudo:    confirmSudo,
		LookupPassword: func() (string, bool) { return lookupPassword(client.User, rec) },
		PickSnippet:    pickSnippet,
	}

	if recordPath != "" {
		width, height := 80, 24
		if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
			width, height = w, h
		}
		recorder, err := transcript.New(recordPath, rec.Name, width, height)
		if err != nil {
			return err
		}
		defer recorder.Close()
		opts.Transcript = recorder
		log.Printf("[SESSION] recording to %s", recorder.Path())
	}

	sess, err := session.New(client, rec, &cfg.Settings, opts)
	if err != nil {
		return err
	}

	return sess.Run(cmd.Context())
}

// confirmSudo asks before the stored password is typed into a detected
// prompt. The answer keystroke comes through the session's input pump,
// never from a second read on the raw terminal.
func confirmSudo(readKey func() (byte, bool)) bool {
	fmt.Fprint(os.Stderr, "\r\n[sshore] password prompt detected, send stored password? [y/N] ")
	b, ok := readKey()
	fmt.Fprint(os.Stderr, "\r\n")
	return ok && (b == 'y' || b == 'Y')
}

func lookupPassword(user string, rec *config.HostRecord) (string, bool) {
	password, found, err := keychain.Get(user, rec.Host, rec.EffectivePort())
	if err != nil || !found {
		return "", false
	}
	return password, true
}

// pickSnippet renders a numbered snippet list and reads a choice. Empty
// input or anything unparsable cancels with no side effect.
func pickSnippet(snippets []config.Snippet) (config.Snippet, bool) {
	if len(snippets) == 0 {
		return config.Snippet{}, false
	}

	fmt.Fprint(os.Stderr, "\r\n[sshore] snippets:\r\n")
	for i, s := range snippets {
		fmt.Fprintf(os.Stderr, "  %d) %-20s %s\r\n", i+1, s.Name, s.Command)
	}
	fmt.Fprint(os.Stderr, "select (enter to cancel): ")

	var input []byte
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return config.Snippet{}, false
		}
		if buf[0] == '\r' || buf[0] == '\n' {
			break
		}
		fmt.Fprintf(os.Stderr, "%c", buf[0])
		input = append(input, buf[0])
	}
	fmt.Fprint(os.Stderr, "\r\n")

	n, err := strconv.Atoi(strings.TrimSpace(string(input)))
	if err != nil || n < 1 || n > len(snippets) {
		return config.Snippet{}, false
	}
	return snippets[n-1], true
}
