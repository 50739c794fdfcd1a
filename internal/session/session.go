// Package session runs the interactive shell channel: a duplex proxy loop
// between the local terminal and the remote pty, with two stream
// interceptors (password prompt watcher, snippet trigger) and terminal
// theming scoped to the session's lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/aitechnerd/sshore/internal/config"
	"github.com/aitechnerd/sshore/internal/conn"
)

// State is the session lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateShellOpen
	StateActive
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateShellOpen:
		return "shell-open"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "errored"
	}
}

// Options are the session's seams to the presentation layer. All callbacks
// are optional; a nil callback disables the corresponding feature.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer

	// ConfirmSudo is asked before the stored password is sent in response
	// to a detected prompt. readKey steals the next keystroke from the
	// session's input pump, so the answer is consumed here and never
	// forwarded to the remote shell.
	ConfirmSudo func(readKey func() (byte, bool)) bool
	// LookupPassword fetches the keychain password for this login.
	LookupPassword func() (string, bool)
	// PickSnippet lets the user choose from the host's snippet list.
	// Returning ok=false resumes raw forwarding with no side effect.
	PickSnippet func([]config.Snippet) (config.Snippet, bool)

	OnState func(State)

	// Transcript receives a copy of all remote output, e.g. a
	// transcript.Recorder. The caller owns its lifecycle.
	Transcript io.Writer

	// NoTheme suppresses title/color sequences (useful off-terminal).
	NoTheme bool
}

// Session is one interactive shell over an established connection. Closing
// or detaching it never touches sibling channels or the transport.
type Session struct {
	client   *conn.Client
	rec      *config.HostRecord
	settings *config.Settings
	opts     Options

	watcher *PromptWatcher
	scanner *TriggerScanner
	guard   *terminalGuard

	mu       sync.Mutex
	state    State
	sess     *ssh.Session
	stdinW   io.WriteCloser
	detached bool

	// keyCap, when non-nil, receives the next keystroke instead of the
	// remote channel. pumpDone aborts a pending capture when input ends.
	keyCap   chan byte
	pumpDone chan struct{}
}

// New prepares an interactive session. Run establishes the channel.
func New(client *conn.Client, rec *config.HostRecord, settings *config.Settings, opts Options) (*Session, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	watcher, err := NewPromptWatcher(settings.PromptPatterns)
	if err != nil {
		return nil, err
	}

	return &Session{
		client:   client,
		rec:      rec,
		settings: settings,
		opts:     opts,
		watcher:  watcher,
		scanner:  NewTriggerScanner(settings.SnippetTrigger),
		state:    StateConnecting,
		pumpDone: make(chan struct{}),
	}, nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// Detach closes only the shell channel. Transfer and tunnel channels on the
// same connection keep running.
func (s *Session) Detach() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	sess := s.sess
	s.mu.Unlock()

	log.Printf("[SESSION] detaching from %s", s.rec.Name)
	if sess != nil {
		sess.Close()
	}
}

// Run opens the shell channel and proxies until the remote side exits, the
// user detaches, or ctx is cancelled. Terminal state is restored on every
// exit path.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateConnecting)

	sshSess, err := s.client.NewSession()
	if err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("open shell channel: %w", err)
	}
	defer sshSess.Close()

	s.guard = newTerminalGuard(s.opts.Stdin, s.opts.Stdout)
	defer s.guard.restore()

	stdinW, err := sshSess.StdinPipe()
	if err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("open shell stdin: %w", err)
	}

	s.mu.Lock()
	s.sess = sshSess
	s.stdinW = stdinW
	s.mu.Unlock()

	out := &remoteOutput{s: s}
	sshSess.Stdout = out
	sshSess.Stderr = out

	termName := os.Getenv("TERM")
	if termName == "" {
		termName = "xterm-256color"
	}
	width, height := s.guard.size()
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sshSess.RequestPty(termName, height, width, modes); err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("request pty: %w", err)
	}

	// Theme before any remote data reaches the terminal.
	if !s.opts.NoTheme {
		applyTheme(s.opts.Stdout, s.settings, s.rec, s.client.User)
		s.guard.markThemed()
	}
	s.setState(StateShellOpen)

	if err := s.guard.enterRaw(); err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("enter raw mode: %w", err)
	}

	if err := sshSess.Shell(); err != nil {
		s.setState(StateErrored)
		return fmt.Errorf("start shell: %w", err)
	}
	s.setState(StateActive)
	log.Printf("[SESSION] shell active on %s", s.rec.Name)

	stop := make(chan struct{})
	defer close(stop)
	go s.watchSignals(sshSess, stop)
	go func() {
		select {
		case <-ctx.Done():
			sshSess.Close()
		case <-stop:
		}
	}()

	if s.rec.OnConnect != "" {
		go s.sendOnConnect(stop, stdinW)
	}

	go s.pumpInput(stdinW)

	err = sshSess.Wait()

	s.mu.Lock()
	detached := s.detached
	s.mu.Unlock()

	s.guard.restore()

	switch {
	case detached:
		s.setState(StateClosed)
		return nil
	case err == nil:
		s.setState(StateClosed)
		return nil
	default:
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		if errors.As(err, &exitErr) || errors.As(err, &missing) {
			s.setState(StateClosed)
			return nil
		}
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}
		s.setState(StateErrored)
		return fmt.Errorf("shell channel: %w", err)
	}
}

// watchSignals restores the terminal on termination signals and propagates
// window resizes to the remote pty.
func (s *Session) watchSignals(sshSess *ssh.Session, stop <-chan struct{}) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGWINCH)
	defer signal.Stop(sigs)

	for {
		select {
		case <-stop:
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGWINCH:
				width, height := s.guard.size()
				sshSess.WindowChange(height, width)
			default:
				s.guard.restore()
				sshSess.Close()
				return
			}
		}
	}
}

func (s *Session) sendOnConnect(stop <-chan struct{}, w io.Writer) {
	delay := time.Duration(s.settings.OnConnectDelayMs) * time.Millisecond
	select {
	case <-stop:
		return
	case <-time.After(delay):
	}
	io.WriteString(w, s.rec.OnConnect+"\n")
}

// pumpInput forwards local keystrokes to the remote channel, running the
// detach sequence check and the snippet trigger scanner on the way.
func (s *Session) pumpInput(w io.WriteCloser) {
	defer close(s.pumpDone)

	buf := make([]byte, 1024)
	atLineStart := true
	pendingTilde := false

	for {
		n, err := s.opts.Stdin.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				// A pending prompt confirmation consumes the keystroke
				// out of band; it never reaches the remote.
				s.mu.Lock()
				capture := s.keyCap
				s.keyCap = nil
				s.mu.Unlock()
				if capture != nil {
					capture <- b
					continue
				}
				// OpenSSH-style detach: "~." immediately after a newline.
				// A withheld tilde that turns out not to be a detach is
				// re-fed through the scanner, so a tilde-based snippet
				// trigger still works at line start.
				if pendingTilde {
					pendingTilde = false
					if b == '.' {
						s.Detach()
						return
					}
					s.forward(w, []byte{'~', b})
					atLineStart = b == '\r' || b == '\n'
					continue
				}
				if atLineStart && b == '~' {
					pendingTilde = true
					atLineStart = false
					continue
				}
				s.forward(w, []byte{b})
				atLineStart = b == '\r' || b == '\n'
			}
		}
		if err != nil {
			if pendingTilde {
				s.forward(w, []byte{'~'})
			}
			if pending := s.scanner.Pending(); len(pending) > 0 {
				w.Write(pending)
			}
			w.Close()
			return
		}
	}
}

// forward pushes bytes through the trigger scanner and on to the remote.
func (s *Session) forward(w io.Writer, p []byte) {
	for _, b := range p {
		act := s.scanner.Scan(b)
		if len(act.Forward) > 0 {
			w.Write(act.Forward)
		}
		if act.Fired {
			s.handleTrigger(w)
		}
	}
}

// handleTrigger suspends raw forwarding and offers the snippet list. The
// trigger sequence itself is never sent to the remote.
func (s *Session) handleTrigger(w io.Writer) {
	if s.opts.PickSnippet == nil {
		return
	}
	// Host snippets first; a global snippet sharing a name is shadowed.
	snippets := append([]config.Snippet{}, s.rec.Snippets...)
	names := make(map[string]bool, len(snippets))
	for _, sn := range snippets {
		names[sn.Name] = true
	}
	for _, sn := range s.settings.Snippets {
		if !names[sn.Name] {
			snippets = append(snippets, sn)
		}
	}
	snip, ok := s.opts.PickSnippet(snippets)
	if !ok {
		return
	}
	cmd := []byte(snip.Command)
	if snip.AutoExecute {
		cmd = append(cmd, '\n')
	}
	w.Write(cmd)
}

// armKeyCapture redirects the next keystroke away from the remote channel.
// read waits for it (ok=false when input ends first); done releases the
// capture, forwarding a captured-but-unclaimed keystroke to the remote.
func (s *Session) armKeyCapture() (read func() (byte, bool), done func()) {
	ch := make(chan byte, 1)
	s.mu.Lock()
	s.keyCap = ch
	s.mu.Unlock()

	read = func() (byte, bool) {
		select {
		case b := <-ch:
			return b, true
		case <-s.pumpDone:
			return 0, false
		}
	}
	done = func() {
		s.mu.Lock()
		if s.keyCap == ch {
			s.keyCap = nil
		}
		w := s.stdinW
		s.mu.Unlock()
		select {
		case b := <-ch:
			if w != nil {
				w.Write([]byte{b})
			}
		default:
		}
	}
	return read, done
}

// handlePrompt runs when the watcher detects a password prompt. The stored
// password goes straight to the channel writer; it is never logged, echoed,
// or passed through any buffered path.
func (s *Session) handlePrompt() {
	defer s.watcher.Reset()

	if s.opts.ConfirmSudo == nil || s.opts.LookupPassword == nil {
		return
	}
	// Arm the capture before asking, so the answer keystroke can never win
	// a race into the pump's pending read and leak into the session.
	readKey, release := s.armKeyCapture()
	confirmed := s.opts.ConfirmSudo(readKey)
	release()
	if !confirmed {
		return
	}
	password, ok := s.opts.LookupPassword()
	if !ok {
		log.Printf("[SESSION] prompt detected but no stored password for %s", s.rec.Name)
		return
	}

	s.mu.Lock()
	w := s.stdinW
	s.mu.Unlock()
	if w != nil {
		io.WriteString(w, password+"\n")
	}
}

// remoteOutput delivers remote bytes to the local terminal and feeds the
// prompt watcher.
type remoteOutput struct {
	s *Session
}

func (o *remoteOutput) Write(p []byte) (int, error) {
	n, err := o.s.opts.Stdout.Write(p)
	if o.s.opts.Transcript != nil {
		o.s.opts.Transcript.Write(p)
	}
	if o.s.watcher.Scan(p) {
		o.s.handlePrompt()
	}
	return n, err
}
