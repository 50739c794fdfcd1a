package session

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// terminalGuard is a scoped acquisition of local terminal state: raw mode
// plus any theming applied to it. Restore is idempotent and must run on
// every exit path, including signal-driven ones.
type terminalGuard struct {
	fd       int
	isTerm   bool
	out      io.Writer
	oldState *term.State
	themed   bool
	once     sync.Once
}

// newTerminalGuard wraps the given local streams. When stdin is not a real
// terminal (tests, pipes) the guard degrades to a no-op for raw mode but
// still tracks theme reset.
func newTerminalGuard(stdin io.Reader, out io.Writer) *terminalGuard {
	g := &terminalGuard{fd: -1, out: out}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		g.fd = int(f.Fd())
		g.isTerm = true
	}
	return g
}

// enterRaw switches the local terminal to raw mode so keystrokes reach the
// remote pty unprocessed.
func (g *terminalGuard) enterRaw() error {
	if !g.isTerm {
		return nil
	}
	state, err := term.MakeRaw(g.fd)
	if err != nil {
		return err
	}
	g.oldState = state
	return nil
}

// size returns the terminal dimensions, defaulting to 80x24 off-terminal.
func (g *terminalGuard) size() (width, height int) {
	if g.isTerm {
		if w, h, err := term.GetSize(g.fd); err == nil {
			return w, h
		}
	}
	return 80, 24
}

// markThemed records that theme sequences were emitted and must be reset.
func (g *terminalGuard) markThemed() {
	g.themed = true
}

// restore undoes raw mode and theming exactly once.
func (g *terminalGuard) restore() {
	g.once.Do(func() {
		if g.oldState != nil {
			term.Restore(g.fd, g.oldState)
		}
		if g.themed && g.out != nil {
			resetTheme(g.out)
		}
	})
}
