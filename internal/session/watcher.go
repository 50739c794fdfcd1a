package session

import (
	"fmt"
	"regexp"
)

// windowCap bounds the rolling output window the watcher matches against.
// Prompts are short; 256 bytes comfortably covers every known fingerprint.
const windowCap = 256

// defaultPromptPatterns are the built-in password prompt fingerprints.
// Each is anchored to the end of the window so a prompt only matches while
// the remote side is actually waiting at it.
var defaultPromptPatterns = []string{
	`\[sudo\] password for \S+:\s*$`,
	`Password:\s*$`,
	`Enter passphrase for key '.+':\s*$`,
	`\S+'s password:\s*$`,
}

// PromptWatcher detects privilege-escalation password prompts in remote
// output. It keeps a bounded sliding window over recent bytes so matching
// survives arbitrary chunk boundaries, and fires at most once per contiguous
// prompt occurrence: the window is cleared on match and must be cleared
// again (Reset) once the caller has acted on the prompt.
type PromptWatcher struct {
	window   []byte
	patterns []*regexp.Regexp
}

// NewPromptWatcher compiles the built-in fingerprints plus any extra
// user-configured patterns.
func NewPromptWatcher(extra []string) (*PromptWatcher, error) {
	all := append(append([]string{}, defaultPromptPatterns...), extra...)
	patterns := make([]*regexp.Regexp, 0, len(all))
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &PromptWatcher{patterns: patterns}, nil
}

// Scan feeds a chunk of remote output into the window and reports whether a
// password prompt just completed. On a match the window is cleared so the
// same occurrence cannot fire twice.
func (w *PromptWatcher) Scan(chunk []byte) bool {
	w.window = append(w.window, chunk...)
	if len(w.window) > windowCap {
		w.window = w.window[len(w.window)-windowCap:]
	}

	for _, re := range w.patterns {
		if re.Match(w.window) {
			w.window = w.window[:0]
			return true
		}
	}
	return false
}

// Reset clears the window. Called after the user has answered (or declined)
// a prompt so stale bytes cannot contribute to a later match.
func (w *PromptWatcher) Reset() {
	w.window = w.window[:0]
}
